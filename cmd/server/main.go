package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/queuetrends/pkg/config"
	"github.com/nicktill/queuetrends/pkg/live"
	"github.com/nicktill/queuetrends/pkg/server"
	"github.com/nicktill/queuetrends/pkg/server/monitor"
)

// Writes must outlast config.AnalyticsTimeout.
const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = config.AnalyticsTimeout + 5*time.Second
	shutdownTimeout    = 30 * time.Second
	drainTimeout       = 5 * time.Second
)

func main() {
	log.Println("Starting queuetrends server...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir, err := server.LoadDirectory(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to load counter directory: %v", err)
	}

	archive, err := server.InitializeArchive(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize archive: %v", err)
	}
	if archive != nil {
		defer archive.Close()
	}

	client := server.InitializeTelemetry(cfg)
	engine, err := server.InitializeEngine(cfg, dir, client, archive)
	if err != nil {
		log.Fatalf("Failed to initialize analytics engine: %v", err)
	}

	hub := live.NewHub()
	publisher, closers, err := server.InitializePublishers(cfg, hub)
	if err != nil {
		log.Fatalf("Failed to initialize publishers: %v", err)
	}
	defer closeAll(closers)

	var wg sync.WaitGroup
	var tasks []*monitor.TaskMonitor

	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()
	log.Println("WebSocket hub started for live readings")

	if cfg.PollEnabled {
		pollMonitor := monitor.NewTaskMonitor("poller", 10*cfg.PollInterval)
		tasks = append(tasks, pollMonitor)
		poller := live.NewPoller(client, live.PollerConfig{
			Interval:  cfg.PollInterval,
			Limit:     cfg.PollLimit,
			Store:     archive,
			Publisher: publisher,
			Observer:  pollMonitor,
		})
		wg.Add(1)
		go server.RunPoller(ctx, poller, &wg)
	}

	stopRetention := make(chan bool)
	stopGC := make(chan bool)
	var disk *monitor.DiskMonitor
	if archive != nil {
		retentionMonitor := monitor.NewTaskMonitor("retention", 2*config.RetentionInterval)
		tasks = append(tasks, retentionMonitor)
		wg.Add(1)
		go server.RunRetention(archive, cfg.Retention, retentionMonitor, stopRetention, &wg)

		wg.Add(1)
		go server.RunBadgerGC(archive, stopGC, &wg)

		if cfg.Archive == "badger" {
			disk = monitor.NewDiskMonitor(cfg.DataDir, cfg.MaxStorageMB*1024*1024)
		}
	}

	handler := server.NewHandler(server.HandlerConfig{
		Engine:   engine,
		Location: cfg.Location,
		Hub:      hub,
		Archive:  archive,
		Disk:     disk,
		Tasks:    tasks,
	})
	router := mux.NewRouter()
	server.SetupRoutes(router, handler, cfg.Port)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%s", cfg.Port)
		log.Println("API endpoints:")
		log.Println("   GET  /v1/counters/{code}/trends   - Cumulative queue trends")
		log.Println("   GET  /v1/counters/compare         - Compare counters")
		log.Println("   GET  /v1/footfall-summary         - Footfall windows")
		log.Println("   GET  /v1/live-status              - Latest readings per counter")
		log.Println("   GET  /v1/ws                       - Live reading stream")
		log.Println("   GET  /metrics                     - Prometheus endpoint")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutdown signal received...")

	// cancel before wg.Wait, the hub and poller only stop on ctx
	log.Println("Stopping background tasks...")
	cancel()
	close(stopRetention)
	close(stopGC)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	log.Println("Gracefully shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown warning: %v", err)
	}

	log.Println("Waiting for background tasks to complete...")
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("All background tasks stopped cleanly")
	case <-time.After(drainTimeout):
		log.Println("Some background tasks did not stop in time (forcing exit)")
	}

	log.Println("queuetrends server exited")
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.Printf("Failed to close publisher: %v", err)
		}
	}
}
