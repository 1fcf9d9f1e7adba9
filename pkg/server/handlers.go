package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nicktill/queuetrends/pkg/analytics"
	"github.com/nicktill/queuetrends/pkg/config"
	"github.com/nicktill/queuetrends/pkg/directory"
	"github.com/nicktill/queuetrends/pkg/httpx"
	"github.com/nicktill/queuetrends/pkg/interval"
	"github.com/nicktill/queuetrends/pkg/live"
	"github.com/nicktill/queuetrends/pkg/policy"
	"github.com/nicktill/queuetrends/pkg/server/monitor"
	"github.com/nicktill/queuetrends/pkg/storage"
	"github.com/nicktill/queuetrends/pkg/telemetry"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

var startTime = time.Now()

// HandlerConfig configures a Handler. Everything but Engine is optional.
type HandlerConfig struct {
	Engine   *analytics.Engine
	Location *time.Location
	Hub      *live.Hub
	Archive  storage.Store
	Disk     *monitor.DiskMonitor
	Tasks    []*monitor.TaskMonitor
	Now      func() time.Time
}

// Handler serves the analytics API.
type Handler struct {
	engine  *analytics.Engine
	loc     *time.Location
	hub     *live.Hub
	archive storage.Store
	disk    *monitor.DiskMonitor
	tasks   []*monitor.TaskMonitor
	now     func() time.Time
}

// NewHandler creates a handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Handler{
		engine:  cfg.Engine,
		loc:     cfg.Location,
		hub:     cfg.Hub,
		archive: cfg.Archive,
		disk:    cfg.Disk,
		tasks:   cfg.Tasks,
		now:     cfg.Now,
	}
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, directory.ErrCounterNotFound), errors.Is(err, directory.ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.Is(err, analytics.ErrInvalidRange),
		errors.Is(err, analytics.ErrInvalidRequest),
		errors.Is(err, interval.ErrUnknownGranularity),
		errors.Is(err, errBadParam):
		return http.StatusBadRequest
	case errors.Is(err, analytics.ErrNoSource):
		return http.StatusServiceUnavailable
	case errors.Is(err, telemetry.ErrUnavailable), errors.Is(err, telemetry.ErrBreakerOpen):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respond(w http.ResponseWriter, data interface{}, err error) {
	if err != nil {
		httpx.RespondError(w, statusFor(err), err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, data)
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string               `json:"status"`
	Version string               `json:"version"`
	Uptime  string               `json:"uptime"`
	Policy  string               `json:"policy"`
	Tasks   []monitor.TaskStatus `json:"tasks"`
	Clients int                  `json:"websocket_clients"`
}

// handleHealth is degraded when any background task is unhealthy.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "healthy",
		Version: Version,
		Uptime:  time.Since(startTime).Round(time.Second).String(),
		Policy:  h.engine.Policy().Version,
		Tasks:   make([]monitor.TaskStatus, 0, len(h.tasks)),
	}
	if h.hub != nil {
		resp.Clients = h.hub.ClientCount()
	}

	statusCode := http.StatusOK
	for _, t := range h.tasks {
		status := t.Status()
		if !status.Healthy {
			resp.Status = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
		resp.Tasks = append(resp.Tasks, status)
	}
	httpx.RespondJSON(w, statusCode, resp)
}

// ArchiveResponse describes the reading archive.
type ArchiveResponse struct {
	Enabled bool               `json:"enabled"`
	Stats   *storage.Stats     `json:"stats,omitempty"`
	Disk    *monitor.DiskUsage `json:"disk,omitempty"`
}

func (h *Handler) handleArchive(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		httpx.RespondJSON(w, http.StatusOK, ArchiveResponse{})
		return
	}
	st, err := h.archive.Stats(r.Context())
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	resp := ArchiveResponse{Enabled: true, Stats: st}
	if h.disk != nil {
		usage, err := h.disk.Report()
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		resp.Disk = &usage
	}
	httpx.RespondJSON(w, http.StatusOK, resp)
}

// PolicyResponse lists the active metric policy and the registered versions.
type PolicyResponse struct {
	Active   policy.Policy `json:"active"`
	Versions []string      `json:"versions"`
}

func (h *Handler) handlePolicy(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, PolicyResponse{
		Active:   h.engine.Policy(),
		Versions: policy.Versions(),
	})
}

func (h *Handler) handleCounters(w http.ResponseWriter, r *http.Request) {
	counters := h.engine.Directory().Counters()
	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"counters": counters,
		"count":    len(counters),
	})
}

func (h *Handler) handleCounterDevices(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	devices, err := h.engine.Directory().Devices(code)
	respond(w, map[string]interface{}{
		"counterCode": code,
		"devices":     devices,
		"count":       len(devices),
	}, err)
}

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(router *mux.Router, h *Handler, port string) {
	// CORS middleware for API access
	router.Use(corsMiddleware(port))
	router.Use(instrument)

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := router.PathPrefix("/v1").Subrouter()

	// Service
	api.HandleFunc("/health", h.handleHealth).Methods("GET")
	api.HandleFunc("/archive", h.handleArchive).Methods("GET")
	api.HandleFunc("/policy", h.handlePolicy).Methods("GET")

	// Counters
	api.HandleFunc("/counters", h.handleCounters).Methods("GET")
	api.HandleFunc("/counters/compare", h.bounded(h.handleCompareCounters)).Methods("GET")
	api.HandleFunc("/counters/summary", h.bounded(h.handleCountersSummary)).Methods("GET")
	api.HandleFunc("/counters/{code}/devices", h.handleCounterDevices).Methods("GET")
	api.HandleFunc("/counters/{code}/trends", h.bounded(h.handleQueueTrends)).Methods("GET")
	api.HandleFunc("/counters/{code}/occupancy-trends", h.bounded(h.handleOccupancyTrends)).Methods("GET")
	api.HandleFunc("/counters/{code}/historical-trends", h.bounded(h.handleHistoricalTrends)).Methods("GET")
	api.HandleFunc("/counters/{code}/performance", h.bounded(h.handlePerformance)).Methods("GET")
	api.HandleFunc("/counters/{code}/current-day-kpis", h.bounded(h.handleKPIs)).Methods("GET")
	api.HandleFunc("/counters/{code}/footfall-summary", h.bounded(h.handleCounterFootfall)).Methods("GET")
	api.HandleFunc("/counters/{code}/footfall-wait-time", h.bounded(h.handleFootfallWaitTime)).Methods("GET")
	api.HandleFunc("/counters/{code}/period-trends", h.bounded(h.handlePeriodTrends)).Methods("GET")

	// Cross-counter
	api.HandleFunc("/footfall-summary", h.bounded(h.handleFootfallSummary)).Methods("GET")
	api.HandleFunc("/live-status", h.boundedLive(h.handleLiveStatus)).Methods("GET")

	// Devices and areas
	api.HandleFunc("/devices/compare", h.bounded(h.handleCompareDevices)).Methods("GET")
	api.HandleFunc("/devices/{id}/trends", h.bounded(h.handleDeviceTrends)).Methods("GET")
	api.HandleFunc("/devices/{id}/statistics", h.bounded(h.handleDeviceStatistics)).Methods("GET")
	api.HandleFunc("/devices/{id}/hourly-pattern", h.bounded(h.handleDeviceHourlyPattern)).Methods("GET")
	api.HandleFunc("/areas/average", h.bounded(h.handleAreaAverages)).Methods("GET")

	// WebSocket for live readings
	if h.hub != nil {
		api.Handle("/ws", h.hub).Methods("GET")
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.RespondErrorString(w, http.StatusNotFound, "no route for "+r.URL.Path)
	})
}

// bounded limits a request by config.AnalyticsTimeout.
func (h *Handler) bounded(next http.HandlerFunc) http.HandlerFunc {
	return withTimeout(config.AnalyticsTimeout, next)
}

// boundedLive limits a request by config.LiveTimeout.
func (h *Handler) boundedLive(next http.HandlerFunc) http.HandlerFunc {
	return withTimeout(config.LiveTimeout, next)
}

func withTimeout(d time.Duration, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()
		next(w, r.WithContext(ctx))
	}
}

// corsMiddleware creates CORS middleware that restricts to localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:" + port: true,
		"http://127.0.0.1:" + port: true,
		"http://localhost:3000":    true,
		"http://127.0.0.1:3000":    true,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); allowedOrigins[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
