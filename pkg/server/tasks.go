package server

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/nicktill/queuetrends/pkg/config"
	"github.com/nicktill/queuetrends/pkg/live"
	"github.com/nicktill/queuetrends/pkg/server/monitor"
	"github.com/nicktill/queuetrends/pkg/storage"
	"github.com/nicktill/queuetrends/pkg/storage/badger"
)

const (
	retentionTimeout = 2 * time.Minute
	gcDiscardRatio   = 0.5
)

// RunPoller runs the live poller until ctx is cancelled.
func RunPoller(ctx context.Context, poller *live.Poller, wg *sync.WaitGroup) {
	defer wg.Done()
	poller.Run(ctx)
}

// RunRetention deletes archived readings older than retention, once on
// startup and then every config.RetentionInterval.
func RunRetention(store storage.Store, retention time.Duration, mon *monitor.TaskMonitor, stop chan bool, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(config.RetentionInterval)
	defer ticker.Stop()

	sweep := func() {
		ctx, cancel := context.WithTimeout(context.Background(), retentionTimeout)
		defer cancel()

		start := time.Now()
		cutoff := start.Add(-retention)
		if err := store.Delete(ctx, cutoff); err != nil {
			mon.RecordFailure(err)
			log.Printf("Retention sweep failed: %v", err)
			if status := mon.Status(); status.ConsecutiveErrors > monitor.DefaultMaxErrors {
				log.Printf("ALERT: retention has been failing! Consecutive errors: %d", status.ConsecutiveErrors)
			}
			return
		}
		mon.RecordSuccess()
		log.Printf("Retention sweep removed readings before %s in %v", cutoff.Format(time.RFC3339), time.Since(start).Round(time.Millisecond))
	}

	log.Printf("Retention scheduler started (keep %v, runs every %v)", retention, config.RetentionInterval)
	sweep()

	for {
		select {
		case <-ticker.C:
			sweep()
		case <-stop:
			log.Println("Stopping retention scheduler")
			return
		}
	}
}

// RunBadgerGC runs value log garbage collection periodically. Stores other
// than badger are skipped.
func RunBadgerGC(store storage.Store, stop chan bool, wg *sync.WaitGroup) {
	defer wg.Done()

	badgerStore, ok := store.(*badger.Store)
	if !ok {
		log.Println("Archive is not BadgerDB, skipping GC")
		return
	}

	ticker := time.NewTicker(config.BadgerGCInterval)
	defer ticker.Stop()

	log.Printf("BadgerDB GC scheduler started (runs every %v)", config.BadgerGCInterval)

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			// one rewrite per tick so GC never blocks the archive for long
			err := badgerStore.RunGC(gcDiscardRatio)
			switch {
			case err == nil:
				log.Printf("GC completed in %v (disk space reclaimed)", time.Since(start).Round(time.Millisecond))
			case errors.Is(err, badgerdb.ErrNoRewrite):
				log.Printf("GC completed in %v (no rewrite needed)", time.Since(start).Round(time.Millisecond))
			default:
				log.Printf("GC failed: %v", err)
			}
		case <-stop:
			log.Println("Stopping BadgerDB GC scheduler")
			return
		}
	}
}
