package telemetry

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nicktill/queuetrends/pkg/config"
	"github.com/nicktill/queuetrends/pkg/reading"
)

// FanOutResult holds the outcome of fetching several devices.
type FanOutResult struct {
	ByDevice map[string][]reading.Reading
	Failed   map[string]error
}

// FailedIDs returns the ids of devices whose fetch failed, in the order given.
func (r FanOutResult) FailedIDs(ids []string) []string {
	out := make([]string, 0, len(r.Failed))
	for _, id := range ids {
		if _, ok := r.Failed[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// Merged concatenates the fetched readings in the order of ids so the
// result does not depend on which fetch finished first.
func (r FanOutResult) Merged(ids []string) []reading.Reading {
	n := 0
	for _, rs := range r.ByDevice {
		n += len(rs)
	}
	out := make([]reading.Reading, 0, n)
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, r.ByDevice[id]...)
	}
	return out
}

// FanOut fetches every device concurrently with at most limit fetches in
// flight. A failed device is recorded in Failed and the rest continue.
func FanOut(ctx context.Context, src Source, ids []string, from, to time.Time, limit int) FanOutResult {
	if limit <= 0 {
		limit = config.DefaultFetchConcurrency
	}

	res := FanOutResult{
		ByDevice: make(map[string][]reading.Reading, len(ids)),
		Failed:   make(map[string]error),
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, id := range ids {
		g.Go(func() error {
			readings, err := src.Fetch(gctx, id, from, to)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed[id] = err
				devicesSkipped.Inc()
				log.Printf("Skipping device %s: %v", id, err)
				return nil
			}
			res.ByDevice[id] = readings
			return nil
		})
	}
	// Goroutines never return an error, so Wait only synchronizes.
	_ = g.Wait()
	return res
}
