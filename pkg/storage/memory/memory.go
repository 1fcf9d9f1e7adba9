package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nicktill/queuetrends/pkg/reading"
	"github.com/nicktill/queuetrends/pkg/storage"
)

type key struct {
	device string
	ts     int64
}

// Store keeps readings in memory. Data is lost on restart.
// Useful for testing and development.
type Store struct {
	mu       sync.RWMutex
	readings map[key]reading.Reading
}

// New creates an in-memory archive
func New() *Store {
	return &Store{readings: make(map[key]reading.Reading, 10000)}
}

// Write stores readings in memory
func (s *Store) Write(ctx context.Context, readings []reading.Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range readings {
		s.readings[key{r.DeviceID, r.Timestamp.UnixNano()}] = r
	}
	return nil
}

// Query retrieves readings matching the request
func (s *Store) Query(ctx context.Context, req storage.QueryRequest) ([]reading.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	results := make([]reading.Reading, 0)
	for _, r := range s.readings {
		if req.Matches(r) {
			results = append(results, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].DeviceID != results[j].DeviceID {
			return results[i].DeviceID < results[j].DeviceID
		}
		return results[i].Timestamp.Before(results[j].Timestamp)
	})
	if req.Limit > 0 && len(results) > req.Limit {
		results = results[:req.Limit]
	}
	return results, nil
}

// Delete removes readings older than the given time
func (s *Store) Delete(ctx context.Context, before time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, r := range s.readings {
		if r.Timestamp.Before(before) {
			delete(s.readings, k)
		}
	}
	return nil
}

// Close is a no-op for memory storage
func (s *Store) Close() error {
	return nil
}

// Stats returns archive statistics
func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{TotalReadings: uint64(len(s.readings))}
	devices := make(map[string]bool)
	for _, r := range s.readings {
		devices[r.DeviceID] = true
		if stats.Oldest.IsZero() || r.Timestamp.Before(stats.Oldest) {
			stats.Oldest = r.Timestamp
		}
		if stats.Newest.IsZero() || r.Timestamp.After(stats.Newest) {
			stats.Newest = r.Timestamp
		}
	}
	stats.TotalDevices = uint64(len(devices))

	// Rough size estimate (each reading ~200 bytes)
	stats.SizeBytes = uint64(len(s.readings)) * 200
	return stats, nil
}
