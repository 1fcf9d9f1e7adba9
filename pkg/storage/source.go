package storage

import (
	"context"
	"time"

	"github.com/nicktill/queuetrends/pkg/reading"
)

// Source serves archived readings through the same Fetch call the
// telemetry client exposes, so analytics can run off the archive.
type Source struct {
	Store Store
}

// NewSource wraps a store.
func NewSource(s Store) *Source {
	return &Source{Store: s}
}

// Fetch returns one device's archived readings in [from, to].
func (s *Source) Fetch(ctx context.Context, deviceID string, from, to time.Time) ([]reading.Reading, error) {
	return s.Store.Query(ctx, QueryRequest{
		Start:     from,
		End:       to,
		DeviceIDs: []string{deviceID},
	})
}
