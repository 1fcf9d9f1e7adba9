// Package storage archives raw telemetry readings. Only readings are
// stored; aggregates are always recomputed from them.
package storage

import (
	"context"
	"time"

	"github.com/nicktill/queuetrends/pkg/reading"
)

// Store is a raw reading archive.
// Implementations: memory (testing), badger (persistent).
type Store interface {
	// Write stores readings. A reading with the same device and timestamp
	// as a stored one replaces it.
	Write(ctx context.Context, readings []reading.Reading) error

	// Query returns readings grouped by device, in timestamp order within
	// each device.
	Query(ctx context.Context, req QueryRequest) ([]reading.Reading, error)

	// Delete removes readings older than before.
	Delete(ctx context.Context, before time.Time) error

	// Stats returns archive statistics.
	Stats(ctx context.Context) (*Stats, error)

	Close() error
}

// QueryRequest selects readings in [Start, End].
type QueryRequest struct {
	Start time.Time
	End   time.Time

	// Restrict to these devices (optional)
	DeviceIDs []string

	// Limit number of results (0 = no limit)
	Limit int
}

// Stats provides archive health and usage info
type Stats struct {
	TotalReadings uint64    `json:"totalReadings"`
	TotalDevices  uint64    `json:"totalDevices"`
	SizeBytes     uint64    `json:"sizeBytes"`
	Oldest        time.Time `json:"oldest"`
	Newest        time.Time `json:"newest"`
}

// Matches reports whether r falls inside the request's range and devices.
func (req QueryRequest) Matches(r reading.Reading) bool {
	if r.Timestamp.Before(req.Start) || r.Timestamp.After(req.End) {
		return false
	}
	if len(req.DeviceIDs) == 0 {
		return true
	}
	for _, id := range req.DeviceIDs {
		if r.DeviceID == id {
			return true
		}
	}
	return false
}
