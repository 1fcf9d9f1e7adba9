package telemetry

import (
	"context"
	"time"

	"github.com/nicktill/queuetrends/pkg/reading"
)

// Source fetches one device's readings in [from, to].
type Source interface {
	Fetch(ctx context.Context, deviceID string, from, to time.Time) ([]reading.Reading, error)
}

// LatestSource returns a device's most recent reading.
type LatestSource interface {
	Latest(ctx context.Context, deviceID string) (reading.Reading, bool, error)
}

// HourlySource returns pre-aggregated hourly rows.
type HourlySource interface {
	HourlyAggregatesRange(ctx context.Context, from, to time.Time) ([]HourlyAggregate, error)
}

// PeakCongestion is the worst congestion block inside an hourly row.
type PeakCongestion struct {
	Level               string  `json:"level"`
	Weight              float64 `json:"weight"`
	PeakWaitTimeInBlock float64 `json:"peakWaitTimeInBlock"`
	Start               string  `json:"start"`
	End                 string  `json:"end"`
	DurationMinutes     float64 `json:"durationMinutes"`
}

// HourlyAggregate is one row of /aggregate/hourly.
type HourlyAggregate struct {
	CounterName     string          `json:"counterName"`
	TotalCount      float64         `json:"totalCount"`
	PeakQueue       float64         `json:"peakQueue"`
	PeakWaitTime    float64         `json:"peakWaitTime"`
	PeriodStart     time.Time       `json:"-"`
	RawPeriodStart  string          `json:"periodStart"`
	CongestionIndex float64         `json:"congestionIndex"`
	PeakCongestion  *PeakCongestion `json:"peakCongestion,omitempty"`
}

type envelope struct {
	Status string           `json:"status"`
	Data   []map[string]any `json:"data"`
}

type recentEnvelope struct {
	Data      []map[string]any `json:"data"`
	Count     int              `json:"count"`
	Timestamp any              `json:"timestamp"`
}
