package aggregate

import (
	"time"

	"github.com/nicktill/queuetrends/pkg/policy"
	"github.com/nicktill/queuetrends/pkg/reading"
	"github.com/nicktill/queuetrends/pkg/stats"
)

// CounterPoint is the cross-device aggregate of one bucket.
type CounterPoint struct {
	Timestamp         time.Time `json:"timestamp"`
	CumulativeTotal   float64   `json:"cumulativeTotal"`
	AveragePerDevice  float64   `json:"averagePerDevice"`
	MaxPerDevice      float64   `json:"maxPerDevice"`
	MinPerDevice      float64   `json:"minPerDevice"`
	ActiveDeviceCount int       `json:"activeDeviceCount"`
	TotalDeviceCount  int       `json:"totalDeviceCount"`
}

// Aggregate produces one CounterPoint per bucket. totalDevices is the number
// of devices configured for the counter, so ActiveDeviceCount below it
// signals partial reporting.
func Aggregate(buckets []Bucket, totalDevices int) []CounterPoint {
	points := make([]CounterPoint, 0, len(buckets))
	for _, b := range buckets {
		values := bucketValues(b)
		points = append(points, CounterPoint{
			Timestamp:         b.Start,
			CumulativeTotal:   stats.Sum(values),
			AveragePerDevice:  stats.Mean(values),
			MaxPerDevice:      stats.Max(values),
			MinPerDevice:      stats.Min(values),
			ActiveDeviceCount: len(values),
			TotalDeviceCount:  totalDevices,
		})
	}
	return points
}

// CumulativeTrends extracts, buckets and aggregates readings in one pass.
func CumulativeTrends(readings []reading.Reading, minutes, totalDevices int, p policy.Policy) []CounterPoint {
	return Aggregate(BucketByInterval(Samples(readings, p), minutes, p.Merge), totalDevices)
}

// Totals returns the CumulativeTotal series.
func Totals(points []CounterPoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.CumulativeTotal
	}
	return out
}
