package aggregate

import (
	"github.com/nicktill/queuetrends/pkg/interval"
	"github.com/nicktill/queuetrends/pkg/policy"
	"github.com/nicktill/queuetrends/pkg/stats"
)

// RollupPoint is one calendar bucket of a historical rollup.
type RollupPoint struct {
	Key                string  `json:"period"`
	AverageQueueLength float64 `json:"averageQueueLength"`
	TotalQueueLength   float64 `json:"totalQueueLength"`
	PeakQueue          float64 `json:"peakQueue"`
	MinQueue           float64 `json:"minQueue"`
	ActiveDeviceCount  int     `json:"activeDeviceCount"`
	TotalDeviceCount   int     `json:"totalDeviceCount"`
}

// Rollup re-buckets samples by calendar granularity. Only keys that have
// data are returned, in chronological order.
func Rollup(samples []Sample, g interval.Granularity, totalDevices int, mode policy.MergeMode) []RollupPoint {
	buckets := group(samples, g.Truncate, mode)

	points := make([]RollupPoint, 0, len(buckets))
	for _, b := range buckets {
		values := bucketValues(b)
		points = append(points, RollupPoint{
			Key:                g.Key(b.Start),
			AverageQueueLength: stats.Mean(values),
			TotalQueueLength:   stats.Sum(values),
			PeakQueue:          stats.Max(values),
			MinQueue:           stats.Min(values),
			ActiveDeviceCount:  len(values),
			TotalDeviceCount:   totalDevices,
		})
	}
	return points
}

// RollupTotals returns the TotalQueueLength series.
func RollupTotals(points []RollupPoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.TotalQueueLength
	}
	return out
}
