package aggregate

import (
	"sort"
	"time"

	"github.com/nicktill/queuetrends/pkg/policy"
	"github.com/nicktill/queuetrends/pkg/stats"
)

// HourStat summarizes one hour of day across the minute-level
// cross-device totals that fell in it.
type HourStat struct {
	Hour              int     `json:"hour"`
	AverageTotalQueue float64 `json:"averageTotalQueue"`
	MaxTotalQueue     float64 `json:"maxTotalQueue"`
	MinTotalQueue     float64 `json:"minTotalQueue"`
	DataPointCount    int     `json:"dataPointCount"`
}

// HourlyPattern groups samples per minute, merges devices within the
// minute, sums across devices and then reduces those sums per hour of day.
// Hours without data are omitted.
func HourlyPattern(samples []Sample, mode policy.MergeMode) []HourStat {
	minutes := group(samples, func(t time.Time) time.Time {
		return t.Truncate(time.Minute)
	}, mode)

	var byHour [24][]float64
	for _, b := range minutes {
		h := b.Start.Hour()
		byHour[h] = append(byHour[h], stats.Sum(bucketValues(b)))
	}

	out := make([]HourStat, 0, 24)
	for h, sums := range byHour {
		if len(sums) == 0 {
			continue
		}
		out = append(out, HourStat{
			Hour:              h,
			AverageTotalQueue: stats.Mean(sums),
			MaxTotalQueue:     stats.Max(sums),
			MinTotalQueue:     stats.Min(sums),
			DataPointCount:    len(sums),
		})
	}
	return out
}

// PeakHours returns the n busiest hours by average total, busiest first.
func PeakHours(pattern []HourStat, n int) []HourStat {
	return rankHours(pattern, n, func(a, b HourStat) bool {
		return a.AverageTotalQueue > b.AverageTotalQueue
	})
}

// LowHours returns the n quietest hours by average total, quietest first.
func LowHours(pattern []HourStat, n int) []HourStat {
	return rankHours(pattern, n, func(a, b HourStat) bool {
		return a.AverageTotalQueue < b.AverageTotalQueue
	})
}

func rankHours(pattern []HourStat, n int, less func(a, b HourStat) bool) []HourStat {
	ranked := make([]HourStat, len(pattern))
	copy(ranked, pattern)
	sort.SliceStable(ranked, func(i, j int) bool { return less(ranked[i], ranked[j]) })
	if n >= 0 && n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked
}
