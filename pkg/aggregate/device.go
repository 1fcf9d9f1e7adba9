package aggregate

import (
	"sort"
	"time"

	"github.com/nicktill/queuetrends/pkg/interval"
	"github.com/nicktill/queuetrends/pkg/stats"
)

// SeriesPoint keeps every reading of a slot rather than one per device.
// It backs the per-device and per-area views.
type SeriesPoint struct {
	Timestamp          time.Time `json:"timestamp"`
	AverageQueueLength float64   `json:"averageQueueLength"`
	MaxQueueLength     float64   `json:"maxQueueLength"`
	MinQueueLength     float64   `json:"minQueueLength"`
	DataPoints         int       `json:"dataPoints"`
}

// ByInterval reduces all samples per RoundToInterval slot.
func ByInterval(samples []Sample, minutes int) []SeriesPoint {
	return series(samples, func(t time.Time) time.Time {
		return interval.RoundToInterval(t, minutes)
	})
}

// ByPeriod reduces all samples per calendar unit.
func ByPeriod(samples []Sample, g interval.Granularity) []SeriesPoint {
	return series(samples, g.Truncate)
}

func series(samples []Sample, keyOf func(time.Time) time.Time) []SeriesPoint {
	slots := make(map[int64][]float64)
	starts := make(map[int64]time.Time)
	for _, s := range samples {
		start := keyOf(s.Timestamp)
		k := start.UnixNano()
		slots[k] = append(slots[k], s.Value)
		starts[k] = start
	}

	keys := make([]int64, 0, len(slots))
	for k := range slots {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]SeriesPoint, 0, len(keys))
	for _, k := range keys {
		r := stats.RangeOf(slots[k])
		out = append(out, SeriesPoint{
			Timestamp:          starts[k],
			AverageQueueLength: r.Average,
			MaxQueueLength:     r.Max,
			MinQueueLength:     r.Min,
			DataPoints:         r.Count,
		})
	}
	return out
}

// DeviceHour is one hour of day for a single device.
type DeviceHour struct {
	Hour               int     `json:"hour"`
	AverageQueueLength float64 `json:"averageQueueLength"`
	MaxQueueLength     float64 `json:"maxQueueLength"`
	MinQueueLength     float64 `json:"minQueueLength"`
	DataPoints         int     `json:"dataPoints"`
}

// DeviceHourly reduces all samples per hour of day.
func DeviceHourly(samples []Sample) []DeviceHour {
	var byHour [24][]float64
	for _, s := range samples {
		h := s.Timestamp.Hour()
		byHour[h] = append(byHour[h], s.Value)
	}

	out := make([]DeviceHour, 0, 24)
	for h, values := range byHour {
		if len(values) == 0 {
			continue
		}
		r := stats.RangeOf(values)
		out = append(out, DeviceHour{
			Hour:               h,
			AverageQueueLength: r.Average,
			MaxQueueLength:     r.Max,
			MinQueueLength:     r.Min,
			DataPoints:         r.Count,
		})
	}
	return out
}

// HoursOf returns the hour numbers of a device pattern ranked by average,
// descending when busiest is true.
func HoursOf(pattern []DeviceHour, n int, busiest bool) []int {
	ranked := make([]DeviceHour, len(pattern))
	copy(ranked, pattern)
	sort.SliceStable(ranked, func(i, j int) bool {
		if busiest {
			return ranked[i].AverageQueueLength > ranked[j].AverageQueueLength
		}
		return ranked[i].AverageQueueLength < ranked[j].AverageQueueLength
	})
	if n >= 0 && n < len(ranked) {
		ranked = ranked[:n]
	}
	hours := make([]int, len(ranked))
	for i, h := range ranked {
		hours[i] = h.Hour
	}
	return hours
}
