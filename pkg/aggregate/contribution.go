package aggregate

import (
	"sort"

	"github.com/nicktill/queuetrends/pkg/stats"
)

// Contribution is a device's share of the counter total over a range.
type Contribution struct {
	DeviceID           string  `json:"deviceId"`
	DeviceName         string  `json:"deviceName,omitempty"`
	Sum                float64 `json:"totalQueueLength"`
	AverageQueueLength float64 `json:"averageQueueLength"`
	MaxQueueLength     float64 `json:"maxQueueLength"`
	MinQueueLength     float64 `json:"minQueueLength"`
	Readings           int     `json:"dataPoints"`
	Percentage         float64 `json:"contributionPercentage"`
}

// Contributions computes each device's sum of values divided by the grand
// total. A zero grand total yields 0% for everyone. Sorted by percentage
// descending, then device id.
func Contributions(samples []Sample) []Contribution {
	byDevice := make(map[string][]float64)
	var order []string
	var grand float64
	for _, s := range samples {
		if _, ok := byDevice[s.DeviceID]; !ok {
			order = append(order, s.DeviceID)
		}
		byDevice[s.DeviceID] = append(byDevice[s.DeviceID], s.Value)
		grand += s.Value
	}

	out := make([]Contribution, 0, len(order))
	for _, id := range order {
		values := byDevice[id]
		c := Contribution{
			DeviceID:           id,
			Sum:                stats.Sum(values),
			AverageQueueLength: stats.Mean(values),
			MaxQueueLength:     stats.Max(values),
			MinQueueLength:     stats.Min(values),
			Readings:           len(values),
		}
		if grand != 0 {
			c.Percentage = c.Sum / grand * 100
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Percentage != out[j].Percentage {
			return out[i].Percentage > out[j].Percentage
		}
		return out[i].DeviceID < out[j].DeviceID
	})
	return out
}
