package footfall

import (
	"sort"

	"github.com/nicktill/queuetrends/pkg/aggregate"
)

// Result is the footfall total of one window.
type Result struct {
	Label             Label    `json:"label"`
	Date              string   `json:"date"`
	TotalFootfall     float64  `json:"totalFootfall"`
	DevicesWithData   int      `json:"devicesWithData"`
	TotalDevices      int      `json:"totalDevices"`
	PercentageVsToday *float64 `json:"percentageVsToday"`
}

// DeviceMaxima returns each device's peak value among samples.
func DeviceMaxima(samples []aggregate.Sample) map[string]float64 {
	out := make(map[string]float64)
	for _, s := range samples {
		if cur, ok := out[s.DeviceID]; !ok || s.Value > cur {
			out[s.DeviceID] = s.Value
		}
	}
	return out
}

// Total sums the per-device maxima of samples that fall in w. Devices whose
// maximum is not positive contribute nothing and are not counted.
func Total(w Window, samples []aggregate.Sample) (float64, int) {
	in := make([]aggregate.Sample, 0, len(samples))
	for _, s := range samples {
		if w.Contains(s.Timestamp) {
			in = append(in, s)
		}
	}

	maxima := DeviceMaxima(in)
	ids := make([]string, 0, len(maxima))
	for id := range maxima {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var total float64
	var devices int
	for _, id := range ids {
		if v := maxima[id]; v > 0 {
			total += v
			devices++
		}
	}
	return total, devices
}

// PercentageChange compares today against a window total.
// A zero window yields 100 when today is positive and 0 otherwise.
func PercentageChange(windowTotal, todayTotal float64) float64 {
	if windowTotal == 0 {
		if todayTotal > 0 {
			return 100
		}
		return 0
	}
	return (todayTotal - windowTotal) / windowTotal * 100
}

// Calculate totals every window from one set of samples and fills in the
// percentage against today.
func Calculate(windows []Window, samples []aggregate.Sample, totalDevices int) []Result {
	results := make([]Result, 0, len(windows))
	for _, w := range windows {
		total, devices := Total(w, samples)
		results = append(results, Result{
			Label:           w.Label,
			Date:            w.Date,
			TotalFootfall:   total,
			DevicesWithData: devices,
			TotalDevices:    totalDevices,
		})
	}
	return compare(results)
}

// Combine merges per-counter results label by label and recomputes the
// percentages against the combined today.
func Combine(perCounter [][]Result) []Result {
	var order []Label
	merged := make(map[Label]*Result)
	for _, results := range perCounter {
		for _, r := range results {
			m, ok := merged[r.Label]
			if !ok {
				order = append(order, r.Label)
				m = &Result{Label: r.Label, Date: r.Date}
				merged[r.Label] = m
			}
			m.TotalFootfall += r.TotalFootfall
			m.DevicesWithData += r.DevicesWithData
			m.TotalDevices += r.TotalDevices
		}
	}

	out := make([]Result, 0, len(order))
	for _, l := range order {
		out = append(out, *merged[l])
	}
	return compare(out)
}

func compare(results []Result) []Result {
	var today float64
	for _, r := range results {
		if r.Label == Today {
			today = r.TotalFootfall
		}
	}
	for i := range results {
		if results[i].Label == Today {
			results[i].PercentageVsToday = nil
			continue
		}
		pct := PercentageChange(results[i].TotalFootfall, today)
		results[i].PercentageVsToday = &pct
	}
	return results
}

// Find returns the result for label.
func Find(results []Result, label Label) (Result, bool) {
	for _, r := range results {
		if r.Label == label {
			return r, true
		}
	}
	return Result{}, false
}
