package footfall

import (
	"fmt"
	"math"

	"github.com/nicktill/queuetrends/pkg/config"
	"github.com/nicktill/queuetrends/pkg/reading"
	"github.com/nicktill/queuetrends/pkg/stats"
)

// HourFootfall is one hour of footfall against wait time.
type HourFootfall struct {
	Hour              int     `json:"hour"`
	HourLabel         string  `json:"hourLabel"`
	TotalFootfall     float64 `json:"totalFootfall"`
	AverageFootfall   float64 `json:"averageFootfall"`
	PeakFootfall      float64 `json:"peakFootfall"`
	MinFootfall       float64 `json:"minFootfall"`
	AverageWaitTime   float64 `json:"averageWaitTime"`
	MaxWaitTime       float64 `json:"maxWaitTime"`
	MinWaitTime       float64 `json:"minWaitTime"`
	FootfallWaitRatio float64 `json:"footfallWaitRatio"`
	DataPointCount    int     `json:"dataPointCount"`
	ActiveDevices     int     `json:"activeDevices"`
}

// DaySummary covers every reading of the day.
type DaySummary struct {
	TotalFootfall            float64 `json:"totalFootfall"`
	AverageFootfall          float64 `json:"averageFootfall"`
	PeakFootfall             float64 `json:"peakFootfall"`
	FootfallReadings         int     `json:"footfallReadings"`
	AverageWaitTime          float64 `json:"averageWaitTime"`
	MaxWaitTime              float64 `json:"maxWaitTime"`
	MinWaitTime              float64 `json:"minWaitTime"`
	WaitTimeReadings         int     `json:"waitTimeReadings"`
	ServiceLevel             float64 `json:"serviceLevel"`
	AcceptableWaitThreshold  float64 `json:"acceptableWaitThreshold"`
	OverallFootfallWaitRatio float64 `json:"overallFootfallWaitRatio"`
}

// HourRef points at a notable hour of the breakdown.
type HourRef struct {
	Hour      int     `json:"hour"`
	HourLabel string  `json:"hourLabel"`
	Footfall  float64 `json:"footfall"`
	WaitTime  float64 `json:"waitTime"`
	Ratio     float64 `json:"ratio"`
}

// PeakAnalysis names the busiest and best or worst served hours.
type PeakAnalysis struct {
	PeakFootfallHour    *HourRef `json:"peakFootfallHour,omitempty"`
	PeakWaitTimeHour    *HourRef `json:"peakWaitTimeHour,omitempty"`
	BestPerformingHour  *HourRef `json:"bestPerformingHour,omitempty"`
	WorstPerformingHour *HourRef `json:"worstPerformingHour,omitempty"`
}

// WaitTimeReport relates footfall to wait time over one day of readings.
type WaitTimeReport struct {
	Hourly  []HourFootfall `json:"hourlyBreakdown"`
	Summary DaySummary     `json:"summary"`
	Peaks   PeakAnalysis   `json:"peakAnalysis"`
}

// AnalyzeWaitTime reads inCount and waitTime from every reading, grouped by
// hour of day. Readings carrying neither are counted as data points only.
func AnalyzeWaitTime(readings []reading.Reading) WaitTimeReport {
	type hourData struct {
		footfall []float64
		waits    []float64
		points   int
		devices  map[string]struct{}
	}
	var hours [24]*hourData
	var allFootfall, allWaits []float64

	for _, r := range readings {
		h := r.Timestamp.Hour()
		if hours[h] == nil {
			hours[h] = &hourData{devices: make(map[string]struct{})}
		}
		hd := hours[h]
		hd.points++
		hd.devices[r.DeviceID] = struct{}{}
		if v, ok := reading.Number(r, "inCount"); ok {
			hd.footfall = append(hd.footfall, v)
			allFootfall = append(allFootfall, v)
		}
		if v, ok := reading.WaitTime(r); ok {
			hd.waits = append(hd.waits, v)
			allWaits = append(allWaits, v)
		}
	}

	report := WaitTimeReport{Hourly: make([]HourFootfall, 0, 24)}
	for h, hd := range hours {
		if hd == nil || (len(hd.footfall) == 0 && len(hd.waits) == 0) {
			continue
		}
		avgFootfall := stats.Mean(hd.footfall)
		avgWait := stats.Mean(hd.waits)
		report.Hourly = append(report.Hourly, HourFootfall{
			Hour:              h,
			HourLabel:         fmt.Sprintf("%02d:00 - %02d:00", h, h+1),
			TotalFootfall:     stats.Sum(hd.footfall),
			AverageFootfall:   avgFootfall,
			PeakFootfall:      stats.Max(hd.footfall),
			MinFootfall:       stats.Min(hd.footfall),
			AverageWaitTime:   avgWait,
			MaxWaitTime:       stats.Max(hd.waits),
			MinWaitTime:       stats.Min(hd.waits),
			FootfallWaitRatio: ratio(avgWait, avgFootfall),
			DataPointCount:    hd.points,
			ActiveDevices:     len(hd.devices),
		})
	}

	report.Summary = summarizeDay(allFootfall, allWaits)
	report.Peaks = findPeaks(report.Hourly)
	return report
}

func summarizeDay(footfall, waits []float64) DaySummary {
	s := DaySummary{
		TotalFootfall:    stats.Sum(footfall),
		AverageFootfall:  stats.Mean(footfall),
		PeakFootfall:     stats.Max(footfall),
		FootfallReadings: len(footfall),
		AverageWaitTime:  stats.Mean(waits),
		MaxWaitTime:      stats.Max(waits),
		MinWaitTime:      stats.Min(waits),
		WaitTimeReadings: len(waits),
	}
	if len(waits) > 0 {
		var ok int
		for _, w := range waits {
			if w <= config.AcceptableWaitMinutes {
				ok++
			}
		}
		s.ServiceLevel = float64(ok) * 100 / float64(len(waits))
		s.AcceptableWaitThreshold = config.AcceptableWaitMinutes
	}
	if len(footfall) > 0 && len(waits) > 0 {
		s.OverallFootfallWaitRatio = ratio(s.AverageWaitTime, s.AverageFootfall)
	}
	return s
}

func findPeaks(hourly []HourFootfall) PeakAnalysis {
	var p PeakAnalysis
	if len(hourly) == 0 {
		return p
	}

	ref := func(h HourFootfall) *HourRef {
		return &HourRef{
			Hour:      h.Hour,
			HourLabel: h.HourLabel,
			Footfall:  h.TotalFootfall,
			WaitTime:  h.AverageWaitTime,
			Ratio:     h.FootfallWaitRatio,
		}
	}

	peakFootfall, peakWait, best, worst := 0, 0, 0, 0
	bestScore := math.MaxFloat64
	for i, h := range hourly {
		if h.TotalFootfall > hourly[peakFootfall].TotalFootfall {
			peakFootfall = i
		}
		if h.AverageWaitTime > hourly[peakWait].AverageWaitTime {
			peakWait = i
		}
		if h.FootfallWaitRatio > hourly[worst].FootfallWaitRatio {
			worst = i
		}
		// Wait per person served; hours without footfall rank last.
		score := math.MaxFloat64
		if h.TotalFootfall > 0 {
			score = h.AverageWaitTime / h.TotalFootfall
		}
		if i == 0 || score < bestScore {
			best, bestScore = i, score
		}
	}

	p.PeakFootfallHour = ref(hourly[peakFootfall])
	p.PeakWaitTimeHour = ref(hourly[peakWait])
	p.BestPerformingHour = ref(hourly[best])
	p.WorstPerformingHour = ref(hourly[worst])
	return p
}

func ratio(wait, footfall float64) float64 {
	if footfall <= 0 {
		return 0
	}
	return wait / footfall
}
