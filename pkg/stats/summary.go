package stats

import (
	"github.com/nicktill/queuetrends/pkg/policy"
)

// Summary is the overall statistics block of a trend response.
type Summary struct {
	Average           float64 `json:"average"`
	Max               float64 `json:"max"`
	Min               float64 `json:"min"`
	Median            float64 `json:"median"`
	StdDev            float64 `json:"stdDev"`
	AveragePerReading float64 `json:"averagePerReading"`
	Efficiency        float64 `json:"efficiency"`
	CongestionRate    float64 `json:"congestionRate"`
	Trend             Trend   `json:"trend"`
	TotalReadings     int     `json:"totalReadings"`
	DataPoints        int     `json:"dataPoints"`
}

// Efficiency is max(0, (1-avg/max)*100); 100 when max is 0.
func Efficiency(avg, max float64) float64 {
	if max == 0 {
		return 100
	}
	e := (1 - avg/max) * 100
	if e < 0 {
		return 0
	}
	return e
}

// CongestionRatio is (avg/max)*100; 0 when max is 0.
func CongestionRatio(avg, max float64) float64 {
	if max == 0 {
		return 0
	}
	return avg / max * 100
}

// CongestionAboveThreshold is the percentage of values >= threshold.
func CongestionAboveThreshold(values []float64, threshold float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var over int
	for _, v := range values {
		if v >= threshold {
			over++
		}
	}
	return float64(over) / float64(len(values)) * 100
}

// Summarize reduces a bucketed cumulative series plus the raw extracted
// values behind it. Empty series yield a zero summary.
func Summarize(series, raw []float64, p policy.Policy) Summary {
	if len(series) == 0 {
		return Summary{
			Trend:             TrendInsufficientData,
			AveragePerReading: Mean(raw),
			TotalReadings:     len(raw),
		}
	}

	s := Summary{
		Average:           Mean(series),
		Max:               Max(series),
		Min:               Min(series),
		Median:            Median(series),
		StdDev:            StdDev(series),
		AveragePerReading: Mean(raw),
		Trend:             ClassifyTrend(series, p.TrendMinSamples),
		TotalReadings:     len(raw),
		DataPoints:        len(series),
	}
	s.Efficiency = Efficiency(s.Average, s.Max)

	switch p.Congestion {
	case policy.CongestionThreshold:
		s.CongestionRate = CongestionAboveThreshold(raw, p.CongestionThreshold)
	default:
		s.CongestionRate = CongestionRatio(s.Average, s.Max)
	}
	return s
}

// SummarizeValues summarizes raw readings of a single device.
func SummarizeValues(values []float64, minSamples int) Summary {
	if len(values) == 0 {
		return Summary{Trend: TrendInsufficientData}
	}
	avg := Mean(values)
	return Summary{
		Average:           avg,
		Max:               Max(values),
		Min:               Min(values),
		Median:            Median(values),
		StdDev:            StdDev(values),
		AveragePerReading: avg,
		Trend:             ClassifyTrend(values, minSamples),
		TotalReadings:     len(values),
		DataPoints:        len(values),
	}
}
