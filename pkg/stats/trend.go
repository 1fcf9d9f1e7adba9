package stats

import (
	"math"

	"github.com/nicktill/queuetrends/pkg/config"
)

// Trend labels a series direction.
type Trend string

const (
	TrendIncreasing       Trend = "increasing"
	TrendDecreasing       Trend = "decreasing"
	TrendStable           Trend = "stable"
	TrendInsufficientData Trend = "insufficient_data"
)

// stableBand is the absolute percentage change still reported as stable.
const stableBand = 5.0

// ClassifyTrend compares the mean of the first half of series with the
// mean of the second half. Series shorter than minSamples are
// insufficient_data; minSamples <= 0 uses the default of 10.
func ClassifyTrend(series []float64, minSamples int) Trend {
	if minSamples <= 0 {
		minSamples = config.DefaultTrendMinSamples
	}
	if len(series) < minSamples || len(series) < 2 {
		return TrendInsufficientData
	}

	mid := len(series) / 2
	change := PercentChange(Mean(series[:mid]), Mean(series[mid:]))

	switch {
	case math.Abs(change) < stableBand:
		return TrendStable
	case change > 0:
		return TrendIncreasing
	default:
		return TrendDecreasing
	}
}

// PercentChange is (to-from)/from*100, or 0 when from is 0.
func PercentChange(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return (to - from) / from * 100
}
