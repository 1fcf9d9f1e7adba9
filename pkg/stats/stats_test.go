package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/queuetrends/pkg/policy"
)

func TestMedian(t *testing.T) {
	require.Equal(t, 2.5, Median([]float64{1, 2, 3, 4}))
	require.Equal(t, 2.0, Median([]float64{1, 2, 3}))
	require.Equal(t, 2.0, Median([]float64{3, 1, 2}))
	require.Equal(t, 0.0, Median(nil))
}

func TestMedian_DoesNotReorderInput(t *testing.T) {
	in := []float64{3, 1, 2}
	Median(in)
	require.Equal(t, []float64{3, 1, 2}, in)
}

func TestStdDev_Population(t *testing.T) {
	// Population variance of 2,4,4,4,5,5,7,9 is 4.
	require.InDelta(t, 2.0, StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-9)
	require.Equal(t, 0.0, StdDev([]float64{5}))
	require.Equal(t, 0.0, StdDev(nil))
}

func TestEmptyInputs(t *testing.T) {
	for name, fn := range map[string]func([]float64) float64{
		"sum": Sum, "mean": Mean, "max": Max, "min": Min, "median": Median, "stddev": StdDev,
	} {
		got := fn(nil)
		require.False(t, math.IsNaN(got), name)
		require.Equal(t, 0.0, got, name)
	}
	require.Equal(t, Range{}, RangeOf(nil))
}

func TestPercentile(t *testing.T) {
	values := []float64{10, 20, 30, 40, 50}
	require.Equal(t, 30.0, Percentile(values, 0.5))
	require.Equal(t, 10.0, Percentile(values, 0))
	require.Equal(t, 50.0, Percentile(values, 1))
	require.InDelta(t, 46.0, Percentile(values, 0.9), 1e-9)
}

func TestEfficiency(t *testing.T) {
	for _, avg := range []float64{0, 3, -2, 1000} {
		require.Equal(t, 100.0, Efficiency(avg, 0))
	}
	require.InDelta(t, 60.0, Efficiency(4, 10), 1e-9)
	require.Equal(t, 0.0, Efficiency(12, 10))
}

func TestCongestion(t *testing.T) {
	require.Equal(t, 0.0, CongestionRatio(5, 0))
	require.InDelta(t, 40.0, CongestionRatio(4, 10), 1e-9)

	require.Equal(t, 0.0, CongestionAboveThreshold(nil, 4))
	require.Equal(t, 50.0, CongestionAboveThreshold([]float64{1, 4, 6, 3}, 4))
}

func TestClassifyTrend(t *testing.T) {
	increasing := make([]float64, 12)
	for i := range increasing {
		increasing[i] = float64(10 + i)
	}
	require.Equal(t, TrendIncreasing, ClassifyTrend(increasing, 10))

	decreasing := make([]float64, 12)
	for i := range decreasing {
		decreasing[i] = float64(40 - 2*i)
	}
	require.Equal(t, TrendDecreasing, ClassifyTrend(decreasing, 10))

	flat := []float64{100, 101, 99, 100, 100.5, 99.5, 101, 99, 100, 100}
	require.Equal(t, TrendStable, ClassifyTrend(flat, 10))

	require.Equal(t, TrendInsufficientData, ClassifyTrend(increasing[:9], 10))
	require.Equal(t, TrendInsufficientData, ClassifyTrend(increasing[:9], 0))
	require.Equal(t, TrendIncreasing, ClassifyTrend([]float64{1, 2}, 2))
	require.Equal(t, TrendInsufficientData, ClassifyTrend([]float64{1}, 1))

	// Zero first half cannot produce a percentage and reads as stable.
	zeroStart := []float64{0, 0, 0, 0, 0, 5, 5, 5, 5, 5}
	require.Equal(t, TrendStable, ClassifyTrend(zeroStart, 10))
}

func TestSummarize(t *testing.T) {
	series := []float64{10, 20, 30, 40}
	raw := []float64{5, 5, 10, 10, 15, 15, 20, 20}

	s := Summarize(series, raw, policy.Default())
	require.Equal(t, 25.0, s.Average)
	require.Equal(t, 40.0, s.Max)
	require.Equal(t, 10.0, s.Min)
	require.Equal(t, 25.0, s.Median)
	require.InDelta(t, 11.1803, s.StdDev, 1e-4)
	require.Equal(t, 12.5, s.AveragePerReading)
	require.InDelta(t, 37.5, s.Efficiency, 1e-9)
	require.InDelta(t, 62.5, s.CongestionRate, 1e-9)
	require.Equal(t, TrendInsufficientData, s.Trend)
	require.Equal(t, 8, s.TotalReadings)
	require.Equal(t, 4, s.DataPoints)

	occupancy, err := policy.Lookup("v2")
	require.NoError(t, err)
	s = Summarize(series, raw, occupancy)
	require.Equal(t, 100.0, s.CongestionRate)
	s = Summarize(series, []float64{1, 2, 4, 8}, occupancy)
	require.Equal(t, 50.0, s.CongestionRate)
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil, nil, policy.Default())
	require.Equal(t, Summary{Trend: TrendInsufficientData}, s)

	s = SummarizeValues(nil, 10)
	require.Equal(t, Summary{Trend: TrendInsufficientData}, s)
}

func TestSummarizeValues(t *testing.T) {
	s := SummarizeValues([]float64{1, 2, 3, 4}, 2)
	require.Equal(t, 2.5, s.Average)
	require.Equal(t, 2.5, s.Median)
	require.Equal(t, 4.0, s.Max)
	require.Equal(t, 1.0, s.Min)
	require.Equal(t, TrendIncreasing, s.Trend)
	require.Equal(t, 4, s.TotalReadings)
}
