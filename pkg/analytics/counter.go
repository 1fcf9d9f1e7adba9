package analytics

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/nicktill/queuetrends/pkg/aggregate"
	"github.com/nicktill/queuetrends/pkg/config"
	"github.com/nicktill/queuetrends/pkg/directory"
	"github.com/nicktill/queuetrends/pkg/interval"
	"github.com/nicktill/queuetrends/pkg/policy"
	"github.com/nicktill/queuetrends/pkg/stats"
)

// QueueTrends is the bucketed cross-device view of one counter.
type QueueTrends struct {
	CounterInfo
	Start            time.Time                `json:"startTime"`
	End              time.Time                `json:"endTime"`
	Interval         string                   `json:"interval"`
	IntervalMinutes  int                      `json:"intervalMinutes"`
	PolicyVersion    string                   `json:"policyVersion"`
	TotalDeviceCount int                      `json:"totalDeviceCount"`
	DataPointCount   int                      `json:"dataPointCount"`
	Trends           []aggregate.CounterPoint `json:"trends"`
	Statistics       stats.Summary            `json:"statistics"`
	DeviceBreakdown  []aggregate.Contribution `json:"deviceBreakdown"`
	Devices          []directory.Device       `json:"devices"`
	FailedDevices    []string                 `json:"failedDevices"`
}

// CounterQueueTrends buckets every device of code at the interval token
// (15min, 30min, 1hour, 4hour, 1day) and aggregates across devices.
func (e *Engine) CounterQueueTrends(ctx context.Context, code string, start, end time.Time, token string) (*QueueTrends, error) {
	return e.queueTrends(ctx, code, start, end, token, e.policy)
}

// OccupancyTrends is CounterQueueTrends under the occupancy policy.
func (e *Engine) OccupancyTrends(ctx context.Context, code string, start, end time.Time, token string) (*QueueTrends, error) {
	p, err := policy.Lookup("v2")
	if err != nil {
		return nil, err
	}
	return e.queueTrends(ctx, code, start, end, token, p.WithMerge(e.policy.Merge))
}

func (e *Engine) queueTrends(ctx context.Context, code string, start, end time.Time, token string, p policy.Policy) (*QueueTrends, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	s, err := e.resolve(ctx, code, start, end)
	if err != nil {
		return nil, err
	}

	minutes := interval.Minutes(token)
	if token == "" {
		token = "1hour"
	}
	samples := s.samples(p)
	points := aggregate.Aggregate(aggregate.BucketByInterval(samples, minutes, p.Merge), len(s.devices))

	return &QueueTrends{
		CounterInfo:      infoOf(s.counter),
		Start:            start,
		End:              end,
		Interval:         token,
		IntervalMinutes:  minutes,
		PolicyVersion:    p.Version,
		TotalDeviceCount: len(s.devices),
		DataPointCount:   len(points),
		Trends:           points,
		Statistics:       stats.Summarize(aggregate.Totals(points), aggregate.Values(samples), p),
		DeviceBreakdown:  named(aggregate.Contributions(samples), s.devices),
		Devices:          s.devices,
		FailedDevices:    s.failed,
	}, nil
}

func named(contribs []aggregate.Contribution, devices []directory.Device) []aggregate.Contribution {
	names := make(map[string]string, len(devices))
	for _, d := range devices {
		names[d.ID] = d.Name
	}
	for i := range contribs {
		contribs[i].DeviceName = names[contribs[i].DeviceID]
	}
	return contribs
}

// Historical is a calendar rollup of one counter.
type Historical struct {
	CounterInfo
	Start            time.Time               `json:"startTime"`
	End              time.Time               `json:"endTime"`
	Granularity      interval.Granularity    `json:"granularity"`
	TotalDeviceCount int                     `json:"totalDeviceCount"`
	Data             []aggregate.RollupPoint `json:"data"`
	Statistics       stats.Summary           `json:"statistics"`
	FailedDevices    []string                `json:"failedDevices"`
}

// HistoricalTrends rolls a counter up by hour, day, week or month.
func (e *Engine) HistoricalTrends(ctx context.Context, code string, start, end time.Time, token string) (*Historical, error) {
	g, err := interval.ParseGranularity(token)
	if err != nil {
		return nil, err
	}
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	s, err := e.resolve(ctx, code, start, end)
	if err != nil {
		return nil, err
	}

	samples := s.samples(e.policy)
	points := aggregate.Rollup(samples, g, len(s.devices), e.policy.Merge)
	return &Historical{
		CounterInfo:      infoOf(s.counter),
		Start:            start,
		End:              end,
		Granularity:      g,
		TotalDeviceCount: len(s.devices),
		Data:             points,
		Statistics:       stats.Summarize(aggregate.RollupTotals(points), aggregate.Values(samples), e.policy),
		FailedDevices:    s.failed,
	}, nil
}

// RangeStats summarizes a range from its minute-level cross-device totals.
type RangeStats struct {
	AverageTotalQueue     float64 `json:"averageTotalQueue"`
	MaxTotalQueue         float64 `json:"maxTotalQueue"`
	MinTotalQueue         float64 `json:"minTotalQueue"`
	AverageQueuePerDevice float64 `json:"averageQueuePerDevice"`
	CongestionRate        float64 `json:"congestionRate"`
	Efficiency            float64 `json:"efficiency"`
	TotalReadings         int     `json:"totalReadings"`
}

func rangeStats(samples []aggregate.Sample, p policy.Policy) RangeStats {
	minutes := aggregate.Aggregate(aggregate.BucketByInterval(samples, 1, p.Merge), 0)
	sum := stats.Summarize(aggregate.Totals(minutes), aggregate.Values(samples), p)
	return RangeStats{
		AverageTotalQueue:     sum.Average,
		MaxTotalQueue:         sum.Max,
		MinTotalQueue:         sum.Min,
		AverageQueuePerDevice: sum.AveragePerReading,
		CongestionRate:        sum.CongestionRate,
		Efficiency:            sum.Efficiency,
		TotalReadings:         sum.TotalReadings,
	}
}

// Performance is the hour-of-day profile of a counter.
type Performance struct {
	CounterInfo
	DeviceCount   int                  `json:"deviceCount"`
	Start         time.Time            `json:"startTime"`
	End           time.Time            `json:"endTime"`
	PatternDate   string               `json:"patternDate"`
	HourlyPattern []aggregate.HourStat `json:"hourlyPattern"`
	Statistics    RangeStats           `json:"statistics"`
	PeakHours     []int                `json:"peakHours"`
	LowHours      []int                `json:"lowHours"`
	FailedDevices []string             `json:"failedDevices"`
}

// CounterPerformance builds the hourly pattern from the readings of end's
// local day; the statistics cover the whole range.
func (e *Engine) CounterPerformance(ctx context.Context, code string, start, end time.Time) (*Performance, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	s, err := e.resolve(ctx, code, start, end)
	if err != nil {
		return nil, err
	}

	samples := s.samples(e.policy)
	dayStart := e.startOfDay(end)
	dayEnd := dayStart.AddDate(0, 0, 1)
	var day []aggregate.Sample
	for _, smp := range samples {
		if !smp.Timestamp.Before(dayStart) && smp.Timestamp.Before(dayEnd) {
			day = append(day, smp)
		}
	}

	pattern := aggregate.HourlyPattern(day, e.policy.Merge)
	return &Performance{
		CounterInfo:   infoOf(s.counter),
		DeviceCount:   len(s.devices),
		Start:         start,
		End:           end,
		PatternDate:   dayStart.Format("2006-01-02"),
		HourlyPattern: pattern,
		Statistics:    rangeStats(samples, e.policy),
		PeakHours:     hours(aggregate.PeakHours(pattern, config.DefaultPeakHours)),
		LowHours:      hours(aggregate.LowHours(pattern, config.DefaultPeakHours)),
		FailedDevices: s.failed,
	}, nil
}

func hours(top []aggregate.HourStat) []int {
	out := make([]int, len(top))
	for i, h := range top {
		out[i] = h.Hour
	}
	return out
}

// Filter selects the value counters are ranked by.
type Filter string

const (
	FilterAverage Filter = "avg"
	FilterMax     Filter = "max"
	FilterMin     Filter = "min"
)

// ParseFilter maps avg|average, max|maximum and min|minimum. Anything else
// ranks by average.
func ParseFilter(s string) Filter {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "max", "maximum":
		return FilterMax
	case "min", "minimum":
		return FilterMin
	}
	return FilterAverage
}

func (f Filter) value(r RangeStats) float64 {
	switch f {
	case FilterMax:
		return r.MaxTotalQueue
	case FilterMin:
		return r.MinTotalQueue
	}
	return r.AverageTotalQueue
}

// CounterComparison is one ranked counter.
type CounterComparison struct {
	CounterInfo
	DeviceCount int `json:"deviceCount"`
	RangeStats
	FilterValue   float64  `json:"filterValue"`
	FailedDevices []string `json:"failedDevices,omitempty"`
}

// Ranked names a counter and its filter value.
type Ranked struct {
	CounterCode string  `json:"counterCode"`
	CounterName string  `json:"counterName"`
	Value       float64 `json:"value"`
}

// Insights points at both ends of a comparison.
type Insights struct {
	BestPerforming  Ranked `json:"bestPerforming"`
	WorstPerforming Ranked `json:"worstPerforming"`
}

// Comparison ranks counters against each other.
type Comparison struct {
	CounterCodes []string            `json:"counterCodes"`
	CounterCount int                 `json:"counterCount"`
	FilterType   Filter              `json:"filterType"`
	Start        time.Time           `json:"startTime"`
	End          time.Time           `json:"endTime"`
	Comparisons  []CounterComparison `json:"comparisons"`
	Insights     *Insights           `json:"insights,omitempty"`
	Skipped      []string            `json:"skippedCounters,omitempty"`
}

// CompareCounters ranks counters ascending by the filter value. Unknown
// counters and counters without data are skipped; the lowest value is the
// best performer.
func (e *Engine) CompareCounters(ctx context.Context, codes []string, start, end time.Time, filter Filter) (*Comparison, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	if len(codes) == 0 {
		return nil, fmt.Errorf("%w: no counters to compare", ErrInvalidRequest)
	}

	out := &Comparison{
		CounterCodes: codes,
		CounterCount: len(codes),
		FilterType:   filter,
		Start:        start,
		End:          end,
		Comparisons:  []CounterComparison{},
	}
	for _, code := range codes {
		s, err := e.resolve(ctx, code, start, end)
		if err != nil {
			log.Printf("Skipping counter %s: %v", code, err)
			out.Skipped = append(out.Skipped, code)
			continue
		}
		samples := s.samples(e.policy)
		if len(samples) == 0 {
			out.Skipped = append(out.Skipped, code)
			continue
		}
		rs := rangeStats(samples, e.policy)
		out.Comparisons = append(out.Comparisons, CounterComparison{
			CounterInfo:   infoOf(s.counter),
			DeviceCount:   len(s.devices),
			RangeStats:    rs,
			FilterValue:   filter.value(rs),
			FailedDevices: s.failed,
		})
	}

	sort.SliceStable(out.Comparisons, func(i, j int) bool {
		return out.Comparisons[i].FilterValue < out.Comparisons[j].FilterValue
	})
	if n := len(out.Comparisons); n > 0 {
		best, worst := out.Comparisons[0], out.Comparisons[n-1]
		out.Insights = &Insights{
			BestPerforming:  Ranked{best.CounterCode, best.CounterName, best.FilterValue},
			WorstPerforming: Ranked{worst.CounterCode, worst.CounterName, worst.FilterValue},
		}
	}
	return out, nil
}

// CounterSummary is one row of the all-counters overview.
type CounterSummary struct {
	CounterInfo
	DeviceCount int `json:"deviceCount"`
	RangeStats
	FailedDevices []string `json:"failedDevices,omitempty"`
}

// Summary is the overview of every active counter.
type Summary struct {
	Start        time.Time        `json:"startTime"`
	End          time.Time        `json:"endTime"`
	CounterCount int              `json:"totalCounters"`
	Counters     []CounterSummary `json:"counters"`
}

// CountersSummary summarizes every active counter that has devices and
// data, sorted ascending by average total queue.
func (e *Engine) CountersSummary(ctx context.Context, start, end time.Time) (*Summary, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	out := &Summary{Start: start, End: end, Counters: []CounterSummary{}}
	for _, c := range e.dir.ActiveCounters() {
		s, err := e.resolve(ctx, c.Code, start, end)
		if err != nil {
			return nil, err
		}
		samples := s.samples(e.policy)
		if len(samples) == 0 {
			continue
		}
		out.Counters = append(out.Counters, CounterSummary{
			CounterInfo:   infoOf(s.counter),
			DeviceCount:   len(s.devices),
			RangeStats:    rangeStats(samples, e.policy),
			FailedDevices: s.failed,
		})
	}
	sort.SliceStable(out.Counters, func(i, j int) bool {
		return out.Counters[i].AverageTotalQueue < out.Counters[j].AverageTotalQueue
	})
	out.CounterCount = len(out.Counters)
	return out, nil
}

// KPIs are today's headline numbers of a counter.
type KPIs struct {
	CounterInfo
	Date               string   `json:"date"`
	AverageQueueLength float64  `json:"average_queue_length"`
	PeakQueue          float64  `json:"peak_queue"`
	Efficiency         float64  `json:"efficiency"`
	TotalReadings      int      `json:"total_readings"`
	FailedDevices      []string `json:"failedDevices,omitempty"`
}

// CurrentDayKPIs covers [local midnight, now].
func (e *Engine) CurrentDayKPIs(ctx context.Context, code string) (*KPIs, error) {
	now := e.now().In(e.loc)
	start := e.startOfDay(now)
	s, err := e.resolve(ctx, code, start, now)
	if err != nil {
		return nil, err
	}
	rs := rangeStats(s.samples(e.policy), e.policy)
	return &KPIs{
		CounterInfo:        infoOf(s.counter),
		Date:               start.Format("2006-01-02"),
		AverageQueueLength: rs.AverageTotalQueue,
		PeakQueue:          rs.MaxTotalQueue,
		Efficiency:         rs.Efficiency,
		TotalReadings:      rs.TotalReadings,
		FailedDevices:      s.failed,
	}, nil
}
