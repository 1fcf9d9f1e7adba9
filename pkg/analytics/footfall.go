package analytics

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nicktill/queuetrends/pkg/aggregate"
	"github.com/nicktill/queuetrends/pkg/footfall"
	"github.com/nicktill/queuetrends/pkg/interval"
	"github.com/nicktill/queuetrends/pkg/reading"
)

// Footfall scopes.
const (
	ScopeCounter  = "COUNTER"
	ScopeMultiple = "MULTIPLE_COUNTERS"
	ScopeAll      = "ALL_COUNTERS"
)

// FootfallSummary compares today's footfall with four earlier days.
type FootfallSummary struct {
	Scope         string            `json:"scope"`
	CounterCode   string            `json:"counterCode,omitempty"`
	CounterName   string            `json:"counterName,omitempty"`
	CounterCodes  []string          `json:"counterCodes,omitempty"`
	CounterCount  int               `json:"counterCount"`
	GeneratedAt   time.Time         `json:"generatedAt"`
	Windows       []footfall.Result `json:"windows"`
	FailedDevices []string          `json:"failedDevices,omitempty"`
}

// Window returns the result for label.
func (s *FootfallSummary) Window(label footfall.Label) (footfall.Result, bool) {
	return footfall.Find(s.Windows, label)
}

func (e *Engine) footfallOf(ctx context.Context, ids []string, now time.Time) ([]footfall.Result, []string) {
	windows := footfall.Windows(now, e.loc)
	from, to := footfall.Span(windows)
	readings, failed := e.fetch(ctx, ids, from, to)
	return footfall.Calculate(windows, aggregate.Samples(readings, e.policy), len(ids)), failed
}

// CounterFootfall totals the peak cumulative value of every device of code
// for each comparison window.
func (e *Engine) CounterFootfall(ctx context.Context, code string) (*FootfallSummary, error) {
	c, err := e.dir.Counter(code)
	if err != nil {
		return nil, err
	}
	ids, err := e.dir.DeviceIDs(code)
	if err != nil {
		return nil, err
	}
	now := e.now()
	results, failed := e.footfallOf(ctx, ids, now)
	return &FootfallSummary{
		Scope:         ScopeCounter,
		CounterCode:   c.Code,
		CounterName:   c.Name,
		CounterCount:  1,
		GeneratedAt:   now,
		Windows:       results,
		FailedDevices: failed,
	}, nil
}

// MultiCounterFootfall sums per-counter windows label by label. Unknown
// counters are skipped.
func (e *Engine) MultiCounterFootfall(ctx context.Context, codes []string) (*FootfallSummary, error) {
	now := e.now()
	out := &FootfallSummary{Scope: ScopeMultiple, CounterCodes: codes, GeneratedAt: now}

	var perCounter [][]footfall.Result
	for _, code := range codes {
		ids, err := e.dir.DeviceIDs(strings.TrimSpace(code))
		if err != nil {
			log.Printf("Skipping footfall for counter %s: %v", code, err)
			continue
		}
		results, failed := e.footfallOf(ctx, ids, now)
		perCounter = append(perCounter, results)
		out.FailedDevices = append(out.FailedDevices, failed...)
	}
	out.CounterCount = len(perCounter)
	out.Windows = footfall.Combine(perCounter)
	if len(perCounter) == 0 {
		out.Windows = footfall.Calculate(footfall.Windows(now, e.loc), nil, 0)
	}
	return out, nil
}

// AllCountersFootfall treats the devices of every active counter as one
// population.
func (e *Engine) AllCountersFootfall(ctx context.Context) (*FootfallSummary, error) {
	now := e.now()
	out := &FootfallSummary{Scope: ScopeAll, GeneratedAt: now}

	var ids []string
	for _, c := range e.dir.ActiveCounters() {
		devs, err := e.dir.DeviceIDs(c.Code)
		if err != nil {
			return nil, err
		}
		out.CounterCodes = append(out.CounterCodes, c.Code)
		ids = append(ids, devs...)
	}
	out.CounterCount = len(out.CounterCodes)
	out.Windows, out.FailedDevices = e.footfallOf(ctx, ids, now)
	return out, nil
}

// FootfallWaitTime relates one day's footfall to wait times.
type FootfallWaitTime struct {
	CounterInfo
	Date string `json:"date"`
	footfall.WaitTimeReport
	FailedDevices []string `json:"failedDevices,omitempty"`
}

// FootfallVsWaitTime analyses the local day containing date.
func (e *Engine) FootfallVsWaitTime(ctx context.Context, code string, date time.Time) (*FootfallWaitTime, error) {
	dayStart := e.startOfDay(date)
	dayEnd := dayStart.AddDate(0, 0, 1)
	s, err := e.resolve(ctx, code, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}

	day := make([]reading.Reading, 0, len(s.readings))
	for _, r := range s.readings {
		if !r.Timestamp.Before(dayStart) && r.Timestamp.Before(dayEnd) {
			day = append(day, r)
		}
	}
	return &FootfallWaitTime{
		CounterInfo:    infoOf(s.counter),
		Date:           dayStart.Format("2006-01-02"),
		WaitTimeReport: footfall.AnalyzeWaitTime(day),
		FailedDevices:  s.failed,
	}, nil
}

// PeriodReport holds a counter's hourly aggregates summed by period.
type PeriodReport struct {
	CounterInfo
	PeriodType interval.PeriodType     `json:"periodType"`
	From       time.Time               `json:"from"`
	To         time.Time               `json:"to"`
	Periods    []aggregate.PeriodTotal `json:"periods"`
}

// PeriodTrends sums the upstream's hourly aggregates of a counter by day,
// ISO week or month. Rows match on counter code or name.
func (e *Engine) PeriodTrends(ctx context.Context, code, periodType string, from, to time.Time) (*PeriodReport, error) {
	pt, err := interval.ParsePeriodType(periodType)
	if err != nil {
		return nil, err
	}
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	c, err := e.dir.Counter(code)
	if err != nil {
		return nil, err
	}
	if e.hourly == nil {
		return nil, ErrNoSource
	}

	rows, err := e.hourly.HourlyAggregatesRange(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch hourly aggregates: %w", err)
	}
	var mine []aggregate.PeriodRow
	for _, row := range rows {
		if strings.EqualFold(row.CounterName, c.Code) || (c.Name != "" && strings.EqualFold(row.CounterName, c.Name)) {
			mine = append(mine, aggregate.PeriodRow{PeriodStart: row.PeriodStart.In(e.loc), TotalCount: row.TotalCount})
		}
	}
	return &PeriodReport{
		CounterInfo: infoOf(c),
		PeriodType:  pt,
		From:        from,
		To:          to,
		Periods:     aggregate.RollupPeriods(mine, pt),
	}, nil
}
