package aggregate

import (
	"sort"
	"time"

	"github.com/nicktill/queuetrends/pkg/interval"
)

// PeriodRow is one pre-aggregated hourly row of a counter.
type PeriodRow struct {
	PeriodStart time.Time
	TotalCount  float64
}

// PeriodTotal is the sum of hourly rows in a day, ISO week or month.
type PeriodTotal struct {
	Period     string    `json:"period"`
	Start      time.Time `json:"start"`
	TotalCount float64   `json:"totalCount"`
	Hours      int       `json:"hours"`
}

// RollupPeriods groups hourly rows by period and sums TotalCount. Weeks
// start on Monday. Output is ordered by period start.
func RollupPeriods(rows []PeriodRow, p interval.PeriodType) []PeriodTotal {
	g := p.Granularity()
	index := make(map[int64]int)
	var out []PeriodTotal

	for _, row := range rows {
		start := g.Truncate(row.PeriodStart)
		k := start.UnixNano()
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, PeriodTotal{Period: g.Key(start), Start: start})
		}
		out[i].TotalCount += row.TotalCount
		out[i].Hours++
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	if out == nil {
		out = []PeriodTotal{}
	}
	return out
}
