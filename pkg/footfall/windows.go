// Package footfall computes people-counter totals for fixed comparison
// windows and compares them against today.
package footfall

import "time"

// Label names a comparison window.
type Label string

const (
	Today            Label = "today"
	Yesterday        Label = "yesterday"
	LastWeekSameDay  Label = "lastWeekSameDay"
	LastMonthSameDay Label = "lastMonthSameDay"
	LastYearSameDay  Label = "lastYearSameDay"
)

// Labels lists every window in response order.
var Labels = []Label{Today, Yesterday, LastWeekSameDay, LastMonthSameDay, LastYearSameDay}

// Window is a time range. Today is [midnight, now]; every other window is
// the whole local day [00:00, next 00:00).
type Window struct {
	Label Label     `json:"label"`
	Date  string    `json:"date"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	// Closed windows include End.
	Closed bool `json:"-"`
}

// Contains reports whether t falls in the window.
func (w Window) Contains(t time.Time) bool {
	if t.Before(w.Start) {
		return false
	}
	if w.Closed {
		return !t.After(w.End)
	}
	return t.Before(w.End)
}

// Windows builds the five comparison windows for now in loc. Month and
// year shifts clamp to the last day of the target month.
func Windows(now time.Time, loc *time.Location) []Window {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, loc)

	return []Window{
		{Label: Today, Date: today.Format("2006-01-02"), Start: today, End: now, Closed: true},
		fullDay(Yesterday, today.AddDate(0, 0, -1)),
		fullDay(LastWeekSameDay, today.AddDate(0, 0, -7)),
		fullDay(LastMonthSameDay, shiftMonths(today, -1)),
		fullDay(LastYearSameDay, shiftMonths(today, -12)),
	}
}

// Span returns the range covering every window, for a single fetch.
func Span(windows []Window) (time.Time, time.Time) {
	if len(windows) == 0 {
		return time.Time{}, time.Time{}
	}
	start, end := windows[0].Start, windows[0].End
	for _, w := range windows[1:] {
		if w.Start.Before(start) {
			start = w.Start
		}
		if w.End.After(end) {
			end = w.End
		}
	}
	return start, end
}

func fullDay(label Label, day time.Time) Window {
	return Window{
		Label: label,
		Date:  day.Format("2006-01-02"),
		Start: day,
		End:   day.AddDate(0, 0, 1),
	}
}

// shiftMonths moves day by n months keeping the day of month when it
// exists, otherwise the last day of the target month.
func shiftMonths(day time.Time, n int) time.Time {
	y, m, d := day.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, day.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, day.Location())
}
