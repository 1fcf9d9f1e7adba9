// Package interval resolves interval and granularity tokens and maps
// timestamps onto bucket starts and calendar bucket keys.
package interval

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nicktill/queuetrends/pkg/config"
)

// ErrUnknownGranularity is returned for granularity or period tokens that
// are not supported.
var ErrUnknownGranularity = errors.New("unknown granularity")

var minutesByToken = map[string]int{
	"15min": 15,
	"30min": 30,
	"1hour": 60,
	"4hour": 240,
	"1day":  1440,
}

// Minutes maps an interval token to minutes. Unknown tokens map to 60.
func Minutes(token string) int {
	if m, ok := minutesByToken[strings.ToLower(strings.TrimSpace(token))]; ok {
		return m
	}
	return config.DefaultIntervalMinutes
}

// RoundToInterval truncates t to the top of its hour and floors the minute
// of hour to a multiple of minutes. Alignment restarts every hour, so any
// interval of 60 minutes or more yields hourly bucket starts.
//
// The result keeps t's zone offset, so the repeated hour of a daylight
// saving fall-back gets its own buckets.
func RoundToInterval(t time.Time, minutes int) time.Time {
	if minutes <= 0 {
		minutes = config.DefaultIntervalMinutes
	}
	return t.Add(-sinceMinute(t, (t.Minute()/minutes)*minutes))
}

// sinceMinute is the time elapsed since minute m of t's hour.
func sinceMinute(t time.Time, m int) time.Duration {
	return time.Duration(t.Minute()-m)*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
}

// Granularity is a calendar truncation unit for historical rollups.
type Granularity string

const (
	Hour  Granularity = "hour"
	Day   Granularity = "day"
	Week  Granularity = "week"
	Month Granularity = "month"
)

// ParseGranularity accepts hour, day, week and month.
func ParseGranularity(token string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(token))); g {
	case Hour, Day, Week, Month:
		return g, nil
	}
	return "", fmt.Errorf("%w: %q (want hour, day, week or month)", ErrUnknownGranularity, token)
}

// ParseGranularityOr falls back to def for empty or unknown tokens.
func ParseGranularityOr(token string, def Granularity) Granularity {
	if g, err := ParseGranularity(token); err == nil {
		return g
	}
	return def
}

// Key formats the calendar bucket key of t.
//
//	hour:  2006-01-02 15:00
//	day:   2006-01-02
//	week:  2006-W01 (ISO week-based year and week)
//	month: 2006-01
//
// Hour keys carry no zone offset: the repeated hour of a fall-back shares
// one key.
func (g Granularity) Key(t time.Time) string {
	switch g {
	case Hour:
		return fmt.Sprintf("%s %02d:00", t.Format("2006-01-02"), t.Hour())
	case Day:
		return t.Format("2006-01-02")
	case Week:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case Month:
		return fmt.Sprintf("%d-%02d", t.Year(), int(t.Month()))
	}
	return fmt.Sprintf("%s %02d:00", t.Format("2006-01-02"), t.Hour())
}

// Truncate returns the start of the calendar bucket containing t.
// Weeks start on Monday.
func (g Granularity) Truncate(t time.Time) time.Time {
	loc := t.Location()
	switch g {
	case Day:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	case Week:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		back := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -back)
	case Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	}
	return t.Add(-sinceMinute(t, 0))
}

// PeriodType groups pre-aggregated hourly rows.
type PeriodType string

const (
	Daily   PeriodType = "daily"
	Weekly  PeriodType = "weekly"
	Monthly PeriodType = "monthly"
)

// ParsePeriodType accepts daily, weekly and monthly.
func ParsePeriodType(token string) (PeriodType, error) {
	switch p := PeriodType(strings.ToLower(strings.TrimSpace(token))); p {
	case Daily, Weekly, Monthly:
		return p, nil
	}
	return "", fmt.Errorf("%w: period %q (want daily, weekly or monthly)", ErrUnknownGranularity, token)
}

// Granularity returns the calendar unit matching the period.
func (p PeriodType) Granularity() Granularity {
	switch p {
	case Weekly:
		return Week
	case Monthly:
		return Month
	}
	return Day
}
