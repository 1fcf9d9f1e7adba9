package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// errBadParam marks a malformed query parameter.
var errBadParam = errors.New("invalid parameter")

// timeLayouts are tried in order. Zone-less layouts are read in the
// server's location.
var timeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTime accepts RFC 3339 or an ISO local date-time.
func parseTime(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q is not an RFC 3339 or ISO local time", errBadParam, value)
}

// timeParam reads an optional time parameter.
func (h *Handler) timeParam(r *http.Request, name string) (time.Time, bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, false, nil
	}
	t, err := parseTime(raw, h.loc)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%s: %w", name, err)
	}
	return t, true, nil
}

// timeRange reads startTime and endTime. A missing end is now and a missing
// start is lookback before the end.
func (h *Handler) timeRange(r *http.Request, lookback time.Duration) (time.Time, time.Time, error) {
	end, ok, err := h.timeParam(r, "endTime")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !ok {
		end = h.now().In(h.loc)
	}
	start, ok, err := h.timeParam(r, "startTime")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !ok {
		start = end.Add(-lookback)
	}
	return start, end, nil
}

// listParam splits a comma separated parameter, dropping blanks.
func listParam(r *http.Request, name string) []string {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func stringParam(r *http.Request, name, def string) string {
	if v := strings.TrimSpace(r.URL.Query().Get(name)); v != "" {
		return v
	}
	return def
}
