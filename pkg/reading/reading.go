// Package reading defines the telemetry Reading and the single validating
// decode step that turns loosely typed upstream payloads into it.
package reading

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Decode errors. A reading that fails to decode is dropped by batch callers.
var (
	ErrMissingDeviceID  = errors.New("reading has no deviceId")
	ErrMissingTimestamp = errors.New("reading has no timestamp")
	ErrBadTimestamp     = errors.New("reading timestamp is not ISO-8601")
)

// Reading is one timestamped telemetry sample for a device.
// Fields holds every payload field except deviceId and timestamp.
type Reading struct {
	DeviceID    string         `json:"deviceId"`
	CounterName string         `json:"counterName,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Fields      map[string]any `json:"fields,omitempty"`
}

// Field returns a raw payload field.
func (r Reading) Field(name string) (any, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// Status returns the optional upstream status tag.
func (r Reading) Status() string {
	if s, ok := r.Fields["status"].(string); ok {
		return s
	}
	return ""
}

// Payload flattens the reading back into the upstream wire shape.
func (r Reading) Payload() map[string]any {
	out := make(map[string]any, len(r.Fields)+3)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["deviceId"] = r.DeviceID
	out["timestamp"] = r.Timestamp.Format(time.RFC3339Nano)
	if r.CounterName != "" {
		out["counterName"] = r.CounterName
	}
	return out
}

// DecodeStats counts what happened to a batch of raw payloads.
type DecodeStats struct {
	Decoded int
	Dropped int
}

// Decode validates one raw payload. Zone-less timestamps are read in loc.
func Decode(raw map[string]any, loc *time.Location) (Reading, error) {
	id, _ := raw["deviceId"].(string)
	id = strings.TrimSpace(id)
	if id == "" {
		return Reading{}, ErrMissingDeviceID
	}
	return decode(raw, id, loc)
}

func decode(raw map[string]any, id string, loc *time.Location) (Reading, error) {
	tsRaw, ok := raw["timestamp"]
	if !ok || tsRaw == nil {
		return Reading{}, ErrMissingTimestamp
	}
	ts, err := parseTimestampValue(tsRaw, loc)
	if err != nil {
		return Reading{}, err
	}

	r := Reading{
		DeviceID:  id,
		Timestamp: ts,
		Fields:    make(map[string]any, len(raw)),
	}
	for k, v := range raw {
		switch k {
		case "deviceId", "timestamp":
		case "counterName":
			if s, ok := v.(string); ok {
				r.CounterName = s
			}
		default:
			r.Fields[k] = v
		}
	}
	return r, nil
}

// DecodeAll decodes a batch, dropping entries that fail validation.
func DecodeAll(raws []map[string]any, loc *time.Location) ([]Reading, DecodeStats) {
	out := make([]Reading, 0, len(raws))
	var stats DecodeStats
	for _, raw := range raws {
		r, err := Decode(raw, loc)
		if err != nil {
			stats.Dropped++
			continue
		}
		out = append(out, r)
	}
	stats.Decoded = len(out)
	return out, stats
}

// DecodeAllForDevice decodes readings fetched from a per-device endpoint.
// Every reading is credited to deviceID, whatever id the payload carries.
func DecodeAllForDevice(raws []map[string]any, deviceID string, loc *time.Location) ([]Reading, DecodeStats) {
	out := make([]Reading, 0, len(raws))
	var stats DecodeStats
	id := strings.TrimSpace(deviceID)
	for _, raw := range raws {
		r, err := decode(raw, id, loc)
		if err != nil {
			stats.Dropped++
			continue
		}
		out = append(out, r)
	}
	stats.Decoded = len(out)
	return out, stats
}

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
}

// ParseTimestamp parses an ISO-8601 timestamp. Values without an offset
// are interpreted in loc (UTC when nil).
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrMissingTimestamp
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, s)
}

func parseTimestampValue(v any, loc *time.Location) (time.Time, error) {
	switch ts := v.(type) {
	case string:
		return ParseTimestamp(ts, loc)
	case time.Time:
		if loc != nil {
			return ts.In(loc), nil
		}
		return ts, nil
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported type %T", ErrBadTimestamp, v)
	}
}
