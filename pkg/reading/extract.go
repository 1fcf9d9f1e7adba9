package reading

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// DefaultFields is the metric field priority: primary counter, fallback
// name, then the legacy occupancy field.
var DefaultFields = []string{"inCount", "queueLength", "occupancy"}

// Extract resolves one metric value from r. The first field in priority
// order that is present and numeric wins. Present but unparsable fields are
// treated as absent.
func Extract(r Reading, fields []string) (float64, bool) {
	for _, name := range fields {
		v, ok := r.Fields[name]
		if !ok {
			continue
		}
		if f, ok := ToFloat(v); ok {
			return f, true
		}
	}
	return 0, false
}

// Number returns a single numeric field.
func Number(r Reading, name string) (float64, bool) {
	v, ok := r.Fields[name]
	if !ok {
		return 0, false
	}
	return ToFloat(v)
}

// WaitTime returns the waitTime field in minutes.
func WaitTime(r Reading) (float64, bool) {
	return Number(r, "waitTime")
}

// ToFloat coerces a JSON-ish value into a finite float64.
func ToFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
