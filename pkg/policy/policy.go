// Package policy holds the versioned MetricPolicy that parameterizes the
// aggregation pipeline: which field to read, how to merge repeated device
// readings in a bucket, and which congestion and efficiency formulas apply.
package policy

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/nicktill/queuetrends/pkg/config"
	"github.com/nicktill/queuetrends/pkg/reading"
)

// ErrUnknownPolicy is returned by Lookup for unregistered versions.
var ErrUnknownPolicy = errors.New("unknown metric policy")

// MergeMode decides what happens when one device reports more than once
// inside the same bucket.
type MergeMode string

const (
	// MergeOverwrite keeps the latest reading of the device.
	MergeOverwrite MergeMode = "overwrite"
	// MergeSum adds every reading of the device.
	MergeSum MergeMode = "sum"
)

// ParseMergeMode accepts "overwrite" and "sum" case-insensitively.
func ParseMergeMode(s string) (MergeMode, error) {
	switch MergeMode(strings.ToLower(strings.TrimSpace(s))) {
	case MergeOverwrite:
		return MergeOverwrite, nil
	case MergeSum:
		return MergeSum, nil
	}
	return "", fmt.Errorf("invalid merge mode %q (want overwrite or sum)", s)
}

// CongestionFormula selects how congestion rate is derived.
type CongestionFormula string

const (
	// CongestionAvgToPeak is (avg/max)*100 over the bucketed series.
	CongestionAvgToPeak CongestionFormula = "avg_to_peak"
	// CongestionThreshold is the share of raw readings at or above a threshold.
	CongestionThreshold CongestionFormula = "threshold"
)

// EfficiencyFormula selects how efficiency is derived.
type EfficiencyFormula string

// EfficiencyPeakHeadroom is max(0, (1-avg/max)*100), 100 when max is 0.
const EfficiencyPeakHeadroom EfficiencyFormula = "peak_headroom"

// Policy is one versioned metric policy.
type Policy struct {
	Version             string            `json:"version"`
	Fields              []string          `json:"fields"`
	Congestion          CongestionFormula `json:"congestion"`
	CongestionThreshold float64           `json:"congestionThreshold,omitempty"`
	Efficiency          EfficiencyFormula `json:"efficiency"`
	Merge               MergeMode         `json:"merge"`
	TrendMinSamples     int               `json:"trendMinSamples"`
}

// Extract resolves the policy's metric value from r.
func (p Policy) Extract(r reading.Reading) (float64, bool) {
	return reading.Extract(r, p.Fields)
}

// WithMerge returns a copy of p using mode.
func (p Policy) WithMerge(mode MergeMode) Policy {
	p.Merge = mode
	return p
}

// Validate reports configuration mistakes.
func (p Policy) Validate() error {
	if len(p.Fields) == 0 {
		return fmt.Errorf("policy %s: no metric fields", p.Version)
	}
	switch p.Congestion {
	case CongestionAvgToPeak:
	case CongestionThreshold:
		if p.CongestionThreshold <= 0 {
			return fmt.Errorf("policy %s: threshold congestion needs a positive threshold", p.Version)
		}
	default:
		return fmt.Errorf("policy %s: unknown congestion formula %q", p.Version, p.Congestion)
	}
	if p.Efficiency != EfficiencyPeakHeadroom {
		return fmt.Errorf("policy %s: unknown efficiency formula %q", p.Version, p.Efficiency)
	}
	if p.Merge != MergeOverwrite && p.Merge != MergeSum {
		return fmt.Errorf("policy %s: unknown merge mode %q", p.Version, p.Merge)
	}
	return nil
}

var registry = map[string]Policy{
	// Sum of people counters with a ratio congestion score.
	"v1": {
		Version:         "v1",
		Fields:          slices.Clone(reading.DefaultFields),
		Congestion:      CongestionAvgToPeak,
		Efficiency:      EfficiencyPeakHeadroom,
		Merge:           MergeOverwrite,
		TrendMinSamples: config.DefaultTrendMinSamples,
	},
	// Occupancy only. Occupancy 4 corresponds to roughly 8 minutes of wait.
	"v2": {
		Version:             "v2",
		Fields:              []string{"occupancy"},
		Congestion:          CongestionThreshold,
		CongestionThreshold: 4,
		Efficiency:          EfficiencyPeakHeadroom,
		Merge:               MergeOverwrite,
		TrendMinSamples:     config.DefaultTrendMinSamples,
	},
}

// Default returns the v1 policy.
func Default() Policy {
	p, _ := Lookup(config.DefaultPolicyVersion)
	return p
}

// Lookup returns a copy of a registered policy by version.
func Lookup(version string) (Policy, error) {
	p, ok := registry[strings.ToLower(strings.TrimSpace(version))]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %q", ErrUnknownPolicy, version)
	}
	p.Fields = slices.Clone(p.Fields)
	return p, nil
}

// Versions lists registered policy versions in order.
func Versions() []string {
	out := make([]string, 0, len(registry))
	for v := range registry {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
