// Package aggregate buckets device readings in time and merges them
// across the devices of a counter.
package aggregate

import (
	"sort"
	"time"

	"github.com/nicktill/queuetrends/pkg/interval"
	"github.com/nicktill/queuetrends/pkg/policy"
	"github.com/nicktill/queuetrends/pkg/reading"
)

// Sample is one extracted metric value of a device.
type Sample struct {
	DeviceID  string
	Timestamp time.Time
	Value     float64
}

// Samples extracts values from readings with p, dropping readings that have
// none. The result is stably ordered by timestamp.
func Samples(readings []reading.Reading, p policy.Policy) []Sample {
	out := make([]Sample, 0, len(readings))
	for _, r := range readings {
		v, ok := p.Extract(r)
		if !ok {
			continue
		}
		out = append(out, Sample{DeviceID: r.DeviceID, Timestamp: r.Timestamp, Value: v})
	}
	sortSamples(out)
	return out
}

func sortSamples(samples []Sample) {
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
}

// Values returns the sample values in order.
func Values(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}

// Bucket holds one merged value per device for a bucket start.
type Bucket struct {
	Start           time.Time
	IntervalMinutes int
	Values          map[string]float64
}

// BucketByInterval groups samples by RoundToInterval. With
// MergeOverwrite the latest sample of a device wins; with MergeSum every
// sample of the device is added. Buckets are sorted by start.
func BucketByInterval(samples []Sample, minutes int, mode policy.MergeMode) []Bucket {
	buckets := group(samples, func(t time.Time) time.Time {
		return interval.RoundToInterval(t, minutes)
	}, mode)
	for i := range buckets {
		buckets[i].IntervalMinutes = minutes
	}
	return buckets
}

// group slots samples under keyOf(timestamp) and merges per device. Input
// is expected in timestamp order so that overwrite keeps the latest value.
func group(samples []Sample, keyOf func(time.Time) time.Time, mode policy.MergeMode) []Bucket {
	index := make(map[int64]int)
	var buckets []Bucket

	for _, s := range samples {
		start := keyOf(s.Timestamp)
		key := start.UnixNano()

		i, exists := index[key]
		if !exists {
			i = len(buckets)
			index[key] = i
			buckets = append(buckets, Bucket{Start: start, Values: make(map[string]float64)})
		}

		values := buckets[i].Values
		if mode == policy.MergeSum {
			values[s.DeviceID] += s.Value
		} else {
			values[s.DeviceID] = s.Value
		}
	}

	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].Start.Before(buckets[j].Start)
	})
	return buckets
}

// bucketValues returns the per-device values of b ordered by device id so
// that float sums are reproducible.
func bucketValues(b Bucket) []float64 {
	ids := make([]string, 0, len(b.Values))
	for id := range b.Values {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]float64, len(ids))
	for i, id := range ids {
		out[i] = b.Values[id]
	}
	return out
}
