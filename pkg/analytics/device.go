package analytics

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/nicktill/queuetrends/pkg/aggregate"
	"github.com/nicktill/queuetrends/pkg/config"
	"github.com/nicktill/queuetrends/pkg/directory"
	"github.com/nicktill/queuetrends/pkg/interval"
	"github.com/nicktill/queuetrends/pkg/stats"
)

// DeviceInfo identifies the device a response is about.
type DeviceInfo struct {
	DeviceID     string `json:"deviceId"`
	DeviceName   string `json:"deviceName,omitempty"`
	CounterCode  string `json:"counterCode,omitempty"`
	LocationCode string `json:"locationCode,omitempty"`
	SegmentCode  string `json:"segmentCode,omitempty"`
}

func deviceInfoOf(d directory.Device) DeviceInfo {
	return DeviceInfo{
		DeviceID:     d.ID,
		DeviceName:   d.Name,
		CounterCode:  d.CounterCode,
		LocationCode: d.LocationCode,
		SegmentCode:  d.SegmentCode,
	}
}

func (e *Engine) deviceSamples(ctx context.Context, id string, start, end time.Time) (directory.Device, []aggregate.Sample, []string, error) {
	if err := checkRange(start, end); err != nil {
		return directory.Device{}, nil, nil, err
	}
	d, err := e.dir.Device(id)
	if err != nil {
		return directory.Device{}, nil, nil, err
	}
	readings, failed := e.fetch(ctx, []string{d.ID}, start, end)
	return d, aggregate.Samples(readings, e.policy), failed, nil
}

// DeviceSeries is one device's series at an interval.
type DeviceSeries struct {
	DeviceInfo
	Interval      string                  `json:"interval"`
	Start         time.Time               `json:"startTime"`
	End           time.Time               `json:"endTime"`
	Trends        []aggregate.SeriesPoint `json:"trends"`
	FailedDevices []string                `json:"failedDevices,omitempty"`
}

// DeviceTrends reduces every reading of a device per interval slot.
func (e *Engine) DeviceTrends(ctx context.Context, id string, start, end time.Time, token string) (*DeviceSeries, error) {
	d, samples, failed, err := e.deviceSamples(ctx, id, start, end)
	if err != nil {
		return nil, err
	}
	if token == "" {
		token = "1hour"
	}
	return &DeviceSeries{
		DeviceInfo:    deviceInfoOf(d),
		Interval:      token,
		Start:         start,
		End:           end,
		Trends:        aggregate.ByInterval(samples, interval.Minutes(token)),
		FailedDevices: failed,
	}, nil
}

// DeviceComparison is one device's range summary.
type DeviceComparison struct {
	DeviceInfo
	AverageQueueLength float64   `json:"averageQueueLength"`
	MaxQueueLength     float64   `json:"maxQueueLength"`
	MinQueueLength     float64   `json:"minQueueLength"`
	TotalReadings      int       `json:"totalReadings"`
	FirstReading       time.Time `json:"firstReading"`
	LastReading        time.Time `json:"lastReading"`
}

// DeviceComparisons ranks devices against each other.
type DeviceComparisons struct {
	Start         time.Time          `json:"startTime"`
	End           time.Time          `json:"endTime"`
	Devices       []DeviceComparison `json:"devices"`
	Skipped       []string           `json:"skippedDevices,omitempty"`
	FailedDevices []string           `json:"failedDevices,omitempty"`
}

// CompareDevices summarizes each device over the range, sorted ascending by
// average. Unknown devices and devices without data are skipped.
func (e *Engine) CompareDevices(ctx context.Context, ids []string, start, end time.Time) (*DeviceComparisons, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no devices to compare", ErrInvalidRequest)
	}

	out := &DeviceComparisons{Start: start, End: end, Devices: []DeviceComparison{}}
	var known []directory.Device
	var knownIDs []string
	for _, id := range ids {
		d, err := e.dir.Device(id)
		if err != nil {
			log.Printf("Skipping device %s: %v", id, err)
			out.Skipped = append(out.Skipped, id)
			continue
		}
		known = append(known, d)
		knownIDs = append(knownIDs, d.ID)
	}

	readings, failed := e.fetch(ctx, knownIDs, start, end)
	out.FailedDevices = failed
	byDevice := make(map[string][]float64)
	for _, s := range aggregate.Samples(readings, e.policy) {
		byDevice[s.DeviceID] = append(byDevice[s.DeviceID], s.Value)
	}

	for _, d := range known {
		values, ok := byDevice[d.ID]
		if !ok {
			continue
		}
		r := stats.RangeOf(values)
		out.Devices = append(out.Devices, DeviceComparison{
			DeviceInfo:         deviceInfoOf(d),
			AverageQueueLength: r.Average,
			MaxQueueLength:     r.Max,
			MinQueueLength:     r.Min,
			TotalReadings:      r.Count,
			FirstReading:       start,
			LastReading:        end,
		})
	}
	sort.SliceStable(out.Devices, func(i, j int) bool {
		return out.Devices[i].AverageQueueLength < out.Devices[j].AverageQueueLength
	})
	return out, nil
}

// DeviceStats is the statistics block of one device.
type DeviceStats struct {
	DeviceInfo
	Start         time.Time     `json:"startTime"`
	End           time.Time     `json:"endTime"`
	Statistics    stats.Summary `json:"statistics"`
	FailedDevices []string      `json:"failedDevices,omitempty"`
}

// DeviceStatistics summarizes a device's raw values over the range.
func (e *Engine) DeviceStatistics(ctx context.Context, id string, start, end time.Time) (*DeviceStats, error) {
	d, samples, failed, err := e.deviceSamples(ctx, id, start, end)
	if err != nil {
		return nil, err
	}
	return &DeviceStats{
		DeviceInfo:    deviceInfoOf(d),
		Start:         start,
		End:           end,
		Statistics:    stats.SummarizeValues(aggregate.Values(samples), e.policy.TrendMinSamples),
		FailedDevices: failed,
	}, nil
}

// DevicePattern is a device's hour-of-day profile.
type DevicePattern struct {
	DeviceInfo
	Start         time.Time              `json:"startTime"`
	End           time.Time              `json:"endTime"`
	HourlyPattern []aggregate.DeviceHour `json:"hourlyPattern"`
	PeakHours     []int                  `json:"peakHours"`
	LowHours      []int                  `json:"lowHours"`
	FailedDevices []string               `json:"failedDevices,omitempty"`
}

// DeviceHourlyPattern groups a device's readings by hour of day.
func (e *Engine) DeviceHourlyPattern(ctx context.Context, id string, start, end time.Time) (*DevicePattern, error) {
	d, samples, failed, err := e.deviceSamples(ctx, id, start, end)
	if err != nil {
		return nil, err
	}
	pattern := aggregate.DeviceHourly(samples)
	return &DevicePattern{
		DeviceInfo:    deviceInfoOf(d),
		Start:         start,
		End:           end,
		HourlyPattern: pattern,
		PeakHours:     aggregate.HoursOf(pattern, config.DefaultPeakHours, true),
		LowHours:      aggregate.HoursOf(pattern, config.DefaultPeakHours, false),
		FailedDevices: failed,
	}, nil
}

// AreaPoint is one period of an area's average.
type AreaPoint struct {
	Timestamp          time.Time `json:"timestamp"`
	Location           string    `json:"location,omitempty"`
	Segment            string    `json:"segment,omitempty"`
	AverageQueueLength float64   `json:"averageQueueLength"`
	MaxQueueLength     float64   `json:"maxQueueLength"`
	MinQueueLength     float64   `json:"minQueueLength"`
	DeviceCount        int       `json:"deviceCount"`
	TotalReadings      int       `json:"totalReadings"`
}

// AreaReport averages the devices of a location or segment.
type AreaReport struct {
	Location      string               `json:"location,omitempty"`
	Segment       string               `json:"segment,omitempty"`
	GroupBy       interval.Granularity `json:"groupBy"`
	DeviceCount   int                  `json:"deviceCount"`
	Points        []AreaPoint          `json:"data"`
	FailedDevices []string             `json:"failedDevices,omitempty"`
}

// AreaAverages reduces every reading of the area's devices per calendar
// unit. Location wins when both are given; groupBy defaults to hour.
func (e *Engine) AreaAverages(ctx context.Context, area directory.Area, start, end time.Time, groupBy string) (*AreaReport, error) {
	if area.Location == "" && area.Segment == "" {
		return nil, fmt.Errorf("%w: location or segment is required", ErrInvalidRequest)
	}
	if area.Location != "" {
		area.Segment = ""
	}
	if err := checkRange(start, end); err != nil {
		return nil, err
	}

	g := interval.ParseGranularityOr(groupBy, interval.Hour)
	devices := e.dir.DevicesIn(area)
	out := &AreaReport{
		Location:    area.Location,
		Segment:     area.Segment,
		GroupBy:     g,
		DeviceCount: len(devices),
		Points:      []AreaPoint{},
	}
	if len(devices) == 0 {
		log.Printf("No devices found for location=%q segment=%q", area.Location, area.Segment)
		return out, nil
	}

	ids := make([]string, len(devices))
	for i, d := range devices {
		ids[i] = d.ID
	}
	readings, failed := e.fetch(ctx, ids, start, end)
	out.FailedDevices = failed

	for _, p := range aggregate.ByPeriod(aggregate.Samples(readings, e.policy), g) {
		out.Points = append(out.Points, AreaPoint{
			Timestamp:          p.Timestamp,
			Location:           area.Location,
			Segment:            area.Segment,
			AverageQueueLength: p.AverageQueueLength,
			MaxQueueLength:     p.MaxQueueLength,
			MinQueueLength:     p.MinQueueLength,
			DeviceCount:        len(devices),
			TotalReadings:      p.DataPoints,
		})
	}
	return out, nil
}
