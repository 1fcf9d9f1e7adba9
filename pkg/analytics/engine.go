// Package analytics answers counter and device questions by fetching raw
// readings for every member device and running them through the
// aggregation pipeline.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nicktill/queuetrends/pkg/aggregate"
	"github.com/nicktill/queuetrends/pkg/config"
	"github.com/nicktill/queuetrends/pkg/directory"
	"github.com/nicktill/queuetrends/pkg/policy"
	"github.com/nicktill/queuetrends/pkg/reading"
	"github.com/nicktill/queuetrends/pkg/telemetry"
)

var (
	// ErrInvalidRange is returned when end is before start or the window is
	// too long.
	ErrInvalidRange = errors.New("invalid time range")

	// ErrInvalidRequest marks a missing or malformed argument.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNoSource is returned when an operation needs an upstream the
	// engine was built without.
	ErrNoSource = errors.New("data source not configured")
)

// Options configures an Engine. Directory and Source are required.
type Options struct {
	Directory   *directory.Directory
	Source      telemetry.Source
	Latest      telemetry.LatestSource
	Hourly      telemetry.HourlySource
	Policy      policy.Policy
	Location    *time.Location
	Concurrency int
	Now         func() time.Time
}

// Engine is safe for concurrent use; it holds no per-request state.
type Engine struct {
	dir         *directory.Directory
	source      telemetry.Source
	latest      telemetry.LatestSource
	hourly      telemetry.HourlySource
	policy      policy.Policy
	loc         *time.Location
	concurrency int
	now         func() time.Time
}

// New creates an engine.
func New(opts Options) (*Engine, error) {
	if opts.Directory == nil {
		return nil, fmt.Errorf("analytics: directory is required")
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("analytics: reading source is required")
	}
	if opts.Policy.Version == "" {
		opts.Policy = policy.Default()
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = config.DefaultFetchConcurrency
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		dir:         opts.Directory,
		source:      opts.Source,
		latest:      opts.Latest,
		hourly:      opts.Hourly,
		policy:      opts.Policy,
		loc:         opts.Location,
		concurrency: opts.Concurrency,
		now:         opts.Now,
	}, nil
}

// Policy returns the metric policy the engine extracts values with.
func (e *Engine) Policy() policy.Policy { return e.policy }

// Directory returns the membership the engine resolves counters with.
func (e *Engine) Directory() *directory.Directory { return e.dir }

// CounterInfo identifies the counter a response is about.
type CounterInfo struct {
	CounterCode string `json:"counterCode"`
	CounterName string `json:"counterName"`
	CounterType string `json:"counterType,omitempty"`
}

func infoOf(c directory.Counter) CounterInfo {
	return CounterInfo{CounterCode: c.Code, CounterName: c.Name, CounterType: c.Type}
}

func checkRange(start, end time.Time) error {
	if end.Before(start) {
		return fmt.Errorf("%w: end %s is before start %s", ErrInvalidRange,
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	if end.Sub(start) > config.MaxQueryWindow {
		return fmt.Errorf("%w: window longer than %v", ErrInvalidRange, config.MaxQueryWindow)
	}
	return nil
}

func (e *Engine) startOfDay(t time.Time) time.Time {
	t = t.In(e.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, e.loc)
}

// scope is one resolved counter with the readings of its devices.
type scope struct {
	counter  directory.Counter
	devices  []directory.Device
	ids      []string
	readings []reading.Reading
	failed   []string
}

func (s scope) samples(p policy.Policy) []aggregate.Sample {
	return aggregate.Samples(s.readings, p)
}

// resolve looks up a counter and fetches every member device over
// [from, to]. Only a failed lookup is returned as an error.
func (e *Engine) resolve(ctx context.Context, code string, from, to time.Time) (scope, error) {
	c, err := e.dir.Counter(code)
	if err != nil {
		return scope{}, err
	}
	devices, err := e.dir.Devices(code)
	if err != nil {
		return scope{}, err
	}
	s := scope{counter: c, devices: devices, ids: make([]string, len(devices))}
	for i, d := range devices {
		s.ids[i] = d.ID
	}
	if len(s.ids) == 0 {
		log.Printf("Counter %s has no devices", c.Code)
		return s, nil
	}
	s.readings, s.failed = e.fetch(ctx, s.ids, from, to)
	return s, nil
}

func (e *Engine) fetch(ctx context.Context, ids []string, from, to time.Time) ([]reading.Reading, []string) {
	res := telemetry.FanOut(ctx, e.source, ids, from, to, e.concurrency)
	failed := res.FailedIDs(ids)
	if len(failed) > 0 {
		log.Printf("Fetched %d of %d devices (%d failed)", len(ids)-len(failed), len(ids), len(failed))
	}
	readings := res.Merged(ids)
	// hour-of-day and calendar keys are taken in the configured zone
	for i := range readings {
		readings[i].Timestamp = readings[i].Timestamp.In(e.loc)
	}
	return readings, failed
}
