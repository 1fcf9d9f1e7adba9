// Package telemetry consumes the external telemetry API: per-device
// readings, recent readings and pre-aggregated hourly rows.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nicktill/queuetrends/pkg/config"
	"github.com/nicktill/queuetrends/pkg/reading"
)

// ErrUnavailable wraps transport failures and non-2xx responses.
var ErrUnavailable = errors.New("telemetry upstream unavailable")

// localLayout is how the upstream expects zone-less query timestamps.
const localLayout = "2006-01-02T15:04:05"

// ClientOptions configures a Client.
type ClientOptions struct {
	BaseURL  string
	Timeout  time.Duration
	Location *time.Location
	Breaker  BreakerConfig
	// UseRange fetches with /device/{id}/range instead of filtering the
	// full /device/{id} history locally.
	UseRange   bool
	HTTPClient *http.Client
}

// Client talks to the telemetry API.
type Client struct {
	baseURL  string
	http     *http.Client
	loc      *time.Location
	useRange bool
	breakers *breakers
}

// NewClient creates a telemetry client.
func NewClient(opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = config.DefaultTelemetryTimeout
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Breaker.MaxFailures <= 0 {
		opts.Breaker.MaxFailures = config.DefaultBreakerFailures
	}
	if opts.Breaker.ResetTimeout <= 0 {
		opts.Breaker.ResetTimeout = config.DefaultBreakerReset
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		http:     httpClient,
		loc:      opts.Location,
		useRange: opts.UseRange,
		breakers: newBreakers(opts.Breaker),
	}
}

// Fetch implements Source. Calls for one device share a circuit breaker.
func (c *Client) Fetch(ctx context.Context, deviceID string, from, to time.Time) ([]reading.Reading, error) {
	var out []reading.Reading
	err := c.breakers.get(deviceID).Execute(ctx, func(ctx context.Context) error {
		var err error
		if c.useRange {
			out, err = c.RangeReadings(ctx, deviceID, from, to)
			return err
		}
		all, err := c.DeviceReadings(ctx, deviceID)
		if err != nil {
			return err
		}
		out = within(all, from, to)
		return nil
	})
	return out, err
}

func within(readings []reading.Reading, from, to time.Time) []reading.Reading {
	out := readings[:0:0]
	for _, r := range readings {
		if r.Timestamp.Before(from) || r.Timestamp.After(to) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Latest returns the device's latest reading. A status-only marker means
// the device has nothing to report and yields false.
func (c *Client) Latest(ctx context.Context, deviceID string) (reading.Reading, bool, error) {
	var raw map[string]any
	if err := c.getJSON(ctx, "latest", "/device/"+url.PathEscape(deviceID)+"/latest", nil, &raw); err != nil {
		return reading.Reading{}, false, err
	}
	if len(raw) == 0 {
		return reading.Reading{}, false, nil
	}
	if _, hasTS := raw["timestamp"]; !hasTS {
		return reading.Reading{}, false, nil
	}
	readings, _ := c.decodeForDevice([]map[string]any{raw}, deviceID)
	if len(readings) == 0 {
		return reading.Reading{}, false, nil
	}
	return readings[0], true, nil
}

// DeviceReadings returns every reading the upstream holds for a device.
func (c *Client) DeviceReadings(ctx context.Context, deviceID string) ([]reading.Reading, error) {
	var env envelope
	if err := c.getJSON(ctx, "device", "/device/"+url.PathEscape(deviceID), nil, &env); err != nil {
		return nil, err
	}
	if env.Status != "" && !strings.EqualFold(env.Status, "success") {
		return nil, fmt.Errorf("%w: device %s status %q", ErrUnavailable, deviceID, env.Status)
	}
	out, _ := c.decodeForDevice(env.Data, deviceID)
	return out, nil
}

// RangeReadings returns a device's readings between from and to.
func (c *Client) RangeReadings(ctx context.Context, deviceID string, from, to time.Time) ([]reading.Reading, error) {
	q := url.Values{}
	q.Set("startTime", from.In(c.loc).Format(localLayout))
	q.Set("endTime", to.In(c.loc).Format(localLayout))

	var raws []map[string]any
	if err := c.getJSON(ctx, "range", "/device/"+url.PathEscape(deviceID)+"/range", q, &raws); err != nil {
		return nil, err
	}
	out, _ := c.decodeForDevice(raws, deviceID)
	return out, nil
}

// Recent returns the latest readings across all devices.
func (c *Client) Recent(ctx context.Context, limit int) ([]reading.Reading, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var env recentEnvelope
	if err := c.getJSON(ctx, "recent", "/recent", q, &env); err != nil {
		return nil, err
	}
	out, stats := reading.DecodeAll(env.Data, c.loc)
	record(stats)
	return out, nil
}

// HourlyAggregates returns the hourly rows of one day.
func (c *Client) HourlyAggregates(ctx context.Context, date time.Time) ([]HourlyAggregate, error) {
	q := url.Values{}
	q.Set("date", date.In(c.loc).Format("2006-01-02"))
	return c.hourly(ctx, q)
}

// HourlyAggregatesRange returns hourly rows between from and to. A range
// starting at local midnight and ending the same day is read with the
// per-day query.
func (c *Client) HourlyAggregatesRange(ctx context.Context, from, to time.Time) ([]HourlyAggregate, error) {
	if start, end := from.In(c.loc), to.In(c.loc); isMidnight(start) && sameDay(start, end) {
		rows, err := c.HourlyAggregates(ctx, start)
		if err != nil {
			return nil, err
		}
		out := rows[:0]
		for _, row := range rows {
			if !row.PeriodStart.Before(from) && !row.PeriodStart.After(to) {
				out = append(out, row)
			}
		}
		return out, nil
	}

	q := url.Values{}
	q.Set("from", from.In(c.loc).Format(localLayout))
	q.Set("to", to.In(c.loc).Format(localLayout))
	return c.hourly(ctx, q)
}

func isMidnight(t time.Time) bool {
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func (c *Client) hourly(ctx context.Context, q url.Values) ([]HourlyAggregate, error) {
	var body json.RawMessage
	if err := c.getJSON(ctx, "hourly", "/aggregate/hourly", q, &body); err != nil {
		return nil, err
	}

	var rows []HourlyAggregate
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '{' {
		var env struct {
			Data []HourlyAggregate `json:"data"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("failed to decode hourly aggregates: %w", err)
		}
		rows = env.Data
	} else if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode hourly aggregates: %w", err)
	}

	out := rows[:0]
	for _, row := range rows {
		ts, err := reading.ParseTimestamp(row.RawPeriodStart, c.loc)
		if err != nil {
			continue
		}
		row.PeriodStart = ts
		out = append(out, row)
	}
	return out, nil
}

func (c *Client) decodeForDevice(raws []map[string]any, deviceID string) ([]reading.Reading, reading.DecodeStats) {
	out, stats := reading.DecodeAllForDevice(raws, deviceID, c.loc)
	record(stats)
	return out, stats
}

func record(stats reading.DecodeStats) {
	readingsDecoded.Add(float64(stats.Decoded))
	readingsDropped.Add(float64(stats.Dropped))
}

func (c *Client) getJSON(ctx context.Context, endpoint, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	upstreamDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		upstreamRequests.WithLabelValues(endpoint, "error").Inc()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		upstreamRequests.WithLabelValues(endpoint, "status_"+strconv.Itoa(resp.StatusCode)).Inc()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s returned %d", ErrUnavailable, path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		upstreamRequests.WithLabelValues(endpoint, "bad_body").Inc()
		return fmt.Errorf("%w: failed to decode %s: %v", ErrUnavailable, path, err)
	}
	upstreamRequests.WithLabelValues(endpoint, "ok").Inc()
	return nil
}
