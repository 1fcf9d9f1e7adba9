package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/queuetrends/pkg/reading"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func upstream(t *testing.T) *httptest.Server {
	t.Helper()
	r := mux.NewRouter()
	r.HandleFunc("/device/{id}/latest", func(w http.ResponseWriter, req *http.Request) {
		if mux.Vars(req)["id"] == "quiet" {
			writeJSON(w, map[string]any{"status": "no_data"})
			return
		}
		writeJSON(w, map[string]any{"deviceId": mux.Vars(req)["id"], "timestamp": "2024-03-04T10:00:00Z", "occupancy": 3})
	})
	r.HandleFunc("/device/{id}/range", func(w http.ResponseWriter, req *http.Request) {
		require.Equal(t, "2024-03-04T00:00:00", req.URL.Query().Get("startTime"))
		require.Equal(t, "2024-03-04T23:59:59", req.URL.Query().Get("endTime"))
		writeJSON(w, []map[string]any{
			{"timestamp": "2024-03-04T10:00:00", "inCount": 4},
			{"timestamp": "garbage", "inCount": 1},
		})
	})
	r.HandleFunc("/device/{id}", func(w http.ResponseWriter, req *http.Request) {
		switch mux.Vars(req)["id"] {
		case "broken":
			w.WriteHeader(http.StatusBadGateway)
			return
		case "failing":
			writeJSON(w, map[string]any{"status": "error", "data": []any{}})
			return
		}
		writeJSON(w, map[string]any{"status": "success", "data": []map[string]any{
			{"timestamp": "2024-03-03T23:00:00", "inCount": 1},
			{"timestamp": "2024-03-04T10:00:00", "inCount": 5},
			{"timestamp": "2024-03-04T10:05:00", "queueLength": "7"},
			{"inCount": 9},
		}})
	})
	r.HandleFunc("/recent", func(w http.ResponseWriter, req *http.Request) {
		require.Equal(t, "2", req.URL.Query().Get("limit"))
		writeJSON(w, map[string]any{
			"data": []map[string]any{
				{"deviceId": "d1", "timestamp": "2024-03-04T10:00:00Z", "inCount": 2},
				{"timestamp": "2024-03-04T10:00:00Z"},
			},
			"count":     2,
			"timestamp": "2024-03-04T10:00:01Z",
		})
	})
	r.HandleFunc("/aggregate/hourly", func(w http.ResponseWriter, req *http.Request) {
		rows := []map[string]any{
			{"counterName": "PIZZA", "totalCount": 12, "peakQueue": 4, "periodStart": "2024-03-04T10:00:00",
				"peakCongestion": map[string]any{"level": "high", "weight": 0.8}},
			{"counterName": "PIZZA", "totalCount": 3, "periodStart": "not a time"},
		}
		if req.URL.Query().Get("date") != "" {
			writeJSON(w, map[string]any{"data": rows})
			return
		}
		writeJSON(w, rows)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func day() (time.Time, time.Time) {
	from := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	return from, from.Add(24*time.Hour - time.Second)
}

func TestClient_DeviceReadingsAndFetch(t *testing.T) {
	srv := upstream(t)
	c := NewClient(ClientOptions{BaseURL: srv.URL + "/"})
	ctx := context.Background()

	all, err := c.DeviceReadings(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "d1", all[0].DeviceID)

	from, to := day()
	got, err := c.Fetch(ctx, "d1", from, to)
	require.NoError(t, err)
	require.Len(t, got, 2)
	v, ok := reading.Extract(got[1], reading.DefaultFields)
	require.True(t, ok)
	require.Equal(t, 7.0, v)

	_, err = c.DeviceReadings(ctx, "failing")
	require.ErrorIs(t, err, ErrUnavailable)

	_, err = c.Fetch(ctx, "broken", from, to)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_RangeReadings(t *testing.T) {
	srv := upstream(t)
	c := NewClient(ClientOptions{BaseURL: srv.URL, UseRange: true})

	from, to := day()
	got, err := c.Fetch(context.Background(), "d2", from, to)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "d2", got[0].DeviceID)
}

func TestClient_Latest(t *testing.T) {
	srv := upstream(t)
	c := NewClient(ClientOptions{BaseURL: srv.URL})
	ctx := context.Background()

	r, ok, err := c.Latest(ctx, "d1")
	require.NoError(t, err)
	require.True(t, ok)
	occ, _ := reading.Number(r, "occupancy")
	require.Equal(t, 3.0, occ)

	_, ok, err = c.Latest(ctx, "quiet")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestClient_RecentAndHourly(t *testing.T) {
	srv := upstream(t)
	c := NewClient(ClientOptions{BaseURL: srv.URL})
	ctx := context.Background()

	recent, err := c.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	from, to := day()
	rows, err := c.HourlyAggregatesRange(ctx, from.Add(-24*time.Hour), to)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 12.0, rows[0].TotalCount)
	require.True(t, rows[0].PeriodStart.Equal(time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)))
	require.NotNil(t, rows[0].PeakCongestion)
	require.Equal(t, "high", rows[0].PeakCongestion.Level)

	rows, err = c.HourlyAggregates(ctx, from)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestClient_HourlyRangeOfOneDayUsesDateQuery(t *testing.T) {
	var mu sync.Mutex
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		mu.Lock()
		queries = append(queries, req.URL.RawQuery)
		mu.Unlock()
		writeJSON(w, []map[string]any{
			{"counterName": "PIZZA", "totalCount": 4, "periodStart": "2024-03-04T09:00:00"},
			{"counterName": "PIZZA", "totalCount": 6, "periodStart": "2024-03-04T18:00:00"},
		})
	}))
	defer srv.Close()
	c := NewClient(ClientOptions{BaseURL: srv.URL})
	ctx := context.Background()

	from, to := day()
	rows, err := c.HourlyAggregatesRange(ctx, from, to)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	rows, err = c.HourlyAggregatesRange(ctx, from, from.Add(12*time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 4.0, rows[0].TotalCount)

	_, err = c.HourlyAggregatesRange(ctx, from.Add(time.Hour), to)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, queries, 3)
	require.Equal(t, []string{"date=2024-03-04", "date=2024-03-04"}, queries[:2])
	require.Contains(t, queries[2], "from=")
}

func TestBreaker_OpensAndRecovers(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker("test", BreakerConfig{MaxFailures: 2, ResetTimeout: time.Minute})
	b.now = func() time.Time { return clock }

	boom := errors.New("boom")
	var calls int
	fail := func(context.Context) error { calls++; return boom }
	ok := func(context.Context) error { calls++; return nil }
	ctx := context.Background()

	require.ErrorIs(t, b.Execute(ctx, fail), boom)
	require.Equal(t, Closed, b.State())
	require.ErrorIs(t, b.Execute(ctx, fail), boom)
	require.Equal(t, Open, b.State())

	require.ErrorIs(t, b.Execute(ctx, ok), ErrBreakerOpen)
	require.Equal(t, 2, calls)

	clock = clock.Add(2 * time.Minute)
	require.ErrorIs(t, b.Execute(ctx, fail), boom)
	require.Equal(t, Open, b.State())

	clock = clock.Add(2 * time.Minute)
	require.NoError(t, b.Execute(ctx, ok))
	require.Equal(t, Closed, b.State())
	require.Equal(t, 4, calls)
}

func TestBreaker_IgnoresCallerCancel(t *testing.T) {
	b := NewBreaker("test", BreakerConfig{MaxFailures: 1, ResetTimeout: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, Closed, b.State())
}

type fakeSource struct {
	fail     map[string]bool
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeSource) Fetch(ctx context.Context, id string, from, to time.Time) ([]reading.Reading, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	if f.fail[id] {
		return nil, fmt.Errorf("%w: %s down", ErrUnavailable, id)
	}
	return []reading.Reading{{DeviceID: id, Timestamp: from}}, nil
}

func TestFanOut_IsolatesFailures(t *testing.T) {
	src := &fakeSource{fail: map[string]bool{"d2": true}}
	ids := []string{"d3", "d1", "d2", "d4", "d5"}
	from, to := day()

	res := FanOut(context.Background(), src, ids, from, to, 2)
	require.Len(t, res.ByDevice, 4)
	require.Len(t, res.Failed, 1)
	require.ErrorIs(t, res.Failed["d2"], ErrUnavailable)
	require.Equal(t, []string{"d2"}, res.FailedIDs(ids))
	require.LessOrEqual(t, src.peak.Load(), int32(2))

	merged := res.Merged(ids)
	require.Len(t, merged, 4)
	require.Equal(t, "d3", merged[0].DeviceID)
	require.Equal(t, "d5", merged[3].DeviceID)
}
