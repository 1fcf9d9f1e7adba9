package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/gorilla/mux"

	"github.com/nicktill/queuetrends/pkg/analytics"
	"github.com/nicktill/queuetrends/pkg/config"
	"github.com/nicktill/queuetrends/pkg/live"
	"github.com/nicktill/queuetrends/pkg/server"
	"github.com/nicktill/queuetrends/pkg/server/monitor"
)

const directoryJSON = `{
  "counters": [
    {"code": "PIZZA", "name": "Pizza Counter", "active": true},
    {"code": "SALAD", "name": "Salad Bar", "active": true}
  ],
  "devices": [
    {"id": "dev-a", "counterCode": "PIZZA", "locationCode": "L1"},
    {"id": "dev-b", "counterCode": "PIZZA", "locationCode": "L1"},
    {"id": "dev-c", "counterCode": "SALAD", "locationCode": "L2"}
  ]
}`

var upstreamReadings = map[string][]map[string]any{
	"dev-a": {
		{"deviceId": "dev-a", "timestamp": "2024-03-04T12:02:00", "inCount": 5, "counterName": "pizza"},
		{"deviceId": "dev-a", "timestamp": "2024-03-04T12:10:00", "inCount": 7, "counterName": "pizza"},
	},
	"dev-b": {
		{"deviceId": "dev-b", "timestamp": "2024-03-04T12:05:00", "inCount": 3, "counterName": "pizza"},
	},
	"dev-c": {
		{"deviceId": "dev-c", "timestamp": "2024-03-04T12:00:00", "inCount": 2, "counterName": "salad"},
	},
}

// rangeRequests counts hits on the per-device range endpoint.
var rangeRequests atomic.Int32

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// fakeUpstream serves the telemetry API the client expects.
func fakeUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	r := mux.NewRouter()
	r.HandleFunc("/device/{id}/latest", func(w http.ResponseWriter, req *http.Request) {
		rows := upstreamReadings[mux.Vars(req)["id"]]
		if len(rows) == 0 {
			writeJSON(w, map[string]any{"status": "no_data"})
			return
		}
		latest := map[string]any{"occupancy": 2}
		for k, v := range rows[len(rows)-1] {
			latest[k] = v
		}
		writeJSON(w, latest)
	})
	r.HandleFunc("/device/{id}/range", func(w http.ResponseWriter, req *http.Request) {
		rangeRequests.Add(1)
		if req.URL.Query().Get("startTime") == "" || req.URL.Query().Get("endTime") == "" {
			http.Error(w, "startTime and endTime are required", http.StatusBadRequest)
			return
		}
		rows := upstreamReadings[mux.Vars(req)["id"]]
		if rows == nil {
			rows = []map[string]any{}
		}
		writeJSON(w, rows)
	})
	r.HandleFunc("/device/{id}", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]any{"status": "success", "data": upstreamReadings[mux.Vars(req)["id"]]})
	})
	r.HandleFunc("/recent", func(w http.ResponseWriter, req *http.Request) {
		var all []map[string]any
		for _, id := range []string{"dev-a", "dev-b", "dev-c"} {
			all = append(all, upstreamReadings[id]...)
		}
		writeJSON(w, map[string]any{"data": all, "count": len(all)})
	})
	r.HandleFunc("/aggregate/hourly", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, []map[string]any{
			{"counterName": "pizza", "totalCount": 15, "periodStart": "2024-03-04T12:00:00"},
			{"counterName": "salad", "totalCount": 2, "periodStart": "2024-03-04T12:00:00"},
		})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func loadConfig(t *testing.T, upstream string, env map[string]string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "directory.json")
	if err := os.WriteFile(path, []byte(directoryJSON), 0644); err != nil {
		t.Fatalf("Failed to write directory: %v", err)
	}
	t.Setenv("QT_DIRECTORY_FILE", path)
	t.Setenv("QT_DIRECTORY_DB", "")
	t.Setenv("QT_TELEMETRY_BASE_URL", upstream)
	for k, v := range env {
		t.Setenv(k, v)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load failed: %v", err)
	}
	return cfg
}

func setupRouter(t *testing.T, cfg *config.Config) (*mux.Router, *live.Poller) {
	t.Helper()
	ctx := context.Background()

	dir, err := server.LoadDirectory(ctx, cfg)
	if err != nil {
		t.Fatalf("LoadDirectory failed: %v", err)
	}
	archive, err := server.InitializeArchive(cfg)
	if err != nil {
		t.Fatalf("InitializeArchive failed: %v", err)
	}
	if archive != nil {
		t.Cleanup(func() { archive.Close() })
	}

	client := server.InitializeTelemetry(cfg)
	engine, err := server.InitializeEngine(cfg, dir, client, archive)
	if err != nil {
		t.Fatalf("InitializeEngine failed: %v", err)
	}

	hub := live.NewHub()
	publisher, _, err := server.InitializePublishers(cfg, hub)
	if err != nil {
		t.Fatalf("InitializePublishers failed: %v", err)
	}
	pollMonitor := monitor.NewTaskMonitor("poller", 0)
	poller := live.NewPoller(client, live.PollerConfig{Store: archive, Publisher: publisher, Observer: pollMonitor})

	router := mux.NewRouter()
	server.SetupRoutes(router, server.NewHandler(server.HandlerConfig{
		Engine:   engine,
		Location: cfg.Location,
		Hub:      hub,
		Archive:  archive,
		Tasks:    []*monitor.TaskMonitor{pollMonitor},
	}), cfg.Port)
	return router, poller
}

func get(t *testing.T, router *mux.Router, target string, out any) {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET %s returned %d: %s", target, w.Code, w.Body.String())
	}
	if err := json.NewDecoder(w.Body).Decode(out); err != nil {
		t.Fatalf("Failed to decode %s: %v", target, err)
	}
}

const noonWindow = "startTime=2024-03-04T12:00:00&endTime=2024-03-04T13:00:00"

// TestE2E_TrendsFromUpstream runs a trends request against the telemetry API.
func TestE2E_TrendsFromUpstream(t *testing.T) {
	cfg := loadConfig(t, fakeUpstream(t).URL, nil)
	router, _ := setupRouter(t, cfg)

	var trends analytics.QueueTrends
	get(t, router, "/v1/counters/pizza/trends?interval=15min&"+noonWindow, &trends)

	if len(trends.Trends) != 1 {
		t.Fatalf("Expected 1 trend point, got %d", len(trends.Trends))
	}
	if got := trends.Trends[0].CumulativeTotal; got != 10 {
		t.Errorf("Expected cumulative total 10 (latest per device), got %v", got)
	}
	if len(trends.FailedDevices) != 0 {
		t.Errorf("Expected no failed devices, got %v", trends.FailedDevices)
	}
}

// TestE2E_RangeEndpoint fetches readings through /device/{id}/range when
// QT_TELEMETRY_USE_RANGE is set.
func TestE2E_RangeEndpoint(t *testing.T) {
	cfg := loadConfig(t, fakeUpstream(t).URL, map[string]string{"QT_TELEMETRY_USE_RANGE": "true"})
	router, _ := setupRouter(t, cfg)
	before := rangeRequests.Load()

	var trends analytics.QueueTrends
	get(t, router, "/v1/counters/pizza/trends?interval=15min&"+noonWindow, &trends)

	if got := rangeRequests.Load() - before; got != 2 {
		t.Errorf("Expected 2 range requests (one per pizza device), got %d", got)
	}
	if len(trends.Trends) != 1 || trends.Trends[0].CumulativeTotal != 10 {
		t.Fatalf("Expected one point with total 10, got %+v", trends.Trends)
	}
}

// TestE2E_SumMerge checks the merge mode from the environment reaches the engine.
func TestE2E_SumMerge(t *testing.T) {
	cfg := loadConfig(t, fakeUpstream(t).URL, map[string]string{"QT_MERGE_MODE": "sum"})
	router, _ := setupRouter(t, cfg)

	var trends analytics.QueueTrends
	get(t, router, "/v1/counters/pizza/trends?interval=15min&"+noonWindow, &trends)

	if len(trends.Trends) != 1 || trends.Trends[0].CumulativeTotal != 15 {
		t.Fatalf("Expected one point with total 15, got %+v", trends.Trends)
	}
}

// TestE2E_LiveAndPeriodTrends covers the upstream-only views.
func TestE2E_LiveAndPeriodTrends(t *testing.T) {
	cfg := loadConfig(t, fakeUpstream(t).URL, nil)
	router, _ := setupRouter(t, cfg)

	var status analytics.Live
	get(t, router, "/v1/live-status?counterCodes=PIZZA", &status)
	if status.CounterCount != 1 {
		t.Fatalf("Expected 1 counter, got %d", status.CounterCount)
	}
	if got := status.Counters[0].Occupancy; got != 4 {
		t.Errorf("Expected occupancy 4, got %v", got)
	}
	if got := status.Counters[0].EstimatedWaitTime; got != 10 {
		t.Errorf("Expected estimated wait 10, got %v", got)
	}

	var periods analytics.PeriodReport
	get(t, router, "/v1/counters/PIZZA/period-trends?periodType=daily&startDate=2024-03-01&endDate=2024-03-07", &periods)
	if len(periods.Periods) != 1 {
		t.Fatalf("Expected 1 period, got %d", len(periods.Periods))
	}
	if got := periods.Periods[0].TotalCount; got != 15 {
		t.Errorf("Expected period total 15, got %v", got)
	}
}

// TestE2E_PollIntoBadgerArchive polls the upstream into a badger archive
// and serves analytics from it.
func TestE2E_PollIntoBadgerArchive(t *testing.T) {
	cfg := loadConfig(t, fakeUpstream(t).URL, map[string]string{
		"QT_ARCHIVE":        "badger",
		"QT_DATA_DIR":       t.TempDir(),
		"QT_READING_SOURCE": "archive",
	})
	router, poller := setupRouter(t, cfg)

	published, err := poller.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if published != 4 {
		t.Errorf("Expected 4 readings published, got %d", published)
	}

	var archive server.ArchiveResponse
	get(t, router, "/v1/archive", &archive)
	if !archive.Enabled || archive.Stats == nil || archive.Stats.TotalReadings != 4 {
		t.Fatalf("Expected 4 archived readings, got %+v", archive)
	}

	var trends analytics.QueueTrends
	get(t, router, "/v1/counters/pizza/trends?interval=15min&"+noonWindow, &trends)
	if len(trends.Trends) != 1 || trends.Trends[0].CumulativeTotal != 10 {
		t.Fatalf("Expected one point with total 10 from the archive, got %+v", trends.Trends)
	}
}
