package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	upstreamRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queuetrends_upstream_requests_total",
		Help: "Telemetry API requests by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	upstreamDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "queuetrends_upstream_request_duration_seconds",
		Help:    "Telemetry API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	readingsDecoded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "queuetrends_readings_decoded_total",
		Help: "Readings that passed validation",
	})

	readingsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "queuetrends_readings_dropped_total",
		Help: "Readings dropped for a missing device id or bad timestamp",
	})

	devicesSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "queuetrends_fanout_devices_skipped_total",
		Help: "Devices excluded from an aggregation because their fetch failed",
	})

	registerOnce sync.Once
)

func init() {
	RegisterMetrics(prometheus.DefaultRegisterer)
}

// RegisterMetrics registers the telemetry collectors once.
func RegisterMetrics(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(upstreamRequests, upstreamDuration, readingsDecoded, readingsDropped, devicesSkipped)
	})
}
