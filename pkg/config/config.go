package config

import "time"

// Server defaults
const (
	DefaultPort         = "8080"
	DefaultMaxMemoryMB  = 48
	DefaultMaxStorageMB = 1024
	DefaultDataDir      = "./data/queuetrends"
)

// Telemetry upstream
const (
	DefaultTelemetryBaseURL = "http://localhost:5000/api"
	DefaultTelemetryTimeout = 10 * time.Second
	DefaultFetchConcurrency = 8
	DefaultBreakerFailures  = 5
	DefaultBreakerReset     = 30 * time.Second
)

// Aggregation defaults
const (
	DefaultPolicyVersion   = "v1"
	DefaultIntervalMinutes = 60
	DefaultTrendMinSamples = 10
	DefaultPeakHours       = 3
	DefaultTimezone        = "UTC"

	// AcceptableWaitMinutes is the service level target for a single wait reading.
	AcceptableWaitMinutes = 5.0

	// MinutesPerQueuedPerson converts live occupancy into an estimated wait.
	MinutesPerQueuedPerson = 2.5
)

// Request timeouts
const (
	AnalyticsTimeout = 60 * time.Second
	LiveTimeout      = 15 * time.Second
	MaxQueryWindow   = 400 * 24 * time.Hour
)

// Poller and archive
const (
	DefaultPollInterval  = 2 * time.Second
	DefaultPollLimit     = 10
	DefaultRetention     = 7 * 24 * time.Hour
	RetentionInterval    = 1 * time.Hour
	BadgerGCInterval     = 10 * time.Minute
	DefaultMQTTTopicRoot = "queuetrends"
	DefaultKafkaTopic    = "queuetrends.readings"
	PublishTimeout       = 5 * time.Second
	MQTTConnectTimeout   = 10 * time.Second
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)
