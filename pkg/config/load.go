package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds runtime configuration for the server.
type Config struct {
	Port string

	TelemetryBaseURL  string
	TelemetryTimeout  time.Duration
	TelemetryUseRange bool // fetch via /device/{id}/range
	FetchConcurrency  int
	BreakerFailures   int
	BreakerReset      time.Duration

	PolicyVersion string
	MergeMode     string
	Location      *time.Location

	DirectoryFile string
	DirectoryDB   string

	// ReadingSource is telemetry or archive. The archive serves analytics
	// from readings the poller stored.
	ReadingSource string

	Archive      string // none, memory or badger
	DataDir      string
	MaxMemoryMB  int64
	MaxStorageMB int64
	Retention    time.Duration

	PollEnabled  bool
	PollInterval time.Duration
	PollLimit    int

	MQTTBroker    string
	MQTTTopicRoot string
	KafkaBrokers  []string
	KafkaTopic    string
}

// Load reads an optional .env file and then the QT_* environment variables.
func Load() (*Config, error) {
	for _, path := range []string{".env", ".env.local"} {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				log.Printf("Failed to load %s: %v", path, err)
			}
			break
		}
	}

	tz := getEnvString("QT_TIMEZONE", DefaultTimezone)
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid QT_TIMEZONE %q: %w", tz, err)
	}

	cfg := &Config{
		Port:              getEnvString("QT_PORT", getEnvString("PORT", DefaultPort)),
		TelemetryBaseURL:  strings.TrimRight(getEnvString("QT_TELEMETRY_BASE_URL", DefaultTelemetryBaseURL), "/"),
		TelemetryTimeout:  getEnvDuration("QT_TELEMETRY_TIMEOUT", DefaultTelemetryTimeout),
		TelemetryUseRange: getEnvBool("QT_TELEMETRY_USE_RANGE", false),
		FetchConcurrency:  int(getEnvInt64("QT_FETCH_CONCURRENCY", DefaultFetchConcurrency)),
		BreakerFailures:   int(getEnvInt64("QT_BREAKER_MAX_FAILURES", DefaultBreakerFailures)),
		BreakerReset:      getEnvDuration("QT_BREAKER_RESET", DefaultBreakerReset),
		PolicyVersion:     getEnvString("QT_POLICY", DefaultPolicyVersion),
		MergeMode:         getEnvString("QT_MERGE_MODE", ""),
		Location:          loc,
		DirectoryFile:     getEnvString("QT_DIRECTORY_FILE", ""),
		DirectoryDB:       getEnvString("QT_DIRECTORY_DB", ""),
		ReadingSource:     strings.ToLower(getEnvString("QT_READING_SOURCE", "telemetry")),
		Archive:           strings.ToLower(getEnvString("QT_ARCHIVE", "none")),
		DataDir:           getEnvString("QT_DATA_DIR", DefaultDataDir),
		MaxMemoryMB:       getEnvInt64("QT_MAX_MEMORY_MB", DefaultMaxMemoryMB),
		MaxStorageMB:      getEnvInt64("QT_MAX_STORAGE_MB", DefaultMaxStorageMB),
		Retention:         getEnvDuration("QT_RETENTION", DefaultRetention),
		PollEnabled:       getEnvBool("QT_POLL_ENABLED", false),
		PollInterval:      getEnvDuration("QT_POLL_INTERVAL", DefaultPollInterval),
		PollLimit:         int(getEnvInt64("QT_POLL_LIMIT", DefaultPollLimit)),
		MQTTBroker:        getEnvString("QT_MQTT_BROKER", ""),
		MQTTTopicRoot:     getEnvString("QT_MQTT_TOPIC_PREFIX", DefaultMQTTTopicRoot),
		KafkaBrokers:      splitList(getEnvString("QT_KAFKA_BROKERS", "")),
		KafkaTopic:        getEnvString("QT_KAFKA_TOPIC", DefaultKafkaTopic),
	}

	if cfg.DirectoryFile == "" && cfg.DirectoryDB == "" {
		return nil, fmt.Errorf("one of QT_DIRECTORY_FILE or QT_DIRECTORY_DB is required")
	}

	switch cfg.Archive {
	case "none", "memory", "badger":
	default:
		return nil, fmt.Errorf("invalid QT_ARCHIVE %q (want none, memory or badger)", cfg.Archive)
	}

	switch cfg.ReadingSource {
	case "telemetry":
	case "archive":
		if cfg.Archive == "none" {
			return nil, fmt.Errorf("QT_READING_SOURCE=archive needs QT_ARCHIVE set to memory or badger")
		}
	default:
		return nil, fmt.Errorf("invalid QT_READING_SOURCE %q (want telemetry or archive)", cfg.ReadingSource)
	}

	if cfg.FetchConcurrency < 1 {
		cfg.FetchConcurrency = 1
	}

	return cfg, nil
}

// getEnvString gets a string from environment variable or returns default.
func getEnvString(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// getEnvInt64 gets an int64 from environment variable or returns default.
func getEnvInt64(key string, defaultValue int64) int64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %d", key, val, defaultValue)
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("30s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.ParseInt(val, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	log.Printf("Invalid value for %s: %q, using default %v", key, val, defaultValue)
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %t", key, val, defaultValue)
	}
	return defaultValue
}

func splitList(val string) []string {
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
