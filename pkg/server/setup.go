package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/nicktill/queuetrends/pkg/analytics"
	"github.com/nicktill/queuetrends/pkg/config"
	"github.com/nicktill/queuetrends/pkg/directory"
	"github.com/nicktill/queuetrends/pkg/live"
	"github.com/nicktill/queuetrends/pkg/policy"
	"github.com/nicktill/queuetrends/pkg/storage"
	"github.com/nicktill/queuetrends/pkg/storage/badger"
	"github.com/nicktill/queuetrends/pkg/storage/memory"
	"github.com/nicktill/queuetrends/pkg/telemetry"
)

// InitializeArchive opens the reading archive selected by cfg.Archive. It
// returns nil for "none".
func InitializeArchive(cfg *config.Config) (storage.Store, error) {
	switch cfg.Archive {
	case "memory":
		log.Println("Reading archive: in-memory")
		return memory.New(), nil
	case "badger":
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		log.Printf("Initializing BadgerDB archive at %s...", cfg.DataDir)
		store, err := badger.New(badger.Config{
			Path:        cfg.DataDir,
			MaxMemoryMB: cfg.MaxMemoryMB,
		})
		if err != nil {
			return nil, err
		}
		log.Println("BadgerDB archive initialized successfully")
		return store, nil
	default:
		log.Println("Reading archive disabled")
		return nil, nil
	}
}

// LoadDirectory reads counter and device master data, preferring the sqlite
// database when both sources are configured.
func LoadDirectory(ctx context.Context, cfg *config.Config) (*directory.Directory, error) {
	if cfg.DirectoryDB != "" {
		db, err := directory.OpenSQLite(ctx, cfg.DirectoryDB)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		dir, err := directory.LoadSQL(ctx, db)
		if err != nil {
			return nil, err
		}
		log.Printf("Loaded %d counters from %s", len(dir.Counters()), cfg.DirectoryDB)
		return dir, nil
	}

	dir, err := directory.LoadJSON(cfg.DirectoryFile)
	if err != nil {
		return nil, err
	}
	log.Printf("Loaded %d counters from %s", len(dir.Counters()), cfg.DirectoryFile)
	return dir, nil
}

// InitializeTelemetry creates the upstream client.
func InitializeTelemetry(cfg *config.Config) *telemetry.Client {
	return telemetry.NewClient(telemetry.ClientOptions{
		BaseURL:  cfg.TelemetryBaseURL,
		Timeout:  cfg.TelemetryTimeout,
		Location: cfg.Location,
		UseRange: cfg.TelemetryUseRange,
		Breaker: telemetry.BreakerConfig{
			MaxFailures:  cfg.BreakerFailures,
			ResetTimeout: cfg.BreakerReset,
		},
	})
}

// InitializePolicy resolves the configured policy version and merge mode.
func InitializePolicy(cfg *config.Config) (policy.Policy, error) {
	p, err := policy.Lookup(cfg.PolicyVersion)
	if err != nil {
		return policy.Policy{}, err
	}
	if cfg.MergeMode != "" {
		mode, err := policy.ParseMergeMode(cfg.MergeMode)
		if err != nil {
			return policy.Policy{}, err
		}
		p = p.WithMerge(mode)
	}
	return p, nil
}

// InitializeEngine wires the analytics engine. Range reads come from the
// archive when cfg.ReadingSource is "archive"; live status and hourly
// aggregates always come from the upstream.
func InitializeEngine(cfg *config.Config, dir *directory.Directory, client *telemetry.Client, archive storage.Store) (*analytics.Engine, error) {
	p, err := InitializePolicy(cfg)
	if err != nil {
		return nil, err
	}

	var src telemetry.Source = client
	if cfg.ReadingSource == "archive" {
		if archive == nil {
			return nil, fmt.Errorf("archive reading source selected but no archive is configured")
		}
		src = storage.NewSource(archive)
	}

	engine, err := analytics.New(analytics.Options{
		Directory:   dir,
		Source:      src,
		Latest:      client,
		Hourly:      client,
		Policy:      p,
		Location:    cfg.Location,
		Concurrency: cfg.FetchConcurrency,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("Analytics engine ready (policy %s, merge %s, source %s, zone %s)", p.Version, p.Merge, cfg.ReadingSource, cfg.Location)
	return engine, nil
}

// InitializePublishers fans readings out to the websocket hub and to the
// MQTT and Kafka brokers when configured. The returned closers must be
// closed on shutdown.
func InitializePublishers(cfg *config.Config, hub *live.Hub) (live.Publisher, []io.Closer, error) {
	pubs := live.Multi{hub}
	var closers []io.Closer

	if cfg.MQTTBroker != "" {
		mq, err := live.NewMQTTPublisher(cfg.MQTTBroker, cfg.MQTTTopicRoot)
		if err != nil {
			return nil, nil, err
		}
		pubs = append(pubs, mq)
		closers = append(closers, mq)
		log.Printf("Publishing readings to MQTT broker %s under %s/", cfg.MQTTBroker, cfg.MQTTTopicRoot)
	}

	if len(cfg.KafkaBrokers) > 0 {
		kp := live.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		pubs = append(pubs, kp)
		closers = append(closers, kp)
		log.Printf("Publishing readings to Kafka topic %s", cfg.KafkaTopic)
	}

	log.Printf("Live publishers: %s", pubs.Name())
	return pubs, closers, nil
}
