package live

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nicktill/queuetrends/pkg/config"
	"github.com/nicktill/queuetrends/pkg/reading"
	"github.com/nicktill/queuetrends/pkg/storage"
)

var (
	pollRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queuetrends_poller_runs_total",
		Help: "Poller iterations by outcome",
	}, []string{"outcome"})

	readingsRepublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "queuetrends_poller_readings_published_total",
		Help: "New readings handed to publishers",
	})

	publishErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "queuetrends_poller_publish_errors_total",
		Help: "Readings at least one publisher failed to deliver",
	})

	registerOnce sync.Once
)

func init() {
	RegisterMetrics(prometheus.DefaultRegisterer)
}

// RegisterMetrics registers the poller collectors once.
func RegisterMetrics(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(pollRuns, readingsRepublished, publishErrors)
	})
}

// RecentSource returns the latest readings across every device.
type RecentSource interface {
	Recent(ctx context.Context, limit int) ([]reading.Reading, error)
}

// Observer is told how each poll went.
type Observer interface {
	RecordSuccess()
	RecordFailure(err error)
}

// PollerConfig configures a Poller. Store and Observer are optional.
type PollerConfig struct {
	Interval  time.Duration
	Limit     int
	Store     storage.Store
	Publisher Publisher
	Observer  Observer
}

type seenKey struct {
	device string
	ts     int64
}

// Poller fetches recent readings on a fixed interval, archives the new ones
// and hands them to the publisher.
type Poller struct {
	src RecentSource
	cfg PollerConfig

	// readings of the previous batch, so a reading is published once
	last map[seenKey]bool

	consecutiveErrors int
	lastErrorLog      time.Time
}

// NewPoller creates a poller.
func NewPoller(src RecentSource, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = config.DefaultPollInterval
	}
	if cfg.Limit <= 0 {
		cfg.Limit = config.DefaultPollLimit
	}
	return &Poller{src: src, cfg: cfg, last: make(map[seenKey]bool)}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	log.Printf("Poller started (every %v, limit %d)", p.cfg.Interval, p.cfg.Limit)
	for {
		p.tick(ctx)
		select {
		case <-ctx.Done():
			log.Println("Stopping poller")
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	if _, err := p.Poll(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		p.consecutiveErrors++
		pollRuns.WithLabelValues("error").Inc()
		if p.cfg.Observer != nil {
			p.cfg.Observer.RecordFailure(err)
		}

		// 1s, 2s, 4s ... capped at 5m between log lines
		const maxBackoff = 5 * time.Minute
		backoff := time.Duration(1<<uint(min(p.consecutiveErrors-1, 8))) * time.Second
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		now := time.Now()
		if p.lastErrorLog.IsZero() || now.Sub(p.lastErrorLog) >= backoff {
			log.Printf("Failed to poll recent readings (error #%d, backoff %v): %v", p.consecutiveErrors, backoff, err)
			p.lastErrorLog = now
		}
		return
	}

	if p.consecutiveErrors > 0 {
		log.Printf("Poller recovered after %d errors", p.consecutiveErrors)
		p.consecutiveErrors = 0
	}
	pollRuns.WithLabelValues("ok").Inc()
	if p.cfg.Observer != nil {
		p.cfg.Observer.RecordSuccess()
	}
}

// Poll runs one iteration and returns how many new readings were published.
// Archive and publish failures are logged per reading; only a failed fetch
// is returned.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	batch, err := p.src.Recent(ctx, p.cfg.Limit)
	if err != nil {
		return 0, err
	}

	current := make(map[seenKey]bool, len(batch))
	fresh := make([]reading.Reading, 0, len(batch))
	for _, r := range batch {
		k := seenKey{r.DeviceID, r.Timestamp.UnixNano()}
		if current[k] {
			continue
		}
		current[k] = true
		if !p.last[k] {
			fresh = append(fresh, r)
		}
	}
	p.last = current

	if len(fresh) == 0 {
		return 0, nil
	}

	if p.cfg.Store != nil {
		if err := p.cfg.Store.Write(ctx, fresh); err != nil {
			log.Printf("Failed to archive %d readings: %v", len(fresh), err)
		}
	}

	published := 0
	if p.cfg.Publisher != nil {
		for _, r := range fresh {
			if err := p.cfg.Publisher.Publish(ctx, r); err != nil {
				publishErrors.Inc()
				log.Printf("Failed to publish reading from %s: %v", r.DeviceID, err)
				continue
			}
			published++
		}
	} else {
		published = len(fresh)
	}
	readingsRepublished.Add(float64(published))
	return published, nil
}
