package telemetry

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// ErrBreakerOpen is returned without calling upstream while a device's
// breaker is open.
var ErrBreakerOpen = errors.New("circuit breaker is open; fast-fail")

// BreakerState is the state of a Breaker.
type BreakerState int

const (
	Closed BreakerState = iota
	Open
	HalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	MaxFailures  int
	ResetTimeout time.Duration
}

// Breaker opens after MaxFailures consecutive failures and lets a single
// trial call through once ResetTimeout has passed.
type Breaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 1
	}
	return &Breaker{name: name, cfg: cfg, now: time.Now}
}

// Execute runs op unless the breaker is open.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.state = HalfOpen
	case HalfOpen:
		// A trial call is already in flight.
		b.mu.Unlock()
		return ErrBreakerOpen
	}
	b.mu.Unlock()

	err := op(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		if b.state != Closed {
			log.Printf("Breaker %s closed after successful trial", b.name)
		}
		b.state = Closed
		b.failures = 0
		return nil
	}
	// Cancellation by the caller says nothing about upstream health.
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		if b.state == HalfOpen {
			b.state = Open
		}
		return err
	}

	b.failures++
	if b.state == HalfOpen || b.failures >= b.cfg.MaxFailures {
		if b.state != Open {
			log.Printf("Breaker %s opened after %d consecutive failures", b.name, b.failures)
		}
		b.state = Open
		b.openedAt = b.now()
	}
	return err
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// breakers lazily creates one Breaker per key.
type breakers struct {
	cfg BreakerConfig
	mu  sync.Mutex
	m   map[string]*Breaker
}

func newBreakers(cfg BreakerConfig) *breakers {
	return &breakers{cfg: cfg, m: make(map[string]*Breaker)}
}

func (s *breakers) get(key string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.m[key]
	if !ok {
		b = NewBreaker("device:"+key, s.cfg)
		s.m[key] = b
	}
	return b
}
