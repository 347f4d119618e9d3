// Package enrichment is the polling-source framework: each source runs an
// independent ticker with its own rate limit, circuit breaker and
// last-good cache, and exposes a non-blocking Current() lookup the joiner
// reads while events pass through.
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	shared "github.com/homepulse/server/pkg"
	"github.com/homepulse/server/pkg/metrics"
	"github.com/homepulse/server/pkg/types"
)

// Fetcher is the single method a concrete source implements: fetch one
// observation from its endpoint. The framework owns scheduling, caching
// and failure handling; adding a source is purely additive.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context) (map[string]any, error)
}

type Config struct {
	Interval time.Duration
	TTL      time.Duration
	MaxStale time.Duration
	Timeout  time.Duration

	RateLimit float64 // tokens per second
	RateBurst int

	BreakerThreshold uint32        // consecutive failures before the circuit opens
	BreakerCooldown  time.Duration // how long the circuit stays open
	RateWait         time.Duration // how long a fetch waits for a rate token
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = shared.DefaultFetchTimeout
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 1
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 1
	}
	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 60 * time.Second
	}
	if c.RateWait <= 0 {
		c.RateWait = 30 * time.Second
	}
}

// snapshot is the source's last-good observation. Replaced wholesale by a
// single atomic swap; readers get copies.
type snapshot struct {
	values    map[string]any
	fetchedAt time.Time
}

// Source wraps a Fetcher with the shared polling contract.
type Source struct {
	fetcher Fetcher
	cfgMu   sync.RWMutex
	cfg     Config
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger

	snap     atomic.Pointer[snapshot]
	failures atomic.Int64
	skipped  atomic.Int64
	inFlight atomic.Bool

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewSource(f Fetcher, cfg Config, logger *slog.Logger) *Source {
	cfg.applyDefaults()
	s := &Source{
		fetcher: f,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		logger:  logger.With("component", "source."+f.Name()),
		done:    make(chan struct{}),
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        f.Name(),
		MaxRequests: 1, // exactly one half-open probe
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("Circuit breaker state changed", "from", from.String(), "to", to.String())
		},
	})
	return s
}

func (s *Source) Name() string { return s.fetcher.Name() }

func (s *Source) config() Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// Config returns the source's current polling configuration.
func (s *Source) Config() Config {
	return s.config()
}

// SetConfig applies new polling parameters at runtime. The new interval
// takes effect after the next tick; breaker settings change on restart
// only.
func (s *Source) SetConfig(cfg Config) {
	cfg.applyDefaults()
	s.cfgMu.Lock()
	cfg.BreakerThreshold = s.cfg.BreakerThreshold
	cfg.BreakerCooldown = s.cfg.BreakerCooldown
	s.cfg = cfg
	s.cfgMu.Unlock()
	s.limiter.SetLimit(rate.Limit(cfg.RateLimit))
	s.limiter.SetBurst(cfg.RateBurst)
	s.logger.Info("Source configuration updated",
		"interval", cfg.Interval, "ttl", cfg.TTL, "max_stale", cfg.MaxStale)
}

// Start begins periodic polling. The first fetch happens immediately so a
// freshly started system has enrichment before the first tick.
func (s *Source) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go func() {
		defer close(s.done)
		s.poll(ctx)
		for {
			// Re-read the interval each round so operator updates take
			// effect on the next tick.
			timer := time.NewTimer(s.config().Interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				s.poll(ctx)
			}
		}
	}()
}

// Stop halts polling and waits for any in-flight fetch to finish.
func (s *Source) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
	})
}

// poll runs one scheduled fetch. Ticks never overlap: if a fetch is still
// in flight the tick is skipped and counted.
func (s *Source) poll(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		metrics.SourceSkippedTicks.WithLabelValues(s.Name(), "in_flight").Inc()
		return
	}
	defer s.inFlight.Store(false)

	waitCtx, cancel := context.WithTimeout(ctx, s.config().RateWait)
	err := s.limiter.Wait(waitCtx)
	cancel()
	if err != nil {
		s.skipped.Add(1)
		metrics.SourceSkippedTicks.WithLabelValues(s.Name(), "rate_limited").Inc()
		return
	}

	if err := s.fetch(ctx); err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			s.skipped.Add(1)
			metrics.SourceSkippedTicks.WithLabelValues(s.Name(), "breaker_open").Inc()
			return
		}
		s.failures.Add(1)
		metrics.SourceFetches.WithLabelValues(s.Name(), "failure").Inc()
		s.logger.Warn("Fetch failed", "error", err, "consecutive_failures", s.failures.Load())
		return
	}

	s.failures.Store(0)
	metrics.SourceFetches.WithLabelValues(s.Name(), "success").Inc()
	metrics.SourceCacheAge.WithLabelValues(s.Name()).Set(0)
}

func (s *Source) fetch(ctx context.Context) error {
	_, err := s.breaker.Execute(func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(ctx, s.config().Timeout)
		defer cancel()

		values, err := s.fetcher.Fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("fetch returned no values")
		}
		s.snap.Store(&snapshot{values: values, fetchedAt: time.Now()})
		return nil, nil
	})
	return err
}

// TriggerFetch forces an immediate fetch outside the schedule. Used by the
// operator surface; the rate limiter and breaker still apply.
func (s *Source) TriggerFetch(ctx context.Context) error {
	if !s.inFlight.CompareAndSwap(false, true) {
		return fmt.Errorf("fetch already in flight")
	}
	defer s.inFlight.Store(false)

	if err := s.fetch(ctx); err != nil {
		s.failures.Add(1)
		metrics.SourceFetches.WithLabelValues(s.Name(), "failure").Inc()
		return err
	}
	s.failures.Store(0)
	metrics.SourceFetches.WithLabelValues(s.Name(), "success").Inc()
	return nil
}

// Current returns the last-good snapshot with its freshness flag, or
// ok=false when nothing usable exists. Never blocks; the caller receives
// its own copy of the values.
func (s *Source) Current() (types.Enrichment, bool) {
	snap := s.snap.Load()
	if snap == nil {
		return types.Enrichment{}, false
	}
	cfg := s.config()
	age := time.Since(snap.fetchedAt)
	if age >= cfg.MaxStale {
		return types.Enrichment{}, false
	}

	values := make(map[string]any, len(snap.values))
	for k, v := range snap.values {
		values[k] = v
	}
	return types.Enrichment{
		Values: values,
		AsOf:   snap.fetchedAt,
		Fresh:  age < cfg.TTL,
	}, true
}

// Health reports the source's own status; a sick source never degrades any
// other component.
func (s *Source) Health() types.SourceHealth {
	h := types.SourceHealth{
		ConsecutiveFailures: int(s.failures.Load()),
		CircuitState:        s.breaker.State().String(),
		SkippedTicks:        s.skipped.Load(),
	}

	snap := s.snap.Load()
	if snap != nil {
		h.FetchedAt = snap.fetchedAt
		h.CacheAge = time.Since(snap.fetchedAt)
	}

	cfg := s.config()
	switch {
	case s.breaker.State() == gobreaker.StateOpen:
		h.Status = types.StatusUnhealthy
	case snap == nil:
		if s.failures.Load() > 0 {
			h.Status = types.StatusUnhealthy
		} else {
			h.Status = types.StatusDegraded // not yet fetched
		}
	case h.CacheAge >= cfg.MaxStale:
		h.Status = types.StatusUnhealthy
	case h.CacheAge >= cfg.TTL || s.failures.Load() > 0:
		h.Status = types.StatusDegraded
	default:
		h.Status = types.StatusHealthy
	}
	return h
}
