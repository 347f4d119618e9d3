// Package writer turns the stream of enriched events into durable writes
// against the time-series store: batching, bounded retry with backoff,
// bisection of poison batches, and dead-lettering of unrecoverable points.
// Delivery is at-least-once; the idempotency tag makes retries safe.
package writer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	shared "github.com/homepulse/server/pkg"
	"github.com/homepulse/server/pkg/health"
	httputil "github.com/homepulse/server/pkg/infrastructure/http"
	"github.com/homepulse/server/pkg/metrics"
	"github.com/homepulse/server/pkg/types"
)

type Config struct {
	MaxPoints    int
	MaxAge       time.Duration
	MaxInFlight  int
	Attempts     int
	WriteTimeout time.Duration
	DrainGrace   time.Duration

	// Retry backoff bounds; exposed for tests.
	RetryInitial time.Duration
	RetryMax     time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxPoints <= 0 {
		c.MaxPoints = shared.DefaultBatchMaxPoints
	}
	if c.MaxAge <= 0 {
		c.MaxAge = shared.DefaultBatchMaxAge
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = shared.DefaultBatchMaxInFlight
	}
	if c.Attempts <= 0 {
		c.Attempts = shared.DefaultWriteAttempts
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = shared.DefaultWriteTimeout
	}
	if c.DrainGrace <= 0 {
		c.DrainGrace = shared.DefaultDrainGrace
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 100 * time.Millisecond
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 30 * time.Second
	}
}

// Pipeline owns the pending batch; only its own task mutates it. The
// inbound channel is bounded, so a stalled store backpressures the joiner,
// the normalizer and finally the session.
type Pipeline struct {
	store   shared.TimeSeriesWriter
	dead    shared.DeadLetter
	cfg     Config
	in      <-chan types.EnrichedEvent
	tracker *health.Tracker
	logger  *slog.Logger

	sem chan struct{}
	wg  sync.WaitGroup

	pendingPoints  atomic.Int64
	writeFailures  atomic.Int64
	firstFailureAt atomic.Int64 // unix nanos, 0 = no ongoing failure streak
}

func NewPipeline(store shared.TimeSeriesWriter, dead shared.DeadLetter, cfg Config, in <-chan types.EnrichedEvent, tracker *health.Tracker, logger *slog.Logger) *Pipeline {
	cfg.applyDefaults()
	return &Pipeline{
		store:   store,
		dead:    dead,
		cfg:     cfg,
		in:      in,
		tracker: tracker,
		logger:  logger.With("component", shared.ComponentWriter),
		sem:     make(chan struct{}, cfg.MaxInFlight),
	}
}

func (p *Pipeline) Name() string { return shared.ComponentWriter }

// Run accumulates batches and flushes on size, age or shutdown. On ctx
// cancellation it refuses new events, drains in-flight and pending batches
// within the grace period, and dead-letters whatever remains.
func (p *Pipeline) Run(ctx context.Context) error {
	// Writes run on their own context so that cancelling the run context
	// does not abort retries mid-flight; in-flight batches keep the full
	// drain grace and are only cut off when it expires.
	writeCtx, writeCancel := context.WithCancel(context.Background())
	defer writeCancel()

	var batch []point
	var ageTimer *time.Timer
	var ageC <-chan time.Time

	stopAgeTimer := func() {
		if ageTimer != nil {
			ageTimer.Stop()
			ageTimer = nil
			ageC = nil
		}
	}

	flush := func(trigger string) {
		if len(batch) == 0 {
			return
		}
		stopAgeTimer()
		out := batch
		batch = nil
		metrics.BatchFlushes.WithLabelValues(trigger).Inc()
		metrics.BatchPending.Set(0)

		// Acquiring an in-flight slot here blocks the intake loop when the
		// store is slow; that stall is the backpressure chain. Every write
		// task terminates, so a slot always frees.
		p.sem <- struct{}{}
		p.wg.Add(1)
		go func() {
			defer func() {
				<-p.sem
				p.wg.Done()
			}()
			p.writeWithRetry(writeCtx, out)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			flush("shutdown")
			return p.drain(writeCancel)

		case <-ageC:
			flush("age")

		case ev, ok := <-p.in:
			if !ok {
				flush("shutdown")
				return p.drain(writeCancel)
			}
			pt, err := encodeEvent(&ev)
			if err != nil {
				p.logger.Error("Dropping unencodable event", "error", err)
				p.deadLetter(point{entityID: ev.EntityID, key: ev.IdempotencyKey()}, "encode_failed", 0)
				continue
			}
			batch = append(batch, pt)
			p.pendingPoints.Add(1)
			metrics.BatchPending.Set(float64(len(batch)))

			if len(batch) >= p.cfg.MaxPoints {
				flush("size")
			} else if len(batch) == 1 {
				ageTimer = time.NewTimer(p.cfg.MaxAge)
				ageC = ageTimer.C
			}
		}
	}
}

// drain waits up to the grace period for in-flight writes, including the
// final shutdown flush, to finish on their own terms. Only when the grace
// expires is the write context cancelled, at which point the retry loops
// dead-letter whatever they still hold.
func (p *Pipeline) drain(writeCancel context.CancelFunc) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(p.cfg.DrainGrace):
		p.logger.Error("Drain grace expired with writes still in flight")
		writeCancel()
		<-done
	}
	return nil
}

// writeWithRetry submits one batch. Transient failures retry with
// exponential backoff up to the attempts cap; non-transient failures
// bisect the batch until the poison point is isolated and dead-lettered.
func (p *Pipeline) writeWithRetry(ctx context.Context, pts []point) {
	lines := make([]string, len(pts))
	for i, pt := range pts {
		lines[i] = pt.line
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.RetryInitial
	bo.MaxInterval = p.cfg.RetryMax
	bo.MaxElapsedTime = 0
	bo.Reset()

	for attempt := 1; ; attempt++ {
		writeCtx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
		err := p.store.WriteLines(writeCtx, lines)
		cancel()

		if err == nil {
			p.pendingPoints.Add(int64(-len(pts)))
			p.writeFailures.Store(0)
			p.firstFailureAt.Store(0)
			p.tracker.RecordWrite()
			metrics.PointsWritten.Add(float64(len(pts)))
			return
		}

		p.noteFailure()

		if !httputil.IsTransient(err) {
			p.logger.Warn("Store rejected batch", "error", err, "size", len(pts))
			p.bisect(ctx, pts, attempt)
			return
		}

		metrics.WriteRetries.Inc()
		p.logger.Warn("Transient store failure, will retry",
			"error", err, "attempt", attempt, "size", len(pts))

		if attempt >= p.cfg.Attempts {
			p.logger.Error("Write attempts exhausted", "attempts", attempt, "size", len(pts))
			p.deadLetterAll(pts, "attempts_exhausted", attempt)
			return
		}

		select {
		case <-ctx.Done():
			p.deadLetterAll(pts, "drain_timeout", attempt)
			return
		case <-time.After(bo.NextBackOff()):
		}
	}
}

// bisect splits a rejected batch to isolate poison points. A single
// rejected point goes to the dead-letter log.
func (p *Pipeline) bisect(ctx context.Context, pts []point, attempts int) {
	if len(pts) == 1 {
		p.deadLetter(pts[0], "rejected_by_store", attempts)
		p.pendingPoints.Add(-1)
		return
	}
	mid := len(pts) / 2
	p.writeWithRetry(ctx, pts[:mid])
	p.writeWithRetry(ctx, pts[mid:])
}

func (p *Pipeline) deadLetterAll(pts []point, reason string, attempts int) {
	for _, pt := range pts {
		p.deadLetter(pt, reason, attempts)
	}
	p.pendingPoints.Add(int64(-len(pts)))
}

func (p *Pipeline) deadLetter(pt point, reason string, attempts int) {
	metrics.DeadLetters.WithLabelValues(reason).Inc()
	rec := shared.DeadLetterRecord{
		ID:       uuid.NewString(),
		Reason:   reason,
		Attempts: attempts,
		Line:     pt.line,
	}
	if err := p.dead.Record(rec); err != nil {
		p.logger.Error("Failed to append dead letter record",
			"error", err, "entity_id", pt.entityID, "reason", reason)
	}
}

func (p *Pipeline) noteFailure() {
	p.writeFailures.Add(1)
	p.firstFailureAt.CompareAndSwap(0, time.Now().UnixNano())
}

// PendingPoints is the count of points accepted but not yet acknowledged.
func (p *Pipeline) PendingPoints() int {
	return int(p.pendingPoints.Load())
}

// ConsecutiveFailures is the current write failure streak.
func (p *Pipeline) ConsecutiveFailures() int64 {
	return p.writeFailures.Load()
}

// Status degrades with the age of an unbroken failure streak: degraded
// after a minute without a successful write, unhealthy after five.
func (p *Pipeline) Status() types.Status {
	first := p.firstFailureAt.Load()
	if first == 0 {
		return types.StatusHealthy
	}
	elapsed := time.Since(time.Unix(0, first))
	switch {
	case elapsed >= 5*time.Minute:
		return types.StatusUnhealthy
	case elapsed >= time.Minute:
		return types.StatusDegraded
	default:
		return types.StatusHealthy
	}
}
