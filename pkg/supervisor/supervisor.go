// Package supervisor runs the long-lived pipeline components, restarts
// them when they fail, and assembles the operator health view.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	shared "github.com/homepulse/server/pkg"
	"github.com/homepulse/server/pkg/enrichment"
	"github.com/homepulse/server/pkg/health"
	"github.com/homepulse/server/pkg/infrastructure/sentry"
	"github.com/homepulse/server/pkg/metrics"
	"github.com/homepulse/server/pkg/normalize"
	"github.com/homepulse/server/pkg/types"
	"github.com/homepulse/server/pkg/writer"
)

// Component is a restartable pipeline stage. Run blocks until the context
// is cancelled (clean stop, return nil) or the component fails.
type Component interface {
	Name() string
	Run(ctx context.Context) error
}

// SessionStatus is the hub session's self-reported connection health. The
// session retries auth rejection and transport loss internally instead of
// returning errors, so restart counts alone never reflect a halted feed.
type SessionStatus interface {
	Status() types.Status
}

const (
	restartWindow = time.Minute
	restartLimit  = 5
)

type componentState struct {
	mu          sync.Mutex
	restarts    []time.Time // rolling window of recent restarts
	total       int
	lastRestart time.Time
	lastError   string
	gaveUp      bool
	cancel      context.CancelFunc
}

// Supervisor owns component lifecycles. Components that keep crashing are
// parked after the restart limit and stay unhealthy until an operator
// restart clears the window.
type Supervisor struct {
	logger   *slog.Logger
	registry *enrichment.Registry
	pipeline *writer.Pipeline
	norm     *normalize.Normalizer
	session  SessionStatus
	tracker  *health.Tracker

	mu         sync.Mutex
	components map[string]Component
	states     map[string]*componentState
	wg         sync.WaitGroup
	runCtx     context.Context
}

func New(logger *slog.Logger, registry *enrichment.Registry, pipeline *writer.Pipeline, norm *normalize.Normalizer, session SessionStatus, tracker *health.Tracker) *Supervisor {
	return &Supervisor{
		logger:     logger.With("component", "supervisor"),
		registry:   registry,
		pipeline:   pipeline,
		norm:       norm,
		session:    session,
		tracker:    tracker,
		components: make(map[string]Component),
		states:     make(map[string]*componentState),
	}
}

// Start launches every component under the given context. It does not
// block; call Wait to join after cancelling the context.
func (s *Supervisor) Start(ctx context.Context, components ...Component) {
	s.mu.Lock()
	s.runCtx = ctx
	for _, c := range components {
		s.components[c.Name()] = c
		s.states[c.Name()] = &componentState{}
	}
	s.mu.Unlock()

	for _, c := range components {
		s.launch(ctx, c)
	}
}

// Wait blocks until every component goroutine has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func (s *Supervisor) launch(ctx context.Context, c Component) {
	compCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	st := s.states[c.Name()]
	s.mu.Unlock()
	st.mu.Lock()
	st.cancel = cancel
	st.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			err := s.runGuarded(compCtx, c)
			if compCtx.Err() != nil {
				return
			}
			if err == nil {
				s.logger.Warn("Component returned without error, restarting", "name", c.Name())
				err = fmt.Errorf("component %s stopped unexpectedly", c.Name())
			}
			if !s.recordRestart(c.Name(), err) {
				s.logger.Error("Component exceeded restart limit, giving up",
					"name", c.Name(), "error", err)
				return
			}
			s.logger.Warn("Restarting component", "name", c.Name(), "error", err)
			metrics.ComponentRestarts.WithLabelValues(c.Name()).Inc()
		}
	}()
}

// runGuarded converts panics into errors so a crashing component is
// restarted like any other failure.
func (s *Supervisor) runGuarded(ctx context.Context, c Component) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("component %s panicked: %v", c.Name(), r)
			sentry.CaptureException(err, map[string]any{"component": c.Name()}, s.logger)
		}
	}()
	return c.Run(ctx)
}

// recordRestart notes a failure and reports whether the component may be
// restarted. False means the rolling window is exhausted.
func (s *Supervisor) recordRestart(name string, err error) bool {
	s.mu.Lock()
	st := s.states[name]
	s.mu.Unlock()

	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now()
	st.lastError = err.Error()
	st.lastRestart = now
	st.total++

	cutoff := now.Add(-restartWindow)
	kept := st.restarts[:0]
	for _, t := range st.restarts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	st.restarts = append(kept, now)

	if len(st.restarts) > restartLimit {
		st.gaveUp = true
		return false
	}
	return true
}

// RestartComponent cancels the named component and relaunches it with a
// cleared restart window. Used by the operator surface.
func (s *Supervisor) RestartComponent(name string) error {
	s.mu.Lock()
	c, ok := s.components[name]
	st := s.states[name]
	ctx := s.runCtx
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown component: %s", name)
	}
	if ctx == nil || ctx.Err() != nil {
		return fmt.Errorf("supervisor is not running")
	}

	st.mu.Lock()
	wasParked := st.gaveUp
	st.gaveUp = false
	st.restarts = nil
	st.lastError = ""
	cancel := st.cancel
	st.mu.Unlock()

	s.logger.Info("Operator restart requested", "name", name, "was_parked", wasParked)
	if cancel != nil {
		cancel()
	}
	// The old goroutine exits on cancellation; a parked one is already gone.
	s.launch(ctx, c)
	metrics.ComponentRestarts.WithLabelValues(name).Inc()
	return nil
}

func (s *Supervisor) componentHealth(name string) types.ComponentHealth {
	s.mu.Lock()
	st := s.states[name]
	s.mu.Unlock()
	if st == nil {
		return types.ComponentHealth{Status: types.StatusHealthy}
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	h := types.ComponentHealth{
		Status:   types.StatusHealthy,
		Restarts: st.total,
	}
	h.LastRestart = st.lastRestart
	h.LastError = st.lastError
	switch {
	case st.gaveUp:
		h.Status = types.StatusUnhealthy
	case len(st.restarts) > 0:
		h.Status = types.StatusDegraded
	}
	return h
}

// Health assembles the full operator view: per-component and per-source
// detail plus the overall roll-up.
func (s *Supervisor) Health() types.HealthView {
	view := types.HealthView{
		Components: make(map[string]types.ComponentHealth),
		Sources:    make(map[string]types.SourceHealth),
		Rejected:   s.norm.RejectedByReason(),
	}

	s.mu.Lock()
	names := make([]string, 0, len(s.components))
	for name := range s.components {
		names = append(names, name)
	}
	s.mu.Unlock()

	overall := types.StatusHealthy
	for _, name := range names {
		h := s.componentHealth(name)
		// Restart counts miss failures a component absorbs internally, so
		// the writer and the session fold in their own status.
		switch name {
		case shared.ComponentWriter:
			h.Status = h.Status.Worse(s.pipeline.Status())
		case shared.ComponentSession:
			if s.session != nil {
				h.Status = h.Status.Worse(s.session.Status())
			}
		}
		view.Components[name] = h
		overall = overall.Worse(h.Status)
	}

	worstSource := types.StatusHealthy
	for _, src := range s.registry.All() {
		h := src.Health()
		view.Sources[src.Name()] = h
		worstSource = worstSource.Worse(h.Status)
	}

	// A dead enrichment source alone never takes the whole service to
	// unhealthy; events still flow without its fields.
	if worstSource == types.StatusUnhealthy {
		worstSource = types.StatusDegraded
	}
	view.Status = overall.Worse(worstSource)

	view.LastEventAt = s.tracker.LastEventAt()
	view.LastWriteAt = s.tracker.LastWriteAt()
	view.EventsPerMin = s.tracker.EventsPerMin()
	view.BatchPending = s.pipeline.PendingPoints()
	view.WriteFailures = s.pipeline.ConsecutiveFailures()
	return view
}
