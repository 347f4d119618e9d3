// Package normalize validates raw hub events and derives the canonical
// record the rest of the pipeline carries.
package normalize

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	shared "github.com/homepulse/server/pkg"
	"github.com/homepulse/server/pkg/metrics"
	"github.com/homepulse/server/pkg/types"
)

// Rejection reasons, counted per reason and never retried.
const (
	ReasonInvalidEntityID = "invalid_entity_id"
	ReasonNullState       = "null_state"
	ReasonBadTimestamps   = "bad_timestamps"
	ReasonMissingNewState = "missing_new_state"
)

// maxPlausibleDuration is the duration-in-state above which we accept the
// event but warn; a week in one state usually means hub clock trouble.
const maxPlausibleDuration = 7 * 24 * time.Hour

// Normalizer turns RawEvents into NormalizedEvents or rejects them.
// It runs as a single task so per-entity arrival order is preserved.
type Normalizer struct {
	in     <-chan types.RawEvent
	out    chan<- types.NormalizedEvent
	logger *slog.Logger

	knownDomains map[string]bool

	mu       sync.Mutex
	rejected map[string]int64
}

func New(in <-chan types.RawEvent, out chan<- types.NormalizedEvent, knownDomains []string, logger *slog.Logger) *Normalizer {
	known := make(map[string]bool, len(knownDomains))
	for _, d := range knownDomains {
		known[d] = true
	}
	return &Normalizer{
		in:           in,
		out:          out,
		logger:       logger.With("component", shared.ComponentNormalizer),
		knownDomains: known,
		rejected:     make(map[string]int64),
	}
}

func (n *Normalizer) Name() string { return shared.ComponentNormalizer }

// Run consumes raw events until ctx is cancelled or the input closes.
func (n *Normalizer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-n.in:
			if !ok {
				return nil
			}
			norm, reason := n.Normalize(ev)
			if reason != "" {
				n.reject(ev, reason)
				continue
			}
			select {
			case n.out <- *norm:
				metrics.EventsNormalized.Inc()
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Normalize applies the validation rules in order and derives the
// canonical fields. A non-empty reason means the event is rejected.
func (n *Normalizer) Normalize(ev types.RawEvent) (*types.NormalizedEvent, string) {
	domain, err := types.SplitEntityID(ev.EntityID)
	if err != nil {
		return nil, ReasonInvalidEntityID
	}

	if ev.NewState == nil {
		return nil, ReasonMissingNewState
	}
	if ev.NewState.State == nil {
		return nil, ReasonNullState
	}
	if ev.NewState.LastChanged.IsZero() || ev.NewState.LastUpdated.IsZero() ||
		ev.NewState.LastUpdated.Before(ev.NewState.LastChanged) {
		return nil, ReasonBadTimestamps
	}

	if !n.knownDomains[domain] {
		n.logger.Warn("Event from unknown domain", "domain", domain, "entity_id", ev.EntityID)
	}

	norm := &types.NormalizedEvent{
		RawEvent:       ev,
		Domain:         domain,
		DeviceClass:    ev.NewState.StringAttr(shared.AttrDeviceClass),
		Area:           ev.NewState.StringAttr(shared.AttrArea),
		DeviceID:       ev.NewState.StringAttr(shared.AttrDeviceID),
		EntityCategory: ev.NewState.StringAttr(shared.AttrEntityCategory),
		Unit:           ev.NewState.StringAttr(shared.AttrUnit),
	}

	if ev.OldState != nil && !ev.OldState.LastChanged.IsZero() {
		seconds := ev.NewState.LastChanged.Sub(ev.OldState.LastChanged).Seconds()
		if seconds < 0 {
			n.logger.Warn("Negative duration in state, clamping to 0",
				"entity_id", ev.EntityID, "seconds", seconds)
			seconds = 0
		} else if seconds > maxPlausibleDuration.Seconds() {
			n.logger.Warn("Implausibly long duration in state",
				"entity_id", ev.EntityID, "seconds", seconds)
		}
		norm.DurationInState = &seconds
	}

	if v, err := strconv.ParseFloat(ev.NewState.Value(), 64); err == nil {
		norm.NormalizedValue = &v
	}

	return norm, ""
}

func (n *Normalizer) reject(ev types.RawEvent, reason string) {
	metrics.EventsRejected.WithLabelValues(reason).Inc()
	n.mu.Lock()
	n.rejected[reason]++
	n.mu.Unlock()
	n.logger.Debug("Rejected event", "reason", reason, "entity_id", ev.EntityID)
}

// RejectedByReason returns a copy of the rejection counters for the
// health view.
func (n *Normalizer) RejectedByReason() map[string]int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string]int64, len(n.rejected))
	for k, v := range n.rejected {
		out[k] = v
	}
	return out
}
