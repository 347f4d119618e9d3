package enrichment

import (
	"context"
	"log/slog"

	shared "github.com/homepulse/server/pkg"
	"github.com/homepulse/server/pkg/types"
)

// Joiner attaches the current enrichment snapshots to each normalized
// event. The values attached are the snapshots valid at the moment the
// event passes through, not at time_fired; a source with nothing usable is
// simply omitted. Joining never blocks on a source.
type Joiner struct {
	registry *Registry
	in       <-chan types.NormalizedEvent
	out      chan<- types.EnrichedEvent
	logger   *slog.Logger
}

func NewJoiner(registry *Registry, in <-chan types.NormalizedEvent, out chan<- types.EnrichedEvent, logger *slog.Logger) *Joiner {
	return &Joiner{
		registry: registry,
		in:       in,
		out:      out,
		logger:   logger.With("component", shared.ComponentJoiner),
	}
}

func (j *Joiner) Name() string { return shared.ComponentJoiner }

func (j *Joiner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-j.in:
			if !ok {
				return nil
			}
			enriched := j.Join(ev)
			select {
			case j.out <- enriched:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Join snapshots every registered source's Current() value.
func (j *Joiner) Join(ev types.NormalizedEvent) types.EnrichedEvent {
	enrichments := make(map[string]types.Enrichment)
	for _, src := range j.registry.All() {
		if e, ok := src.Current(); ok {
			enrichments[src.Name()] = e
		}
	}
	return types.EnrichedEvent{
		NormalizedEvent: ev,
		Enrichments:     enrichments,
	}
}
