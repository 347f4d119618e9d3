package enrichment

import (
	"log/slog"
	"testing"
	"time"

	"github.com/homepulse/server/pkg/testing/mocks"
	"github.com/homepulse/server/pkg/types"
)

func TestJoinAttachesAvailableSnapshots(t *testing.T) {
	registry := NewRegistry()

	weather := NewSource(&mocks.MockFetcher{NameValue: "weather"}, testConfig(), slog.Default())
	weather.snap.Store(&snapshot{
		values:    map[string]any{"temperature_c": 12.0},
		fetchedAt: time.Now().Add(-5 * time.Minute),
	})
	stale := NewSource(&mocks.MockFetcher{NameValue: "carbon_intensity"}, testConfig(), slog.Default())
	stale.snap.Store(&snapshot{
		values:    map[string]any{"index": "low"},
		fetchedAt: time.Now().Add(-time.Hour),
	})
	empty := NewSource(&mocks.MockFetcher{NameValue: "air_quality"}, testConfig(), slog.Default())

	for _, s := range []*Source{weather, stale, empty} {
		if err := registry.Register(s); err != nil {
			t.Fatal(err)
		}
	}

	j := NewJoiner(registry, nil, nil, slog.Default())
	enriched := j.Join(types.NormalizedEvent{})

	if len(enriched.Enrichments) != 2 {
		t.Fatalf("Enrichments has %d entries, want 2 (source with no data omitted)", len(enriched.Enrichments))
	}

	w, ok := enriched.Enrichments["weather"]
	if !ok || !w.Fresh {
		t.Errorf("weather enrichment = %+v ok=%v, want present and fresh", w, ok)
	}
	c, ok := enriched.Enrichments["carbon_intensity"]
	if !ok || c.Fresh {
		t.Errorf("carbon_intensity enrichment = %+v ok=%v, want present and stale", c, ok)
	}
	if _, ok := enriched.Enrichments["air_quality"]; ok {
		t.Error("source with no snapshot should be omitted, not present with empty values")
	}
}

func TestJoinWithEmptyRegistry(t *testing.T) {
	j := NewJoiner(NewRegistry(), nil, nil, slog.Default())
	enriched := j.Join(types.NormalizedEvent{})
	if len(enriched.Enrichments) != 0 {
		t.Errorf("Enrichments = %v, want empty", enriched.Enrichments)
	}
}
