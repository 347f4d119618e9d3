package enrichment

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/homepulse/server/pkg/testing/mocks"
	"github.com/homepulse/server/pkg/types"
)

func testConfig() Config {
	return Config{
		Interval:  time.Minute,
		TTL:       30 * time.Minute,
		MaxStale:  2 * time.Hour,
		Timeout:   time.Second,
		RateLimit: 1000, // effectively unlimited for tests
		RateBurst: 1000,
	}
}

func TestCurrentFreshness(t *testing.T) {
	src := NewSource(&mocks.MockFetcher{NameValue: "weather"}, testConfig(), slog.Default())

	if _, ok := src.Current(); ok {
		t.Error("Current() before any fetch should report nothing usable")
	}

	// Within TTL: fresh.
	src.snap.Store(&snapshot{values: map[string]any{"temperature_c": 18.5}, fetchedAt: time.Now().Add(-10 * time.Minute)})
	e, ok := src.Current()
	if !ok || !e.Fresh {
		t.Errorf("snapshot within ttl: ok=%v fresh=%v, want usable and fresh", ok, e.Fresh)
	}
	if e.Values["temperature_c"] != 18.5 {
		t.Errorf("Values = %v, want temperature_c 18.5", e.Values)
	}

	// Past TTL but within max stale: usable, not fresh.
	src.snap.Store(&snapshot{values: map[string]any{"temperature_c": 18.5}, fetchedAt: time.Now().Add(-time.Hour)})
	e, ok = src.Current()
	if !ok || e.Fresh {
		t.Errorf("stale snapshot: ok=%v fresh=%v, want usable and not fresh", ok, e.Fresh)
	}

	// Past max stale: nothing.
	src.snap.Store(&snapshot{values: map[string]any{"temperature_c": 18.5}, fetchedAt: time.Now().Add(-3 * time.Hour)})
	if _, ok := src.Current(); ok {
		t.Error("snapshot beyond max stale should not be usable")
	}
}

func TestCurrentReturnsCopy(t *testing.T) {
	src := NewSource(&mocks.MockFetcher{}, testConfig(), slog.Default())
	src.snap.Store(&snapshot{values: map[string]any{"aqi": 2}, fetchedAt: time.Now()})

	e, _ := src.Current()
	e.Values["aqi"] = 99

	again, _ := src.Current()
	if again.Values["aqi"] != 2 {
		t.Errorf("mutating a returned snapshot leaked into the cache: %v", again.Values["aqi"])
	}
}

func TestTriggerFetchStoresSnapshot(t *testing.T) {
	fetcher := &mocks.MockFetcher{
		NameValue: "smart_meter",
		FetchFunc: func(ctx context.Context) (map[string]any, error) {
			return map[string]any{"active_power_w": 412.0}, nil
		},
	}
	src := NewSource(fetcher, testConfig(), slog.Default())

	if err := src.TriggerFetch(context.Background()); err != nil {
		t.Fatalf("TriggerFetch failed: %v", err)
	}
	e, ok := src.Current()
	if !ok || !e.Fresh {
		t.Fatalf("after fetch: ok=%v fresh=%v, want fresh snapshot", ok, e.Fresh)
	}
	if e.Values["active_power_w"] != 412.0 {
		t.Errorf("Values = %v", e.Values)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	fetcher := &mocks.MockFetcher{
		FetchFunc: func(ctx context.Context) (map[string]any, error) {
			return nil, errors.New("upstream down")
		},
	}
	src := NewSource(fetcher, testConfig(), slog.Default())

	for i := 0; i < 5; i++ {
		if err := src.TriggerFetch(context.Background()); err == nil {
			t.Fatalf("fetch %d unexpectedly succeeded", i)
		}
	}
	if got := src.breaker.State(); got != gobreaker.StateOpen {
		t.Fatalf("breaker state = %v after 5 failures, want open", got)
	}

	err := src.TriggerFetch(context.Background())
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("fetch with open breaker returned %v, want ErrOpenState", err)
	}

	h := src.Health()
	if h.Status != types.StatusUnhealthy {
		t.Errorf("Health().Status = %v with open breaker, want unhealthy", h.Status)
	}
	if h.CircuitState != gobreaker.StateOpen.String() {
		t.Errorf("CircuitState = %q, want open", h.CircuitState)
	}
}

func TestFailureDoesNotEvictLastGood(t *testing.T) {
	healthy := true
	fetcher := &mocks.MockFetcher{
		FetchFunc: func(ctx context.Context) (map[string]any, error) {
			if healthy {
				return map[string]any{"price_eur_kwh": 0.23}, nil
			}
			return nil, errors.New("upstream down")
		},
	}
	src := NewSource(fetcher, testConfig(), slog.Default())

	if err := src.TriggerFetch(context.Background()); err != nil {
		t.Fatalf("initial fetch failed: %v", err)
	}
	healthy = false
	if err := src.TriggerFetch(context.Background()); err == nil {
		t.Fatal("expected failure")
	}

	e, ok := src.Current()
	if !ok {
		t.Fatal("last-good snapshot evicted by a failed fetch")
	}
	if e.Values["price_eur_kwh"] != 0.23 {
		t.Errorf("Values = %v", e.Values)
	}
	if h := src.Health(); h.Status != types.StatusDegraded {
		t.Errorf("Health().Status = %v with fresh cache but failing fetches, want degraded", h.Status)
	}
}

func TestEmptyValuesIsAFailure(t *testing.T) {
	fetcher := &mocks.MockFetcher{
		FetchFunc: func(ctx context.Context) (map[string]any, error) {
			return map[string]any{}, nil
		},
	}
	src := NewSource(fetcher, testConfig(), slog.Default())

	if err := src.TriggerFetch(context.Background()); err == nil {
		t.Error("fetch returning no values should count as a failure")
	}
}

func TestSetConfigKeepsBreakerSettings(t *testing.T) {
	src := NewSource(&mocks.MockFetcher{}, testConfig(), slog.Default())

	cfg := src.Config()
	cfg.Interval = 5 * time.Minute
	cfg.TTL = 10 * time.Minute
	cfg.BreakerThreshold = 1 // must be ignored
	src.SetConfig(cfg)

	got := src.Config()
	if got.Interval != 5*time.Minute || got.TTL != 10*time.Minute {
		t.Errorf("updated config not applied: %+v", got)
	}
	if got.BreakerThreshold != 5 {
		t.Errorf("BreakerThreshold = %d, want original 5", got.BreakerThreshold)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	a := NewSource(&mocks.MockFetcher{NameValue: "weather"}, testConfig(), slog.Default())
	b := NewSource(&mocks.MockFetcher{NameValue: "weather"}, testConfig(), slog.Default())

	if err := r.Register(a); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	if err := r.Register(b); err == nil {
		t.Error("duplicate Register should fail")
	}
	if len(r.All()) != 1 {
		t.Errorf("All() = %d sources, want 1", len(r.All()))
	}
}
