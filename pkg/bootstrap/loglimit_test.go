package bootstrap

import (
	"testing"
	"time"
)

func TestLogLimiter(t *testing.T) {
	l := NewLogLimiter(50 * time.Millisecond)

	if !l.Allow("drift:foo") {
		t.Error("first occurrence should be allowed")
	}
	if l.Allow("drift:foo") {
		t.Error("repeat within window should be suppressed")
	}
	if !l.Allow("drift:bar") {
		t.Error("different key should be allowed")
	}

	time.Sleep(60 * time.Millisecond)
	if !l.Allow("drift:foo") {
		t.Error("occurrence after window should be allowed again")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.BatchMaxPoints <= 0 || cfg.BatchMaxAge <= 0 {
		t.Errorf("batch defaults not applied: points=%d age=%v", cfg.BatchMaxPoints, cfg.BatchMaxAge)
	}
	if len(cfg.KnownDomains) == 0 {
		t.Error("no default known domains")
	}

	for _, name := range []string{"weather", "carbon_intensity", "electricity_pricing", "air_quality", "calendar", "smart_meter"} {
		sc, ok := cfg.Sources[name]
		if !ok {
			t.Errorf("source %q missing from defaults", name)
			continue
		}
		if sc.Interval <= 0 || sc.TTL <= 0 || sc.MaxStale < sc.TTL {
			t.Errorf("source %q has implausible defaults: %+v", name, sc)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BATCH_MAX_POINTS", "250")
	t.Setenv("SOURCE_WEATHER_INTERVAL", "2m")
	t.Setenv("BATCH_MAX_AGE", "not-a-duration")

	cfg := LoadConfig()
	if cfg.BatchMaxPoints != 250 {
		t.Errorf("BatchMaxPoints = %d, want 250", cfg.BatchMaxPoints)
	}
	if cfg.Sources["weather"].Interval != 2*time.Minute {
		t.Errorf("weather interval = %v, want 2m", cfg.Sources["weather"].Interval)
	}
	if cfg.BatchMaxAge != time.Second {
		t.Errorf("invalid duration should fall back to default, got %v", cfg.BatchMaxAge)
	}
}
