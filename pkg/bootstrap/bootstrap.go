// Package bootstrap loads configuration from the environment and wires the
// standard dependencies every component shares.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	shared "github.com/homepulse/server/pkg"
	"github.com/homepulse/server/pkg/infrastructure/tsdb"
	"github.com/homepulse/server/pkg/writer"
)

// SourceConfig holds the per-source knobs recognized as
// SOURCE_<NAME>_INTERVAL, _TTL, _MAX_STALE, _RATE_LIMIT, _TIMEOUT plus the
// source's credential variables.
type SourceConfig struct {
	Interval  time.Duration
	TTL       time.Duration
	MaxStale  time.Duration
	Timeout   time.Duration
	RateLimit float64 // tokens per second
	RateBurst int

	// Credential material; which fields are used depends on the source.
	APIKey      string
	BearerToken string
	Endpoint    string
}

// Config holds standard configuration for the daemon.
type Config struct {
	HubURL   string
	HubToken string

	StoreURL    string
	StoreOrg    string
	StoreBucket string
	StoreToken  string

	BatchMaxPoints      int
	BatchMaxAge         time.Duration
	BatchMaxInFlight    int
	WriteAttempts       int
	WriteTimeout        time.Duration
	ReconnectMaxBackoff time.Duration
	EventBuffer         int
	DrainGrace          time.Duration
	DeadLetterPath      string
	TokenPath           string
	OperatorAddr        string
	KnownDomains        []string
	HomeLatitude        float64
	HomeLongitude       float64

	Sources map[string]*SourceConfig
}

// Service holds initialized dependencies.
type Service struct {
	Store      shared.TimeSeriesWriter
	DeadLetter shared.DeadLetter
	Config     *Config
	Logger     *slog.Logger
}

var sourceDefaults = map[string]SourceConfig{
	shared.SourceWeather:          {Interval: 15 * time.Minute, TTL: 30 * time.Minute, MaxStale: 2 * time.Hour},
	shared.SourceCarbonIntensity:  {Interval: 15 * time.Minute, TTL: 30 * time.Minute, MaxStale: 2 * time.Hour},
	shared.SourceElectricityPrice: {Interval: 60 * time.Minute, TTL: 90 * time.Minute, MaxStale: 6 * time.Hour},
	shared.SourceAirQuality:       {Interval: 60 * time.Minute, TTL: 90 * time.Minute, MaxStale: 6 * time.Hour},
	shared.SourceCalendar:         {Interval: 15 * time.Minute, TTL: 20 * time.Minute, MaxStale: time.Hour},
	shared.SourceSmartMeter:       {Interval: 5 * time.Minute, TTL: 10 * time.Minute, MaxStale: 30 * time.Minute},
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() *Config {
	cfg := &Config{
		HubURL:   os.Getenv("HUB_URL"),
		HubToken: os.Getenv("HUB_TOKEN"),

		StoreURL:    os.Getenv("STORE_URL"),
		StoreOrg:    os.Getenv("STORE_ORG"),
		StoreBucket: os.Getenv("STORE_BUCKET"),
		StoreToken:  os.Getenv("STORE_TOKEN"),

		BatchMaxPoints:      envInt("BATCH_MAX_POINTS", shared.DefaultBatchMaxPoints),
		BatchMaxAge:         envDuration("BATCH_MAX_AGE", shared.DefaultBatchMaxAge),
		BatchMaxInFlight:    envInt("BATCH_MAX_IN_FLIGHT", shared.DefaultBatchMaxInFlight),
		WriteAttempts:       envInt("WRITE_ATTEMPTS", shared.DefaultWriteAttempts),
		WriteTimeout:        envDuration("WRITE_TIMEOUT", shared.DefaultWriteTimeout),
		ReconnectMaxBackoff: envDuration("RECONNECT_MAX_BACKOFF", shared.DefaultReconnectMaxBackoff),
		EventBuffer:         envInt("EVENT_BUFFER", shared.DefaultEventBuffer),
		DrainGrace:          envDuration("DRAIN_GRACE", shared.DefaultDrainGrace),
		DeadLetterPath:      envOr("DEAD_LETTER_PATH", "dead_letter.jsonl"),
		TokenPath:           envOr("CALENDAR_TOKEN_PATH", "calendar_token.json"),
		OperatorAddr:        envOr("OPERATOR_ADDR", ":9120"),
		HomeLatitude:        envFloat("HOME_LATITUDE", 0),
		HomeLongitude:       envFloat("HOME_LONGITUDE", 0),
		Sources:             map[string]*SourceConfig{},
	}

	if domains := os.Getenv("KNOWN_DOMAINS"); domains != "" {
		cfg.KnownDomains = strings.Split(domains, ",")
	} else {
		cfg.KnownDomains = []string{
			"sensor", "binary_sensor", "switch", "light", "climate", "cover",
			"lock", "media_player", "person", "device_tracker", "sun", "weather",
		}
	}

	for name, def := range sourceDefaults {
		prefix := "SOURCE_" + strings.ToUpper(name) + "_"
		sc := def
		sc.Interval = envDuration(prefix+"INTERVAL", def.Interval)
		sc.TTL = envDuration(prefix+"TTL", def.TTL)
		sc.MaxStale = envDuration(prefix+"MAX_STALE", def.MaxStale)
		sc.Timeout = envDuration(prefix+"TIMEOUT", shared.DefaultFetchTimeout)
		sc.RateLimit = envFloat(prefix+"RATE_LIMIT", 1)
		sc.RateBurst = envInt(prefix+"RATE_BURST", 2)
		sc.APIKey = os.Getenv(prefix + "API_KEY")
		sc.BearerToken = os.Getenv(prefix + "BEARER_TOKEN")
		sc.Endpoint = os.Getenv(prefix + "ENDPOINT")
		cfg.Sources[name] = &sc
	}

	return cfg
}

// GetSlogHandlerOptions returns standard handler options.
func GetSlogHandlerOptions(level slog.Level) *slog.HandlerOptions {
	return &slog.HandlerOptions{Level: level}
}

// ComponentHandler wraps a slog.Handler to prepend [component] to the message.
type ComponentHandler struct {
	slog.Handler
	component string
}

// WithGroup implements slog.Handler
func (h *ComponentHandler) WithGroup(name string) slog.Handler {
	return &ComponentHandler{
		Handler:   h.Handler.WithGroup(name),
		component: h.component,
	}
}

// WithAttrs implements slog.Handler
func (h *ComponentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newComp := h.component
	for _, a := range attrs {
		if a.Key == "component" {
			newComp = a.Value.String()
		}
	}
	return &ComponentHandler{
		Handler:   h.Handler.WithAttrs(attrs),
		component: newComp,
	}
}

// Handle implements slog.Handler
func (h *ComponentHandler) Handle(ctx context.Context, r slog.Record) error {
	comp := h.component

	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			comp = a.Value.String()
			return false // stop
		}
		return true
	})

	if comp != "" {
		newMsg := fmt.Sprintf("[%s] %s", comp, r.Message)
		newRecord := slog.NewRecord(r.Time, r.Level, newMsg, r.PC)
		r.Attrs(func(a slog.Attr) bool {
			newRecord.AddAttrs(a)
			return true
		})
		r = newRecord
	}

	return h.Handler.Handle(ctx, r)
}

// NewLogger creates a configured logger instance with LOG_LEVEL applied.
func NewLogger(serviceName string) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := GetSlogHandlerOptions(level)
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(&ComponentHandler{Handler: handler}).With("service", serviceName)
}

// InitLogger installs the default structured logger.
func InitLogger() {
	slog.SetDefault(NewLogger("ingestd"))
}

// NewService initializes standard dependencies from config.
func NewService(ctx context.Context) (*Service, error) {
	InitLogger()
	cfg := LoadConfig()
	logger := slog.Default()

	logger.Info("Initializing service", "store_url", cfg.StoreURL, "hub_url", cfg.HubURL)

	if cfg.HubURL == "" {
		return nil, fmt.Errorf("HUB_URL is required")
	}
	if cfg.StoreURL == "" {
		return nil, fmt.Errorf("STORE_URL is required")
	}

	store := tsdb.NewClient(tsdb.Config{
		BaseURL: cfg.StoreURL,
		Org:     cfg.StoreOrg,
		Bucket:  cfg.StoreBucket,
		Token:   cfg.StoreToken,
		Timeout: cfg.WriteTimeout,
	})

	dead, err := writer.NewFileDeadLetter(cfg.DeadLetterPath)
	if err != nil {
		return nil, fmt.Errorf("initialize dead letter log: %w", err)
	}

	return &Service{
		Store:      store,
		DeadLetter: dead,
		Config:     cfg,
		Logger:     logger,
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		slog.Warn("Invalid integer in environment, using default", "key", key, "value", v)
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		slog.Warn("Invalid float in environment, using default", "key", key, "value", v)
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		slog.Warn("Invalid duration in environment, using default", "key", key, "value", v)
	}
	return fallback
}
