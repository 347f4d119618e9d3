// ingestd is the home telemetry ingestion daemon: it holds the hub
// websocket session, normalizes and enriches state-change events, and
// batches them into the time-series store.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/oauth2"

	shared "github.com/homepulse/server/pkg"
	"github.com/homepulse/server/pkg/bootstrap"
	"github.com/homepulse/server/pkg/enrichment"
	"github.com/homepulse/server/pkg/enrichment/sources/airquality"
	"github.com/homepulse/server/pkg/enrichment/sources/calendar"
	"github.com/homepulse/server/pkg/enrichment/sources/carbonintensity"
	"github.com/homepulse/server/pkg/enrichment/sources/electricityprice"
	"github.com/homepulse/server/pkg/enrichment/sources/smartmeter"
	"github.com/homepulse/server/pkg/enrichment/sources/weather"
	"github.com/homepulse/server/pkg/health"
	"github.com/homepulse/server/pkg/hub"
	"github.com/homepulse/server/pkg/infrastructure/oauth"
	"github.com/homepulse/server/pkg/infrastructure/sentry"
	"github.com/homepulse/server/pkg/normalize"
	"github.com/homepulse/server/pkg/operator"
	"github.com/homepulse/server/pkg/supervisor"
	"github.com/homepulse/server/pkg/types"
	"github.com/homepulse/server/pkg/writer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.NewService(ctx)
	if err != nil {
		bootstrap.NewLogger("ingestd").Error("Startup failed", "error", err)
		os.Exit(1)
	}
	logger := svc.Logger
	cfg := svc.Config

	if err := sentry.Init(sentry.Config{
		DSN:         os.Getenv("SENTRY_DSN"),
		Environment: os.Getenv("SENTRY_ENVIRONMENT"),
		Release:     os.Getenv("RELEASE_VERSION"),
		ServerName:  "ingestd",
	}, logger); err != nil {
		logger.Error("Sentry initialization failed", "error", err)
	}
	defer sentry.Flush(2 * time.Second)

	tracker := health.NewTracker()

	// Bounded stage channels; a stalled store backpressures all the way to
	// the websocket reads.
	rawCh := make(chan types.RawEvent, cfg.EventBuffer)
	normCh := make(chan types.NormalizedEvent, cfg.EventBuffer)
	enrichedCh := make(chan types.EnrichedEvent, cfg.EventBuffer)

	registry := enrichment.NewRegistry()
	registerSources(ctx, registry, cfg, logger)
	for _, src := range registry.All() {
		src.Start(ctx)
	}
	defer func() {
		for _, src := range registry.All() {
			src.Stop()
		}
	}()

	session := hub.NewSession(hub.Config{
		URL:         cfg.HubURL,
		Token:       cfg.HubToken,
		MaxBackoff:  cfg.ReconnectMaxBackoff,
		SettleDelay: time.Second,
	}, rawCh, tracker, logger)

	normalizer := normalize.New(rawCh, normCh, cfg.KnownDomains, logger)
	joiner := enrichment.NewJoiner(registry, normCh, enrichedCh, logger)
	pipeline := writer.NewPipeline(svc.Store, svc.DeadLetter, writer.Config{
		MaxPoints:    cfg.BatchMaxPoints,
		MaxAge:       cfg.BatchMaxAge,
		MaxInFlight:  cfg.BatchMaxInFlight,
		Attempts:     cfg.WriteAttempts,
		WriteTimeout: cfg.WriteTimeout,
		DrainGrace:   cfg.DrainGrace,
	}, enrichedCh, tracker, logger)

	sup := supervisor.New(logger, registry, pipeline, normalizer, session, tracker)
	sup.Start(ctx, pipeline, joiner, normalizer, session)

	op := operator.NewServer(sup, registry, cfg, logger)
	httpSrv := &http.Server{Addr: cfg.OperatorAddr, Handler: op.Router()}
	go func() {
		logger.Info("Operator surface listening", "addr", cfg.OperatorAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Operator surface failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down, draining pipeline", "grace", cfg.DrainGrace.String())

	// Components observe the cancelled context; the write pipeline drains
	// its pending batch on its own grace period before Wait returns.
	sup.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Operator surface shutdown incomplete", "error", err)
	}
	logger.Info("Shutdown complete")
}

// registerSources builds the configured enrichment sources. A source whose
// credentials are missing is still registered; it reports unhealthy on its
// own without affecting the rest.
func registerSources(ctx context.Context, registry *enrichment.Registry, cfg *bootstrap.Config, logger *slog.Logger) {
	add := func(name string, fetcher enrichment.Fetcher) {
		sc := cfg.Sources[name]
		src := enrichment.NewSource(fetcher, enrichment.Config{
			Interval:  sc.Interval,
			TTL:       sc.TTL,
			MaxStale:  sc.MaxStale,
			Timeout:   sc.Timeout,
			RateLimit: sc.RateLimit,
			RateBurst: sc.RateBurst,
		}, logger)
		if err := registry.Register(src); err != nil {
			logger.Error("Source registration failed", "source", name, "error", err)
		}
	}

	wcfg := cfg.Sources[shared.SourceWeather]
	add(shared.SourceWeather, weather.New(wcfg.Endpoint, wcfg.APIKey, cfg.HomeLatitude, cfg.HomeLongitude))

	ccfg := cfg.Sources[shared.SourceCarbonIntensity]
	add(shared.SourceCarbonIntensity, carbonintensity.New(ccfg.Endpoint, ccfg.BearerToken))

	pcfg := cfg.Sources[shared.SourceElectricityPrice]
	add(shared.SourceElectricityPrice, electricityprice.New(pcfg.Endpoint, pcfg.BearerToken))

	acfg := cfg.Sources[shared.SourceAirQuality]
	add(shared.SourceAirQuality, airquality.New(acfg.Endpoint, acfg.APIKey, cfg.HomeLatitude, cfg.HomeLongitude))

	mcfg := cfg.Sources[shared.SourceSmartMeter]
	add(shared.SourceSmartMeter, smartmeter.New(mcfg.Endpoint, mcfg.APIKey))

	store := oauth.NewFileTokenStore(cfg.TokenPath)
	oc := &oauth2.Config{
		ClientID:     os.Getenv("CALENDAR_CLIENT_ID"),
		ClientSecret: os.Getenv("CALENDAR_CLIENT_SECRET"),
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
		Scopes: []string{"https://www.googleapis.com/auth/calendar.readonly"},
	}
	source, err := oauth.NewPersistingSource(ctx, oc, store)
	if err != nil {
		logger.Warn("Calendar source disabled", "error", err)
		return
	}
	kcfg := cfg.Sources[shared.SourceCalendar]
	add(shared.SourceCalendar, calendar.New(kcfg.Endpoint, source))
}
