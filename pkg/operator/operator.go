// Package operator is the local HTTP surface for humans and probes:
// health, metrics, per-source polling configuration and manual actions.
// It binds to loopback by default and carries no auth of its own.
package operator

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/homepulse/server/pkg/bootstrap"
	"github.com/homepulse/server/pkg/enrichment"
	"github.com/homepulse/server/pkg/supervisor"
	"github.com/homepulse/server/pkg/types"
)

type Server struct {
	sup      *supervisor.Supervisor
	registry *enrichment.Registry
	cfg      *bootstrap.Config
	logger   *slog.Logger
}

func NewServer(sup *supervisor.Supervisor, registry *enrichment.Registry, cfg *bootstrap.Config, logger *slog.Logger) *Server {
	return &Server{sup: sup, registry: registry, cfg: cfg, logger: logger.With("component", "operator")}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Route("/sources/{name}", func(r chi.Router) {
		r.Get("/config", s.handleGetSourceConfig)
		r.Put("/config", s.handlePutSourceConfig)
		r.Post("/snapshot", s.handleSnapshot)
	})
	r.Post("/components/{name}/restart", s.handleRestart)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	view := s.sup.Health()
	code := http.StatusOK
	if view.Status == types.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, view)
}

// sourceConfigView is the wire form of a source's polling parameters.
// Credentials are reported by presence only, never echoed.
type sourceConfigView struct {
	Interval  string  `json:"interval"`
	TTL       string  `json:"ttl"`
	MaxStale  string  `json:"max_stale"`
	Timeout   string  `json:"timeout"`
	RateLimit float64 `json:"rate_limit"`
	RateBurst int     `json:"rate_burst"`
	APIKey    string  `json:"api_key,omitempty"`
	Endpoint  string  `json:"endpoint,omitempty"`
}

func (s *Server) handleGetSourceConfig(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	src, ok := s.registry.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown source: "+name)
		return
	}
	cfg := src.Config()
	view := sourceConfigView{
		Interval:  cfg.Interval.String(),
		TTL:       cfg.TTL.String(),
		MaxStale:  cfg.MaxStale.String(),
		Timeout:   cfg.Timeout.String(),
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
	}
	if sc, ok := s.cfg.Sources[name]; ok {
		if sc.APIKey != "" || sc.BearerToken != "" {
			view.APIKey = "***"
		}
		view.Endpoint = sc.Endpoint
	}
	writeJSON(w, http.StatusOK, view)
}

type sourceConfigUpdate struct {
	Interval  string   `json:"interval,omitempty"`
	TTL       string   `json:"ttl,omitempty"`
	MaxStale  string   `json:"max_stale,omitempty"`
	Timeout   string   `json:"timeout,omitempty"`
	RateLimit *float64 `json:"rate_limit,omitempty"`
	RateBurst *int     `json:"rate_burst,omitempty"`
}

func (s *Server) handlePutSourceConfig(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	src, ok := s.registry.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown source: "+name)
		return
	}

	var upd sourceConfigUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	cfg := src.Config()
	if err := applyDuration(&cfg.Interval, upd.Interval); err != nil {
		writeError(w, http.StatusBadRequest, "interval: "+err.Error())
		return
	}
	if err := applyDuration(&cfg.TTL, upd.TTL); err != nil {
		writeError(w, http.StatusBadRequest, "ttl: "+err.Error())
		return
	}
	if err := applyDuration(&cfg.MaxStale, upd.MaxStale); err != nil {
		writeError(w, http.StatusBadRequest, "max_stale: "+err.Error())
		return
	}
	if err := applyDuration(&cfg.Timeout, upd.Timeout); err != nil {
		writeError(w, http.StatusBadRequest, "timeout: "+err.Error())
		return
	}
	if upd.RateLimit != nil {
		cfg.RateLimit = *upd.RateLimit
	}
	if upd.RateBurst != nil {
		cfg.RateBurst = *upd.RateBurst
	}
	if cfg.Interval <= 0 || cfg.TTL <= 0 || cfg.MaxStale < cfg.TTL {
		writeError(w, http.StatusBadRequest, "interval and ttl must be positive and max_stale must be at least ttl")
		return
	}

	src.SetConfig(cfg)
	s.logger.Info("Source configuration changed via operator API", "source", name)
	s.handleGetSourceConfig(w, r)
}

func applyDuration(dst *time.Duration, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	src, ok := s.registry.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown source: "+name)
		return
	}
	if err := src.TriggerFetch(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, "fetch failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, src.Health())
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.sup.RestartComponent(name); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "restarting", "component": name})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
