// Package metrics registers the prometheus instruments for the ingestion
// pipeline. All instruments are process-global; readers scrape them from the
// operator listener.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "homepulse_events_received_total",
		Help: "Raw events received from the hub session.",
	})

	EventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homepulse_events_rejected_total",
		Help: "Events rejected by the normalizer, by reason.",
	}, []string{"reason"})

	EventsNormalized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "homepulse_events_normalized_total",
		Help: "Events accepted by the normalizer.",
	})

	SessionReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "homepulse_session_reconnects_total",
		Help: "Hub session reconnect attempts.",
	})

	SessionFrameErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homepulse_session_frame_errors_total",
		Help: "Per-frame errors on the hub session, by kind.",
	}, []string{"kind"})

	SourceFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homepulse_source_fetches_total",
		Help: "Enrichment source fetch outcomes.",
	}, []string{"source", "outcome"})

	SourceSkippedTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homepulse_source_skipped_ticks_total",
		Help: "Scheduler ticks skipped because a fetch was in flight or rate limited.",
	}, []string{"source", "reason"})

	SourceCacheAge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "homepulse_source_cache_age_seconds",
		Help: "Age of each source's last-good snapshot.",
	}, []string{"source"})

	BatchFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homepulse_batch_flushes_total",
		Help: "Write batches flushed, by trigger (size, age, shutdown).",
	}, []string{"trigger"})

	BatchPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "homepulse_batch_pending_points",
		Help: "Points accumulated in the pending batch.",
	})

	WriteRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "homepulse_write_retries_total",
		Help: "Store write attempts that failed transiently and were retried.",
	})

	PointsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "homepulse_points_written_total",
		Help: "Points acknowledged by the time-series store.",
	})

	DeadLetters = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homepulse_dead_letters_total",
		Help: "Points abandoned to the dead-letter log, by reason.",
	}, []string{"reason"})

	ComponentRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homepulse_component_restarts_total",
		Help: "Supervised component restarts.",
	}, []string{"component"})
)
