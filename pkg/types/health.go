package types

import "time"

// Status is the three-level health scale used for components, sources and
// the system roll-up.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Worse returns the worse of two statuses.
func (s Status) Worse(other Status) Status {
	if s.rank() >= other.rank() {
		return s
	}
	return other
}

func (s Status) rank() int {
	switch s {
	case StatusUnhealthy:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// ComponentHealth is the supervisor's view of one pipeline component.
type ComponentHealth struct {
	Status      Status    `json:"status"`
	Restarts    int       `json:"restarts"`
	LastRestart time.Time `json:"last_restart,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// SourceHealth is one enrichment source's self-report.
type SourceHealth struct {
	Status              Status        `json:"status"`
	FetchedAt           time.Time     `json:"fetched_at,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	CacheAge            time.Duration `json:"cache_age"`
	CircuitState        string        `json:"circuit_state"`
	SkippedTicks        int64         `json:"skipped_ticks"`
}

// HealthView is the read-only roll-up the operator surface returns. It is
// built on demand; no consumer retains it.
type HealthView struct {
	Status        Status                     `json:"status"`
	Components    map[string]ComponentHealth `json:"components"`
	Sources       map[string]SourceHealth    `json:"sources"`
	LastEventAt   time.Time                  `json:"last_event_at,omitempty"`
	LastWriteAt   time.Time                  `json:"last_write_at,omitempty"`
	EventsPerMin  float64                    `json:"events_per_min"`
	BatchPending  int                        `json:"batch_pending"`
	WriteFailures int64                      `json:"consecutive_write_failures"`
	Rejected      map[string]int64           `json:"rejected_by_reason,omitempty"`
}
