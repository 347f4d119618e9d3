package shared

import (
	"context"

	"golang.org/x/oauth2"
)

// --- Persistence Interfaces ---

// TimeSeriesWriter writes pre-encoded line-protocol records to the store.
// A nil error means the store acknowledged the whole batch.
type TimeSeriesWriter interface {
	WriteLines(ctx context.Context, lines []string) error
}

// DeadLetter records points the pipeline has given up on. It is the only
// place where data loss is visible.
type DeadLetter interface {
	Record(rec DeadLetterRecord) error
}

// DeadLetterRecord is one abandoned point.
type DeadLetterRecord struct {
	ID       string `json:"id"`
	Reason   string `json:"reason"`
	Attempts int    `json:"attempts"`
	Line     string `json:"line"`
	At       string `json:"at"`
}

// TokenStore persists the calendar OAuth token between restarts. This is
// the only durable local state the core keeps.
type TokenStore interface {
	Load() (*oauth2.Token, error)
	Save(tok *oauth2.Token) error
}
