// Package types holds the canonical records the ingestion pipeline carries.
package types

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// EntityIDPattern is the shape every entity id must match: domain.object_id.
var EntityIDPattern = regexp.MustCompile(`^[a-z_]+\.[a-z0-9_]+$`)

type Origin string

const (
	OriginLocal  Origin = "LOCAL"
	OriginRemote Origin = "REMOTE"
)

// EventContext carries the hub's causality metadata for an event.
type EventContext struct {
	ID       string  `json:"id"`
	ParentID *string `json:"parent_id,omitempty"`
	UserID   *string `json:"user_id,omitempty"`
}

// State is one side of a state change. State is a pointer so the
// normalizer can tell a null state (rejected) from an empty one (valid).
type State struct {
	State       *string        `json:"state"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Value returns the state string, or "" for a null state.
func (s *State) Value() string {
	if s == nil || s.State == nil {
		return ""
	}
	return *s.State
}

// StringAttr returns a string attribute by key, nil if absent or not a string.
func (s *State) StringAttr(key string) *string {
	if s == nil || s.Attributes == nil {
		return nil
	}
	if v, ok := s.Attributes[key].(string); ok && v != "" {
		return &v
	}
	return nil
}

// RawEvent is an event as received from the hub, before validation.
type RawEvent struct {
	EventType string          `json:"event_type"`
	EntityID  string          `json:"entity_id"`
	TimeFired time.Time       `json:"time_fired"`
	Origin    Origin          `json:"origin"`
	Context   EventContext    `json:"context"`
	OldState  *State          `json:"old_state"`
	NewState  *State          `json:"new_state"`
	Raw       json.RawMessage `json:"-"`
}

// NormalizedEvent is the canonical record the pipeline carries after
// validation. Nil pointer fields mean "not derivable for this event".
type NormalizedEvent struct {
	RawEvent

	Domain          string   `json:"domain"`
	DeviceClass     *string  `json:"device_class,omitempty"`
	Area            *string  `json:"area,omitempty"`
	DeviceID        *string  `json:"device_id,omitempty"`
	EntityCategory  *string  `json:"entity_category,omitempty"`
	DurationInState *float64 `json:"duration_in_state,omitempty"`
	NormalizedValue *float64 `json:"normalized_value,omitempty"`
	Unit            *string  `json:"unit,omitempty"`
}

// Enrichment is one source's contribution to an event: the source-defined
// values plus the snapshot's freshness metadata at the moment of joining.
type Enrichment struct {
	Values map[string]any `json:"values"`
	AsOf   time.Time      `json:"as_of"`
	Fresh  bool           `json:"fresh"`
}

// EnrichedEvent is a NormalizedEvent plus whatever enrichments were
// available when it passed through the joiner. Sources that had nothing
// are absent from the map.
type EnrichedEvent struct {
	NormalizedEvent

	Enrichments map[string]Enrichment `json:"enrichments"`
}

// IdempotencyKey derives the deterministic write-line key the store
// deduplicates on. Retries of the same logical event always produce the
// same key.
func (e *EnrichedEvent) IdempotencyKey() string {
	return IdempotencyKey(e.EntityID, e.TimeFired, e.Context.ID)
}

func IdempotencyKey(entityID string, timeFired time.Time, contextID string) string {
	h := xxhash.New()
	h.WriteString(entityID)
	h.WriteString("|")
	h.WriteString(timeFired.UTC().Format(time.RFC3339Nano))
	h.WriteString("|")
	h.WriteString(contextID)
	return fmt.Sprintf("%016x", h.Sum64())
}

// SplitEntityID returns the domain portion of an entity id, or an error if
// the id does not match the required pattern.
func SplitEntityID(entityID string) (domain string, err error) {
	if !EntityIDPattern.MatchString(entityID) {
		return "", fmt.Errorf("entity id %q does not match domain.object_id", entityID)
	}
	return strings.SplitN(entityID, ".", 2)[0], nil
}
