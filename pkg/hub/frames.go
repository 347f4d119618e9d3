package hub

import (
	"time"

	"github.com/homepulse/server/pkg/types"
)

// Frame kinds in the hub's text protocol. The handshake is
// auth_required -> auth -> auth_ok|auth_invalid, then subscribe_events ->
// result, then a stream of event frames interleaved with pings.
const (
	frameAuthRequired = "auth_required"
	frameAuth         = "auth"
	frameAuthOK       = "auth_ok"
	frameAuthInvalid  = "auth_invalid"
	frameSubscribe    = "subscribe_events"
	frameResult       = "result"
	frameEvent        = "event"
	framePing         = "ping"
	framePong         = "pong"
)

// frame is the self-delimited JSON record exchanged with the hub. Only the
// fields relevant to a given type are populated.
type frame struct {
	ID   int64  `json:"id,omitempty"`
	Type string `json:"type"`

	// auth
	AccessToken string `json:"access_token,omitempty"`
	Message     string `json:"message,omitempty"`

	// subscribe_events
	EventType string `json:"event_type,omitempty"`

	// result
	Success *bool `json:"success,omitempty"`

	// event
	Event *eventFrame `json:"event,omitempty"`
}

type eventFrame struct {
	EventType string             `json:"event_type"`
	Data      eventData          `json:"data"`
	Origin    types.Origin       `json:"origin"`
	TimeFired time.Time          `json:"time_fired"`
	Context   types.EventContext `json:"context"`
}

type eventData struct {
	EntityID string       `json:"entity_id"`
	OldState *types.State `json:"old_state"`
	NewState *types.State `json:"new_state"`
}
