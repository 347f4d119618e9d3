// Package hub maintains the authenticated, subscribed websocket connection
// to the home-automation hub and emits raw events downstream.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cespare/xxhash/v2"
	"github.com/gorilla/websocket"

	shared "github.com/homepulse/server/pkg"
	"github.com/homepulse/server/pkg/bootstrap"
	"github.com/homepulse/server/pkg/health"
	"github.com/homepulse/server/pkg/metrics"
	"github.com/homepulse/server/pkg/types"
)

// State is the session's connection lifecycle state.
type State string

const (
	StateDisconnected   State = "disconnected"
	StateConnecting     State = "connecting"
	StateAuthenticating State = "authenticating"
	StateSubscribing    State = "subscribing"
	StateSubscribed     State = "subscribed"
	StateReconnecting   State = "reconnecting"
	StateStopped        State = "stopped"
)

// AuthError is returned when the hub rejects our credentials. The token
// itself is never included; Fingerprint identifies which token was used.
type AuthError struct {
	Fingerprint string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("hub rejected access token (fingerprint %s)", e.Fingerprint)
}

// backoffResetAfter is how long the session must stay subscribed before the
// reconnect backoff counter resets.
const backoffResetAfter = 60 * time.Second

type Config struct {
	URL       string
	Token     string
	EventType string // defaults to "state_changed"

	MaxBackoff        time.Duration // defaults to 60s
	SettleDelay       time.Duration // at least 1s; the peer needs time to finish setup
	HeartbeatInterval time.Duration // defaults to 30s
	WriteTimeout      time.Duration // defaults to 10s
}

// Session owns exactly one hub connection at a time. When the downstream
// channel is full the session blocks, which pauses transport reads; it
// never drops an event.
type Session struct {
	cfg     Config
	out     chan<- types.RawEvent
	tracker *health.Tracker
	logger  *slog.Logger
	drift   *bootstrap.LogLimiter

	nextID atomic.Int64

	mu           sync.Mutex
	state        State
	subscribedAt time.Time
	authFailed   bool

	writeMu sync.Mutex
}

func NewSession(cfg Config, out chan<- types.RawEvent, tracker *health.Tracker, logger *slog.Logger) *Session {
	if cfg.EventType == "" {
		cfg.EventType = "state_changed"
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = shared.DefaultReconnectMaxBackoff
	}
	if cfg.SettleDelay < time.Second {
		cfg.SettleDelay = time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Session{
		cfg:     cfg,
		out:     out,
		tracker: tracker,
		logger:  logger.With("component", shared.ComponentSession),
		drift:   bootstrap.NewLogLimiter(time.Hour),
		state:   StateDisconnected,
	}
}

func (s *Session) Name() string { return shared.ComponentSession }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AuthFailed reports whether the most recent connection attempt was
// rejected by the hub's auth handshake.
func (s *Session) AuthFailed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authFailed
}

// Status maps the connection lifecycle onto the shared health scale:
// unhealthy while the hub rejects our credentials, healthy only while
// subscribed, degraded in every transitional state. The supervisor folds
// this into the session component's roll-up.
func (s *Session) Status() types.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authFailed {
		return types.StatusUnhealthy
	}
	if s.state == StateSubscribed {
		return types.StatusHealthy
	}
	return types.StatusDegraded
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	if st == StateSubscribed {
		s.subscribedAt = time.Now()
	}
	s.mu.Unlock()
	if prev != st {
		s.logger.Info("Session state changed", "from", string(prev), "to", string(st))
	}
}

// Run connects, authenticates, subscribes and pumps events until ctx is
// cancelled. Connection loss of any kind triggers reconnection with
// exponential backoff; auth rejection is retried indefinitely on the same
// schedule while health reports it.
func (s *Session) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.2
	bo.MaxInterval = s.cfg.MaxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()

	for {
		s.setState(StateConnecting)
		subscribedFor, err := s.runOnce(ctx)

		if ctx.Err() != nil {
			s.setState(StateStopped)
			return nil
		}
		if err != nil {
			s.logger.Warn("Session connection ended", "error", err)
		}

		if subscribedFor >= backoffResetAfter {
			bo.Reset()
		}

		s.setState(StateReconnecting)
		metrics.SessionReconnects.Inc()
		wait := bo.NextBackOff()
		s.logger.Info("Reconnecting to hub", "backoff", wait.String())
		select {
		case <-ctx.Done():
			s.setState(StateStopped)
			return nil
		case <-time.After(wait):
		}
	}
}

// runOnce performs a full connect/auth/subscribe/read cycle and returns how
// long the session stayed subscribed.
func (s *Session) runOnce(ctx context.Context) (time.Duration, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("dial hub: %w", err)
	}
	defer conn.Close()

	// Unblock pending reads on shutdown.
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	if err := s.authenticate(conn); err != nil {
		return 0, err
	}
	if err := s.subscribe(ctx, conn); err != nil {
		return 0, err
	}

	s.setState(StateSubscribed)
	subscribedAt := time.Now()

	go s.heartbeat(connCtx, conn)

	err = s.readLoop(ctx, conn)
	return time.Since(subscribedAt), err
}

func (s *Session) authenticate(conn *websocket.Conn) error {
	s.setState(StateAuthenticating)

	f, err := s.readFrame(conn)
	if err != nil {
		return fmt.Errorf("read auth_required: %w", err)
	}
	if f.Type != frameAuthRequired {
		return fmt.Errorf("expected auth_required, got %q", f.Type)
	}

	if err := s.writeFrame(conn, &frame{Type: frameAuth, AccessToken: s.cfg.Token}); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	f, err = s.readFrame(conn)
	if err != nil {
		return fmt.Errorf("read auth result: %w", err)
	}
	switch f.Type {
	case frameAuthOK:
		s.mu.Lock()
		s.authFailed = false
		s.mu.Unlock()
		return nil
	case frameAuthInvalid:
		s.mu.Lock()
		s.authFailed = true
		s.mu.Unlock()
		authErr := &AuthError{Fingerprint: tokenFingerprint(s.cfg.Token)}
		s.logger.Error("Hub rejected access token", "fingerprint", authErr.Fingerprint, "message", f.Message)
		return authErr
	default:
		return fmt.Errorf("unexpected frame %q during auth", f.Type)
	}
}

// subscribe sends the subscription command and waits for the explicit
// success result, then lets the peer settle before events count as
// confirmed.
func (s *Session) subscribe(ctx context.Context, conn *websocket.Conn) error {
	s.setState(StateSubscribing)

	id := s.nextID.Add(1)
	if err := s.writeFrame(conn, &frame{ID: id, Type: frameSubscribe, EventType: s.cfg.EventType}); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}

	for {
		f, err := s.readFrame(conn)
		if err != nil {
			return fmt.Errorf("read subscribe result: %w", err)
		}
		if f.Type != frameResult || f.ID != id {
			continue
		}
		if f.Success == nil || !*f.Success {
			return fmt.Errorf("subscription rejected by hub")
		}
		break
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.cfg.SettleDelay):
	}
	return nil
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		conn.SetReadDeadline(time.Now().Add(2 * s.cfg.HeartbeatInterval))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("transport read: %w", err)
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			metrics.SessionFrameErrors.WithLabelValues("parse").Inc()
			s.logger.Warn("Dropping unparseable frame", "error", err)
			continue
		}

		switch f.Type {
		case frameEvent:
			if f.Event == nil || f.Event.EventType != s.cfg.EventType {
				metrics.SessionFrameErrors.WithLabelValues("unexpected_event").Inc()
				continue
			}
			ev := types.RawEvent{
				EventType: f.Event.EventType,
				EntityID:  f.Event.Data.EntityID,
				TimeFired: f.Event.TimeFired,
				Origin:    f.Event.Origin,
				Context:   f.Event.Context,
				OldState:  f.Event.Data.OldState,
				NewState:  f.Event.Data.NewState,
				Raw:       data,
			}
			// Blocking send: a full channel pauses transport reads rather
			// than dropping the event.
			select {
			case s.out <- ev:
				s.tracker.RecordEvent()
				metrics.EventsReceived.Inc()
			case <-ctx.Done():
				return ctx.Err()
			}

		case framePing:
			if err := s.writeFrame(conn, &frame{ID: f.ID, Type: framePong}); err != nil {
				return fmt.Errorf("send pong: %w", err)
			}

		case framePong, frameResult:
			// Heartbeat replies and late command results.

		default:
			metrics.SessionFrameErrors.WithLabelValues("unknown_kind").Inc()
			if s.drift.Allow("frame_kind:" + f.Type) {
				s.logger.Warn("Unknown frame kind from hub", "type", f.Type)
			}
		}
	}
}

// heartbeat sends application-level pings; a peer that stops answering
// trips the read deadline in readLoop.
func (s *Session) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.writeFrame(conn, &frame{ID: s.nextID.Add(1), Type: framePing}); err != nil {
				return
			}
		}
	}
}

func (s *Session) writeFrame(conn *websocket.Conn, f *frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return conn.WriteJSON(f)
}

func (s *Session) readFrame(conn *websocket.Conn) (*frame, error) {
	conn.SetReadDeadline(time.Now().Add(2 * s.cfg.HeartbeatInterval))
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

func tokenFingerprint(token string) string {
	return fmt.Sprintf("%08x", xxhash.Sum64String(token))[:8]
}
