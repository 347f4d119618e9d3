package hub

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/homepulse/server/pkg/health"
	"github.com/homepulse/server/pkg/types"
)

var upgrader = websocket.Upgrader{}

// fakeHub scripts one side of the hub protocol for a single connection.
type fakeHub struct {
	t        *testing.T
	token    string
	rejected bool
	script   func(conn *websocket.Conn)
}

func (h *fakeHub) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.t.Logf("upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(&frame{Type: frameAuthRequired}); err != nil {
		return
	}
	var auth frame
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	if auth.Type != frameAuth {
		h.t.Errorf("expected auth frame, got %q", auth.Type)
		return
	}
	if h.rejected || auth.AccessToken != h.token {
		conn.WriteJSON(&frame{Type: frameAuthInvalid, Message: "invalid token"})
		return
	}
	if err := conn.WriteJSON(&frame{Type: frameAuthOK}); err != nil {
		return
	}

	var sub frame
	if err := conn.ReadJSON(&sub); err != nil {
		return
	}
	if sub.Type != frameSubscribe || sub.EventType != "state_changed" {
		h.t.Errorf("unexpected subscribe frame: %+v", sub)
		return
	}
	ok := true
	if err := conn.WriteJSON(&frame{ID: sub.ID, Type: frameResult, Success: &ok}); err != nil {
		return
	}

	if h.script != nil {
		h.script(conn)
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func strPtr(s string) *string { return &s }

func stateChange(entityID string) *frame {
	now := time.Now().UTC()
	return &frame{
		Type: frameEvent,
		Event: &eventFrame{
			EventType: "state_changed",
			Origin:    types.OriginLocal,
			TimeFired: now,
			Context:   types.EventContext{ID: "ctx-1"},
			Data: eventData{
				EntityID: entityID,
				NewState: &types.State{State: strPtr("on"), LastChanged: now, LastUpdated: now},
			},
		},
	}
}

func TestSessionDeliversEvents(t *testing.T) {
	delivered := make(chan struct{})
	hub := &fakeHub{t: t, token: "valid-token"}
	hub.script = func(conn *websocket.Conn) {
		conn.WriteJSON(stateChange("light.kitchen"))
		<-delivered
	}
	srv := httptest.NewServer(http.HandlerFunc(hub.handler))
	defer srv.Close()

	out := make(chan types.RawEvent, 4)
	s := NewSession(Config{URL: wsURL(srv), Token: "valid-token"}, out, health.NewTracker(), slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case ev := <-out:
		close(delivered)
		if ev.EntityID != "light.kitchen" {
			t.Errorf("EntityID = %q", ev.EntityID)
		}
		if ev.NewState == nil || ev.NewState.Value() != "on" {
			t.Errorf("NewState = %+v", ev.NewState)
		}
		if ev.Context.ID != "ctx-1" {
			t.Errorf("Context.ID = %q", ev.Context.ID)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("event never delivered")
	}

	if got := s.State(); got != StateSubscribed {
		t.Errorf("State() = %q, want subscribed", got)
	}
	if s.AuthFailed() {
		t.Error("AuthFailed() = true after successful handshake")
	}
	if got := s.Status(); got != types.StatusHealthy {
		t.Errorf("Status() = %v while subscribed, want healthy", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
	if got := s.State(); got != StateStopped {
		t.Errorf("State() after stop = %q, want stopped", got)
	}
}

func TestSessionAuthRejected(t *testing.T) {
	hub := &fakeHub{t: t, token: "valid-token", rejected: true}
	srv := httptest.NewServer(http.HandlerFunc(hub.handler))
	defer srv.Close()

	out := make(chan types.RawEvent, 4)
	s := NewSession(Config{URL: wsURL(srv), Token: "wrong-token"}, out, health.NewTracker(), slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) && !s.AuthFailed() {
		time.Sleep(10 * time.Millisecond)
	}
	if !s.AuthFailed() {
		t.Fatal("AuthFailed() never became true")
	}
	if got := s.Status(); got != types.StatusUnhealthy {
		t.Errorf("Status() = %v while auth is rejected, want unhealthy", got)
	}

	cancel()
	<-done
}

// The session must survive a transport drop: reconnect, redo the full
// auth/subscribe handshake, and resume delivering events.
func TestSessionReconnectsAfterTransportDrop(t *testing.T) {
	var conns atomic.Int64
	release := make(chan struct{})
	hub := &fakeHub{t: t, token: "valid-token"}
	hub.script = func(conn *websocket.Conn) {
		switch conns.Add(1) {
		case 1:
			conn.WriteJSON(stateChange("light.kitchen"))
			// Let the settle delay pass so the event is read, then drop.
			time.Sleep(1500 * time.Millisecond)
			conn.Close()
		default:
			conn.WriteJSON(stateChange("light.hallway"))
			<-release
		}
	}
	srv := httptest.NewServer(http.HandlerFunc(hub.handler))
	defer srv.Close()

	out := make(chan types.RawEvent, 4)
	s := NewSession(Config{URL: wsURL(srv), Token: "valid-token"}, out, health.NewTracker(), slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	recv := func(want string) {
		t.Helper()
		select {
		case ev := <-out:
			if ev.EntityID != want {
				t.Errorf("EntityID = %q, want %q", ev.EntityID, want)
			}
		case <-time.After(15 * time.Second):
			t.Fatalf("event %q never delivered", want)
		}
	}
	recv("light.kitchen")
	recv("light.hallway")

	if got := conns.Load(); got != 2 {
		t.Errorf("hub saw %d subscribed connections, want 2", got)
	}
	if got := s.State(); got != StateSubscribed {
		t.Errorf("State() = %q after reconnect, want subscribed", got)
	}

	close(release)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
}

// A full downstream channel pauses transport reads; every event must still
// arrive, in order, once the consumer catches up.
func TestFullChannelPausesReadsWithoutDropping(t *testing.T) {
	entities := []string{"light.kitchen", "light.hallway", "light.bedroom"}
	release := make(chan struct{})
	hub := &fakeHub{t: t, token: "valid-token"}
	hub.script = func(conn *websocket.Conn) {
		for _, id := range entities {
			conn.WriteJSON(stateChange(id))
		}
		<-release
	}
	srv := httptest.NewServer(http.HandlerFunc(hub.handler))
	defer srv.Close()

	out := make(chan types.RawEvent, 1)
	s := NewSession(Config{URL: wsURL(srv), Token: "valid-token"}, out, health.NewTracker(), slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	// Leave the consumer stalled long enough for the channel to fill and
	// the blocking send to park the read loop.
	time.Sleep(2500 * time.Millisecond)

	for _, want := range entities {
		select {
		case ev := <-out:
			if ev.EntityID != want {
				t.Errorf("EntityID = %q, want %q", ev.EntityID, want)
			}
		case <-time.After(10 * time.Second):
			t.Fatalf("event %q lost under backpressure", want)
		}
	}

	close(release)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
}

func TestSessionAnswersPing(t *testing.T) {
	gotPong := make(chan int64, 1)
	hub := &fakeHub{t: t, token: "valid-token"}
	hub.script = func(conn *websocket.Conn) {
		conn.WriteJSON(&frame{ID: 77, Type: framePing})
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			if f.Type == framePong {
				gotPong <- f.ID
				return
			}
		}
	}
	srv := httptest.NewServer(http.HandlerFunc(hub.handler))
	defer srv.Close()

	out := make(chan types.RawEvent, 4)
	s := NewSession(Config{URL: wsURL(srv), Token: "valid-token"}, out, health.NewTracker(), slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	select {
	case id := <-gotPong:
		if id != 77 {
			t.Errorf("pong ID = %d, want 77 (echo of the ping)", id)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("session never answered ping")
	}
}

func TestTokenFingerprintIsNotTheToken(t *testing.T) {
	token := "very-secret-long-lived-token"
	fp := tokenFingerprint(token)
	if len(fp) != 8 {
		t.Errorf("fingerprint length = %d, want 8", len(fp))
	}
	if strings.Contains(token, fp) && len(fp) >= len(token) {
		t.Error("fingerprint leaks the token")
	}
	if fp != tokenFingerprint(token) {
		t.Error("fingerprint not deterministic")
	}
}
