package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"scoutlink/internal/alerts"
	"scoutlink/internal/transport"
	"scoutlink/internal/types"
)

// The reconciler and the transport manager must satisfy the hub's state
// sources.
var (
	_ HistorySource = (*alerts.EventReconciler)(nil)
	_ StatusSource  = (*transport.Manager)(nil)
)

// --- Mock Sources ---

type mockHistorySource struct {
	mu      sync.Mutex
	history types.AlertHistory
}

func (m *mockHistorySource) History() types.AlertHistory {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history
}

func (m *mockHistorySource) set(h types.AlertHistory) {
	m.mu.Lock()
	m.history = h
	m.mu.Unlock()
}

type mockStatusSource struct {
	mu     sync.Mutex
	status types.LinkStatus
}

func (m *mockStatusSource) Status() types.LinkStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// --- Harness ---

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

type hubHarness struct {
	hub     *Hub
	server  *httptest.Server
	history *mockHistorySource
	link    *mockStatusSource
}

func newHubHarness(t *testing.T, origins ...string) *hubHarness {
	t.Helper()

	history := &mockHistorySource{history: types.AlertHistory{
		Events: []types.DetectionEvent{
			{ID: "evt-2040", Kind: types.KindLife, Confidence: 0.8, Lat: 12.9716, Lon: 77.5946, OccurredAt: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC), Active: true},
		},
		Revision:    3,
		ActiveCount: 1,
	}}
	link := &mockStatusSource{status: types.LinkStatus{PushState: types.LinkConnected}}

	hub := NewHub(HubConfig{
		History:        history,
		Link:           link,
		AllowedOrigins: origins,
		Logger:         slog.New(slog.DiscardHandler),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Run(ctx)
	}()

	r := chi.NewRouter()
	r.Route("/api/v1", hub.RegisterRoutes)
	server := httptest.NewServer(r)

	t.Cleanup(func() {
		server.Close()
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("hub did not stop")
		}
	})

	return &hubHarness{hub: hub, server: server, history: history, link: link}
}

func (h *hubHarness) wsURL() string {
	return "ws" + strings.TrimPrefix(h.server.URL, "http") + "/api/v1/stream"
}

func (h *hubHarness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(h.wsURL(), nil)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// frame is the decoded superset of every stream message type.
type frame struct {
	Type    string              `json:"type"`
	Cause   types.ChangeCause   `json:"cause,omitempty"`
	History *types.AlertHistory `json:"history,omitempty"`
	Link    *types.LinkStatus   `json:"link,omitempty"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var f frame
	if err := json.Unmarshal(payload, &f); err != nil {
		t.Fatalf("decode frame %q: %v", payload, err)
	}
	return f
}

// drainInitialState reads the two frames every new client receives.
func drainInitialState(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	for i := 0; i < 2; i++ {
		readFrame(t, conn)
	}
}

// --- Tests ---

func TestHandleStream_InitialState(t *testing.T) {
	h := newHubHarness(t)
	conn := h.dial(t)

	first := readFrame(t, conn)
	if first.Type != "alerts" {
		t.Fatalf("first frame type = %q, want alerts", first.Type)
	}
	if first.Cause != types.ChangeSnapshot {
		t.Errorf("first frame cause = %q, want snapshot", first.Cause)
	}
	if first.History == nil || first.History.Revision != 3 {
		t.Errorf("first frame history = %+v, want revision 3", first.History)
	}

	second := readFrame(t, conn)
	if second.Type != "link" {
		t.Fatalf("second frame type = %q, want link", second.Type)
	}
	if second.Link == nil || second.Link.PushState != types.LinkConnected {
		t.Errorf("second frame link = %+v, want connected", second.Link)
	}
}

func TestHandleStream_BroadcastsStoreChanges(t *testing.T) {
	h := newHubHarness(t)
	conn := h.dial(t)
	drainInitialState(t, conn)

	h.history.set(types.AlertHistory{
		Events: []types.DetectionEvent{
			{ID: "evt-2041", Kind: types.KindFire, Active: true},
			{ID: "evt-2040", Kind: types.KindLife, Active: true},
		},
		Revision:    4,
		ActiveCount: 2,
	})
	h.hub.StoreChanged(types.StoreChange{Cause: types.ChangePush, Revision: 4, EventID: "evt-2041"})

	f := readFrame(t, conn)
	if f.Type != "alerts" || f.Cause != types.ChangePush {
		t.Fatalf("frame = %q/%q, want alerts/push", f.Type, f.Cause)
	}
	if f.History == nil || f.History.Revision != 4 || len(f.History.Events) != 2 {
		t.Errorf("frame history = %+v, want the updated view", f.History)
	}
}

func TestHandleStream_BroadcastsLinkTransitions(t *testing.T) {
	h := newHubHarness(t)
	conn := h.dial(t)
	drainInitialState(t, conn)

	h.hub.LinkChanged(types.LinkStatus{PushState: types.LinkDisconnected, Disconnects: 1})

	f := readFrame(t, conn)
	if f.Type != "link" {
		t.Fatalf("frame type = %q, want link", f.Type)
	}
	if f.Link == nil || f.Link.PushState != types.LinkDisconnected || f.Link.Disconnects != 1 {
		t.Errorf("frame link = %+v, want the disconnected status", f.Link)
	}
}

func TestHandleStream_FanOutReachesEveryClient(t *testing.T) {
	h := newHubHarness(t)
	first := h.dial(t)
	second := h.dial(t)
	drainInitialState(t, first)
	drainInitialState(t, second)

	h.hub.LinkChanged(types.LinkStatus{PushState: types.LinkConnecting})

	for _, conn := range []*websocket.Conn{first, second} {
		f := readFrame(t, conn)
		if f.Type != "link" || f.Link == nil || f.Link.PushState != types.LinkConnecting {
			t.Errorf("client missed the broadcast, got %+v", f)
		}
	}
}

func TestHandleStream_DisconnectUnregisters(t *testing.T) {
	h := newHubHarness(t)
	conn := h.dial(t)
	drainInitialState(t, conn)

	eventually(t, func() bool { return h.hub.ClientCount() == 1 }, "client never registered")

	conn.Close()
	eventually(t, func() bool { return h.hub.ClientCount() == 0 }, "client never unregistered after disconnect")
}

func TestHandleStream_RejectsDisallowedOrigin(t *testing.T) {
	h := newHubHarness(t, "http://localhost:5173")

	header := http.Header{"Origin": []string{"http://rogue.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(h.wsURL(), header)
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("expected a handshake rejection, got %v", err)
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected status 403, got %+v", resp)
	}
	resp.Body.Close()
}

func TestHandleStream_AllowsConfiguredOrigin(t *testing.T) {
	h := newHubHarness(t, "http://localhost:5173")

	header := http.Header{"Origin": []string{"http://localhost:5173"}}
	conn, resp, err := websocket.DefaultDialer.Dial(h.wsURL(), header)
	if err != nil {
		t.Fatalf("dial with allowed origin: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	f := readFrame(t, conn)
	if f.Type != "alerts" {
		t.Errorf("first frame type = %q, want alerts", f.Type)
	}
}

func TestHubRun_ShutdownClosesClients(t *testing.T) {
	history := &mockHistorySource{}
	link := &mockStatusSource{}
	hub := NewHub(HubConfig{History: history, Link: link, Logger: slog.New(slog.DiscardHandler)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	r := chi.NewRouter()
	r.Route("/api/v1", hub.RegisterRoutes)
	server := httptest.NewServer(r)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()
	drainInitialState(t, conn)

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	// The hub closed the send queue, which ends the connection with a
	// close frame.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// wsTestConn opens a client-side connection to a throwaway server so a
// hand-built client has a live conn behind remoteAddr.
func wsTestConn(t *testing.T) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serverConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer serverConn.Close()
		for {
			if _, _, err := serverConn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial test conn: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubRun_DropsSlowClientWithoutBlockingOthers(t *testing.T) {
	hub := NewHub(HubConfig{
		History: &mockHistorySource{},
		Link:    &mockStatusSource{},
		Logger:  slog.New(slog.DiscardHandler),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// No pumps running: the stalled client's queue has no capacity and
	// nothing draining it, the healthy one has room to spare.
	stalled := &client{hub: hub, conn: wsTestConn(t), send: make(chan []byte)}
	healthy := &client{hub: hub, conn: wsTestConn(t), send: make(chan []byte, 4)}
	if !hub.attach(stalled) || !hub.attach(healthy) {
		t.Fatal("attach failed")
	}
	eventually(t, func() bool { return hub.ClientCount() == 2 }, "clients never registered")

	hub.LinkChanged(types.LinkStatus{PushState: types.LinkConnected})

	eventually(t, func() bool { return hub.ClientCount() == 1 }, "stalled client was never dropped")

	select {
	case payload := <-healthy.send:
		var f frame
		if err := json.Unmarshal(payload, &f); err != nil {
			t.Fatalf("decode broadcast: %v", err)
		}
		if f.Type != "link" {
			t.Errorf("frame type = %q, want link", f.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("healthy client never received the broadcast")
	}

	if _, ok := <-stalled.send; ok {
		t.Error("expected the dropped client's queue to be closed")
	}
}
