// Package stream pushes live agent state to connected operator UIs over
// WebSocket. The hub fans out alert ledger changes and link transitions
// to every client; a client that stops reading is dropped rather than
// allowed to stall the others.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"scoutlink/internal/types"
)

// broadcastBuffer bounds updates queued between the notification
// callbacks and the hub loop. Callbacks run on the mutating goroutine
// and must not block, so overflow drops the update; the next change
// carries the full state anyway.
const broadcastBuffer = 64

// HistorySource provides the ledger view broadcast on every change. The
// reconciler satisfies it.
type HistorySource interface {
	History() types.AlertHistory
}

// StatusSource provides the link view broadcast on every transition.
// The transport manager satisfies it.
type StatusSource interface {
	Status() types.LinkStatus
}

// alertsMessage is one stream frame carrying the full ledger view after
// a change. Sending the whole view keeps clients correct even when an
// intermediate frame was dropped.
type alertsMessage struct {
	Type    string             `json:"type"`
	Cause   types.ChangeCause  `json:"cause"`
	History types.AlertHistory `json:"history"`
}

// linkMessage is one stream frame carrying the transport state.
type linkMessage struct {
	Type string           `json:"type"`
	Link types.LinkStatus `json:"link"`
}

// Hub owns the set of connected stream clients. All client set
// mutations happen on the Run goroutine; the channels are the only way
// in. It listens to the alert store and the transport manager via the
// notification interfaces.
type Hub struct {
	history HistorySource
	link    StatusSource
	logger  *slog.Logger

	upgrader websocket.Upgrader

	register   chan *client
	unregister chan *client
	broadcast  chan []byte

	clients map[*client]struct{}
	count   atomic.Int64

	// done closes when Run exits, releasing clients trying to attach
	// or detach after shutdown.
	done chan struct{}
}

// HubConfig holds the hub's dependencies.
type HubConfig struct {
	History HistorySource
	Link    StatusSource

	// AllowedOrigins mirrors the CORS allowlist for the upgrade
	// handshake. "*" or an empty list allows any origin.
	AllowedOrigins []string

	Logger *slog.Logger
}

// Compile-time checks that the hub plugs into the notification
// interfaces.
var (
	_ types.ChangeListener = (*Hub)(nil)
	_ types.LinkListener   = (*Hub)(nil)
)

// NewHub creates a stream hub. Run must be started before clients can
// connect.
func NewHub(cfg HubConfig) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{
		history: cfg.History,
		link:    cfg.Link,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, broadcastBuffer),
		clients:    make(map[*client]struct{}),
		done:       make(chan struct{}),
	}
}

// originChecker builds the upgrade handshake origin check. Requests
// without an Origin header (non-browser clients) are always allowed.
func originChecker(allowed []string) func(*http.Request) bool {
	allowAll := len(allowed) == 0
	originSet := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			allowAll = true
		}
		originSet[origin] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowAll {
			return true
		}
		_, ok := originSet[origin]
		return ok
	}
}

// RegisterRoutes mounts the stream endpoint onto the mux. The route
// must be mounted outside the request-deadline and compression
// wrappers.
func (h *Hub) RegisterRoutes(r chi.Router) {
	r.Get("/stream", h.HandleStream)
}

// StoreChanged implements types.ChangeListener. Runs on the mutating
// goroutine, so it only marshals and enqueues.
func (h *Hub) StoreChanged(change types.StoreChange) {
	h.enqueue(alertsMessage{
		Type:    "alerts",
		Cause:   change.Cause,
		History: h.history.History(),
	})
}

// LinkChanged implements types.LinkListener.
func (h *Hub) LinkChanged(status types.LinkStatus) {
	h.enqueue(linkMessage{Type: "link", Link: status})
}

func (h *Hub) enqueue(msg any) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("stream frame marshal failed", "error", err)
		return
	}

	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("stream broadcast queue full, dropping update")
	}
}

// Run owns the client set until the context is cancelled. On shutdown
// every client's send channel is closed, which ends its write pump with
// a close frame.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.count.Store(0)
			return ctx.Err()

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			h.logger.InfoContext(ctx, "stream client connected",
				"remote_addr", c.remoteAddr(),
				"clients", len(h.clients),
			)

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.count.Store(int64(len(h.clients)))
				h.logger.InfoContext(ctx, "stream client disconnected",
					"remote_addr", c.remoteAddr(),
					"clients", len(h.clients),
				)
			}

		case payload := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- payload:
				default:
					// The client stopped draining its queue; cut it
					// loose instead of stalling the fan-out.
					delete(h.clients, c)
					close(c.send)
					h.logger.Warn("stream client too slow, dropping",
						"remote_addr", c.remoteAddr(),
					)
				}
			}
			h.count.Store(int64(len(h.clients)))
		}
	}
}

// ClientCount reports how many clients are currently connected.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// attach hands a new client to the Run loop. Returns false when the hub
// has already stopped.
func (h *Hub) attach(c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// detach asks the Run loop to drop a client. Safe after shutdown.
func (h *Hub) detach(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// HandleStream handles GET /stream. Upgrades the connection, queues the
// current alert and link state as the first frames, and starts the
// client pumps.
func (h *Hub) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the handshake error.
		h.logger.Warn("stream upgrade failed",
			"error", err,
			"remote_addr", r.RemoteAddr,
		)
		return
	}

	c := newClient(h, conn)
	c.queueInitialState()

	if !h.attach(c) {
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// queueInitialState pre-loads the client's send queue with the current
// state so the UI renders without waiting for the next change. Called
// before the pumps start, so the buffered sends cannot block.
func (c *client) queueInitialState() {
	frames := []any{
		alertsMessage{
			Type:    "alerts",
			Cause:   types.ChangeSnapshot,
			History: c.hub.history.History(),
		},
		linkMessage{Type: "link", Link: c.hub.link.Status()},
	}

	for _, msg := range frames {
		payload, err := json.Marshal(msg)
		if err != nil {
			c.hub.logger.Error("stream frame marshal failed", "error", err)
			continue
		}
		c.send <- payload
	}
}
