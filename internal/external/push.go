package external

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"scoutlink/internal/types"
)

// Push subscription keepalive. The agent pings the device and expects the
// read deadline to be pushed forward by pongs or event traffic; a link that
// stays silent past pongWait is reported lost so the reconnect loop can
// take over.
const (
	pushHandshakeTimeout = 10 * time.Second
	pushWriteWait        = 10 * time.Second
	pushPongWait         = 60 * time.Second
	pushPingPeriod       = (pushPongWait * 9) / 10
	pushMaxMessageSize   = 4096
)

// PushConn is one live subscription to the device's detection feed.
// Implementations deliver one event per call and stay usable after a
// rejected payload; only link-level errors end the subscription.
type PushConn interface {
	// ReadEvent blocks until the next pushed event arrives, the payload is
	// rejected, or the subscription fails. Rejected payloads return a
	// validation error and leave the connection open; use IsRejectedPayload
	// to tell the two apart.
	ReadEvent(ctx context.Context) (types.DetectionEvent, error)

	// Close tears down the subscription. Safe to call more than once.
	Close() error
}

// PushDialer opens push subscriptions to the device.
type PushDialer interface {
	Dial(ctx context.Context) (PushConn, error)
}

// IsRejectedPayload reports whether a ReadEvent error was a dropped message
// rather than a lost subscription. The connection is still readable.
func IsRejectedPayload(err error) bool {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return strings.HasPrefix(string(appErr.Code), "validation_")
}

// PushDialerConfig holds the settings for the websocket push dialer.
type PushDialerConfig struct {
	// URL is the device's push endpoint (ws:// or wss://).
	URL string

	// Token is the bearer token presented during the handshake.
	// May be empty for unauthenticated devices.
	Token types.SecretString

	// Logger for connection lifecycle messages.
	Logger *slog.Logger
}

// WebsocketPushDialer opens websocket subscriptions to the device's push
// endpoint. Each successful dial returns an independent PushConn with its
// own keepalive pinger.
type WebsocketPushDialer struct {
	url    string
	token  types.SecretString
	logger *slog.Logger
}

// NewWebsocketPushDialer creates a dialer for the device push endpoint.
func NewWebsocketPushDialer(cfg PushDialerConfig) *WebsocketPushDialer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WebsocketPushDialer{
		url:    cfg.URL,
		token:  cfg.Token,
		logger: logger,
	}
}

// Dial opens one push subscription. The returned connection owns the
// keepalive pinger and must be closed by the caller.
func (d *WebsocketPushDialer) Dial(ctx context.Context) (PushConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: pushHandshakeTimeout}

	header := http.Header{}
	if d.token.Unmask() != "" {
		header.Set("Authorization", "Bearer "+d.token.Unmask())
	}

	conn, resp, err := dialer.DialContext(ctx, d.url, header)
	if err != nil {
		if resp != nil {
			d.logger.Error("push subscription handshake rejected",
				"status_code", resp.StatusCode,
				"error", err,
			)
			resp.Body.Close()
		}
		return nil, types.NewAppError(types.ErrCodeUpstreamDevice, "failed to open push subscription", err)
	}

	return newWSPushConn(conn, d.logger), nil
}

var _ PushDialer = (*WebsocketPushDialer)(nil)

// wsPushConn wraps one websocket connection. A background pinger keeps the
// link alive; reads enforce a deadline that pongs and event traffic extend.
type wsPushConn struct {
	conn   *websocket.Conn
	logger *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newWSPushConn(conn *websocket.Conn, logger *slog.Logger) *wsPushConn {
	c := &wsPushConn{
		conn:   conn,
		logger: logger,
		done:   make(chan struct{}),
	}

	conn.SetReadLimit(pushMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pushPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pushPongWait))
	})

	go c.pingLoop()
	return c
}

// pingLoop sends periodic pings until the connection closes. A failed ping
// is not reported here; the read side hits its deadline shortly after and
// surfaces the lost link to the caller.
func (c *wsPushConn) pingLoop() {
	ticker := time.NewTicker(pushPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pushWriteWait)); err != nil {
				return
			}
		}
	}
}

// ReadEvent blocks for the next pushed event. Each message carries exactly
// one JSON event; messages that fail to parse or validate are returned as
// validation errors without closing the connection.
func (c *wsPushConn) ReadEvent(ctx context.Context) (types.DetectionEvent, error) {
	// A cancelled context force-closes the socket so the blocking read
	// returns. ReadEvent then reports the cancellation, not the read error.
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return types.DetectionEvent{}, ctx.Err()
		}
		return types.DetectionEvent{}, types.NewAppError(types.ErrCodeUpstreamDevice, "push subscription lost", err)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(pushPongWait))

	event, err := ParsePushMessage(data)
	if err != nil {
		return types.DetectionEvent{}, err
	}
	return event, nil
}

// Close tears down the connection and stops the pinger.
func (c *wsPushConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(pushWriteWait)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

var _ PushConn = (*wsPushConn)(nil)
