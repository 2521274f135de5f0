package stream

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds a single frame write to the peer.
	writeWait = 10 * time.Second

	// pongWait is how long the peer has to answer a ping before the
	// read side gives up.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize caps inbound frames. The stream is one-way; the
	// peer has nothing large to say.
	maxMessageSize = 512

	// sendBuffer holds frames queued for one client. Two slots go to
	// the initial state; the rest absorb bursts before the slow-client
	// drop kicks in.
	sendBuffer = 16
)

// client pairs one WebSocket connection with its outbound queue. The
// hub owns the send channel: it is closed only by the Run loop, which
// ends the write pump with a close frame.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func newClient(h *Hub, conn *websocket.Conn) *client {
	return &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
}

func (c *client) remoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// readPump drains inbound frames until the connection dies, keeping the
// pong deadline fresh. Frame content is ignored; the read side exists
// to notice disconnects.
func (c *client) readPump() {
	defer func() {
		c.hub.detach(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
			) {
				c.hub.logger.Warn("stream read failed",
					"error", err,
					"remote_addr", c.remoteAddr(),
				)
			}
			return
		}
	}
}

// writePump writes queued frames and periodic pings to the peer. One
// JSON object per frame. Exits when the hub closes the send channel or
// a write fails.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
