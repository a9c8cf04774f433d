package progress

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     buildCheckOrigin(),
}

const (
	pongWait   = 60 * time.Second // Time allowed to read the next pong
	pingPeriod = 15 * time.Second // Keepalive interval (must be < pongWait)
	writeWait  = 10 * time.Second // Time allowed to write a message
	maxMsgSize = 4 * 1024         // Clients only send control frames
	sendBuffer = 64               // Outbound channel buffer
)

// buildCheckOrigin validates origins against VENTRO_ALLOWED_ORIGINS in
// production and allows everything elsewhere.
func buildCheckOrigin() func(r *http.Request) bool {
	env := os.Getenv("VENTRO_ENV")
	allowedRaw := os.Getenv("VENTRO_ALLOWED_ORIGINS")

	if env == "production" && allowedRaw != "" {
		allowed := make(map[string]bool)
		for _, origin := range strings.Split(allowedRaw, ",") {
			allowed[strings.TrimSpace(origin)] = true
		}
		slog.Info("WebSocket origin allowlist active", "count", len(allowed))
		return func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if allowed[origin] {
				return true
			}
			slog.Info("rejected WebSocket connection", "origin", origin)
			return false
		}
	}

	if env == "production" && allowedRaw == "" {
		slog.Warn("VENTRO_ALLOWED_ORIGINS not set in production, allowing all origins")
	}
	return func(r *http.Request) bool { return true }
}

// streamConn wraps one client connection. All writes go through the Send
// channel into writePump, so ping, replay, and live events never race on
// the socket.
type streamConn struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *streamConn) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// writePump owns every write to the connection.
func (c *streamConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump consumes pongs and detects client disconnects; clients send
// no application messages on this stream.
func (c *streamConn) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Handler serves GET /ws/sessions/{id}: replays buffered events, then
// forwards live ones until the terminal event or disconnect.
type Handler struct {
	sub *Subscriber
}

func NewHandler(sub *Subscriber) *Handler {
	return &Handler{sub: sub}
}

func (h *Handler) Stream(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	c := &streamConn{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	go c.writePump()
	go c.readPump()

	ctx := r.Context()

	// Subscribe before replay so no event can fall between the two.
	live, unsub, err := h.sub.Listen(ctx, sessionID)
	if err != nil {
		slog.Warn("progress subscribe failed", "session_id", sessionID, "error", err)
		c.close()
		return
	}
	defer unsub()

	replay, err := h.sub.Replay(ctx, sessionID)
	if err != nil {
		slog.Warn("progress replay failed", "session_id", sessionID, "error", err)
	}
	lastReplayed := int64(0)
	for _, e := range replay {
		if !h.enqueue(c, e) {
			return
		}
		lastReplayed = e.Timestamp
		if e.Terminal() {
			return
		}
	}

	for {
		select {
		case e, ok := <-live:
			if !ok {
				c.close()
				return
			}
			// Drop live events already covered by the replay.
			if e.Timestamp <= lastReplayed {
				continue
			}
			if !h.enqueue(c, e) {
				return
			}
			if e.Terminal() {
				c.close()
				return
			}
		case <-c.done:
			return
		case <-ctx.Done():
			c.close()
			return
		}
	}
}

func (h *Handler) enqueue(c *streamConn, e Event) bool {
	raw, err := json.Marshal(e)
	if err != nil {
		return true
	}
	select {
	case c.send <- raw:
		return true
	case <-c.done:
		return false
	}
}
