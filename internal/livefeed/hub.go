// Package livefeed fans coordinator events out to websocket subscribers and
// keeps a short backlog for clients that poll instead.
package livefeed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/MJE43/pf-outcome-engine/internal/bets"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64

	// DefaultBacklog is the number of recent messages kept for Tail.
	DefaultBacklog = 1000
)

// Message is one published event with its feed sequence number.
type Message struct {
	ID uint64 `json:"id"`
	bets.Event
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	userID string
}

// Hub broadcasts events to connected websocket clients. A client that
// cannot keep up is disconnected rather than slowing down publishers.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	backlog []Message
	limit   int
	seq     uint64
	closed  bool

	upgrader websocket.Upgrader
	log      logrus.FieldLogger
}

// NewHub creates a hub keeping backlog recent messages.
func NewHub(backlog int, log logrus.FieldLogger) *Hub {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		limit:   backlog,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// Publish implements bets.EventSink.
func (h *Hub) Publish(_ context.Context, event bets.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	h.seq++
	msg := Message{ID: h.seq, Event: event}
	h.backlog = append(h.backlog, msg)
	if len(h.backlog) > h.limit {
		h.backlog = append(h.backlog[:0:0], h.backlog[len(h.backlog)-h.limit:]...)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.log.WithError(err).Error("livefeed_encode_failed")
		return
	}

	for c := range h.clients {
		if c.userID != "" && c.userID != event.UserID {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.log.WithField("user_filter", c.userID).Warn("livefeed_client_dropped")
			h.removeLocked(c)
		}
	}
}

// Tail returns up to limit backlog messages with ID > since, oldest first,
// and the last ID the caller has now seen.
func (h *Hub) Tail(since uint64, userID string, limit int) ([]Message, uint64) {
	if limit <= 0 || limit > h.limit {
		limit = h.limit
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	last := since
	out := make([]Message, 0)
	for _, m := range h.backlog {
		if m.ID <= since {
			continue
		}
		if userID != "" && m.UserID != userID {
			continue
		}
		out = append(out, m)
		last = m.ID
		if len(out) == limit {
			break
		}
	}
	return out, last
}

// Clients reports the number of connected websocket clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a websocket subscription. The optional
// user query parameter limits the feed to one user's events.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("livefeed_upgrade_failed")
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		userID: r.URL.Query().Get("user"),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.log.WithField("user_filter", c.userID).Debug("livefeed_client_connected")

	go h.writePump(c)
	h.readPump(c)
}

// Close disconnects every client. Later publishes are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// readPump discards client input and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.WithError(err).Debug("livefeed_client_read_failed")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.log.WithError(err).Debug("livefeed_client_write_failed")
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
