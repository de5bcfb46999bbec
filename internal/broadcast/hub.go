// Package broadcast pushes session QR codes and status changes to
// websocket clients.
package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	EventQR     = "qr"
	EventStatus = "status"

	sendBuffer   = 64
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

// Event is one message on the wire.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	QR        string    `json:"qr,omitempty"`
	Status    string    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type client struct {
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
}

func (c *client) wants(evt Event) bool {
	return c.sessionID == "" || c.sessionID == evt.SessionID
}

// Hub fans events out to connected clients. Run must be started before
// clients connect.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	broadcast  chan Event
	register   chan *client
	unregister chan *client
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*client]struct{}
}

func NewHub(log *slog.Logger, allowedOrigins []string) *Hub {
	h := &Hub{
		logger:     log.With(slog.String("component", "broadcast")),
		broadcast:  make(chan Event, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		clients:    map[*client]struct{}{},
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowedOrigins) == 0 {
				return true
			}
			if slices.Contains(allowedOrigins, origin) {
				return true
			}
			h.logger.Warn("rejected websocket origin", slog.String("origin", origin))
			return false
		},
	}
	return h
}

// Run delivers events until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("client connected", slog.String("session_id", c.sessionID))

		case c := <-h.unregister:
			h.drop(c)

		case evt := <-h.broadcast:
			data, err := json.Marshal(evt)
			if err != nil {
				h.logger.Error("encode event failed", slog.Any("error", err))
				continue
			}
			h.mu.RLock()
			var slow []*client
			for c := range h.clients {
				if !c.wants(evt) {
					continue
				}
				select {
				case c.send <- data:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.RUnlock()
			for _, c := range slow {
				h.logger.Warn("dropping slow websocket client", slog.String("session_id", c.sessionID))
				h.drop(c)
			}
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		close(c.send)
		delete(h.clients, c)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) SendQRCode(sessionID, qr string) {
	h.publish(Event{Type: EventQR, SessionID: sessionID, QR: qr})
}

func (h *Hub) SendStatus(sessionID, status string) {
	h.publish(Event{Type: EventStatus, SessionID: sessionID, Status: status})
}

func (h *Hub) publish(evt Event) {
	evt.Timestamp = time.Now().UTC()
	select {
	case h.broadcast <- evt:
	default:
		h.logger.Warn("broadcast queue full, event dropped",
			slog.String("type", evt.Type), slog.String("session_id", evt.SessionID))
	}
}

// ServeHTTP upgrades the request. A session_id query parameter limits the
// stream to one session.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	c := &client{
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		sessionID: r.URL.Query().Get("session_id"),
	}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}
	go h.writePump(c)
	go h.readPump(c)
}

// readPump only services control frames; clients never send data.
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
