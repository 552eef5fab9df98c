package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/apathy-ca/sark/internal/audit"
)

const (
	wsSendBuffer   = 64
	wsPingInterval = 30 * time.Second
	wsWriteWait    = 10 * time.Second
)

var severityRank = map[audit.Severity]int{
	audit.SeverityLow:      0,
	audit.SeverityMedium:   1,
	audit.SeverityHigh:     2,
	audit.SeverityCritical: 3,
}

// eventClient is one connected /admin/events/stream subscriber. Each
// client owns a bounded send queue; a slow reader loses events rather
// than stalling Broadcast, the same drop-not-block policy the audit
// pipeline applies to its sink queues.
type eventClient struct {
	conn        *websocket.Conn
	send        chan []byte
	minSeverity audit.Severity
	dropped     int
}

func (c *eventClient) wants(sev audit.Severity) bool {
	return severityRank[sev] >= severityRank[c.minSeverity]
}

// EventHub fans audit events out to connected WebSocket subscribers.
// Operators tail it for a live view of decisions without polling the
// SIEM; it is a convenience feed, never the system of record.
type EventHub struct {
	mu       sync.RWMutex
	clients  map[*eventClient]struct{}
	upgrader websocket.Upgrader
	logger   *slog.Logger
	done     chan struct{}
	closed   bool
}

// NewEventHub creates the hub. With allowAllOrigins false, browser
// clients must present an Origin matching the request Host; non-browser
// clients (no Origin header) are always admitted.
func NewEventHub(logger *slog.Logger, allowAllOrigins bool) *EventHub {
	return &EventHub{
		clients: make(map[*eventClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if allowAllOrigins {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || strings.Contains(origin, r.Host)
			},
		},
		logger: logger.With("component", "api.EventHub"),
		done:   make(chan struct{}),
	}
}

// Run pings every connected client on an interval so half-dead TCP
// connections are detected and reaped between events. Returns when
// Close is called.
func (h *EventHub) Run() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.mu.RLock()
			for c := range h.clients {
				_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Closing the connection makes readPump fail and
					// unsubscribe the client.
					_ = c.conn.Close()
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Close stops the ping loop and disconnects every subscriber.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// HandleWebSocket upgrades the connection and subscribes it to the feed.
// A min_severity query parameter filters the stream server-side
// (?min_severity=high delivers only high and critical events).
func (h *EventHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	min := audit.Severity(r.URL.Query().Get("min_severity"))
	if _, ok := severityRank[min]; !ok {
		min = audit.SeverityLow
	}
	c := &eventClient{
		conn:        conn,
		send:        make(chan []byte, wsSendBuffer),
		minSeverity: min,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("event stream client connected", "remote", conn.RemoteAddr(), "min_severity", min)
	go h.writePump(c)
	go h.readPump(c)
}

func (h *EventHub) writePump(c *eventClient) {
	defer func() { _ = c.conn.Close() }()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.unsubscribe(c)
			return
		}
	}
}

// readPump discards inbound frames (the feed is one-way) and reaps the
// client when the connection drops.
func (h *EventHub) readPump(c *eventClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.unsubscribe(c)
			return
		}
	}
}

func (h *EventHub) unsubscribe(c *eventClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		if c.dropped > 0 {
			h.logger.Debug("event stream client disconnected", "remote", c.conn.RemoteAddr(), "dropped", c.dropped)
		}
	}
}

// Broadcast delivers an audit event to every subscriber whose severity
// filter admits it. Marshals once, never blocks: a subscriber with a
// full send queue loses this event and keeps its connection.
func (h *EventHub) Broadcast(ev audit.Event) {
	msg, err := json.Marshal(map[string]any{
		"type":  "audit_event",
		"event": ev,
	})
	if err != nil {
		h.logger.Error("event stream marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(ev.Severity) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			c.dropped++
		}
	}
}

// ClientCount reports connected subscribers, for the health endpoint.
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
