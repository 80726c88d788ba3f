// Package notify implements the realtime notification broadcaster: a managed
// set of open websocket connections that receive every accepted status
// transition as it happens.
//
// Semantics are deliberately fire-and-forget (at-most-once, best effort):
//   - observers attach and receive future updates only; no history replay;
//   - disconnected observers are dropped silently and reconcile by re-fetching
//     through the query layer on reconnect;
//   - a slow observer whose send buffer fills is disconnected rather than
//     allowed to stall the broadcast of everyone else.
//
// There is no durable event log behind the hub; the database remains the
// source of truth.
package notify

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/campusdocs/go-registrar-backend/internal/domain"
)

const (
	// writeWait bounds a single frame write to a client.
	writeWait = 10 * time.Second
	// pongWait is how long a client may stay silent before it is dropped.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = 50 * time.Second
	// sendBuffer is the per-client queue of pending frames. A client that
	// falls this far behind is disconnected.
	sendBuffer = 16
)

var observersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "ws_observers_connected",
	Help: "Current number of connected realtime observers.",
})

func init() {
	prometheus.MustRegister(observersGauge)
}

// StatusUpdate is the frame pushed to every observer on an accepted
// transition.
type StatusUpdate struct {
	Type    string          `json:"type"` // always "STATUS_UPDATE"
	Request *domain.Request `json:"request"`
}

// client is one attached observer connection.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub manages the observer set and fans status updates out to it.
// All methods are safe for concurrent use.
type Hub struct {
	mu       sync.Mutex
	clients  map[*client]struct{}
	upgrader websocket.Upgrader
	closed   bool
}

// NewHub returns an empty hub ready to accept connections.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Identity is an opaque oracle and updates carry no secrets
			// beyond what the query API already exposes to the same origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Broadcast queues the updated request to every currently attached observer.
// It never blocks on a slow client: if a client's buffer is full the client
// is dropped. Errors are not surfaced to the caller; delivery is best
// effort by contract.
func (h *Hub) Broadcast(req *domain.Request) {
	frame, err := json.Marshal(StatusUpdate{Type: "STATUS_UPDATE", Request: req})
	if err != nil {
		log.Error().Err(err).Str("request_id", req.ID).Msg("marshal status update")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			// Slow client: close its queue; writePump tears the socket down.
			delete(h.clients, c)
			close(c.send)
			observersGauge.Dec()
		}
	}
}

// Serve upgrades the HTTP request to a websocket and attaches the connection
// as an observer until it disconnects. It blocks for the lifetime of the
// read loop, which is how gorilla/websocket detects peer closure.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error response.
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	observersGauge.Inc()

	go c.writePump()
	c.readPump(h)
}

// Close detaches every observer and stops accepting new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		observersGauge.Dec()
	}
}

// detach removes c from the set if still present.
func (h *Hub) detach(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		observersGauge.Dec()
	}
}

// readPump consumes (and discards) inbound frames so close/ping control
// messages are processed. There is no client-to-server protocol beyond
// connect/disconnect.
func (c *client) readPump(h *Hub) {
	defer func() {
		h.detach(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump drains the send queue to the socket and keeps the connection
// alive with periodic pings. It exits when the queue is closed (detach) or a
// write fails.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
