package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/wolfman30/triage-engine/internal/tenancy"
	"github.com/wolfman30/triage-engine/pkg/logging"
)

// StreamMessage is what dashboard clients receive.
type StreamMessage struct {
	Type  string          `json:"type"` // "event", "pong", "ready"
	Event json.RawMessage `json:"event,omitempty"`
}

const (
	clientBuffer = 32
	writeTimeout = 5 * time.Second
)

type hubClient struct {
	conn  *websocket.Conn
	orgID string // empty sees every org
	send  chan StreamMessage
	done  chan struct{}
	once  sync.Once
}

func (c *hubClient) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// enqueue never blocks. A full buffer means the dashboard stopped reading.
func (c *hubClient) enqueue(msg StreamMessage) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Hub pushes alert envelopes to connected responder dashboards. Each client
// has its own buffered writer, so a stalled dashboard never holds up a
// broadcast.
type Hub struct {
	logger       *logging.Logger
	buffer       int
	writeTimeout time.Duration

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
}

var _ DeliveryHandler = (*Hub)(nil)

func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		logger:       logger,
		buffer:       clientBuffer,
		writeTimeout: writeTimeout,
		clients:      make(map[*hubClient]struct{}),
	}
}

// ServeHTTP upgrades the request. The org scope comes from the request
// context, then the "org" query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	orgID, _ := tenancy.OrgIDFromContext(r.Context())
	if orgID == "" {
		orgID = r.URL.Query().Get("org")
	}
	websocket.Handler(func(conn *websocket.Conn) {
		h.serve(conn, orgID)
	}).ServeHTTP(w, r)
}

func (h *Hub) serve(conn *websocket.Conn, orgID string) {
	c := &hubClient{
		conn:  conn,
		orgID: orgID,
		send:  make(chan StreamMessage, h.buffer),
		done:  make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	defer h.remove(c)

	go h.writeLoop(c)

	h.logger.Info("alert stream connected", "org_id", orgID)
	c.enqueue(StreamMessage{Type: "ready"})

	for {
		var msg struct {
			Type string `json:"type"`
		}
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			return
		}
		if msg.Type == "ping" {
			c.enqueue(StreamMessage{Type: "pong"})
		}
	}
}

func (h *Hub) writeLoop(c *hubClient) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := websocket.JSON.Send(c.conn, msg); err != nil {
				h.logger.Warn("alert stream send failed", "error", err, "org_id", c.orgID)
				h.remove(c)
				return
			}
		}
	}
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// Handle queues the entry for every matching client and returns at once.
// Clients whose buffer is full are dropped; delivery to the hub never fails.
func (h *Hub) Handle(_ context.Context, entry OutboxEntry) error {
	msg := StreamMessage{Type: "event", Event: entry.Payload}

	h.mu.RLock()
	targets := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		if c.orgID == "" || c.orgID == entry.OrgID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.enqueue(msg) {
			h.logger.Warn("alert stream client stalled, dropping", "org_id", c.orgID)
			h.remove(c)
		}
	}
	return nil
}

// Clients reports the number of connected dashboards.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
