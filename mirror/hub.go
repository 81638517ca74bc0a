package mirror

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Broadcast actions.
const (
	ActionInsert = "insert"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

const writeWait = 5 * time.Second

// Update is the message sent to every client after a mutation.
type Update struct {
	Type      string `json:"type"`
	Table     string `json:"table"`
	Action    string `json:"action"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

// ConnectionAck is the first message every client receives.
type ConnectionAck struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Hub holds the live WebSocket connections. All writes happen under mu, so
// clients observe broadcasts in the order Broadcast was called.
type Hub struct {
	mu       sync.Mutex
	conns    map[*websocket.Conn]struct{}
	upgrader websocket.Upgrader
	logger   *slog.Logger
	now      func() time.Time
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		conns: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
		now:    time.Now,
	}
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	ack := ConnectionAck{Type: "connection", Status: "connected", Message: "Connected to WebSocket server"}
	if err := h.write(conn, ack); err != nil {
		h.mu.Unlock()
		h.logger.Warn("websocket ack failed", "error", err)
		conn.Close()
		return
	}
	h.conns[conn] = struct{}{}
	total := len(h.conns)
	h.mu.Unlock()

	h.logger.Info("websocket client connected", "remote", r.RemoteAddr, "clients", total)
	go h.readLoop(conn)
}

// readLoop logs client messages until the connection fails.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.remove(conn)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		var v any
		if err := json.Unmarshal(msg, &v); err != nil {
			h.logger.Warn("unparseable websocket message", "error", err)
			continue
		}
		h.logger.Info("websocket message received", "data", v)
	}
}

// Broadcast sends one update to every open connection. Connections that fail to
// take the message are dropped.
func (h *Hub) Broadcast(table, action string, data any) {
	msg := Update{
		Type:      "update",
		Table:     table,
		Action:    action,
		Data:      data,
		Timestamp: h.now().UTC().Format("2006-01-02T15:04:05.000Z"),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.logger.Info("broadcasting update", "table", table, "action", action, "clients", len(h.conns))
	for conn := range h.conns {
		if err := h.write(conn, msg); err != nil {
			h.logger.Warn("websocket send failed; dropping client", "error", err)
			delete(h.conns, conn)
			conn.Close()
		}
	}
}

// Clients returns the number of open connections.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(writeWait))
		conn.Close()
		delete(h.conns, conn)
	}
}

func (h *Hub) write(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.conns[conn]
	delete(h.conns, conn)
	total := len(h.conns)
	h.mu.Unlock()
	conn.Close()
	if ok {
		h.logger.Info("websocket client disconnected", "clients", total)
	}
}
