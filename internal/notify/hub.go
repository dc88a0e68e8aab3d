// Package notify pushes transient notifications to connected clients over
// WebSocket.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/sameerkhn8107-ui/azahar/internal/domain"
)

// writeTimeout bounds a single notification write. Slow clients are dropped
// rather than allowed to stall the hub.
const writeTimeout = 5 * time.Second

// Hub tracks active notification sockets per user and fans notifications
// out to all of a user's connections.
type Hub struct {
	logger *slog.Logger

	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// Active returns the registered connection for a user and connection ID.
func (h *Hub) Active(userID, connID string) *websocket.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if conns, ok := h.active[userID]; ok {
		return conns[connID]
	}
	return nil
}

// Register adds a connection for a user. A connection registered under the
// same connID replaces the previous one.
func (h *Hub) Register(userID, connID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[userID]; !exists {
		h.active[userID] = make(map[string]*websocket.Conn)
	}
	if existing, exists := h.active[userID][connID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "connection replaced")
	}
	h.active[userID][connID] = conn
	h.logger.Info("notification socket registered", "user_id", userID, "conn_id", connID)
}

// Unregister removes a connection for a user.
func (h *Hub) Unregister(userID, connID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.active[userID]
	if !ok {
		return
	}
	if current, exists := conns[connID]; exists && current == conn {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(h.active, userID)
		}
		h.logger.Info("notification socket unregistered", "user_id", userID, "conn_id", connID)
	}
}

// Notify sends a notification to all of the user's connections.
// Best-effort: write failures are logged and the connection is left for its
// reader goroutine to tear down.
func (h *Hub) Notify(userID string, n domain.Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		h.logger.Warn("failed to encode notification", "error", err)
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.active[userID]))
	for _, conn := range h.active[userID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
			h.logger.Debug("notification write failed", "user_id", userID, "error", err)
		}
		cancel()
	}
}

// CloseUser terminates all of a user's notification sockets.
func (h *Hub) CloseUser(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.active[userID]
	if !ok {
		return
	}
	for connID, conn := range conns {
		_ = conn.Close(websocket.StatusNormalClosure, "session closed")
		h.logger.Info("notification socket closed", "user_id", userID, "conn_id", connID)
	}
	delete(h.active, userID)
}
