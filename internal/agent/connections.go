package agent

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// ConnectionManager tracks the open websocket of each call. A newer
// connection for the same key replaces the older one.
type ConnectionManager struct {
	mu     sync.RWMutex
	active map[CallKey]*websocket.Conn
	logger *slog.Logger
}

// NewConnectionManager creates an empty connection registry.
func NewConnectionManager(logger *slog.Logger) *ConnectionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionManager{
		active: make(map[CallKey]*websocket.Conn),
		logger: logger,
	}
}

// Register stores conn for key and closes the connection it replaces.
func (m *ConnectionManager) Register(key CallKey, conn *websocket.Conn) {
	m.mu.Lock()
	existing := m.active[key]
	m.active[key] = conn
	m.mu.Unlock()

	if existing != nil && existing != conn {
		_ = existing.Close(websocket.StatusPolicyViolation, "replaced by a newer connection")
	}
	m.logger.Info("call connection registered", "caller_id", key.CallerID, "session_id", key.SessionID)
}

// Unregister removes conn if it is still the registered connection for key.
func (m *ConnectionManager) Unregister(key CallKey, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.active[key]; ok && current == conn {
		delete(m.active, key)
		m.logger.Info("call connection unregistered", "caller_id", key.CallerID, "session_id", key.SessionID)
	}
}

// Close terminates the connection for key. It is the service's evict callback.
func (m *ConnectionManager) Close(key CallKey) {
	m.mu.Lock()
	conn, ok := m.active[key]
	delete(m.active, key)
	m.mu.Unlock()

	if ok {
		_ = conn.Close(websocket.StatusNormalClosure, "call closed")
	}
}

// Count returns the number of open connections.
func (m *ConnectionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}
