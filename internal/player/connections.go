package player

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Connections tracks the player attached to each session. A session has at
// most one player; a newer connection replaces the older one.
type Connections struct {
	mu     sync.RWMutex
	active map[string]*Bridge
}

// NewConnections creates an empty connection set.
func NewConnections() *Connections {
	return &Connections{
		active: make(map[string]*Bridge),
	}
}

// Get returns the player attached to a session.
func (c *Connections) Get(sessionID string) *Bridge {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active[sessionID]
}

// Register attaches b to a session, disconnecting any previous player.
func (c *Connections) Register(sessionID string, b *Bridge) {
	c.mu.Lock()
	existing := c.active[sessionID]
	c.active[sessionID] = b
	c.mu.Unlock()

	if existing != nil && existing != b {
		existing.Close(websocket.StatusNormalClosure, "player replaced")
	}
	slog.Info("Player registered", "session_id", sessionID)
}

// Unregister detaches b. It reports false when b was already replaced, in
// which case the caller must leave the session's video handle alone.
func (c *Connections) Unregister(sessionID string, b *Bridge) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.active[sessionID]; ok && current == b {
		delete(c.active, sessionID)
		slog.Info("Player unregistered", "session_id", sessionID)
		return true
	}
	return false
}

// CloseSession disconnects the player of a session, if any.
func (c *Connections) CloseSession(sessionID string) {
	c.mu.Lock()
	b, ok := c.active[sessionID]
	delete(c.active, sessionID)
	c.mu.Unlock()

	if ok {
		b.Close(websocket.StatusNormalClosure, "session closed")
		slog.Info("Player closed", "session_id", sessionID)
	}
}

// Len returns the number of attached players.
func (c *Connections) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.active)
}
