package intake

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

type liveConn struct {
	conn     *websocket.Conn
	verified bool
}

// Connections tracks the live message-surface connection of each sender.
// A sender reconnecting replaces (and closes) its previous connection, but an
// unverified connection never displaces one bound to a session.
type Connections struct {
	mu     sync.RWMutex
	active map[string]liveConn
}

// NewConnections creates an empty registry.
func NewConnections() *Connections {
	return &Connections{active: make(map[string]liveConn)}
}

// Get returns the live connection for sender, or nil.
func (c *Connections) Get(sender string) *websocket.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active[sender].conn
}

// Len reports the number of live senders.
func (c *Connections) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.active)
}

// Register binds conn to sender and closes any earlier connection. verified
// marks a sender taken from a valid session. It reports false, leaving the
// registry unchanged, when an unverified conn claims a verified sender.
func (c *Connections) Register(sender string, conn *websocket.Conn, verified bool) bool {
	c.mu.Lock()
	existing, ok := c.active[sender]
	if ok && existing.conn != conn && existing.verified && !verified {
		c.mu.Unlock()
		slog.Warn("message connection claim refused", "sender", sender)
		return false
	}
	c.active[sender] = liveConn{conn: conn, verified: verified}
	c.mu.Unlock()

	// Closing waits for the peer's handshake, so it runs outside the lock.
	if ok && existing.conn != conn {
		_ = existing.conn.Close(websocket.StatusNormalClosure, "connection replaced")
	}
	slog.Debug("message connection registered", "sender", sender, "verified", verified)
	return true
}

// Unregister removes conn if it is still the one bound to sender.
func (c *Connections) Unregister(sender string, conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.active[sender]; ok && current.conn == conn {
		delete(c.active, sender)
		slog.Debug("message connection unregistered", "sender", sender)
	}
}

// CloseAll closes every live connection. Used on shutdown.
func (c *Connections) CloseAll() {
	c.mu.Lock()
	live := c.active
	c.active = make(map[string]liveConn)
	c.mu.Unlock()

	for _, lc := range live {
		_ = lc.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
