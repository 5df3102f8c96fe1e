package ws

import (
	"log/slog"
	"sync"

	"github.com/udisondev/blastio/internal/metrics"
)

// Registry is the process-wide userID -> Conn mapping. It enforces the
// single-connection-per-user policy: admitting a new connection for a
// user closes the previous one.
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]*Conn
	metrics *metrics.Registry
}

// NewRegistry creates an empty connection registry.
func NewRegistry(reg *metrics.Registry) *Registry {
	return &Registry{
		conns:   make(map[string]*Conn, 1024),
		metrics: reg,
	}
}

// Add installs the connection, closing any previous one for the same
// user (last-writer-wins).
func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	prev := r.conns[c.UserID]
	r.conns[c.UserID] = c
	count := len(r.conns)
	r.mu.Unlock()

	if prev != nil {
		slog.Info("replacing existing connection", "user", c.UserID)
		prev.Close()
	}
	if r.metrics != nil {
		r.metrics.ActiveConnections.Set(float64(count))
	}
}

// Remove deletes the entry, but only if it still refers to the given
// connection; a replaced connection racing its own teardown must not
// evict its successor.
func (r *Registry) Remove(c *Conn) {
	r.mu.Lock()
	if cur, ok := r.conns[c.UserID]; ok && cur == c {
		delete(r.conns, c.UserID)
	}
	count := len(r.conns)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ActiveConnections.Set(float64(count))
	}
}

// Get returns the live connection for a user, or nil.
func (r *Registry) Get(userID string) *Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[userID]
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Broadcast sends the message to every connection. The envelope is
// encoded once; each delivery runs on its own goroutine so one slow
// client cannot block the rest.
func (r *Registry) Broadcast(msgType string, payload any) {
	data, err := encode(msgType, payload)
	if err != nil {
		slog.Warn("encoding broadcast", "type", msgType, "error", err)
		return
	}

	r.mu.RLock()
	targets := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	if r.metrics != nil {
		r.metrics.MessagesOut.WithLabelValues(msgType).Add(float64(len(targets)))
	}
	for _, c := range targets {
		go func(c *Conn) {
			if err := c.sendRaw(data); err != nil && r.metrics != nil {
				r.metrics.BroadcastDropped.Inc()
			}
		}(c)
	}
}

// SendToUsers delivers the message to the listed users, skipping any
// without a live connection.
func (r *Registry) SendToUsers(userIDs []string, msgType string, payload any) {
	data, err := encode(msgType, payload)
	if err != nil {
		slog.Warn("encoding targeted send", "type", msgType, "error", err)
		return
	}

	for _, id := range userIDs {
		if c := r.Get(id); c != nil {
			if err := c.sendRaw(data); err != nil {
				if r.metrics != nil {
					r.metrics.BroadcastDropped.Inc()
				}
			} else if r.metrics != nil {
				r.metrics.MessagesOut.WithLabelValues(msgType).Inc()
			}
		}
	}
}

// SendToUser delivers one message to one user. Returns false when the
// user has no live connection or the message could not be queued.
func (r *Registry) SendToUser(userID, msgType string, payload any) bool {
	c := r.Get(userID)
	if c == nil {
		return false
	}
	ok := c.Send(msgType, payload) == nil
	if ok && r.metrics != nil {
		r.metrics.MessagesOut.WithLabelValues(msgType).Inc()
	}
	return ok
}

// TrySendToUser is the non-blocking variant used on the snapshot path.
func (r *Registry) TrySendToUser(userID, msgType string, payload any) bool {
	c := r.Get(userID)
	if c == nil {
		return false
	}
	ok := c.TrySend(msgType, payload)
	if ok && r.metrics != nil {
		r.metrics.MessagesOut.WithLabelValues(msgType).Inc()
	}
	return ok
}

// DisconnectUser tells the user why they are being dropped, then
// removes and closes their connection.
func (r *Registry) DisconnectUser(userID, reason string) {
	c := r.Get(userID)
	if c == nil {
		return
	}

	_ = c.Send(MsgForceDisconnect, map[string]string{"reason": reason})
	r.Remove(c)
	c.Close()
}
