package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/udisondev/blastio/internal/metrics"
)

// Handler processes one inbound message on the connection's read
// goroutine. Handlers must not block on long operations; they enqueue
// work and return. A returned error is surfaced to the sender as a
// typed "error" message and the connection stays open.
type Handler func(c *Conn, payload json.RawMessage) error

// Router dispatches envelopes by message type. Registration happens at
// startup; Handle runs concurrently across connections afterwards.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	metrics  *metrics.Registry
}

// NewRouter creates a router with the built-in ping and echo handlers.
func NewRouter(reg *metrics.Registry) *Router {
	r := &Router{
		handlers: make(map[string]Handler),
		metrics:  reg,
	}

	r.Register(MsgPing, func(c *Conn, _ json.RawMessage) error {
		return c.Send(MsgPong, map[string]int64{
			"lastPing":   c.LastPing().UnixMilli(),
			"serverTime": time.Now().UnixMilli(),
		})
	})
	r.Register(MsgEcho, func(c *Conn, payload json.RawMessage) error {
		return c.Send(MsgEcho, payload)
	})

	return r
}

// Register installs the handler for a message type, replacing any
// previous one.
func (r *Router) Register(msgType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[msgType] = h
}

// Handle dispatches one envelope. Unknown types are counted and
// answered with an error message; handler errors are returned to the
// sender the same way.
func (r *Router) Handle(c *Conn, env Envelope) {
	r.mu.RLock()
	h, ok := r.handlers[env.Type]
	r.mu.RUnlock()

	if r.metrics != nil {
		r.metrics.MessagesIn.WithLabelValues(env.Type).Inc()
	}

	if !ok {
		if r.metrics != nil {
			r.metrics.UnknownMessages.Inc()
		}
		slog.Debug("unknown message type", "user", c.UserID, "type", env.Type)
		_ = c.Send(MsgError, errorPayload{
			Message: "unknown message type: " + env.Type,
			Code:    "unknown_type",
		})
		return
	}

	start := time.Now()
	err := h(c, env.Payload)
	if r.metrics != nil {
		r.metrics.HandleSeconds.WithLabelValues(env.Type).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		slog.Debug("handler error", "user", c.UserID, "type", env.Type, "error", err)
		_ = c.Send(MsgError, errorPayload{Message: err.Error()})
	}
}
