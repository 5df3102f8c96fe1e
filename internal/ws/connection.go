package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Heartbeat and queue discipline for one connection.
const (
	// writeWait bounds one frame write.
	writeWait = 10 * time.Second

	// pongWait is the read deadline; any client frame or pong resets it.
	pongWait = 60 * time.Second

	// pingPeriod must stay under pongWait so a healthy client never
	// misses the deadline.
	pingPeriod = 25 * time.Second

	// sendTimeout bounds how long Send waits for queue room.
	sendTimeout = 5 * time.Second

	defaultSendQueueSize = 256

	maxMessageSize = 8192
)

var (
	ErrConnClosed    = errors.New("connection closed")
	ErrSendQueueFull = errors.New("send queue full")
)

// Conn is one authenticated duplex channel. Two goroutines service it:
// the read pump parses envelopes and hands them to the router on its
// own goroutine, the write pump drains the outbound queue and emits
// heartbeat pings. Close is idempotent and safe from any goroutine.
type Conn struct {
	UserID   string
	Username string

	sock *websocket.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	rooms map[string]struct{}

	lastPing atomic.Int64 // unix millis of the last client sign of life

	// PongHook, when set, observes each measured round-trip time on the
	// read pump's goroutine. Set before Run.
	PongHook func(rtt time.Duration)
}

// NewConn wraps an accepted socket. queueSize <= 0 selects the default.
func NewConn(sock *websocket.Conn, userID, username string, queueSize int) *Conn {
	if queueSize <= 0 {
		queueSize = defaultSendQueueSize
	}
	c := &Conn{
		UserID:   userID,
		Username: username,
		sock:     sock,
		send:     make(chan []byte, queueSize),
		done:     make(chan struct{}),
		rooms:    make(map[string]struct{}),
	}
	c.lastPing.Store(time.Now().UnixMilli())
	return c
}

// Run services the connection until it dies: the write pump runs on
// its own goroutine, the read pump on the caller's. Returns after both
// loops have terminated and the socket is closed.
func (c *Conn) Run(router *Router) {
	go c.writePump()
	c.readPump(router)
	c.Close()
}

// Send queues an envelope for delivery, waiting up to the enqueue
// timeout. Messages from a single caller are delivered in Send order.
func (c *Conn) Send(msgType string, payload any) error {
	data, err := encode(msgType, payload)
	if err != nil {
		return err
	}
	return c.enqueue(data, true)
}

// TrySend queues an envelope without waiting. Used on the snapshot
// path, where dropping a frame for a slow client beats stalling the
// broadcaster. Returns false if the message was dropped.
func (c *Conn) TrySend(msgType string, payload any) bool {
	data, err := encode(msgType, payload)
	if err != nil {
		slog.Warn("encoding message", "type", msgType, "error", err)
		return false
	}
	return c.enqueue(data, false) == nil
}

// sendRaw queues an already-encoded frame; the broadcast path encodes
// once and fans the same bytes out to every recipient.
func (c *Conn) sendRaw(data []byte) error {
	return c.enqueue(data, false)
}

func (c *Conn) enqueue(data []byte, wait bool) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	if !wait {
		select {
		case c.send <- data:
			return nil
		case <-c.done:
			return ErrConnClosed
		default:
			return ErrSendQueueFull
		}
	}

	timer := time.NewTimer(sendTimeout)
	defer timer.Stop()
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-timer.C:
		return ErrSendQueueFull
	}
}

// Close tears the connection down exactly once: the done signal stops
// both pumps and the write pump closes the socket behind a close frame.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Done is closed when the connection has been shut down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// LastPing is when the client last gave a sign of life.
func (c *Conn) LastPing() time.Time {
	return time.UnixMilli(c.lastPing.Load())
}

// --- room membership back-index, updated by the room registry ---

func (c *Conn) addRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[roomID] = struct{}{}
}

func (c *Conn) removeRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, roomID)
}

// IsInRoom reports membership in the given room.
func (c *Conn) IsInRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[roomID]
	return ok
}

// Rooms returns the IDs of every room the connection is in.
func (c *Conn) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	return out
}

func (c *Conn) readPump(router *Router) {
	c.sock.SetReadLimit(maxMessageSize)
	_ = c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(appData string) error {
		_ = c.sock.SetReadDeadline(time.Now().Add(pongWait))
		c.lastPing.Store(time.Now().UnixMilli())
		if c.PongHook != nil {
			if sent, err := strconv.ParseInt(appData, 10, 64); err == nil {
				c.PongHook(time.Since(time.UnixMilli(sent)))
			}
		}
		return nil
	})

	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("read loop ended", "user", c.UserID, "error", err)
			}
			return
		}

		_ = c.sock.SetReadDeadline(time.Now().Add(pongWait))
		c.lastPing.Store(time.Now().UnixMilli())

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			slog.Warn("dropping malformed envelope", "user", c.UserID, "error", err)
			continue
		}

		router.Handle(c, env)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.sock.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("write failed", "user", c.UserID, "error", err)
				c.Close()
				return
			}

		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			stamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
			if err := c.sock.WriteMessage(websocket.PingMessage, []byte(stamp)); err != nil {
				slog.Debug("ping failed", "user", c.UserID, "error", err)
				c.Close()
				return
			}

		case <-c.done:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.sock.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
