package ws

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/udisondev/blastio/internal/metrics"
)

var (
	ErrRoomExists    = errors.New("room already exists")
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomFull      = errors.New("room is full")
	ErrAlreadyInRoom = errors.New("already in room")
	ErrNotInRoom     = errors.New("not in room")
)

// Room is a named group of connections. Membership is symmetric: the
// room holds its members and each member connection holds the room ID;
// both sides are updated together under the room's lock.
type Room struct {
	ID        string
	Name      string
	CreatedAt time.Time

	maxSize int // 0 = unbounded

	mu      sync.RWMutex
	members map[string]*Conn
}

func (rm *Room) add(c *Conn) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, ok := rm.members[c.UserID]; ok {
		return ErrAlreadyInRoom
	}
	if rm.maxSize > 0 && len(rm.members) >= rm.maxSize {
		return ErrRoomFull
	}

	rm.members[c.UserID] = c
	c.addRoom(rm.ID)
	return nil
}

func (rm *Room) remove(c *Conn) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, ok := rm.members[c.UserID]; !ok {
		return ErrNotInRoom
	}

	delete(rm.members, c.UserID)
	c.removeRoom(rm.ID)
	return nil
}

// Count returns the current member count.
func (rm *Room) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.members)
}

// MemberIDs returns the userIDs of every member.
func (rm *Room) MemberIDs() []string {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	out := make([]string, 0, len(rm.members))
	for id := range rm.members {
		out = append(out, id)
	}
	return out
}

// Broadcast sends to every member; except skips one userID (pass ""
// to reach everyone). Delivery is best-effort per member.
func (rm *Room) Broadcast(msgType string, payload any, except string) {
	data, err := encode(msgType, payload)
	if err != nil {
		slog.Warn("encoding room broadcast", "room", rm.ID, "type", msgType, "error", err)
		return
	}

	rm.mu.RLock()
	targets := make([]*Conn, 0, len(rm.members))
	for id, c := range rm.members {
		if id == except {
			continue
		}
		targets = append(targets, c)
	}
	rm.mu.RUnlock()

	for _, c := range targets {
		if err := c.sendRaw(data); err != nil {
			slog.Debug("room broadcast drop", "room", rm.ID, "user", c.UserID)
		}
	}
}

// RoomRegistry tracks every named room and reaps idle empty ones.
type RoomRegistry struct {
	mu      sync.RWMutex
	rooms   map[string]*Room
	metrics *metrics.Registry
}

// NewRoomRegistry creates an empty room registry.
func NewRoomRegistry(reg *metrics.Registry) *RoomRegistry {
	return &RoomRegistry{
		rooms:   make(map[string]*Room),
		metrics: reg,
	}
}

// CreateRoom registers a new room. maxSize 0 means unbounded.
func (rr *RoomRegistry) CreateRoom(id, name string, maxSize int) (*Room, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	if _, ok := rr.rooms[id]; ok {
		return nil, ErrRoomExists
	}

	rm := &Room{
		ID:        id,
		Name:      name,
		CreatedAt: time.Now(),
		maxSize:   maxSize,
		members:   make(map[string]*Conn),
	}
	rr.rooms[id] = rm
	rr.updateGauge(len(rr.rooms))
	return rm, nil
}

// Get returns a room by ID, or nil.
func (rr *RoomRegistry) Get(id string) *Room {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	return rr.rooms[id]
}

// Count returns the number of registered rooms.
func (rr *RoomRegistry) Count() int {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	return len(rr.rooms)
}

// JoinRoom adds the connection to an existing room, creating the room
// on demand when create is true.
func (rr *RoomRegistry) JoinRoom(roomID string, c *Conn, create bool, maxSize int) (*Room, error) {
	rm := rr.Get(roomID)
	if rm == nil {
		if !create {
			return nil, ErrRoomNotFound
		}
		var err error
		rm, err = rr.CreateRoom(roomID, roomID, maxSize)
		if errors.Is(err, ErrRoomExists) {
			rm = rr.Get(roomID)
		} else if err != nil {
			return nil, err
		}
	}

	if err := rm.add(c); err != nil {
		return nil, err
	}
	return rm, nil
}

// LeaveRoom removes the connection from the room.
func (rr *RoomRegistry) LeaveRoom(roomID string, c *Conn) (*Room, error) {
	rm := rr.Get(roomID)
	if rm == nil {
		return nil, ErrRoomNotFound
	}
	if err := rm.remove(c); err != nil {
		return nil, err
	}
	return rm, nil
}

// LeaveAllRooms pulls the connection out of every room it is in.
// Called on disconnect. Returns the affected rooms so the caller can
// notify remaining members.
func (rr *RoomRegistry) LeaveAllRooms(c *Conn) []*Room {
	var affected []*Room
	for _, roomID := range c.Rooms() {
		if rm, err := rr.LeaveRoom(roomID, c); err == nil {
			affected = append(affected, rm)
		}
	}
	return affected
}

// CleanupEmpty removes empty rooms older than maxAge and returns the
// removed room IDs so the caller can announce the closures. Reaping
// deletes only the room record; member connections are untouched
// because reaped rooms have none.
func (rr *RoomRegistry) CleanupEmpty(maxAge time.Duration) []string {
	cutoff := time.Now().Add(-maxAge)

	rr.mu.Lock()
	defer rr.mu.Unlock()

	var removed []string
	for id, rm := range rr.rooms {
		if rm.Count() == 0 && rm.CreatedAt.Before(cutoff) {
			delete(rr.rooms, id)
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		rr.updateGauge(len(rr.rooms))
	}
	return removed
}

func (rr *RoomRegistry) updateGauge(count int) {
	if rr.metrics != nil {
		rr.metrics.ActiveRooms.Set(float64(count))
	}
}
