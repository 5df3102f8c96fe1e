package ws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinRoomCreatesOnDemand(t *testing.T) {
	rr := NewRoomRegistry(nil)
	c := NewConn(nil, "u1", "user", 0)

	rm, err := rr.JoinRoom("lobby", c, true, 0)
	require.NoError(t, err)
	assert.Equal(t, "lobby", rm.ID)
	assert.Equal(t, 1, rm.Count())
	assert.True(t, c.IsInRoom("lobby"))

	_, err = rr.JoinRoom("other", c, false, 0)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestJoinRoomDuplicate(t *testing.T) {
	rr := NewRoomRegistry(nil)
	c := NewConn(nil, "u1", "user", 0)

	_, err := rr.JoinRoom("lobby", c, true, 0)
	require.NoError(t, err)

	_, err = rr.JoinRoom("lobby", c, true, 0)
	assert.ErrorIs(t, err, ErrAlreadyInRoom)
}

func TestJoinRoomFull(t *testing.T) {
	rr := NewRoomRegistry(nil)

	_, err := rr.JoinRoom("duo", NewConn(nil, "u1", "a", 0), true, 2)
	require.NoError(t, err)
	_, err = rr.JoinRoom("duo", NewConn(nil, "u2", "b", 0), true, 0)
	require.NoError(t, err)

	_, err = rr.JoinRoom("duo", NewConn(nil, "u3", "c", 0), true, 0)
	assert.ErrorIs(t, err, ErrRoomFull)
}

func TestLeaveRoom(t *testing.T) {
	rr := NewRoomRegistry(nil)
	c := NewConn(nil, "u1", "user", 0)

	_, err := rr.LeaveRoom("nope", c)
	assert.ErrorIs(t, err, ErrRoomNotFound)

	rm, err := rr.JoinRoom("lobby", c, true, 0)
	require.NoError(t, err)

	_, err = rr.LeaveRoom("lobby", c)
	require.NoError(t, err)
	assert.Equal(t, 0, rm.Count())
	assert.False(t, c.IsInRoom("lobby"))

	_, err = rr.LeaveRoom("lobby", c)
	assert.ErrorIs(t, err, ErrNotInRoom)
}

func TestLeaveAllRooms(t *testing.T) {
	rr := NewRoomRegistry(nil)
	c := NewConn(nil, "u1", "user", 0)

	for _, id := range []string{"a", "b", "c"} {
		_, err := rr.JoinRoom(id, c, true, 0)
		require.NoError(t, err)
	}

	affected := rr.LeaveAllRooms(c)
	assert.Len(t, affected, 3)
	assert.Empty(t, c.Rooms())
}

func TestRoomBroadcastExcept(t *testing.T) {
	rr := NewRoomRegistry(nil)

	sender := NewConn(nil, "u1", "a", 4)
	other := NewConn(nil, "u2", "b", 4)

	rm, err := rr.JoinRoom("lobby", sender, true, 0)
	require.NoError(t, err)
	_, err = rr.JoinRoom("lobby", other, true, 0)
	require.NoError(t, err)

	rm.Broadcast("chat", map[string]string{"message": "hi"}, "u1")

	assert.Len(t, other.send, 1)
	assert.Len(t, sender.send, 0)
}

func TestCleanupEmpty(t *testing.T) {
	rr := NewRoomRegistry(nil)
	c := NewConn(nil, "u1", "user", 0)

	_, err := rr.JoinRoom("occupied", c, true, 0)
	require.NoError(t, err)

	idle, err := rr.CreateRoom("idle", "idle", 0)
	require.NoError(t, err)
	idle.CreatedAt = time.Now().Add(-time.Hour)

	// Fresh empty rooms survive, old empty rooms are reaped.
	assert.Empty(t, rr.CleanupEmpty(2*time.Hour))
	assert.Equal(t, []string{"idle"}, rr.CleanupEmpty(30*time.Minute))
	assert.Equal(t, 1, rr.Count())
	assert.NotNil(t, rr.Get("occupied"))
}
