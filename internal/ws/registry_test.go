package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrySingleConnectionPerUser(t *testing.T) {
	reg := NewRegistry(nil)

	c1 := NewConn(nil, "u1", "user", 0)
	c2 := NewConn(nil, "u1", "user", 0)

	reg.Add(c1)
	reg.Add(c2)

	// The replaced connection is closed, the new one takes over.
	select {
	case <-c1.Done():
	default:
		t.Fatal("replaced connection was not closed")
	}
	assert.Same(t, c2, reg.Get("u1"))
	assert.Equal(t, 1, reg.Count())
}

func TestRegistryRemoveIgnoresStaleConn(t *testing.T) {
	reg := NewRegistry(nil)

	c1 := NewConn(nil, "u1", "user", 0)
	c2 := NewConn(nil, "u1", "user", 0)
	reg.Add(c1)
	reg.Add(c2)

	// The replaced connection tearing itself down must not evict its
	// successor.
	reg.Remove(c1)
	assert.Same(t, c2, reg.Get("u1"))

	reg.Remove(c2)
	assert.Nil(t, reg.Get("u1"))
	assert.Equal(t, 0, reg.Count())
}

func TestRegistrySendToUser(t *testing.T) {
	reg := NewRegistry(nil)

	c := NewConn(nil, "u1", "user", 4)
	reg.Add(c)

	assert.True(t, reg.SendToUser("u1", "hello", nil))
	assert.False(t, reg.SendToUser("nobody", "hello", nil))

	// The frame landed in the outbox.
	require.Len(t, c.send, 1)
}

func TestRegistrySendToUsersSkipsOffline(t *testing.T) {
	reg := NewRegistry(nil)

	c := NewConn(nil, "u1", "user", 4)
	reg.Add(c)

	reg.SendToUsers([]string{"u1", "ghost"}, "hello", nil)
	assert.Len(t, c.send, 1)
}

func TestRegistryDisconnectUser(t *testing.T) {
	reg := NewRegistry(nil)

	c := NewConn(nil, "u1", "user", 4)
	reg.Add(c)

	reg.DisconnectUser("u1", "signed in elsewhere")

	assert.Nil(t, reg.Get("u1"))
	select {
	case <-c.Done():
	default:
		t.Fatal("connection was not closed")
	}
}
