package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialPair starts a test server that upgrades one connection and runs
// it against the router. Returns the server-side Conn and the client
// socket.
func dialPair(t *testing.T, router *Router, userID string) (*Conn, *websocket.Conn) {
	t.Helper()

	connCh := make(chan *Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sock, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		c := NewConn(sock, userID, "user-"+userID, 0)
		connCh <- c
		c.Run(router)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case c := <-connCh:
		t.Cleanup(c.Close)
		return c, client
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted the connection")
		return nil, nil
	}
}

func readEnvelope(t *testing.T, client *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestConnPingPong(t *testing.T) {
	router := NewRouter(nil)
	_, client := dialPair(t, router, "u1")

	require.NoError(t, client.WriteJSON(Envelope{Type: MsgPing}))

	env := readEnvelope(t, client)
	assert.Equal(t, MsgPong, env.Type)

	var pong map[string]int64
	require.NoError(t, json.Unmarshal(env.Payload, &pong))
	assert.Contains(t, pong, "serverTime")
}

func TestConnEcho(t *testing.T) {
	router := NewRouter(nil)
	_, client := dialPair(t, router, "u1")

	payload := json.RawMessage(`{"hello":"world"}`)
	require.NoError(t, client.WriteJSON(Envelope{Type: MsgEcho, Payload: payload}))

	env := readEnvelope(t, client)
	assert.Equal(t, MsgEcho, env.Type)
	assert.JSONEq(t, string(payload), string(env.Payload))
}

func TestConnUnknownTypeAnswered(t *testing.T) {
	router := NewRouter(nil)
	_, client := dialPair(t, router, "u1")

	require.NoError(t, client.WriteJSON(Envelope{Type: "no_such_thing"}))

	env := readEnvelope(t, client)
	assert.Equal(t, MsgError, env.Type)

	var p errorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "unknown_type", p.Code)
}

func TestConnSendOrder(t *testing.T) {
	router := NewRouter(nil)
	server, client := dialPair(t, router, "u1")

	for i := 0; i < 10; i++ {
		require.NoError(t, server.Send("seq", map[string]int{"n": i}))
	}

	for i := 0; i < 10; i++ {
		env := readEnvelope(t, client)
		require.Equal(t, "seq", env.Type)

		var p map[string]int
		require.NoError(t, json.Unmarshal(env.Payload, &p))
		assert.Equal(t, i, p["n"])
	}
}

func TestConnSendAfterClose(t *testing.T) {
	c := NewConn(nil, "u1", "user", 0)
	c.Close()

	err := c.Send("x", nil)
	assert.ErrorIs(t, err, ErrConnClosed)

	// Close is idempotent.
	c.Close()
}

func TestConnTrySendQueueFull(t *testing.T) {
	// No write pump running, so the queue never drains.
	c := NewConn(nil, "u1", "user", 1)

	assert.True(t, c.TrySend("x", nil))
	assert.False(t, c.TrySend("x", nil))
}

func TestConnRoomBackIndex(t *testing.T) {
	c := NewConn(nil, "u1", "user", 0)

	c.addRoom("a")
	c.addRoom("b")
	assert.True(t, c.IsInRoom("a"))
	assert.ElementsMatch(t, []string{"a", "b"}, c.Rooms())

	c.removeRoom("a")
	assert.False(t, c.IsInRoom("a"))
	assert.Equal(t, []string{"b"}, c.Rooms())
}
