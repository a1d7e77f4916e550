package services

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWSHubRegisterLastWins(t *testing.T) {
	hub := NewWSHub()
	first := &fakeConn{}
	second := &fakeConn{}

	hub.Register("u1", first)
	hub.Register("u1", second)

	assert.True(t, first.isClosed(), "superseded connection must be closed")
	assert.False(t, second.isClosed())

	require.NoError(t, hub.SendToUser("u1", WSEvent{Type: EventPeerStatus}))
	assert.Empty(t, first.events())
	assert.Len(t, second.events(), 1)
}

func TestWSHubUnregisterOnlyCurrent(t *testing.T) {
	hub := NewWSHub()
	first := &fakeConn{}
	second := &fakeConn{}

	hub.Register("u1", first)
	hub.Register("u1", second)

	// The stale connection's teardown must not evict its successor.
	hub.Unregister("u1", first)
	assert.True(t, hub.IsOnline("u1"))

	hub.Unregister("u1", second)
	assert.False(t, hub.IsOnline("u1"))
	assert.True(t, second.isClosed())
}

func TestWSHubSendToUser(t *testing.T) {
	hub := NewWSHub()

	t.Run("offline user errors", func(t *testing.T) {
		assert.Error(t, hub.SendToUser("nobody", WSEvent{Type: EventNewMessage}))
	})

	t.Run("write failure evicts the connection", func(t *testing.T) {
		broken := &fakeConn{fail: true}
		hub.Register("u1", broken)

		assert.Error(t, hub.SendToUser("u1", WSEvent{Type: EventNewMessage}))
		assert.False(t, hub.IsOnline("u1"))
	})
}

func TestWSHubDeliverBestEffort(t *testing.T) {
	hub := NewWSHub()
	conn := &fakeConn{}
	hub.Register("online", conn)

	// Offline recipients are dropped without error.
	hub.Deliver(WSEvent{Type: EventNewMessage}, "online", "offline")

	assert.Len(t, conn.events(), 1)
}

func TestWSHubEcho(t *testing.T) {
	hub := NewWSHub()
	conn := &fakeConn{}
	hub.Register("u1", conn)

	frame := json.RawMessage(`{"type":"ping"}`)
	hub.Echo("u1", frame)

	require.Len(t, conn.frames, 1)
	assert.Equal(t, frame, conn.frames[0])

	// Echo to an offline user is a no-op.
	hub.Echo("nobody", frame)
}

func TestWSEventCarriesNoCiphertext(t *testing.T) {
	f := newFixture(t)

	sealed, err := f.envelope.Seal("top secret")
	require.NoError(t, err)

	dto := &MessageDTO{ID: "m1", Content: f.envelope.Open(sealed)}
	payload, err := json.Marshal(WSEvent{Type: EventNewMessage, Message: dto})
	require.NoError(t, err)

	assert.Contains(t, string(payload), "top secret")
	assert.NotContains(t, string(payload), sealed)
}
