package presence

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/codefarm-realtime/internal/apperr"
	"github.com/DoyleJ11/codefarm-realtime/internal/types"
)

func newTestRegistry(t *testing.T, timeout time.Duration, outbox int) *Registry {
	t.Helper()
	r := NewRegistry(zaptest.NewLogger(t), Options{HeartbeatTimeout: timeout, OutboxSize: outbox})
	t.Cleanup(r.Close)
	return r
}

func recvEvent(t *testing.T, ch <-chan types.Event, within time.Duration) types.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(within):
		t.Fatalf("timed out waiting for event")
		return types.Event{}
	}
}

func TestConnectValidatesInput(t *testing.T) {
	r := newTestRegistry(t, time.Minute, 8)

	_, err := r.Connect("  ", "x", 1)
	assert.True(t, errors.Is(err, apperr.ErrProtocol))

	_, err = r.Connect("alice", "x", -1)
	assert.True(t, errors.Is(err, apperr.ErrProtocol))

	c, err := r.Connect("alice", "", 3)
	require.NoError(t, err)
	assert.Equal(t, "alice", c.Name, "empty name falls back to identity")
	assert.Equal(t, StatusOnline, c.Status())
	assert.Equal(t, 1, r.OnlineCount())
}

func TestNormalizeName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"  Alice  ", "Alice"},
		{"Café", "Café"},
		{"abcdefghijklmnopqrstuvwxyz0123456789", "abcdefghijklmnopqrstuvwxyz012345"},
		{"", "fallback"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, normalizeName(tc.in, "fallback"), tc.in)
	}
}

func TestReconnectEvictsOldConnection(t *testing.T) {
	r := newTestRegistry(t, time.Minute, 8)

	var mu sync.Mutex
	var reasons []error
	r.OnDisconnect(func(c *Connection, reason error) {
		mu.Lock()
		reasons = append(reasons, reason)
		mu.Unlock()
	})

	old, err := r.Connect("alice", "Alice", 1)
	require.NoError(t, err)
	fresh, err := r.Connect("alice", "Alice", 1)
	require.NoError(t, err)

	ev := recvEvent(t, old.Outbox(), time.Second)
	assert.Equal(t, types.EvError, ev.Type)
	assert.Equal(t, CodeSessionEvicted, ev.Code)

	select {
	case <-old.Done():
	default:
		t.Fatal("old connection should be closed")
	}
	assert.True(t, errors.Is(old.Reason(), ErrEvicted))

	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, fresh.ID, got.ID)
	assert.Equal(t, 1, r.OnlineCount())

	_, ok = r.Get(old.ID)
	assert.False(t, ok)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reasons, 1)
	assert.True(t, errors.Is(reasons[0], ErrEvicted))
}

func TestHeartbeatTimeoutDisconnects(t *testing.T) {
	r := newTestRegistry(t, 60*time.Millisecond, 8)

	closed := make(chan error, 1)
	r.OnDisconnect(func(c *Connection, reason error) { closed <- reason })

	c, err := r.Connect("bob", "Bob", 1)
	require.NoError(t, err)

	select {
	case reason := <-closed:
		assert.True(t, errors.Is(reason, apperr.ErrTimeout))
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not timed out")
	}
	assert.True(t, c.Closed())
	assert.Equal(t, 0, r.OnlineCount())
}

func TestHeartbeatKeepsConnectionAlive(t *testing.T) {
	r := newTestRegistry(t, 150*time.Millisecond, 8)

	c, err := r.Connect("carol", "Carol", 1)
	require.NoError(t, err)

	deadline := time.Now().Add(400 * time.Millisecond)
	for time.Now().Before(deadline) {
		require.NoError(t, r.Heartbeat(c.ID))
		time.Sleep(30 * time.Millisecond)
	}
	assert.False(t, c.Closed())

	// Silence past the timeout removes it.
	require.Eventually(t, c.Closed, 2*time.Second, 10*time.Millisecond)
	assert.True(t, errors.Is(c.Reason(), ErrHeartbeatTimeout))
}

func TestHeartbeatUnknownConnection(t *testing.T) {
	r := newTestRegistry(t, time.Minute, 8)
	assert.True(t, errors.Is(r.Heartbeat("nope"), apperr.ErrNotFound))
}

func TestSlowConsumerIsDropped(t *testing.T) {
	r := newTestRegistry(t, time.Minute, 2)

	c, err := r.Connect("dave", "Dave", 1)
	require.NoError(t, err)

	assert.True(t, c.Send(types.Pong(1)))
	assert.True(t, c.Send(types.Pong(2)))
	assert.False(t, c.Send(types.Pong(3)))

	require.Eventually(t, c.Closed, time.Second, 5*time.Millisecond)
	assert.True(t, errors.Is(c.Reason(), ErrSlowConsumer))
	_, ok := r.Lookup("dave")
	assert.False(t, ok)
}

func TestSetStatus(t *testing.T) {
	r := newTestRegistry(t, time.Minute, 8)
	c, err := r.Connect("erin", "Erin", 1)
	require.NoError(t, err)

	require.NoError(t, r.SetStatus(c.ID, StatusCoding))
	assert.Equal(t, StatusCoding, c.Status())

	assert.True(t, errors.Is(r.SetStatus(c.ID, "sleeping"), apperr.ErrProtocol))

	r.Disconnect(c.ID, ErrTransport)
	assert.Equal(t, StatusOffline, c.Status())
	assert.True(t, errors.Is(r.SetStatus(c.ID, StatusAway), apperr.ErrNotFound))
}

func TestOnlineFiltersAndKeepsOrder(t *testing.T) {
	r := newTestRegistry(t, time.Minute, 8)
	for _, id := range []string{"a", "b", "c"} {
		_, err := r.Connect(id, id, 1)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"c", "a"}, r.Online([]string{"c", "x", "a"}))
	assert.Equal(t, []string{"a", "b", "c"}, r.Identities())
}

func TestTrackRoomFailsAfterClose(t *testing.T) {
	r := newTestRegistry(t, time.Minute, 8)
	c, err := r.Connect("fay", "Fay", 1)
	require.NoError(t, err)

	require.True(t, c.TrackRoom("r1"))
	assert.Equal(t, []string{"r1"}, c.Rooms())

	require.True(t, r.Disconnect(c.ID, ErrTransport))
	assert.False(t, r.Disconnect(c.ID, ErrTransport), "second disconnect is a no-op")
	assert.False(t, c.TrackRoom("r2"))
	assert.False(t, c.Send(types.Pong(1)))
}
