package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/codefarm-realtime/internal/hub"
	"github.com/DoyleJ11/codefarm-realtime/internal/presence"
	"github.com/DoyleJ11/codefarm-realtime/internal/types"
)

func newTestServer(t *testing.T, friends Friends) (*httptest.Server, *presence.Registry) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	reg := presence.NewRegistry(logger, presence.Options{HeartbeatTimeout: time.Minute, OutboxSize: 64})
	h := hub.NewHub(reg, logger, []string{"guild:"})
	srv := httptest.NewServer(NewGateway(reg, h, friends, logger, nil))
	t.Cleanup(func() {
		reg.Close()
		srv.Close()
	})
	return srv, reg
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

// helper: read events until one of the wanted type arrives
func readUntil(t *testing.T, conn *websocket.Conn, want types.EventType) types.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		var ev types.Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		if ev.Type == want {
			return ev
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(frame)))
}

func TestConnectedThenPong(t *testing.T) {
	srv, _ := newTestServer(t, StaticFriends{})
	conn := dial(t, srv, "identity=alice&name=Alice&level=3")

	ev := readUntil(t, conn, types.EvConnected)
	assert.NotEmpty(t, ev.ConnectionID)
	assert.Equal(t, 1, ev.OnlineCount)

	send(t, conn, `{"type":"ping","sent_at":99}`)
	ev = readUntil(t, conn, types.EvPong)
	assert.Equal(t, int64(99), ev.SentAt)
}

func TestMalformedFrameGetsProtocolError(t *testing.T) {
	srv, _ := newTestServer(t, StaticFriends{})
	conn := dial(t, srv, "identity=alice")
	readUntil(t, conn, types.EvConnected)

	send(t, conn, `{"type":"warp"}`)
	ev := readUntil(t, conn, types.EvError)
	assert.Equal(t, "protocol_error", ev.Code)

	// The connection survives a bad frame.
	send(t, conn, `{"type":"ping"}`)
	readUntil(t, conn, types.EvPong)
}

func TestRoomBroadcastBetweenClients(t *testing.T) {
	srv, _ := newTestServer(t, StaticFriends{})
	a := dial(t, srv, "identity=alice")
	b := dial(t, srv, "identity=bob")
	readUntil(t, a, types.EvConnected)
	readUntil(t, b, types.EvConnected)

	send(t, a, `{"type":"join_room","room":"farm:1"}`)
	readUntil(t, a, types.EvRoomJoined)
	send(t, b, `{"type":"join_room","room":"farm:1"}`)
	joined := readUntil(t, b, types.EvRoomJoined)
	assert.Equal(t, []string{"alice", "bob"}, joined.Members)

	send(t, a, `{"type":"broadcast","room":"farm:1","data":{"crop":"corn"}}`)
	ev := readUntil(t, b, types.EvBroadcastMessage)
	assert.Equal(t, "alice", ev.From)
	assert.JSONEq(t, `{"crop":"corn"}`, string(ev.Data))
}

func TestBroadcastOutsideRoomIsRejected(t *testing.T) {
	srv, _ := newTestServer(t, StaticFriends{})
	a := dial(t, srv, "identity=alice")
	readUntil(t, a, types.EvConnected)

	send(t, a, `{"type":"broadcast","room":"nowhere","data":{}}`)
	ev := readUntil(t, a, types.EvError)
	assert.Equal(t, "not_found", ev.Code)
}

func TestDirectChat(t *testing.T) {
	srv, _ := newTestServer(t, StaticFriends{})
	a := dial(t, srv, "identity=alice&name=Alice")
	b := dial(t, srv, "identity=bob")
	readUntil(t, a, types.EvConnected)
	readUntil(t, b, types.EvConnected)

	send(t, a, `{"type":"chat","to":"bob","message":"hello"}`)
	ev := readUntil(t, b, types.EvChatMessage)
	assert.Equal(t, "alice", ev.From)
	assert.Equal(t, "Alice", ev.FromName)
	assert.Equal(t, "hello", ev.Message)
}

func TestReconnectEvictsOldSocket(t *testing.T) {
	srv, reg := newTestServer(t, StaticFriends{})
	old := dial(t, srv, "identity=alice")
	readUntil(t, old, types.EvConnected)

	fresh := dial(t, srv, "identity=alice")
	readUntil(t, fresh, types.EvConnected)

	ev := readUntil(t, old, types.EvError)
	assert.Equal(t, presence.CodeSessionEvicted, ev.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var next types.Event
	err := wsjson.Read(ctx, old, &next)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
	assert.Equal(t, 1, reg.OnlineCount())
}

func TestPresenceFanoutToFriends(t *testing.T) {
	friends := StaticFriends{"alice": {"bob", "carol"}, "bob": {"alice"}}
	srv, _ := newTestServer(t, friends)

	b := dial(t, srv, "identity=bob")
	readUntil(t, b, types.EvConnected)

	a := dial(t, srv, "identity=alice")
	readUntil(t, a, types.EvConnected)
	ev := readUntil(t, b, types.EvStatusChange)
	assert.Equal(t, "alice", ev.Identity)
	assert.Equal(t, "online", ev.Status)

	send(t, a, `{"type":"get_online_friends"}`)
	ev = readUntil(t, a, types.EvOnlineFriends)
	assert.Equal(t, []string{"bob"}, ev.Friends)

	send(t, a, `{"type":"status","status":"coding"}`)
	ev = readUntil(t, b, types.EvStatusChange)
	assert.Equal(t, "coding", ev.Status)

	a.Close(websocket.StatusNormalClosure, "")
	ev = readUntil(t, b, types.EvStatusChange)
	assert.Equal(t, "offline", ev.Status)
}

func TestMissingIdentityIsRejected(t *testing.T) {
	srv, _ := newTestServer(t, StaticFriends{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/", nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, 400, resp.StatusCode)
	}
}
