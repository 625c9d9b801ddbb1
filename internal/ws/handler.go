// Package ws is the websocket edge: one reader loop and one writer goroutine per
// connection, with every inbound frame decoded once and dispatched to the hub.
package ws

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/DoyleJ11/codefarm-realtime/internal/apperr"
	"github.com/DoyleJ11/codefarm-realtime/internal/hub"
	"github.com/DoyleJ11/codefarm-realtime/internal/presence"
	"github.com/DoyleJ11/codefarm-realtime/internal/types"
)

const (
	writeTimeout   = 3 * time.Second
	friendsTimeout = 5 * time.Second
	maxFrameBytes  = 64 << 10
)

// Friends resolves the friend graph used for presence fan-out.
type Friends interface {
	FriendsOf(ctx context.Context, identity string) ([]string, error)
}

// StaticFriends is a fixed friend graph.
type StaticFriends map[string][]string

func (f StaticFriends) FriendsOf(_ context.Context, identity string) ([]string, error) {
	return f[identity], nil
}

// Add records a mutual friendship. It must not race with FriendsOf.
func (f StaticFriends) Add(a, b string) {
	if !slices.Contains(f[a], b) {
		f[a] = append(f[a], b)
	}
	if !slices.Contains(f[b], a) {
		f[b] = append(f[b], a)
	}
}

type Gateway struct {
	registry       *presence.Registry
	hub            *hub.Hub
	friends        Friends
	logger         *zap.Logger
	originPatterns []string
}

// NewGateway builds the websocket endpoint. Friends are told when a connection goes
// offline for any reason other than being replaced by a newer one.
func NewGateway(registry *presence.Registry, h *hub.Hub, friends Friends, logger *zap.Logger, originPatterns []string) *Gateway {
	g := &Gateway{
		registry:       registry,
		hub:            h,
		friends:        friends,
		logger:         logger,
		originPatterns: originPatterns,
	}
	registry.OnDisconnect(func(c *presence.Connection, reason error) {
		if errors.Is(reason, presence.ErrEvicted) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), friendsTimeout)
		defer cancel()
		g.fanoutStatus(ctx, c.Identity, presence.StatusOffline)
	})
	return g
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	identity := q.Get("identity")
	if identity == "" {
		http.Error(w, "missing identity", http.StatusBadRequest)
		return
	}
	level := 0
	if raw := q.Get("level"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid level", http.StatusBadRequest)
			return
		}
		level = n
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	c, err := g.registry.Connect(identity, q.Get("name"), level)
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, apperr.Message(err))
		return
	}

	ctx := r.Context()
	c.Send(types.Connected(c.ID, g.registry.OnlineCount()))
	g.fanoutStatus(ctx, c.Identity, presence.StatusOnline)

	// Writer goroutine
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writeLoop(ctx, conn, c)
	}()

	// Reader loop
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				g.logger.Debug("websocket read ended", zap.String("connection_id", c.ID), zap.Error(err))
			}
			g.registry.Disconnect(c.ID, presence.ErrTransport)
			break
		}

		msg, err := types.Decode(data)
		if err != nil {
			c.Send(types.Error(err))
			continue
		}
		if err := g.dispatch(ctx, c, msg); err != nil {
			c.Send(types.Error(err))
		}
	}
	<-writerDone
}

func (g *Gateway) writeLoop(ctx context.Context, conn *websocket.Conn, c *presence.Connection) {
	write := func(ev types.Event) error {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		return wsjson.Write(wctx, conn, ev)
	}

	for {
		select {
		case ev := <-c.Outbox():
			if err := write(ev); err != nil {
				g.registry.Disconnect(c.ID, presence.ErrTransport)
				conn.CloseNow()
				return
			}

		case <-c.Done():
			// Flush what was queued before the close, such as an eviction notice.
		drain:
			for {
				select {
				case ev := <-c.Outbox():
					if write(ev) != nil {
						break drain
					}
				default:
					break drain
				}
			}
			code, text := closeStatus(c.Reason())
			conn.Close(code, text)
			return
		}
	}
}

func closeStatus(reason error) (websocket.StatusCode, string) {
	switch {
	case errors.Is(reason, presence.ErrEvicted):
		return websocket.StatusPolicyViolation, "session replaced"
	case errors.Is(reason, presence.ErrHeartbeatTimeout):
		return websocket.StatusGoingAway, "heartbeat timeout"
	case errors.Is(reason, presence.ErrSlowConsumer):
		return websocket.StatusTryAgainLater, "too slow"
	case errors.Is(reason, presence.ErrShutdown):
		return websocket.StatusGoingAway, "server shutting down"
	default:
		return websocket.StatusNormalClosure, "bye"
	}
}

func (g *Gateway) dispatch(ctx context.Context, c *presence.Connection, msg types.Inbound) error {
	switch m := msg.(type) {
	case types.Ping:
		if err := g.registry.Heartbeat(c.ID); err != nil {
			return err
		}
		c.Send(types.Pong(m.SentAt))

	case types.StatusUpdate:
		status := presence.Status(m.Status)
		if err := g.registry.SetStatus(c.ID, status); err != nil {
			return err
		}
		g.fanoutStatus(ctx, c.Identity, status)

	case types.Chat:
		g.hub.SendDirect(m.To, types.ChatMessage(c.Identity, c.Name, m.Message))

	case types.SendGift:
		g.hub.SendDirect(m.To, types.GiftReceived(c.Identity, c.Name, m.Gift))

	case types.HelpAction:
		g.hub.SendDirect(m.To, types.HelpReceived(c.Identity, c.Name, m.Action, m.Data))

	case types.JoinRoom:
		return g.hub.Join(c, m.Room)

	case types.LeaveRoom:
		return g.hub.Leave(c, m.Room)

	case types.Broadcast:
		includeSelf := m.IncludeSelf != nil && *m.IncludeSelf
		_, err := g.hub.Broadcast(c, m.Room, m.Data, includeSelf)
		return err

	case types.GetOnlineFriends:
		friends, err := g.friends.FriendsOf(ctx, c.Identity)
		if err != nil {
			return err
		}
		c.Send(types.OnlineFriends(g.registry.Online(friends)))
	}
	return nil
}

// fanoutStatus tells every online friend of identity about its new status.
func (g *Gateway) fanoutStatus(ctx context.Context, identity string, status presence.Status) {
	friends, err := g.friends.FriendsOf(ctx, identity)
	if err != nil {
		g.logger.Warn("friend lookup failed", zap.String("identity", identity), zap.Error(err))
		return
	}
	ev := types.StatusChange(identity, string(status))
	for _, f := range g.registry.Online(friends) {
		g.hub.SendDirect(f, ev)
	}
}
