// Package hub routes events between live connections: rooms, direct messages and
// server-originated notifications.
package hub

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/DoyleJ11/codefarm-realtime/internal/apperr"
	"github.com/DoyleJ11/codefarm-realtime/internal/presence"
	"github.com/DoyleJ11/codefarm-realtime/internal/types"
)

type room struct {
	id         string
	persistent bool

	mu      sync.Mutex
	closed  bool
	members map[string]*presence.Connection // by connection id
}

func (r *room) identitiesLocked() []string {
	out := make([]string, 0, len(r.members))
	for _, c := range r.members {
		out = append(out, c.Identity)
	}
	sort.Strings(out)
	return out
}

// Hub owns the room table. hub.mu guards the map only; each room serializes its own
// membership and fan-out, so the two locks are never held together.
type Hub struct {
	registry   *presence.Registry
	logger     *zap.Logger
	persistent []string

	mu    sync.Mutex
	rooms map[string]*room
}

// NewHub wires the hub to the registry so closed connections leave their rooms.
// Rooms whose id starts with one of persistentPrefixes survive becoming empty.
func NewHub(registry *presence.Registry, logger *zap.Logger, persistentPrefixes []string) *Hub {
	h := &Hub{
		registry:   registry,
		logger:     logger,
		persistent: persistentPrefixes,
		rooms:      make(map[string]*room),
	}
	registry.OnDisconnect(h.removeConnection)
	return h
}

func (h *Hub) isPersistent(id string) bool {
	for _, p := range h.persistent {
		if p != "" && strings.HasPrefix(id, p) {
			return true
		}
	}
	return false
}

func (h *Hub) ensureRoom(id string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r := h.rooms[id]; r != nil {
		return r
	}
	r := &room{
		id:         id,
		persistent: h.isPersistent(id),
		members:    make(map[string]*presence.Connection),
	}
	h.rooms[id] = r
	return r
}

func (h *Hub) lookup(id string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[id]
}

func (h *Hub) dropIfCurrent(r *room) {
	h.mu.Lock()
	if h.rooms[r.id] == r {
		delete(h.rooms, r.id)
	}
	h.mu.Unlock()
}

// Join adds c to the room, creating it on first use. Joining twice is a no-op.
func (h *Hub) Join(c *presence.Connection, roomID string) error {
	const op = "hub.Join"
	if roomID == "" {
		return apperr.Protocol(op, "room is required")
	}

	for {
		r := h.ensureRoom(roomID)
		r.mu.Lock()
		if r.closed {
			// Lost a race with the last member leaving; the room is being removed.
			r.mu.Unlock()
			continue
		}
		if _, ok := r.members[c.ID]; ok {
			r.mu.Unlock()
			return nil
		}
		if !c.TrackRoom(roomID) {
			empty := len(r.members) == 0 && !r.persistent
			if empty {
				r.closed = true
			}
			r.mu.Unlock()
			if empty {
				h.dropIfCurrent(r)
			}
			return apperr.InvalidState(op, "connection %s is closed", c.ID)
		}

		r.members[c.ID] = c
		c.Send(types.RoomJoined(roomID, r.identitiesLocked()))
		joined := types.RoomJoin(roomID, c.Identity, c.Name)
		for id, m := range r.members {
			if id != c.ID {
				m.Send(joined)
			}
		}
		r.mu.Unlock()

		h.logger.Debug("room joined", zap.String("room", roomID), zap.String("identity", c.Identity))
		return nil
	}
}

// Leave removes c from the room. Leaving a room it is not in is a no-op.
func (h *Hub) Leave(c *presence.Connection, roomID string) error {
	if roomID == "" {
		return apperr.Protocol("hub.Leave", "room is required")
	}
	h.leave(c, roomID, func(r *room) {
		c.Send(types.RoomLeft(roomID))
		h.sendOthers(r, c.ID, types.RoomLeave(roomID, c.Identity))
	})
	return nil
}

// leave removes the member and runs notify under the room lock when it was present.
func (h *Hub) leave(c *presence.Connection, roomID string, notify func(r *room)) {
	r := h.lookup(roomID)
	if r == nil {
		c.UntrackRoom(roomID)
		return
	}

	r.mu.Lock()
	if _, ok := r.members[c.ID]; !ok {
		r.mu.Unlock()
		c.UntrackRoom(roomID)
		return
	}
	delete(r.members, c.ID)
	c.UntrackRoom(roomID)
	notify(r)
	empty := len(r.members) == 0 && !r.persistent
	if empty {
		r.closed = true
	}
	r.mu.Unlock()

	if empty {
		h.dropIfCurrent(r)
		h.logger.Debug("room removed", zap.String("room", roomID))
	}
}

func (h *Hub) sendOthers(r *room, exceptID string, ev types.Event) int {
	n := 0
	for id, m := range r.members {
		if id == exceptID {
			continue
		}
		if m.Send(ev) {
			n++
		}
	}
	return n
}

// removeConnection runs after the registry closed c. Every room it was in sees it
// leave; unless the identity reconnected elsewhere, rooms also see it go offline.
func (h *Hub) removeConnection(c *presence.Connection, reason error) {
	evicted := errors.Is(reason, presence.ErrEvicted)
	for _, roomID := range c.Rooms() {
		h.leave(c, roomID, func(r *room) {
			h.sendOthers(r, c.ID, types.RoomLeave(roomID, c.Identity))
			if !evicted {
				h.sendOthers(r, c.ID, types.StatusChange(c.Identity, string(presence.StatusOffline)))
			}
		})
	}
}

// Broadcast delivers data to every member of the room. The sender must be a member and
// only receives its own message when includeSender is set. It returns how many
// members the event was queued for.
func (h *Hub) Broadcast(from *presence.Connection, roomID string, data json.RawMessage, includeSender bool) (int, error) {
	const op = "hub.Broadcast"

	r := h.lookup(roomID)
	if r == nil {
		return 0, apperr.NotFound(op, "room %s not found", roomID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, apperr.NotFound(op, "room %s not found", roomID)
	}
	if _, ok := r.members[from.ID]; !ok {
		return 0, apperr.InvalidState(op, "not a member of room %s", roomID)
	}

	ev := types.BroadcastMessage(from.Identity, from.Name, roomID, data)
	except := from.ID
	if includeSender {
		except = ""
	}
	return h.sendOthers(r, except, ev), nil
}

// SendDirect queues ev for identity's live connection. Offline recipients are dropped.
func (h *Hub) SendDirect(identity string, ev types.Event) bool {
	c, ok := h.registry.Lookup(identity)
	if !ok {
		return false
	}
	return c.Send(ev)
}

// Notify pushes a server-originated event to one identity.
func (h *Hub) Notify(identity string, ev types.Event) bool {
	delivered := h.SendDirect(identity, ev)
	if !delivered {
		h.logger.Debug("notification dropped", zap.String("identity", identity), zap.String("type", string(ev.Type)))
	}
	return delivered
}

// NotifyRoom pushes a server-originated event to every member of the room.
func (h *Hub) NotifyRoom(roomID string, ev types.Event) (int, error) {
	r := h.lookup(roomID)
	if r == nil {
		return 0, apperr.NotFound("hub.NotifyRoom", "room %s not found", roomID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return h.sendOthers(r, "", ev), nil
}

func (h *Hub) Members(roomID string) ([]string, error) {
	r := h.lookup(roomID)
	if r == nil {
		return nil, apperr.NotFound("hub.Members", "room %s not found", roomID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.identitiesLocked(), nil
}

func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}
