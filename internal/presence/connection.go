package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/DoyleJ11/codefarm-realtime/internal/types"
)

// Connection is one live session. Transport code drains Outbox until Done is closed.
type Connection struct {
	ID          string
	Identity    string
	Name        string
	Level       int
	ConnectedAt time.Time

	outbox chan types.Event
	done   chan struct{}
	onFull func()

	mu       sync.Mutex
	closed   bool
	reason   error
	status   Status
	rooms    map[string]struct{}
	lastBeat time.Time
	timer    *time.Timer
}

// Send queues ev without blocking. A full outbox schedules the connection's removal
// and the event is dropped.
func (c *Connection) Send(ev types.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}

	select {
	case c.outbox <- ev:
		return true
	default:
		if c.onFull != nil {
			// Callers may hold room locks; teardown takes them again.
			go c.onFull()
		}
		return false
	}
}

func (c *Connection) Outbox() <-chan types.Event { return c.outbox }

func (c *Connection) Done() <-chan struct{} { return c.done }

// Reason is why the connection closed, or nil while it is live.
func (c *Connection) Reason() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return StatusOffline
	}
	return c.status
}

func (c *Connection) LastHeartbeat() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastBeat
}

// TrackRoom records room membership on the connection. It fails once the connection
// is closed so no room can outlive its teardown.
func (c *Connection) TrackRoom(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.rooms[room] = struct{}{}
	return true
}

func (c *Connection) UntrackRoom(room string) {
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
}

func (c *Connection) Rooms() []string {
	c.mu.Lock()
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	c.mu.Unlock()

	sort.Strings(out)
	return out
}

func (c *Connection) close(reason error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	c.reason = reason
	if c.timer != nil {
		c.timer.Stop()
	}
	close(c.done)
	return true
}
