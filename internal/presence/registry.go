// Package presence tracks live connections: one per identity, each with its own
// heartbeat timer and bounded outbox.
package presence

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/DoyleJ11/codefarm-realtime/internal/apperr"
	"github.com/DoyleJ11/codefarm-realtime/internal/types"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusCoding  Status = "coding"
	StatusOffline Status = "offline"
)

const (
	MaxNameLength      = 32
	CodeSessionEvicted = "session_replaced"
)

// Disconnect reasons handed to OnDisconnect hooks.
var (
	ErrEvicted          = errors.New("presence: session replaced by a newer connection")
	ErrSlowConsumer     = errors.New("presence: outbox full")
	ErrTransport        = errors.New("presence: transport closed")
	ErrShutdown         = errors.New("presence: registry closed")
	ErrHeartbeatTimeout = apperr.Timeout("presence", "heartbeat timeout")
)

type Options struct {
	HeartbeatTimeout time.Duration
	OutboxSize       int
}

type Registry struct {
	logger *zap.Logger
	opts   Options

	mu         sync.RWMutex
	byID       map[string]*Connection
	byIdentity map[string]*Connection

	hooksMu sync.RWMutex
	hooks   []func(*Connection, error)
}

func NewRegistry(logger *zap.Logger, opts Options) *Registry {
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = 64
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = 90 * time.Second
	}
	return &Registry{
		logger:     logger,
		opts:       opts,
		byID:       make(map[string]*Connection),
		byIdentity: make(map[string]*Connection),
	}
}

// OnDisconnect registers a hook run after a connection is closed, outside every
// registry lock. Hooks run in registration order.
func (r *Registry) OnDisconnect(hook func(c *Connection, reason error)) {
	r.hooksMu.Lock()
	r.hooks = append(r.hooks, hook)
	r.hooksMu.Unlock()
}

// Connect registers a new connection for identity. An existing connection for the same
// identity is notified and then closed.
func (r *Registry) Connect(identity, name string, level int) (*Connection, error) {
	const op = "presence.Connect"

	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, apperr.Protocol(op, "identity is required")
	}
	if level < 0 {
		return nil, apperr.Protocol(op, "level must not be negative")
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}

	c := &Connection{
		ID:          id,
		Identity:    identity,
		Name:        normalizeName(name, identity),
		Level:       level,
		ConnectedAt: time.Now(),
		outbox:      make(chan types.Event, r.opts.OutboxSize),
		done:        make(chan struct{}),
		status:      StatusOnline,
		rooms:       make(map[string]struct{}),
		lastBeat:    time.Now(),
	}
	c.onFull = func() { r.Disconnect(c.ID, ErrSlowConsumer) }

	r.mu.Lock()
	old := r.byIdentity[identity]
	if old != nil {
		delete(r.byID, old.ID)
	}
	r.byID[c.ID] = c
	r.byIdentity[identity] = c
	r.mu.Unlock()

	c.mu.Lock()
	c.timer = time.AfterFunc(r.opts.HeartbeatTimeout, func() { r.checkLiveness(c) })
	c.mu.Unlock()

	if old != nil {
		old.Send(types.ErrorCode(CodeSessionEvicted, "signed in from another connection"))
		r.finish(old, ErrEvicted)
	}

	r.logger.Info("connection registered",
		zap.String("connection_id", c.ID),
		zap.String("identity", identity),
		zap.Bool("replaced", old != nil),
	)
	return c, nil
}

// Disconnect removes and closes the connection. It reports false when the connection
// was already gone.
func (r *Registry) Disconnect(id string, reason error) bool {
	r.mu.Lock()
	c := r.byID[id]
	if c == nil {
		r.mu.Unlock()
		return false
	}
	delete(r.byID, id)
	if r.byIdentity[c.Identity] == c {
		delete(r.byIdentity, c.Identity)
	}
	r.mu.Unlock()

	r.finish(c, reason)
	return true
}

func (r *Registry) finish(c *Connection, reason error) {
	if !c.close(reason) {
		return
	}

	fields := []zap.Field{
		zap.String("connection_id", c.ID),
		zap.String("identity", c.Identity),
		zap.Error(reason),
	}
	if errors.Is(reason, ErrSlowConsumer) {
		r.logger.Warn("dropping slow connection", fields...)
	} else {
		r.logger.Info("connection closed", fields...)
	}

	r.hooksMu.RLock()
	hooks := append([]func(*Connection, error){}, r.hooks...)
	r.hooksMu.RUnlock()
	for _, h := range hooks {
		h(c, reason)
	}
}

// checkLiveness runs on the connection's timer. A heartbeat that arrived since the
// timer was armed pushes the deadline out instead of disconnecting.
func (r *Registry) checkLiveness(c *Connection) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	idle := time.Since(c.lastBeat)
	if idle < r.opts.HeartbeatTimeout {
		c.timer.Reset(r.opts.HeartbeatTimeout - idle)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	r.Disconnect(c.ID, ErrHeartbeatTimeout)
}

// Heartbeat records liveness for the connection.
func (r *Registry) Heartbeat(id string) error {
	c, ok := r.Get(id)
	if !ok {
		return apperr.NotFound("presence.Heartbeat", "connection %s not found", id)
	}
	c.mu.Lock()
	c.lastBeat = time.Now()
	c.mu.Unlock()
	return nil
}

func (r *Registry) SetStatus(id string, status Status) error {
	const op = "presence.SetStatus"

	switch status {
	case StatusOnline, StatusAway, StatusCoding:
	default:
		return apperr.Protocol(op, "unknown status %q", status)
	}
	c, ok := r.Get(id)
	if !ok {
		return apperr.NotFound(op, "connection %s not found", id)
	}
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
	return nil
}

func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	return c, ok
}

// Lookup returns the live connection for identity.
func (r *Registry) Lookup(identity string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byIdentity[identity]
	return c, ok
}

func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity)
}

// Online filters identities down to the ones currently connected, keeping input order.
func (r *Registry) Online(identities []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(identities))
	for _, id := range identities {
		if _, ok := r.byIdentity[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// Identities lists every connected identity in sorted order.
func (r *Registry) Identities() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.byIdentity))
	for id := range r.byIdentity {
		out = append(out, id)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Close disconnects every connection.
func (r *Registry) Close() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Disconnect(id, ErrShutdown)
	}
}

func normalizeName(name, fallback string) string {
	name = strings.TrimSpace(norm.NFC.String(name))
	if utf8.RuneCountInString(name) > MaxNameLength {
		name = strings.TrimSpace(string([]rune(name)[:MaxNameLength]))
	}
	if name == "" {
		return fallback
	}
	return name
}
