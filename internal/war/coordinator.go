package war

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/codefarm-realtime/internal/apperr"
	"github.com/DoyleJ11/codefarm-realtime/internal/engine"
)

// maxRouteAttempts bounds retries when a war's actor retires while a call is in flight.
const maxRouteAttempts = 3

type coordMsg interface{ isCoordMsg() }

type getLoop struct {
	ID    string
	Reply chan *warLoop
}

type ensureLoop struct {
	War   War // only used if the actor has to be created
	Reply chan *warLoop
}

type retireLoop struct {
	Loop *warLoop
}

type shutdownCoord struct{}

func (getLoop) isCoordMsg()       {}
func (ensureLoop) isCoordMsg()    {}
func (retireLoop) isCoordMsg()    {}
func (shutdownCoord) isCoordMsg() {}

// Coordinator owns one actor per live war and routes calls to it. Settled wars
// have no actor and are served from the store.
type Coordinator struct {
	store   Store
	guilds  Guilds
	settler Settler
	logger  *zap.Logger
	now     func() time.Time

	inbox  chan coordMsg
	wars   map[string]*warLoop
	ctx    context.Context
	cancel context.CancelFunc
}

func NewCoordinator(parent context.Context, store Store, guilds Guilds, settler Settler, logger *zap.Logger) *Coordinator {
	ctx, cancel := context.WithCancel(parent)
	c := &Coordinator{
		store:   store,
		guilds:  guilds,
		settler: settler,
		logger:  logger,
		now:     time.Now,
		inbox:   make(chan coordMsg, 64),
		wars:    make(map[string]*warLoop),
		ctx:     ctx,
		cancel:  cancel,
	}
	go c.loop()
	return c
}

func (c *Coordinator) loop() {
	for {
		select {
		case <-c.ctx.Done():
			for _, l := range c.wars {
				l.cancel()
			}
			clear(c.wars)
			return

		case m := <-c.inbox:
			switch msg := m.(type) {
			case getLoop:
				msg.Reply <- c.wars[msg.ID] // may be nil

			case ensureLoop:
				if l := c.wars[msg.War.ID]; l != nil {
					msg.Reply <- l
					break
				}
				l := newWarLoop(c.ctx, msg.War, c)
				c.wars[msg.War.ID] = l
				msg.Reply <- l

			case retireLoop:
				if c.wars[msg.Loop.id] == msg.Loop {
					delete(c.wars, msg.Loop.id)
				}
				msg.Loop.cancel()

			case shutdownCoord:
				c.cancel()
			}
		}
	}
}

// ask posts msg to the coordinator loop and waits for its reply.
func (c *Coordinator) ask(ctx context.Context, msg coordMsg, reply chan *warLoop) (*warLoop, error) {
	select {
	case c.inbox <- msg:
	case <-c.ctx.Done():
		return nil, errClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case l := <-reply:
		return l, nil
	case <-c.ctx.Done():
		return nil, errClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

var errClosed = errors.New("war coordinator closed")

func (c *Coordinator) retireLoop(l *warLoop) {
	select {
	case c.inbox <- retireLoop{Loop: l}:
	case <-c.ctx.Done():
	}
}

// Close stops every war actor. Deadlines are re-armed by Recover on the next start.
func (c *Coordinator) Close() {
	select {
	case c.inbox <- shutdownCoord{}:
	case <-c.ctx.Done():
	}
}

// loopFor returns the actor for a live war, creating it from the store when needed.
// A finished war has no actor and is returned as stored, unless revive is set and
// its settlement was never recorded.
func (c *Coordinator) loopFor(ctx context.Context, id string, revive bool) (*warLoop, War, error) {
	reply := make(chan *warLoop, 1)
	l, err := c.ask(ctx, getLoop{ID: id, Reply: reply}, reply)
	if err != nil || l != nil {
		return l, War{}, err
	}

	w, err := c.store.GetWar(ctx, id)
	if err != nil {
		return nil, War{}, err
	}
	if w.Status.Terminal() && !(revive && w.SettledAt.IsZero()) {
		return nil, w, nil
	}
	l, err = c.ask(ctx, ensureLoop{War: w, Reply: reply}, reply)
	return l, War{}, err
}

// call routes one message to the war's actor. finished answers when the war has no
// actor because it already finished.
func (c *Coordinator) call(ctx context.Context, id string, revive bool, mk func(chan result) warMsg, finished func(War) (War, error)) (War, error) {
	for attempt := 0; attempt < maxRouteAttempts; attempt++ {
		l, w, err := c.loopFor(ctx, id, revive)
		if err != nil {
			return War{}, err
		}
		if l == nil {
			return finished(w)
		}

		reply := make(chan result, 1)
		select {
		case l.inbox <- mk(reply):
		case <-l.done():
			continue
		case <-ctx.Done():
			return War{}, ctx.Err()
		}

		select {
		case r := <-reply:
			return r.war, r.err
		case <-l.done():
			select {
			case r := <-reply:
				return r.war, r.err
			default:
				continue
			}
		case <-ctx.Done():
			return War{}, ctx.Err()
		}
	}
	return War{}, apperr.Conflict("war.route", "war %s is changing state, retry", id)
}

// Recover starts actors for every preparing or active war so deadlines fire after
// a restart, and for finished wars whose settlement was never recorded.
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	wars, err := c.store.LiveWars(ctx)
	if err != nil {
		return 0, err
	}
	unsettled, err := c.store.UnsettledWars(ctx)
	if err != nil {
		return 0, err
	}
	wars = append(wars, unsettled...)
	reply := make(chan *warLoop, 1)
	for _, w := range wars {
		if _, err := c.ask(ctx, ensureLoop{War: w, Reply: reply}, reply); err != nil {
			return 0, err
		}
	}
	if len(wars) > 0 {
		c.logger.Info("wars recovered", zap.Int("count", len(wars)))
	}
	return len(wars), nil
}

// CreateWar opens a preparing war between two guilds that ends duration from now.
func (c *Coordinator) CreateWar(ctx context.Context, guildA, guildB string, duration time.Duration, rewardPool int64) (War, error) {
	const op = "war.CreateWar"

	switch {
	case guildA == "" || guildB == "":
		return War{}, apperr.Protocol(op, "both guild ids are required")
	case guildA == guildB:
		return War{}, apperr.Protocol(op, "a guild cannot fight itself")
	case duration <= 0:
		return War{}, apperr.Protocol(op, "duration must be positive")
	case rewardPool < 0:
		return War{}, apperr.Protocol(op, "reward pool must not be negative")
	}

	now := c.now()
	w := War{
		ID:         uuid.NewString(),
		GuildA:     guildA,
		GuildB:     guildB,
		Status:     engine.WarPreparing,
		StartTime:  now,
		EndTime:    now.Add(duration),
		RewardPool: rewardPool,
	}
	if err := c.store.CreateWar(ctx, w); err != nil {
		return War{}, err
	}

	reply := make(chan *warLoop, 1)
	if _, err := c.ask(ctx, ensureLoop{War: w, Reply: reply}, reply); err != nil {
		return War{}, err
	}
	c.logger.Info("war created",
		zap.String("war_id", w.ID),
		zap.String("guild_a", guildA),
		zap.String("guild_b", guildB),
		zap.Time("end_time", w.EndTime),
	)
	return w, nil
}

func (c *Coordinator) StartWar(ctx context.Context, id string) (War, error) {
	return c.call(ctx, id, false,
		func(reply chan result) warMsg { return startMsg{ctx: ctx, Reply: reply} },
		func(w War) (War, error) {
			_, err := engine.ApplyWar(w.Status, engine.CmdStart)
			return w, err
		},
	)
}

// Contribute adds delta to the player's guild total. The war must be active and the
// player must belong to one of its two guilds.
func (c *Coordinator) Contribute(ctx context.Context, id, playerID string, delta int64, battleWon bool) (War, error) {
	const op = "war.Contribute"

	if playerID == "" {
		return War{}, apperr.Protocol(op, "player id is required")
	}
	if delta < 0 {
		return War{}, apperr.Protocol(op, "score delta must not be negative")
	}
	guildID, err := c.guilds.GuildOf(ctx, playerID)
	if err != nil {
		return War{}, err
	}

	d := Delta{PlayerID: playerID, GuildID: guildID, Score: delta, BattleWon: battleWon}
	return c.call(ctx, id, false,
		func(reply chan result) warMsg { return contributeMsg{ctx: ctx, delta: d, Reply: reply} },
		func(w War) (War, error) {
			return w, apperr.InvalidState(op, "war is %s", w.Status)
		},
	)
}

// EndWar finishes an active war. Ending a finished war returns it unchanged, after
// retrying its settlement if no payout was recorded.
func (c *Coordinator) EndWar(ctx context.Context, id string) (War, error) {
	return c.call(ctx, id, true,
		func(reply chan result) warMsg { return endMsg{ctx: ctx, Reply: reply} },
		func(w War) (War, error) { return w, nil },
	)
}

func (c *Coordinator) GetWar(ctx context.Context, id string) (War, error) {
	return c.call(ctx, id, false,
		func(reply chan result) warMsg { return getMsg{Reply: reply} },
		func(w War) (War, error) { return w, nil },
	)
}

func (c *Coordinator) Contributions(ctx context.Context, id string) ([]Contribution, error) {
	if _, err := c.GetWar(ctx, id); err != nil {
		return nil, err
	}
	return c.store.Contributions(ctx, id)
}
