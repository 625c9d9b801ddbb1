package war

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/codefarm-realtime/internal/apperr"
	"github.com/DoyleJ11/codefarm-realtime/internal/engine"
)

const (
	// settleTimeout bounds store and settler calls made from the deadline timer.
	settleTimeout = 10 * time.Second
	// settleRetryDelay spaces settlement attempts after a failure.
	settleRetryDelay = 5 * time.Second
)

type warMsg interface{ isWarMsg() }

type result struct {
	war War
	err error
}

type startMsg struct {
	ctx   context.Context
	Reply chan result
}

type contributeMsg struct {
	ctx   context.Context
	delta Delta
	Reply chan result
}

type endMsg struct {
	ctx   context.Context
	Reply chan result
}

type getMsg struct {
	Reply chan result
}

// deadlineMsg is posted by the end_time timer and by settlement retries.
type deadlineMsg struct{}

func (startMsg) isWarMsg()      {}
func (contributeMsg) isWarMsg() {}
func (endMsg) isWarMsg()        {}
func (getMsg) isWarMsg()        {}
func (deadlineMsg) isWarMsg()   {}

// warLoop is the single owner of one war's state. Every mutation goes through its
// inbox, so contributions to the same war are applied one at a time.
type warLoop struct {
	id      string
	inbox   chan warMsg
	war     War
	store   Store
	settler Settler
	logger  *zap.Logger
	now     func() time.Time
	retire  func(*warLoop)

	// paid is set once the settler accepted the payout, so a failed
	// MarkSettled never pays a second time.
	paid bool

	timer  *time.Timer
	ctx    context.Context
	cancel context.CancelFunc
}

func newWarLoop(parent context.Context, w War, c *Coordinator) *warLoop {
	ctx, cancel := context.WithCancel(parent)
	l := &warLoop{
		id:      w.ID,
		inbox:   make(chan warMsg, 64),
		war:     w,
		store:   c.store,
		settler: c.settler,
		logger:  c.logger.With(zap.String("war_id", w.ID)),
		now:     c.now,
		retire:  c.retireLoop,
		ctx:     ctx,
		cancel:  cancel,
	}
	switch {
	case w.Status == engine.WarActive:
		l.armDeadline()
	case w.Status == engine.WarFinished && w.SettledAt.IsZero():
		l.resetTimer(0)
	}
	go l.loop()
	return l
}

func (l *warLoop) done() <-chan struct{} { return l.ctx.Done() }

func (l *warLoop) loop() {
	defer l.stopTimer()
	for {
		select {
		case <-l.ctx.Done():
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case startMsg:
				err := l.start(msg.ctx)
				msg.Reply <- result{war: l.war, err: err}

			case contributeMsg:
				err := l.contribute(msg.ctx, msg.delta)
				msg.Reply <- result{war: l.war, err: err}

			case endMsg:
				err := l.end(msg.ctx)
				msg.Reply <- result{war: l.war, err: err}

			case getMsg:
				msg.Reply <- result{war: l.war}

			case deadlineMsg:
				l.onDeadline()
			}
		}
	}
}

func (l *warLoop) start(ctx context.Context) error {
	next, err := engine.ApplyWar(l.war.Status, engine.CmdStart)
	if err != nil {
		return err
	}
	if !l.now().Before(l.war.EndTime) {
		return apperr.Timeout("war.start", "war %s passed its end time", l.war.ID)
	}
	if err := l.store.StartWar(ctx, l.war.ID); err != nil {
		return err
	}
	l.war.Status = next
	l.armDeadline()
	l.logger.Info("war started", zap.Time("end_time", l.war.EndTime))
	return nil
}

func (l *warLoop) contribute(ctx context.Context, d Delta) error {
	const op = "war.contribute"

	if l.war.Status != engine.WarActive {
		return apperr.InvalidState(op, "war is %s", l.war.Status)
	}
	if !l.now().Before(l.war.EndTime) {
		// The deadline timer has not run yet; finish now so late work is never counted.
		if err := l.finish(ctx); err != nil {
			l.logger.Error("finish at deadline failed", zap.Error(err))
		}
		return apperr.Timeout(op, "war %s ended at %s", l.war.ID, l.war.EndTime.Format(time.RFC3339))
	}
	isA, ok := l.war.side(d.GuildID)
	if !ok {
		return apperr.InvalidState(op, "guild %s is not fighting in war %s", d.GuildID, l.war.ID)
	}

	d.WarID = l.war.ID
	d.At = l.now()
	if err := l.store.ApplyContribution(ctx, d); err != nil {
		return err
	}
	if isA {
		l.war.ScoreA += d.Score
	} else {
		l.war.ScoreB += d.Score
	}
	return nil
}

func (l *warLoop) end(ctx context.Context) error {
	if l.war.Status == engine.WarFinished {
		if l.war.SettledAt.IsZero() {
			l.settle(ctx)
		}
		return nil
	}
	return l.finish(ctx)
}

// finish moves an active war to finished and settles it. The store's conditional
// transition decides which caller settles when several processes race.
func (l *warLoop) finish(ctx context.Context) error {
	next, err := engine.ApplyWar(l.war.Status, engine.CmdFinish)
	if err != nil {
		return err
	}

	at := l.now()
	winner := l.war.Winner()
	won, err := l.store.FinishWar(ctx, l.war.ID, winner, at)
	if err != nil {
		return err
	}
	if !won {
		// Finished elsewhere; adopt the recorded outcome.
		stored, err := l.store.GetWar(ctx, l.war.ID)
		if err != nil {
			return err
		}
		l.war = stored
		l.stopTimer()
		l.retire(l)
		return nil
	}

	l.war.Status = next
	l.war.WinnerGuildID = winner
	l.war.FinishedAt = at
	l.stopTimer()
	l.logger.Info("war finished",
		zap.String("winner", winner),
		zap.Int64("score_a", l.war.ScoreA),
		zap.Int64("score_b", l.war.ScoreB),
	)

	l.settle(ctx)
	return nil
}

// settle pays out a finished war and retires the actor. On failure the actor stays
// alive and tries again after settleRetryDelay or on the next EndWar.
func (l *warLoop) settle(ctx context.Context) {
	if err := l.trySettle(ctx); err != nil {
		l.logger.Error("settlement failed",
			zap.Error(err),
			zap.Duration("retry_in", settleRetryDelay),
		)
		l.resetTimer(settleRetryDelay)
		return
	}
	l.stopTimer()
	l.logger.Info("war settled", zap.Time("settled_at", l.war.SettledAt))
	l.retire(l)
}

func (l *warLoop) trySettle(ctx context.Context) error {
	if !l.paid {
		contributions, err := l.store.Contributions(ctx, l.war.ID)
		if err != nil {
			return err
		}
		if err := l.settler.Settle(ctx, l.war, contributions); err != nil {
			return err
		}
		l.paid = true
	}
	at := l.now()
	if err := l.store.MarkSettled(ctx, l.war.ID, at); err != nil {
		return err
	}
	l.war.SettledAt = at
	return nil
}

func (l *warLoop) onDeadline() {
	if l.war.Status == engine.WarFinished && l.war.SettledAt.IsZero() {
		ctx, cancel := context.WithTimeout(l.ctx, settleTimeout)
		defer cancel()
		l.settle(ctx)
		return
	}
	if l.war.Status != engine.WarActive {
		return
	}
	if wait := l.war.EndTime.Sub(l.now()); wait > 0 {
		l.resetTimer(wait)
		return
	}
	ctx, cancel := context.WithTimeout(l.ctx, settleTimeout)
	defer cancel()
	if err := l.finish(ctx); err != nil {
		l.logger.Error("automatic finish failed", zap.Error(err))
		l.resetTimer(time.Second)
	}
}

func (l *warLoop) armDeadline() {
	l.resetTimer(l.war.EndTime.Sub(l.now()))
}

func (l *warLoop) resetTimer(d time.Duration) {
	l.stopTimer()
	l.timer = time.AfterFunc(d, func() {
		select {
		case l.inbox <- deadlineMsg{}:
		case <-l.ctx.Done():
		}
	})
}

func (l *warLoop) stopTimer() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}
