package matchmaking

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/codefarm-realtime/internal/engine"
)

type SweepReport struct {
	Paired    int
	Cancelled int
	Abandoned int
}

// Sweep runs the periodic housekeeping: re-pairs queued tickets whose tolerance has
// widened with wait time, cancels waiting matches nobody started, and settles active
// matches whose result never arrived as draws.
func (e *Engine) Sweep(ctx context.Context) SweepReport {
	var report SweepReport
	now := e.now()

	if e.cfg.ToleranceGrowth > 0 {
		report.Paired = e.widenAndPair(now)
	}

	e.mmu.RLock()
	entries := make([]*matchEntry, 0, len(e.matches))
	for _, me := range e.matches {
		entries = append(entries, me)
	}
	e.mmu.RUnlock()

	for _, me := range entries {
		me.mu.Lock()
		m := me.match
		switch {
		case m.Status == engine.MatchWaiting && e.cfg.StartTimeout > 0 && now.Sub(m.CreatedAt) >= e.cfg.StartTimeout:
			next, err := engine.ApplyMatch(m.Status, engine.CmdCancel)
			if err == nil {
				me.match.Status = next
				me.match.FinishedAt = now
				e.releasePlayers(me.match)
				report.Cancelled++
				e.logger.Info("waiting match cancelled", zap.String("match_id", m.ID))
			}
		case m.Status == engine.MatchActive && e.cfg.ResultTimeout > 0 && now.Sub(m.StartedAt) >= e.cfg.ResultTimeout:
			if _, err := e.finishLocked(ctx, me, "", 0, 0); err != nil {
				e.logger.Warn("abandoned match not settled", zap.String("match_id", m.ID), zap.Error(err))
			} else {
				report.Abandoned++
			}
		}
		me.mu.Unlock()
	}

	e.pruneTerminal(now)
	return report
}

func (e *Engine) widenAndPair(now time.Time) int {
	e.qmu.Lock()
	defer e.qmu.Unlock()

	paired := 0
	for i := 0; i < len(e.queue); i++ {
		t := e.queue[i]
		steps := int(now.Sub(t.EnqueuedAt) / e.cfg.ToleranceStep)
		widened := t.Tolerance + steps*e.cfg.ToleranceGrowth
		if opp := e.closestLocked(t, widened); opp != nil {
			m := e.pairLocked(t, opp)
			paired++
			e.logger.Info("match created on sweep",
				zap.String("match_id", m.ID),
				zap.Int("widened_tolerance", widened),
			)
			// Both tickets left the queue; restart from the front.
			i = -1
		}
	}
	return paired
}

// pruneTerminal forgets terminal matches once they are older than the longest timeout,
// keeping recent results readable.
func (e *Engine) pruneTerminal(now time.Time) {
	retain := e.cfg.ResultTimeout
	if e.cfg.StartTimeout > retain {
		retain = e.cfg.StartTimeout
	}
	if retain <= 0 {
		return
	}

	// Entry locks are never taken under mmu; pairing takes mmu while holding qmu.
	e.mmu.RLock()
	entries := make(map[string]*matchEntry, len(e.matches))
	for id, me := range e.matches {
		entries[id] = me
	}
	e.mmu.RUnlock()

	var stale []string
	for id, me := range entries {
		me.mu.Lock()
		if me.match.Status.Terminal() && now.Sub(me.match.FinishedAt) >= retain {
			stale = append(stale, id)
		}
		me.mu.Unlock()
	}
	if len(stale) == 0 {
		return
	}

	e.mmu.Lock()
	for _, id := range stale {
		delete(e.matches, id)
	}
	e.mmu.Unlock()
}
