package season

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/codefarm-realtime/internal/apperr"
)

// Rotator keeps boards fresh and freezes the final boards of a season once the
// next one begins.
type Rotator struct {
	svc      *Service
	interval time.Duration
	logger   *zap.Logger

	last Season
}

func NewRotator(svc *Service, interval time.Duration, logger *zap.Logger) *Rotator {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Rotator{svc: svc, interval: interval, logger: logger}
}

// Run ticks until ctx is cancelled.
func (r *Rotator) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.Tick(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("season rotation failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one rotation step.
func (r *Rotator) Tick(ctx context.Context) error {
	cur, err := r.svc.Current(ctx)
	if err != nil {
		return err
	}
	if r.last.ID != cur.ID {
		if err := r.closePrevious(ctx, cur); err != nil {
			return err
		}
		r.last = cur
	}
	_, err = r.svc.refreshAll(ctx, cur)
	return err
}

// closePrevious freezes the newest season before cur unless its final boards were
// already captured. It reads only the store, so it also closes a season whose
// successor was created before this rotator first ran.
func (r *Rotator) closePrevious(ctx context.Context, cur Season) error {
	prev, err := r.svc.store.SeasonBefore(ctx, cur.Number)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	frozen, err := r.frozen(ctx, prev)
	if err != nil || frozen {
		return err
	}
	if _, err := r.svc.snapshotSeason(ctx, prev); err != nil {
		return err
	}
	r.logger.Info("season rolled over", zap.String("from", prev.ID), zap.String("to", cur.ID))
	return nil
}

// frozen reports whether every category of s has a snapshot taken after s ended.
func (r *Rotator) frozen(ctx context.Context, s Season) (bool, error) {
	for _, c := range Categories {
		snap, err := r.svc.store.LatestSnapshot(ctx, s.ID, c)
		if errors.Is(err, apperr.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if snap.CapturedAt.Before(s.EndsAt) {
			return false, nil
		}
	}
	return true, nil
}
