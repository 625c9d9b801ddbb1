package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/DoyleJ11/codefarm-realtime/internal/apperr"
	"github.com/DoyleJ11/codefarm-realtime/internal/engine"
	"github.com/DoyleJ11/codefarm-realtime/internal/rating"
	"github.com/DoyleJ11/codefarm-realtime/internal/season"
	"github.com/DoyleJ11/codefarm-realtime/internal/war"
)

func TestTranslate(t *testing.T) {
	assert.NoError(t, translate("op", nil))

	err := translate("op", gorm.ErrRecordNotFound)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	err = translate("op", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}))
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	err = translate("op", &pgconn.PgError{Code: "40001"})
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

	conflict := apperr.Conflict("inner", "stale")
	assert.Same(t, conflict, translate("op", conflict))
}

// openTestDB connects to TEST_DATABASE_URL, skipping when it is not set.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := Open(context.Background(), dsn, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })
	return db
}

func TestRatingStoreOptimisticWrites(t *testing.T) {
	db := openTestDB(t)
	s := NewRatingStore(db)
	ctx := context.Background()
	seasonID := "test-" + uuid.NewString()

	a, err := s.GetOrCreate(ctx, seasonID, "alice", 1000)
	require.NoError(t, err)
	b, err := s.GetOrCreate(ctx, seasonID, "bob", 1000)
	require.NoError(t, err)

	again, err := s.GetOrCreate(ctx, seasonID, "alice", 1500)
	require.NoError(t, err)
	assert.Equal(t, 1000, again.Rating, "existing record is not replaced")

	na, nb := rating.Settle(a, b, engine.Win, 32, time.Now().UTC())
	require.NoError(t, s.ApplyResult(ctx, na, nb))

	// Same versions again: the first update no longer matches.
	err = s.ApplyResult(ctx, na, nb)
	assert.True(t, errors.Is(err, apperr.ErrConflict), "got %v", err)

	got, err := s.Get(ctx, seasonID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1016, got.Rating)
	assert.Equal(t, a.Version+1, got.Version)

	list, err := s.List(ctx, seasonID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestWarStoreLifecycle(t *testing.T) {
	db := openTestDB(t)
	s := NewWarStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	red, blue := "red-"+uuid.NewString(), "blue-"+uuid.NewString()

	require.NoError(t, s.SetMember(ctx, "p-"+red, red))
	guild, err := s.GuildOf(ctx, "p-"+red)
	require.NoError(t, err)
	assert.Equal(t, red, guild)

	w := war.War{ID: uuid.NewString(), GuildA: red, GuildB: blue, Status: engine.WarPreparing, StartTime: now, EndTime: now.Add(time.Hour)}
	require.NoError(t, s.CreateWar(ctx, w))

	err = s.ApplyContribution(ctx, war.Delta{WarID: w.ID, PlayerID: "p1", GuildID: red, Score: 5, At: now})
	assert.True(t, errors.Is(err, apperr.ErrInvalidState), "got %v", err)

	require.NoError(t, s.StartWar(ctx, w.ID))
	assert.True(t, errors.Is(s.StartWar(ctx, w.ID), apperr.ErrInvalidState))

	for i := 0; i < 3; i++ {
		require.NoError(t, s.ApplyContribution(ctx, war.Delta{WarID: w.ID, PlayerID: "p1", GuildID: red, Score: 5, BattleWon: i == 0, At: now}))
	}
	contribs, err := s.Contributions(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, contribs, 1)
	assert.Equal(t, int64(15), contribs[0].Score)
	assert.Equal(t, 1, contribs[0].BattlesWon)

	require.NoError(t, s.ApplyContribution(ctx, war.Delta{WarID: w.ID, PlayerID: "p1", GuildID: red, Score: 0, At: now.Add(time.Minute)}))
	contribs, err = s.Contributions(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, contribs[0].UpdatedAt.Equal(now), "zero score keeps updated_at")

	won, err := s.FinishWar(ctx, w.ID, red, now)
	require.NoError(t, err)
	assert.True(t, won)
	won, err = s.FinishWar(ctx, w.ID, blue, now)
	require.NoError(t, err)
	assert.False(t, won)

	got, err := s.GetWar(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.WarFinished, got.Status)
	assert.Equal(t, red, got.WinnerGuildID)
	assert.Equal(t, int64(15), got.ScoreA)
	assert.True(t, got.SettledAt.IsZero())

	unsettled, err := s.UnsettledWars(ctx)
	require.NoError(t, err)
	assert.Contains(t, warIDs(unsettled), w.ID)

	require.NoError(t, s.MarkSettled(ctx, w.ID, now))
	require.NoError(t, s.MarkSettled(ctx, w.ID, now.Add(time.Hour)))
	got, err = s.GetWar(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, got.SettledAt.Equal(now), "first settlement time wins")
	unsettled, err = s.UnsettledWars(ctx)
	require.NoError(t, err)
	assert.NotContains(t, warIDs(unsettled), w.ID)

	_, err = s.GetWar(ctx, "missing-"+uuid.NewString())
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func warIDs(ws []war.War) []string {
	ids := make([]string, len(ws))
	for i, w := range ws {
		ids[i] = w.ID
	}
	return ids
}

func TestSeasonStoreCompareAndCreate(t *testing.T) {
	db := openTestDB(t)
	s := NewSeasonStore(db)
	ctx := context.Background()
	base := 100000 + int(time.Now().UnixNano()%100000)

	mk := func(n int) season.Season {
		start := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(n) * time.Hour)
		return season.Season{ID: fmt.Sprintf("season-%d", n), Number: n, StartsAt: start, EndsAt: start.Add(time.Hour)}
	}

	first, err := s.CreateSeason(ctx, mk(base))
	require.NoError(t, err)
	assert.True(t, first.Active)

	again, err := s.CreateSeason(ctx, mk(base))
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	_, err = s.CreateSeason(ctx, mk(base+1))
	require.NoError(t, err)
	active, err := s.ActiveSeason(ctx)
	require.NoError(t, err)
	assert.Equal(t, mk(base+1).ID, active.ID)

	prev, err := s.SeasonBefore(ctx, base+1)
	require.NoError(t, err)
	assert.Equal(t, mk(base).ID, prev.ID)
	assert.False(t, prev.Active)

	snap := season.Snapshot{
		ID:         uuid.NewString(),
		SeasonID:   active.ID,
		Category:   season.CategoryWins,
		Entries:    []season.Entry{{Rank: 1, PlayerID: "a", Value: 3}},
		CapturedAt: time.Now().UTC(),
	}
	require.NoError(t, s.SaveSnapshot(ctx, snap))
	latest, err := s.LatestSnapshot(ctx, active.ID, season.CategoryWins)
	require.NoError(t, err)
	assert.Equal(t, snap.Entries, latest.Entries)
}

func TestLeaderboardMirror(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	m, err := NewLeaderboardMirror(ctx, addr, "", 0, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer m.Close()

	seasonID := "test-" + uuid.NewString()
	require.NoError(t, m.Publish(ctx, season.Board{
		SeasonID: seasonID,
		Category: season.CategoryRating,
		Entries:  []season.Entry{{PlayerID: "a", Value: 1100}, {PlayerID: "b", Value: 1200}},
	}))

	top, err := m.Top(ctx, seasonID, season.CategoryRating, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "b", top[0].Member)
}
