package season

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/codefarm-realtime/internal/apperr"
	"github.com/DoyleJ11/codefarm-realtime/internal/rating"
	"github.com/DoyleJ11/codefarm-realtime/internal/war"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type staticWars []war.PlayerTotal

func (w staticWars) PlayerTotals(_ context.Context, from, to time.Time) ([]war.PlayerTotal, error) {
	return w, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	boards []Board
}

func (p *recordingPublisher) Publish(_ context.Context, b Board) error {
	p.mu.Lock()
	p.boards = append(p.boards, b)
	p.mu.Unlock()
	return nil
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, wars WarSource) (*Service, *MemoryStore, *rating.MemoryStore, *fakeClock) {
	t.Helper()
	store := NewMemoryStore()
	ratings := rating.NewMemoryStore()
	if wars == nil {
		wars = staticWars(nil)
	}
	svc := NewService(store, ratings, wars, nil, zaptest.NewLogger(t), Config{Epoch: epoch, Length: 28 * 24 * time.Hour})
	clock := &fakeClock{t: epoch.Add(time.Hour)}
	svc.now = clock.Now
	return svc, store, ratings, clock
}

func TestSeasonWindow(t *testing.T) {
	svc, _, _, _ := newTestService(t, nil)

	cases := []struct {
		at   time.Time
		want string
	}{
		{epoch, "season-1"},
		{epoch.Add(27 * 24 * time.Hour), "season-1"},
		{epoch.Add(28 * 24 * time.Hour), "season-2"},
		{epoch.Add(-time.Hour), "season-1"},
		{epoch.Add(100 * 24 * time.Hour), "season-4"},
	}
	for _, tc := range cases {
		if got := svc.window(tc.at).ID; got != tc.want {
			t.Fatalf("window(%s): want %s, got %s", tc.at, tc.want, got)
		}
	}
}

func TestCurrentIsSingleUnderConcurrency(t *testing.T) {
	svc, store, _, clock := newTestService(t, nil)
	ctx := context.Background()
	clock.Set(epoch.Add(28*24*time.Hour + time.Minute))

	const callers = 64
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := svc.Current(ctx)
			if err != nil {
				t.Errorf("current: %v", err)
				return
			}
			ids[i] = s.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, "season-2", id)
	}
	active, err := store.ActiveSeason(ctx)
	require.NoError(t, err)
	assert.Equal(t, "season-2", active.ID)
	assert.Len(t, store.seasons, 1)
}

func TestRolloverDeactivatesPreviousSeason(t *testing.T) {
	svc, store, _, clock := newTestService(t, nil)
	ctx := context.Background()

	first, err := svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "season-1", first.ID)

	clock.Set(first.EndsAt)
	second, err := svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "season-2", second.ID)
	assert.Equal(t, first.EndsAt, second.StartsAt)

	assert.False(t, store.seasons["season-1"].Active)
	assert.True(t, store.seasons["season-2"].Active)
}

func TestRankTieBreaks(t *testing.T) {
	t0 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	entries := []Entry{
		{PlayerID: "zed", Value: 1200, ReachedAt: t0},
		{PlayerID: "amy", Value: 1200, ReachedAt: t0.Add(time.Minute)},
		{PlayerID: "bob", Value: 1300, ReachedAt: t0.Add(time.Hour)},
		{PlayerID: "abe", Value: 1200, ReachedAt: t0},
	}
	Rank(entries)

	want := []string{"bob", "abe", "zed", "amy"}
	for i, e := range entries {
		if e.PlayerID != want[i] || e.Rank != i+1 {
			t.Fatalf("position %d: want %s rank %d, got %s rank %d", i, want[i], i+1, e.PlayerID, e.Rank)
		}
	}
}

func TestUpdateLeaderboardFromRatings(t *testing.T) {
	svc, _, ratings, _ := newTestService(t, nil)
	ctx := context.Background()
	t0 := epoch.Add(time.Hour)

	ratings.Put(rating.Record{SeasonID: "season-1", PlayerID: "a", Rating: 1100, Wins: 2, RatingReachedAt: t0, WinsReachedAt: t0})
	ratings.Put(rating.Record{SeasonID: "season-1", PlayerID: "b", Rating: 1050, Wins: 5, RatingReachedAt: t0, WinsReachedAt: t0})
	ratings.Put(rating.Record{SeasonID: "season-0", PlayerID: "old", Rating: 3000})

	b, err := svc.UpdateLeaderboard(ctx, CategoryRating)
	require.NoError(t, err)
	require.Len(t, b.Entries, 2)
	assert.Equal(t, "a", b.Entries[0].PlayerID)
	assert.Equal(t, int64(1100), b.Entries[0].Value)

	b, err = svc.UpdateLeaderboard(ctx, CategoryWins)
	require.NoError(t, err)
	assert.Equal(t, "b", b.Entries[0].PlayerID)
}

func TestWarScoreBoard(t *testing.T) {
	t0 := epoch.Add(time.Hour)
	svc, _, _, _ := newTestService(t, staticWars{
		{PlayerID: "x", Score: 40, ReachedAt: t0.Add(time.Minute)},
		{PlayerID: "y", Score: 40, ReachedAt: t0},
		{PlayerID: "z", Score: 90, ReachedAt: t0},
	})

	b, err := svc.UpdateLeaderboard(context.Background(), CategoryWarScore)
	require.NoError(t, err)
	require.Len(t, b.Entries, 3)
	assert.Equal(t, []string{"z", "y", "x"}, []string{b.Entries[0].PlayerID, b.Entries[1].PlayerID, b.Entries[2].PlayerID})
}

func TestUnknownCategory(t *testing.T) {
	_, err := ParseCategory("karma")
	assert.True(t, errors.Is(err, apperr.ErrProtocol))

	c, err := ParseCategory("wins")
	require.NoError(t, err)
	assert.Equal(t, CategoryWins, c)
}

func TestSnapshotsAreImmutable(t *testing.T) {
	svc, _, ratings, _ := newTestService(t, nil)
	ctx := context.Background()
	ratings.Put(rating.Record{SeasonID: "season-1", PlayerID: "a", Rating: 1100})

	snaps, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, len(Categories))

	// Mutating the caller's copy and later ratings must not leak into the stored snapshot.
	snaps[0].Entries[0].Value = 1
	ratings.Put(rating.Record{SeasonID: "season-1", PlayerID: "a", Rating: 1500})
	_, err = svc.UpdateLeaderboard(ctx, CategoryRating)
	require.NoError(t, err)

	latest, err := svc.LatestSnapshot(ctx, "season-1", CategoryRating)
	require.NoError(t, err)
	assert.Equal(t, int64(1100), latest.Entries[0].Value)

	_, err = svc.LatestSnapshot(ctx, "season-9", CategoryRating)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestBoardIsCached(t *testing.T) {
	svc, _, ratings, _ := newTestService(t, nil)
	ctx := context.Background()
	ratings.Put(rating.Record{SeasonID: "season-1", PlayerID: "a", Rating: 1100})

	b, err := svc.Board(ctx, CategoryRating)
	require.NoError(t, err)
	require.Len(t, b.Entries, 1)

	ratings.Put(rating.Record{SeasonID: "season-1", PlayerID: "b", Rating: 900})
	b, err = svc.Board(ctx, CategoryRating)
	require.NoError(t, err)
	assert.Len(t, b.Entries, 1, "served from cache until refreshed")
}

func TestRotatorFreezesClosingSeason(t *testing.T) {
	svc, store, ratings, clock := newTestService(t, nil)
	pub := &recordingPublisher{}
	svc.publisher = pub
	ctx := context.Background()
	r := NewRotator(svc, time.Minute, zaptest.NewLogger(t))

	require.NoError(t, r.Tick(ctx))
	ratings.Put(rating.Record{SeasonID: "season-1", PlayerID: "a", Rating: 1234})

	clock.Set(epoch.Add(28*24*time.Hour + time.Second))
	require.NoError(t, r.Tick(ctx))

	final, err := store.LatestSnapshot(ctx, "season-1", CategoryRating)
	require.NoError(t, err)
	require.Len(t, final.Entries, 1)
	assert.Equal(t, int64(1234), final.Entries[0].Value)

	active, err := store.ActiveSeason(ctx)
	require.NoError(t, err)
	assert.Equal(t, "season-2", active.ID)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.NotEmpty(t, pub.boards)
}

func TestRotatorRecoversClosingSeasonAfterRestart(t *testing.T) {
	svc, store, _, clock := newTestService(t, nil)
	ctx := context.Background()
	_, err := svc.Current(ctx)
	require.NoError(t, err)

	// A fresh rotator with no memory of the previous tick.
	clock.Set(epoch.Add(29 * 24 * time.Hour))
	fresh := NewService(store, rating.NewMemoryStore(), staticWars(nil), nil, zaptest.NewLogger(t), svc.cfg)
	fresh.now = clock.Now
	require.NoError(t, NewRotator(fresh, time.Minute, zaptest.NewLogger(t)).Tick(ctx))

	snaps, err := store.Snapshots(ctx, "season-1", CategoryWins)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestRotatorClosesSeasonCreatedBeforeFirstTick(t *testing.T) {
	svc, store, ratings, clock := newTestService(t, nil)
	ctx := context.Background()
	_, err := svc.Current(ctx)
	require.NoError(t, err)
	ratings.Put(rating.Record{SeasonID: "season-1", PlayerID: "a", Rating: 1180})

	// Restart after the boundary: something asks for the current season before
	// the rotator's first tick.
	clock.Set(epoch.Add(28*24*time.Hour + time.Hour))
	fresh := NewService(store, ratings, staticWars(nil), nil, zaptest.NewLogger(t), svc.cfg)
	fresh.now = clock.Now
	cur, err := fresh.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, "season-2", cur.ID)

	require.NoError(t, NewRotator(fresh, time.Minute, zaptest.NewLogger(t)).Tick(ctx))

	final, err := store.LatestSnapshot(ctx, "season-1", CategoryRating)
	require.NoError(t, err)
	require.Len(t, final.Entries, 1)
	assert.Equal(t, int64(1180), final.Entries[0].Value)

	// Another restart does not freeze the same season twice.
	require.NoError(t, NewRotator(fresh, time.Minute, zaptest.NewLogger(t)).Tick(ctx))
	snaps, err := store.Snapshots(ctx, "season-1", CategoryRating)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestRotatorClosesLastKnownSeasonAfterLongOutage(t *testing.T) {
	svc, store, _, clock := newTestService(t, nil)
	ctx := context.Background()
	_, err := svc.Current(ctx)
	require.NoError(t, err)

	clock.Set(epoch.Add(3 * 28 * 24 * time.Hour))
	r := NewRotator(svc, time.Minute, zaptest.NewLogger(t))
	require.NoError(t, r.Tick(ctx))

	snaps, err := store.Snapshots(ctx, "season-1", CategoryWins)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
	active, err := store.ActiveSeason(ctx)
	require.NoError(t, err)
	assert.Equal(t, "season-4", active.ID)
}

func TestMidSeasonSnapshotIsNotFinal(t *testing.T) {
	svc, store, _, clock := newTestService(t, nil)
	ctx := context.Background()
	_, err := svc.Snapshot(ctx)
	require.NoError(t, err)

	clock.Set(epoch.Add(28 * 24 * time.Hour))
	require.NoError(t, NewRotator(svc, time.Minute, zaptest.NewLogger(t)).Tick(ctx))

	snaps, err := store.Snapshots(ctx, "season-1", CategoryWins)
	require.NoError(t, err)
	assert.Len(t, snaps, 2)
}
