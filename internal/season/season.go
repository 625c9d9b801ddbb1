// Package season keeps exactly one active season and ranks players within it.
package season

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/DoyleJ11/codefarm-realtime/internal/apperr"
	"github.com/DoyleJ11/codefarm-realtime/internal/rating"
	"github.com/DoyleJ11/codefarm-realtime/internal/war"
)

type Category string

const (
	CategoryRating   Category = "rating"
	CategoryWins     Category = "wins"
	CategoryWarScore Category = "war_score"
)

var Categories = []Category{CategoryRating, CategoryWins, CategoryWarScore}

func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", apperr.Protocol("season.ParseCategory", "unknown leaderboard category %q", s)
}

type Season struct {
	ID       string    `json:"id"`
	Number   int       `json:"number"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
	Active   bool      `json:"active"`
}

type Entry struct {
	Rank      int       `json:"rank"`
	PlayerID  string    `json:"player_id"`
	Value     int64     `json:"value"`
	ReachedAt time.Time `json:"reached_at"`
}

type Board struct {
	SeasonID  string    `json:"season_id"`
	Category  Category  `json:"category"`
	Entries   []Entry   `json:"entries"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot is a frozen board. Stores hand out copies so it never changes after capture.
type Snapshot struct {
	ID         string    `json:"id"`
	SeasonID   string    `json:"season_id"`
	Category   Category  `json:"category"`
	Entries    []Entry   `json:"entries"`
	CapturedAt time.Time `json:"captured_at"`
}

// Store persists seasons and snapshots. CreateSeason is compare-and-create on the id:
// when the season exists it is returned unchanged; otherwise it is inserted as the
// only active season.
type Store interface {
	CreateSeason(ctx context.Context, s Season) (Season, error)
	ActiveSeason(ctx context.Context) (Season, error)
	// SeasonBefore returns the highest-numbered season below number.
	SeasonBefore(ctx context.Context, number int) (Season, error)
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	LatestSnapshot(ctx context.Context, seasonID string, category Category) (Snapshot, error)
	Snapshots(ctx context.Context, seasonID string, category Category) ([]Snapshot, error)
}

type RatingSource interface {
	List(ctx context.Context, seasonID string) ([]rating.Record, error)
}

type WarSource interface {
	PlayerTotals(ctx context.Context, from, to time.Time) ([]war.PlayerTotal, error)
}

// Publisher mirrors boards to an external read model.
type Publisher interface {
	Publish(ctx context.Context, b Board) error
}

type Config struct {
	Epoch  time.Time
	Length time.Duration
}

func DefaultConfig() Config {
	return Config{
		Epoch:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Length: 28 * 24 * time.Hour,
	}
}

type boardKey struct {
	season   string
	category Category
}

type Service struct {
	store     Store
	ratings   RatingSource
	wars      WarSource
	publisher Publisher
	logger    *zap.Logger
	cfg       Config
	now       func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	current Season
	boards  map[boardKey]Board
}

// NewService builds the season service. publisher may be nil.
func NewService(store Store, ratings RatingSource, wars WarSource, publisher Publisher, logger *zap.Logger, cfg Config) *Service {
	if cfg.Length <= 0 {
		cfg.Length = DefaultConfig().Length
	}
	if cfg.Epoch.IsZero() {
		cfg.Epoch = DefaultConfig().Epoch
	}
	return &Service{
		store:     store,
		ratings:   ratings,
		wars:      wars,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
		boards:    make(map[boardKey]Board),
	}
}

// window returns the season covering t. Season 1 starts at the epoch.
func (s *Service) window(t time.Time) Season {
	n := 1
	if t.After(s.cfg.Epoch) {
		n = int(t.Sub(s.cfg.Epoch)/s.cfg.Length) + 1
	}
	start := s.cfg.Epoch.Add(time.Duration(n-1) * s.cfg.Length)
	return Season{
		ID:       fmt.Sprintf("season-%d", n),
		Number:   n,
		StartsAt: start,
		EndsAt:   start.Add(s.cfg.Length),
		Active:   true,
	}
}

// Current returns the active season, creating it when the clock crossed a boundary.
// Concurrent callers at a boundary all receive the same season.
func (s *Service) Current(ctx context.Context) (Season, error) {
	want := s.window(s.now())

	s.mu.RLock()
	cur := s.current
	s.mu.RUnlock()
	if cur.ID == want.ID {
		return cur, nil
	}

	v, err, _ := s.group.Do(want.ID, func() (any, error) {
		created, err := s.store.CreateSeason(ctx, want)
		if err != nil {
			return Season{}, err
		}
		s.mu.Lock()
		if s.current.Number <= created.Number {
			s.current = created
		}
		s.mu.Unlock()
		s.logger.Info("season active", zap.String("season_id", created.ID), zap.Time("ends_at", created.EndsAt))
		return created, nil
	})
	if err != nil {
		return Season{}, fmt.Errorf("season: ensure %s: %w", want.ID, err)
	}
	return v.(Season), nil
}

func (s *Service) CurrentSeasonID(ctx context.Context) (string, error) {
	cur, err := s.Current(ctx)
	if err != nil {
		return "", err
	}
	return cur.ID, nil
}

// UpdateLeaderboard recomputes one category for the current season.
func (s *Service) UpdateLeaderboard(ctx context.Context, category Category) (Board, error) {
	cur, err := s.Current(ctx)
	if err != nil {
		return Board{}, err
	}
	return s.refresh(ctx, cur, category)
}

// UpdateAll recomputes every category in parallel.
func (s *Service) UpdateAll(ctx context.Context) ([]Board, error) {
	cur, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	return s.refreshAll(ctx, cur)
}

func (s *Service) refreshAll(ctx context.Context, season Season) ([]Board, error) {
	boards := make([]Board, len(Categories))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range Categories {
		g.Go(func() error {
			b, err := s.refresh(gctx, season, c)
			if err != nil {
				return err
			}
			boards[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return boards, nil
}

func (s *Service) refresh(ctx context.Context, season Season, category Category) (Board, error) {
	entries, err := s.collect(ctx, season, category)
	if err != nil {
		return Board{}, fmt.Errorf("season: %s board for %s: %w", category, season.ID, err)
	}
	Rank(entries)

	b := Board{SeasonID: season.ID, Category: category, Entries: entries, UpdatedAt: s.now()}
	s.mu.Lock()
	s.boards[boardKey{season.ID, category}] = b
	s.mu.Unlock()

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, b); err != nil {
			s.logger.Warn("leaderboard publish failed",
				zap.String("season_id", season.ID),
				zap.String("category", string(category)),
				zap.Error(err),
			)
		}
	}
	return b, nil
}

func (s *Service) collect(ctx context.Context, season Season, category Category) ([]Entry, error) {
	switch category {
	case CategoryRating, CategoryWins:
		records, err := s.ratings.List(ctx, season.ID)
		if err != nil {
			return nil, err
		}
		out := make([]Entry, 0, len(records))
		for _, r := range records {
			if category == CategoryRating {
				out = append(out, Entry{PlayerID: r.PlayerID, Value: int64(r.Rating), ReachedAt: r.RatingReachedAt})
			} else {
				out = append(out, Entry{PlayerID: r.PlayerID, Value: int64(r.Wins), ReachedAt: r.WinsReachedAt})
			}
		}
		return out, nil

	case CategoryWarScore:
		totals, err := s.wars.PlayerTotals(ctx, season.StartsAt, season.EndsAt)
		if err != nil {
			return nil, err
		}
		out := make([]Entry, 0, len(totals))
		for _, t := range totals {
			out = append(out, Entry{PlayerID: t.PlayerID, Value: t.Score, ReachedAt: t.ReachedAt})
		}
		return out, nil
	}
	return nil, apperr.Protocol("season.collect", "unknown leaderboard category %q", category)
}

// Rank orders entries by value descending, then by who reached it first, then by
// player id, and numbers them from 1.
func Rank(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Value != b.Value {
			return a.Value > b.Value
		}
		if !a.ReachedAt.Equal(b.ReachedAt) {
			return a.ReachedAt.Before(b.ReachedAt)
		}
		return a.PlayerID < b.PlayerID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
}

// Board returns the cached board for the current season, computing it on first use.
func (s *Service) Board(ctx context.Context, category Category) (Board, error) {
	cur, err := s.Current(ctx)
	if err != nil {
		return Board{}, err
	}
	s.mu.RLock()
	b, ok := s.boards[boardKey{cur.ID, category}]
	s.mu.RUnlock()
	if ok {
		return copyBoard(b), nil
	}
	b, err = s.refresh(ctx, cur, category)
	if err != nil {
		return Board{}, err
	}
	return copyBoard(b), nil
}

// Snapshot freezes fresh boards of every category for the current season.
func (s *Service) Snapshot(ctx context.Context) ([]Snapshot, error) {
	cur, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	return s.snapshotSeason(ctx, cur)
}

func (s *Service) snapshotSeason(ctx context.Context, season Season) ([]Snapshot, error) {
	boards, err := s.refreshAll(ctx, season)
	if err != nil {
		return nil, err
	}
	at := s.now()
	out := make([]Snapshot, 0, len(boards))
	for _, b := range boards {
		snap := Snapshot{
			ID:         uuid.NewString(),
			SeasonID:   b.SeasonID,
			Category:   b.Category,
			Entries:    append([]Entry(nil), b.Entries...),
			CapturedAt: at,
		}
		if err := s.store.SaveSnapshot(ctx, snap); err != nil {
			return nil, fmt.Errorf("season: save %s snapshot: %w", b.Category, err)
		}
		out = append(out, snap)
	}
	s.logger.Info("leaderboard snapshot taken", zap.String("season_id", season.ID), zap.Int("boards", len(out)))
	return out, nil
}

func (s *Service) LatestSnapshot(ctx context.Context, seasonID string, category Category) (Snapshot, error) {
	return s.store.LatestSnapshot(ctx, seasonID, category)
}

func (s *Service) Snapshots(ctx context.Context, seasonID string, category Category) ([]Snapshot, error) {
	return s.store.Snapshots(ctx, seasonID, category)
}

func copyBoard(b Board) Board {
	b.Entries = append([]Entry(nil), b.Entries...)
	return b
}
