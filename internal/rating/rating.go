// Package rating owns per-season player rating records and the Elo update applied
// when a match finishes.
package rating

import (
	"context"
	"time"

	"github.com/DoyleJ11/codefarm-realtime/internal/engine"
)

type Record struct {
	SeasonID        string    `json:"season_id"`
	PlayerID        string    `json:"player_id"`
	Rating          int       `json:"rating"`
	MaxRating       int       `json:"max_rating"`
	Wins            int       `json:"wins"`
	Losses          int       `json:"losses"`
	Draws           int       `json:"draws"`
	Streak          int       `json:"streak"`
	MaxStreak       int       `json:"max_streak"`
	RatingReachedAt time.Time `json:"rating_reached_at"`
	WinsReachedAt   time.Time `json:"wins_reached_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	// Version is bumped on every write; stores reject writes carrying a stale value.
	Version int64 `json:"-"`
}

func NewRecord(seasonID, playerID string, initial int, now time.Time) Record {
	return Record{
		SeasonID:        seasonID,
		PlayerID:        playerID,
		Rating:          initial,
		MaxRating:       initial,
		RatingReachedAt: now,
		WinsReachedAt:   now,
		UpdatedAt:       now,
	}
}

// Store persists records. ApplyResult must write both records or neither, and must
// fail with an apperr Conflict when either record's Version no longer matches.
type Store interface {
	GetOrCreate(ctx context.Context, seasonID, playerID string, initial int) (Record, error)
	Get(ctx context.Context, seasonID, playerID string) (Record, error)
	ApplyResult(ctx context.Context, a, b Record) error
	List(ctx context.Context, seasonID string) ([]Record, error)
}

// Settle returns both records after one match. outcomeA is A's result.
// The returned records carry the same Version as the inputs; stores bump it.
func Settle(a, b Record, outcomeA engine.Outcome, k int, now time.Time) (Record, Record) {
	ra, rb := engine.Elo(a.Rating, b.Rating, outcomeA, k)
	return settleOne(a, ra, outcomeA, now), settleOne(b, rb, outcomeA.Opposite(), now)
}

func settleOne(r Record, newRating int, o engine.Outcome, now time.Time) Record {
	if newRating != r.Rating {
		r.RatingReachedAt = now
	}
	r.Rating = newRating
	if r.Rating > r.MaxRating {
		r.MaxRating = r.Rating
	}

	switch o {
	case engine.Win:
		r.Wins++
		r.WinsReachedAt = now
	case engine.Loss:
		r.Losses++
	default:
		r.Draws++
	}

	r.Streak = engine.NextStreak(r.Streak, o)
	if r.Streak > r.MaxStreak {
		r.MaxStreak = r.Streak
	}
	r.UpdatedAt = now
	return r
}
