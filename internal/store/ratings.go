package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/DoyleJ11/codefarm-realtime/internal/apperr"
	"github.com/DoyleJ11/codefarm-realtime/internal/rating"
)

// RatingStore implements rating.Store with optimistic version checks.
type RatingStore struct {
	db *gorm.DB
}

func NewRatingStore(db *gorm.DB) *RatingStore {
	return &RatingStore{db: db}
}

var _ rating.Store = (*RatingStore)(nil)

func (s *RatingStore) GetOrCreate(ctx context.Context, seasonID, playerID string, initial int) (rating.Record, error) {
	const op = "store.RatingStore.GetOrCreate"

	fresh := ratingFromDomain(rating.NewRecord(seasonID, playerID, initial, time.Now().UTC()))
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&fresh).Error
	if err != nil {
		return rating.Record{}, translate(op, err)
	}
	return s.Get(ctx, seasonID, playerID)
}

func (s *RatingStore) Get(ctx context.Context, seasonID, playerID string) (rating.Record, error) {
	var m ratingRecord
	err := s.db.WithContext(ctx).
		Where("season_id = ? AND player_id = ?", seasonID, playerID).
		First(&m).Error
	if err != nil {
		return rating.Record{}, translate("store.RatingStore.Get", err)
	}
	return m.toDomain(), nil
}

// ApplyResult writes both records in one transaction. Each update only matches the
// row at the version the caller read.
func (s *RatingStore) ApplyResult(ctx context.Context, a, b rating.Record) error {
	const op = "store.RatingStore.ApplyResult"

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, r := range []rating.Record{a, b} {
			res := tx.Model(&ratingRecord{}).
				Where("season_id = ? AND player_id = ? AND version = ?", r.SeasonID, r.PlayerID, r.Version).
				Updates(map[string]any{
					"rating":            r.Rating,
					"max_rating":        r.MaxRating,
					"wins":              r.Wins,
					"losses":            r.Losses,
					"draws":             r.Draws,
					"streak":            r.Streak,
					"max_streak":        r.MaxStreak,
					"rating_reached_at": r.RatingReachedAt,
					"wins_reached_at":   r.WinsReachedAt,
					"updated_at":        r.UpdatedAt,
					"version":           r.Version + 1,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return apperr.Conflict(op, "rating for %s changed concurrently", r.PlayerID)
			}
		}
		return nil
	})
	return translate(op, err)
}

func (s *RatingStore) List(ctx context.Context, seasonID string) ([]rating.Record, error) {
	var rows []ratingRecord
	err := s.db.WithContext(ctx).
		Where("season_id = ?", seasonID).
		Order("player_id").
		Find(&rows).Error
	if err != nil {
		return nil, translate("store.RatingStore.List", err)
	}
	out := make([]rating.Record, len(rows))
	for i, m := range rows {
		out[i] = m.toDomain()
	}
	return out, nil
}
