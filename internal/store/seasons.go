package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/DoyleJ11/codefarm-realtime/internal/apperr"
	"github.com/DoyleJ11/codefarm-realtime/internal/season"
)

// SeasonStore implements season.Store.
type SeasonStore struct {
	db *gorm.DB
}

func NewSeasonStore(db *gorm.DB) *SeasonStore {
	return &SeasonStore{db: db}
}

var _ season.Store = (*SeasonStore)(nil)

// CreateSeason inserts s as the only active season unless a row with its id exists.
// A concurrent insert from another process surfaces as a unique violation, after
// which the winner's row is returned.
func (s *SeasonStore) CreateSeason(ctx context.Context, in season.Season) (season.Season, error) {
	const op = "store.SeasonStore.CreateSeason"

	var out seasonRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.First(&out, "id = ?", in.ID).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err := tx.Model(&seasonRow{}).Where("active").Update("active", false).Error; err != nil {
			return err
		}
		out = seasonRow{ID: in.ID, Number: in.Number, StartsAt: in.StartsAt, EndsAt: in.EndsAt, Active: true}
		return tx.Create(&out).Error
	})
	if err != nil {
		if !isUniqueViolation(err) {
			return season.Season{}, translate(op, err)
		}
		if err := s.db.WithContext(ctx).First(&out, "id = ?", in.ID).Error; err != nil {
			return season.Season{}, translate(op, err)
		}
	}
	return out.toDomain(), nil
}

func (s *SeasonStore) ActiveSeason(ctx context.Context) (season.Season, error) {
	var m seasonRow
	if err := s.db.WithContext(ctx).Where("active").First(&m).Error; err != nil {
		return season.Season{}, translate("store.SeasonStore.ActiveSeason", err)
	}
	return m.toDomain(), nil
}

func (s *SeasonStore) SeasonBefore(ctx context.Context, number int) (season.Season, error) {
	var m seasonRow
	err := s.db.WithContext(ctx).Where("number < ?", number).Order("number DESC").First(&m).Error
	if err != nil {
		return season.Season{}, translate("store.SeasonStore.SeasonBefore", err)
	}
	return m.toDomain(), nil
}

func (s *SeasonStore) SaveSnapshot(ctx context.Context, snap season.Snapshot) error {
	const op = "store.SeasonStore.SaveSnapshot"

	entries, err := json.Marshal(snap.Entries)
	if err != nil {
		return fmt.Errorf("%s: encode entries: %w", op, err)
	}
	row := leaderboardSnapshot{
		ID:         snap.ID,
		SeasonID:   snap.SeasonID,
		Category:   string(snap.Category),
		Entries:    entries,
		CapturedAt: snap.CapturedAt,
	}
	return translate(op, s.db.WithContext(ctx).Create(&row).Error)
}

func (s *SeasonStore) LatestSnapshot(ctx context.Context, seasonID string, category season.Category) (season.Snapshot, error) {
	const op = "store.SeasonStore.LatestSnapshot"

	var row leaderboardSnapshot
	err := s.db.WithContext(ctx).
		Where("season_id = ? AND category = ?", seasonID, string(category)).
		Order("captured_at DESC, id DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return season.Snapshot{}, apperr.NotFound(op, "no %s snapshot for %s", category, seasonID)
	}
	if err != nil {
		return season.Snapshot{}, translate(op, err)
	}
	return decodeSnapshot(row)
}

func (s *SeasonStore) Snapshots(ctx context.Context, seasonID string, category season.Category) ([]season.Snapshot, error) {
	var rows []leaderboardSnapshot
	err := s.db.WithContext(ctx).
		Where("season_id = ? AND category = ?", seasonID, string(category)).
		Order("captured_at, id").
		Find(&rows).Error
	if err != nil {
		return nil, translate("store.SeasonStore.Snapshots", err)
	}
	out := make([]season.Snapshot, 0, len(rows))
	for _, row := range rows {
		snap, err := decodeSnapshot(row)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func decodeSnapshot(row leaderboardSnapshot) (season.Snapshot, error) {
	var entries []season.Entry
	if err := json.Unmarshal(row.Entries, &entries); err != nil {
		return season.Snapshot{}, fmt.Errorf("store: decode snapshot %s: %w", row.ID, err)
	}
	return season.Snapshot{
		ID:         row.ID,
		SeasonID:   row.SeasonID,
		Category:   season.Category(row.Category),
		Entries:    entries,
		CapturedAt: row.CapturedAt,
	}, nil
}
