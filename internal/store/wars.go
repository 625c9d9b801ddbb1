package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/DoyleJ11/codefarm-realtime/internal/apperr"
	"github.com/DoyleJ11/codefarm-realtime/internal/engine"
	"github.com/DoyleJ11/codefarm-realtime/internal/war"
)

// WarStore implements war.Store and war.Guilds.
type WarStore struct {
	db *gorm.DB
}

func NewWarStore(db *gorm.DB) *WarStore {
	return &WarStore{db: db}
}

var (
	_ war.Store  = (*WarStore)(nil)
	_ war.Guilds = (*WarStore)(nil)
)

func (s *WarStore) CreateWar(ctx context.Context, w war.War) error {
	m := warFromDomain(w)
	return translate("store.WarStore.CreateWar", s.db.WithContext(ctx).Create(&m).Error)
}

func (s *WarStore) GetWar(ctx context.Context, id string) (war.War, error) {
	var m guildWar
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return war.War{}, translate("store.WarStore.GetWar", err)
	}
	return m.toDomain(), nil
}

func (s *WarStore) StartWar(ctx context.Context, id string) error {
	const op = "store.WarStore.StartWar"

	res := s.db.WithContext(ctx).Model(&guildWar{}).
		Where("id = ? AND status = ?", id, string(engine.WarPreparing)).
		Update("status", string(engine.WarActive))
	if res.Error != nil {
		return translate(op, res.Error)
	}
	if res.RowsAffected == 0 {
		w, err := s.GetWar(ctx, id)
		if err != nil {
			return err
		}
		_, err = engine.ApplyWar(w.Status, engine.CmdStart)
		return err
	}
	return nil
}

// ApplyContribution locks the war row, bumps the guild total and increments the
// player's contribution in the same transaction.
func (s *WarStore) ApplyContribution(ctx context.Context, d war.Delta) error {
	const op = "store.WarStore.ApplyContribution"

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var w guildWar
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&w, "id = ?", d.WarID).Error; err != nil {
			return err
		}
		if w.Status != string(engine.WarActive) {
			return apperr.InvalidState(op, "war is %s", w.Status)
		}

		var column string
		switch d.GuildID {
		case w.GuildA:
			column = "score_a"
		case w.GuildB:
			column = "score_b"
		default:
			return apperr.InvalidState(op, "guild %s is not fighting in war %s", d.GuildID, d.WarID)
		}
		if err := tx.Model(&w).Update(column, gorm.Expr(column+" + ?", d.Score)).Error; err != nil {
			return err
		}

		won := 0
		if d.BattleWon {
			won = 1
		}
		row := warContribution{
			WarID:      d.WarID,
			PlayerID:   d.PlayerID,
			GuildID:    d.GuildID,
			Score:      d.Score,
			BattlesWon: won,
			UpdatedAt:  d.At,
		}
		updates := map[string]any{
			"score":       gorm.Expr("war_contributions.score + ?", d.Score),
			"battles_won": gorm.Expr("war_contributions.battles_won + ?", won),
		}
		// Only score moves the leaderboard tiebreak time of an existing row.
		if d.Score != 0 {
			updates["updated_at"] = d.At
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "war_id"}, {Name: "player_id"}},
			DoUpdates: clause.Assignments(updates),
		}).Create(&row).Error
	})
	return translate(op, err)
}

func (s *WarStore) FinishWar(ctx context.Context, id, winnerGuildID string, at time.Time) (bool, error) {
	const op = "store.WarStore.FinishWar"

	res := s.db.WithContext(ctx).Model(&guildWar{}).
		Where("id = ? AND status = ?", id, string(engine.WarActive)).
		Updates(map[string]any{
			"status":          string(engine.WarFinished),
			"winner_guild_id": winnerGuildID,
			"finished_at":     at,
		})
	if res.Error != nil {
		return false, translate(op, res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	if _, err := s.GetWar(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *WarStore) Contributions(ctx context.Context, warID string) ([]war.Contribution, error) {
	var rows []warContribution
	err := s.db.WithContext(ctx).Where("war_id = ?", warID).Order("player_id").Find(&rows).Error
	if err != nil {
		return nil, translate("store.WarStore.Contributions", err)
	}
	out := make([]war.Contribution, len(rows))
	for i, m := range rows {
		out[i] = m.toDomain()
	}
	return out, nil
}

func (s *WarStore) LiveWars(ctx context.Context) ([]war.War, error) {
	var rows []guildWar
	err := s.db.WithContext(ctx).
		Where("status IN ?", []string{string(engine.WarPreparing), string(engine.WarActive)}).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, translate("store.WarStore.LiveWars", err)
	}
	out := make([]war.War, len(rows))
	for i, m := range rows {
		out[i] = m.toDomain()
	}
	return out, nil
}

// MarkSettled stamps settled_at once; later calls keep the first time.
func (s *WarStore) MarkSettled(ctx context.Context, id string, at time.Time) error {
	const op = "store.WarStore.MarkSettled"

	res := s.db.WithContext(ctx).Model(&guildWar{}).
		Where("id = ? AND settled_at IS NULL", id).
		Update("settled_at", at)
	if res.Error != nil {
		return translate(op, res.Error)
	}
	if res.RowsAffected == 0 {
		_, err := s.GetWar(ctx, id)
		return err
	}
	return nil
}

func (s *WarStore) UnsettledWars(ctx context.Context) ([]war.War, error) {
	var rows []guildWar
	err := s.db.WithContext(ctx).
		Where("status = ? AND settled_at IS NULL", string(engine.WarFinished)).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, translate("store.WarStore.UnsettledWars", err)
	}
	out := make([]war.War, len(rows))
	for i, m := range rows {
		out[i] = m.toDomain()
	}
	return out, nil
}

func (s *WarStore) PlayerTotals(ctx context.Context, from, to time.Time) ([]war.PlayerTotal, error) {
	var rows []struct {
		PlayerID  string
		Score     int64
		ReachedAt time.Time
	}
	err := s.db.WithContext(ctx).
		Table("war_contributions AS c").
		Select("c.player_id, SUM(c.score) AS score, MAX(c.updated_at) AS reached_at").
		Joins("JOIN guild_wars w ON w.id = c.war_id").
		Where("w.start_time >= ? AND w.start_time < ?", from, to).
		Group("c.player_id").
		Order("c.player_id").
		Scan(&rows).Error
	if err != nil {
		return nil, translate("store.WarStore.PlayerTotals", err)
	}
	out := make([]war.PlayerTotal, len(rows))
	for i, r := range rows {
		out[i] = war.PlayerTotal{PlayerID: r.PlayerID, Score: r.Score, ReachedAt: r.ReachedAt}
	}
	return out, nil
}

func (s *WarStore) GuildOf(ctx context.Context, playerID string) (string, error) {
	var m guildMember
	if err := s.db.WithContext(ctx).First(&m, "player_id = ?", playerID).Error; err != nil {
		return "", translate("store.WarStore.GuildOf", err)
	}
	return m.GuildID, nil
}

// SetMember upserts a player's guild. An empty guildID removes the membership.
func (s *WarStore) SetMember(ctx context.Context, playerID, guildID string) error {
	const op = "store.WarStore.SetMember"
	db := s.db.WithContext(ctx)
	if guildID == "" {
		return translate(op, db.Delete(&guildMember{}, "player_id = ?", playerID).Error)
	}
	m := guildMember{PlayerID: playerID, GuildID: guildID}
	return translate(op, db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "player_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"guild_id"}),
	}).Create(&m).Error)
}
