package store

import (
	"time"

	"github.com/DoyleJ11/codefarm-realtime/internal/engine"
	"github.com/DoyleJ11/codefarm-realtime/internal/rating"
	"github.com/DoyleJ11/codefarm-realtime/internal/season"
	"github.com/DoyleJ11/codefarm-realtime/internal/war"
)

// Schema is owned by the goose migrations; these models only map rows.

type ratingRecord struct {
	SeasonID        string `gorm:"primaryKey"`
	PlayerID        string `gorm:"primaryKey"`
	Rating          int
	MaxRating       int
	Wins            int
	Losses          int
	Draws           int
	Streak          int
	MaxStreak       int
	RatingReachedAt time.Time
	WinsReachedAt   time.Time
	UpdatedAt       time.Time `gorm:"autoUpdateTime:false"`
	Version         int64
}

func (ratingRecord) TableName() string { return "rating_records" }

func ratingFromDomain(r rating.Record) ratingRecord {
	return ratingRecord{
		SeasonID:        r.SeasonID,
		PlayerID:        r.PlayerID,
		Rating:          r.Rating,
		MaxRating:       r.MaxRating,
		Wins:            r.Wins,
		Losses:          r.Losses,
		Draws:           r.Draws,
		Streak:          r.Streak,
		MaxStreak:       r.MaxStreak,
		RatingReachedAt: r.RatingReachedAt,
		WinsReachedAt:   r.WinsReachedAt,
		UpdatedAt:       r.UpdatedAt,
		Version:         r.Version,
	}
}

func (m ratingRecord) toDomain() rating.Record {
	return rating.Record{
		SeasonID:        m.SeasonID,
		PlayerID:        m.PlayerID,
		Rating:          m.Rating,
		MaxRating:       m.MaxRating,
		Wins:            m.Wins,
		Losses:          m.Losses,
		Draws:           m.Draws,
		Streak:          m.Streak,
		MaxStreak:       m.MaxStreak,
		RatingReachedAt: m.RatingReachedAt,
		WinsReachedAt:   m.WinsReachedAt,
		UpdatedAt:       m.UpdatedAt,
		Version:         m.Version,
	}
}

type guildWar struct {
	ID            string `gorm:"primaryKey"`
	GuildA        string
	GuildB        string
	ScoreA        int64
	ScoreB        int64
	Status        string
	StartTime     time.Time
	EndTime       time.Time
	RewardPool    int64
	WinnerGuildID string
	FinishedAt    *time.Time
	SettledAt     *time.Time
}

func (guildWar) TableName() string { return "guild_wars" }

func warFromDomain(w war.War) guildWar {
	m := guildWar{
		ID:            w.ID,
		GuildA:        w.GuildA,
		GuildB:        w.GuildB,
		ScoreA:        w.ScoreA,
		ScoreB:        w.ScoreB,
		Status:        string(w.Status),
		StartTime:     w.StartTime,
		EndTime:       w.EndTime,
		RewardPool:    w.RewardPool,
		WinnerGuildID: w.WinnerGuildID,
	}
	if !w.FinishedAt.IsZero() {
		at := w.FinishedAt
		m.FinishedAt = &at
	}
	if !w.SettledAt.IsZero() {
		at := w.SettledAt
		m.SettledAt = &at
	}
	return m
}

func (m guildWar) toDomain() war.War {
	w := war.War{
		ID:            m.ID,
		GuildA:        m.GuildA,
		GuildB:        m.GuildB,
		ScoreA:        m.ScoreA,
		ScoreB:        m.ScoreB,
		Status:        engine.WarStatus(m.Status),
		StartTime:     m.StartTime,
		EndTime:       m.EndTime,
		RewardPool:    m.RewardPool,
		WinnerGuildID: m.WinnerGuildID,
	}
	if m.FinishedAt != nil {
		w.FinishedAt = *m.FinishedAt
	}
	if m.SettledAt != nil {
		w.SettledAt = *m.SettledAt
	}
	return w
}

type warContribution struct {
	WarID      string `gorm:"primaryKey"`
	PlayerID   string `gorm:"primaryKey"`
	GuildID    string
	Score      int64
	BattlesWon int
	UpdatedAt  time.Time `gorm:"autoUpdateTime:false"`
}

func (warContribution) TableName() string { return "war_contributions" }

func (m warContribution) toDomain() war.Contribution {
	return war.Contribution{
		WarID:      m.WarID,
		PlayerID:   m.PlayerID,
		GuildID:    m.GuildID,
		Score:      m.Score,
		BattlesWon: m.BattlesWon,
		UpdatedAt:  m.UpdatedAt,
	}
}

type guildMember struct {
	PlayerID string `gorm:"primaryKey"`
	GuildID  string
}

func (guildMember) TableName() string { return "guild_members" }

type friendship struct {
	Identity string `gorm:"primaryKey"`
	FriendID string `gorm:"primaryKey"`
}

func (friendship) TableName() string { return "friendships" }

type seasonRow struct {
	ID       string `gorm:"primaryKey"`
	Number   int
	StartsAt time.Time
	EndsAt   time.Time
	Active   bool
}

func (seasonRow) TableName() string { return "seasons" }

func (m seasonRow) toDomain() season.Season {
	return season.Season{ID: m.ID, Number: m.Number, StartsAt: m.StartsAt, EndsAt: m.EndsAt, Active: m.Active}
}

type leaderboardSnapshot struct {
	ID         string `gorm:"primaryKey"`
	SeasonID   string
	Category   string
	Entries    []byte `gorm:"type:jsonb"`
	CapturedAt time.Time
}

func (leaderboardSnapshot) TableName() string { return "leaderboard_snapshots" }
