// Package war runs guild wars: timed competitions where members of two guilds
// contribute score until the war is ended by hand or by its deadline.
package war

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/codefarm-realtime/internal/engine"
)

type War struct {
	ID            string           `json:"id"`
	GuildA        string           `json:"guild_a"`
	GuildB        string           `json:"guild_b"`
	ScoreA        int64            `json:"score_a"`
	ScoreB        int64            `json:"score_b"`
	Status        engine.WarStatus `json:"status"`
	StartTime     time.Time        `json:"start_time"`
	EndTime       time.Time        `json:"end_time"`
	RewardPool    int64            `json:"reward_pool"`
	WinnerGuildID string           `json:"winner_guild_id,omitempty"`
	FinishedAt    time.Time        `json:"finished_at,omitzero"`
	SettledAt     time.Time        `json:"settled_at,omitzero"`
}

// Winner is the guild with the higher score, or "" on a tie.
func (w War) Winner() string {
	switch {
	case w.ScoreA > w.ScoreB:
		return w.GuildA
	case w.ScoreB > w.ScoreA:
		return w.GuildB
	default:
		return ""
	}
}

func (w War) side(guildID string) (isA, ok bool) {
	switch guildID {
	case w.GuildA:
		return true, true
	case w.GuildB:
		return false, true
	}
	return false, false
}

type Contribution struct {
	WarID      string    `json:"war_id"`
	PlayerID   string    `json:"player_id"`
	GuildID    string    `json:"guild_id"`
	Score      int64     `json:"score"`
	BattlesWon int       `json:"battles_won"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Delta is one accepted contribute call.
type Delta struct {
	WarID     string
	PlayerID  string
	GuildID   string
	Score     int64
	BattleWon bool
	At        time.Time
}

// PlayerTotal is a player's summed contribution across a set of wars.
type PlayerTotal struct {
	PlayerID  string
	Score     int64
	ReachedAt time.Time
}

// Store persists wars. ApplyContribution must add the delta to the guild total and
// to the player's contribution in one atomic step. FinishWar only succeeds from
// active and reports whether this call performed the transition.
type Store interface {
	CreateWar(ctx context.Context, w War) error
	GetWar(ctx context.Context, id string) (War, error)
	StartWar(ctx context.Context, id string) error
	ApplyContribution(ctx context.Context, d Delta) error
	FinishWar(ctx context.Context, id, winnerGuildID string, at time.Time) (bool, error)
	Contributions(ctx context.Context, warID string) ([]Contribution, error)
	LiveWars(ctx context.Context) ([]War, error)
	// MarkSettled records that rewards for a finished war were paid out.
	MarkSettled(ctx context.Context, id string, at time.Time) error
	// UnsettledWars lists finished wars whose settlement has not been recorded.
	UnsettledWars(ctx context.Context) ([]War, error)
	PlayerTotals(ctx context.Context, from, to time.Time) ([]PlayerTotal, error)
}

// Guilds resolves a player's current guild.
type Guilds interface {
	GuildOf(ctx context.Context, playerID string) (string, error)
}

// Settler distributes rewards for a finished war. It is called once per war.
type Settler interface {
	Settle(ctx context.Context, w War, contributions []Contribution) error
}

// LogSettler records the outcome without paying anything out.
type LogSettler struct{ Logger *zap.Logger }

func (s LogSettler) Settle(_ context.Context, w War, contributions []Contribution) error {
	s.Logger.Info("war settled",
		zap.String("war_id", w.ID),
		zap.String("winner", w.WinnerGuildID),
		zap.Int64("score_a", w.ScoreA),
		zap.Int64("score_b", w.ScoreB),
		zap.Int64("reward_pool", w.RewardPool),
		zap.Int("contributors", len(contributions)),
	)
	return nil
}
