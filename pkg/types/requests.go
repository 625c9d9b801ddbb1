// Package types holds the JSON bodies of the HTTP API, shared with Go clients.
package types

import "encoding/json"

// Matchmaking

type EnqueueRequest struct {
	PlayerID  string `json:"player_id"`
	Tolerance int    `json:"tolerance"`
}

type ResultRequest struct {
	// WinnerID is one of the two players, or empty for a draw.
	WinnerID string `json:"winner_id"`
	ScoreA   int    `json:"score_a"`
	ScoreB   int    `json:"score_b"`
}

// Guild wars

type CreateWarRequest struct {
	GuildA          string `json:"guild_a"`
	GuildB          string `json:"guild_b"`
	DurationSeconds int64  `json:"duration_seconds"`
	RewardPool      int64  `json:"reward_pool"`
}

type ContributionRequest struct {
	PlayerID  string `json:"player_id"`
	Score     int64  `json:"score"`
	BattleWon bool   `json:"battle_won"`
}

// Server-pushed notifications

type NotifyRequest struct {
	Type string          `json:"type"`
	From string          `json:"from"`
	Data json.RawMessage `json:"data,omitempty"`
}
