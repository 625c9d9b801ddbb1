package store

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/DoyleJ11/codefarm-realtime/internal/season"
)

// LeaderboardMirror copies boards into Redis sorted sets for cheap rank lookups
// by other services.
type LeaderboardMirror struct {
	client *redis.Client
	logger *zap.Logger
}

func NewLeaderboardMirror(ctx context.Context, addr, password string, db int, logger *zap.Logger) (*LeaderboardMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &LeaderboardMirror{client: client, logger: logger}, nil
}

func (m *LeaderboardMirror) Close() error {
	return m.client.Close()
}

func boardKey(seasonID string, category season.Category) string {
	return fmt.Sprintf("leaderboard:%s:%s", seasonID, category)
}

// Publish replaces the sorted set for the board in one MULTI/EXEC.
func (m *LeaderboardMirror) Publish(ctx context.Context, b season.Board) error {
	key := boardKey(b.SeasonID, b.Category)
	members := make([]*redis.Z, len(b.Entries))
	for i, e := range b.Entries {
		members[i] = &redis.Z{Score: float64(e.Value), Member: e.PlayerID}
	}

	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(members) > 0 {
			pipe.ZAdd(ctx, key, members...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish leaderboard %s: %w", key, err)
	}

	m.logger.Debug("leaderboard mirrored", zap.String("key", key), zap.Int("entries", len(members)))
	return nil
}

// Top reads the first n players of a mirrored board, highest score first.
func (m *LeaderboardMirror) Top(ctx context.Context, seasonID string, category season.Category, n int64) ([]redis.Z, error) {
	key := boardKey(seasonID, category)
	out, err := m.client.ZRevRangeWithScores(ctx, key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read leaderboard %s: %w", key, err)
	}
	return out, nil
}
