package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 90*time.Second, cfg.HeartbeatTimeout())
	assert.Equal(t, 32, cfg.EloK)
	assert.Equal(t, 1000, cfg.InitialRating)
	assert.Equal(t, []string{"guild:"}, cfg.PersistentRoomPrefixes)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), cfg.SeasonEpoch.UTC())
	assert.Equal(t, 28*24*time.Hour, cfg.SeasonLength)
}

func TestLoadRequiresDatabaseURLForPostgres(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadParseError(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("HEARTBEAT_MISSES", "three")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: parse env:")
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "cassandra")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cassandra")
}

func TestSeedPairs(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("SEED_GUILD_MEMBERS", "alice:red,bob:blue")
	t.Setenv("SEED_FRIENDSHIPS", "alice:bob")

	cfg, err := Load()
	require.NoError(t, err)

	members, err := cfg.GuildMembers()
	require.NoError(t, err)
	assert.Equal(t, []Pair{{"alice", "red"}, {"bob", "blue"}}, members)

	friends, err := cfg.Friendships()
	require.NoError(t, err)
	assert.Equal(t, []Pair{{"alice", "bob"}}, friends)
}

func TestSeedPairsRejectsMalformedEntry(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("SEED_GUILD_MEMBERS", "alice:red,bob")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SEED_GUILD_MEMBERS")
}
