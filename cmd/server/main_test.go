package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/codefarm-realtime/internal/config"
)

func TestMemoryBackendsAreSeeded(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{
		StorageDriver:    "memory",
		SeedGuildMembers: []string{"alice:red", "bob:blue"},
		SeedFriendships:  []string{"alice:bob", "alice:carol"},
	}
	log := zaptest.NewLogger(t)

	b, err := openBackends(ctx, cfg, log)
	require.NoError(t, err)
	defer b.close()
	require.NoError(t, seed(ctx, cfg, b, log))

	guild, err := b.guilds.GuildOf(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "red", guild)

	friends, err := b.friends.FriendsOf(ctx, "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bob", "carol"}, friends)

	friends, err = b.friends.FriendsOf(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, friends)
}
