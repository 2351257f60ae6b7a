package redis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionStore_MirroredSets(t *testing.T) {
	client := setupTestClient(t)
	store := NewSubscriptionStore(client)
	ctx := context.Background()

	require.NoError(t, store.AddSubscriptions(ctx, "u1", []string{"BTC", "ETH"}))
	require.NoError(t, store.AddSubscriptions(ctx, "u2", []string{"BTC"}))

	users, err := store.TopicUsers(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, users)

	topics, err := store.UserTopics(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC", "ETH"}, topics)

	require.NoError(t, store.RemoveSubscriptions(ctx, "u1", []string{"BTC"}))

	users, err = store.TopicUsers(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, users)
	topics, err = store.UserTopics(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ETH"}, topics)
}

func TestSubscriptionStore_DropUser(t *testing.T) {
	client := setupTestClient(t)
	store := NewSubscriptionStore(client)
	ctx := context.Background()

	require.NoError(t, store.AddSubscriptions(ctx, "u1", []string{"BTC", "ETH"}))
	require.NoError(t, store.AddSubscriptions(ctx, "u2", []string{"ETH"}))

	require.NoError(t, store.DropUser(ctx, "u1", []string{"BTC", "ETH"}))

	topics, err := store.UserTopics(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, topics)

	sizes, err := store.TopicSizes(ctx, []string{"BTC", "ETH"})
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1}, sizes)
}

func TestSubscriptionStore_Indexes(t *testing.T) {
	client := setupTestClient(t)
	store := NewSubscriptionStore(client)
	ctx := context.Background()

	require.NoError(t, store.AddSubscriptions(ctx, "u1", []string{"BTC"}))
	require.NoError(t, store.AddSubscriptions(ctx, "u2", []string{"SOL", "BTC"}))
	require.NoError(t, store.RemoveSubscriptions(ctx, "u2", []string{"SOL", "BTC"}))

	topics, err := store.IndexedTopics(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC", "SOL"}, topics, "removal leaves the index for compaction")

	userSizes, err := store.UserSizes(ctx, []string{"u1", "u2"})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 0}, userSizes)

	require.NoError(t, store.UnindexTopics(ctx, []string{"SOL"}))
	require.NoError(t, store.UnindexUsers(ctx, []string{"u2"}))

	topics, err = store.IndexedTopics(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC"}, topics)
	users, err := store.IndexedUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, users)

	require.NoError(t, store.AddSubscriptions(ctx, "u3", nil))
	require.NoError(t, store.UnindexTopics(ctx, nil))
}
