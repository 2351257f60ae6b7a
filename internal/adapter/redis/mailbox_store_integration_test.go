package redis

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/adapter/metrics"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/domain"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/mailbox"
)

func TestMailboxStore_PushEvictsOldest(t *testing.T) {
	client := setupTestClient(t)
	store := NewMailboxStore(client)
	ctx := context.Background()

	for i, raw := range []string{"a", "b", "c"} {
		evicted, err := store.PushMessage(ctx, "u1", raw, 2, time.Hour)
		require.NoError(t, err)
		if i < 2 {
			assert.Zero(t, evicted)
		} else {
			assert.Equal(t, int64(1), evicted)
		}
	}

	raws, err := store.Messages(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, raws)
}

func TestMailboxStore_ExpiryOnlyExtends(t *testing.T) {
	client := setupTestClient(t)
	store := NewMailboxStore(client)
	ctx := context.Background()

	_, err := store.PushMessage(ctx, "u1", "long", 10, time.Hour)
	require.NoError(t, err)
	_, err = store.PushMessage(ctx, "u1", "short", 10, time.Minute)
	require.NoError(t, err)

	ttl, err := client.PTTL(ctx, mailboxKey("u1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)
}

func TestMailboxStore_RemoveDeletesWhenEmpty(t *testing.T) {
	client := setupTestClient(t)
	store := NewMailboxStore(client)
	ctx := context.Background()

	for _, raw := range []string{"a", "b", "a"} {
		_, err := store.PushMessage(ctx, "u1", raw, 10, time.Hour)
		require.NoError(t, err)
	}

	left, err := store.RemoveMessages(ctx, "u1", []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), left, "one occurrence per listed entry")

	left, err = store.RemoveMessages(ctx, "u1", []string{"a", "b"})
	require.NoError(t, err)
	assert.Zero(t, left)

	exists, err := client.Exists(ctx, mailboxKey("u1")).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestMailboxStore_ListAndDelete(t *testing.T) {
	client := setupTestClient(t)
	store := NewMailboxStore(client)
	ctx := context.Background()

	for _, userID := range []string{"carol", "alice", "bob"} {
		_, err := store.PushMessage(ctx, userID, "m", 10, time.Hour)
		require.NoError(t, err)
	}

	users, err := store.Mailboxes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, users)

	require.NoError(t, store.DeleteMailbox(ctx, "bob"))
	size, err := store.MailboxSize(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, size)

	size, err = store.MailboxSize(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)
}

func TestMailboxStore_BacksQueue(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()
	q := mailbox.NewQueue(NewMailboxStore(client), mailbox.Config{MaxSize: 1000, DefaultTTL: time.Hour},
		clockwork.NewRealClock(), metrics.NewMailboxMetrics(prometheus.NewRegistry()))

	_, err := q.Enqueue(ctx, "u1", "news", map[string]string{"title": "low"}, mailbox.EnqueueOptions{Priority: domain.PriorityLow})
	require.NoError(t, err)
	urgent, err := q.Enqueue(ctx, "u1", "alert", map[string]string{"title": "urgent"}, mailbox.EnqueueOptions{Priority: domain.PriorityUrgent})
	require.NoError(t, err)

	drained := q.Drain(ctx, "u1")
	require.Len(t, drained, 2)
	assert.Equal(t, urgent.ID, drained[0].ID)

	require.NoError(t, q.RemoveByIDs(ctx, "u1", []string{drained[0].ID, drained[1].ID}))
	assert.Zero(t, q.Size(ctx, "u1"))
}
