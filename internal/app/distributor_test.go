package app

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/adapter/memory"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/adapter/metrics"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/domain"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/mailbox"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/pool"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/realtime"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/stream"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/subscription"
)

type recordingConn struct {
	types []string
}

func (r *recordingConn) Send(msg realtime.Message) error {
	r.types = append(r.types, msg.Type)
	return nil
}

func (r *recordingConn) Ping() error  { return nil }
func (r *recordingConn) Close(string) {}

type distributorEnv struct {
	distributor *Distributor
	connections *realtime.Manager
	subs        *subscription.Manager
	queue       *mailbox.Queue
	clock       *clockwork.FakeClock
}

func newDistributorEnv(t *testing.T, offlineTTL time.Duration) distributorEnv {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC))
	store := memory.NewStore(clock)
	reg := prometheus.NewRegistry()

	subs := subscription.NewManager(store)
	queue := mailbox.NewQueue(store, mailbox.Config{MaxSize: 100, DefaultTTL: time.Hour}, clock, metrics.NewMailboxMetrics(reg))
	streamer := stream.NewStreamer(store, stream.Config{RateLimitPerSecond: 100, MaxLength: 100, Retention: time.Hour}, clock, metrics.NewStreamMetrics(reg))
	p := pool.NewManager(pool.Config{MaxConnectionsPerUser: 5, MaxGlobalConnections: 100, HealthCheckInterval: time.Minute}, clock)
	conns := realtime.NewManager(p, subs, queue, clock, metrics.NewWebSocketMetrics(reg), realtime.Config{})

	return distributorEnv{
		distributor: NewDistributor(streamer, subs, conns, offlineTTL),
		connections: conns,
		subs:        subs,
		queue:       queue,
		clock:       clock,
	}
}

func (e distributorEnv) update(topic string) domain.DataUpdate {
	return domain.DataUpdate{Topic: topic, Source: "feed", Price: 42, Timestamp: e.clock.Now(), Quality: domain.QualityMedium}
}

func TestDistribute_LiveAndOffline(t *testing.T) {
	ctx := context.Background()
	env := newDistributorEnv(t, 30*time.Minute)

	_, err := env.subs.Subscribe(ctx, "online", []string{"BTC"})
	require.NoError(t, err)
	_, err = env.subs.Subscribe(ctx, "offline", []string{"BTC"})
	require.NoError(t, err)

	conn := &recordingConn{}
	_, err = env.connections.Register(ctx, conn, domain.Identity{UserID: "online", Timezone: "UTC"})
	require.NoError(t, err)

	res, err := env.distributor.Distribute(ctx, env.update("BTC"))
	require.NoError(t, err)
	assert.Equal(t, Result{Accepted: true, Recipients: 1, Queued: 1}, res)

	assert.Equal(t, "market_update", conn.types[len(conn.types)-1])

	queued := env.queue.Drain(ctx, "offline")
	require.Len(t, queued, 1)
	assert.Equal(t, "market_update", queued[0].Type)
	assert.Equal(t, domain.PriorityLow, queued[0].Priority)
	assert.Equal(t, env.clock.Now().Add(30*time.Minute), queued[0].ExpiresAt)
	assert.Zero(t, env.queue.Size(ctx, "online"))
}

func TestDistribute_OfflineCopiesDisabled(t *testing.T) {
	ctx := context.Background()
	env := newDistributorEnv(t, 0)

	_, err := env.subs.Subscribe(ctx, "offline", []string{"BTC"})
	require.NoError(t, err)

	assert.True(t, env.distributor.Submit(ctx, env.update("BTC")))
	assert.Zero(t, env.queue.Size(ctx, "offline"))
}

func TestDistribute_RejectedUpdate(t *testing.T) {
	ctx := context.Background()
	env := newDistributorEnv(t, time.Hour)

	_, err := env.subs.Subscribe(ctx, "offline", []string{"BTC"})
	require.NoError(t, err)

	u := env.update("BTC")
	u.Price = -1
	res, err := env.distributor.Distribute(ctx, u)
	assert.ErrorIs(t, err, domain.ErrValidationRejected)
	assert.False(t, res.Accepted)
	assert.False(t, env.distributor.Submit(ctx, u))
	assert.Zero(t, env.queue.Size(ctx, "offline"))
}
