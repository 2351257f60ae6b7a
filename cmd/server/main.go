package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/adapter/httpserver"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/adapter/memory"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/adapter/metrics"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/adapter/redis"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/adapter/websocket"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/app"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/domain"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/mailbox"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/platform/config"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/platform/logging"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/platform/version"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/pool"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/realtime"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/stream"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/subscription"
)

const (
	cleanupLeaseName = "cleanup"
	shutdownTimeout  = 10 * time.Second
)

type stores struct {
	updates       domain.UpdateStore
	mailboxes     domain.MailboxStore
	subscriptions domain.SubscriptionStore
	// lease is nil without Redis: a single in-memory instance owns cleanup.
	lease        app.Lease
	healthChecks []httpserver.HealthCheck
	close        func()
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupStores(ctx context.Context, cfg *config.Config, clock clockwork.Clock, reg prometheus.Registerer) stores {
	if cfg.RedisURL == "" {
		slog.Warn("REDIS_URL not set, using in-memory stores; state is lost on restart and not shared between instances")
		st := memory.NewStore(clock)
		return stores{updates: st, mailboxes: st, subscriptions: st, close: func() {}}
	}

	rdb, err := redis.NewClient(ctx, cfg.RedisURL, metrics.NewRedisMetrics(reg))
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	owner := uuid.NewString()
	leaseTTL := 2 * cfg.Tuning.CleanupInterval()
	slog.Info("Connected to Redis", "instance_id", owner)

	return stores{
		updates:       redis.NewUpdateStore(rdb),
		mailboxes:     redis.NewMailboxStore(rdb),
		subscriptions: redis.NewSubscriptionStore(rdb),
		lease:         redis.NewLease(rdb, cleanupLeaseName, owner, leaseTTL),
		healthChecks: []httpserver.HealthCheck{
			{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
		},
		close: func() { closeRedis(rdb) },
	}
}

func closeRedis(rdb *goredis.Client) {
	if err := rdb.Close(); err != nil {
		slog.Error("Failed to close Redis client", "error", err)
	}
}

func poolSnapshot(p *pool.Manager) func() metrics.PoolSnapshot {
	return func() metrics.PoolSnapshot {
		m := p.Metrics()
		return metrics.PoolSnapshot{
			Active:             m.Active,
			Users:              int64(len(m.PerUser)),
			Created:            m.Created,
			Destroyed:          m.Destroyed,
			FailedHealthChecks: m.FailedHealthChecks,
			LoadBalanceEvents:  m.LoadBalanceEvents,
		}
	}
}

func setupScheduler(cfg *config.Config, clock clockwork.Clock, reg prometheus.Registerer, st stores,
	connPool *pool.Manager, conns *realtime.Manager, queue *mailbox.Queue, streamer *stream.Streamer, subs *subscription.Manager,
) *app.Scheduler {
	t := cfg.Tuning
	sched := app.NewScheduler(clock, metrics.NewSchedulerMetrics(reg), st.lease)
	sched.Add("health_check", t.HealthCheckInterval(), false, app.HealthCheckJob(connPool, conns))
	if t.EnableLoadBalancing {
		sched.Add("load_balance", t.LoadBalanceInterval(), false, app.LoadBalanceJob(connPool))
	}
	sched.Add("cleanup", t.CleanupInterval(), true, app.CleanupJob(queue, streamer, subs))
	return sched
}

func runGracefulShutdown(srv *httpserver.Server, conns *realtime.Manager, sched *app.Scheduler) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Clients get server_shutdown and the grace period before the listener goes away.
		conns.Shutdown(shutdownCtx)
		sched.Stop(shutdownCtx)

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	// Initialize structured logging
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "version", version.Get().String(), "env", cfg.AppEnv, "port", cfg.Port)

	reg := metrics.NewRegistry()
	t := cfg.Tuning

	st := setupStores(context.Background(), cfg, clock, reg)
	defer st.close()

	connPool := pool.NewManager(pool.Config{
		MaxConnectionsPerUser: t.MaxConnectionsPerUser,
		MaxGlobalConnections:  t.MaxGlobalConnections,
		HealthCheckInterval:   t.HealthCheckInterval(),
	}, clock)
	metrics.RegisterPoolGauges(reg, poolSnapshot(connPool))

	subs := subscription.NewManager(st.subscriptions)
	queue := mailbox.NewQueue(st.mailboxes, mailbox.Config{
		MaxSize:    t.MailboxMaxSize,
		DefaultTTL: t.MailboxDefaultTTL(),
	}, clock, metrics.NewMailboxMetrics(reg))
	streamer := stream.NewStreamer(st.updates, stream.Config{
		RateLimitPerSecond: t.PerTopicRateLimitPerSecond,
		MaxLength:          t.StreamMaxLength,
		Retention:          t.StreamRetention(),
	}, clock, metrics.NewStreamMetrics(reg))

	wsMetrics := metrics.NewWebSocketMetrics(reg)
	conns := realtime.NewManager(connPool, subs, queue, clock, wsMetrics, realtime.Config{ShutdownGrace: t.ShutdownGrace()})
	distributor := app.NewDistributor(streamer, subs, conns, t.OfflineUpdateTTL())

	wsHandler := websocket.NewHandler(conns,
		websocket.NewHandshakeLimiter(t.ConnectionsPerSecondPerIP, t.ConnectionBurstPerIP, clock),
		clock, wsMetrics, websocket.HandlerConfig{
			CheckOrigin:        websocket.NewCheckOrigin(cfg.AppURL, websocket.SplitOrigins(cfg.AllowedOrigins), cfg.IsDevelopment()),
			AllowQueryIdentity: cfg.IsDevelopment(),
			PongTimeout:        t.ConnectionTimeout(),
		})

	sched := setupScheduler(cfg, clock, reg, st, connPool, conns, queue, streamer, subs)
	sched.Start(context.Background())

	srv := httpserver.NewServer(cfg, httpserver.Services{
		Distributor:   distributor,
		Updates:       streamer,
		Messenger:     conns,
		Pool:          connPool,
		Subscriptions: subs,
		Mailbox:       queue,
	}, wsHandler, metrics.Handler(reg), metrics.NewHTTPMetrics(reg).Middleware(), st.healthChecks)

	done := runGracefulShutdown(srv, conns, sched)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
