// Command store-maintenance runs one cleanup pass against the Redis stores:
// expired mailbox entries are swept, topic streams are trimmed to the retention
// window and empty subscription index entries are removed.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/adapter/metrics"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/adapter/redis"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/app"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/mailbox"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/platform/config"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/platform/logging"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/stream"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/subscription"
)

const (
	leaseName = "cleanup"
	leaseTTL  = 10 * time.Minute
)

func main() {
	var (
		redisURL = flag.String("redis", os.Getenv("REDIS_URL"), "Redis URL (or set REDIS_URL env)")
		dryRun   = flag.Bool("dry-run", false, "Report store sizes without removing anything")
		force    = flag.Bool("force", false, "Run even if another instance holds the cleanup lease")
		verbose  = flag.Bool("verbose", false, "Verbose logging")
	)
	flag.Parse()

	if *redisURL == "" {
		log.Fatal("Redis URL required (--redis or REDIS_URL env)")
	}

	level := "info"
	if *verbose {
		level = "debug"
	}
	logging.InitLogger(level, "text")

	// Retention and mailbox limits come from the same settings the server uses.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	t := cfg.Tuning

	ctx := context.Background()
	reg := prometheus.NewRegistry()
	rdb, err := redis.NewClient(ctx, *redisURL, metrics.NewRedisMetrics(reg))
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer func() { _ = rdb.Close() }()
	slog.Info("Connected to Redis", "url", sanitizeURL(*redisURL))

	clock := clockwork.NewRealClock()
	updates := redis.NewUpdateStore(rdb)
	queue := mailbox.NewQueue(redis.NewMailboxStore(rdb), mailbox.Config{
		MaxSize:    t.MailboxMaxSize,
		DefaultTTL: t.MailboxDefaultTTL(),
	}, clock, metrics.NewMailboxMetrics(reg))
	streamer := stream.NewStreamer(updates, stream.Config{
		RateLimitPerSecond: t.PerTopicRateLimitPerSecond,
		MaxLength:          t.StreamMaxLength,
		Retention:          t.StreamRetention(),
	}, clock, metrics.NewStreamMetrics(reg))
	subs := subscription.NewManager(redis.NewSubscriptionStore(rdb))

	if *dryRun {
		if err := report(ctx, updates, queue, subs); err != nil {
			log.Fatalf("Report failed: %v", err)
		}
		return
	}

	lease := redis.NewLease(rdb, leaseName, "store-maintenance-"+uuid.NewString(), leaseTTL)
	if !acquire(ctx, lease, *force) {
		os.Exit(1)
	}
	defer func() {
		if err := lease.Release(ctx); err != nil {
			slog.Warn("Failed to release cleanup lease", "error", err)
		}
	}()

	start := time.Now()
	if err := app.CleanupJob(queue, streamer, subs)(ctx); err != nil {
		slog.Error("Maintenance incomplete", "error", err, "duration_ms", time.Since(start).Milliseconds())
		os.Exit(1)
	}
	slog.Info("Maintenance complete", "duration_ms", time.Since(start).Milliseconds())
}

func acquire(ctx context.Context, lease *redis.Lease, force bool) bool {
	ok, err := lease.Acquire(ctx)
	if err != nil {
		slog.Error("Failed to acquire cleanup lease", "error", err)
		return false
	}
	if ok {
		return true
	}

	holder, _ := lease.Holder(ctx)
	if force {
		slog.Warn("Cleanup lease held by another instance, continuing because of --force", "holder", holder)
		return true
	}
	slog.Error("Cleanup lease held by another instance, rerun with --force to override", "holder", holder)
	return false
}

type topicLister interface {
	UpdateTopics(ctx context.Context) ([]string, error)
}

func report(ctx context.Context, updates topicLister, queue *mailbox.Queue, subs *subscription.Manager) error {
	topics, err := updates.UpdateTopics(ctx)
	if err != nil {
		return err
	}
	mb := queue.GlobalStats(ctx)
	st, err := subs.Stats(ctx)
	if err != nil {
		return err
	}

	slog.Info("Store report",
		"stream_topics", len(topics),
		"mailboxes", mb.TotalMailboxes,
		"queued_messages", mb.TotalMessages,
		"subscribed_topics", st.TotalTopics,
		"subscribed_users", st.TotalUsers,
		"subscriptions", st.TotalSubscriptions)
	return nil
}

// sanitizeURL hides the password of a Redis URL for logging.
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable>"
	}
	return u.Redacted()
}
