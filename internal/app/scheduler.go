package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/adapter/metrics"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/platform/correlation"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/pool"
)

// Lease grants exclusive execution of store-wide jobs across instances.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	interval time.Duration
	run      JobFunc
	leased   bool
	running  atomic.Bool
}

// Scheduler runs periodic jobs. A job never overlaps its own previous run; ticks
// that arrive while it is still running are skipped.
type Scheduler struct {
	clock   clockwork.Clock
	metrics *metrics.SchedulerMetrics
	lease   Lease

	jobs   []*job
	cancel context.CancelFunc
	loops  *errgroup.Group
	runs   sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewScheduler creates a scheduler. lease may be nil, in which case leased jobs
// always run.
func NewScheduler(clock clockwork.Clock, m *metrics.SchedulerMetrics, lease Lease) *Scheduler {
	return &Scheduler{clock: clock, metrics: m, lease: lease}
}

// Add registers a job. Jobs added after Start are ignored.
func (s *Scheduler) Add(name string, interval time.Duration, leased bool, run JobFunc) {
	s.jobs = append(s.jobs, &job{name: name, interval: interval, run: run, leased: leased})
}

func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		s.loops, ctx = errgroup.WithContext(ctx)

		for _, j := range s.jobs {
			ticker := s.clock.NewTicker(j.interval)
			s.loops.Go(func() error {
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.Chan():
						s.tick(ctx, j)
					}
				}
			})
			slog.Info("Background job started", "job", j.name, "interval", j.interval)
		}
	})
}

func (s *Scheduler) tick(ctx context.Context, j *job) {
	if !j.running.CompareAndSwap(false, true) {
		s.metrics.Runs.WithLabelValues(j.name, "skipped").Inc()
		slog.WarnContext(ctx, "Previous run still in progress, skipping tick", "job", j.name)
		return
	}

	s.runs.Go(func() {
		defer j.running.Store(false)
		tickCtx := correlation.WithID(ctx, correlation.NewID())
		s.execute(tickCtx, j)
	})
}

func (s *Scheduler) execute(ctx context.Context, j *job) {
	if j.leased && s.lease != nil {
		held, err := s.lease.Acquire(ctx)
		if err != nil {
			s.metrics.Runs.WithLabelValues(j.name, "error").Inc()
			slog.ErrorContext(ctx, "Lease acquisition failed", "job", j.name, "error", err)
			return
		}
		if !held {
			s.metrics.Runs.WithLabelValues(j.name, "standby").Inc()
			slog.DebugContext(ctx, "Another instance holds the job lease", "job", j.name)
			return
		}
	}

	start := s.clock.Now()
	err := j.run(ctx)
	s.metrics.Duration.WithLabelValues(j.name).Observe(s.clock.Since(start).Seconds())

	if err != nil {
		s.metrics.Runs.WithLabelValues(j.name, "error").Inc()
		slog.ErrorContext(ctx, "Background job failed", "job", j.name, "error", err)
		return
	}
	s.metrics.Runs.WithLabelValues(j.name, "success").Inc()
}

// Stop cancels all jobs and waits for in-flight runs to finish.
func (s *Scheduler) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		if s.cancel == nil {
			return
		}
		s.cancel()
		_ = s.loops.Wait()
		s.runs.Wait()

		if s.lease != nil {
			if err := s.lease.Release(ctx); err != nil {
				slog.WarnContext(ctx, "Failed to release job lease", "error", err)
			}
		}
		slog.InfoContext(ctx, "Background jobs stopped")
	})
}

type HealthScanner interface {
	CheckHealth() pool.HealthReport
}

type HealthFollowUp interface {
	HandleHealthReport(ctx context.Context, report pool.HealthReport)
}

// HealthCheckJob surfaces stale and unhealthy connections and lets the connection
// registry act on them.
func HealthCheckJob(p HealthScanner, conns HealthFollowUp) JobFunc {
	return func(ctx context.Context) error {
		report := p.CheckHealth()
		if len(report.Stale) > 0 || len(report.Unhealthy) > 0 {
			slog.InfoContext(ctx, "Health check", "stale", len(report.Stale), "unhealthy", len(report.Unhealthy))
		}
		conns.HandleHealthReport(ctx, report)
		return nil
	}
}

type LoadInspector interface {
	InspectLoadBalance() []pool.RebalanceCandidate
}

// LoadBalanceJob reports rebalancing candidates. It does not move connections.
func LoadBalanceJob(p LoadInspector) JobFunc {
	return func(ctx context.Context) error {
		for _, c := range p.InspectLoadBalance() {
			slog.InfoContext(ctx, "Load balancing candidate",
				"user_id", c.UserID, "connection_id", c.ConnectionID,
				"latency", c.Latency, "unhealthy", c.Unhealthy)
		}
		return nil
	}
}

type (
	MailboxSweeper interface {
		SweepExpired(ctx context.Context) int
	}
	StreamTrimmer interface {
		Cleanup(ctx context.Context) int64
	}
	IndexCompactor interface {
		Compact(ctx context.Context) (int, error)
	}
)

// CleanupJob removes expired mailbox entries, trims stream history and compacts
// subscription indexes.
func CleanupJob(mb MailboxSweeper, st StreamTrimmer, subs IndexCompactor) JobFunc {
	return func(ctx context.Context) error {
		swept := mb.SweepExpired(ctx)
		trimmed := st.Cleanup(ctx)
		compacted, err := subs.Compact(ctx)
		if err != nil {
			err = fmt.Errorf("compact subscriptions: %w", err)
		}

		slog.InfoContext(ctx, "Cleanup finished", "mailbox_entries", swept, "stream_entries", trimmed, "index_entries", compacted)
		return err
	}
}
