package metrics

import "github.com/prometheus/client_golang/prometheus"

// StreamMetrics holds Prometheus metrics for market-data ingestion.
type StreamMetrics struct {
	Accepted      prometheus.Counter
	Rejected      *prometheus.CounterVec
	IngestLatency prometheus.Histogram
	Trimmed       prometheus.Counter
}

// NewStreamMetrics creates and registers ingestion metrics on the given registry.
func NewStreamMetrics(reg prometheus.Registerer) *StreamMetrics {
	m := &StreamMetrics{
		Accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "updates_accepted_total",
			Help:      "Total number of accepted market-data updates.",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "updates_rejected_total",
			Help:      "Total number of rejected market-data updates, by reason.",
		}, []string{"reason"}),
		IngestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "ingest_latency_seconds",
			Help:      "Delay between an update's source timestamp and its acceptance.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		Trimmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "entries_trimmed_total",
			Help:      "Total number of stream entries removed by retention cleanup.",
		}),
	}

	reg.MustRegister(m.Accepted, m.Rejected, m.IngestLatency, m.Trimmed)
	return m
}

// MailboxMetrics holds Prometheus metrics for offline mailboxes.
type MailboxMetrics struct {
	Enqueued  *prometheus.CounterVec
	Evicted   prometheus.Counter
	Expired   prometheus.Counter
	Malformed prometheus.Counter
	Drained   prometheus.Counter
}

// NewMailboxMetrics creates and registers mailbox metrics on the given registry.
func NewMailboxMetrics(reg prometheus.Registerer) *MailboxMetrics {
	m := &MailboxMetrics{
		Enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mailbox",
			Name:      "messages_enqueued_total",
			Help:      "Total number of messages queued for offline users, by priority.",
		}, []string{"priority"}),
		Evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mailbox",
			Name:      "messages_evicted_total",
			Help:      "Total number of queued messages dropped because a mailbox was full.",
		}),
		Expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mailbox",
			Name:      "messages_expired_total",
			Help:      "Total number of queued messages removed after expiry.",
		}),
		Malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mailbox",
			Name:      "messages_malformed_total",
			Help:      "Total number of undecodable mailbox entries removed.",
		}),
		Drained: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mailbox",
			Name:      "messages_drained_total",
			Help:      "Total number of queued messages read for delivery.",
		}),
	}

	reg.MustRegister(m.Enqueued, m.Evicted, m.Expired, m.Malformed, m.Drained)
	return m
}

// PoolSnapshot is the subset of pool state exported as gauges.
type PoolSnapshot struct {
	Active             int64
	Users              int64
	Created            int64
	Destroyed          int64
	FailedHealthChecks int64
	LoadBalanceEvents  int64
}

// RegisterPoolGauges exports pool state through collectors evaluated at scrape time.
func RegisterPoolGauges(reg prometheus.Registerer, snapshot func() PoolSnapshot) {
	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: namespace, Subsystem: "pool", Name: name, Help: help}
	}
	gauge := func(name, help string, value func(PoolSnapshot) int64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts(opts(name, help)),
			func() float64 { return float64(value(snapshot())) })
	}
	counter := func(name, help string, value func(PoolSnapshot) int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts(opts(name, help)),
			func() float64 { return float64(value(snapshot())) })
	}

	reg.MustRegister(
		gauge("active_connections", "Connections currently admitted by the pool.", func(s PoolSnapshot) int64 { return s.Active }),
		gauge("connected_users", "Users with at least one admitted connection.", func(s PoolSnapshot) int64 { return s.Users }),
		counter("connections_created_total", "Connections admitted since start.", func(s PoolSnapshot) int64 { return s.Created }),
		counter("connections_destroyed_total", "Connections released since start.", func(s PoolSnapshot) int64 { return s.Destroyed }),
		counter("failed_health_checks_total", "Failed health checks recorded since start.", func(s PoolSnapshot) int64 { return s.FailedHealthChecks }),
		counter("load_balance_events_total", "Load-balancing candidates detected since start.", func(s PoolSnapshot) int64 { return s.LoadBalanceEvents }),
	)
}

// SchedulerMetrics holds Prometheus metrics for background jobs.
type SchedulerMetrics struct {
	Runs     *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewSchedulerMetrics creates and registers background job metrics on the given registry.
func NewSchedulerMetrics(reg prometheus.Registerer) *SchedulerMetrics {
	m := &SchedulerMetrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Total number of background job ticks, by job and outcome.",
		}, []string{"job", "outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Duration of background job runs in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
	}

	reg.MustRegister(m.Runs, m.Duration)
	return m
}
