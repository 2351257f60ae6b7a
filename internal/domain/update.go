package domain

import (
	"context"
	"time"
)

type Quality string

const (
	QualityHigh   Quality = "HIGH"
	QualityMedium Quality = "MEDIUM"
	QualityLow    Quality = "LOW"
)

// Valid reports whether q is one of the known quality levels.
func (q Quality) Valid() bool {
	switch q {
	case QualityHigh, QualityMedium, QualityLow:
		return true
	default:
		return false
	}
}

// DataUpdate is a single market-data tick for a topic. Immutable once accepted.
type DataUpdate struct {
	Topic      string    `json:"topic"`
	Source     string    `json:"source"`
	Price      float64   `json:"price"`
	Volume     *float64  `json:"volume,omitempty"`
	High       *float64  `json:"high,omitempty"`
	Low        *float64  `json:"low,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Quality    Quality   `json:"quality"`
	ReceivedAt time.Time `json:"receivedAt,omitzero"`
	AcceptedAt time.Time `json:"acceptedAt,omitzero"`
}

// StreamEntry is one raw entry of a capped topic stream.
type StreamEntry struct {
	ID   string
	At   time.Time
	Data string
}

// StreamDayStats aggregates ingestion counters for one calendar day (UTC).
type StreamDayStats struct {
	Day             string `json:"day"`
	Accepted        int64  `json:"accepted"`
	DistinctTopics  int64  `json:"distinctTopics"`
	DistinctSources int64  `json:"distinctSources"`
	LatencyTotalMs  int64  `json:"latencyTotalMs"`
	Errors          int64  `json:"errors"`
	RateLimited     int64  `json:"rateLimited"`
	// TopicErrors counts validation rejections per topic. Updates rejected
	// before a topic could be read are only in Errors.
	TopicErrors map[string]int64 `json:"topicErrors,omitempty"`
}

// UpdateStore persists accepted updates, rate-limit windows and daily ingestion counters.
type UpdateStore interface {
	// IncrWindow increments the per-topic counter of the given unix-second window
	// and the all-topics counter of the same window. It returns the topic count.
	IncrWindow(ctx context.Context, topic string, window int64) (int64, error)
	// WindowTotals sums the all-topics counters of the given windows.
	WindowTotals(ctx context.Context, windows []int64) (int64, error)

	AppendUpdate(ctx context.Context, topic, data string, maxLen int64, ttl time.Duration) (string, error)
	// RangeUpdates returns entries newest first. Zero bounds are open.
	RangeUpdates(ctx context.Context, topic string, from, to time.Time, limit int64) ([]StreamEntry, error)
	TrimUpdates(ctx context.Context, topic string, before time.Time) (int64, error)
	UpdateTopics(ctx context.Context) ([]string, error)

	RecordAccepted(ctx context.Context, day, topic, source string, latency time.Duration) error
	RecordRejected(ctx context.Context, day, topic, reason string) error
	DayStats(ctx context.Context, day string) (StreamDayStats, error)
}

// Rejection reasons recorded by UpdateStore.RecordRejected.
const (
	RejectValidation  = "validation"
	RejectRateLimited = "rate_limited"
)

// Localize returns a copy with every instant expressed in loc.
func (u DataUpdate) Localize(loc *time.Location) any {
	u.Timestamp = u.Timestamp.In(loc)
	if !u.ReceivedAt.IsZero() {
		u.ReceivedAt = u.ReceivedAt.In(loc)
	}
	if !u.AcceptedAt.IsZero() {
		u.AcceptedAt = u.AcceptedAt.In(loc)
	}
	return u
}
