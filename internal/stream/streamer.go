// Package stream validates inbound market-data updates, enforces the per-topic
// rate ceiling and keeps a capped, time-bounded history per topic.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/adapter/metrics"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/domain"
)

const (
	defaultHistoryLimit = 100
	rateWindowSeconds   = 60
	dayLayout           = "2006-01-02"
)

type Config struct {
	RateLimitPerSecond int
	MaxLength          int
	Retention          time.Duration
}

type HistoryQuery struct {
	From  time.Time
	To    time.Time
	Limit int
}

type Stats struct {
	domain.StreamDayStats
	AverageLatencyMs float64 `json:"averageLatencyMs"`
}

type Streamer struct {
	store   domain.UpdateStore
	cfg     Config
	clock   clockwork.Clock
	metrics *metrics.StreamMetrics
	latest  singleflight.Group
}

func NewStreamer(store domain.UpdateStore, cfg Config, clock clockwork.Clock, m *metrics.StreamMetrics) *Streamer {
	return &Streamer{store: store, cfg: cfg, clock: clock, metrics: m}
}

// Accept reports whether the update was validated, admitted by the rate limiter
// and persisted.
func (s *Streamer) Accept(ctx context.Context, u domain.DataUpdate) bool {
	_, err := s.Ingest(ctx, u)
	return err == nil
}

// Ingest is Accept with the reason for a rejection. On success it returns the
// update as stored, with its receive and acceptance times filled in.
// Errors wrap ErrValidationRejected, ErrRateLimited or ErrStoreUnavailable.
func (s *Streamer) Ingest(ctx context.Context, u domain.DataUpdate) (domain.DataUpdate, error) {
	now := s.clock.Now().UTC()
	day := now.Format(dayLayout)
	if u.ReceivedAt.IsZero() {
		u.ReceivedAt = now
	}

	if err := Validate(u); err != nil {
		s.reject(ctx, day, u.Topic, domain.RejectValidation)
		slog.WarnContext(ctx, "Rejected invalid update", "topic", u.Topic, "source", u.Source, "error", err)
		return domain.DataUpdate{}, err
	}

	count, err := s.store.IncrWindow(ctx, u.Topic, now.Unix())
	if err != nil {
		slog.ErrorContext(ctx, "Rate window increment failed", "topic", u.Topic, "error", err)
		return domain.DataUpdate{}, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	if count > int64(s.cfg.RateLimitPerSecond) {
		s.reject(ctx, day, u.Topic, domain.RejectRateLimited)
		slog.DebugContext(ctx, "Rate limited update", "topic", u.Topic, "count", count)
		return domain.DataUpdate{}, fmt.Errorf("%w: topic %s exceeded %d updates per second",
			domain.ErrRateLimited, u.Topic, s.cfg.RateLimitPerSecond)
	}

	u.AcceptedAt = now
	data, err := json.Marshal(u)
	if err != nil {
		return domain.DataUpdate{}, fmt.Errorf("encode update: %w", err)
	}
	if _, err := s.store.AppendUpdate(ctx, u.Topic, string(data), int64(s.cfg.MaxLength), s.cfg.Retention); err != nil {
		slog.ErrorContext(ctx, "Failed to store update", "topic", u.Topic, "error", err)
		return domain.DataUpdate{}, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	latency := max(now.Sub(u.Timestamp), 0)
	if err := s.store.RecordAccepted(ctx, day, u.Topic, u.Source, latency); err != nil {
		slog.WarnContext(ctx, "Failed to record ingestion stats", "topic", u.Topic, "error", err)
	}
	s.metrics.Accepted.Inc()
	s.metrics.IngestLatency.Observe(latency.Seconds())

	return u, nil
}

// reject counts a refused update. Metrics carry the reason only; the per-topic
// breakdown lives in the day stats.
func (s *Streamer) reject(ctx context.Context, day, topic, reason string) {
	s.metrics.Rejected.WithLabelValues(reason).Inc()
	if err := s.store.RecordRejected(ctx, day, topic, reason); err != nil {
		slog.WarnContext(ctx, "Failed to record rejection", "topic", topic, "reason", reason, "error", err)
	}
}

// Validate checks the shape of an update. The returned error wraps ErrValidationRejected.
func Validate(u domain.DataUpdate) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", domain.ErrValidationRejected, fmt.Sprintf(format, args...))
	}

	switch {
	case u.Topic == "":
		return invalid("topic is required")
	case u.Source == "":
		return invalid("source is required")
	case !finite(u.Price) || u.Price <= 0:
		return invalid("price must be a positive number")
	case u.Volume != nil && (!finite(*u.Volume) || *u.Volume < 0):
		return invalid("volume must be a non-negative number")
	case u.High != nil && (!finite(*u.High) || *u.High <= 0):
		return invalid("high must be a positive number")
	case u.Low != nil && (!finite(*u.Low) || *u.Low <= 0):
		return invalid("low must be a positive number")
	case u.Timestamp.IsZero():
		return invalid("timestamp is required")
	case !u.Quality.Valid():
		return invalid("quality %q is not one of HIGH, MEDIUM, LOW", u.Quality)
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Latest returns the most recently accepted update of a topic. Concurrent calls
// for the same topic share one store read.
func (s *Streamer) Latest(ctx context.Context, topic string) (*domain.DataUpdate, bool) {
	v, err, _ := s.latest.Do(topic, func() (any, error) {
		entries, err := s.store.RangeUpdates(ctx, topic, time.Time{}, time.Time{}, 1)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			return nil, nil
		}
		return decode(entries[0])
	})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to read latest update", "topic", topic, "error", err)
		return nil, false
	}
	if v == nil {
		return nil, false
	}

	u := v.(domain.DataUpdate)
	return &u, true
}

// History returns accepted updates of a topic, newest first, bounded by acceptance time.
// The limit defaults to 100 and never exceeds the stream capacity.
func (s *Streamer) History(ctx context.Context, topic string, q HistoryQuery) []domain.DataUpdate {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, s.cfg.MaxLength)

	entries, err := s.store.RangeUpdates(ctx, topic, q.From, q.To, int64(limit))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to read update history", "topic", topic, "error", err)
		return []domain.DataUpdate{}
	}

	out := make([]domain.DataUpdate, 0, len(entries))
	for _, e := range entries {
		u, err := decode(e)
		if err != nil {
			slog.WarnContext(ctx, "Skipping undecodable stream entry", "topic", topic, "entry_id", e.ID, "error", err)
			continue
		}
		out = append(out, u)
	}
	return out
}

func decode(e domain.StreamEntry) (domain.DataUpdate, error) {
	var u domain.DataUpdate
	if err := json.Unmarshal([]byte(e.Data), &u); err != nil {
		return domain.DataUpdate{}, fmt.Errorf("decode entry %s: %w", e.ID, err)
	}
	if u.AcceptedAt.IsZero() {
		u.AcceptedAt = e.At
	}
	return u, nil
}

// Stats returns the ingestion counters of a UTC calendar day. A zero day means today.
func (s *Streamer) Stats(ctx context.Context, day time.Time) Stats {
	if day.IsZero() {
		day = s.clock.Now()
	}
	key := day.UTC().Format(dayLayout)

	raw, err := s.store.DayStats(ctx, key)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to read stream stats", "day", key, "error", err)
		return Stats{StreamDayStats: domain.StreamDayStats{Day: key}}
	}

	stats := Stats{StreamDayStats: raw}
	if raw.Accepted > 0 {
		stats.AverageLatencyMs = float64(raw.LatencyTotalMs) / float64(raw.Accepted)
	}
	return stats
}

// UpdatesPerSecond is the average inbound rate across all topics over the trailing minute.
func (s *Streamer) UpdatesPerSecond(ctx context.Context) float64 {
	now := s.clock.Now().Unix()
	windows := make([]int64, rateWindowSeconds)
	for i := range windows {
		windows[i] = now - int64(i)
	}

	total, err := s.store.WindowTotals(ctx, windows)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to read rate windows", "error", err)
		return 0
	}
	return float64(total) / rateWindowSeconds
}

// Cleanup trims entries older than the retention window from every topic stream.
func (s *Streamer) Cleanup(ctx context.Context) int64 {
	topics, err := s.store.UpdateTopics(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list stream topics", "error", err)
		return 0
	}

	cutoff := s.clock.Now().Add(-s.cfg.Retention)
	var trimmed int64
	var errs []error
	for _, topic := range topics {
		n, err := s.store.TrimUpdates(ctx, topic, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("trim %s: %w", topic, err))
			continue
		}
		trimmed += n
	}

	if err := errors.Join(errs...); err != nil {
		slog.WarnContext(ctx, "Stream cleanup incomplete", "error", err)
	}
	if trimmed > 0 {
		s.metrics.Trimmed.Add(float64(trimmed))
		slog.InfoContext(ctx, "Trimmed stream history", "entries", trimmed, "topics", len(topics))
	}
	return trimmed
}
