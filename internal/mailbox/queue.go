// Package mailbox queues messages for users who are offline and hands them
// back in priority order when they reconnect.
package mailbox

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/adapter/metrics"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/domain"
)

const (
	defaultMaxRetries = 3
	topTypesLimit     = 10
)

type Config struct {
	MaxSize    int
	DefaultTTL time.Duration
}

// EnqueueOptions tune a single message. Zero values select the defaults:
// normal priority, the configured TTL and three retries.
type EnqueueOptions struct {
	Priority   domain.Priority
	TTL        time.Duration
	MaxRetries int
}

type UserStats struct {
	Total      int                     `json:"totalMessages"`
	ByPriority map[domain.Priority]int `json:"messagesByPriority"`
	ByType     map[string]int          `json:"messagesByType"`
	Oldest     *time.Time              `json:"oldestMessage,omitempty"`
	Newest     *time.Time              `json:"newestMessage,omitempty"`
}

type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type GlobalStats struct {
	TotalMailboxes    int         `json:"totalQueues"`
	TotalMessages     int         `json:"totalMessages"`
	AveragePerMailbox float64     `json:"averageMessagesPerQueue"`
	TopTypes          []TypeCount `json:"topMessageTypes"`
}

type Queue struct {
	store   domain.MailboxStore
	cfg     Config
	clock   clockwork.Clock
	metrics *metrics.MailboxMetrics
}

func NewQueue(store domain.MailboxStore, cfg Config, clock clockwork.Clock, m *metrics.MailboxMetrics) *Queue {
	return &Queue{store: store, cfg: cfg, clock: clock, metrics: m}
}

// Enqueue appends a message to the user's mailbox. A full mailbox drops its oldest
// entry first. payload is encoded as JSON unless it already is a json.RawMessage.
func (q *Queue) Enqueue(ctx context.Context, userID, msgType string, payload any, opts EnqueueOptions) (domain.QueuedMessage, error) {
	if opts.Priority == "" {
		opts.Priority = domain.PriorityNormal
	}
	if !opts.Priority.Valid() {
		return domain.QueuedMessage{}, fmt.Errorf("%w: unknown priority %q", domain.ErrValidationRejected, opts.Priority)
	}
	if opts.TTL <= 0 {
		opts.TTL = q.cfg.DefaultTTL
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}

	body, err := encodePayload(payload)
	if err != nil {
		return domain.QueuedMessage{}, err
	}

	now := q.clock.Now().UTC()
	msg := domain.QueuedMessage{
		ID:         uuid.NewString(),
		Type:       msgType,
		Payload:    body,
		Priority:   opts.Priority,
		Timestamp:  now,
		ExpiresAt:  now.Add(opts.TTL),
		MaxRetries: opts.MaxRetries,
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return domain.QueuedMessage{}, fmt.Errorf("encode queued message: %w", err)
	}

	evicted, err := q.store.PushMessage(ctx, userID, string(raw), q.cfg.MaxSize, opts.TTL)
	if err != nil {
		return domain.QueuedMessage{}, fmt.Errorf("enqueue for %s: %w", userID, err)
	}

	q.metrics.Enqueued.WithLabelValues(string(msg.Priority)).Inc()
	if evicted > 0 {
		q.metrics.Evicted.Add(float64(evicted))
		slog.WarnContext(ctx, "Mailbox full, dropped oldest messages", "user_id", userID, "evicted", evicted)
	}
	slog.DebugContext(ctx, "Message queued", "user_id", userID, "message_id", msg.ID, "type", msgType, "priority", msg.Priority)
	return msg, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return nil, fmt.Errorf("%w: payload is not valid JSON", domain.ErrValidationRejected)
		}
		return raw, nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return body, nil
}

type entry struct {
	raw string
	msg domain.QueuedMessage
}

// load decodes a mailbox and physically removes expired or malformed entries.
// The count is of entries actually removed; a failed prune leaves them for the
// next pass and reports zero.
func (q *Queue) load(ctx context.Context, userID string) ([]entry, int, error) {
	raws, err := q.store.Messages(ctx, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("read mailbox %s: %w", userID, err)
	}

	now := q.clock.Now()
	live := make([]entry, 0, len(raws))
	var stale []string
	var expired, malformed int
	for _, raw := range raws {
		var msg domain.QueuedMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil || msg.ID == "" {
			stale = append(stale, raw)
			malformed++
			continue
		}
		if msg.Expired(now) {
			stale = append(stale, raw)
			expired++
			continue
		}
		live = append(live, entry{raw: raw, msg: msg})
	}

	if len(stale) == 0 {
		return live, 0, nil
	}
	if _, err := q.store.RemoveMessages(ctx, userID, stale); err != nil {
		slog.WarnContext(ctx, "Failed to prune mailbox", "user_id", userID, "stale", len(stale), "error", err)
		return live, 0, nil
	}
	q.metrics.Expired.Add(float64(expired))
	q.metrics.Malformed.Add(float64(malformed))
	return live, len(stale), nil
}

// Drain returns the user's live messages, highest priority first and oldest first
// within a priority. Messages stay queued until removed with RemoveByIDs or Clear.
func (q *Queue) Drain(ctx context.Context, userID string) []domain.QueuedMessage {
	live, _, err := q.load(ctx, userID)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to drain mailbox", "user_id", userID, "error", err)
		return nil
	}

	msgs := make([]domain.QueuedMessage, len(live))
	for i, e := range live {
		msgs[i] = e.msg
	}
	slices.SortStableFunc(msgs, func(a, b domain.QueuedMessage) int {
		if c := cmp.Compare(b.Priority.Rank(), a.Priority.Rank()); c != 0 {
			return c
		}
		return a.Timestamp.Compare(b.Timestamp)
	})

	q.metrics.Drained.Add(float64(len(msgs)))
	return msgs
}

func (q *Queue) Clear(ctx context.Context, userID string) error {
	if err := q.store.DeleteMailbox(ctx, userID); err != nil {
		return fmt.Errorf("clear mailbox %s: %w", userID, err)
	}
	return nil
}

// RemoveByIDs removes the messages with the given ids. The mailbox is deleted once empty.
func (q *Queue) RemoveByIDs(ctx context.Context, userID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	raws, err := q.store.Messages(ctx, userID)
	if err != nil {
		return fmt.Errorf("read mailbox %s: %w", userID, err)
	}

	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	var remove []string
	for _, raw := range raws {
		var msg domain.QueuedMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			continue
		}
		if _, ok := want[msg.ID]; ok {
			remove = append(remove, raw)
		}
	}
	if len(remove) == 0 {
		return nil
	}

	if _, err := q.store.RemoveMessages(ctx, userID, remove); err != nil {
		return fmt.Errorf("remove messages for %s: %w", userID, err)
	}
	return nil
}

func (q *Queue) Size(ctx context.Context, userID string) int {
	n, err := q.store.MailboxSize(ctx, userID)
	if err != nil {
		slog.WarnContext(ctx, "Failed to read mailbox size", "user_id", userID, "error", err)
		return 0
	}
	return int(n)
}

func (q *Queue) StatsFor(ctx context.Context, userID string) UserStats {
	stats := UserStats{
		ByPriority: make(map[domain.Priority]int),
		ByType:     make(map[string]int),
	}

	live, _, err := q.load(ctx, userID)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to read mailbox stats", "user_id", userID, "error", err)
		return stats
	}

	for _, e := range live {
		stats.Total++
		stats.ByPriority[e.msg.Priority]++
		stats.ByType[e.msg.Type]++

		ts := e.msg.Timestamp
		if stats.Oldest == nil || ts.Before(*stats.Oldest) {
			stats.Oldest = &ts
		}
		if stats.Newest == nil || ts.After(*stats.Newest) {
			stats.Newest = &ts
		}
	}
	return stats
}

func (q *Queue) GlobalStats(ctx context.Context) GlobalStats {
	users, err := q.store.Mailboxes(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list mailboxes", "error", err)
		return GlobalStats{TopTypes: []TypeCount{}}
	}

	var stats GlobalStats
	types := make(map[string]int)
	for _, userID := range users {
		live, _, err := q.load(ctx, userID)
		if err != nil {
			slog.WarnContext(ctx, "Skipping unreadable mailbox", "user_id", userID, "error", err)
			continue
		}
		if len(live) == 0 {
			continue
		}
		stats.TotalMailboxes++
		stats.TotalMessages += len(live)
		for _, e := range live {
			types[e.msg.Type]++
		}
	}

	if stats.TotalMailboxes > 0 {
		stats.AveragePerMailbox = float64(stats.TotalMessages) / float64(stats.TotalMailboxes)
	}

	stats.TopTypes = make([]TypeCount, 0, len(types))
	for t, n := range types {
		stats.TopTypes = append(stats.TopTypes, TypeCount{Type: t, Count: n})
	}
	slices.SortFunc(stats.TopTypes, func(a, b TypeCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Type, b.Type)
	})
	if len(stats.TopTypes) > topTypesLimit {
		stats.TopTypes = stats.TopTypes[:topTypesLimit]
	}
	return stats
}

// SweepExpired prunes expired and malformed entries from every mailbox and returns
// how many entries were removed.
func (q *Queue) SweepExpired(ctx context.Context) int {
	users, err := q.store.Mailboxes(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list mailboxes", "error", err)
		return 0
	}

	removed := 0
	var errs []error
	for _, userID := range users {
		_, n, err := q.load(ctx, userID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		removed += n
	}

	if err := errors.Join(errs...); err != nil {
		slog.WarnContext(ctx, "Mailbox sweep incomplete", "error", err)
	}
	if removed > 0 {
		slog.InfoContext(ctx, "Swept expired mailbox entries", "removed", removed, "mailboxes", len(users))
	}
	return removed
}
