package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/domain"
)

const (
	// windowTTL keeps per-second rate windows around long enough to compute the trailing-minute rate.
	windowTTL = 61 * time.Second
	// statsTTL keeps a week of daily ingestion counters plus a day of slack.
	statsTTL = 8 * 24 * time.Hour

	rateTopicPrefix  = "rate:topic:"
	rateAllPrefix    = "rate:all:"
	streamDataField  = "data"
	streamKeyPrefix  = "stream:"
	statsKeyPrefix   = "stream:stats:"
	statAccepted     = "accepted"
	statLatencyMs    = "latency_ms"
	statErrors       = "errors"
	statRateLimited  = "rate_limited"
	statTopicsSuffix = ":topics"
	statSourceSuffix = ":sources"
	statErrorsSuffix = ":errors"
)

type UpdateStore struct {
	rdb *goredis.Client
}

var _ domain.UpdateStore = (*UpdateStore)(nil)

func NewUpdateStore(rdb *goredis.Client) *UpdateStore {
	return &UpdateStore{rdb: rdb}
}

func (s *UpdateStore) IncrWindow(ctx context.Context, topic string, window int64) (int64, error) {
	tk := rateKey(topic, window)
	ak := allTopicsRateKey(window)

	pipe := s.rdb.TxPipeline()
	topicCount := pipe.Incr(ctx, tk)
	pipe.Expire(ctx, tk, windowTTL)
	pipe.Incr(ctx, ak)
	pipe.Expire(ctx, ak, windowTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("increment rate window: %w", err)
	}
	return topicCount.Val(), nil
}

func (s *UpdateStore) WindowTotals(ctx context.Context, windows []int64) (int64, error) {
	if len(windows) == 0 {
		return 0, nil
	}
	keys := make([]string, len(windows))
	for i, w := range windows {
		keys[i] = allTopicsRateKey(w)
	}

	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("read rate windows: %w", err)
	}

	var sum int64
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			continue
		}
		sum += n
	}
	return sum, nil
}

func (s *UpdateStore) AppendUpdate(ctx context.Context, topic, data string, maxLen int64, ttl time.Duration) (string, error) {
	sk := streamKey(topic)

	pipe := s.rdb.TxPipeline()
	add := pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: sk,
		MaxLen: maxLen,
		Values: map[string]any{streamDataField: data},
	})
	pipe.Expire(ctx, sk, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("append update: %w", err)
	}
	return add.Val(), nil
}

func (s *UpdateStore) RangeUpdates(ctx context.Context, topic string, from, to time.Time, limit int64) ([]domain.StreamEntry, error) {
	start, end := "-", "+"
	if !from.IsZero() {
		start = strconv.FormatInt(from.UnixMilli(), 10)
	}
	if !to.IsZero() {
		end = strconv.FormatInt(to.UnixMilli(), 10)
	}

	var (
		msgs []goredis.XMessage
		err  error
	)
	if limit > 0 {
		msgs, err = s.rdb.XRevRangeN(ctx, streamKey(topic), end, start, limit).Result()
	} else {
		msgs, err = s.rdb.XRevRange(ctx, streamKey(topic), end, start).Result()
	}
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("range updates: %w", err)
	}

	out := make([]domain.StreamEntry, 0, len(msgs))
	for _, msg := range msgs {
		data, ok := msg.Values[streamDataField].(string)
		if !ok {
			continue
		}
		out = append(out, domain.StreamEntry{ID: msg.ID, At: entryTime(msg.ID), Data: data})
	}
	return out, nil
}

func (s *UpdateStore) TrimUpdates(ctx context.Context, topic string, before time.Time) (int64, error) {
	minID := strconv.FormatInt(before.UnixMilli(), 10)
	n, err := s.rdb.XTrimMinID(ctx, streamKey(topic), minID).Result()
	if err != nil {
		return 0, fmt.Errorf("trim updates: %w", err)
	}
	return n, nil
}

func (s *UpdateStore) UpdateTopics(ctx context.Context) ([]string, error) {
	return scanKeys(ctx, s.rdb, streamKeyPrefix, func(key string) bool {
		return strings.HasPrefix(key, statsKeyPrefix)
	})
}

func (s *UpdateStore) RecordAccepted(ctx context.Context, day, topic, source string, latency time.Duration) error {
	hk := statsKey(day)
	tk := hk + statTopicsSuffix
	sk := hk + statSourceSuffix

	pipe := s.rdb.TxPipeline()
	pipe.HIncrBy(ctx, hk, statAccepted, 1)
	pipe.HIncrBy(ctx, hk, statLatencyMs, latency.Milliseconds())
	pipe.SAdd(ctx, tk, topic)
	pipe.SAdd(ctx, sk, source)
	pipe.Expire(ctx, hk, statsTTL)
	pipe.Expire(ctx, tk, statsTTL)
	pipe.Expire(ctx, sk, statsTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record accepted update: %w", err)
	}
	return nil
}

func (s *UpdateStore) RecordRejected(ctx context.Context, day, topic, reason string) error {
	field := statErrors
	if reason == domain.RejectRateLimited {
		field = statRateLimited
	}

	hk := statsKey(day)
	pipe := s.rdb.TxPipeline()
	pipe.HIncrBy(ctx, hk, field, 1)
	pipe.Expire(ctx, hk, statsTTL)
	if field == statErrors && topic != "" {
		ek := hk + statErrorsSuffix
		pipe.HIncrBy(ctx, ek, topic, 1)
		pipe.Expire(ctx, ek, statsTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record rejected update: %w", err)
	}
	return nil
}

func (s *UpdateStore) DayStats(ctx context.Context, day string) (domain.StreamDayStats, error) {
	hk := statsKey(day)

	pipe := s.rdb.Pipeline()
	fields := pipe.HGetAll(ctx, hk)
	topics := pipe.SCard(ctx, hk+statTopicsSuffix)
	sources := pipe.SCard(ctx, hk+statSourceSuffix)
	topicErrors := pipe.HGetAll(ctx, hk+statErrorsSuffix)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return domain.StreamDayStats{}, fmt.Errorf("read day stats: %w", err)
	}

	vals := fields.Val()
	stats := domain.StreamDayStats{
		Day:             day,
		Accepted:        parseCounter(vals[statAccepted]),
		DistinctTopics:  topics.Val(),
		DistinctSources: sources.Val(),
		LatencyTotalMs:  parseCounter(vals[statLatencyMs]),
		Errors:          parseCounter(vals[statErrors]),
		RateLimited:     parseCounter(vals[statRateLimited]),
	}
	if perTopic := topicErrors.Val(); len(perTopic) > 0 {
		stats.TopicErrors = make(map[string]int64, len(perTopic))
		for topic, n := range perTopic {
			stats.TopicErrors[topic] = parseCounter(n)
		}
	}
	return stats, nil
}

func parseCounter(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

// entryTime extracts the millisecond timestamp part of a stream entry id.
func entryTime(id string) time.Time {
	ms, _, _ := strings.Cut(id, "-")
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(n)
}

func rateKey(topic string, window int64) string {
	return rateTopicPrefix + topic + ":" + strconv.FormatInt(window, 10)
}

func allTopicsRateKey(window int64) string {
	return rateAllPrefix + strconv.FormatInt(window, 10)
}

func streamKey(topic string) string {
	return streamKeyPrefix + topic
}

func statsKey(day string) string {
	return statsKeyPrefix + day
}
