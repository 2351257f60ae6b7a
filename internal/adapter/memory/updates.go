package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/domain"
)

func (s *Store) IncrWindow(_ context.Context, topic string, window int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneWindowsLocked()

	key := windowKey{topic: topic, window: window}
	s.windows[key]++
	s.totals[window]++
	return s.windows[key], nil
}

func (s *Store) WindowTotals(_ context.Context, windows []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneWindowsLocked()

	var sum int64
	for _, w := range windows {
		sum += s.totals[w]
	}
	return sum, nil
}

func (s *Store) pruneWindowsLocked() {
	cutoff := s.clock.Now().Add(-windowTTL).Unix()
	for key := range s.windows {
		if key.window < cutoff {
			delete(s.windows, key)
		}
	}
	for w := range s.totals {
		if w < cutoff {
			delete(s.totals, w)
		}
	}
}

func (s *Store) AppendUpdate(_ context.Context, topic, data string, maxLen int64, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	st := s.liveStreamLocked(topic, now)
	if st == nil {
		st = &stream{}
		s.streams[topic] = st
	}

	ms := now.UnixMilli()
	if ms <= st.lastMs {
		ms = st.lastMs
		st.seq++
	} else {
		st.lastMs = ms
		st.seq = 0
	}

	id := fmt.Sprintf("%d-%d", ms, st.seq)
	st.entries = append(st.entries, streamEntry{id: id, at: time.UnixMilli(ms), data: data})
	if maxLen > 0 && int64(len(st.entries)) > maxLen {
		st.entries = append([]streamEntry(nil), st.entries[int64(len(st.entries))-maxLen:]...)
	}
	st.expiresAt = now.Add(ttl)
	return id, nil
}

func (s *Store) RangeUpdates(_ context.Context, topic string, from, to time.Time, limit int64) ([]domain.StreamEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.liveStreamLocked(topic, s.clock.Now())
	if st == nil {
		return nil, nil
	}

	var out []domain.StreamEntry
	for i := len(st.entries) - 1; i >= 0; i-- {
		e := st.entries[i]
		if !to.IsZero() && e.at.After(to) {
			continue
		}
		if !from.IsZero() && e.at.Before(from) {
			break
		}
		out = append(out, domain.StreamEntry{ID: e.id, At: e.at, Data: e.data})
		if limit > 0 && int64(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) TrimUpdates(_ context.Context, topic string, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.liveStreamLocked(topic, s.clock.Now())
	if st == nil {
		return 0, nil
	}

	keep := 0
	for keep < len(st.entries) && st.entries[keep].at.Before(before) {
		keep++
	}
	st.entries = append([]streamEntry(nil), st.entries[keep:]...)
	return int64(keep), nil
}

func (s *Store) UpdateTopics(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	set := make(map[string]struct{}, len(s.streams))
	for topic := range s.streams {
		if s.liveStreamLocked(topic, now) != nil {
			set[topic] = struct{}{}
		}
	}
	return sortedKeys(set), nil
}

// liveStreamLocked returns the topic stream, dropping it if its retention expired.
func (s *Store) liveStreamLocked(topic string, now time.Time) *stream {
	st, ok := s.streams[topic]
	if !ok {
		return nil
	}
	if !st.expiresAt.After(now) {
		delete(s.streams, topic)
		return nil
	}
	return st
}

func (s *Store) RecordAccepted(_ context.Context, day, topic, source string, latency time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.dayLocked(day)
	d.accepted++
	d.latencyMs += latency.Milliseconds()
	d.topics[topic] = struct{}{}
	d.sources[source] = struct{}{}
	return nil
}

func (s *Store) RecordRejected(_ context.Context, day, topic, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.dayLocked(day)
	if reason == domain.RejectRateLimited {
		d.rateLimited++
		return nil
	}
	d.errors++
	if topic != "" {
		d.topicErrors[topic]++
	}
	return nil
}

func (s *Store) DayStats(_ context.Context, day string) (domain.StreamDayStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneDaysLocked()

	stats := domain.StreamDayStats{Day: day}
	d, ok := s.days[day]
	if !ok {
		return stats, nil
	}
	stats.Accepted = d.accepted
	stats.DistinctTopics = int64(len(d.topics))
	stats.DistinctSources = int64(len(d.sources))
	stats.LatencyTotalMs = d.latencyMs
	stats.Errors = d.errors
	stats.RateLimited = d.rateLimited
	if len(d.topicErrors) > 0 {
		stats.TopicErrors = make(map[string]int64, len(d.topicErrors))
		for topic, n := range d.topicErrors {
			stats.TopicErrors[topic] = n
		}
	}
	return stats, nil
}

func (s *Store) dayLocked(day string) *dayCounters {
	s.pruneDaysLocked()

	d, ok := s.days[day]
	if !ok {
		d = &dayCounters{
			topicErrors: make(map[string]int64),
			topics:      make(map[string]struct{}),
			sources:     make(map[string]struct{}),
		}
		s.days[day] = d
	}
	return d
}

// pruneDaysLocked drops counters of days that ended more than statsTTL ago.
// Keys that are not dates are kept.
func (s *Store) pruneDaysLocked() {
	cutoff := s.clock.Now().UTC().Add(-statsTTL)
	for day := range s.days {
		start, err := time.Parse(time.DateOnly, day)
		if err != nil {
			continue
		}
		if start.AddDate(0, 0, 1).Before(cutoff) {
			delete(s.days, day)
		}
	}
}
