// Package subscription maintains which users follow which topics. Memberships
// are stored in both directions and survive disconnects.
package subscription

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/domain"
)

const topTopicsLimit = 10

type TopicCount struct {
	Topic       string `json:"topic"`
	Subscribers int64  `json:"subscribers"`
}

type Stats struct {
	TotalTopics        int          `json:"totalTopics"`
	TotalUsers         int          `json:"totalUsers"`
	TotalSubscriptions int64        `json:"totalSubscriptions"`
	TopTopics          []TopicCount `json:"topTopics"`
}

type Manager struct {
	store domain.SubscriptionStore
}

func NewManager(store domain.SubscriptionStore) *Manager {
	return &Manager{store: store}
}

// Subscribe adds userID to every topic. Both directions are written before it returns.
// It returns the normalized topic list that was applied.
func (m *Manager) Subscribe(ctx context.Context, userID string, topics []string) ([]string, error) {
	topics = Normalize(topics)
	if userID == "" || len(topics) == 0 {
		return topics, nil
	}

	if err := m.store.AddSubscriptions(ctx, userID, topics); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", userID, err)
	}
	slog.DebugContext(ctx, "User subscribed", "user_id", userID, "topics", topics)
	return topics, nil
}

// Unsubscribe removes userID from every topic. Topics the user never followed are ignored.
func (m *Manager) Unsubscribe(ctx context.Context, userID string, topics []string) ([]string, error) {
	topics = Normalize(topics)
	if userID == "" || len(topics) == 0 {
		return topics, nil
	}

	if err := m.store.RemoveSubscriptions(ctx, userID, topics); err != nil {
		return nil, fmt.Errorf("unsubscribe %s: %w", userID, err)
	}
	slog.DebugContext(ctx, "User unsubscribed", "user_id", userID, "topics", topics)
	return topics, nil
}

func (m *Manager) TopicsFor(ctx context.Context, userID string) ([]string, error) {
	topics, err := m.store.UserTopics(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("topics for %s: %w", userID, err)
	}
	slices.Sort(topics)
	return topics, nil
}

func (m *Manager) SubscribersOf(ctx context.Context, topic string) ([]string, error) {
	users, err := m.store.TopicUsers(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribers of %s: %w", topic, err)
	}
	slices.Sort(users)
	return users, nil
}

// DropUser removes every subscription of userID. A user with no topics causes no writes.
func (m *Manager) DropUser(ctx context.Context, userID string) error {
	topics, err := m.store.UserTopics(ctx, userID)
	if err != nil {
		return fmt.Errorf("drop user %s: %w", userID, err)
	}
	if len(topics) == 0 {
		return nil
	}

	if err := m.store.DropUser(ctx, userID, topics); err != nil {
		return fmt.Errorf("drop user %s: %w", userID, err)
	}
	slog.InfoContext(ctx, "Dropped user subscriptions", "user_id", userID, "topics", len(topics))
	return nil
}

func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	topics, err := m.store.IndexedTopics(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list topics: %w", err)
	}
	topicSizes, err := m.store.TopicSizes(ctx, topics)
	if err != nil {
		return Stats{}, fmt.Errorf("topic sizes: %w", err)
	}
	users, err := m.store.IndexedUsers(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list users: %w", err)
	}
	userSizes, err := m.store.UserSizes(ctx, users)
	if err != nil {
		return Stats{}, fmt.Errorf("user sizes: %w", err)
	}

	var stats Stats
	counts := make([]TopicCount, 0, len(topics))
	for i, topic := range topics {
		if topicSizes[i] == 0 {
			continue
		}
		stats.TotalTopics++
		stats.TotalSubscriptions += topicSizes[i]
		counts = append(counts, TopicCount{Topic: topic, Subscribers: topicSizes[i]})
	}
	for _, size := range userSizes {
		if size > 0 {
			stats.TotalUsers++
		}
	}

	slices.SortFunc(counts, func(a, b TopicCount) int {
		if c := cmp.Compare(b.Subscribers, a.Subscribers); c != 0 {
			return c
		}
		return cmp.Compare(a.Topic, b.Topic)
	})
	if len(counts) > topTopicsLimit {
		counts = counts[:topTopicsLimit]
	}
	stats.TopTopics = counts
	return stats, nil
}

// Compact removes index entries of topics and users that no longer have members.
// It returns how many index entries were removed.
func (m *Manager) Compact(ctx context.Context) (int, error) {
	topics, err := m.store.IndexedTopics(ctx)
	if err != nil {
		return 0, fmt.Errorf("list topics: %w", err)
	}
	topicSizes, err := m.store.TopicSizes(ctx, topics)
	if err != nil {
		return 0, fmt.Errorf("topic sizes: %w", err)
	}
	emptyTopics := empties(topics, topicSizes)
	if len(emptyTopics) > 0 {
		if err := m.store.UnindexTopics(ctx, emptyTopics); err != nil {
			return 0, fmt.Errorf("unindex topics: %w", err)
		}
	}

	users, err := m.store.IndexedUsers(ctx)
	if err != nil {
		return len(emptyTopics), fmt.Errorf("list users: %w", err)
	}
	userSizes, err := m.store.UserSizes(ctx, users)
	if err != nil {
		return len(emptyTopics), fmt.Errorf("user sizes: %w", err)
	}
	emptyUsers := empties(users, userSizes)
	if len(emptyUsers) > 0 {
		if err := m.store.UnindexUsers(ctx, emptyUsers); err != nil {
			return len(emptyTopics), fmt.Errorf("unindex users: %w", err)
		}
	}

	removed := len(emptyTopics) + len(emptyUsers)
	if removed > 0 {
		slog.InfoContext(ctx, "Compacted subscription indexes", "topics", len(emptyTopics), "users", len(emptyUsers))
	}
	return removed, nil
}

func empties(names []string, sizes []int64) []string {
	var out []string
	for i, name := range names {
		if sizes[i] == 0 {
			out = append(out, name)
		}
	}
	return out
}

// Normalize trims topic names, drops empty ones and removes duplicates, keeping first-seen order.
func Normalize(topics []string) []string {
	seen := make(map[string]struct{}, len(topics))
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
