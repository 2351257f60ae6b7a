package redis

import (
	"context"
	"fmt"
	"sort"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/domain"
)

const (
	topicIndexKey = "sub:topics"
	userIndexKey  = "sub:users"
)

// SubscriptionStore keeps sub:topic:<topic> and sub:user:<user> mirrored. Both
// directions of a change go out in one MULTI/EXEC.
type SubscriptionStore struct {
	rdb *goredis.Client
}

var _ domain.SubscriptionStore = (*SubscriptionStore)(nil)

func NewSubscriptionStore(rdb *goredis.Client) *SubscriptionStore {
	return &SubscriptionStore{rdb: rdb}
}

func (s *SubscriptionStore) AddSubscriptions(ctx context.Context, userID string, topics []string) error {
	if len(topics) == 0 {
		return nil
	}

	pipe := s.rdb.TxPipeline()
	for _, topic := range topics {
		pipe.SAdd(ctx, topicSubsKey(topic), userID)
	}
	pipe.SAdd(ctx, userSubsKey(userID), toArgs(topics)...)
	pipe.SAdd(ctx, topicIndexKey, toArgs(topics)...)
	pipe.SAdd(ctx, userIndexKey, userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("add subscriptions: %w", err)
	}
	return nil
}

func (s *SubscriptionStore) RemoveSubscriptions(ctx context.Context, userID string, topics []string) error {
	if len(topics) == 0 {
		return nil
	}

	pipe := s.rdb.TxPipeline()
	for _, topic := range topics {
		pipe.SRem(ctx, topicSubsKey(topic), userID)
	}
	pipe.SRem(ctx, userSubsKey(userID), toArgs(topics)...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove subscriptions: %w", err)
	}
	return nil
}

func (s *SubscriptionStore) UserTopics(ctx context.Context, userID string) ([]string, error) {
	return s.members(ctx, userSubsKey(userID))
}

func (s *SubscriptionStore) TopicUsers(ctx context.Context, topic string) ([]string, error) {
	return s.members(ctx, topicSubsKey(topic))
}

func (s *SubscriptionStore) DropUser(ctx context.Context, userID string, topics []string) error {
	pipe := s.rdb.TxPipeline()
	for _, topic := range topics {
		pipe.SRem(ctx, topicSubsKey(topic), userID)
	}
	pipe.Del(ctx, userSubsKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("drop user subscriptions: %w", err)
	}
	return nil
}

func (s *SubscriptionStore) IndexedTopics(ctx context.Context) ([]string, error) {
	return s.members(ctx, topicIndexKey)
}

func (s *SubscriptionStore) IndexedUsers(ctx context.Context) ([]string, error) {
	return s.members(ctx, userIndexKey)
}

func (s *SubscriptionStore) TopicSizes(ctx context.Context, topics []string) ([]int64, error) {
	return s.cardinalities(ctx, topics, topicSubsKey)
}

func (s *SubscriptionStore) UserSizes(ctx context.Context, users []string) ([]int64, error) {
	return s.cardinalities(ctx, users, userSubsKey)
}

func (s *SubscriptionStore) UnindexTopics(ctx context.Context, topics []string) error {
	return s.unindex(ctx, topicIndexKey, topics)
}

func (s *SubscriptionStore) UnindexUsers(ctx context.Context, users []string) error {
	return s.unindex(ctx, userIndexKey, users)
}

func (s *SubscriptionStore) members(ctx context.Context, key string) ([]string, error) {
	out, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	sort.Strings(out)
	return out, nil
}

func (s *SubscriptionStore) cardinalities(ctx context.Context, names []string, key func(string) string) ([]int64, error) {
	if len(names) == 0 {
		return nil, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*goredis.IntCmd, len(names))
	for i, name := range names {
		cmds[i] = pipe.SCard(ctx, key(name))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("read subscription sizes: %w", err)
	}

	sizes := make([]int64, len(names))
	for i, cmd := range cmds {
		sizes[i] = cmd.Val()
	}
	return sizes, nil
}

func (s *SubscriptionStore) unindex(ctx context.Context, key string, names []string) error {
	if len(names) == 0 {
		return nil
	}
	if err := s.rdb.SRem(ctx, key, toArgs(names)...).Err(); err != nil {
		return fmt.Errorf("unindex %s: %w", key, err)
	}
	return nil
}

func toArgs(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func topicSubsKey(topic string) string {
	return "sub:topic:" + topic
}

func userSubsKey(userID string) string {
	return "sub:user:" + userID
}
