package domain

import "context"

// SubscriptionStore persists the mirrored topic->users and user->topics sets.
// Add and remove apply both directions for every topic in one batch.
type SubscriptionStore interface {
	AddSubscriptions(ctx context.Context, userID string, topics []string) error
	RemoveSubscriptions(ctx context.Context, userID string, topics []string) error
	UserTopics(ctx context.Context, userID string) ([]string, error)
	TopicUsers(ctx context.Context, topic string) ([]string, error)
	// DropUser removes the user from each of topics, then deletes the user's own set.
	DropUser(ctx context.Context, userID string, topics []string) error

	IndexedTopics(ctx context.Context) ([]string, error)
	IndexedUsers(ctx context.Context) ([]string, error)
	TopicSizes(ctx context.Context, topics []string) ([]int64, error)
	UserSizes(ctx context.Context, users []string) ([]int64, error)
	UnindexTopics(ctx context.Context, topics []string) error
	UnindexUsers(ctx context.Context, users []string) error
}
