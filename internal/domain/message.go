package domain

import (
	"context"
	"encoding/json"
	"time"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank orders priorities; higher ranks are delivered first. Unknown priorities rank as normal.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	default:
		return false
	}
}

// QueuedMessage is a mailbox entry waiting for its recipient to reconnect.
type QueuedMessage struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Priority   Priority        `json:"priority"`
	Timestamp  time.Time       `json:"timestamp"`
	ExpiresAt  time.Time       `json:"expiresAt"`
	RetryCount int             `json:"retryCount"`
	MaxRetries int             `json:"maxRetries"`
}

// Expired reports whether the message is past its expiry at now.
func (m QueuedMessage) Expired(now time.Time) bool {
	return !m.ExpiresAt.After(now)
}

// MailboxStore persists per-user mailboxes as ordered lists of serialized messages.
type MailboxStore interface {
	// PushMessage appends raw to the user's mailbox. When the mailbox already holds
	// maxSize entries the oldest ones are evicted first. The mailbox expiry is extended
	// to at least ttl. Returns the number of evicted entries.
	PushMessage(ctx context.Context, userID, raw string, maxSize int, ttl time.Duration) (int64, error)
	Messages(ctx context.Context, userID string) ([]string, error)
	// RemoveMessages removes the given raw entries and deletes the mailbox once empty.
	// Returns the number of entries left.
	RemoveMessages(ctx context.Context, userID string, raws []string) (int64, error)
	DeleteMailbox(ctx context.Context, userID string) error
	MailboxSize(ctx context.Context, userID string) (int64, error)
	Mailboxes(ctx context.Context) ([]string, error)
}
