package realtime

import (
	"context"
	"log/slog"

	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/mailbox"
)

// SendResult reports how a message for a user was handled. Success means a live
// connection took it; Queued means none did and the message went to the mailbox.
type SendResult struct {
	Success bool  `json:"success"`
	Queued  bool  `json:"queued"`
	Err     error `json:"-"`
}

func (m *Manager) send(ctx context.Context, c *Connection, msgType string, data any) bool {
	if err := c.conn.Send(c.localized(msgType, data, m.clock.Now())); err != nil {
		m.metrics.SendFailures.WithLabelValues("buffer").Inc()
		slog.WarnContext(ctx, "Send failed", "connection_id", c.ID, "type", msgType, "error", err)
		return false
	}
	return true
}

// SendToUser delivers to every live connection of the user, localized per connection.
// When none accepts the message it is queued with opts.
func (m *Manager) SendToUser(ctx context.Context, userID, msgType string, payload any, opts mailbox.EnqueueOptions) SendResult {
	delivered := 0
	for _, c := range m.userConnections(userID) {
		if m.send(ctx, c, msgType, payload) {
			delivered++
		}
	}
	if delivered > 0 {
		return SendResult{Success: true}
	}

	if _, err := m.mailbox.Enqueue(ctx, userID, msgType, payload, opts); err != nil {
		slog.ErrorContext(ctx, "Failed to queue message", "user_id", userID, "type", msgType, "error", err)
		return SendResult{Err: err}
	}
	return SendResult{Queued: true}
}

// Broadcast fans an event out to the topic's room as "<type>_update" and returns how
// many connections accepted it. Offline subscribers are not considered.
func (m *Manager) Broadcast(ctx context.Context, topic, msgType string, payload any) int {
	event := msgType + "_update"
	recipients := 0
	for _, c := range m.snapshot(topicGroupPrefix + topic) {
		if m.send(ctx, c, event, payload) {
			recipients++
		}
	}
	return recipients
}

// BroadcastToTimezone sends an event to every connection in the given timezone.
func (m *Manager) BroadcastToTimezone(ctx context.Context, timezone, msgType string, payload any) int {
	recipients := 0
	for _, c := range m.snapshot(timezoneGroupPrefix + timezone) {
		if m.send(ctx, c, msgType, payload) {
			recipients++
		}
	}
	return recipients
}

// SubscribeTopics stores the subscriptions and joins every live connection of the
// user to the topic rooms. The outcome is reported to the user's connections.
func (m *Manager) SubscribeTopics(ctx context.Context, userID string, topics []string) error {
	applied, err := m.subs.Subscribe(ctx, userID, topics)
	if err != nil {
		m.notifyUser(ctx, userID, "subscription_error", map[string]any{"action": EventSubscribe, "topics": topics, "error": "Failed to subscribe to topics"})
		return err
	}

	m.mu.Lock()
	for _, c := range m.users[userID] {
		for _, topic := range applied {
			m.joinLocked(c, topicGroupPrefix+topic)
		}
	}
	m.mu.Unlock()

	m.notifyUser(ctx, userID, "subscription_confirmed", map[string]any{"action": EventSubscribe, "topics": applied})
	return nil
}

// UnsubscribeTopics is the inverse of SubscribeTopics. Confirmations share the
// subscription events and carry the action that was applied.
func (m *Manager) UnsubscribeTopics(ctx context.Context, userID string, topics []string) error {
	applied, err := m.subs.Unsubscribe(ctx, userID, topics)
	if err != nil {
		m.notifyUser(ctx, userID, "subscription_error", map[string]any{"action": EventUnsubscribe, "topics": topics, "error": "Failed to unsubscribe from topics"})
		return err
	}

	m.mu.Lock()
	for _, c := range m.users[userID] {
		for _, topic := range applied {
			m.leaveLocked(c, topicGroupPrefix+topic)
		}
	}
	m.mu.Unlock()

	m.notifyUser(ctx, userID, "subscription_confirmed", map[string]any{"action": EventUnsubscribe, "topics": applied})
	return nil
}

func (m *Manager) notifyUser(ctx context.Context, userID, msgType string, data any) {
	for _, c := range m.userConnections(userID) {
		m.send(ctx, c, msgType, data)
	}
}
