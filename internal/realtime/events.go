package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/domain"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/platform/correlation"
)

const (
	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"
	EventHeartbeat   = "heartbeat"
)

// ClientEvent is a message sent by a client over its connection.
type ClientEvent struct {
	Type   string    `json:"type"`
	Topics []string  `json:"topics,omitempty"`
	SentAt time.Time `json:"timestamp,omitzero"`
}

// HandleEvent applies a client event on behalf of the connection that sent it.
func (m *Manager) HandleEvent(ctx context.Context, connID string, ev ClientEvent) error {
	c, ok := m.Connection(connID)
	if !ok {
		return fmt.Errorf("%w: connection %s", domain.ErrNotFound, connID)
	}
	userID := c.Identity.UserID
	ctx = correlation.WithConnection(ctx, connID, userID)

	switch ev.Type {
	case EventSubscribe:
		return m.SubscribeTopics(ctx, userID, ev.Topics)
	case EventUnsubscribe:
		return m.UnsubscribeTopics(ctx, userID, ev.Topics)
	case EventHeartbeat:
		var latency time.Duration
		if !ev.SentAt.IsZero() {
			latency = m.clock.Since(ev.SentAt)
		}
		m.RecordHeartbeat(connID, latency)
		m.send(ctx, c, "heartbeat_ack", map[string]any{"serverTime": m.clock.Now().UTC()})
		return nil
	default:
		m.send(ctx, c, "error", map[string]string{"message": "Unknown event type: " + ev.Type})
		return fmt.Errorf("%w: unknown event type %q", domain.ErrValidationRejected, ev.Type)
	}
}
