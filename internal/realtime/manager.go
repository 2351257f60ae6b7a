// Package realtime owns the registry of live client connections: admission,
// rooms, per-user delivery with offline fallback, health follow-up and shutdown.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/adapter/metrics"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/domain"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/mailbox"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/platform/correlation"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/pool"
)

const (
	userGroupPrefix     = "user:"
	timezoneGroupPrefix = "tz:"
	topicGroupPrefix    = "topic:"

	shutdownMessage = "Server is shutting down. Please reconnect shortly."
)

type Admission interface {
	TryRegister(connID, userID string) pool.Decision
	Unregister(connID, userID string)
	UpdateHealth(connID string, latency time.Duration, healthy bool)
	Reset()
}

type Subscriptions interface {
	Subscribe(ctx context.Context, userID string, topics []string) ([]string, error)
	Unsubscribe(ctx context.Context, userID string, topics []string) ([]string, error)
	TopicsFor(ctx context.Context, userID string) ([]string, error)
	DropUser(ctx context.Context, userID string) error
}

type Mailbox interface {
	Enqueue(ctx context.Context, userID, msgType string, payload any, opts mailbox.EnqueueOptions) (domain.QueuedMessage, error)
	Drain(ctx context.Context, userID string) []domain.QueuedMessage
	RemoveByIDs(ctx context.Context, userID string, ids []string) error
	Clear(ctx context.Context, userID string) error
}

type Config struct {
	ShutdownGrace time.Duration
}

type Stats struct {
	Connections int            `json:"connections"`
	Users       int            `json:"users"`
	Groups      map[string]int `json:"groups"`
}

type Manager struct {
	pool    Admission
	subs    Subscriptions
	mailbox Mailbox
	clock   clockwork.Clock
	metrics *metrics.WebSocketMetrics
	cfg     Config

	mu     sync.RWMutex
	conns  map[string]*Connection
	users  map[string]map[string]*Connection
	groups map[string]map[string]*Connection

	closing   atomic.Bool
	drained   chan struct{}
	drainOnce sync.Once
}

func NewManager(p Admission, subs Subscriptions, mb Mailbox, clock clockwork.Clock, m *metrics.WebSocketMetrics, cfg Config) *Manager {
	return &Manager{
		pool:    p,
		subs:    subs,
		mailbox: mb,
		clock:   clock,
		metrics: m,
		cfg:     cfg,
		conns:   make(map[string]*Connection),
		users:   make(map[string]map[string]*Connection),
		groups:  make(map[string]map[string]*Connection),
		drained: make(chan struct{}),
	}
}

// Register admits a transport for the given identity. On rejection the transport is
// closed and the error wraps domain.ErrAdmissionRejected. The first connection of a
// user receives the user's queued messages.
func (m *Manager) Register(ctx context.Context, conn Conn, identity domain.Identity) (*Connection, error) {
	c := newConnection(uuid.NewString(), identity, conn, m.clock.Now())
	ctx = correlation.WithConnection(ctx, c.ID, identity.UserID)

	if m.closing.Load() {
		m.reject(ctx, c, "shutdown", "Server is shutting down")
		return nil, fmt.Errorf("%w: server is shutting down", domain.ErrConnectionClosed)
	}
	if strings.TrimSpace(identity.UserID) == "" {
		m.reject(ctx, c, "unauthenticated", "Authentication required")
		return nil, fmt.Errorf("%w: missing user identity", domain.ErrAdmissionRejected)
	}
	c.setState(StateAuthenticated)

	decision := m.pool.TryRegister(c.ID, identity.UserID)
	if !decision.Allowed {
		m.reject(ctx, c, rejectionLabel(decision.Reason), decision.Reason)
		return nil, fmt.Errorf("%w: %s", domain.ErrAdmissionRejected, decision.Reason)
	}

	topics, err := m.subs.TopicsFor(ctx, identity.UserID)
	if err != nil {
		slog.WarnContext(ctx, "Could not restore topic subscriptions", "error", err)
	}

	m.mu.Lock()
	if !c.activate() {
		m.mu.Unlock()
		m.pool.Unregister(c.ID, identity.UserID)
		c.conn.Close("Connection closed")
		return nil, fmt.Errorf("%w: closed during registration", domain.ErrConnectionClosed)
	}
	m.conns[c.ID] = c
	userConns, ok := m.users[identity.UserID]
	if !ok {
		userConns = make(map[string]*Connection)
		m.users[identity.UserID] = userConns
	}
	userConns[c.ID] = c
	first := len(userConns) == 1
	m.joinLocked(c, userGroupPrefix+identity.UserID)
	m.joinLocked(c, timezoneGroupPrefix+c.Identity.Timezone)
	for _, topic := range topics {
		m.joinLocked(c, topicGroupPrefix+topic)
	}
	m.mu.Unlock()

	slog.InfoContext(ctx, "Client connected", "timezone", c.Identity.Timezone, "topics", len(topics), "first_connection", first)

	m.send(ctx, c, "connection_established", map[string]any{
		"id":         c.ID,
		"timezone":   c.Identity.Timezone,
		"serverTime": m.clock.Now().UTC(),
	})

	if first {
		m.deliverQueued(ctx, c)
	}
	return c, nil
}

func (m *Manager) reject(ctx context.Context, c *Connection, label, reason string) {
	c.setState(StateRejected)
	m.metrics.HandshakeRejections.WithLabelValues(label).Inc()
	slog.WarnContext(ctx, "Connection rejected", "reason", reason)
	c.conn.Close(reason)
}

func rejectionLabel(reason string) string {
	switch {
	case strings.HasPrefix(reason, "Global"):
		return "global_limit"
	case strings.HasPrefix(reason, "User"):
		return "user_limit"
	default:
		return "admission"
	}
}

// deliverQueued hands the user's mailbox to c, waiting for buffer space when the
// transport supports it. Only messages the transport accepted are removed; the rest
// stay queued for the next first connection.
func (m *Manager) deliverQueued(ctx context.Context, c *Connection) {
	msgs := m.mailbox.Drain(ctx, c.Identity.UserID)
	if len(msgs) == 0 {
		return
	}

	send := c.conn.Send
	if paced, ok := c.conn.(PacedConn); ok {
		send = func(msg Message) error { return paced.SendWait(ctx, msg) }
	}

	delivered := make([]string, 0, len(msgs))
	for _, qm := range msgs {
		msg := c.localized(qm.Type, qm.Payload, m.clock.Now())
		msg.Timestamp = qm.Timestamp
		if err := send(msg); err != nil {
			m.metrics.SendFailures.WithLabelValues("queued").Inc()
			slog.WarnContext(ctx, "Queued delivery interrupted", "delivered", len(delivered), "pending", len(msgs)-len(delivered), "error", err)
			break
		}
		delivered = append(delivered, qm.ID)
	}

	if err := m.mailbox.RemoveByIDs(ctx, c.Identity.UserID, delivered); err != nil {
		slog.ErrorContext(ctx, "Failed to remove delivered messages", "count", len(delivered), "error", err)
		return
	}
	slog.InfoContext(ctx, "Delivered queued messages", "count", len(delivered))
}

// Unregister removes a connection from every registry. Subscriptions are kept.
// Calling it more than once is harmless.
func (m *Manager) Unregister(connID string) {
	m.mu.Lock()
	c, ok := m.conns[connID]
	if !ok || !c.finish(StateDisconnected) {
		m.mu.Unlock()
		return
	}

	userID := c.Identity.UserID
	delete(m.conns, connID)
	if userConns := m.users[userID]; userConns != nil {
		delete(userConns, connID)
		if len(userConns) == 0 {
			delete(m.users, userID)
		}
	}
	for group := range c.groups {
		m.leaveLocked(c, group)
	}
	remaining := len(m.conns)
	m.mu.Unlock()

	m.pool.Unregister(connID, userID)
	slog.Info("Client disconnected", "connection_id", connID, "user_id", userID,
		"duration", m.clock.Since(c.ConnectedAt).Round(time.Second))

	if remaining == 0 && m.closing.Load() {
		m.drainOnce.Do(func() { close(m.drained) })
	}
}

// Disconnect closes the transport of a connection and unregisters it.
func (m *Manager) Disconnect(connID, reason string) {
	m.mu.RLock()
	c, ok := m.conns[connID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	c.conn.Close(reason)
	m.Unregister(connID)
}

func (m *Manager) joinLocked(c *Connection, group string) {
	members, ok := m.groups[group]
	if !ok {
		members = make(map[string]*Connection)
		m.groups[group] = members
	}
	members[c.ID] = c
	c.groups[group] = struct{}{}
}

func (m *Manager) leaveLocked(c *Connection, group string) {
	delete(c.groups, group)
	members, ok := m.groups[group]
	if !ok {
		return
	}
	delete(members, c.ID)
	if len(members) == 0 {
		delete(m.groups, group)
	}
}

// snapshot copies the members of a group so transports can be called without the lock.
func (m *Manager) snapshot(group string) []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members := m.groups[group]
	out := make([]*Connection, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

func (m *Manager) userConnections(userID string) []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	userConns := m.users[userID]
	out := make([]*Connection, 0, len(userConns))
	for _, c := range userConns {
		out = append(out, c)
	}
	return out
}

// IsOnline reports whether the user has at least one live connection.
func (m *Manager) IsOnline(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users[userID]) > 0
}

// Connection returns a registered connection by id.
func (m *Manager) Connection(connID string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[connID]
	return c, ok
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	groups := make(map[string]int, len(m.groups))
	for name, members := range m.groups {
		groups[name] = len(members)
	}
	return Stats{
		Connections: len(m.conns),
		Users:       len(m.users),
		Groups:      groups,
	}
}

// RecordHeartbeat marks a connection healthy with the measured round-trip latency.
func (m *Manager) RecordHeartbeat(connID string, latency time.Duration) {
	m.pool.UpdateHealth(connID, max(latency, 0), true)
}

// HandleHealthReport follows up on a pool health scan. Stale connections are pinged
// and charged a missed heartbeat; unhealthy ones are disconnected.
func (m *Manager) HandleHealthReport(ctx context.Context, report pool.HealthReport) {
	unhealthy := make(map[string]struct{}, len(report.Unhealthy))
	for _, id := range report.Unhealthy {
		unhealthy[id] = struct{}{}
	}

	for _, id := range report.Stale {
		if _, bad := unhealthy[id]; bad {
			continue
		}
		c, ok := m.Connection(id)
		if !ok {
			continue
		}
		m.pool.UpdateHealth(id, 0, false)
		if err := c.conn.Ping(); err != nil {
			slog.WarnContext(ctx, "Ping failed, closing connection", "connection_id", id, "error", err)
			m.Disconnect(id, "ping failed")
		}
	}

	for _, id := range report.Unhealthy {
		slog.WarnContext(ctx, "Closing unhealthy connection", "connection_id", id)
		m.Disconnect(id, "health check failed")
	}
}

// PurgeUser removes everything stored for a user account: queued messages and subscriptions.
// Live connections are left open.
func (m *Manager) PurgeUser(ctx context.Context, userID string) error {
	var errs []error
	if err := m.mailbox.Clear(ctx, userID); err != nil {
		errs = append(errs, err)
	}
	if err := m.subs.DropUser(ctx, userID); err != nil {
		errs = append(errs, err)
	}

	m.mu.Lock()
	for _, c := range m.users[userID] {
		for group := range c.groups {
			if strings.HasPrefix(group, topicGroupPrefix) {
				m.leaveLocked(c, group)
			}
		}
	}
	m.mu.Unlock()

	return errors.Join(errs...)
}

// Shutdown notifies every client, waits up to the grace period for them to leave
// and closes the rest. New registrations are refused from the first call on.
func (m *Manager) Shutdown(ctx context.Context) {
	if !m.closing.CompareAndSwap(false, true) {
		return
	}

	m.mu.RLock()
	all := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		all = append(all, c)
	}
	m.mu.RUnlock()

	slog.InfoContext(ctx, "Shutting down connections", "connections", len(all), "grace", m.cfg.ShutdownGrace)
	for _, c := range all {
		m.send(ctx, c, "server_shutdown", map[string]string{"message": shutdownMessage})
	}

	if len(all) > 0 && m.cfg.ShutdownGrace > 0 {
		timer := m.clock.NewTimer(m.cfg.ShutdownGrace)
		select {
		case <-m.drained:
		case <-timer.Chan():
		case <-ctx.Done():
		}
		timer.Stop()
	}

	m.mu.RLock()
	remaining := make([]string, 0, len(m.conns))
	for id := range m.conns {
		remaining = append(remaining, id)
	}
	m.mu.RUnlock()

	for _, id := range remaining {
		m.Disconnect(id, "server shutdown")
	}
	m.pool.Reset()
	slog.InfoContext(ctx, "Connection manager stopped", "force_closed", len(remaining))
}
