// Package pool tracks admitted connections, enforces the global and per-user
// connection ceilings and records per-connection health. It never terminates
// connections itself; scans only report what the owner of the transports should do.
package pool

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	// FailureThreshold is the number of consecutive failed health checks after
	// which a connection is reported as unhealthy.
	FailureThreshold = 3
	// HighLatencyThreshold marks a connection as a load-balancing candidate.
	HighLatencyThreshold = time.Second
)

type Config struct {
	MaxConnectionsPerUser int
	MaxGlobalConnections  int
	HealthCheckInterval   time.Duration
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	Reason  string
}

type Health struct {
	Latency       time.Duration `json:"latencyMs"`
	LastHeartbeat time.Time     `json:"lastHeartbeat"`
	Failures      int           `json:"consecutiveFailures"`
}

// Healthy reports whether the connection is below the failure threshold.
func (h Health) Healthy() bool {
	return h.Failures < FailureThreshold
}

type Metrics struct {
	Active             int64          `json:"activeConnections"`
	PerUser            map[string]int `json:"connectionsPerUser"`
	Created            int64          `json:"totalCreated"`
	Destroyed          int64          `json:"totalDestroyed"`
	FailedHealthChecks int64          `json:"failedHealthChecks"`
	LoadBalanceEvents  int64          `json:"loadBalancingEvents"`
}

type HealthReport struct {
	// Stale connections have not sent a heartbeat within the health interval.
	Stale []string
	// Unhealthy connections reached FailureThreshold consecutive failures.
	Unhealthy []string
}

type RebalanceCandidate struct {
	UserID       string
	ConnectionID string
	Latency      time.Duration
	Unhealthy    bool
}

type connection struct {
	userID string
	health Health
}

type Manager struct {
	cfg   Config
	clock clockwork.Clock

	active             atomic.Int64
	created            atomic.Int64
	destroyed          atomic.Int64
	failedHealthChecks atomic.Int64
	loadBalanceEvents  atomic.Int64

	mu          sync.Mutex
	connections map[string]*connection
	users       map[string]int
}

func NewManager(cfg Config, clock clockwork.Clock) *Manager {
	return &Manager{
		cfg:         cfg,
		clock:       clock,
		connections: make(map[string]*connection),
		users:       make(map[string]int),
	}
}

// CanAccept reports whether a new connection for userID would be admitted. No side effects.
func (m *Manager) CanAccept(userID string) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canAcceptLocked(userID)
}

func (m *Manager) canAcceptLocked(userID string) Decision {
	if m.active.Load() >= int64(m.cfg.MaxGlobalConnections) {
		return Decision{Reason: fmt.Sprintf("Global connection limit reached (%d)", m.cfg.MaxGlobalConnections)}
	}
	if m.users[userID] >= m.cfg.MaxConnectionsPerUser {
		return Decision{Reason: fmt.Sprintf("User connection limit reached (%d)", m.cfg.MaxConnectionsPerUser)}
	}
	return Decision{Allowed: true}
}

// Register records an admitted connection. Registering a known id is a no-op.
func (m *Manager) Register(connID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registerLocked(connID, userID)
}

// TryRegister checks admission and registers in one step, so concurrent
// handshakes cannot both take the last free slot.
func (m *Manager) TryRegister(connID, userID string) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.connections[connID]; exists {
		return Decision{Allowed: true}
	}
	d := m.canAcceptLocked(userID)
	if d.Allowed {
		m.registerLocked(connID, userID)
	}
	return d
}

func (m *Manager) registerLocked(connID, userID string) {
	if _, exists := m.connections[connID]; exists {
		return
	}
	m.connections[connID] = &connection{
		userID: userID,
		health: Health{LastHeartbeat: m.clock.Now()},
	}
	m.users[userID]++
	m.active.Add(1)
	m.created.Add(1)
}

// Unregister releases a connection. Unknown ids are ignored. The user recorded
// at registration wins over userID if they disagree.
func (m *Manager) Unregister(connID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.connections[connID]
	if !ok {
		return
	}
	if conn.userID != "" {
		userID = conn.userID
	}

	delete(m.connections, connID)
	if count := m.users[userID]; count <= 1 {
		delete(m.users, userID)
	} else {
		m.users[userID] = count - 1
	}
	m.active.Add(-1)
	m.destroyed.Add(1)
}

// UpdateHealth records a heartbeat outcome. A healthy result resets the failure
// streak; an unhealthy one extends it. Unknown ids are ignored.
func (m *Manager) UpdateHealth(connID string, latency time.Duration, healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.connections[connID]
	if !ok {
		return
	}

	if healthy {
		conn.health.Latency = latency
		conn.health.LastHeartbeat = m.clock.Now()
		conn.health.Failures = 0
		return
	}

	conn.health.Failures++
	m.failedHealthChecks.Add(1)
}

// HealthOf returns the health record of a registered connection.
func (m *Manager) HealthOf(connID string) (Health, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.connections[connID]
	if !ok {
		return Health{}, false
	}
	return conn.health, true
}

// DueForHealthCheck returns connections whose last heartbeat is older than the health interval.
func (m *Manager) DueForHealthCheck() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dueLocked(m.clock.Now())
}

func (m *Manager) dueLocked(now time.Time) []string {
	var ids []string
	for id, conn := range m.connections {
		if now.Sub(conn.health.LastHeartbeat) > m.cfg.HealthCheckInterval {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// UnhealthyConnections returns connections at or above the failure threshold.
func (m *Manager) UnhealthyConnections() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unhealthyLocked()
}

func (m *Manager) unhealthyLocked() []string {
	var ids []string
	for id, conn := range m.connections {
		if !conn.health.Healthy() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// CheckHealth is the periodic health scan.
func (m *Manager) CheckHealth() HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	return HealthReport{
		Stale:     m.dueLocked(m.clock.Now()),
		Unhealthy: m.unhealthyLocked(),
	}
}

// InspectLoadBalance finds connections of multi-connection users that are slow
// or unhealthy. Detection only; each candidate found is counted.
func (m *Manager) InspectLoadBalance() []RebalanceCandidate {
	m.mu.Lock()
	defer m.mu.Unlock()

	var candidates []RebalanceCandidate
	for id, conn := range m.connections {
		if m.users[conn.userID] < 2 {
			continue
		}
		slow := conn.health.Latency > HighLatencyThreshold
		unhealthy := !conn.health.Healthy()
		if !slow && !unhealthy {
			continue
		}
		candidates = append(candidates, RebalanceCandidate{
			UserID:       conn.userID,
			ConnectionID: id,
			Latency:      conn.health.Latency,
			Unhealthy:    unhealthy,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ConnectionID < candidates[j].ConnectionID
	})
	m.loadBalanceEvents.Add(int64(len(candidates)))
	return candidates
}

// Metrics returns a snapshot of the pool counters.
func (m *Manager) Metrics() Metrics {
	m.mu.Lock()
	perUser := make(map[string]int, len(m.users))
	for user, count := range m.users {
		perUser[user] = count
	}
	m.mu.Unlock()

	return Metrics{
		Active:             m.active.Load(),
		PerUser:            perUser,
		Created:            m.created.Load(),
		Destroyed:          m.destroyed.Load(),
		FailedHealthChecks: m.failedHealthChecks.Load(),
		LoadBalanceEvents:  m.loadBalanceEvents.Load(),
	}
}

// UserCount returns the number of registered connections for userID.
func (m *Manager) UserCount(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[userID]
}

// Active returns the number of registered connections.
func (m *Manager) Active() int64 {
	return m.active.Load()
}

// Reset drops every tracked connection. Lifetime counters are kept.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connections = make(map[string]*connection)
	m.users = make(map[string]int)
	m.active.Store(0)
}
