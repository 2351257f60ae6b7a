package pool

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(perUser, global int) (*Manager, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	m := NewManager(Config{
		MaxConnectionsPerUser: perUser,
		MaxGlobalConnections:  global,
		HealthCheckInterval:   30 * time.Second,
	}, clock)
	return m, clock
}

func TestCanAccept_PerUserLimit(t *testing.T) {
	m, _ := newTestManager(5, 100)

	for i := range 5 {
		require.True(t, m.CanAccept("user-1").Allowed)
		m.Register(fmt.Sprintf("c%d", i), "user-1")
	}

	d := m.CanAccept("user-1")
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "User")

	assert.True(t, m.CanAccept("user-2").Allowed)
}

func TestCanAccept_GlobalLimit(t *testing.T) {
	m, _ := newTestManager(5, 2)
	m.Register("a", "user-1")
	m.Register("b", "user-2")

	d := m.CanAccept("user-3")
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "Global")
}

func TestCanAccept_GlobalCheckedBeforeUser(t *testing.T) {
	m, _ := newTestManager(1, 1)
	m.Register("a", "user-1")

	d := m.CanAccept("user-1")
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "Global")
}

func TestCanAccept_NoSideEffects(t *testing.T) {
	m, _ := newTestManager(5, 10)

	m.CanAccept("user-1")
	m.CanAccept("user-1")

	assert.Equal(t, int64(0), m.Active())
	assert.Equal(t, 0, m.UserCount("user-1"))
}

func TestRegister_DuplicateIsNoop(t *testing.T) {
	m, _ := newTestManager(5, 10)
	m.Register("a", "user-1")
	m.Register("a", "user-1")

	assert.Equal(t, int64(1), m.Active())
	assert.Equal(t, 1, m.UserCount("user-1"))
	assert.Equal(t, int64(1), m.Metrics().Created)
}

func TestUnregister(t *testing.T) {
	m, _ := newTestManager(5, 10)
	m.Register("a", "user-1")
	m.Register("b", "user-1")

	m.Unregister("a", "user-1")
	assert.Equal(t, int64(1), m.Active())
	assert.Equal(t, 1, m.UserCount("user-1"))

	m.Unregister("b", "user-1")
	assert.Equal(t, int64(0), m.Active())
	_, present := m.Metrics().PerUser["user-1"]
	assert.False(t, present, "user entry must vanish at zero")

	m.Unregister("b", "user-1")
	assert.Equal(t, int64(0), m.Active(), "unknown id is ignored")
	assert.Equal(t, int64(2), m.Metrics().Destroyed)
}

func TestUnregister_UsesRecordedUser(t *testing.T) {
	m, _ := newTestManager(5, 10)
	m.Register("a", "user-1")

	m.Unregister("a", "someone-else")

	assert.Equal(t, 0, m.UserCount("user-1"))
	assert.Empty(t, m.Metrics().PerUser)
}

func TestTryRegister_ConcurrentLastSlot(t *testing.T) {
	m, _ := newTestManager(1, 1)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := range 20 {
		wg.Go(func() {
			if m.TryRegister(fmt.Sprintf("c%d", i), fmt.Sprintf("user-%d", i)).Allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		})
	}
	wg.Wait()

	assert.Equal(t, 1, admitted)
	assert.Equal(t, int64(1), m.Active())
}

func TestTryRegister_KnownIDAllowed(t *testing.T) {
	m, _ := newTestManager(1, 1)
	require.True(t, m.TryRegister("a", "user-1").Allowed)

	assert.True(t, m.TryRegister("a", "user-1").Allowed)
	assert.Equal(t, int64(1), m.Active())
}

func TestUpdateHealth(t *testing.T) {
	m, clock := newTestManager(5, 10)
	m.Register("a", "user-1")

	m.UpdateHealth("a", 0, false)
	m.UpdateHealth("a", 0, false)
	h, ok := m.HealthOf("a")
	require.True(t, ok)
	assert.Equal(t, 2, h.Failures)
	assert.True(t, h.Healthy())

	clock.Advance(time.Second)
	m.UpdateHealth("a", 40*time.Millisecond, true)
	h, _ = m.HealthOf("a")
	assert.Equal(t, 0, h.Failures)
	assert.Equal(t, 40*time.Millisecond, h.Latency)
	assert.Equal(t, clock.Now(), h.LastHeartbeat)

	m.UpdateHealth("missing", 0, false)
	assert.Equal(t, int64(2), m.Metrics().FailedHealthChecks)
}

func TestCheckHealth(t *testing.T) {
	m, clock := newTestManager(5, 10)
	m.Register("fresh", "user-1")
	m.Register("old", "user-2")
	m.Register("broken", "user-3")

	for range FailureThreshold {
		m.UpdateHealth("broken", 0, false)
	}

	clock.Advance(31 * time.Second)
	m.UpdateHealth("fresh", 10*time.Millisecond, true)

	report := m.CheckHealth()
	assert.Equal(t, []string{"broken", "old"}, report.Stale)
	assert.Equal(t, []string{"broken"}, report.Unhealthy)
	assert.Equal(t, report.Unhealthy, m.UnhealthyConnections())
	assert.Equal(t, report.Stale, m.DueForHealthCheck())

	// scans never remove connections
	assert.Equal(t, int64(3), m.Active())
}

func TestInspectLoadBalance(t *testing.T) {
	m, _ := newTestManager(5, 10)
	m.Register("u1-fast", "user-1")
	m.Register("u1-slow", "user-1")
	m.Register("solo-slow", "user-2")
	m.Register("u3-a", "user-3")
	m.Register("u3-bad", "user-3")

	m.UpdateHealth("u1-fast", 20*time.Millisecond, true)
	m.UpdateHealth("u1-slow", 1500*time.Millisecond, true)
	m.UpdateHealth("solo-slow", 3*time.Second, true)
	for range FailureThreshold {
		m.UpdateHealth("u3-bad", 0, false)
	}

	candidates := m.InspectLoadBalance()
	require.Len(t, candidates, 2)
	assert.Equal(t, "u1-slow", candidates[0].ConnectionID)
	assert.Equal(t, "user-1", candidates[0].UserID)
	assert.False(t, candidates[0].Unhealthy)
	assert.Equal(t, "u3-bad", candidates[1].ConnectionID)
	assert.True(t, candidates[1].Unhealthy)

	assert.Equal(t, int64(2), m.Metrics().LoadBalanceEvents)
	assert.Equal(t, int64(5), m.Active(), "inspection does not close anything")
}

func TestMetrics_SnapshotIsCopy(t *testing.T) {
	m, _ := newTestManager(5, 10)
	m.Register("a", "user-1")

	snap := m.Metrics()
	snap.PerUser["user-1"] = 99

	assert.Equal(t, 1, m.UserCount("user-1"))
}

func TestReset(t *testing.T) {
	m, _ := newTestManager(5, 10)
	m.Register("a", "user-1")
	m.Register("b", "user-2")

	m.Reset()

	metrics := m.Metrics()
	assert.Equal(t, int64(0), metrics.Active)
	assert.Empty(t, metrics.PerUser)
	assert.Equal(t, int64(2), metrics.Created)
	assert.True(t, m.CanAccept("user-1").Allowed)
}
