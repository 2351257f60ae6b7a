package websocket

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	limiterCleanupEvery = 5 * time.Minute
	limiterIdleAfter    = 10 * time.Minute
)

// HandshakeLimiter limits the rate of new connections per client IP with one token
// bucket per address.
type HandshakeLimiter struct {
	clock clockwork.Clock
	rate  rate.Limit
	burst int

	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	cleanupAt time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewHandshakeLimiter allows perSecond sustained connections and burst immediate ones per IP.
func NewHandshakeLimiter(perSecond float64, burst int, clock clockwork.Clock) *HandshakeLimiter {
	return &HandshakeLimiter{
		clock:     clock,
		rate:      rate.Limit(perSecond),
		burst:     burst,
		limiters:  make(map[string]*limiterEntry),
		cleanupAt: clock.Now().Add(limiterCleanupEvery),
	}
}

// Allow reports whether a handshake from ip may proceed and consumes a token if so.
func (l *HandshakeLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.After(l.cleanupAt) {
		l.cleanupLocked(now)
		l.cleanupAt = now.Add(limiterCleanupEvery)
	}

	entry, ok := l.limiters[ip]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// cleanupLocked removes limiters that have not been used recently.
func (l *HandshakeLimiter) cleanupLocked(now time.Time) {
	cutoff := now.Add(-limiterIdleAfter)
	for ip, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
		}
	}
}

// Tracked returns the number of IPs with a live limiter.
func (l *HandshakeLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
