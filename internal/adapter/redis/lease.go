package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// acquireLeaseScript renews the lease when owner already holds it and takes it when
// nobody does. Returns 1 when owner holds the lease afterwards.
// ARGV: [1]=owner, [2]=ttl_ms
var acquireLeaseScript = goredis.NewScript(`
local holder = redis.call('GET', KEYS[1])
if holder == ARGV[1] then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	return 1
end
if holder then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

// releaseLeaseScript deletes the lease only while owner still holds it.
// ARGV: [1]=owner
var releaseLeaseScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Lease is a TTL-bound exclusive lock held by one instance at a time. A holder that
// stops renewing loses it once the TTL runs out.
type Lease struct {
	rdb   *goredis.Client
	key   string
	owner string
	ttl   time.Duration
}

// NewLease creates a lease stored at lease:<name>. owner must be unique per instance.
func NewLease(rdb *goredis.Client, name, owner string, ttl time.Duration) *Lease {
	return &Lease{rdb: rdb, key: "lease:" + name, owner: owner, ttl: ttl}
}

// Acquire takes or renews the lease and reports whether this instance holds it.
func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	held, err := acquireLeaseScript.Run(ctx, l.rdb, []string{l.key}, l.owner, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	return held == 1, nil
}

// Release gives the lease up if this instance still holds it.
func (l *Lease) Release(ctx context.Context) error {
	if err := releaseLeaseScript.Run(ctx, l.rdb, []string{l.key}, l.owner).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}

// Holder returns the current owner, or "" when the lease is free.
func (l *Lease) Holder(ctx context.Context) (string, error) {
	owner, err := l.rdb.Get(ctx, l.key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read lease %s: %w", l.key, err)
	}
	return owner, nil
}
