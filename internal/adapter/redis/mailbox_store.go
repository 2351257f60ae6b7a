package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/domain"
)

const mailboxKeyPrefix = "mailbox:"

// pushMessageScript trims the list so the new entry fits under the cap, appends it
// and extends the key expiry to at least the message TTL. Returns the evicted count.
// ARGV: [1]=raw, [2]=max_size, [3]=ttl_ms
var pushMessageScript = goredis.NewScript(`
local max = tonumber(ARGV[2])
local evicted = 0
if max > 0 then
	local excess = redis.call('LLEN', KEYS[1]) - max + 1
	if excess > 0 then
		redis.call('LTRIM', KEYS[1], excess, -1)
		evicted = excess
	end
end
redis.call('RPUSH', KEYS[1], ARGV[1])
local ttl = tonumber(ARGV[3])
if redis.call('PTTL', KEYS[1]) < ttl then
	redis.call('PEXPIRE', KEYS[1], ttl)
end
return evicted
`)

// removeMessagesScript removes one occurrence of each raw entry and deletes the
// list once it is empty. Returns the remaining length.
// ARGV: raw entries
var removeMessagesScript = goredis.NewScript(`
for i = 1, #ARGV do
	redis.call('LREM', KEYS[1], 1, ARGV[i])
end
local left = redis.call('LLEN', KEYS[1])
if left == 0 then
	redis.call('DEL', KEYS[1])
end
return left
`)

type MailboxStore struct {
	rdb *goredis.Client
}

var _ domain.MailboxStore = (*MailboxStore)(nil)

func NewMailboxStore(rdb *goredis.Client) *MailboxStore {
	return &MailboxStore{rdb: rdb}
}

func (s *MailboxStore) PushMessage(ctx context.Context, userID, raw string, maxSize int, ttl time.Duration) (int64, error) {
	evicted, err := pushMessageScript.Run(ctx, s.rdb, []string{mailboxKey(userID)},
		raw, maxSize, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("push message: %w", err)
	}
	return evicted, nil
}

func (s *MailboxStore) Messages(ctx context.Context, userID string) ([]string, error) {
	raws, err := s.rdb.LRange(ctx, mailboxKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read mailbox: %w", err)
	}
	return raws, nil
}

func (s *MailboxStore) RemoveMessages(ctx context.Context, userID string, raws []string) (int64, error) {
	if len(raws) == 0 {
		return s.MailboxSize(ctx, userID)
	}
	args := make([]any, len(raws))
	for i, raw := range raws {
		args[i] = raw
	}

	left, err := removeMessagesScript.Run(ctx, s.rdb, []string{mailboxKey(userID)}, args...).Int64()
	if err != nil {
		return 0, fmt.Errorf("remove messages: %w", err)
	}
	return left, nil
}

func (s *MailboxStore) DeleteMailbox(ctx context.Context, userID string) error {
	if err := s.rdb.Del(ctx, mailboxKey(userID)).Err(); err != nil {
		return fmt.Errorf("delete mailbox: %w", err)
	}
	return nil
}

func (s *MailboxStore) MailboxSize(ctx context.Context, userID string) (int64, error) {
	n, err := s.rdb.LLen(ctx, mailboxKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("mailbox size: %w", err)
	}
	return n, nil
}

func (s *MailboxStore) Mailboxes(ctx context.Context) ([]string, error) {
	return scanKeys(ctx, s.rdb, mailboxKeyPrefix, nil)
}

func mailboxKey(userID string) string {
	return mailboxKeyPrefix + userID
}
