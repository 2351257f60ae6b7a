package memory

import (
	"context"
	"time"
)

func (s *Store) PushMessage(_ context.Context, userID, raw string, maxSize int, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	mb := s.liveMailboxLocked(userID, now)
	if mb == nil {
		mb = &mailbox{}
		s.mailboxes[userID] = mb
	}

	var evicted int64
	for maxSize > 0 && len(mb.entries) >= maxSize {
		mb.entries = mb.entries[1:]
		evicted++
	}
	mb.entries = append(mb.entries, raw)

	if expiresAt := now.Add(ttl); expiresAt.After(mb.expiresAt) {
		mb.expiresAt = expiresAt
	}
	return evicted, nil
}

func (s *Store) Messages(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mb := s.liveMailboxLocked(userID, s.clock.Now())
	if mb == nil {
		return nil, nil
	}
	return append([]string(nil), mb.entries...), nil
}

func (s *Store) RemoveMessages(_ context.Context, userID string, raws []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mb := s.liveMailboxLocked(userID, s.clock.Now())
	if mb == nil {
		return 0, nil
	}

	drop := make(map[string]int, len(raws))
	for _, raw := range raws {
		drop[raw]++
	}

	kept := mb.entries[:0]
	for _, entry := range mb.entries {
		if drop[entry] > 0 {
			drop[entry]--
			continue
		}
		kept = append(kept, entry)
	}
	mb.entries = kept

	if len(mb.entries) == 0 {
		delete(s.mailboxes, userID)
	}
	return int64(len(mb.entries)), nil
}

func (s *Store) DeleteMailbox(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.mailboxes, userID)
	return nil
}

func (s *Store) MailboxSize(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mb := s.liveMailboxLocked(userID, s.clock.Now())
	if mb == nil {
		return 0, nil
	}
	return int64(len(mb.entries)), nil
}

func (s *Store) Mailboxes(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	set := make(map[string]struct{}, len(s.mailboxes))
	for userID := range s.mailboxes {
		if s.liveMailboxLocked(userID, now) != nil {
			set[userID] = struct{}{}
		}
	}
	return sortedKeys(set), nil
}

func (s *Store) liveMailboxLocked(userID string, now time.Time) *mailbox {
	mb, ok := s.mailboxes[userID]
	if !ok {
		return nil
	}
	if !mb.expiresAt.After(now) {
		delete(s.mailboxes, userID)
		return nil
	}
	return mb
}
