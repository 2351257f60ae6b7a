// Package memory provides in-process implementations of the domain stores for
// single-instance mode and tests. State is lost on restart.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/domain"
)

// windowTTL keeps per-second rate windows around long enough to compute the trailing-minute rate.
const windowTTL = 61 * time.Second

// statsTTL keeps a week of daily ingestion counters plus a day of slack.
const statsTTL = 8 * 24 * time.Hour

type windowKey struct {
	topic  string
	window int64
}

type stream struct {
	entries   []streamEntry
	lastMs    int64
	seq       int64
	expiresAt time.Time
}

type streamEntry struct {
	id   string
	at   time.Time
	data string
}

type dayCounters struct {
	accepted    int64
	latencyMs   int64
	errors      int64
	rateLimited int64
	topicErrors map[string]int64
	topics      map[string]struct{}
	sources     map[string]struct{}
}

type mailbox struct {
	entries   []string
	expiresAt time.Time
}

// Store implements domain.UpdateStore, domain.MailboxStore and domain.SubscriptionStore.
// Expiry is evaluated lazily against the injected clock.
type Store struct {
	clock clockwork.Clock

	mu         sync.Mutex
	windows    map[windowKey]int64
	totals     map[int64]int64
	streams    map[string]*stream
	days       map[string]*dayCounters
	mailboxes  map[string]*mailbox
	topicUsers map[string]map[string]struct{}
	userTopics map[string]map[string]struct{}
	topicIndex map[string]struct{}
	userIndex  map[string]struct{}
}

func NewStore(clock clockwork.Clock) *Store {
	return &Store{
		clock:      clock,
		windows:    make(map[windowKey]int64),
		totals:     make(map[int64]int64),
		streams:    make(map[string]*stream),
		days:       make(map[string]*dayCounters),
		mailboxes:  make(map[string]*mailbox),
		topicUsers: make(map[string]map[string]struct{}),
		userTopics: make(map[string]map[string]struct{}),
		topicIndex: make(map[string]struct{}),
		userIndex:  make(map[string]struct{}),
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var (
	_ domain.UpdateStore       = (*Store)(nil)
	_ domain.MailboxStore      = (*Store)(nil)
	_ domain.SubscriptionStore = (*Store)(nil)
)
