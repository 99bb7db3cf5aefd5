// Package changefeed delivers committed state transitions to the users they
// concern. Per entity, subscribers only ever observe increasing versions;
// there is no ordering across entities.
package changefeed

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dom/studybuddy/internal/metrics"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
)

type Kind string

const (
	KindPair         Kind = "pair"
	KindUserStats    Kind = "user_stats"
	KindSoloSession  Kind = "solo_session"
	KindBuddySession Kind = "buddy_session"
	KindPoke         Kind = "poke"
	KindTask         Kind = "task"
)

type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

var ErrClosed = errors.New("subscription closed")

// Change is one committed write. Document is the full entity after the write
// and is nil for deletes.
type Change struct {
	Kind     Kind        `json:"kind"`
	EntityID string      `json:"entityId"`
	Version  int64       `json:"version"`
	Op       Op          `json:"op"`
	Audience []uuid.UUID `json:"-"`
	Document any         `json:"document,omitempty"`
	At       time.Time   `json:"at"`
}

func (c Change) key() string {
	return string(c.Kind) + ":" + c.EntityID
}

// Filter selects the changes a subscription receives. An empty Kinds matches
// every kind.
type Filter struct {
	UserID uuid.UUID
	Kinds  []Kind
}

func (f Filter) matches(c Change) bool {
	if !slices.Contains(c.Audience, f.UserID) {
		return false
	}
	return len(f.Kinds) == 0 || slices.Contains(f.Kinds, c.Kind)
}

type Feed struct {
	mu       sync.Mutex
	versions map[string]int64

	subscribers *xsync.Map[uint64, *Subscription]
	nextID      atomic.Uint64
	metrics     metrics.Recorder
}

func New(m metrics.Recorder) *Feed {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Feed{
		versions:    make(map[string]int64),
		subscribers: xsync.NewMap[uint64, *Subscription](),
		metrics:     m,
	}
}

// Publish fans c out to every matching subscription. A change whose version
// is not newer than the last published version of the same entity is dropped
// and Publish reports false. A delete forgets the entity; producers never
// reuse an entity id after deleting it.
func (f *Feed) Publish(c Change) bool {
	key := c.key()

	f.mu.Lock()
	if last, ok := f.versions[key]; ok && c.Version <= last {
		f.mu.Unlock()
		f.metrics.RecordChangeDropped(string(c.Kind), "stale")
		return false
	}
	if c.Op == OpDelete {
		delete(f.versions, key)
	} else {
		f.versions[key] = c.Version
	}

	// Fan-out happens under mu so two publishes for one entity reach every
	// subscriber in the order they were accepted.
	f.subscribers.Range(func(_ uint64, sub *Subscription) bool {
		if sub.filter.matches(c) {
			sub.offer(c)
		}
		return true
	})
	f.mu.Unlock()

	f.metrics.RecordChangePublished(string(c.Kind))
	return true
}

// Subscribe registers a subscription. Close it when done.
func (f *Feed) Subscribe(filter Filter) *Subscription {
	sub := &Subscription{
		id:      f.nextID.Add(1),
		feed:    f,
		filter:  filter,
		pending: make(map[string]Change),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	f.subscribers.Store(sub.id, sub)
	f.metrics.AddSubscriptions(1)
	return sub
}

// Subscribers returns the number of open subscriptions.
func (f *Feed) Subscribers() int {
	return f.subscribers.Size()
}

func (f *Feed) remove(id uint64) {
	if _, ok := f.subscribers.LoadAndDelete(id); ok {
		f.metrics.AddSubscriptions(-1)
	}
}

// Subscription buffers undelivered changes, keeping only the newest per
// entity, and hands them out in first-arrival order.
type Subscription struct {
	id     uint64
	feed   *Feed
	filter Filter

	mu      sync.Mutex
	pending map[string]Change
	order   []string
	closed  bool

	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (s *Subscription) offer(c Change) {
	key := c.key()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if prev, ok := s.pending[key]; ok {
		s.feed.metrics.RecordChangeDropped(string(prev.Kind), "coalesced")
	} else {
		s.order = append(s.order, key)
	}
	s.pending[key] = c
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until a change is available, the context ends, or the
// subscription is closed.
func (s *Subscription) Next(ctx context.Context) (Change, error) {
	for {
		s.mu.Lock()
		if len(s.order) > 0 {
			key := s.order[0]
			s.order = s.order[1:]
			c := s.pending[key]
			delete(s.pending, key)
			s.mu.Unlock()
			return c, nil
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return Change{}, ErrClosed
		}

		select {
		case <-ctx.Done():
			return Change{}, ctx.Err()
		case <-s.done:
		case <-s.notify:
		}
	}
}

// Pending reports how many entities have undelivered changes.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Close unregisters the subscription and wakes any blocked Next. Buffered
// changes are discarded.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.feed.remove(s.id)

		s.mu.Lock()
		s.closed = true
		s.pending = map[string]Change{}
		s.order = nil
		s.mu.Unlock()

		close(s.done)
	})
}
