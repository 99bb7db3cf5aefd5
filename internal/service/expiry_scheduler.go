package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dom/studybuddy/internal/clock"
	"github.com/dom/studybuddy/internal/domain"
	"github.com/dom/studybuddy/internal/metrics"
	"github.com/google/uuid"
)

// ExpiryScheduler completes accepted buddy sessions when their countdown
// reaches zero. One timer per session fires at the deadline; a periodic sweep
// catches anything a timer missed, such as sessions accepted by a previous
// process.
type ExpiryScheduler struct {
	clock   clock.Clock
	logger  *slog.Logger
	metrics metrics.Recorder

	expire     func(ctx context.Context, id uuid.UUID, trigger string) error
	listActive func(ctx context.Context) ([]*domain.BuddyStudySession, error)

	mu     sync.Mutex
	timers map[uuid.UUID]*scheduledExpiry
	sweep  clock.Timer

	stopOnce sync.Once
	stopCh   chan struct{}
	// inflight counts running timer and sweep callbacks. Add happens under mu
	// and only before stopCh is closed, so Stop can wait on it safely.
	inflight sync.WaitGroup
}

type scheduledExpiry struct {
	timer clock.Timer
}

func newExpiryScheduler(
	c clock.Clock,
	logger *slog.Logger,
	m metrics.Recorder,
	expire func(ctx context.Context, id uuid.UUID, trigger string) error,
	listActive func(ctx context.Context) ([]*domain.BuddyStudySession, error),
) *ExpiryScheduler {
	return &ExpiryScheduler{
		clock:      c,
		logger:     logger.With("component", "expiry_scheduler"),
		metrics:    m,
		expire:     expire,
		listActive: listActive,
		timers:     make(map[uuid.UUID]*scheduledExpiry),
		stopCh:     make(chan struct{}),
	}
}

// Schedule arms (or re-arms) the expiry timer for a session. Must not be
// called while holding engine locks: an overdue deadline fires immediately.
// After Stop it does nothing.
func (s *ExpiryScheduler) Schedule(id uuid.UUID, deadline time.Time) {
	entry := &scheduledExpiry{}

	s.mu.Lock()
	if s.stoppedLocked() {
		s.mu.Unlock()
		return
	}
	if prev, ok := s.timers[id]; ok && prev.timer != nil {
		prev.timer.Stop()
	}
	s.timers[id] = entry
	s.mu.Unlock()

	delay := deadline.Sub(s.clock.Now())
	if delay <= 0 {
		s.fire(id, entry)
		return
	}

	timer := s.clock.AfterFunc(delay, func() { s.fire(id, entry) })

	s.mu.Lock()
	if s.timers[id] == entry {
		entry.timer = timer
	} else {
		timer.Stop()
	}
	s.mu.Unlock()
}

// Cancel disarms the timer for a session, if any.
func (s *ExpiryScheduler) Cancel(id uuid.UUID) {
	s.mu.Lock()
	entry, ok := s.timers[id]
	delete(s.timers, id)
	s.mu.Unlock()

	if ok && entry.timer != nil {
		entry.timer.Stop()
	}
}

// Pending returns the number of armed timers.
func (s *ExpiryScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *ExpiryScheduler) stoppedLocked() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

func (s *ExpiryScheduler) fire(id uuid.UUID, entry *scheduledExpiry) {
	s.mu.Lock()
	if s.timers[id] != entry || s.stoppedLocked() {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	if err := s.expire(context.Background(), id, TriggerTimer); err != nil {
		s.logger.Error("expiry timer failed", "session_id", id, "error", err)
	}
}

// Recover arms timers for every accepted session in the store.
func (s *ExpiryScheduler) Recover(ctx context.Context) (int, error) {
	sessions, err := s.listActive(ctx)
	if err != nil {
		return 0, err
	}
	for _, session := range sessions {
		if deadline, ok := session.Deadline(); ok {
			s.Schedule(session.ID, deadline)
		}
	}
	s.logger.Info("expiry timers restored", "sessions", len(sessions))
	return len(sessions), nil
}

// Sweep completes every accepted session that is past its deadline and
// returns how many were due.
func (s *ExpiryScheduler) Sweep(ctx context.Context) int {
	sessions, err := s.listActive(ctx)
	if err != nil {
		s.logger.Error("expiry sweep failed", "error", err)
		return 0
	}

	now := s.clock.Now()
	due := 0
	for _, session := range sessions {
		if !session.ExpiredAt(now) {
			continue
		}
		due++
		if err := s.expire(ctx, session.ID, TriggerSweep); err != nil {
			s.logger.Error("expiry sweep could not complete session", "session_id", session.ID, "error", err)
		}
	}
	return due
}

// Start runs Sweep every interval on the scheduler's clock until Stop is
// called or ctx ends.
func (s *ExpiryScheduler) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	var tick func()
	arm := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.stoppedLocked() && ctx.Err() == nil {
			s.sweep = s.clock.AfterFunc(interval, tick)
		}
	}
	tick = func() {
		s.mu.Lock()
		if s.stoppedLocked() || ctx.Err() != nil {
			s.mu.Unlock()
			return
		}
		s.inflight.Add(1)
		s.mu.Unlock()
		defer s.inflight.Done()

		s.Sweep(ctx)
		arm()
	}
	arm()
}

// Stop ends the sweep, disarms every timer and waits for callbacks that
// are already running.
func (s *ExpiryScheduler) Stop() {
	s.mu.Lock()
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	timers := s.timers
	s.timers = make(map[uuid.UUID]*scheduledExpiry)
	sweep := s.sweep
	s.sweep = nil
	s.mu.Unlock()

	if sweep != nil {
		sweep.Stop()
	}
	for _, entry := range timers {
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
	s.inflight.Wait()
}
