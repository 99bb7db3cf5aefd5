package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dom/studybuddy/internal/domain"
	"github.com/dom/studybuddy/internal/notify"
	"github.com/dom/studybuddy/internal/service"
	"github.com/dom/studybuddy/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func propose(t *testing.T, h *testutil.Harness, from, to uuid.UUID, seconds int64) *domain.BuddyStudySession {
	t.Helper()
	session, err := h.Services.Buddy.Propose(context.Background(), service.ProposeInput{
		ProposerID:      from,
		ResponderID:     to,
		TaskName:        "linear algebra",
		DurationSeconds: seconds,
	})
	require.NoError(t, err)
	return session
}

func TestBuddySessionService_Propose(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		input    func(a, b, stranger uuid.UUID) service.ProposeInput
		existing bool
		wantErr  *domain.Error
	}{
		{
			name: "creates pending session",
			input: func(a, b, _ uuid.UUID) service.ProposeInput {
				return service.ProposeInput{ProposerID: a, ResponderID: b, TaskName: "essay", DurationSeconds: 1500}
			},
		},
		{
			name: "zero duration",
			input: func(a, b, _ uuid.UUID) service.ProposeInput {
				return service.ProposeInput{ProposerID: a, ResponderID: b, TaskName: "essay"}
			},
			wantErr: domain.ErrDurationInvalid,
		},
		{
			name: "negative duration",
			input: func(a, b, _ uuid.UUID) service.ProposeInput {
				return service.ProposeInput{ProposerID: a, ResponderID: b, TaskName: "essay", DurationSeconds: -60}
			},
			wantErr: domain.ErrDurationInvalid,
		},
		{
			name: "one day is allowed",
			input: func(a, b, _ uuid.UUID) service.ProposeInput {
				return service.ProposeInput{ProposerID: a, ResponderID: b, TaskName: "essay", DurationSeconds: domain.MaxSessionDurationSeconds}
			},
		},
		{
			name: "longer than a day",
			input: func(a, b, _ uuid.UUID) service.ProposeInput {
				return service.ProposeInput{ProposerID: a, ResponderID: b, TaskName: "essay", DurationSeconds: domain.MaxSessionDurationSeconds + 1}
			},
			wantErr: domain.ErrDurationInvalid,
		},
		{
			name: "duration that would overflow the deadline",
			input: func(a, b, _ uuid.UUID) service.ProposeInput {
				return service.ProposeInput{ProposerID: a, ResponderID: b, TaskName: "essay", DurationSeconds: 1 << 40}
			},
			wantErr: domain.ErrDurationInvalid,
		},
		{
			name: "blank task",
			input: func(a, b, _ uuid.UUID) service.ProposeInput {
				return service.ProposeInput{ProposerID: a, ResponderID: b, TaskName: " ", DurationSeconds: 60}
			},
			wantErr: domain.ErrInvalidInput,
		},
		{
			name: "not buddies",
			input: func(a, _, stranger uuid.UUID) service.ProposeInput {
				return service.ProposeInput{ProposerID: a, ResponderID: stranger, TaskName: "essay", DurationSeconds: 60}
			},
			wantErr: domain.ErrNotPaired,
		},
		{
			name: "session already open",
			input: func(a, b, _ uuid.UUID) service.ProposeInput {
				return service.ProposeInput{ProposerID: b, ResponderID: a, TaskName: "essay", DurationSeconds: 60}
			},
			existing: true,
			wantErr:  domain.ErrSessionAlreadyExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, a, b := pairedUsers(t)
			stranger := newUsers(t, h, 1)[0]
			if tt.existing {
				propose(t, h, a.ID, b.ID, 600)
			}

			session, err := h.Services.Buddy.Propose(ctx, tt.input(a.ID, b.ID, stranger.ID))
			if tt.wantErr != nil {
				testutil.AssertDomainError(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, domain.BuddySessionPending, session.Status)
			assert.False(t, session.IsActive)
			assert.Nil(t, session.StartTime)
			assert.Equal(t, domain.PairKey(a.ID, b.ID), session.PairKey)
		})
	}
}

func TestBuddySessionService_RoundTripCreditsBoth(t *testing.T) {
	sender := &recordingSender{}
	h, a, b := pairedUsers(t, service.Deps{Notifier: sender})
	ctx := context.Background()

	session := propose(t, h, a.ID, b.ID, 1800)
	assert.Contains(t, sender.events(b.ID), notify.EventSessionRequested)

	h.Clock.Advance(3 * time.Minute)
	accepted, err := h.Services.Buddy.Accept(ctx, session.ID, b.ID)
	require.NoError(t, err)
	require.NotNil(t, accepted.StartTime)
	assert.Equal(t, testutil.Epoch.Add(3*time.Minute), *accepted.StartTime, "origin is the accept time")
	assert.True(t, accepted.IsActive)
	assert.Equal(t, 1, h.Services.Buddy.Scheduler().Pending())

	h.Clock.Advance(1799 * time.Second)
	view, err := h.Services.Buddy.Get(ctx, session.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), view.RemainingSeconds)

	ended, err := h.Services.Buddy.End(ctx, session.ID, a.ID, domain.BuddySessionCompleted)
	require.NoError(t, err)
	assert.Equal(t, int64(1799), ended.CreditedSeconds)

	for _, id := range []uuid.UUID{a.ID, b.ID} {
		stats := reload(t, h, id).StudyStats
		assert.Equal(t, int64(1799), stats.TotalSecondsStudied)
		assert.Equal(t, int64(1799), stats.DailySeconds)
	}
	assert.Equal(t, 0, h.Services.Buddy.Scheduler().Pending())
	assert.Contains(t, sender.events(a.ID), notify.EventSessionEnded)
	assert.Contains(t, sender.events(b.ID), notify.EventSessionEnded)
}

func TestBuddySessionService_SchedulerCompletesAtDeadline(t *testing.T) {
	h, a, b := pairedUsers(t)
	ctx := context.Background()

	session := propose(t, h, a.ID, b.ID, 1800)
	_, err := h.Services.Buddy.Accept(ctx, session.ID, b.ID)
	require.NoError(t, err)

	h.Clock.Advance(1800 * time.Second)

	completed, err := h.Repos.BuddySession.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BuddySessionCompleted, completed.Status)
	assert.Equal(t, int64(1800), completed.CreditedSeconds)

	for _, id := range []uuid.UUID{a.ID, b.ID} {
		assert.Equal(t, int64(1800), reload(t, h, id).StudyStats.TotalSecondsStudied)
	}

	// A client reporting expiry afterwards sees the completed session.
	again, err := h.Services.Buddy.Expire(ctx, session.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BuddySessionCompleted, again.Status)
	assert.Equal(t, int64(1800), reload(t, h, b.ID).StudyStats.TotalSecondsStudied, "credited once")
}

func TestBuddySessionService_MaxDurationRunsFullDay(t *testing.T) {
	h, a, b := pairedUsers(t)
	ctx := context.Background()

	session := propose(t, h, a.ID, b.ID, domain.MaxSessionDurationSeconds)
	accepted, err := h.Services.Buddy.Accept(ctx, session.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BuddySessionAccepted, accepted.Status)

	deadline, ok := accepted.Deadline()
	require.True(t, ok)
	assert.Equal(t, testutil.Epoch.Add(24*time.Hour), deadline)

	h.Clock.Advance(23 * time.Hour)
	current, err := h.Repos.BuddySession.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BuddySessionAccepted, current.Status)

	h.Clock.Advance(time.Hour)
	current, err = h.Repos.BuddySession.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BuddySessionCompleted, current.Status)
	assert.Equal(t, domain.MaxSessionDurationSeconds, current.CreditedSeconds)
}

func TestBuddySessionService_LateEndIsClamped(t *testing.T) {
	h, a, b := pairedUsers(t)
	ctx := context.Background()
	h.Services.Buddy.Scheduler().Stop()

	session := propose(t, h, a.ID, b.ID, 600)
	_, err := h.Services.Buddy.Accept(ctx, session.ID, b.ID)
	require.NoError(t, err)

	h.Clock.Advance(2 * time.Hour)
	ended, err := h.Services.Buddy.End(ctx, session.ID, b.ID, domain.BuddySessionCancelled)
	require.NoError(t, err)
	assert.Equal(t, domain.BuddySessionCancelled, ended.Status)
	assert.Equal(t, int64(600), ended.CreditedSeconds)
	assert.Equal(t, int64(600), reload(t, h, a.ID).StudyStats.TotalSecondsStudied)
}

func TestBuddySessionService_Expire(t *testing.T) {
	h, a, b := pairedUsers(t)
	stranger := newUsers(t, h, 1)[0]
	ctx := context.Background()
	h.Services.Buddy.Scheduler().Stop()

	session := propose(t, h, a.ID, b.ID, 300)

	_, err := h.Services.Buddy.Expire(ctx, session.ID, a.ID)
	testutil.AssertDomainError(t, err, domain.ErrWrongStatus, "pending")

	_, err = h.Services.Buddy.Accept(ctx, session.ID, b.ID)
	require.NoError(t, err)

	h.Clock.Advance(299 * time.Second)
	_, err = h.Services.Buddy.Expire(ctx, session.ID, a.ID)
	testutil.AssertDomainError(t, err, domain.ErrNotExpired)

	_, err = h.Services.Buddy.Expire(ctx, session.ID, stranger.ID)
	testutil.AssertDomainError(t, err, domain.ErrNotParticipant)

	h.Clock.Advance(time.Second)
	first, err := h.Services.Buddy.Expire(ctx, session.ID, a.ID)
	require.NoError(t, err)
	second, err := h.Services.Buddy.Expire(ctx, session.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, int64(300), reload(t, h, a.ID).StudyStats.TotalSecondsStudied)
}

func TestBuddySessionService_Transitions(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		act        func(h *testutil.Harness, id, proposer, responder uuid.UUID) (*domain.BuddyStudySession, error)
		wantStatus domain.BuddySessionStatus
		wantErr    *domain.Error
	}{
		{
			name: "responder rejects",
			act: func(h *testutil.Harness, id, _, responder uuid.UUID) (*domain.BuddyStudySession, error) {
				return h.Services.Buddy.Reject(ctx, id, responder)
			},
			wantStatus: domain.BuddySessionRejected,
		},
		{
			name: "proposer cannot reject",
			act: func(h *testutil.Harness, id, proposer, _ uuid.UUID) (*domain.BuddyStudySession, error) {
				return h.Services.Buddy.Reject(ctx, id, proposer)
			},
			wantErr: domain.ErrNotResponder,
		},
		{
			name: "proposer cannot accept",
			act: func(h *testutil.Harness, id, proposer, _ uuid.UUID) (*domain.BuddyStudySession, error) {
				return h.Services.Buddy.Accept(ctx, id, proposer)
			},
			wantErr: domain.ErrNotResponder,
		},
		{
			name: "either side cancels pending",
			act: func(h *testutil.Harness, id, _, responder uuid.UUID) (*domain.BuddyStudySession, error) {
				return h.Services.Buddy.Cancel(ctx, id, responder)
			},
			wantStatus: domain.BuddySessionCancelled,
		},
		{
			name: "cancel between buddies",
			act: func(h *testutil.Harness, _, proposer, responder uuid.UUID) (*domain.BuddyStudySession, error) {
				return h.Services.Buddy.CancelBetween(ctx, responder, proposer)
			},
			wantStatus: domain.BuddySessionCancelled,
		},
		{
			name: "end requires accepted",
			act: func(h *testutil.Harness, id, proposer, _ uuid.UUID) (*domain.BuddyStudySession, error) {
				return h.Services.Buddy.End(ctx, id, proposer, domain.BuddySessionCompleted)
			},
			wantErr: domain.ErrWrongStatus,
		},
		{
			name: "end with bad status",
			act: func(h *testutil.Harness, id, proposer, _ uuid.UUID) (*domain.BuddyStudySession, error) {
				return h.Services.Buddy.End(ctx, id, proposer, domain.BuddySessionRejected)
			},
			wantErr: domain.ErrInvalidStatus,
		},
		{
			name: "unknown session",
			act: func(h *testutil.Harness, _, proposer, _ uuid.UUID) (*domain.BuddyStudySession, error) {
				return h.Services.Buddy.Accept(ctx, uuid.New(), proposer)
			},
			wantErr: domain.ErrSessionNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, a, b := pairedUsers(t)
			session := propose(t, h, a.ID, b.ID, 900)

			got, err := tt.act(h, session.ID, a.ID, b.ID)
			if tt.wantErr != nil {
				testutil.AssertDomainError(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, int64(0), got.CreditedSeconds)

			active, err := h.Services.Buddy.Active(ctx, a.ID)
			require.NoError(t, err)
			assert.Nil(t, active, "slot is free again")
			propose(t, h, b.ID, a.ID, 60)
		})
	}
}

func TestBuddySessionService_ConcurrentAcceptsSucceedOnce(t *testing.T) {
	h, a, b := pairedUsers(t)
	ctx := context.Background()
	session := propose(t, h, a.ID, b.ID, 1200)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.Services.Buddy.Accept(ctx, session.ID, b.ID)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrWrongStatus)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, h.Services.Buddy.Scheduler().Pending())
}

func TestBuddySessionService_RecoverRearmsTimers(t *testing.T) {
	h, a, b := pairedUsers(t)
	ctx := context.Background()

	session := propose(t, h, a.ID, b.ID, 600)
	_, err := h.Services.Buddy.Accept(ctx, session.ID, b.ID)
	require.NoError(t, err)

	scheduler := h.Services.Buddy.Scheduler()
	scheduler.Cancel(session.ID)
	require.Equal(t, 0, scheduler.Pending())

	n, err := scheduler.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, scheduler.Pending())

	h.Clock.Advance(10 * time.Minute)
	done, err := h.Repos.BuddySession.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BuddySessionCompleted, done.Status)
}

func TestBuddySessionService_SweepCompletesOverdue(t *testing.T) {
	h, a, b := pairedUsers(t)
	ctx := context.Background()

	session := propose(t, h, a.ID, b.ID, 60)
	_, err := h.Services.Buddy.Accept(ctx, session.ID, b.ID)
	require.NoError(t, err)
	h.Services.Buddy.Scheduler().Cancel(session.ID)

	assert.Equal(t, 0, h.Services.Buddy.Scheduler().Sweep(ctx))

	h.Clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, h.Services.Buddy.Scheduler().Sweep(ctx))

	done, err := h.Repos.BuddySession.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BuddySessionCompleted, done.Status)
	assert.Equal(t, int64(60), done.CreditedSeconds)
}

func TestBuddySessionService_StartSweepsOnClock(t *testing.T) {
	h, a, b := pairedUsers(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := propose(t, h, a.ID, b.ID, 60)
	_, err := h.Services.Buddy.Accept(ctx, session.ID, b.ID)
	require.NoError(t, err)

	scheduler := h.Services.Buddy.Scheduler()
	scheduler.Cancel(session.ID)
	scheduler.Start(ctx, time.Minute)

	h.Clock.Advance(2 * time.Minute)

	done, err := h.Repos.BuddySession.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BuddySessionCompleted, done.Status)
	assert.Equal(t, int64(60), done.CreditedSeconds)
	assert.Equal(t, 1, h.Clock.Pending(), "next sweep is armed")

	scheduler.Stop()
	assert.Equal(t, 0, h.Clock.Pending())
}

// gatedSender blocks session-ended notifications until release is closed.
type gatedSender struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSender) Send(n notify.Notification) {
	if n.Event != notify.EventSessionEnded {
		return
	}
	g.once.Do(func() { close(g.entered) })
	<-g.release
}

func TestBuddySessionService_StopWaitsForRunningExpiry(t *testing.T) {
	gate := &gatedSender{entered: make(chan struct{}), release: make(chan struct{})}
	h, a, b := pairedUsers(t, service.Deps{Notifier: gate})
	ctx := context.Background()

	session := propose(t, h, a.ID, b.ID, 60)
	_, err := h.Services.Buddy.Accept(ctx, session.ID, b.ID)
	require.NoError(t, err)

	go h.Clock.Advance(time.Minute)
	select {
	case <-gate.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("expiry timer never ran")
	}

	stopped := make(chan struct{})
	go func() {
		h.Services.Buddy.Scheduler().Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while an expiry callback was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the callback finished")
	}

	done, err := h.Repos.BuddySession.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BuddySessionCompleted, done.Status)
}

func TestBuddySessionService_Queries(t *testing.T) {
	h, a, b := pairedUsers(t)
	stranger := newUsers(t, h, 1)[0]
	ctx := context.Background()

	session := propose(t, h, a.ID, b.ID, 300)

	incoming, err := h.Services.Buddy.IncomingRequests(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, session.ID, incoming[0].ID)

	view, err := h.Services.Buddy.Active(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, int64(300), view.RemainingSeconds)
	assert.Equal(t, testutil.Epoch, view.ServerTime)

	_, err = h.Services.Buddy.Get(ctx, session.ID, stranger.ID)
	testutil.AssertDomainError(t, err, domain.ErrNotParticipant)

	_, err = h.Services.Buddy.Reject(ctx, session.ID, b.ID)
	require.NoError(t, err)

	history, err := h.Services.Buddy.History(ctx, a.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.BuddySessionRejected, history[0].Status)
}
