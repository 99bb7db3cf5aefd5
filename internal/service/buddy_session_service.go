package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/dom/studybuddy/internal/changefeed"
	"github.com/dom/studybuddy/internal/domain"
	"github.com/dom/studybuddy/internal/notify"
	"github.com/dom/studybuddy/internal/repository"
	"github.com/google/uuid"
)

// Expiry triggers.
const (
	TriggerTimer  = "timer"
	TriggerSweep  = "sweep"
	TriggerClient = "client"
)

// BuddySessionService coordinates synchronized two-party countdowns:
// pending -> accepted -> completed|cancelled, pending -> rejected|cancelled.
// The engine stamps startTime on accept and every elapsed computation is
// derived from it.
type BuddySessionService struct {
	*engine
	scheduler *ExpiryScheduler
}

func NewBuddySessionService(d Deps) *BuddySessionService {
	s := &BuddySessionService{engine: newEngine(d, "buddy_session")}
	s.scheduler = newExpiryScheduler(s.clock, s.logger, s.metrics, s.expireDue, s.repos.BuddySession.ListAccepted)
	return s
}

func (s *BuddySessionService) Scheduler() *ExpiryScheduler {
	return s.scheduler
}

// BuddySessionView pairs a session with the server clock so both clients
// render the same remaining time.
type BuddySessionView struct {
	Session          *domain.BuddyStudySession `json:"session"`
	ServerTime       time.Time                 `json:"serverTime"`
	RemainingSeconds int64                     `json:"remainingSeconds"`
}

func (s *BuddySessionService) view(session *domain.BuddyStudySession) *BuddySessionView {
	now := s.clock.Now()
	return &BuddySessionView{
		Session:          session,
		ServerTime:       now,
		RemainingSeconds: session.RemainingAt(now),
	}
}

func sessionChange(session *domain.BuddyStudySession) changefeed.Change {
	return changefeed.Change{
		Kind:     changefeed.KindBuddySession,
		EntityID: session.ID.String(),
		Version:  session.Version,
		Op:       changefeed.OpUpsert,
		Audience: session.Participants(),
		Document: *session,
	}
}

type ProposeInput struct {
	ProposerID      uuid.UUID
	ResponderID     uuid.UUID
	TaskName        string
	DurationSeconds int64
}

// Propose creates a pending session request from proposer to their buddy.
func (s *BuddySessionService) Propose(ctx context.Context, input ProposeInput) (*domain.BuddyStudySession, error) {
	if input.DurationSeconds <= 0 || input.DurationSeconds > domain.MaxSessionDurationSeconds {
		return nil, domain.ErrDurationInvalid
	}
	taskName := strings.TrimSpace(input.TaskName)
	if taskName == "" {
		return nil, domain.ErrInvalidInput
	}
	if input.ProposerID == input.ResponderID {
		return nil, domain.ErrSelfPairing
	}

	var result *domain.BuddyStudySession
	err := s.run(ctx, "buddy_session.propose", []uuid.UUID{input.ProposerID, input.ResponderID}, func(t *txn) error {
		proposer, err := t.user(input.ProposerID)
		if err != nil {
			return err
		}
		if !proposer.IsBuddyOf(input.ResponderID) {
			return domain.ErrNotPaired
		}

		key := domain.PairKey(input.ProposerID, input.ResponderID)
		if _, err := t.repos.BuddySession.GetOpenByPair(t.ctx, key); err == nil {
			return domain.ErrSessionAlreadyExists
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		session := domain.NewBuddyStudySession(input.ProposerID, input.ResponderID, taskName, input.DurationSeconds, t.now)
		if err := t.repos.BuddySession.Create(t.ctx, session); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return domain.ErrSessionAlreadyExists
			}
			return err
		}
		t.emit(sessionChange(session))
		t.notify(notify.Notification{
			UserID: input.ResponderID,
			Event:  notify.EventSessionRequested,
			Title:  "Study session request",
			Body:   proposer.DisplayName + " wants to study " + taskName + " for " + formatMinutes(input.DurationSeconds),
			Data:   map[string]string{"sessionId": session.ID.String()},
		})
		result = session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func formatMinutes(seconds int64) string {
	minutes := seconds / 60
	if minutes == 1 {
		return "1 minute"
	}
	if minutes == 0 {
		return strconv.FormatInt(seconds, 10) + " seconds"
	}
	return strconv.FormatInt(minutes, 10) + " minutes"
}

// mutate locks the session's participants plus actor and runs fn on a fresh
// copy of the session.
func (s *BuddySessionService) mutate(ctx context.Context, command string, sessionID, actor uuid.UUID, fn func(t *txn, session *domain.BuddyStudySession) error) (*domain.BuddyStudySession, error) {
	ids, err := participantsOf(ctx, s.repos.BuddySession.GetByID, sessionID, domain.ErrSessionNotFound,
		func(session *domain.BuddyStudySession) []uuid.UUID { return session.Participants() })
	if err != nil {
		return nil, err
	}
	if actor != uuid.Nil {
		ids = append(ids, actor)
	}

	var result *domain.BuddyStudySession
	err = s.run(ctx, command, ids, func(t *txn) error {
		session, err := t.repos.BuddySession.GetByID(t.ctx, sessionID)
		if err != nil {
			return mapNotFound(err, domain.ErrSessionNotFound)
		}
		if err := fn(t, session); err != nil {
			return err
		}
		result = session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Accept starts the countdown. Only the responder may accept, and only a
// pending session.
func (s *BuddySessionService) Accept(ctx context.Context, sessionID, responderID uuid.UUID) (*domain.BuddyStudySession, error) {
	return s.mutate(ctx, "buddy_session.accept", sessionID, responderID, func(t *txn, session *domain.BuddyStudySession) error {
		if session.ResponderID != responderID {
			return domain.ErrNotResponder
		}
		if session.Status != domain.BuddySessionPending {
			return domain.ErrWrongStatus
		}

		session.Start(t.now)
		if err := t.repos.BuddySession.Update(t.ctx, session); err != nil {
			return err
		}
		t.emit(sessionChange(session))

		deadline, _ := session.Deadline()
		id := session.ID
		t.afterCommit(func() { s.scheduler.Schedule(id, deadline) })
		t.notify(notify.Notification{
			UserID: session.ProposerID,
			Event:  notify.EventSessionAccepted,
			Title:  "Study session started",
			Body:   session.TaskName,
			Data:   map[string]string{"sessionId": id.String()},
		})
		return nil
	})
}

// Reject declines a pending request. Only the responder may reject.
func (s *BuddySessionService) Reject(ctx context.Context, sessionID, userID uuid.UUID) (*domain.BuddyStudySession, error) {
	return s.mutate(ctx, "buddy_session.reject", sessionID, userID, func(t *txn, session *domain.BuddyStudySession) error {
		if session.ResponderID != userID {
			return domain.ErrNotResponder
		}
		return closePendingLocked(t, session, domain.BuddySessionRejected)
	})
}

// Cancel withdraws a pending request. Either participant may cancel.
func (s *BuddySessionService) Cancel(ctx context.Context, sessionID, userID uuid.UUID) (*domain.BuddyStudySession, error) {
	return s.mutate(ctx, "buddy_session.cancel", sessionID, userID, func(t *txn, session *domain.BuddyStudySession) error {
		if !session.Includes(userID) {
			return domain.ErrNotParticipant
		}
		return closePendingLocked(t, session, domain.BuddySessionCancelled)
	})
}

// CancelBetween cancels the pending request between requester and buddy,
// whichever of them proposed it.
func (s *BuddySessionService) CancelBetween(ctx context.Context, requesterID, buddyID uuid.UUID) (*domain.BuddyStudySession, error) {
	var result *domain.BuddyStudySession
	err := s.run(ctx, "buddy_session.cancel_between", []uuid.UUID{requesterID, buddyID}, func(t *txn) error {
		session, err := t.repos.BuddySession.GetOpenByPair(t.ctx, domain.PairKey(requesterID, buddyID))
		if err != nil {
			return mapNotFound(err, domain.ErrSessionNotFound)
		}
		if err := closePendingLocked(t, session, domain.BuddySessionCancelled); err != nil {
			return err
		}
		result = session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func closePendingLocked(t *txn, session *domain.BuddyStudySession, status domain.BuddySessionStatus) error {
	if session.Status != domain.BuddySessionPending {
		return domain.ErrWrongStatus
	}
	session.Close(status, 0, t.now)
	if err := t.repos.BuddySession.Update(t.ctx, session); err != nil {
		return err
	}
	t.emit(sessionChange(session))
	return nil
}

// End terminates an accepted session as completed or cancelled and credits
// min(now - startTime, duration) to both participants.
func (s *BuddySessionService) End(ctx context.Context, sessionID, requesterID uuid.UUID, status domain.BuddySessionStatus) (*domain.BuddyStudySession, error) {
	if status != domain.BuddySessionCompleted && status != domain.BuddySessionCancelled {
		return nil, domain.ErrInvalidStatus
	}
	return s.mutate(ctx, "buddy_session.end", sessionID, requesterID, func(t *txn, session *domain.BuddyStudySession) error {
		if !session.Includes(requesterID) {
			return domain.ErrNotParticipant
		}
		if session.Status != domain.BuddySessionAccepted {
			return domain.ErrWrongStatus
		}
		return s.endLocked(t, session, status)
	})
}

// Expire completes an accepted session whose countdown has run out. Either
// participant's client may call it; calling it again after completion
// returns the completed session.
func (s *BuddySessionService) Expire(ctx context.Context, sessionID, requesterID uuid.UUID) (*domain.BuddyStudySession, error) {
	result, err := s.mutate(ctx, "buddy_session.expire", sessionID, requesterID, func(t *txn, session *domain.BuddyStudySession) error {
		if !session.Includes(requesterID) {
			return domain.ErrNotParticipant
		}
		return s.expireLocked(t, session)
	})
	s.metrics.RecordExpiry(TriggerClient, outcome(err))
	return result, err
}

// expireDue is the scheduler's entry point. A session that is not yet due is
// rescheduled; one that already left the accepted state is ignored.
func (s *BuddySessionService) expireDue(ctx context.Context, sessionID uuid.UUID, trigger string) error {
	session, err := s.mutate(ctx, "buddy_session.expire", sessionID, uuid.Nil, func(t *txn, session *domain.BuddyStudySession) error {
		return s.expireLocked(t, session)
	})

	switch {
	case err == nil:
		s.metrics.RecordExpiry(trigger, "completed")
		s.logger.Debug("buddy session auto-completed", "session_id", session.ID, "trigger", trigger)
		return nil
	case errors.Is(err, domain.ErrNotExpired):
		if fresh, gerr := s.repos.BuddySession.GetByID(ctx, sessionID); gerr == nil {
			if deadline, ok := fresh.Deadline(); ok {
				s.scheduler.Schedule(sessionID, deadline)
			}
		}
		s.metrics.RecordExpiry(trigger, "not_due")
		return nil
	case errors.Is(err, domain.ErrWrongStatus), errors.Is(err, domain.ErrSessionNotFound):
		s.metrics.RecordExpiry(trigger, "closed")
		return nil
	default:
		s.metrics.RecordExpiry(trigger, "error")
		return err
	}
}

func (s *BuddySessionService) expireLocked(t *txn, session *domain.BuddyStudySession) error {
	switch session.Status {
	case domain.BuddySessionCompleted:
		return nil
	case domain.BuddySessionAccepted:
		if !session.ExpiredAt(t.now) {
			return domain.ErrNotExpired
		}
		return s.endLocked(t, session, domain.BuddySessionCompleted)
	default:
		return domain.ErrWrongStatus
	}
}

// endLocked closes an accepted session and credits both users.
func (s *BuddySessionService) endLocked(t *txn, session *domain.BuddyStudySession, status domain.BuddySessionStatus) error {
	elapsed := session.ElapsedAt(t.now)

	if elapsed > 0 {
		for _, id := range session.Participants() {
			u, err := t.user(id)
			if err != nil {
				return err
			}
			u.StudyStats.Credit(elapsed, t.now, t.loc)
			if err := t.saveUser(u, session.Other(id)); err != nil {
				return err
			}
		}
	}

	session.Close(status, elapsed, t.now)
	if err := t.repos.BuddySession.Update(t.ctx, session); err != nil {
		return err
	}
	t.emit(sessionChange(session))

	id := session.ID
	t.afterCommit(func() { s.scheduler.Cancel(id) })
	for _, userID := range session.Participants() {
		t.notify(notify.Notification{
			UserID: userID,
			Event:  notify.EventSessionEnded,
			Title:  "Study session " + string(status),
			Body:   session.TaskName,
			Data: map[string]string{
				"sessionId":       id.String(),
				"creditedSeconds": strconv.FormatInt(elapsed, 10),
			},
		})
	}
	return nil
}

// cancelOpenLocked force-closes whatever session is open for the pair. The
// caller must hold both participants' locks.
func (s *BuddySessionService) cancelOpenLocked(t *txn, pairKey string) error {
	session, err := t.repos.BuddySession.GetOpenByPair(t.ctx, pairKey)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if session.Status == domain.BuddySessionAccepted {
		return s.endLocked(t, session, domain.BuddySessionCancelled)
	}
	return closePendingLocked(t, session, domain.BuddySessionCancelled)
}

// Get returns a session visible to userID.
func (s *BuddySessionService) Get(ctx context.Context, sessionID, userID uuid.UUID) (*BuddySessionView, error) {
	session, err := s.repos.BuddySession.GetByID(ctx, sessionID)
	if err != nil {
		return nil, mapNotFound(err, domain.ErrSessionNotFound)
	}
	if !session.Includes(userID) {
		return nil, domain.ErrNotParticipant
	}
	return s.view(session), nil
}

// Active returns the open session between userID and their buddy, or nil.
func (s *BuddySessionService) Active(ctx context.Context, userID uuid.UUID) (*BuddySessionView, error) {
	user, err := s.repos.User.GetByID(ctx, userID)
	if err != nil {
		return nil, mapNotFound(err, domain.ErrUserNotFound)
	}
	if user.BuddyID == nil {
		return nil, nil
	}
	session, err := s.repos.BuddySession.GetOpenByPair(ctx, domain.PairKey(userID, *user.BuddyID))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.view(session), nil
}

// IncomingRequests returns pending sessions waiting for userID to respond.
func (s *BuddySessionService) IncomingRequests(ctx context.Context, userID uuid.UUID) ([]*domain.BuddyStudySession, error) {
	return s.repos.BuddySession.ListPendingForResponder(ctx, userID)
}

func (s *BuddySessionService) History(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.BuddyStudySession, error) {
	return s.repos.BuddySession.ListByUser(ctx, userID, limit)
}
