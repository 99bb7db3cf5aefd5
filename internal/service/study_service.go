package service

import (
	"context"
	"errors"
	"strings"

	"github.com/dom/studybuddy/internal/changefeed"
	"github.com/dom/studybuddy/internal/domain"
	"github.com/dom/studybuddy/internal/repository"
	"github.com/google/uuid"
)

const defaultHistoryLimit = 50

// StudyService tracks solo study sessions and each user's daily totals.
type StudyService struct {
	*engine
}

func NewStudyService(d Deps) *StudyService {
	return &StudyService{engine: newEngine(d, "study")}
}

func soloChange(session *domain.SoloStudySession, audience []uuid.UUID) changefeed.Change {
	return changefeed.Change{
		Kind:     changefeed.KindSoloSession,
		EntityID: session.ID.String(),
		Version:  session.Version,
		Op:       changefeed.OpUpsert,
		Audience: audience,
		Document: *session,
	}
}

func audienceOf(u *domain.User) []uuid.UUID {
	if u.BuddyID != nil {
		return []uuid.UUID{u.ID, *u.BuddyID}
	}
	return []uuid.UUID{u.ID}
}

// Start opens a solo session for userID. A user has at most one.
func (s *StudyService) Start(ctx context.Context, userID uuid.UUID, taskName string) (*domain.SoloStudySession, error) {
	taskName = strings.TrimSpace(taskName)
	if taskName == "" {
		return nil, domain.ErrInvalidInput
	}

	var result *domain.SoloStudySession
	err := s.run(ctx, "study.start", []uuid.UUID{userID}, func(t *txn) error {
		user, err := t.user(userID)
		if err != nil {
			return err
		}
		if user.StudyStats.IsCurrentlyStudying {
			return domain.ErrAlreadyStudying
		}

		session := domain.NewSoloStudySession(userID, taskName, t.now)
		if err := t.repos.StudySession.Create(t.ctx, session); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return domain.ErrAlreadyStudying
			}
			return err
		}

		user.StudyStats.BeginStudying(session.ID, taskName, t.now)
		if err := t.saveUser(user); err != nil {
			return err
		}
		t.emit(soloChange(session, audienceOf(user)))
		result = session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Stop closes the session and folds its duration into the user's totals.
// If the stored daily bucket belongs to an earlier day it is replaced by this
// session's duration instead of added to.
func (s *StudyService) Stop(ctx context.Context, userID, sessionID uuid.UUID) (*domain.SoloStudySession, error) {
	var result *domain.SoloStudySession
	err := s.run(ctx, "study.stop", []uuid.UUID{userID}, func(t *txn) error {
		session, err := t.repos.StudySession.GetByID(t.ctx, sessionID)
		if err != nil {
			return mapNotFound(err, domain.ErrSessionNotFound)
		}
		if session.UserID != userID {
			return domain.ErrNotOwner
		}
		if !session.IsActive {
			return domain.ErrSessionNotFound
		}

		user, err := t.user(userID)
		if err != nil {
			return err
		}

		seconds := session.Close(t.now)
		if err := t.repos.StudySession.Update(t.ctx, session); err != nil {
			return err
		}

		user.StudyStats.Credit(seconds, t.now, t.loc)
		user.StudyStats.EndStudying()
		if err := t.saveUser(user); err != nil {
			return err
		}
		t.emit(soloChange(session, audienceOf(user)))
		result = session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DailySnapshot projects the user's daily total onto today without writing.
// viewerID must be the user or their buddy.
func (s *StudyService) DailySnapshot(ctx context.Context, viewerID, userID uuid.UUID) (*domain.DailyStudyData, error) {
	user, err := s.visibleUser(ctx, viewerID, userID)
	if err != nil {
		return nil, err
	}
	snapshot := user.DailySnapshot(s.clock.Now(), s.loc)
	return &snapshot, nil
}

// Stats returns lifetime totals with the daily figure projected onto today.
func (s *StudyService) Stats(ctx context.Context, viewerID, userID uuid.UUID) (*domain.StudyStats, error) {
	user, err := s.visibleUser(ctx, viewerID, userID)
	if err != nil {
		return nil, err
	}
	stats := user.StudyStats
	stats.DailySeconds = stats.DailyAt(s.clock.Now(), s.loc)
	return &stats, nil
}

func (s *StudyService) ActiveSession(ctx context.Context, userID uuid.UUID) (*domain.SoloStudySession, error) {
	session, err := s.repos.StudySession.GetActiveByUser(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return session, err
}

// History returns the user's solo sessions, newest first.
func (s *StudyService) History(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.SoloStudySession, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.repos.StudySession.ListByUser(ctx, userID, limit)
}

func (s *StudyService) visibleUser(ctx context.Context, viewerID, userID uuid.UUID) (*domain.User, error) {
	user, err := s.repos.User.GetByID(ctx, userID)
	if err != nil {
		return nil, mapNotFound(err, domain.ErrUserNotFound)
	}
	if viewerID != userID && !user.IsBuddyOf(viewerID) {
		return nil, domain.ErrNotPaired
	}
	return user, nil
}
