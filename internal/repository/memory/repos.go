package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/dom/studybuddy/internal/domain"
	"github.com/dom/studybuddy/internal/repository"
	"github.com/google/uuid"
)

type userRepository struct {
	s    *Store
	undo *undoLog
}

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.s.users.exists(func(u *domain.User) bool { return u.DisplayName == user.DisplayName }) {
		return repository.ErrDuplicate
	}
	return r.s.users.insert(user.ID, user, r.undo)
}

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.users.get(id)
}

func (r *userRepository) GetByDisplayName(ctx context.Context, displayName string) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	found := r.s.users.filter(func(u *domain.User) bool { return u.DisplayName == displayName })
	if len(found) == 0 {
		return nil, repository.ErrNotFound
	}
	return found[0], nil
}

func (r *userRepository) ListUnpaired(ctx context.Context) ([]*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	users := r.s.users.filter(func(u *domain.User) bool { return u.BuddyID == nil })
	sort.Slice(users, func(i, j int) bool {
		if users[i].DisplayName != users[j].DisplayName {
			return users[i].DisplayName < users[j].DisplayName
		}
		return users[i].ID.String() < users[j].ID.String()
	})
	return users, nil
}

func (r *userRepository) Update(ctx context.Context, user *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.s.users.exists(func(u *domain.User) bool { return u.DisplayName == user.DisplayName && u.ID != user.ID }) {
		return repository.ErrDuplicate
	}
	return r.s.users.update(user.ID, user, r.undo)
}

type sessionRepository struct {
	s    *Store
	undo *undoLog
}

func (r *sessionRepository) Create(ctx context.Context, session *domain.UserSession) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.sessions.insert(session.ID, session, r.undo)
}

func (r *sessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.UserSession, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.sessions.get(id)
}

func (r *sessionRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.UserSession, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	found := r.s.sessions.filter(func(s *domain.UserSession) bool { return s.UserID == userID })
	if len(found) == 0 {
		return nil, repository.ErrNotFound
	}
	sort.Slice(found, func(i, j int) bool { return found[i].CreatedAt.After(found[j].CreatedAt) })
	return found[0], nil
}

func (r *sessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	err := r.s.sessions.remove(id, 0, r.undo)
	if err == repository.ErrNotFound {
		return nil
	}
	return err
}

func (r *sessionRepository) DeleteByUserID(ctx context.Context, userID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, s := range r.s.sessions.filter(func(s *domain.UserSession) bool { return s.UserID == userID }) {
		if err := r.s.sessions.remove(s.ID, 0, r.undo); err != nil {
			return err
		}
	}
	return nil
}

type pairRepository struct {
	s    *Store
	undo *undoLog
}

func (r *pairRepository) Create(ctx context.Context, pair *domain.BuddyPair) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.pairs.insert(pair.Key, pair, r.undo)
}

func (r *pairRepository) GetByKey(ctx context.Context, key string) (*domain.BuddyPair, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.pairs.get(key)
}

func (r *pairRepository) Update(ctx context.Context, pair *domain.BuddyPair) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.pairs.update(pair.Key, pair, r.undo)
}

func (r *pairRepository) Delete(ctx context.Context, key string, version int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.pairs.remove(key, version, r.undo)
}

func (r *pairRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.BuddyPair, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	pairs := r.s.pairs.filter(func(p *domain.BuddyPair) bool { return p.Includes(userID) })
	sort.Slice(pairs, func(i, j int) bool { return strings.Compare(pairs[i].Key, pairs[j].Key) < 0 })
	return pairs, nil
}

type studySessionRepository struct {
	s    *Store
	undo *undoLog
}

func (r *studySessionRepository) activeTaken(session *domain.SoloStudySession) bool {
	if session.ActiveUserID == nil {
		return false
	}
	return r.s.studySessions.exists(func(s *domain.SoloStudySession) bool {
		return s.ID != session.ID && s.ActiveUserID != nil && *s.ActiveUserID == *session.ActiveUserID
	})
}

func (r *studySessionRepository) Create(ctx context.Context, session *domain.SoloStudySession) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.activeTaken(session) {
		return repository.ErrDuplicate
	}
	return r.s.studySessions.insert(session.ID, session, r.undo)
}

func (r *studySessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.SoloStudySession, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.studySessions.get(id)
}

func (r *studySessionRepository) GetActiveByUser(ctx context.Context, userID uuid.UUID) (*domain.SoloStudySession, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	found := r.s.studySessions.filter(func(s *domain.SoloStudySession) bool {
		return s.ActiveUserID != nil && *s.ActiveUserID == userID
	})
	if len(found) == 0 {
		return nil, repository.ErrNotFound
	}
	return found[0], nil
}

func (r *studySessionRepository) Update(ctx context.Context, session *domain.SoloStudySession) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.activeTaken(session) {
		return repository.ErrDuplicate
	}
	return r.s.studySessions.update(session.ID, session, r.undo)
}

func (r *studySessionRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.SoloStudySession, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	sessions := r.s.studySessions.filter(func(s *domain.SoloStudySession) bool { return s.UserID == userID })
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].StartTime.After(sessions[j].StartTime) })
	return limitSlice(sessions, limit), nil
}

type buddySessionRepository struct {
	s    *Store
	undo *undoLog
}

func (r *buddySessionRepository) openTaken(session *domain.BuddyStudySession) bool {
	if session.ActivePairKey == nil {
		return false
	}
	return r.s.buddySessions.exists(func(s *domain.BuddyStudySession) bool {
		return s.ID != session.ID && s.ActivePairKey != nil && *s.ActivePairKey == *session.ActivePairKey
	})
}

func (r *buddySessionRepository) Create(ctx context.Context, session *domain.BuddyStudySession) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.openTaken(session) {
		return repository.ErrDuplicate
	}
	return r.s.buddySessions.insert(session.ID, session, r.undo)
}

func (r *buddySessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.BuddyStudySession, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.buddySessions.get(id)
}

func (r *buddySessionRepository) GetOpenByPair(ctx context.Context, pairKey string) (*domain.BuddyStudySession, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	found := r.s.buddySessions.filter(func(s *domain.BuddyStudySession) bool {
		return s.ActivePairKey != nil && *s.ActivePairKey == pairKey
	})
	if len(found) == 0 {
		return nil, repository.ErrNotFound
	}
	return found[0], nil
}

func (r *buddySessionRepository) Update(ctx context.Context, session *domain.BuddyStudySession) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.openTaken(session) {
		return repository.ErrDuplicate
	}
	return r.s.buddySessions.update(session.ID, session, r.undo)
}

func (r *buddySessionRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.BuddyStudySession, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	sessions := r.s.buddySessions.filter(func(s *domain.BuddyStudySession) bool { return s.Includes(userID) })
	sortSessionsNewest(sessions)
	return limitSlice(sessions, limit), nil
}

func (r *buddySessionRepository) ListPendingForResponder(ctx context.Context, userID uuid.UUID) ([]*domain.BuddyStudySession, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	sessions := r.s.buddySessions.filter(func(s *domain.BuddyStudySession) bool {
		return s.ResponderID == userID && s.Status == domain.BuddySessionPending
	})
	sortSessionsNewest(sessions)
	return sessions, nil
}

func (r *buddySessionRepository) ListAccepted(ctx context.Context) ([]*domain.BuddyStudySession, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	sessions := r.s.buddySessions.filter(func(s *domain.BuddyStudySession) bool {
		return s.Status == domain.BuddySessionAccepted
	})
	sortSessionsNewest(sessions)
	return sessions, nil
}

func sortSessionsNewest(sessions []*domain.BuddyStudySession) {
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
		}
		return sessions[i].ID.String() < sessions[j].ID.String()
	})
}

type pokeRepository struct {
	s    *Store
	undo *undoLog
}

func (r *pokeRepository) Create(ctx context.Context, poke *domain.GeneralPoke) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.pokes.insert(poke.ID, poke, r.undo)
}

func (r *pokeRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.GeneralPoke, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.pokes.get(id)
}

func (r *pokeRepository) Update(ctx context.Context, poke *domain.GeneralPoke) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.pokes.update(poke.ID, poke, r.undo)
}

func (r *pokeRepository) ListUnread(ctx context.Context, toUserID uuid.UUID) ([]*domain.GeneralPoke, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	pokes := r.s.pokes.filter(func(p *domain.GeneralPoke) bool { return p.ToUserID == toUserID && !p.Read })
	sort.Slice(pokes, func(i, j int) bool {
		if !pokes[i].Timestamp.Equal(pokes[j].Timestamp) {
			return pokes[i].Timestamp.After(pokes[j].Timestamp)
		}
		return pokes[i].ID.String() < pokes[j].ID.String()
	})
	return pokes, nil
}

type taskRepository struct {
	s    *Store
	undo *undoLog
}

func (r *taskRepository) Create(ctx context.Context, task *domain.Task) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.tasks.insert(task.ID, task, r.undo)
}

func (r *taskRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.tasks.get(id)
}

func (r *taskRepository) Update(ctx context.Context, task *domain.Task) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.tasks.update(task.ID, task, r.undo)
}

func (r *taskRepository) Delete(ctx context.Context, id uuid.UUID, version int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.tasks.remove(id, version, r.undo)
}

func (r *taskRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Task, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	tasks := r.s.tasks.filter(func(t *domain.Task) bool { return t.UserID == userID })
	sortTasks(tasks)
	return tasks, nil
}

func (r *taskRepository) ListPoked(ctx context.Context, userID uuid.UUID) ([]*domain.Task, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	tasks := r.s.tasks.filter(func(t *domain.Task) bool { return t.UserID == userID && t.IsPoked })
	sortTasks(tasks)
	return tasks, nil
}

func sortTasks(tasks []*domain.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID.String() < tasks[j].ID.String()
	})
}

func limitSlice[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
