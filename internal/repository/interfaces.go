package repository

import (
	"context"
	"errors"

	"github.com/dom/studybuddy/internal/domain"
	"github.com/google/uuid"
)

// Store errors. These describe storage outcomes, not business rules; engines
// translate them into domain errors or retry on ErrVersionConflict.
var (
	ErrNotFound        = errors.New("record not found")
	ErrDuplicate       = errors.New("duplicate key")
	ErrVersionConflict = errors.New("version conflict")
)

// Update methods are compare-and-set on the document's Version. On success the
// stored version and the passed document's Version are both incremented.

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByDisplayName(ctx context.Context, displayName string) (*domain.User, error)
	ListUnpaired(ctx context.Context) ([]*domain.User, error)
	Update(ctx context.Context, user *domain.User) error
}

type SessionRepository interface {
	Create(ctx context.Context, session *domain.UserSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.UserSession, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.UserSession, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByUserID(ctx context.Context, userID uuid.UUID) error
}

type PairRepository interface {
	// Create fails with ErrDuplicate if a document already exists for the key.
	Create(ctx context.Context, pair *domain.BuddyPair) error
	GetByKey(ctx context.Context, key string) (*domain.BuddyPair, error)
	Update(ctx context.Context, pair *domain.BuddyPair) error
	Delete(ctx context.Context, key string, version int64) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.BuddyPair, error)
}

type StudySessionRepository interface {
	// Create fails with ErrDuplicate if the user already has an active session.
	Create(ctx context.Context, session *domain.SoloStudySession) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.SoloStudySession, error)
	GetActiveByUser(ctx context.Context, userID uuid.UUID) (*domain.SoloStudySession, error)
	Update(ctx context.Context, session *domain.SoloStudySession) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.SoloStudySession, error)
}

type BuddySessionRepository interface {
	// Create fails with ErrDuplicate if the pair already has an open session.
	Create(ctx context.Context, session *domain.BuddyStudySession) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.BuddyStudySession, error)
	GetOpenByPair(ctx context.Context, pairKey string) (*domain.BuddyStudySession, error)
	Update(ctx context.Context, session *domain.BuddyStudySession) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.BuddyStudySession, error)
	ListPendingForResponder(ctx context.Context, userID uuid.UUID) ([]*domain.BuddyStudySession, error)
	ListAccepted(ctx context.Context) ([]*domain.BuddyStudySession, error)
}

type PokeRepository interface {
	Create(ctx context.Context, poke *domain.GeneralPoke) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.GeneralPoke, error)
	Update(ctx context.Context, poke *domain.GeneralPoke) error
	// ListUnread returns unread pokes for the recipient, newest first.
	ListUnread(ctx context.Context, toUserID uuid.UUID) ([]*domain.GeneralPoke, error)
}

type TaskRepository interface {
	Create(ctx context.Context, task *domain.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	Update(ctx context.Context, task *domain.Task) error
	Delete(ctx context.Context, id uuid.UUID, version int64) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Task, error)
	ListPoked(ctx context.Context, userID uuid.UUID) ([]*domain.Task, error)
}

// Transactor runs fn against repositories bound to a single transaction. If
// fn returns an error every write made through those repositories is undone.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(repos *Repositories) error) error
}

type Repositories struct {
	User         UserRepository
	Session      SessionRepository
	Pair         PairRepository
	StudySession StudySessionRepository
	BuddySession BuddySessionRepository
	Poke         PokeRepository
	Task         TaskRepository
	Tx           Transactor
}
