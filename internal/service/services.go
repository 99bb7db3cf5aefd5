package service

import (
	"context"
	"time"

	"github.com/dom/studybuddy/internal/config"
	"github.com/dom/studybuddy/internal/domain"
	"github.com/dom/studybuddy/internal/repository"
	"github.com/google/uuid"
)

type Services struct {
	Auth    *AuthService
	Users   *UserService
	Pairing *PairingService
	Study   *StudyService
	Buddy   *BuddySessionService
	Pokes   *PokeService
	Tasks   *TaskService

	deps Deps
}

// NewServices wires every engine to the same clock, lock table and change
// feed. Fields of d left zero get defaults; d.Repos is always taken from repos.
func NewServices(repos *repository.Repositories, cfg *config.Config, d Deps) *Services {
	d.Repos = repos
	if d.Location == nil && cfg != nil {
		d.Location = cfg.StudyLocation
	}
	d = d.withDefaults()

	tasks := NewTaskService(d)
	buddy := NewBuddySessionService(d)

	auth := NewAuthService(repos.User, repos.Session, cfg)
	auth.clock = d.Clock

	return &Services{
		Auth:    auth,
		Users:   NewUserService(repos.User),
		Pairing: NewPairingService(d, buddy, tasks),
		Study:   NewStudyService(d),
		Buddy:   buddy,
		Pokes:   NewPokeService(d),
		Tasks:   tasks,
		deps:    d,
	}
}

// Deps returns the shared collaborators after defaults were applied.
func (s *Services) Deps() Deps {
	return s.deps
}

// StateSnapshot is the full view a realtime client renders on connect.
type StateSnapshot struct {
	User         *domain.User           `json:"user"`
	Buddy        *BuddyStatus           `json:"buddy"`
	Daily        *domain.DailyStudyData `json:"daily"`
	BuddyDaily   *domain.DailyStudyData `json:"buddyDaily,omitempty"`
	BuddySession *BuddySessionView      `json:"buddySession,omitempty"`
	UnreadPokes  []*domain.GeneralPoke  `json:"unreadPokes"`
	ServerTime   time.Time              `json:"serverTime"`
}

// Snapshot assembles the current state for userID from committed documents.
func (s *Services) Snapshot(ctx context.Context, userID uuid.UUID) (*StateSnapshot, error) {
	user, err := s.Users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	status, err := s.Pairing.Status(ctx, userID)
	if err != nil {
		return nil, err
	}
	daily, err := s.Study.DailySnapshot(ctx, userID, userID)
	if err != nil {
		return nil, err
	}

	snap := &StateSnapshot{
		User:       user,
		Buddy:      status,
		Daily:      daily,
		ServerTime: s.deps.Clock.Now(),
	}

	if status.Buddy != nil {
		d := status.Buddy.DailySnapshot(snap.ServerTime, s.deps.Location)
		snap.BuddyDaily = &d
	}

	if snap.BuddySession, err = s.Buddy.Active(ctx, userID); err != nil {
		return nil, err
	}
	if snap.UnreadPokes, err = s.Pokes.UnreadFor(ctx, userID); err != nil {
		return nil, err
	}
	return snap, nil
}
