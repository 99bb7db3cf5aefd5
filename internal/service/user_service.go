package service

import (
	"context"
	"sort"

	"github.com/dom/studybuddy/internal/domain"
	"github.com/dom/studybuddy/internal/repository"
	"github.com/google/uuid"
)

type UserService struct {
	userRepo repository.UserRepository
}

func NewUserService(userRepo repository.UserRepository) *UserService {
	return &UserService{userRepo: userRepo}
}

// AvailableUsers lists users without an accepted buddy, excluding userID,
// sorted by display name.
func (s *UserService) AvailableUsers(ctx context.Context, userID uuid.UUID) ([]*domain.User, error) {
	users, err := s.userRepo.ListUnpaired(ctx)
	if err != nil {
		return nil, err
	}
	available := make([]*domain.User, 0, len(users))
	for _, u := range users {
		if u.ID != userID {
			available = append(available, u)
		}
	}
	sort.SliceStable(available, func(i, j int) bool {
		return available[i].DisplayName < available[j].DisplayName
	})
	return available, nil
}

func (s *UserService) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, domain.ErrUserNotFound)
	}
	return user, nil
}
