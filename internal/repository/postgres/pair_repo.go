package postgres

import (
	"context"

	"github.com/dom/studybuddy/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type pairRepository struct {
	db *gorm.DB
}

func NewPairRepository(db *gorm.DB) *pairRepository {
	return &pairRepository{db: db}
}

func (r *pairRepository) Create(ctx context.Context, pair *domain.BuddyPair) error {
	if pair.Version == 0 {
		pair.Version = 1
	}
	return translate(r.db.WithContext(ctx).Create(pair).Error)
}

func (r *pairRepository) GetByKey(ctx context.Context, key string) (*domain.BuddyPair, error) {
	var pair domain.BuddyPair
	if err := r.db.WithContext(ctx).First(&pair, "key = ?", key).Error; err != nil {
		return nil, translate(err)
	}
	return &pair, nil
}

func (r *pairRepository) Update(ctx context.Context, pair *domain.BuddyPair) error {
	return updateVersioned(ctx, r.db, pair, &pair.Version, "key", pair.Key)
}

func (r *pairRepository) Delete(ctx context.Context, key string, version int64) error {
	return deleteVersioned(ctx, r.db, &domain.BuddyPair{}, version, "key", key)
}

func (r *pairRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.BuddyPair, error) {
	var pairs []*domain.BuddyPair
	err := r.db.WithContext(ctx).
		Where("low_user_id = ? OR high_user_id = ?", userID, userID).
		Order("key").
		Find(&pairs).Error
	if err != nil {
		return nil, translate(err)
	}
	return pairs, nil
}
