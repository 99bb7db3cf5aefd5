package postgres

import (
	"context"

	"github.com/dom/studybuddy/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type pokeRepository struct {
	db *gorm.DB
}

func NewPokeRepository(db *gorm.DB) *pokeRepository {
	return &pokeRepository{db: db}
}

func (r *pokeRepository) Create(ctx context.Context, poke *domain.GeneralPoke) error {
	if poke.Version == 0 {
		poke.Version = 1
	}
	return translate(r.db.WithContext(ctx).Create(poke).Error)
}

func (r *pokeRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.GeneralPoke, error) {
	var poke domain.GeneralPoke
	if err := r.db.WithContext(ctx).First(&poke, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &poke, nil
}

func (r *pokeRepository) Update(ctx context.Context, poke *domain.GeneralPoke) error {
	return updateVersioned(ctx, r.db, poke, &poke.Version, "id", poke.ID)
}

func (r *pokeRepository) ListUnread(ctx context.Context, toUserID uuid.UUID) ([]*domain.GeneralPoke, error) {
	var pokes []*domain.GeneralPoke
	err := r.db.WithContext(ctx).
		Where(`to_user_id = ? AND "read" = ?`, toUserID, false).
		Order(`"timestamp" DESC, id`).
		Find(&pokes).Error
	if err != nil {
		return nil, translate(err)
	}
	return pokes, nil
}
