package postgres

import (
	"context"

	"github.com/dom/studybuddy/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type studySessionRepository struct {
	db *gorm.DB
}

func NewStudySessionRepository(db *gorm.DB) *studySessionRepository {
	return &studySessionRepository{db: db}
}

func (r *studySessionRepository) Create(ctx context.Context, session *domain.SoloStudySession) error {
	if session.Version == 0 {
		session.Version = 1
	}
	return translate(r.db.WithContext(ctx).Create(session).Error)
}

func (r *studySessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.SoloStudySession, error) {
	var session domain.SoloStudySession
	if err := r.db.WithContext(ctx).First(&session, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &session, nil
}

func (r *studySessionRepository) GetActiveByUser(ctx context.Context, userID uuid.UUID) (*domain.SoloStudySession, error) {
	var session domain.SoloStudySession
	if err := r.db.WithContext(ctx).First(&session, "active_user_id = ?", userID).Error; err != nil {
		return nil, translate(err)
	}
	return &session, nil
}

func (r *studySessionRepository) Update(ctx context.Context, session *domain.SoloStudySession) error {
	return updateVersioned(ctx, r.db, session, &session.Version, "id", session.ID)
}

func (r *studySessionRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.SoloStudySession, error) {
	var sessions []*domain.SoloStudySession
	query := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("start_time DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&sessions).Error; err != nil {
		return nil, translate(err)
	}
	return sessions, nil
}
