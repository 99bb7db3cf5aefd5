package postgres

import (
	"context"

	"github.com/dom/studybuddy/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type buddySessionRepository struct {
	db *gorm.DB
}

func NewBuddySessionRepository(db *gorm.DB) *buddySessionRepository {
	return &buddySessionRepository{db: db}
}

func (r *buddySessionRepository) Create(ctx context.Context, session *domain.BuddyStudySession) error {
	if session.Version == 0 {
		session.Version = 1
	}
	return translate(r.db.WithContext(ctx).Create(session).Error)
}

func (r *buddySessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.BuddyStudySession, error) {
	var session domain.BuddyStudySession
	if err := r.db.WithContext(ctx).First(&session, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &session, nil
}

func (r *buddySessionRepository) GetOpenByPair(ctx context.Context, pairKey string) (*domain.BuddyStudySession, error) {
	var session domain.BuddyStudySession
	if err := r.db.WithContext(ctx).First(&session, "active_pair_key = ?", pairKey).Error; err != nil {
		return nil, translate(err)
	}
	return &session, nil
}

func (r *buddySessionRepository) Update(ctx context.Context, session *domain.BuddyStudySession) error {
	return updateVersioned(ctx, r.db, session, &session.Version, "id", session.ID)
}

func (r *buddySessionRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.BuddyStudySession, error) {
	var sessions []*domain.BuddyStudySession
	query := r.db.WithContext(ctx).
		Where("proposer_id = ? OR responder_id = ?", userID, userID).
		Order("created_at DESC, id")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&sessions).Error; err != nil {
		return nil, translate(err)
	}
	return sessions, nil
}

func (r *buddySessionRepository) ListPendingForResponder(ctx context.Context, userID uuid.UUID) ([]*domain.BuddyStudySession, error) {
	var sessions []*domain.BuddyStudySession
	err := r.db.WithContext(ctx).
		Where("responder_id = ? AND status = ?", userID, domain.BuddySessionPending).
		Order("created_at DESC, id").
		Find(&sessions).Error
	if err != nil {
		return nil, translate(err)
	}
	return sessions, nil
}

func (r *buddySessionRepository) ListAccepted(ctx context.Context) ([]*domain.BuddyStudySession, error) {
	var sessions []*domain.BuddyStudySession
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.BuddySessionAccepted).
		Order("created_at DESC, id").
		Find(&sessions).Error
	if err != nil {
		return nil, translate(err)
	}
	return sessions, nil
}
