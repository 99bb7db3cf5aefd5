package domain

import (
	"time"

	"github.com/google/uuid"
)

// SoloStudySession is one user's timed work interval.
type SoloStudySession struct {
	ID              uuid.UUID  `json:"id" gorm:"type:uuid;primary_key"`
	UserID          uuid.UUID  `json:"userId" gorm:"type:uuid;not null;index"`
	TaskName        string     `json:"taskName" gorm:"not null"`
	StartTime       time.Time  `json:"startTime" gorm:"not null"`
	EndTime         *time.Time `json:"endTime"`
	DurationSeconds int64      `json:"durationSeconds" gorm:"not null;default:0"`
	IsActive        bool       `json:"isActive" gorm:"not null;default:false"`

	// ActiveUserID mirrors UserID while the session is active and is unique,
	// so the store rejects a second active session for the same user.
	ActiveUserID *uuid.UUID `json:"-" gorm:"type:uuid;uniqueIndex"`

	Version   int64     `json:"version" gorm:"not null;default:1"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName returns the table name for GORM
func (SoloStudySession) TableName() string {
	return "study_sessions"
}

// NewSoloStudySession starts an active session at now.
func NewSoloStudySession(userID uuid.UUID, taskName string, now time.Time) *SoloStudySession {
	owner := userID
	return &SoloStudySession{
		ID:           uuid.New(),
		UserID:       userID,
		TaskName:     taskName,
		StartTime:    now,
		IsActive:     true,
		ActiveUserID: &owner,
		Version:      1,
		CreatedAt:    now,
	}
}

// Close ends the session and returns the credited whole seconds.
func (s *SoloStudySession) Close(now time.Time) int64 {
	seconds := int64(now.Sub(s.StartTime) / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	end := now
	s.EndTime = &end
	s.DurationSeconds = seconds
	s.IsActive = false
	s.ActiveUserID = nil
	return seconds
}
