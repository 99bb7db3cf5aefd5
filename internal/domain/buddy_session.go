package domain

import (
	"time"

	"github.com/google/uuid"
)

type BuddySessionStatus string

const (
	BuddySessionPending   BuddySessionStatus = "pending"
	BuddySessionAccepted  BuddySessionStatus = "accepted"
	BuddySessionCancelled BuddySessionStatus = "cancelled"
	BuddySessionCompleted BuddySessionStatus = "completed"
	BuddySessionRejected  BuddySessionStatus = "rejected"
)

// MaxSessionDurationSeconds caps a proposed countdown at one day.
const MaxSessionDurationSeconds int64 = 24 * 60 * 60

// IsOpen reports whether the status still counts against the one-session-per-pair limit.
func (s BuddySessionStatus) IsOpen() bool {
	return s == BuddySessionPending || s == BuddySessionAccepted
}

// IsTerminal reports whether no further transition is possible.
func (s BuddySessionStatus) IsTerminal() bool {
	return !s.IsOpen()
}

// BuddyStudySession is a synchronized countdown shared by two users.
type BuddyStudySession struct {
	ID              uuid.UUID          `json:"id" gorm:"type:uuid;primary_key"`
	ProposerID      uuid.UUID          `json:"proposerId" gorm:"type:uuid;not null;index"`
	ResponderID     uuid.UUID          `json:"responderId" gorm:"type:uuid;not null;index"`
	PairKey         string             `json:"pairKey" gorm:"type:varchar(80);not null;index"`
	TaskName        string             `json:"taskName" gorm:"not null"`
	DurationSeconds int64              `json:"durationSeconds" gorm:"not null"`
	Status          BuddySessionStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending'"`
	IsActive        bool               `json:"isActive" gorm:"not null;default:false"`
	StartTime       *time.Time         `json:"startTime"`
	EndTime         *time.Time         `json:"endTime"`
	CreditedSeconds int64              `json:"creditedSeconds" gorm:"not null;default:0"`

	// ActivePairKey holds PairKey while the session is pending or accepted and
	// is unique, so the store rejects a second open session for the pair.
	ActivePairKey *string `json:"-" gorm:"type:varchar(80);uniqueIndex"`

	Version   int64     `json:"version" gorm:"not null;default:1"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName returns the table name for GORM
func (BuddyStudySession) TableName() string {
	return "buddy_study_sessions"
}

// NewBuddyStudySession creates a pending proposal.
func NewBuddyStudySession(proposer, responder uuid.UUID, taskName string, durationSeconds int64, now time.Time) *BuddyStudySession {
	key := PairKey(proposer, responder)
	active := key
	return &BuddyStudySession{
		ID:              uuid.New(),
		ProposerID:      proposer,
		ResponderID:     responder,
		PairKey:         key,
		TaskName:        taskName,
		DurationSeconds: durationSeconds,
		Status:          BuddySessionPending,
		ActivePairKey:   &active,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Includes reports whether userID is the proposer or the responder.
func (s *BuddyStudySession) Includes(userID uuid.UUID) bool {
	return s.ProposerID == userID || s.ResponderID == userID
}

// Other returns the participant that is not userID.
func (s *BuddyStudySession) Other(userID uuid.UUID) uuid.UUID {
	if s.ProposerID == userID {
		return s.ResponderID
	}
	return s.ProposerID
}

// Participants returns proposer and responder.
func (s *BuddyStudySession) Participants() []uuid.UUID {
	return []uuid.UUID{s.ProposerID, s.ResponderID}
}

// Deadline is the instant the countdown reaches zero. ok is false before acceptance.
func (s *BuddyStudySession) Deadline() (deadline time.Time, ok bool) {
	if s.StartTime == nil {
		return time.Time{}, false
	}
	return s.StartTime.Add(time.Duration(s.DurationSeconds) * time.Second), true
}

// ElapsedAt is min(now - startTime, duration) in whole seconds, never negative.
func (s *BuddyStudySession) ElapsedAt(now time.Time) int64 {
	if s.StartTime == nil {
		return 0
	}
	elapsed := int64(now.Sub(*s.StartTime) / time.Second)
	if elapsed < 0 {
		return 0
	}
	if elapsed > s.DurationSeconds {
		return s.DurationSeconds
	}
	return elapsed
}

// RemainingAt is the countdown value both participants should render at now.
func (s *BuddyStudySession) RemainingAt(now time.Time) int64 {
	switch s.Status {
	case BuddySessionPending:
		return s.DurationSeconds
	case BuddySessionAccepted:
		return s.DurationSeconds - s.ElapsedAt(now)
	default:
		return 0
	}
}

// ExpiredAt reports whether an accepted session's countdown has run out.
func (s *BuddyStudySession) ExpiredAt(now time.Time) bool {
	deadline, ok := s.Deadline()
	return ok && s.Status == BuddySessionAccepted && !now.Before(deadline)
}

// Start moves a pending session to accepted with the engine-stamped origin.
func (s *BuddyStudySession) Start(now time.Time) {
	start := now
	s.Status = BuddySessionAccepted
	s.IsActive = true
	s.StartTime = &start
	s.UpdatedAt = now
}

// Close moves the session to a terminal status.
func (s *BuddyStudySession) Close(status BuddySessionStatus, credited int64, now time.Time) {
	s.Status = status
	s.IsActive = false
	s.ActivePairKey = nil
	s.CreditedSeconds = credited
	s.UpdatedAt = now
	if status == BuddySessionCompleted || (status == BuddySessionCancelled && s.StartTime != nil) {
		end := now
		s.EndTime = &end
	}
}
