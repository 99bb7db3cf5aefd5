package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type User struct {
	ID           uuid.UUID  `json:"id" gorm:"type:uuid;primary_key"`
	PasswordHash string     `json:"-" gorm:"not null"`
	DisplayName  string     `json:"displayName" gorm:"uniqueIndex;not null"`
	BuddyID      *uuid.UUID `json:"buddyId" gorm:"type:uuid;index"`
	StudyStats   StudyStats `json:"studyStats" gorm:"embedded"`
	Version      int64      `json:"version" gorm:"not null;default:1"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// HasBuddy reports whether the user is in an accepted pair.
func (u *User) HasBuddy() bool {
	return u.BuddyID != nil
}

// IsBuddyOf reports whether other is this user's accepted buddy.
func (u *User) IsBuddyOf(other uuid.UUID) bool {
	return u.BuddyID != nil && *u.BuddyID == other
}

// StudyStats is the per-user aggregate maintained by the solo tracker and
// the buddy session coordinator.
type StudyStats struct {
	TotalSecondsStudied    int64           `json:"totalSecondsStudied" gorm:"not null;default:0"`
	TotalHoursStudied      int64           `json:"totalHoursStudied" gorm:"not null;default:0"`
	StudySessionsCompleted int64           `json:"studySessionsCompleted" gorm:"not null;default:0"`
	DailySeconds           int64           `json:"dailySeconds" gorm:"not null;default:0"`
	LastDailyReset         *datatypes.Date `json:"lastDailyReset"`
	LastStudyDate          *time.Time      `json:"lastStudyDate"`
	IsCurrentlyStudying    bool            `json:"isCurrentlyStudying" gorm:"not null;default:false"`
	CurrentSessionID       *uuid.UUID      `json:"currentSessionId,omitempty" gorm:"type:uuid"`
	CurrentTaskName        string          `json:"currentTaskName,omitempty"`
	CurrentStudyStartTime  *time.Time      `json:"currentStudyStartTime,omitempty"`
}

// CalendarDay returns the date-only value of t as observed in loc.
func CalendarDay(t time.Time, loc *time.Location) datatypes.Date {
	y, m, d := t.In(loc).Date()
	return datatypes.Date(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

func sameDay(a, b datatypes.Date) bool {
	ay, am, ad := time.Time(a).Date()
	by, bm, bd := time.Time(b).Date()
	return ay == by && am == bm && ad == bd
}

// IsNewDay reports whether the daily counter belongs to a day other than
// the calendar day of now.
func (s *StudyStats) IsNewDay(now time.Time, loc *time.Location) bool {
	if s.LastDailyReset == nil {
		return true
	}
	return !sameDay(*s.LastDailyReset, CalendarDay(now, loc))
}

// DailyAt is the daily total an observer should see at now. It never mutates.
func (s *StudyStats) DailyAt(now time.Time, loc *time.Location) int64 {
	if s.IsNewDay(now, loc) {
		return 0
	}
	return s.DailySeconds
}

// Credit records a finished interval of seconds. If the stored daily bucket
// belongs to another day it is replaced rather than added to.
func (s *StudyStats) Credit(seconds int64, now time.Time, loc *time.Location) {
	if seconds < 0 {
		seconds = 0
	}
	if s.IsNewDay(now, loc) {
		s.DailySeconds = seconds
	} else {
		s.DailySeconds += seconds
	}
	s.TotalSecondsStudied += seconds
	s.TotalHoursStudied = s.TotalSecondsStudied / 3600
	s.StudySessionsCompleted++

	today := CalendarDay(now, loc)
	studied := now
	s.LastDailyReset = &today
	s.LastStudyDate = &studied
}

// BeginStudying marks the solo session as the user's current one.
func (s *StudyStats) BeginStudying(sessionID uuid.UUID, taskName string, start time.Time) {
	s.IsCurrentlyStudying = true
	s.CurrentSessionID = &sessionID
	s.CurrentTaskName = taskName
	s.CurrentStudyStartTime = &start
}

// EndStudying clears the current solo session markers.
func (s *StudyStats) EndStudying() {
	s.IsCurrentlyStudying = false
	s.CurrentSessionID = nil
	s.CurrentTaskName = ""
	s.CurrentStudyStartTime = nil
}

// DailyStudyData is the read view of a user's day.
type DailyStudyData struct {
	UserID                uuid.UUID  `json:"userId"`
	DailySeconds          int64      `json:"dailySeconds"`
	IsCurrentlyStudying   bool       `json:"isCurrentlyStudying"`
	CurrentTaskName       string     `json:"currentTaskName,omitempty"`
	CurrentStudyStartTime *time.Time `json:"currentStudyStartTime,omitempty"`
	CurrentSessionID      *uuid.UUID `json:"currentSessionId,omitempty"`
}

// DailySnapshot projects the user's stats onto the calendar day of now.
func (u *User) DailySnapshot(now time.Time, loc *time.Location) DailyStudyData {
	return DailyStudyData{
		UserID:                u.ID,
		DailySeconds:          u.StudyStats.DailyAt(now, loc),
		IsCurrentlyStudying:   u.StudyStats.IsCurrentlyStudying,
		CurrentTaskName:       u.StudyStats.CurrentTaskName,
		CurrentStudyStartTime: u.StudyStats.CurrentStudyStartTime,
		CurrentSessionID:      u.StudyStats.CurrentSessionID,
	}
}

type UserSession struct {
	ID               uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	UserID           uuid.UUID `json:"userId" gorm:"type:uuid;not null"`
	RefreshTokenHash string    `json:"-" gorm:"not null"`
	ExpiresAt        time.Time `json:"expiresAt" gorm:"not null"`
	CreatedAt        time.Time `json:"createdAt"`
}
