package domain

import (
	"time"

	"github.com/google/uuid"
)

type EffortLevel string

const (
	EffortLight  EffortLevel = "light"
	EffortMedium EffortLevel = "medium"
	EffortHeavy  EffortLevel = "heavy"
)

// IsValid checks an effort level value.
func (e EffortLevel) IsValid() bool {
	switch e {
	case EffortLight, EffortMedium, EffortHeavy:
		return true
	}
	return false
}

// Task is a to-do item. While its owner is paired, completion is toggled by
// the buddy and the buddy may flag it as poked.
type Task struct {
	ID          uuid.UUID   `json:"id" gorm:"type:uuid;primary_key"`
	UserID      uuid.UUID   `json:"userId" gorm:"type:uuid;not null;index"`
	Name        string      `json:"name" gorm:"not null"`
	Effort      EffortLevel `json:"effort" gorm:"type:varchar(10);not null;default:'medium'"`
	DueDate     *time.Time  `json:"dueDate"`
	Completed   bool        `json:"completed" gorm:"not null;default:false"`
	CompletedAt *time.Time  `json:"completedAt"`
	IsPoked     bool        `json:"isPoked" gorm:"not null;default:false"`
	Version     int64       `json:"version" gorm:"not null;default:1"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// TableName returns the table name for GORM
func (Task) TableName() string {
	return "tasks"
}
