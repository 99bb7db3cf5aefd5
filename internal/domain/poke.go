package domain

import (
	"time"

	"github.com/google/uuid"
)

// GeneralPoke is a lightweight nudge between paired users.
type GeneralPoke struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	FromUserID uuid.UUID `json:"fromUserId" gorm:"type:uuid;not null"`
	ToUserID   uuid.UUID `json:"toUserId" gorm:"type:uuid;not null;index:idx_pokes_recipient_unread"`
	Message    string    `json:"message" gorm:"not null"`
	Timestamp  time.Time `json:"timestamp" gorm:"not null"`
	Read       bool      `json:"read" gorm:"not null;default:false;index:idx_pokes_recipient_unread"`
	Version    int64     `json:"version" gorm:"not null;default:1"`
}

// TableName returns the table name for GORM
func (GeneralPoke) TableName() string {
	return "general_pokes"
}

// MaxPokeMessageLength bounds stored poke text.
const MaxPokeMessageLength = 280
