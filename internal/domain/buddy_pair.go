package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// BuddyPair is the relationship document between exactly two users. Its key
// is derived from the sorted ids so reciprocal invites land on one document.
// InstanceID is fresh for every invite, so a pair recreated after a delete is
// a distinct entity to change consumers.
type BuddyPair struct {
	Key         string     `json:"key" gorm:"primaryKey;type:varchar(80)"`
	InstanceID  uuid.UUID  `json:"instanceId" gorm:"type:uuid;not null;uniqueIndex"`
	LowUserID   uuid.UUID  `json:"lowUserId" gorm:"type:uuid;not null;index"`
	HighUserID  uuid.UUID  `json:"highUserId" gorm:"type:uuid;not null;index"`
	InitiatorID uuid.UUID  `json:"initiatorId" gorm:"type:uuid;not null;index"`
	Accepted    bool       `json:"accepted" gorm:"not null;default:false"`
	InvitedAt   time.Time  `json:"invitedAt" gorm:"not null"`
	PairedAt    *time.Time `json:"pairedAt"`
	Version     int64      `json:"version" gorm:"not null;default:1"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// TableName returns the table name for GORM
func (BuddyPair) TableName() string {
	return "buddy_pairs"
}

// CanonicalPair orders two user ids lexicographically, smallest first.
func CanonicalPair(a, b uuid.UUID) (low, high uuid.UUID) {
	if strings.Compare(a.String(), b.String()) <= 0 {
		return a, b
	}
	return b, a
}

// PairKey is the deterministic document key for the unordered pair {a, b}.
func PairKey(a, b uuid.UUID) string {
	low, high := CanonicalPair(a, b)
	return low.String() + "_" + high.String()
}

// ParsePairKey splits a pair key into its two user ids.
func ParsePairKey(key string) (low, high uuid.UUID, err error) {
	lowStr, highStr, ok := strings.Cut(key, "_")
	if !ok {
		return uuid.Nil, uuid.Nil, ErrNoSuchInvite
	}
	if low, err = uuid.Parse(lowStr); err != nil {
		return uuid.Nil, uuid.Nil, ErrNoSuchInvite
	}
	if high, err = uuid.Parse(highStr); err != nil {
		return uuid.Nil, uuid.Nil, ErrNoSuchInvite
	}
	if PairKey(low, high) != key {
		return uuid.Nil, uuid.Nil, ErrNoSuchInvite
	}
	return low, high, nil
}

// NewBuddyPair creates a pending invite from initiator to invitee.
func NewBuddyPair(initiator, invitee uuid.UUID, now time.Time) *BuddyPair {
	low, high := CanonicalPair(initiator, invitee)
	return &BuddyPair{
		Key:         PairKey(initiator, invitee),
		InstanceID:  uuid.New(),
		LowUserID:   low,
		HighUserID:  high,
		InitiatorID: initiator,
		InvitedAt:   now,
		Version:     1,
	}
}

// Includes reports whether userID participates in the pair.
func (p *BuddyPair) Includes(userID uuid.UUID) bool {
	return p.LowUserID == userID || p.HighUserID == userID
}

// Other returns the participant that is not userID.
func (p *BuddyPair) Other(userID uuid.UUID) uuid.UUID {
	if p.LowUserID == userID {
		return p.HighUserID
	}
	return p.LowUserID
}

// InviteeID returns the participant who received the invite.
func (p *BuddyPair) InviteeID() uuid.UUID {
	return p.Other(p.InitiatorID)
}

// Participants returns both user ids in canonical order.
func (p *BuddyPair) Participants() []uuid.UUID {
	return []uuid.UUID{p.LowUserID, p.HighUserID}
}
