package service

import (
	"context"
	"errors"
	"sort"

	"github.com/dom/studybuddy/internal/changefeed"
	"github.com/dom/studybuddy/internal/domain"
	"github.com/dom/studybuddy/internal/notify"
	"github.com/dom/studybuddy/internal/repository"
	"github.com/google/uuid"
)

// PairingService owns the buddy pair lifecycle:
// none -> pending(initiator) -> accepted -> none, with pending -> none on
// reject or cancel. A deleted pair is never resurrected; a fresh invite
// creates a new document under the same key.
type PairingService struct {
	*engine
	sessions *BuddySessionService
	tasks    *TaskService
}

func NewPairingService(d Deps, sessions *BuddySessionService, tasks *TaskService) *PairingService {
	return &PairingService{
		engine:   newEngine(d, "pairing"),
		sessions: sessions,
		tasks:    tasks,
	}
}

// BuddyStatus is everything a client needs to render the pairing panel.
type BuddyStatus struct {
	Buddy    *domain.User        `json:"buddy"`
	Pair     *domain.BuddyPair   `json:"pair"`
	Incoming []*domain.BuddyPair `json:"incoming"`
	Outgoing *domain.BuddyPair   `json:"outgoing"`
}

func pairChange(pair *domain.BuddyPair) changefeed.Change {
	return changefeed.Change{
		Kind:     changefeed.KindPair,
		EntityID: pair.InstanceID.String(),
		Version:  pair.Version,
		Op:       changefeed.OpUpsert,
		Audience: pair.Participants(),
		Document: *pair,
	}
}

func pairDeleted(pair *domain.BuddyPair) changefeed.Change {
	return changefeed.Change{
		Kind:     changefeed.KindPair,
		EntityID: pair.InstanceID.String(),
		Version:  pair.Version + 1,
		Op:       changefeed.OpDelete,
		Audience: pair.Participants(),
	}
}

// Invite sends a buddy invite from fromID to toID. If toID already invited
// fromID the existing invite is accepted instead.
func (s *PairingService) Invite(ctx context.Context, fromID, toID uuid.UUID) (*domain.BuddyPair, error) {
	if fromID == toID {
		return nil, domain.ErrSelfPairing
	}

	var result *domain.BuddyPair
	err := s.run(ctx, "pair.invite", []uuid.UUID{fromID, toID}, func(t *txn) error {
		from, err := t.user(fromID)
		if err != nil {
			return err
		}
		to, err := t.user(toID)
		if err != nil {
			return err
		}
		if from.HasBuddy() || to.HasBuddy() {
			return domain.ErrAlreadyPaired
		}

		existing, err := t.repos.Pair.GetByKey(t.ctx, domain.PairKey(fromID, toID))
		switch {
		case err == nil:
			if existing.Accepted {
				return domain.ErrAlreadyPaired
			}
			if existing.InitiatorID == fromID {
				return domain.ErrInviteExists
			}
			// Reciprocal invite: both sides want this pair.
			if err := s.acceptLocked(t, existing, from, to); err != nil {
				return err
			}
			result = existing
			return nil
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}

		if outgoing, err := outgoingInvite(t, fromID); err != nil {
			return err
		} else if outgoing != nil {
			return domain.ErrInviteExists
		}

		pair := domain.NewBuddyPair(fromID, toID, t.now)
		pair.UpdatedAt = t.now
		if err := t.repos.Pair.Create(t.ctx, pair); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return domain.ErrInviteExists
			}
			return err
		}
		t.emit(pairChange(pair))
		t.notify(notify.Notification{
			UserID: toID,
			Event:  notify.EventInviteReceived,
			Title:  "New buddy invite",
			Body:   from.DisplayName + " wants to be your study buddy",
			Data:   map[string]string{"pairKey": pair.Key, "fromUserId": fromID.String()},
		})
		result = pair
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func outgoingInvite(t *txn, userID uuid.UUID) (*domain.BuddyPair, error) {
	pairs, err := t.repos.Pair.ListByUser(t.ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, p := range pairs {
		if !p.Accepted && p.InitiatorID == userID {
			return p, nil
		}
	}
	return nil, nil
}

// acceptLocked marks pair accepted, links both users and discards every other
// pending invite either user is part of. Any command on such an invite must
// hold the lock of one of these two users, so deleting them here is safe.
func (s *PairingService) acceptLocked(t *txn, pair *domain.BuddyPair, a, b *domain.User) error {
	now := t.now
	pair.Accepted = true
	pair.PairedAt = &now
	pair.UpdatedAt = now
	if err := t.repos.Pair.Update(t.ctx, pair); err != nil {
		return err
	}
	t.emit(pairChange(pair))

	a.BuddyID = &b.ID
	b.BuddyID = &a.ID
	if err := t.saveUser(a); err != nil {
		return err
	}
	if err := t.saveUser(b); err != nil {
		return err
	}

	for _, userID := range []uuid.UUID{a.ID, b.ID} {
		pairs, err := t.repos.Pair.ListByUser(t.ctx, userID)
		if err != nil {
			return err
		}
		for _, other := range pairs {
			if other.Key == pair.Key || other.Accepted {
				continue
			}
			if err := t.repos.Pair.Delete(t.ctx, other.Key, other.Version); err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					continue
				}
				return err
			}
			t.emit(pairDeleted(other))
		}
	}

	accepter := a
	if accepter.ID == pair.InitiatorID {
		accepter = b
	}
	t.notify(notify.Notification{
		UserID: pair.InitiatorID,
		Event:  notify.EventInviteAccepted,
		Title:  "Invite accepted",
		Body:   accepter.DisplayName + " is now your study buddy",
		Data:   map[string]string{"pairKey": pair.Key},
	})
	return nil
}

// Accept accepts a pending invite. Only the invitee may accept.
func (s *PairingService) Accept(ctx context.Context, pairKey string, userID uuid.UUID) (*domain.BuddyPair, error) {
	low, high, err := domain.ParsePairKey(pairKey)
	if err != nil {
		return nil, err
	}

	var result *domain.BuddyPair
	err = s.run(ctx, "pair.accept", []uuid.UUID{low, high, userID}, func(t *txn) error {
		pair, err := t.repos.Pair.GetByKey(t.ctx, pairKey)
		if err != nil {
			return mapNotFound(err, domain.ErrNoSuchInvite)
		}
		if pair.Accepted {
			return domain.ErrNoSuchInvite
		}
		if !pair.Includes(userID) || pair.InitiatorID == userID {
			return domain.ErrNotInvitee
		}

		a, err := t.user(pair.LowUserID)
		if err != nil {
			return err
		}
		b, err := t.user(pair.HighUserID)
		if err != nil {
			return err
		}
		if a.HasBuddy() || b.HasBuddy() {
			return domain.ErrAlreadyPaired
		}

		if err := s.acceptLocked(t, pair, a, b); err != nil {
			return err
		}
		result = pair
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Reject deletes a pending invite. Only the invitee may reject.
func (s *PairingService) Reject(ctx context.Context, pairKey string, userID uuid.UUID) error {
	return s.deletePending(ctx, "pair.reject", pairKey, userID, func(pair *domain.BuddyPair) error {
		if pair.InviteeID() != userID {
			return domain.ErrNotInvitee
		}
		return nil
	})
}

// Cancel withdraws a pending invite. Only the initiator may cancel.
func (s *PairingService) Cancel(ctx context.Context, pairKey string, userID uuid.UUID) error {
	return s.deletePending(ctx, "pair.cancel", pairKey, userID, func(pair *domain.BuddyPair) error {
		if pair.InitiatorID != userID {
			return domain.ErrNotInitiator
		}
		return nil
	})
}

func (s *PairingService) deletePending(ctx context.Context, command, pairKey string, userID uuid.UUID, authorize func(*domain.BuddyPair) error) error {
	low, high, err := domain.ParsePairKey(pairKey)
	if err != nil {
		return err
	}

	return s.run(ctx, command, []uuid.UUID{low, high, userID}, func(t *txn) error {
		pair, err := t.repos.Pair.GetByKey(t.ctx, pairKey)
		if err != nil {
			return mapNotFound(err, domain.ErrNoSuchInvite)
		}
		if pair.Accepted {
			return domain.ErrNoSuchInvite
		}
		if err := authorize(pair); err != nil {
			return err
		}
		if err := t.repos.Pair.Delete(t.ctx, pair.Key, pair.Version); err != nil {
			return mapNotFound(err, domain.ErrNoSuchInvite)
		}
		t.emit(pairDeleted(pair))
		return nil
	})
}

// Remove dissolves an accepted pair. Either participant may remove it. Any
// open buddy session between the two is closed as cancelled and both users'
// task poke flags are cleared before the pair is deleted.
func (s *PairingService) Remove(ctx context.Context, pairKey string, userID uuid.UUID) error {
	low, high, err := domain.ParsePairKey(pairKey)
	if err != nil {
		return domain.ErrPairNotFound
	}

	return s.run(ctx, "pair.remove", []uuid.UUID{low, high, userID}, func(t *txn) error {
		pair, err := t.repos.Pair.GetByKey(t.ctx, pairKey)
		if err != nil {
			return mapNotFound(err, domain.ErrPairNotFound)
		}
		if !pair.Accepted {
			return domain.ErrPairNotFound
		}
		if !pair.Includes(userID) {
			return domain.ErrNotParticipant
		}

		if err := s.sessions.cancelOpenLocked(t, pair.Key); err != nil {
			return err
		}

		participants := pair.Participants()
		for _, id := range participants {
			if _, err := s.tasks.clearPokeFlagsLocked(t, id, participants...); err != nil {
				return err
			}
		}

		for _, id := range participants {
			u, err := t.user(id)
			if err != nil {
				return err
			}
			u.BuddyID = nil
			if err := t.saveUser(u, pair.Other(id)); err != nil {
				return err
			}
		}

		if err := t.repos.Pair.Delete(t.ctx, pair.Key, pair.Version); err != nil {
			return mapNotFound(err, domain.ErrPairNotFound)
		}
		t.emit(pairDeleted(pair))

		t.notify(notify.Notification{
			UserID: pair.Other(userID),
			Event:  notify.EventBuddyRemoved,
			Title:  "Buddy removed",
			Data:   map[string]string{"pairKey": pair.Key},
		})
		return nil
	})
}

// CurrentBuddyOf returns the other participant of userID's accepted pair, or
// nil if the user has no buddy.
func (s *PairingService) CurrentBuddyOf(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, err := s.repos.User.GetByID(ctx, userID)
	if err != nil {
		return nil, mapNotFound(err, domain.ErrUserNotFound)
	}
	if user.BuddyID == nil {
		return nil, nil
	}
	buddy, err := s.repos.User.GetByID(ctx, *user.BuddyID)
	if err != nil {
		return nil, mapNotFound(err, domain.ErrUserNotFound)
	}
	return buddy, nil
}

// IncomingInvites returns pending invites addressed to userID, newest first.
func (s *PairingService) IncomingInvites(ctx context.Context, userID uuid.UUID) ([]*domain.BuddyPair, error) {
	pairs, err := s.repos.Pair.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	incoming := make([]*domain.BuddyPair, 0, len(pairs))
	for _, p := range pairs {
		if !p.Accepted && p.InviteeID() == userID {
			incoming = append(incoming, p)
		}
	}
	sort.SliceStable(incoming, func(i, j int) bool {
		return incoming[i].InvitedAt.After(incoming[j].InvitedAt)
	})
	return incoming, nil
}

// OutgoingInvite returns the pending invite userID sent, or nil.
func (s *PairingService) OutgoingInvite(ctx context.Context, userID uuid.UUID) (*domain.BuddyPair, error) {
	pairs, err := s.repos.Pair.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, p := range pairs {
		if !p.Accepted && p.InitiatorID == userID {
			return p, nil
		}
	}
	return nil, nil
}

func (s *PairingService) Status(ctx context.Context, userID uuid.UUID) (*BuddyStatus, error) {
	status := &BuddyStatus{Incoming: []*domain.BuddyPair{}}

	buddy, err := s.CurrentBuddyOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	if buddy != nil {
		status.Buddy = buddy
		pair, err := s.repos.Pair.GetByKey(ctx, domain.PairKey(userID, buddy.ID))
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		status.Pair = pair
		return status, nil
	}

	if status.Incoming, err = s.IncomingInvites(ctx, userID); err != nil {
		return nil, err
	}
	if status.Outgoing, err = s.OutgoingInvite(ctx, userID); err != nil {
		return nil, err
	}
	return status, nil
}
