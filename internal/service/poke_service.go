package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/dom/studybuddy/internal/changefeed"
	"github.com/dom/studybuddy/internal/domain"
	"github.com/dom/studybuddy/internal/notify"
	"github.com/google/uuid"
)

// DefaultPokeMessage is sent when the caller supplies no text.
const DefaultPokeMessage = "Hey, time to study!"

// PokeService delivers nudges between paired users.
type PokeService struct {
	*engine
}

func NewPokeService(d Deps) *PokeService {
	return &PokeService{engine: newEngine(d, "poke")}
}

func pokeChange(p *domain.GeneralPoke) changefeed.Change {
	return changefeed.Change{
		Kind:     changefeed.KindPoke,
		EntityID: p.ID.String(),
		Version:  p.Version,
		Op:       changefeed.OpUpsert,
		Audience: []uuid.UUID{p.ToUserID, p.FromUserID},
		Document: *p,
	}
}

// Send pokes toID. The two users must be buddies.
func (s *PokeService) Send(ctx context.Context, fromID, toID uuid.UUID, message string) (*domain.GeneralPoke, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		message = DefaultPokeMessage
	}
	if utf8.RuneCountInString(message) > domain.MaxPokeMessageLength {
		return nil, domain.ErrInvalidInput
	}

	var result *domain.GeneralPoke
	err := s.run(ctx, "poke.send", []uuid.UUID{fromID, toID}, func(t *txn) error {
		from, err := t.user(fromID)
		if err != nil {
			return err
		}
		if !from.IsBuddyOf(toID) {
			return domain.ErrNotPaired
		}

		poke := &domain.GeneralPoke{
			ID:         uuid.New(),
			FromUserID: fromID,
			ToUserID:   toID,
			Message:    message,
			Timestamp:  t.now,
			Version:    1,
		}
		if err := t.repos.Poke.Create(t.ctx, poke); err != nil {
			return err
		}
		t.emit(pokeChange(poke))
		t.notify(notify.Notification{
			UserID: toID,
			Event:  notify.EventPokeReceived,
			Title:  from.DisplayName + " poked you",
			Body:   message,
			Data:   map[string]string{"pokeId": poke.ID.String()},
		})
		result = poke
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MarkRead marks a poke read. Only the recipient may do this; marking an
// already read poke is a no-op.
func (s *PokeService) MarkRead(ctx context.Context, pokeID, userID uuid.UUID) (*domain.GeneralPoke, error) {
	var result *domain.GeneralPoke
	err := s.run(ctx, "poke.mark_read", []uuid.UUID{userID}, func(t *txn) error {
		poke, err := t.repos.Poke.GetByID(t.ctx, pokeID)
		if err != nil {
			return mapNotFound(err, domain.ErrPokeNotFound)
		}
		if poke.ToUserID != userID {
			return domain.ErrNotRecipient
		}
		result = poke
		if poke.Read {
			return nil
		}

		poke.Read = true
		if err := t.repos.Poke.Update(t.ctx, poke); err != nil {
			return err
		}
		t.emit(pokeChange(poke))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MarkAllRead marks every unread poke for userID read and returns how many
// changed.
func (s *PokeService) MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error) {
	count := 0
	err := s.run(ctx, "poke.mark_all_read", []uuid.UUID{userID}, func(t *txn) error {
		count = 0
		pokes, err := t.repos.Poke.ListUnread(t.ctx, userID)
		if err != nil {
			return err
		}
		for _, poke := range pokes {
			poke.Read = true
			if err := t.repos.Poke.Update(t.ctx, poke); err != nil {
				return err
			}
			t.emit(pokeChange(poke))
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// UnreadFor returns unread pokes, most recent first.
func (s *PokeService) UnreadFor(ctx context.Context, userID uuid.UUID) ([]*domain.GeneralPoke, error) {
	return s.repos.Poke.ListUnread(ctx, userID)
}

// LatestUnread returns the most recent unread poke, or nil.
func (s *PokeService) LatestUnread(ctx context.Context, userID uuid.UUID) (*domain.GeneralPoke, error) {
	pokes, err := s.repos.Poke.ListUnread(ctx, userID)
	if err != nil || len(pokes) == 0 {
		return nil, err
	}
	return pokes[0], nil
}
