package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/dom/studybuddy/internal/changefeed"
	"github.com/dom/studybuddy/internal/domain"
	"github.com/dom/studybuddy/internal/notify"
	"github.com/dom/studybuddy/internal/service"
	"github.com/dom/studybuddy/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu    sync.Mutex
	notes []notify.Notification
}

func (r *recordingSender) Send(n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recordingSender) events(userID uuid.UUID) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var events []notify.Event
	for _, n := range r.notes {
		if n.UserID == userID {
			events = append(events, n.Event)
		}
	}
	return events
}

func newUsers(t *testing.T, h *testutil.Harness, n int) []*domain.User {
	t.Helper()
	users := make([]*domain.User, n)
	for i := range users {
		users[i], _ = testutil.NewUserBuilder().BuildIn(t, h.Repos)
	}
	return users
}

// pairedUsers returns a harness with two buddies.
func pairedUsers(t *testing.T, deps ...service.Deps) (*testutil.Harness, *domain.User, *domain.User) {
	t.Helper()
	h := testutil.NewHarness(t, deps...)
	users := newUsers(t, h, 2)
	testutil.Pair(t, h, users[0].ID, users[1].ID)
	return h, users[0], users[1]
}

func reload(t *testing.T, h *testutil.Harness, id uuid.UUID) *domain.User {
	t.Helper()
	u, err := h.Repos.User.GetByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

// collect drains every change currently buffered on sub.
func collect(sub *changefeed.Subscription) []changefeed.Change {
	var out []changefeed.Change
	for sub.Pending() > 0 {
		c, err := sub.Next(context.Background())
		if err != nil {
			break
		}
		out = append(out, c)
	}
	return out
}
