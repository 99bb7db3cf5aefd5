package websocket

import (
	"context"
	"log/slog"

	"github.com/dom/studybuddy/internal/changefeed"
	"github.com/dom/studybuddy/internal/metrics"
	"github.com/dom/studybuddy/internal/service"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
)

// Snapshotter builds the full state a client renders on connect.
type Snapshotter interface {
	Snapshot(ctx context.Context, userID uuid.UUID) (*service.StateSnapshot, error)
}

// Hub owns every realtime connection. Each client gets its own change feed
// subscription filtered to its user.
type Hub struct {
	feed      *changefeed.Feed
	snapshots Snapshotter
	metrics   metrics.Recorder
	logger    *slog.Logger

	clients    *xsync.Map[*Client, struct{}]
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	done       chan struct{}
}

func NewHub(feed *changefeed.Feed, snapshots Snapshotter, m metrics.Recorder, logger *slog.Logger) *Hub {
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		feed:       feed,
		snapshots:  snapshots,
		metrics:    m,
		logger:     logger.With("component", "hub"),
		clients:    xsync.NewMap[*Client, struct{}](),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.stop:
			h.clients.Range(func(client *Client, _ struct{}) bool {
				h.drop(client)
				return true
			})
			return

		case client := <-h.register:
			h.attach(client)

		case client := <-h.unregister:
			h.drop(client)
		}
	}
}

// attach subscribes before the snapshot is sent so nothing committed after
// the snapshot read can be missed. Changes already reflected in the snapshot
// may be delivered again; clients discard them by version.
func (h *Hub) attach(client *Client) {
	client.sub = h.feed.Subscribe(changefeed.Filter{UserID: client.userID})
	h.clients.Store(client, struct{}{})
	h.metrics.AddConnections(1)
	h.logger.Debug("client connected", "user_id", client.userID)

	go func() {
		client.syncState()
		client.changePump()
	}()
}

func (h *Hub) drop(client *Client) {
	if _, ok := h.clients.LoadAndDelete(client); !ok {
		return
	}
	client.Close()
	h.metrics.AddConnections(-1)
	h.logger.Debug("client disconnected", "user_id", client.userID)
}

// Stop closes every connection and waits for Run to exit.
func (h *Hub) Stop() {
	select {
	case <-h.stop:
	default:
		close(h.stop)
	}
	<-h.done
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Connections returns the number of open connections.
func (h *Hub) Connections() int {
	return h.clients.Size()
}

// ConnectionsFor returns the number of open connections for userID.
func (h *Hub) ConnectionsFor(userID uuid.UUID) int {
	n := 0
	h.clients.Range(func(client *Client, _ struct{}) bool {
		if client.userID == userID {
			n++
		}
		return true
	})
	return n
}
