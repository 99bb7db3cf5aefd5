// Package notify publishes push notifications to an external delivery
// system. Delivery is best effort: failures are logged and counted, never
// returned to the command that caused them.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dom/studybuddy/internal/metrics"
	"github.com/google/uuid"
)

type Event string

const (
	EventInviteReceived   Event = "invite_received"
	EventInviteAccepted   Event = "invite_accepted"
	EventBuddyRemoved     Event = "buddy_removed"
	EventSessionRequested Event = "buddy_session_requested"
	EventSessionAccepted  Event = "buddy_session_accepted"
	EventSessionEnded     Event = "buddy_session_ended"
	EventPokeReceived     Event = "poke_received"
)

type Notification struct {
	UserID uuid.UUID         `json:"userId"`
	Event  Event             `json:"event"`
	Title  string            `json:"title"`
	Body   string            `json:"body,omitempty"`
	Data   map[string]string `json:"data,omitempty"`
	At     time.Time         `json:"at"`
}

func (n Notification) encode() ([]byte, error) {
	return json.Marshal(n)
}

// Notifier is a delivery backend.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
	Close() error
}

var (
	errQueueFull = errors.New("notification queue full")
	errClosed    = errors.New("dispatcher closed")
)

const (
	defaultQueueSize = 256
	deliverTimeout   = 5 * time.Second
)

// Dispatcher queues notifications and delivers them from one goroutine so
// callers holding engine locks never wait on the network.
type Dispatcher struct {
	backend Notifier
	logger  *slog.Logger
	metrics metrics.Recorder

	// mu guards closed and the close of queue against concurrent Sends.
	mu     sync.RWMutex
	closed bool
	queue  chan Notification
	wg     sync.WaitGroup
	once   sync.Once
}

func NewDispatcher(backend Notifier, logger *slog.Logger, m metrics.Recorder) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	d := &Dispatcher{
		backend: backend,
		logger:  logger.With("component", "notify", "backend", backend.Name()),
		metrics: m,
		queue:   make(chan Notification, defaultQueueSize),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Send enqueues n. If the queue is full or the dispatcher is closed the
// notification is dropped.
func (d *Dispatcher) Send(n Notification) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("dispatcher closed, dropping notification", "event", n.Event, "user_id", n.UserID)
		d.metrics.RecordNotification(d.backend.Name(), errClosed)
		return
	}
	select {
	case d.queue <- n:
	default:
		d.logger.Warn("notification queue full, dropping", "event", n.Event, "user_id", n.UserID)
		d.metrics.RecordNotification(d.backend.Name(), errQueueFull)
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for n := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		err := d.backend.Notify(ctx, n)
		cancel()

		d.metrics.RecordNotification(d.backend.Name(), err)
		if err != nil {
			d.logger.Error("notification delivery failed", "event", n.Event, "user_id", n.UserID, "error", err)
		}
	}
}

// Close drains queued notifications and closes the backend.
func (d *Dispatcher) Close() error {
	var err error
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()

		d.wg.Wait()
		err = d.backend.Close()
	})
	return err
}

// LogNotifier writes notifications to the structured log. It is the default
// backend when no broker is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Name() string { return "log" }

func (l *LogNotifier) Notify(ctx context.Context, n Notification) error {
	l.logger.InfoContext(ctx, "push notification",
		"event", n.Event,
		"user_id", n.UserID,
		"title", n.Title,
		"body", n.Body,
	)
	return nil
}

func (l *LogNotifier) Close() error { return nil }
