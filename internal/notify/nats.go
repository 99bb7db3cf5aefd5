package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// NATSNotifier publishes each notification as JSON on the subject
// studybuddy.notify.<userId>.
type NATSNotifier struct {
	conn  *nats.Conn
	owned bool
}

func NewNATSNotifier(url string) (*NATSNotifier, error) {
	conn, err := nats.Connect(url,
		nats.Name("studybuddy"),
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSNotifier{conn: conn, owned: true}, nil
}

// NewNATSNotifierWithConn uses an existing connection and leaves closing it
// to the caller.
func NewNATSNotifierWithConn(conn *nats.Conn) *NATSNotifier {
	return &NATSNotifier{conn: conn}
}

// NATSSubject is the subject notifications for userID are published on.
func NATSSubject(userID uuid.UUID) string {
	return "studybuddy.notify." + userID.String()
}

func (n *NATSNotifier) Name() string { return "nats" }

func (n *NATSNotifier) Notify(ctx context.Context, note Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := note.encode()
	if err != nil {
		return err
	}
	return n.conn.Publish(NATSSubject(note.UserID), data)
}

func (n *NATSNotifier) Close() error {
	if !n.owned {
		return nil
	}
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return err
	}
	return nil
}
