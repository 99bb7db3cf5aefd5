package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dom/studybuddy/internal/changefeed"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client is one realtime connection for a user. A user may hold several.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID uuid.UUID
	sub    *changefeed.Subscription
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// seqMu orders sequence numbers with enqueue order.
	seqMu sync.Mutex
	seq   int64

	closeOnce sync.Once
}

func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		userID: userID,
		logger: hub.logger.With("user_id", userID),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *Client) UserID() uuid.UUID {
	return c.userID
}

func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read failed", "error", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("INVALID_MESSAGE", "Malformed message")
			continue
		}

		c.handleMessage(&msg)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// changePump forwards feed changes until the client closes. While the
// socket is slow the subscription coalesces, so only the newest version of
// each entity is waiting when the writer catches up.
func (c *Client) changePump() {
	for {
		change, err := c.sub.Next(c.ctx)
		if err != nil {
			if !errors.Is(err, changefeed.ErrClosed) && !errors.Is(err, context.Canceled) {
				c.logger.Warn("change stream ended", "error", err)
			}
			return
		}

		payload, err := newChangePayload(change)
		if err != nil {
			c.logger.Error("failed to encode change", "kind", change.Kind, "entity_id", change.EntityID, "error", err)
			continue
		}
		msg, err := NewMessage(MessageTypeChange, payload)
		if err != nil {
			c.logger.Error("failed to encode change", "error", err)
			continue
		}
		if !c.Send(msg) {
			return
		}
	}
}

func (c *Client) handleMessage(msg *Message) {
	switch msg.Type {
	case MessageTypeSyncState:
		c.syncState()
	default:
		c.sendError("UNKNOWN_MESSAGE", "Unknown message type")
	}
}

func (c *Client) syncState() {
	snapshot, err := c.hub.snapshots.Snapshot(c.ctx, c.userID)
	if err != nil {
		c.logger.Error("failed to build state snapshot", "error", err)
		c.sendError("SYNC_FAILED", "Could not load state")
		return
	}
	msg, err := NewMessage(MessageTypeStateSync, snapshot)
	if err != nil {
		c.logger.Error("failed to encode state snapshot", "error", err)
		return
	}
	c.Send(msg)
}

func (c *Client) sendError(code, message string) {
	msg, _ := NewMessage(MessageTypeError, ErrorPayload{
		Code:    code,
		Message: message,
	})
	c.Send(msg)
}

// Send stamps msg with the next sequence number and queues it. It blocks
// while the queue is full and returns false once the client is closed.
func (c *Client) Send(msg *Message) bool {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()

	if c.ctx.Err() != nil {
		return false
	}

	c.seq++
	msg.Seq = c.seq
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal message", "error", err)
		c.seq--
		return true
	}

	select {
	case c.send <- data:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// Close stops the change stream and the writer. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		if c.sub != nil {
			c.sub.Close()
		}
		c.seqMu.Lock()
		close(c.send)
		c.seqMu.Unlock()
	})
}
