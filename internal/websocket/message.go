package websocket

import (
	"encoding/json"
	"time"

	"github.com/dom/studybuddy/internal/changefeed"
	"github.com/dom/studybuddy/internal/service"
)

type MessageType string

const (
	// Client to Server
	MessageTypeSyncState MessageType = "SYNC_STATE"

	// Server to Client
	MessageTypeStateSync MessageType = "STATE_SYNC"
	MessageTypeChange    MessageType = "CHANGE"
	MessageTypeError     MessageType = "ERROR"
)

// Message is the envelope for every frame. Seq increases by one per frame on
// a connection, starting at 1.
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Seq       int64           `json:"seq,omitempty"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      msgType,
		Payload:   payloadBytes,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// Server to Client payloads

type StateSyncPayload = service.StateSnapshot

// ChangePayload carries one committed change. Clients keep the highest
// version seen per (kind, entityId) and ignore anything older.
type ChangePayload struct {
	Kind     changefeed.Kind `json:"kind"`
	EntityID string          `json:"entityId"`
	Version  int64           `json:"version"`
	Op       changefeed.Op   `json:"op"`
	Document json.RawMessage `json:"document,omitempty"`
	At       time.Time       `json:"at"`
}

func newChangePayload(c changefeed.Change) (ChangePayload, error) {
	p := ChangePayload{
		Kind:     c.Kind,
		EntityID: c.EntityID,
		Version:  c.Version,
		Op:       c.Op,
		At:       c.At,
	}
	if c.Document != nil {
		doc, err := json.Marshal(c.Document)
		if err != nil {
			return p, err
		}
		p.Document = doc
	}
	return p, nil
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
