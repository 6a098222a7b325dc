// Package transport carries document ops and awareness updates between an
// agent and the relay server over a websocket.
package transport

import (
	"encoding/json"

	"github.com/pkg/errors"

	"collabtext/awareness"
	"collabtext/crdt"
)

// Type names the kind of a Message.
type Type string

const (
	// TypeOps carries document ops produced by one peer.
	TypeOps Type = "ops"
	// TypeSync carries the full op log of a room, sent by the server to a
	// client that just joined.
	TypeSync Type = "sync"
	// TypeAwareness carries one presence update. A removal is an update
	// with no state.
	TypeAwareness Type = "awareness"
)

// Message is the wire envelope.
type Message struct {
	Type      Type              `json:"type"`
	ClientID  string            `json:"clientID,omitempty"`
	Ops       []crdt.Op         `json:"ops,omitempty"`
	Awareness *awareness.Update `json:"awareness,omitempty"`
}

// Encode marshals m.
func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "encode message")
	}
	return b, nil
}

// Decode unmarshals a message and checks its type.
func Decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, errors.Wrap(err, "decode message")
	}
	switch m.Type {
	case TypeOps, TypeSync:
	case TypeAwareness:
		if m.Awareness == nil {
			return Message{}, errors.New("awareness message without update")
		}
	default:
		return Message{}, errors.Errorf("unknown message type %q", m.Type)
	}
	return m, nil
}

// Channel returns the relay channel for a room. Rooms with a password get
// a separate channel so only peers knowing it meet.
func Channel(room, password string) string {
	if password == "" {
		return room
	}
	return room + "-" + password
}
