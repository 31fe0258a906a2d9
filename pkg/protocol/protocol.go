// Package protocol defines the JSON events exchanged over the real-time
// channel. Every event carries its name in the "type" field.
package protocol

import (
	"encoding/json"

	"collab-sync/pkg/ot"

	"github.com/pkg/errors"
)

const (
	TypeJoin         = "join_document"
	TypeLeave        = "leave_document"
	TypeInitialState = "initial_state"
	TypeOp           = "op"
	TypeOpApplied    = "op_applied"
	TypeCursor       = "cursor_update"
	TypePresence     = "presence"
	TypeError        = "error"
	TypePing         = "ping"
	TypePong         = "pong"
)

const (
	StatusJoined = "joined"
	StatusLeft   = "left"
)

type Join struct {
	Type       string `json:"type"`
	DocumentID string `json:"documentId"`
}

type Leave struct {
	Type       string `json:"type"`
	DocumentID string `json:"documentId"`
}

type InitialState struct {
	Type       string `json:"type"`
	DocumentID string `json:"documentId"`
	Content    string `json:"content"`
	Version    uint64 `json:"version"`
}

type Op struct {
	Type        string         `json:"type"`
	DocumentID  string         `json:"documentId"`
	BaseVersion uint64         `json:"baseVersion"`
	Operations  []ot.Operation `json:"operations"`
	OpID        string         `json:"opId"`
}

// OpApplied announces an accepted submission. OpID is only set on the copy
// delivered to the connection that submitted it.
type OpApplied struct {
	Type       string         `json:"type"`
	DocumentID string         `json:"documentId"`
	UserID     string         `json:"userId"`
	Operations []ot.Operation `json:"operations"`
	Version    uint64         `json:"version"`
	OpID       string         `json:"opId,omitempty"`
}

type Cursor struct {
	Type           string `json:"type"`
	DocumentID     string `json:"documentId"`
	CursorPosition int    `json:"cursorPosition"`
	SelectionStart int    `json:"selectionStart"`
	SelectionEnd   int    `json:"selectionEnd"`
	UserID         string `json:"userId,omitempty"`
	Email          string `json:"email,omitempty"`
}

type Presence struct {
	Type       string `json:"type"`
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
	Email      string `json:"email"`
	Status     string `json:"status"`
}

// Error is sent to one connection only.
type Error struct {
	Type       string `json:"type"`
	Status     int    `json:"status"`
	Message    string `json:"message"`
	DocumentID string `json:"documentId,omitempty"`
	OpID       string `json:"opId,omitempty"`
}

type Ping struct {
	Type string `json:"type"`
}

type Pong struct {
	Type string `json:"type"`
}

// Decode parses one event into its typed struct, returned by pointer.
func Decode(data []byte) (interface{}, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, errors.Wrap(err, "malformed message")
	}

	var msg interface{}
	switch head.Type {
	case TypeJoin:
		msg = &Join{}
	case TypeLeave:
		msg = &Leave{}
	case TypeInitialState:
		msg = &InitialState{}
	case TypeOp:
		msg = &Op{}
	case TypeOpApplied:
		msg = &OpApplied{}
	case TypeCursor:
		msg = &Cursor{}
	case TypePresence:
		msg = &Presence{}
	case TypeError:
		msg = &Error{}
	case TypePing:
		msg = &Ping{}
	case TypePong:
		msg = &Pong{}
	default:
		return nil, errors.Errorf("unknown message type %q", head.Type)
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, errors.Wrapf(err, "malformed %s message", head.Type)
	}
	return msg, nil
}

// Encode marshals an event. Events are plain structs, so failure means a
// programming error and yields nil.
func Encode(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
