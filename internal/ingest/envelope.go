package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound message types sent by the browser extension.
const (
	TypeSessionStateChanged = "session_state_changed"
	TypeEventLogged         = "event_logged"
	TypeTabEvent            = "tab_event"
	TypeWindowData          = "window_data"
	TypeUpdateBlacklist     = "update_blacklist"
)

// Outbound frame types and their fixed messages.
const (
	FrameConnected = "connected"
	FrameError     = "error"

	MsgHello         = "Hello, World!"
	MsgInvalidFormat = "Invalid message format"
	MsgNoSession     = "No session started"
)

// ErrInvalidFormat is wrapped by every envelope validation failure.
var ErrInvalidFormat = errors.New("invalid message format")

// Envelope is the {type, message} wrapper around every inbound frame.
// Message is always a JSON object; its shape depends on Type.
type Envelope struct {
	Type    string
	Message json.RawMessage
}

// Frame is an outbound message.
type Frame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ConnectedFrame greets a client once the channel is open.
func ConnectedFrame() Frame {
	return Frame{Type: FrameConnected, Message: MsgHello}
}

// ErrorFrame reports a recoverable problem back to the client.
func ErrorFrame(msg string) Frame {
	return Frame{Type: FrameError, Message: msg}
}

// DecodeEnvelope validates one inbound frame. It succeeds only when raw is a
// JSON object holding exactly the keys "type" (a string) and "message" (an
// object).
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if fields == nil {
		return Envelope{}, fmt.Errorf("%w: top level is not an object", ErrInvalidFormat)
	}
	if len(fields) != 2 {
		return Envelope{}, fmt.Errorf("%w: expected keys type and message, got %d keys", ErrInvalidFormat, len(fields))
	}

	rawType, ok := fields["type"]
	if !ok {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrInvalidFormat)
	}
	rawMessage, ok := fields["message"]
	if !ok {
		return Envelope{}, fmt.Errorf("%w: missing message", ErrInvalidFormat)
	}

	if kind(rawType) != '"' {
		return Envelope{}, fmt.Errorf("%w: type is not a string", ErrInvalidFormat)
	}
	var env Envelope
	if err := json.Unmarshal(rawType, &env.Type); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	if kind(rawMessage) != '{' {
		return Envelope{}, fmt.Errorf("%w: message is not an object", ErrInvalidFormat)
	}
	env.Message = rawMessage

	return env, nil
}

// kind returns the first significant byte of a JSON value, which identifies
// its kind: '"' string, '{' object, '[' array, 'n' null and so on.
func kind(v json.RawMessage) byte {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return 0
	}
	return v[0]
}
