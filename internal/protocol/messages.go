// Package protocol defines the JSON frames exchanged between chat clients and
// the messaging gateway. Every frame is a single JSON object carried in one
// WebSocket text frame, discriminated by its "type" field.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// ---------------------------------------------------------------------------
// Frame type constants
// ---------------------------------------------------------------------------

// Client -> Server frame types.
const (
	TypeAuth             = "auth"
	TypeDirectMessage    = "direct_message"
	TypeGroupMessage     = "group_message"
	TypeTyping           = "typing"
	TypeSubscribeGroup   = "subscribe_group"
	TypeUnsubscribeGroup = "unsubscribe_group"
)

// Server -> Client frame types.
const (
	TypeAuthSuccess      = "auth_success"
	TypeAuthError        = "auth_error"
	TypeUnreadMessages   = "unread_messages"
	TypeNewDirectMessage = "new_direct_message"
	TypeNewGroupMessage  = "new_group_message"
	TypeTypingIndicator  = "typing_indicator"
	TypeSubscribed       = "subscribed"
	TypeUnsubscribed     = "unsubscribed"
	TypeMessageSent      = "message_sent"
	TypeError            = "error"
)

// Message kinds as stored and as sent on the wire.
const (
	KindDirect = "direct"
	KindGroup  = "group"
)

var validate = validator.New()

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope holds the frame type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so the rest of the payload can be decoded later.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server frames
// ---------------------------------------------------------------------------

// AuthMsg must be the first frame on every connection.
type AuthMsg struct {
	Type  string `json:"type"`
	Token string `json:"token" validate:"required"`
}

// DirectMessageMsg sends a 1:1 message. Content emptiness is checked by the
// router so it can answer with a dedicated error code.
type DirectMessageMsg struct {
	Type        string `json:"type"`
	RecipientID string `json:"recipientId" validate:"required"`
	Content     string `json:"content"`
}

// GroupMessageMsg sends a message to every member of a group.
type GroupMessageMsg struct {
	Type    string `json:"type"`
	GroupID string `json:"groupId" validate:"required"`
	Content string `json:"content"`
}

// TypingMsg relays a typing indicator to a single user or to a group's
// subscribers. At least one target must be set.
type TypingMsg struct {
	Type        string `json:"type"`
	RecipientID string `json:"recipientId,omitempty" validate:"required_without=GroupID"`
	GroupID     string `json:"groupId,omitempty" validate:"required_without=RecipientID"`
	IsTyping    bool   `json:"isTyping"`
}

// SubscribeGroupMsg asks for live fan-out of a group's messages.
type SubscribeGroupMsg struct {
	Type    string `json:"type"`
	GroupID string `json:"groupId" validate:"required"`
}

// UnsubscribeGroupMsg stops live fan-out of a group's messages.
type UnsubscribeGroupMsg struct {
	Type    string `json:"type"`
	GroupID string `json:"groupId" validate:"required"`
}

// ---------------------------------------------------------------------------
// Server -> Client frames
// ---------------------------------------------------------------------------

// Message is the wire representation of a persisted message.
type Message struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"recipientId,omitempty"`
	GroupID     string    `json:"groupId,omitempty"`
	Content     string    `json:"content"`
	Kind        string    `json:"kind"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"createdAt"`
}

// AuthSuccessMsg confirms the handshake and echoes the verified identity.
type AuthSuccessMsg struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// AuthErrorMsg reports a rejected token. The connection stays open.
type AuthErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// UnreadMessagesMsg is sent right after auth_success when the identity has
// unread direct messages.
type UnreadMessagesMsg struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// NewDirectMessageMsg pushes a direct message to its recipient.
type NewDirectMessageMsg struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// NewGroupMessageMsg pushes a group message to a live group member.
type NewGroupMessageMsg struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// TypingIndicatorMsg relays another user's typing state.
type TypingIndicatorMsg struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	GroupID  string `json:"groupId,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

// SubscribedMsg confirms a subscribe_group.
type SubscribedMsg struct {
	Type    string `json:"type"`
	GroupID string `json:"groupId"`
}

// UnsubscribedMsg confirms an unsubscribe_group.
type UnsubscribedMsg struct {
	Type    string `json:"type"`
	GroupID string `json:"groupId"`
}

// MessageSentMsg acknowledges that the sender's message was persisted.
type MessageSentMsg struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// DecodeEnvelope extracts the frame type without decoding the payload. The
// gateway uses it to gate unauthenticated connections before any
// type-specific validation runs.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("protocol: failed to parse frame: %w", err)
	}
	return env, nil
}

// ParseClientMessage parses raw WebSocket bytes into a typed, validated
// client frame. It returns the frame type, the decoded struct and any error.
// Unknown and server-only types are rejected.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return "", nil, err
	}
	msg, err := env.Decode()
	return env.Type, msg, err
}

// Decode unmarshals the envelope payload into the struct registered for its
// type and runs struct validation on it.
func (e Envelope) Decode() (interface{}, error) {
	var msg interface{}
	switch e.Type {
	case TypeAuth:
		msg = &AuthMsg{}
	case TypeDirectMessage:
		msg = &DirectMessageMsg{}
	case TypeGroupMessage:
		msg = &GroupMessageMsg{}
	case TypeTyping:
		msg = &TypingMsg{}
	case TypeSubscribeGroup:
		msg = &SubscribeGroupMsg{}
	case TypeUnsubscribeGroup:
		msg = &UnsubscribeGroupMsg{}
	default:
		return nil, &UnknownTypeError{Type: e.Type}
	}

	if err := json.Unmarshal(e.Raw, msg); err != nil {
		return nil, fmt.Errorf("protocol: failed to decode %q payload: %w", e.Type, err)
	}
	if err := validate.Struct(msg); err != nil {
		return nil, fmt.Errorf("protocol: invalid %q payload: %w", e.Type, err)
	}

	// Handlers receive values, not pointers.
	switch m := msg.(type) {
	case *AuthMsg:
		return *m, nil
	case *DirectMessageMsg:
		return *m, nil
	case *GroupMessageMsg:
		return *m, nil
	case *TypingMsg:
		return *m, nil
	case *SubscribeGroupMsg:
		return *m, nil
	case *UnsubscribeGroupMsg:
		return *m, nil
	}
	return msg, nil
}

// UnknownTypeError is returned for frame types the server does not accept.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("protocol: unknown client message type: %q", e.Type)
}

// NewServerMessage creates a JSON-encoded server frame. The msgType is
// injected into the payload under the "type" key regardless of what the
// payload struct carries.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	typ, _ := json.Marshal(msgType)
	m["type"] = typ

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}

// NewError is a shorthand for building an error frame.
func NewError(code, message string) ([]byte, error) {
	return NewServerMessage(TypeError, ErrorMsg{Code: code, Message: message})
}
