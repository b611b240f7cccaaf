// Package protocol defines the WebSocket message types and structures used
// for communication between the client and the realtime server. All messages
// are serialized as JSON and follow a consistent envelope format with a type
// discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeRegister    = "register"
	TypeJoinChat    = "join_chat"
	TypeLeaveChat   = "leave_chat"
	TypeSendMessage = "send_message"
	TypeTyping      = "typing"
	TypeStopTyping  = "stop_typing"
	TypePing        = "ping"
)

// Server -> Client message types.
const (
	TypeRegistered     = "registered"
	TypeNewMessage     = "new_message"
	TypeUserTyping     = "user_typing"
	TypeUserStopTyping = "user_stop_typing"
	TypeNotification   = "notification"
	TypeRateLimited    = "rate_limited"
	TypeError          = "error"
	TypePong           = "pong"
)

// ---------------------------------------------------------------------------
// Shared payload shapes
// ---------------------------------------------------------------------------

// Message is the wire shape of a persisted chat message relayed to room
// members. The realtime channel never originates messages: every Message
// here was already durably stored over the HTTP path, and clients
// de-duplicate by ID against their polled state.
type Message struct {
	ID           string `json:"id"`
	MatchID      string `json:"match_id"`
	Sender       string `json:"sender"`
	SenderName   string `json:"sender_name,omitempty"`
	SenderAvatar string `json:"sender_avatar,omitempty"`
	Content      string `json:"content"`
	CreatedAt    int64  `json:"created_at"` // unix millis
}

// Notification is the wire shape of a notification record pushed to a user
// room. The polled notification endpoint remains the system of record.
type Notification struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Type       string `json:"type"` // match | message | superlike
	FromUser   string `json:"from_user"`
	FromName   string `json:"from_name,omitempty"`
	FromAvatar string `json:"from_avatar,omitempty"`
	CreatedAt  int64  `json:"created_at"` // unix millis
}

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
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
// Client -> Server message structs
// ---------------------------------------------------------------------------

// RegisterMsg binds the connection to the user's room. Re-registering a
// connection simply re-binds it.
type RegisterMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// JoinChatMsg adds the connection to a conversation room.
type JoinChatMsg struct {
	Type    string `json:"type"`
	MatchID string `json:"match_id"`
}

// LeaveChatMsg removes the connection from a conversation room.
type LeaveChatMsg struct {
	Type    string `json:"type"`
	MatchID string `json:"match_id"`
}

// SendMessageMsg relays an already-persisted chat message to the other
// members of the conversation room.
type SendMessageMsg struct {
	Type    string  `json:"type"`
	MatchID string  `json:"match_id"`
	Message Message `json:"message"`
}

// TypingMsg signals that the user started typing in a conversation.
type TypingMsg struct {
	Type    string `json:"type"`
	MatchID string `json:"match_id"`
	UserID  string `json:"user_id"`
}

// StopTypingMsg signals that the user stopped typing in a conversation.
type StopTypingMsg struct {
	Type    string `json:"type"`
	MatchID string `json:"match_id"`
	UserID  string `json:"user_id"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// RegisteredMsg confirms that the connection is bound to the user's room.
type RegisteredMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// NewMessageMsg delivers a chat message to the other members of a
// conversation room.
type NewMessageMsg struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// UserTypingMsg relays a typing indicator to the other room members.
type UserTypingMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// UserStopTypingMsg relays a stop-typing indicator to the other room members.
type UserStopTypingMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// NotificationMsg pushes a freshly written notification to the user's room.
type NotificationMsg struct {
	Type         string       `json:"type"`
	Notification Notification `json:"notification"`
}

// RateLimitedMsg is sent when the client has exceeded an action budget.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"` // seconds
}

// ErrorMsg communicates an error condition to the client.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeRegister:
		var m RegisterMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeJoinChat:
		var m JoinChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveChat:
		var m LeaveChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeStopTyping:
		var m StopTypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
