package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid register message
// ---------------------------------------------------------------------------

func TestParseClientMessage_Register(t *testing.T) {
	input := []byte(`{"type":"register","user_id":"2c69a9e9-8c3d-4b05-9d2e-0a9f8f3a1b9c"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeRegister {
		t.Fatalf("expected type %q, got %q", TypeRegister, msgType)
	}

	rm, ok := msg.(RegisterMsg)
	if !ok {
		t.Fatalf("expected RegisterMsg, got %T", msg)
	}
	if rm.UserID != "2c69a9e9-8c3d-4b05-9d2e-0a9f8f3a1b9c" {
		t.Errorf("unexpected user_id %q", rm.UserID)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a send_message message with an embedded payload
// ---------------------------------------------------------------------------

func TestParseClientMessage_SendMessage(t *testing.T) {
	input := []byte(`{"type":"send_message","match_id":"m-1","message":{"id":"msg-1","match_id":"m-1","sender":"u-1","content":"hey","created_at":1700000000000}}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeSendMessage {
		t.Fatalf("expected type %q, got %q", TypeSendMessage, msgType)
	}

	sm, ok := msg.(SendMessageMsg)
	if !ok {
		t.Fatalf("expected SendMessageMsg, got %T", msg)
	}
	if sm.MatchID != "m-1" {
		t.Errorf("expected match_id %q, got %q", "m-1", sm.MatchID)
	}
	if sm.Message.ID != "msg-1" || sm.Message.Content != "hey" {
		t.Errorf("unexpected embedded message: %+v", sm.Message)
	}
	if sm.Message.CreatedAt != 1700000000000 {
		t.Errorf("unexpected created_at: %d", sm.Message.CreatedAt)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing typing and stop_typing messages
// ---------------------------------------------------------------------------

func TestParseClientMessage_Typing(t *testing.T) {
	for _, tc := range []struct {
		input   string
		msgType string
	}{
		{`{"type":"typing","match_id":"m-1","user_id":"u-1"}`, TypeTyping},
		{`{"type":"stop_typing","match_id":"m-1","user_id":"u-1"}`, TypeStopTyping},
	} {
		msgType, msg, err := ParseClientMessage([]byte(tc.input))
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", tc.msgType, err)
		}
		if msgType != tc.msgType {
			t.Fatalf("expected type %q, got %q", tc.msgType, msgType)
		}
		switch m := msg.(type) {
		case TypingMsg:
			if m.MatchID != "m-1" || m.UserID != "u-1" {
				t.Errorf("unexpected typing payload: %+v", m)
			}
		case StopTypingMsg:
			if m.MatchID != "m-1" || m.UserID != "u-1" {
				t.Errorf("unexpected stop_typing payload: %+v", m)
			}
		default:
			t.Fatalf("unexpected message type %T", msg)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: Malformed and unknown messages
// ---------------------------------------------------------------------------

func TestParseClientMessage_InvalidJSON(t *testing.T) {
	_, _, err := ParseClientMessage([]byte(`{not json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseClientMessage_MissingType(t *testing.T) {
	_, _, err := ParseClientMessage([]byte(`{"match_id":"m-1"}`))
	if err == nil {
		t.Fatal("expected error for missing type field")
	}
}

func TestParseClientMessage_UnknownType(t *testing.T) {
	msgType, _, err := ParseClientMessage([]byte(`{"type":"new_message"}`))
	if err == nil {
		t.Fatal("expected error for server-only message type")
	}
	if msgType != TypeNewMessage {
		t.Errorf("expected echoed type %q, got %q", TypeNewMessage, msgType)
	}
}

// ---------------------------------------------------------------------------
// Test: Creating server messages
// ---------------------------------------------------------------------------

func TestNewServerMessage_NewMessage(t *testing.T) {
	payload := NewMessageMsg{
		Message: Message{
			ID:        "msg-1",
			MatchID:   "m-1",
			Sender:    "u-1",
			Content:   "hello",
			CreatedAt: 1700000000000,
		},
	}

	data, err := NewServerMessage(TypeNewMessage, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("server message is not valid JSON: %v", err)
	}
	if decoded["type"] != TypeNewMessage {
		t.Errorf("expected type %q, got %v", TypeNewMessage, decoded["type"])
	}
	msg, ok := decoded["message"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected embedded message object, got %T", decoded["message"])
	}
	if msg["content"] != "hello" {
		t.Errorf("expected content %q, got %v", "hello", msg["content"])
	}
}

func TestNewServerMessage_RateLimited(t *testing.T) {
	data, err := NewServerMessage(TypeRateLimited, RateLimitedMsg{RetryAfter: 42})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded RateLimitedMsg
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Type != TypeRateLimited {
		t.Errorf("expected type %q, got %q", TypeRateLimited, decoded.Type)
	}
	if decoded.RetryAfter != 42 {
		t.Errorf("expected retry_after 42, got %d", decoded.RetryAfter)
	}
}
