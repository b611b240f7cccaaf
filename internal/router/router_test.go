package router

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/roarr/match-app/internal/protocol"
	"github.com/roarr/match-app/internal/ratelimit"
	"github.com/roarr/match-app/internal/ws"
)

// testClient is a ws.Connection backed by net.Pipe with a reader goroutine
// collecting everything the router writes to it.
type testClient struct {
	conn *ws.Connection
	recv chan map[string]interface{}
}

var nextIP int

func newTestClient(t *testing.T) *testClient {
	t.Helper()
	server, client := net.Pipe()
	nextIP++
	tc := &testClient{
		conn: &ws.Connection{
			ID:         uuid.New().String(),
			Conn:       server,
			Fd:         -1,
			RemoteAddr: fmt.Sprintf("10.0.0.%d", nextIP),
			CreatedAt:  time.Now(),
		},
		recv: make(chan map[string]interface{}, 16),
	}

	go func() {
		for {
			data, _, err := wsutil.ReadServerData(client)
			if err != nil {
				return
			}
			var m map[string]interface{}
			if json.Unmarshal(data, &m) == nil {
				tc.recv <- m
			}
		}
	}()

	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return tc
}

// expect waits for the next message and checks its type.
func (tc *testClient) expect(t *testing.T, msgType string) map[string]interface{} {
	t.Helper()
	select {
	case m := <-tc.recv:
		if m["type"] != msgType {
			t.Fatalf("expected %q message, got %v", msgType, m)
		}
		return m
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %q message", msgType)
		return nil
	}
}

// expectNone asserts no message arrives within a short window.
func (tc *testClient) expectNone(t *testing.T) {
	t.Helper()
	select {
	case m := <-tc.recv:
		t.Fatalf("unexpected message %v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

type memBridge struct {
	mu        sync.Mutex
	published map[string]int
	handlers  map[string]func([]byte)
}

func newMemBridge() *memBridge {
	return &memBridge{
		published: make(map[string]int),
		handlers:  make(map[string]func([]byte)),
	}
}

func (b *memBridge) PublishRoom(room string, data []byte) error {
	b.mu.Lock()
	b.published[room]++
	b.mu.Unlock()
	return nil
}

func (b *memBridge) SubscribeRoom(room string, handler func(data []byte)) error {
	b.mu.Lock()
	b.handlers[room] = handler
	b.mu.Unlock()
	return nil
}

func (b *memBridge) UnsubscribeRoom(room string) error {
	b.mu.Lock()
	delete(b.handlers, room)
	b.mu.Unlock()
	return nil
}

// deliverRemote simulates an event arriving from another instance.
func (b *memBridge) deliverRemote(room string, data []byte) bool {
	b.mu.Lock()
	handler, ok := b.handlers[room]
	b.mu.Unlock()
	if ok {
		handler(data)
	}
	return ok
}

func (b *memBridge) subscribed(room string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.handlers[room]
	return ok
}

type memPresence struct {
	mu      sync.Mutex
	online  []string
	offline []string
}

func (p *memPresence) SetOnline(_ context.Context, userID string) error {
	p.mu.Lock()
	p.online = append(p.online, userID)
	p.mu.Unlock()
	return nil
}

func (p *memPresence) SetOffline(_ context.Context, userID string) error {
	p.mu.Lock()
	p.offline = append(p.offline, userID)
	p.mu.Unlock()
	return nil
}

func (p *memPresence) Refresh(_ context.Context, _ string) error { return nil }

func register(t *testing.T, r *Router, tc *testClient, userID string) {
	t.Helper()
	r.HandleRegister(tc.conn, protocol.RegisterMsg{Type: protocol.TypeRegister, UserID: userID})
	m := tc.expect(t, protocol.TypeRegistered)
	if m["user_id"] != userID {
		t.Fatalf("registered for wrong user: %v", m)
	}
}

func joinChat(r *Router, tc *testClient, matchID string) {
	r.HandleJoinChat(tc.conn, protocol.JoinChatMsg{Type: protocol.TypeJoinChat, MatchID: matchID})
}

func TestRegister_InvalidUser(t *testing.T) {
	r := New(ratelimit.NewLimiter(), nil, nil)
	tc := newTestClient(t)

	r.HandleRegister(tc.conn, protocol.RegisterMsg{Type: protocol.TypeRegister, UserID: "not-a-uuid"})
	m := tc.expect(t, protocol.TypeError)
	if m["code"] != "invalid_user" {
		t.Errorf("unexpected error code %v", m["code"])
	}
}

func TestRegister_RateLimitedPerIP(t *testing.T) {
	r := New(ratelimit.NewLimiter(), nil, nil)
	tc := newTestClient(t)

	for i := 0; i < ratelimit.RuleRegister.Limit; i++ {
		register(t, r, tc, uuid.New().String())
	}

	r.HandleRegister(tc.conn, protocol.RegisterMsg{Type: protocol.TypeRegister, UserID: uuid.New().String()})
	m := tc.expect(t, protocol.TypeRateLimited)
	if m["retry_after"] == nil {
		t.Error("rate_limited message should carry retry_after")
	}
}

// Malformed register attempts spend rate-limit budget like valid ones, so a
// flood of garbage user ids from one IP gets throttled instead of retried
// forever.
func TestRegister_MalformedAttemptsChargeLimit(t *testing.T) {
	r := New(ratelimit.NewLimiter(), nil, nil)
	tc := newTestClient(t)

	for i := 0; i < ratelimit.RuleRegister.Limit; i++ {
		r.HandleRegister(tc.conn, protocol.RegisterMsg{Type: protocol.TypeRegister, UserID: "not-a-uuid"})
		m := tc.expect(t, protocol.TypeError)
		if m["code"] != "invalid_user" {
			t.Fatalf("attempt %d: unexpected error code %v", i, m["code"])
		}
	}

	r.HandleRegister(tc.conn, protocol.RegisterMsg{Type: protocol.TypeRegister, UserID: "not-a-uuid"})
	if m := tc.expect(t, protocol.TypeRateLimited); m["retry_after"] == nil {
		t.Error("rate_limited message should carry retry_after")
	}
}

func TestJoinChat_RequiresRegistration(t *testing.T) {
	r := New(ratelimit.NewLimiter(), nil, nil)
	tc := newTestClient(t)

	joinChat(r, tc, uuid.New().String())
	m := tc.expect(t, protocol.TypeError)
	if m["code"] != "not_registered" {
		t.Errorf("unexpected error code %v", m["code"])
	}
}

func TestSendMessage_RelaysToOtherMembersOnly(t *testing.T) {
	r := New(ratelimit.NewLimiter(), nil, nil)
	sender := newTestClient(t)
	peer := newTestClient(t)
	matchID := uuid.New().String()

	register(t, r, sender, uuid.New().String())
	register(t, r, peer, uuid.New().String())
	joinChat(r, sender, matchID)
	joinChat(r, peer, matchID)

	msg := protocol.Message{
		ID:      uuid.New().String(),
		MatchID: matchID,
		Sender:  "someone",
		Content: "hello",
	}
	r.HandleSendMessage(sender.conn, protocol.SendMessageMsg{
		Type: protocol.TypeSendMessage, MatchID: matchID, Message: msg,
	})

	got := peer.expect(t, protocol.TypeNewMessage)
	payload, _ := got["message"].(map[string]interface{})
	if payload["id"] != msg.ID || payload["content"] != "hello" {
		t.Errorf("relayed message mismatch: %v", got)
	}
	sender.expectNone(t)
}

func TestSendMessage_NotInRoom(t *testing.T) {
	r := New(ratelimit.NewLimiter(), nil, nil)
	tc := newTestClient(t)

	register(t, r, tc, uuid.New().String())
	r.HandleSendMessage(tc.conn, protocol.SendMessageMsg{
		Type: protocol.TypeSendMessage, MatchID: uuid.New().String(),
	})
	m := tc.expect(t, protocol.TypeError)
	if m["code"] != "not_in_room" {
		t.Errorf("unexpected error code %v", m["code"])
	}
}

func TestTyping_RelayExcludesOrigin(t *testing.T) {
	r := New(ratelimit.NewLimiter(), nil, nil)
	typer := newTestClient(t)
	peer := newTestClient(t)
	matchID := uuid.New().String()
	typerUser := uuid.New().String()

	register(t, r, typer, typerUser)
	register(t, r, peer, uuid.New().String())
	joinChat(r, typer, matchID)
	joinChat(r, peer, matchID)

	r.HandleTyping(typer.conn, protocol.TypingMsg{
		Type: protocol.TypeTyping, MatchID: matchID, UserID: typerUser,
	})
	m := peer.expect(t, protocol.TypeUserTyping)
	if m["user_id"] != typerUser {
		t.Errorf("typing relays the typist's id, got %v", m)
	}
	typer.expectNone(t)

	r.HandleStopTyping(typer.conn, protocol.StopTypingMsg{
		Type: protocol.TypeStopTyping, MatchID: matchID, UserID: typerUser,
	})
	peer.expect(t, protocol.TypeUserStopTyping)
}

func TestLeaveChat_StopsDelivery(t *testing.T) {
	r := New(ratelimit.NewLimiter(), nil, nil)
	sender := newTestClient(t)
	peer := newTestClient(t)
	matchID := uuid.New().String()

	register(t, r, sender, uuid.New().String())
	register(t, r, peer, uuid.New().String())
	joinChat(r, sender, matchID)
	joinChat(r, peer, matchID)

	r.HandleLeaveChat(peer.conn, protocol.LeaveChatMsg{Type: protocol.TypeLeaveChat, MatchID: matchID})
	r.HandleSendMessage(sender.conn, protocol.SendMessageMsg{
		Type: protocol.TypeSendMessage, MatchID: matchID,
		Message: protocol.Message{ID: uuid.New().String(), MatchID: matchID},
	})
	peer.expectNone(t)

	// Leaving a room twice is harmless.
	r.HandleLeaveChat(peer.conn, protocol.LeaveChatMsg{Type: protocol.TypeLeaveChat, MatchID: matchID})
}

func TestBridge_SubscriptionLifecycle(t *testing.T) {
	bridge := newMemBridge()
	r := New(ratelimit.NewLimiter(), bridge, nil)
	a := newTestClient(t)
	b := newTestClient(t)
	matchID := uuid.New().String()
	room := ChatRoom(matchID)

	register(t, r, a, uuid.New().String())
	register(t, r, b, uuid.New().String())
	joinChat(r, a, matchID)
	if !bridge.subscribed(room) {
		t.Fatal("first local member should open the bridge subscription")
	}
	joinChat(r, b, matchID)

	r.HandleLeaveChat(a.conn, protocol.LeaveChatMsg{Type: protocol.TypeLeaveChat, MatchID: matchID})
	if !bridge.subscribed(room) {
		t.Fatal("subscription must stay open while members remain")
	}
	r.HandleLeaveChat(b.conn, protocol.LeaveChatMsg{Type: protocol.TypeLeaveChat, MatchID: matchID})
	if bridge.subscribed(room) {
		t.Fatal("last member leaving should close the subscription")
	}
}

func TestBridge_PublishesRelayedEvents(t *testing.T) {
	bridge := newMemBridge()
	r := New(ratelimit.NewLimiter(), bridge, nil)
	sender := newTestClient(t)
	matchID := uuid.New().String()
	room := ChatRoom(matchID)

	register(t, r, sender, uuid.New().String())
	joinChat(r, sender, matchID)

	r.HandleSendMessage(sender.conn, protocol.SendMessageMsg{
		Type: protocol.TypeSendMessage, MatchID: matchID,
		Message: protocol.Message{ID: uuid.New().String(), MatchID: matchID},
	})

	bridge.mu.Lock()
	published := bridge.published[room]
	bridge.mu.Unlock()
	if published != 1 {
		t.Errorf("expected 1 bridge publish for %s, got %d", room, published)
	}
}

func TestBridge_RemoteEventReachesLocalMembers(t *testing.T) {
	bridge := newMemBridge()
	r := New(ratelimit.NewLimiter(), bridge, nil)
	a := newTestClient(t)
	b := newTestClient(t)
	matchID := uuid.New().String()

	register(t, r, a, uuid.New().String())
	register(t, r, b, uuid.New().String())
	joinChat(r, a, matchID)
	joinChat(r, b, matchID)

	data, err := protocol.NewServerMessage(protocol.TypeUserTyping,
		protocol.UserTypingMsg{UserID: uuid.New().String()})
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	go bridge.deliverRemote(ChatRoom(matchID), data)

	a.expect(t, protocol.TypeUserTyping)
	b.expect(t, protocol.TypeUserTyping)
}

func TestOnDisconnect_CleansUpRoomsAndPresence(t *testing.T) {
	presence := &memPresence{}
	r := New(ratelimit.NewLimiter(), nil, presence)
	leaver := newTestClient(t)
	peer := newTestClient(t)
	matchID := uuid.New().String()
	leaverUser := uuid.New().String()

	register(t, r, leaver, leaverUser)
	register(t, r, peer, uuid.New().String())
	joinChat(r, leaver, matchID)
	joinChat(r, peer, matchID)

	r.OnDisconnect(leaver.conn.ID)

	presence.mu.Lock()
	offline := append([]string(nil), presence.offline...)
	presence.mu.Unlock()
	if len(offline) != 1 || offline[0] != leaverUser {
		t.Errorf("expected offline for %s, got %v", leaverUser, offline)
	}

	r.HandleSendMessage(peer.conn, protocol.SendMessageMsg{
		Type: protocol.TypeSendMessage, MatchID: matchID,
		Message: protocol.Message{ID: uuid.New().String(), MatchID: matchID},
	})
	leaver.expectNone(t)
}

func TestOnDisconnect_SecondConnectionKeepsUserOnline(t *testing.T) {
	presence := &memPresence{}
	r := New(ratelimit.NewLimiter(), nil, presence)
	first := newTestClient(t)
	second := newTestClient(t)
	userID := uuid.New().String()

	register(t, r, first, userID)
	register(t, r, second, userID)

	r.OnDisconnect(first.conn.ID)
	presence.mu.Lock()
	n := len(presence.offline)
	presence.mu.Unlock()
	if n != 0 {
		t.Fatal("user with a remaining connection must stay online")
	}

	r.OnDisconnect(second.conn.ID)
	presence.mu.Lock()
	n = len(presence.offline)
	presence.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected offline after last disconnect, got %d", n)
	}
}

func TestRoomCount(t *testing.T) {
	r := New(ratelimit.NewLimiter(), nil, nil)
	tc := newTestClient(t)

	if r.RoomCount() != 0 {
		t.Fatalf("fresh router has %d rooms", r.RoomCount())
	}
	register(t, r, tc, uuid.New().String())
	joinChat(r, tc, uuid.New().String())
	if r.RoomCount() != 2 {
		t.Errorf("expected user room + chat room, got %d", r.RoomCount())
	}

	r.OnDisconnect(tc.conn.ID)
	if r.RoomCount() != 0 {
		t.Errorf("rooms should drain on disconnect, got %d", r.RoomCount())
	}
}
