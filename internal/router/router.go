// Package router binds WebSocket connections to users and rooms and relays
// realtime events between them. Every registered connection sits in its
// user's room; joining a conversation adds it to that conversation's room.
// Delivery is at least once: the chat history endpoint is the system of
// record and clients de-duplicate relayed messages by ID.
package router

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roarr/match-app/internal/metrics"
	"github.com/roarr/match-app/internal/protocol"
	"github.com/roarr/match-app/internal/ratelimit"
	"github.com/roarr/match-app/internal/ws"
)

// UserRoom returns the room name for a user's private room.
func UserRoom(userID string) string { return "user:" + userID }

// ChatRoom returns the room name for a conversation.
func ChatRoom(matchID string) string { return "chat:" + matchID }

// Bridge fans room events out to other server instances. Events published by
// this instance must not be delivered back to it.
type Bridge interface {
	PublishRoom(room string, data []byte) error
	SubscribeRoom(room string, handler func(data []byte)) error
	UnsubscribeRoom(room string) error
}

// Presence records which users currently hold a connection somewhere.
type Presence interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
	Refresh(ctx context.Context, userID string) error
}

// Router tracks room membership for the local instance and relays events to
// local members directly and to remote members through the bridge.
type Router struct {
	mu        sync.RWMutex
	members   map[string]map[string]*ws.Connection // room -> conn ID -> conn
	joined    map[string]map[string]bool           // conn ID -> set of rooms
	users     map[string]string                    // conn ID -> user ID
	userConns map[string]map[string]bool           // user ID -> set of conn IDs

	limiter  *ratelimit.Limiter
	bridge   Bridge   // nil when running a single instance
	presence Presence // nil when presence tracking is disabled
}

// New creates a Router. bridge and presence may be nil.
func New(limiter *ratelimit.Limiter, bridge Bridge, presence Presence) *Router {
	return &Router{
		members:   make(map[string]map[string]*ws.Connection),
		joined:    make(map[string]map[string]bool),
		users:     make(map[string]string),
		userConns: make(map[string]map[string]bool),
		limiter:   limiter,
		bridge:    bridge,
		presence:  presence,
	}
}

// Attach registers the router's handlers on a message dispatcher.
func (r *Router) Attach(d *ws.MessageDispatcher) {
	d.Register(protocol.TypeRegister, r.HandleRegister)
	d.Register(protocol.TypeJoinChat, r.HandleJoinChat)
	d.Register(protocol.TypeLeaveChat, r.HandleLeaveChat)
	d.Register(protocol.TypeSendMessage, r.HandleSendMessage)
	d.Register(protocol.TypeTyping, r.HandleTyping)
	d.Register(protocol.TypeStopTyping, r.HandleStopTyping)
}

// HandleRegister binds a connection to a user and joins the user's room.
// Re-registering re-binds the connection. Registration attempts are rate
// limited per client IP.
func (r *Router) HandleRegister(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.RegisterMsg)
	if !ok {
		return
	}
	// The limit is charged before validation so malformed floods spend
	// budget too.
	if !r.limiter.Allow(conn.RemoteAddr, ratelimit.RuleRegister) {
		r.sendRateLimited(conn, r.limiter.RetryAfter(conn.RemoteAddr, ratelimit.RuleRegister))
		return
	}
	if _, err := uuid.Parse(m.UserID); err != nil {
		r.sendError(conn, "invalid_user", "user_id must be a UUID")
		return
	}

	r.mu.Lock()
	if prev, bound := r.users[conn.ID]; bound && prev != m.UserID {
		r.leaveRoomLocked(UserRoom(prev), conn.ID)
		r.unbindUserLocked(conn.ID, prev)
	}
	r.users[conn.ID] = m.UserID
	if r.userConns[m.UserID] == nil {
		r.userConns[m.UserID] = make(map[string]bool)
	}
	r.userConns[m.UserID][conn.ID] = true
	r.joinRoomLocked(UserRoom(m.UserID), conn)
	r.mu.Unlock()

	if r.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := r.presence.SetOnline(ctx, m.UserID); err != nil {
			log.Printf("[router] presence online %s: %v", m.UserID, err)
		}
		cancel()
	}

	r.send(conn, protocol.TypeRegistered, protocol.RegisteredMsg{UserID: m.UserID})
	log.Printf("[router] registered conn=%s user=%s", conn.ID, m.UserID)
}

// HandleJoinChat adds a registered connection to a conversation room.
func (r *Router) HandleJoinChat(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.JoinChatMsg)
	if !ok {
		return
	}
	if m.MatchID == "" {
		r.sendError(conn, "invalid_match", "match_id is required")
		return
	}

	r.mu.Lock()
	_, registered := r.users[conn.ID]
	if registered {
		r.joinRoomLocked(ChatRoom(m.MatchID), conn)
	}
	r.mu.Unlock()

	if !registered {
		r.sendError(conn, "not_registered", "register before joining a chat")
	}
}

// HandleLeaveChat removes a connection from a conversation room. Leaving a
// room the connection never joined is a no-op.
func (r *Router) HandleLeaveChat(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.LeaveChatMsg)
	if !ok {
		return
	}

	r.mu.Lock()
	r.leaveRoomLocked(ChatRoom(m.MatchID), conn.ID)
	r.mu.Unlock()
}

// HandleSendMessage relays an already-persisted chat message to the other
// members of the conversation room, locally and across instances.
func (r *Router) HandleSendMessage(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.SendMessageMsg)
	if !ok {
		return
	}
	if !r.inRoom(ChatRoom(m.MatchID), conn.ID) {
		r.sendError(conn, "not_in_room", "join the chat before sending")
		return
	}

	r.relay(conn, ChatRoom(m.MatchID), protocol.TypeNewMessage,
		protocol.NewMessageMsg{Message: m.Message})
	metrics.RealtimeEventsRelayed.WithLabelValues(protocol.TypeNewMessage).Inc()
}

// HandleTyping relays a typing indicator to the other room members.
func (r *Router) HandleTyping(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.TypingMsg)
	if !ok {
		return
	}
	if !r.inRoom(ChatRoom(m.MatchID), conn.ID) {
		return
	}

	r.relay(conn, ChatRoom(m.MatchID), protocol.TypeUserTyping,
		protocol.UserTypingMsg{UserID: m.UserID})
	metrics.RealtimeEventsRelayed.WithLabelValues(protocol.TypeUserTyping).Inc()
}

// HandleStopTyping relays a stop-typing indicator to the other room members.
func (r *Router) HandleStopTyping(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.StopTypingMsg)
	if !ok {
		return
	}
	if !r.inRoom(ChatRoom(m.MatchID), conn.ID) {
		return
	}

	r.relay(conn, ChatRoom(m.MatchID), protocol.TypeUserStopTyping,
		protocol.UserStopTypingMsg{UserID: m.UserID})
	metrics.RealtimeEventsRelayed.WithLabelValues(protocol.TypeUserStopTyping).Inc()
}

// OnDisconnect removes a connection from every room it joined, unbinds it
// from its user, and flips presence offline when the user holds no other
// connection on this instance.
func (r *Router) OnDisconnect(connID string) {
	r.mu.Lock()
	for room := range r.joined[connID] {
		r.leaveRoomLocked(room, connID)
	}
	userID, bound := r.users[connID]
	var lastConn bool
	if bound {
		delete(r.users, connID)
		lastConn = r.unbindUserLocked(connID, userID)
	}
	r.mu.Unlock()

	if bound && lastConn && r.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := r.presence.SetOffline(ctx, userID); err != nil {
			log.Printf("[router] presence offline %s: %v", userID, err)
		}
		cancel()
	}
}

// RefreshPresence bumps the presence record for every user with a live
// local connection so records do not age out mid-session.
func (r *Router) RefreshPresence() {
	if r.presence == nil {
		return
	}
	r.mu.RLock()
	users := make([]string, 0, len(r.userConns))
	for id := range r.userConns {
		users = append(users, id)
	}
	r.mu.RUnlock()

	for _, id := range users {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := r.presence.Refresh(ctx, id); err != nil {
			log.Printf("[router] presence refresh %s: %v", id, err)
		}
		cancel()
	}
}

// RoomCount returns the number of rooms with at least one local member.
func (r *Router) RoomCount() int {
	r.mu.RLock()
	n := len(r.members)
	r.mu.RUnlock()
	return n
}

// relay encodes a server message, delivers it to all local room members
// except the origin connection, and publishes it to the bridge for remote
// members. The origin instance is filtered by the bridge, so remote
// instances deliver to their whole local membership.
func (r *Router) relay(origin *ws.Connection, room, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("[router] build %s: %v", msgType, err)
		return
	}

	r.deliverLocal(room, data, origin.ID)

	if r.bridge != nil {
		if err := r.bridge.PublishRoom(room, data); err != nil {
			log.Printf("[router] bridge publish %s: %v", room, err)
		}
	}
}

// deliverLocal writes data to every local member of room except excludeID.
// Write failures are logged and left to the read path to clean up.
func (r *Router) deliverLocal(room string, data []byte, excludeID string) {
	r.mu.RLock()
	conns := make([]*ws.Connection, 0, len(r.members[room]))
	for id, conn := range r.members[room] {
		if id == excludeID {
			continue
		}
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.WriteMessage(data); err != nil {
			log.Printf("[router] deliver to conn=%s room=%s: %v", conn.ID, room, err)
		}
	}
}

// joinRoomLocked adds a connection to a room. The first local member of a
// room opens the bridge subscription so events from other instances reach
// this one. Callers must hold r.mu.
func (r *Router) joinRoomLocked(room string, conn *ws.Connection) {
	if r.members[room] == nil {
		r.members[room] = make(map[string]*ws.Connection)
		if r.bridge != nil {
			if err := r.bridge.SubscribeRoom(room, func(data []byte) {
				r.deliverLocal(room, data, "")
			}); err != nil {
				log.Printf("[router] bridge subscribe %s: %v", room, err)
			}
		}
		metrics.ActiveRooms.Inc()
	}
	if r.joined[conn.ID] == nil {
		r.joined[conn.ID] = make(map[string]bool)
	}
	r.members[room][conn.ID] = conn
	r.joined[conn.ID][room] = true
}

// leaveRoomLocked removes a connection from a room and drops the bridge
// subscription when the last local member leaves. Callers must hold r.mu.
func (r *Router) leaveRoomLocked(room, connID string) {
	conns, ok := r.members[room]
	if !ok {
		return
	}
	if _, member := conns[connID]; !member {
		return
	}
	delete(conns, connID)
	if set := r.joined[connID]; set != nil {
		delete(set, room)
		if len(set) == 0 {
			delete(r.joined, connID)
		}
	}
	if len(conns) == 0 {
		delete(r.members, room)
		if r.bridge != nil {
			if err := r.bridge.UnsubscribeRoom(room); err != nil {
				log.Printf("[router] bridge unsubscribe %s: %v", room, err)
			}
		}
		metrics.ActiveRooms.Dec()
	}
}

// unbindUserLocked drops connID from the user's connection set and reports
// whether it was the user's last local connection. Callers must hold r.mu.
func (r *Router) unbindUserLocked(connID, userID string) bool {
	set := r.userConns[userID]
	if set == nil {
		return true
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.userConns, userID)
		return true
	}
	return false
}

func (r *Router) inRoom(room, connID string) bool {
	r.mu.RLock()
	_, ok := r.members[room][connID]
	r.mu.RUnlock()
	return ok
}

func (r *Router) send(conn *ws.Connection, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("[router] build %s: %v", msgType, err)
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("[router] send %s to conn=%s: %v", msgType, conn.ID, err)
	}
}

func (r *Router) sendError(conn *ws.Connection, code, message string) {
	r.send(conn, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
}

func (r *Router) sendRateLimited(conn *ws.Connection, retryAfter int) {
	r.send(conn, protocol.TypeRateLimited, protocol.RateLimitedMsg{RetryAfter: retryAfter})
}
