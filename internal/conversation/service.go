package conversation

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/roarr/match-app/internal/apperr"
	"github.com/roarr/match-app/internal/directory"
	"github.com/roarr/match-app/internal/matching"
	"github.com/roarr/match-app/internal/ratelimit"
)

// Service implements the conversation operations on top of a Store.
type Service struct {
	store    Store
	profiles directory.Source
	presence PresenceSource
	notifier Notifier
	limiter  *ratelimit.Limiter
	sanitize Sanitizer
	now      func() time.Time
}

// NewService creates a conversation service. sanitize may be nil, in which
// case content is stored as trimmed.
func NewService(store Store, profiles directory.Source, presence PresenceSource, notifier Notifier, limiter *ratelimit.Limiter, sanitize Sanitizer) *Service {
	if sanitize == nil {
		sanitize = func(s string) string { return s }
	}
	return &Service{
		store:    store,
		profiles: profiles,
		presence: presence,
		notifier: notifier,
		limiter:  limiter,
		sanitize: sanitize,
		now:      time.Now,
	}
}

// requireMember loads the match and verifies that userID is one of its two
// users. An absent match and a non-member are both reported as NotFound so
// the existence of other users' matches never leaks.
func (s *Service) requireMember(ctx context.Context, matchID, userID string) (*matching.Match, error) {
	m, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("conversation: get match: %w", err)
	}
	if m == nil || !m.HasUser(userID) {
		return nil, apperr.NotFound("match not found")
	}
	return m, nil
}

// ListMessages returns the match's messages in creation order and, as a side
// effect, marks every message authored by the other party as read. The
// requester's own messages are never touched.
func (s *Service) ListMessages(ctx context.Context, matchID, requester string) ([]MessageView, error) {
	if _, err := s.requireMember(ctx, matchID, requester); err != nil {
		return nil, err
	}

	msgs, err := s.store.ListMessages(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("conversation: list messages: %w", err)
	}

	if err := s.store.MarkRead(ctx, matchID, requester); err != nil {
		// The fetch succeeded; a failed read-state update is logged rather
		// than failing the whole request.
		log.Printf("[conversation] mark read match=%s reader=%s: %v", matchID, requester, err)
	}

	senders := make([]string, 0, 2)
	seen := map[string]bool{}
	for _, m := range msgs {
		if !seen[m.Sender] {
			seen[m.Sender] = true
			senders = append(senders, m.Sender)
		}
	}
	profiles, err := s.profiles.GetProfiles(ctx, senders)
	if err != nil {
		return nil, fmt.Errorf("conversation: sender profiles: %w", err)
	}

	views := make([]MessageView, len(msgs))
	for i, m := range msgs {
		views[i] = MessageView{Message: m}
		if p, ok := profiles[m.Sender]; ok {
			views[i].SenderName = p.DisplayName
			views[i].SenderAvatar = p.Avatar
		}
	}
	return views, nil
}

// SendMessage validates, sanitizes, and persists a message, updates the
// match's last-message cache, and notifies the other member. It returns the
// persisted message with the sender's display attributes.
func (s *Service) SendMessage(ctx context.Context, matchID, sender, content string) (MessageView, error) {
	m, err := s.requireMember(ctx, matchID, sender)
	if err != nil {
		return MessageView{}, err
	}

	if !s.limiter.Allow(sender, ratelimit.RuleMessage) {
		return MessageView{}, apperr.RateLimited("too many messages")
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return MessageView{}, apperr.InvalidInput("empty message")
	}
	if utf8.RuneCountInString(content) > MaxContentChars {
		return MessageView{}, apperr.InvalidInput("message too long")
	}

	content = s.sanitize(content)
	now := s.now().UTC()
	msg := Message{
		ID:        uuid.New().String(),
		MatchID:   matchID,
		Sender:    sender,
		Content:   content,
		Read:      false,
		CreatedAt: now,
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return MessageView{}, fmt.Errorf("conversation: insert message: %w", err)
	}
	if err := s.store.SetLastMessage(ctx, matchID, content, now); err != nil {
		return MessageView{}, fmt.Errorf("conversation: set last message: %w", err)
	}

	if other := m.OtherUser(sender); other != "" {
		if err := s.notifier.Notify(ctx, other, "message", sender); err != nil {
			log.Printf("[conversation] message notification to %s failed: %v", other, err)
		}
	}

	view := MessageView{Message: msg}
	if p, err := s.profiles.GetProfile(ctx, sender); err == nil && p != nil {
		view.SenderName = p.DisplayName
		view.SenderAvatar = p.Avatar
	}
	return view, nil
}

// Unmatch deletes all of the match's messages and then the match itself.
// Irreversible; no notification is emitted.
func (s *Service) Unmatch(ctx context.Context, matchID, requester string) error {
	if _, err := s.requireMember(ctx, matchID, requester); err != nil {
		return err
	}
	if err := s.store.DeleteMatch(ctx, matchID); err != nil {
		return fmt.Errorf("conversation: delete match: %w", err)
	}
	return nil
}

// ListMatches returns the user's matches with counterpart profile and
// presence, newest activity first.
func (s *Service) ListMatches(ctx context.Context, userID string) ([]MatchView, error) {
	matches, err := s.store.ListMatchesFor(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("conversation: list matches: %w", err)
	}
	return s.buildViews(ctx, userID, matches)
}

// ListConversations returns the user's matches that have at least one
// message, newest activity first.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]MatchView, error) {
	matches, err := s.store.ListConversationsFor(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("conversation: list conversations: %w", err)
	}
	return s.buildViews(ctx, userID, matches)
}

func (s *Service) buildViews(ctx context.Context, userID string, matches []matching.Match) ([]MatchView, error) {
	others := make([]string, 0, len(matches))
	for _, m := range matches {
		others = append(others, m.OtherUser(userID))
	}
	profiles, err := s.profiles.GetProfiles(ctx, others)
	if err != nil {
		return nil, fmt.Errorf("conversation: counterpart profiles: %w", err)
	}

	views := make([]MatchView, len(matches))
	for i, m := range matches {
		other := m.OtherUser(userID)
		views[i] = MatchView{
			ID:            m.ID,
			Counterpart:   profiles[other],
			LastMessage:   m.LastMessage,
			LastMessageAt: m.LastMessageAt,
			CreatedAt:     m.CreatedAt,
		}
		if s.presence != nil {
			online, lastSeen, err := s.presence.Online(ctx, other)
			if err != nil {
				log.Printf("[conversation] presence lookup for %s: %v", other, err)
			} else {
				views[i].Online = online
				views[i].LastSeen = lastSeen
			}
		}
	}
	return views, nil
}
