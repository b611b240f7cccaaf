// Package api exposes the HTTP surface of the match application: swipe
// ingestion, match and conversation listing, chat history and sending,
// unmatching, and the notification feed.
package api

import (
	"database/sql"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/roarr/match-app/internal/apperr"
	"github.com/roarr/match-app/internal/auth"
	"github.com/roarr/match-app/internal/conversation"
	"github.com/roarr/match-app/internal/matching"
	"github.com/roarr/match-app/internal/metrics"
	"github.com/roarr/match-app/internal/notification"
)

// Server bundles the services behind the HTTP handlers.
type Server struct {
	processor     *matching.Processor
	conversations *conversation.Service
	notifications *notification.Fanout
	verifier      *auth.Verifier
	db            *sql.DB
}

// NewServer creates an API server over the given services.
func NewServer(
	processor *matching.Processor,
	conversations *conversation.Service,
	notifications *notification.Fanout,
	verifier *auth.Verifier,
	db *sql.DB,
) *Server {
	return &Server{
		processor:     processor,
		conversations: conversations,
		notifications: notifications,
		verifier:      verifier,
		db:            db,
	}
}

// Register mounts all routes on the Fiber app.
func (s *Server) Register(app *fiber.App) {
	app.Get("/health", s.handleHealth)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	api := app.Group("/api", auth.Middleware(s.verifier))
	api.Post("/swipes", s.handleSwipe)
	api.Get("/matches", s.handleListMatches)
	api.Get("/conversations", s.handleListConversations)
	api.Get("/matches/:id/messages", s.handleListMessages)
	api.Post("/matches/:id/messages", s.handleSendMessage)
	api.Delete("/matches/:id", s.handleUnmatch)
	api.Get("/notifications", s.handleListNotifications)
	api.Put("/notifications", s.handleMarkNotificationsRead)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	if err := s.db.PingContext(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "degraded",
			"error":  "database unreachable",
		})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

type swipeRequest struct {
	ToUser string `json:"to_user"`
	Action string `json:"action"`
}

func (s *Server) handleSwipe(c *fiber.Ctx) error {
	started := time.Now()
	defer observe("swipes", started)

	var req swipeRequest
	if err := c.BodyParser(&req); err != nil {
		return respondErr(c, apperr.InvalidInput("malformed request body"))
	}

	result, err := s.processor.RecordSwipe(c.Context(), auth.UserID(c), req.ToUser, matching.Action(req.Action))
	if err != nil {
		return respondErr(c, err)
	}

	metrics.SwipesTotal.WithLabelValues(req.Action).Inc()
	status := fiber.StatusOK
	if result.Matched {
		metrics.MatchesTotal.Inc()
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{
		"match":    result.Matched,
		"match_id": result.MatchID,
	})
}

func (s *Server) handleListMatches(c *fiber.Ctx) error {
	started := time.Now()
	defer observe("matches", started)

	matches, err := s.conversations.ListMatches(c.Context(), auth.UserID(c))
	if err != nil {
		return respondErr(c, err)
	}
	if matches == nil {
		matches = []conversation.MatchView{}
	}
	return c.JSON(fiber.Map{"matches": matches})
}

func (s *Server) handleListConversations(c *fiber.Ctx) error {
	started := time.Now()
	defer observe("conversations", started)

	convs, err := s.conversations.ListConversations(c.Context(), auth.UserID(c))
	if err != nil {
		return respondErr(c, err)
	}
	if convs == nil {
		convs = []conversation.MatchView{}
	}
	return c.JSON(fiber.Map{"conversations": convs})
}

func (s *Server) handleListMessages(c *fiber.Ctx) error {
	started := time.Now()
	defer observe("messages_list", started)

	msgs, err := s.conversations.ListMessages(c.Context(), c.Params("id"), auth.UserID(c))
	if err != nil {
		return respondErr(c, err)
	}
	if msgs == nil {
		msgs = []conversation.MessageView{}
	}
	return c.JSON(fiber.Map{"messages": msgs})
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleSendMessage(c *fiber.Ctx) error {
	started := time.Now()
	defer observe("messages_send", started)

	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return respondErr(c, apperr.InvalidInput("malformed request body"))
	}

	view, err := s.conversations.SendMessage(c.Context(), c.Params("id"), auth.UserID(c), req.Content)
	if err != nil {
		switch apperr.CodeOf(err) {
		case apperr.CodeRateLimited:
			metrics.MessagesTotal.WithLabelValues("rate_limited").Inc()
		case apperr.CodeInvalidInput:
			metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		}
		return respondErr(c, err)
	}

	metrics.MessagesTotal.WithLabelValues("sent").Inc()
	return c.Status(fiber.StatusCreated).JSON(view)
}

func (s *Server) handleUnmatch(c *fiber.Ctx) error {
	started := time.Now()
	defer observe("unmatch", started)

	if err := s.conversations.Unmatch(c.Context(), c.Params("id"), auth.UserID(c)); err != nil {
		return respondErr(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleListNotifications(c *fiber.Ctx) error {
	started := time.Now()
	defer observe("notifications_list", started)

	feed, err := s.notifications.ListFor(c.Context(), auth.UserID(c))
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(feed)
}

type markReadRequest struct {
	NotificationIDs []string `json:"notification_ids"`
}

func (s *Server) handleMarkNotificationsRead(c *fiber.Ctx) error {
	started := time.Now()
	defer observe("notifications_read", started)

	var req markReadRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return respondErr(c, apperr.InvalidInput("malformed request body"))
		}
	}

	if err := s.notifications.MarkRead(c.Context(), auth.UserID(c), req.NotificationIDs); err != nil {
		return respondErr(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// respondErr maps a service error onto an HTTP status and a safe JSON body.
// Internal details are logged, never returned.
func respondErr(c *fiber.Ctx, err error) error {
	code := apperr.CodeOf(err)
	if code == apperr.CodeInternal {
		log.Printf("[api] %s %s: %v", c.Method(), c.Path(), err)
	}
	return c.Status(apperr.HTTPStatus(code)).JSON(fiber.Map{
		"error": apperr.MessageOf(err),
	})
}

func observe(route string, started time.Time) {
	metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(started).Seconds())
}
