package main

import (
	"context"
	"html"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/roarr/match-app/internal/api"
	"github.com/roarr/match-app/internal/auth"
	"github.com/roarr/match-app/internal/config"
	"github.com/roarr/match-app/internal/conversation"
	"github.com/roarr/match-app/internal/directory"
	"github.com/roarr/match-app/internal/matching"
	"github.com/roarr/match-app/internal/messaging"
	"github.com/roarr/match-app/internal/notification"
	"github.com/roarr/match-app/internal/presence"
	"github.com/roarr/match-app/internal/protocol"
	"github.com/roarr/match-app/internal/ratelimit"
	"github.com/roarr/match-app/internal/router"
	"github.com/roarr/match-app/internal/store"
)

func main() {
	config.Load()

	listenAddr := config.String("API_ADDR", ":8080")
	dsn := config.String("DATABASE_URL", "postgres://localhost/matchapp?sslmode=disable")
	redisAddr := config.String("REDIS_ADDR", "localhost:6379")
	jwtSecret := config.String("JWT_SECRET", "")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	// The NATS instance name must differ from the realtime server's even on
	// a single host, or the realtime side drops our events as self-echo.
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "1"
	}
	serverName := config.String("SERVER_NAME", "api-"+hostname)

	// --- Postgres ---
	db, err := store.Open(dsn)
	if err != nil {
		log.Fatalf("failed to connect to Postgres: %v", err)
	}
	if err := store.Migrate(db); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = config.String("NATS_URL", natsConfig.URL)
	natsConfig.Name = serverName
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Redis presence (read side for conversation listings) ---
	presenceStore, err := presence.NewStore(redisAddr, serverName)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}

	verifier, err := auth.NewVerifier(auth.Config{
		Secret: jwtSecret,
		Issuer: config.String("JWT_ISSUER", ""),
	})
	if err != nil {
		log.Fatalf("failed to build token verifier: %v", err)
	}

	limiter := ratelimit.NewLimiter()
	limiterDone := make(chan struct{})
	limiter.StartCleanup(limiterDone, 10*time.Minute, 2*time.Hour)

	profiles := directory.NewPGStore(db)

	// Freshly written notifications are also pushed to the user's realtime
	// room; the polled feed stays the system of record.
	fanout := notification.NewFanout(notification.NewPGStore(db), profiles,
		func(_ context.Context, userID string, v notification.View) {
			data, err := protocol.NewServerMessage(protocol.TypeNotification, protocol.NotificationMsg{
				Notification: protocol.Notification{
					ID:         v.ID,
					UserID:     v.UserID,
					Type:       v.Type,
					FromUser:   v.FromUser,
					FromName:   v.FromName,
					FromAvatar: v.FromAvatar,
					CreatedAt:  v.CreatedAt.UnixMilli(),
				},
			})
			if err != nil {
				log.Printf("[apiserver] build notification push: %v", err)
				return
			}
			if err := natsClient.PublishRoom(router.UserRoom(userID), data); err != nil {
				log.Printf("[apiserver] publish notification push: %v", err)
			}
		})

	matchStore := matching.NewPGStore(db)
	registry := matching.NewRegistry(matchStore, fanout)
	processor := matching.NewProcessor(matchStore, registry, fanout, limiter)

	conversations := conversation.NewService(
		conversation.NewPGStore(db),
		profiles,
		presenceStore,
		fanout,
		limiter,
		html.EscapeString,
	)

	app := fiber.New(fiber.Config{
		AppName:      "match-app api",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})
	api.NewServer(processor, conversations, fanout, verifier, db).Register(app)

	log.Printf("match-app API server starting")
	log.Printf("  listen_addr: %s", listenAddr)
	log.Printf("  nats_url:    %s", natsConfig.URL)
	log.Printf("  redis_addr:  %s", redisAddr)
	log.Printf("  server_name: %s", serverName)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		close(limiterDone)
		if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
			log.Printf("http shutdown error: %v", err)
		}
		natsClient.Close()
		if err := presenceStore.Close(); err != nil {
			log.Printf("presence store close error: %v", err)
		}
		if err := db.Close(); err != nil {
			log.Printf("db close error: %v", err)
		}
	}()

	if err := app.Listen(listenAddr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
