package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/roarr/match-app/internal/config"
	"github.com/roarr/match-app/internal/messaging"
	"github.com/roarr/match-app/internal/presence"
	"github.com/roarr/match-app/internal/ratelimit"
	"github.com/roarr/match-app/internal/router"
	"github.com/roarr/match-app/internal/ws"
)

func main() {
	config.Load()

	serverConfig := ws.DefaultServerConfig()
	serverConfig.ListenAddr = config.String("LISTEN_ADDR", serverConfig.ListenAddr)
	serverConfig.WorkerPoolSize = config.Int("WORKER_POOL_SIZE", serverConfig.WorkerPoolSize)
	serverConfig.MaxConnections = config.Int("MAX_CONNECTIONS", serverConfig.MaxConnections)
	serverConfig.ReadTimeout = config.Duration("READ_TIMEOUT", serverConfig.ReadTimeout)
	serverConfig.WriteTimeout = config.Duration("WRITE_TIMEOUT", serverConfig.WriteTimeout)

	// Role-prefixed so an apiserver on the same host never shares our NATS
	// instance name; shared names make the bridge drop events as self-echo.
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "1"
	}
	serverName := config.String("SERVER_NAME", "rt-"+hostname)

	// --- NATS: bridges rooms across realtime instances ---
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = config.String("NATS_URL", natsConfig.URL)
	natsConfig.Name = serverName
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Redis: presence (online/last-seen) ---
	redisAddr := config.String("REDIS_ADDR", "localhost:6379")
	presenceStore, err := presence.NewStore(redisAddr, serverName)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}

	limiter := ratelimit.NewLimiter()
	limiterDone := make(chan struct{})
	limiter.StartCleanup(limiterDone, 10*time.Minute, 2*time.Hour)

	rtr := router.New(limiter, natsClient, presenceStore)

	dispatcher := ws.NewMessageDispatcher()
	rtr.Attach(dispatcher)

	server := ws.NewServer(serverConfig, dispatcher.Dispatch)
	server.SetOnDisconnect(rtr.OnDisconnect)

	// Refresh presence for every connected user on the heartbeat cadence so
	// records do not age out under a live connection.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-limiterDone:
				return
			case <-ticker.C:
				rtr.RefreshPresence()
			}
		}
	}()

	log.Printf("match-app realtime server starting")
	log.Printf("  listen_addr:     %s", serverConfig.ListenAddr)
	log.Printf("  worker_pool:     %d", serverConfig.WorkerPoolSize)
	log.Printf("  max_connections: %d", serverConfig.MaxConnections)
	log.Printf("  nats_url:        %s", natsConfig.URL)
	log.Printf("  redis_addr:      %s", redisAddr)
	log.Printf("  server_name:     %s", serverName)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		close(limiterDone)
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		natsClient.Close()
		if err := presenceStore.Close(); err != nil {
			log.Printf("presence store close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
