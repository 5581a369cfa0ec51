package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/launchpad/chat-gateway/internal/auth"
	"github.com/launchpad/chat-gateway/internal/config"
	"github.com/launchpad/chat-gateway/internal/gateway"
	"github.com/launchpad/chat-gateway/internal/httpapi"
	"github.com/launchpad/chat-gateway/internal/membership"
	"github.com/launchpad/chat-gateway/internal/messaging"
	"github.com/launchpad/chat-gateway/internal/presence"
	"github.com/launchpad/chat-gateway/internal/ratelimit"
	"github.com/launchpad/chat-gateway/internal/store"
	"github.com/launchpad/chat-gateway/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	log.Printf("chat gateway starting")
	log.Printf("  listen_addr:     %s", cfg.ListenAddr)
	log.Printf("  worker_pool:     %d", cfg.WorkerPoolSize)
	log.Printf("  max_connections: %d", cfg.MaxConnections)
	log.Printf("  heartbeat:       %s", cfg.HeartbeatInterval)
	log.Printf("  database:        %v", cfg.DatabaseURL != "")
	log.Printf("  redis_addr:      %s", cfg.RedisAddr)
	log.Printf("  nats_url:        %s", cfg.NatsURL)
	log.Printf("  server_name:     %s", cfg.ServerName)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// --- Postgres ---
	var (
		db       *sql.DB
		msgStore store.Store
		members  membership.Oracle
	)
	if cfg.DatabaseURL != "" {
		if cfg.MigrateOnStart {
			if err := store.Migrate(cfg.DatabaseURL); err != nil {
				log.Fatalf("failed to migrate database: %v", err)
			}
		}
		db, err = store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to connect to Postgres: %v", err)
		}
		msgStore = store.NewPostgres(db)
		members = membership.NewPostgres(db)
	} else {
		log.Printf("no DATABASE_URL: using in-memory message store and membership")
		msgStore = store.NewMemory()
		static := membership.NewStatic()
		if cfg.SeedFile != "" {
			if err := static.LoadSeedFile(cfg.SeedFile); err != nil {
				log.Fatalf("failed to load seed: %v", err)
			}
		}
		members = static
	}

	opts := gateway.Options{
		Verifier: auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer),
		Store:    msgStore,
		Members:  members,
	}

	// --- Redis ---
	var presenceStore *presence.Store
	if cfg.RedisAddr != "" {
		ttl := presence.DefaultTTL
		if cfg.HeartbeatInterval > 0 {
			ttl = 3 * cfg.HeartbeatInterval
		}
		presenceStore, err = presence.NewStore(cfg.RedisAddr, cfg.ServerName, ttl)
		if err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		rdb := presenceStore.Client()

		opts.Presence = presenceStore
		if cfg.MessageRateLimit > 0 {
			opts.Limiter = ratelimit.NewLimiter(rdb)
		}
		if cfg.MembersCacheTTL > 0 {
			opts.Members = membership.NewCached(members, rdb, cfg.MembersCacheTTL)
		}
	}

	// --- NATS ---
	var natsClient *messaging.NATSClient
	if cfg.NatsURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NatsURL
		natsConfig.Name = "chat-gateway-" + cfg.ServerName
		natsClient, err = messaging.NewNATSClient(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		opts.Events = natsClient
	}

	gwConfig := gateway.DefaultConfig()
	gwConfig.ServerName = cfg.ServerName
	gwConfig.MaxAuthFailures = cfg.MaxAuthFailures
	gwConfig.MessageRule = ratelimit.Rule{
		Key:    ratelimit.RuleMessage.Key,
		Limit:  cfg.MessageRateLimit,
		Window: cfg.MessageRateWindow,
	}
	gw := gateway.New(gwConfig, opts)

	// Presence lookups prefer the shared Redis view when available.
	var online httpapi.OnlineChecker = gw
	if presenceStore != nil {
		online = presenceStore
	}
	api := httpapi.New(opts.Verifier, msgStore, opts.Members, online)

	serverConfig := ws.ServerConfig{
		ListenAddr:        cfg.ListenAddr,
		WorkerPoolSize:    cfg.WorkerPoolSize,
		MaxConnections:    cfg.MaxConnections,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		MaxFrameSize:      ws.DefaultServerConfig().MaxFrameSize,
	}
	server := ws.NewServer(serverConfig, gw)
	server.Mount("/api/", api.Handler())

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if natsClient != nil {
			natsClient.Close()
		}
		if presenceStore != nil {
			if err := presenceStore.Close(); err != nil {
				log.Printf("redis close error: %v", err)
			}
		}
		if err := msgStore.Close(); err != nil {
			log.Printf("store close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
