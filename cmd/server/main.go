package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/emberchat/ember/internal/api"
	"github.com/emberchat/ember/internal/config"
	"github.com/emberchat/ember/internal/handlers"
	"github.com/emberchat/ember/internal/hub"
	"github.com/emberchat/ember/internal/ratelimit"
	"github.com/emberchat/ember/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	storeOpts := store.Options{
		RoomTTL:      cfg.RoomTTL,
		MessageLimit: cfg.MessageLimit,
	}

	// The store doubles as the limiter's counter backend: a RedisStore in
	// production, an in-memory store for local development.
	var (
		roomStore store.RoomStore
		counters  ratelimit.CounterStore
	)
	if cfg.RedisURL != "" {
		redisStore, err := store.NewRedisStore(ctx, cfg.RedisURL, storeOpts)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		roomStore = redisStore
		counters = redisStore
		logger.Info().Msg("connected to Redis")
	} else {
		memStore := store.NewMemoryStore(storeOpts)
		roomStore = memStore
		counters = memStore
		logger.Warn().Msg("REDIS_URL not set, using in-memory store (rooms are lost on restart)")
	}
	defer roomStore.Close()

	limiter := ratelimit.New(counters, logger)
	blocker := ratelimit.NewBlocker(counters, logger, cfg.AutoBlockEnabled)
	whitelist := ratelimit.NewWhitelist(cfg.RateLimitWhitelist, logger)

	registry := hub.New(logger)

	h := handlers.NewHandler(roomStore, limiter, blocker, whitelist, registry, cfg, logger)
	router := api.NewRouter(logger, h, blocker, whitelist)

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // long-lived WebSocket connections
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Dur("room_ttl", cfg.RoomTTL).
			Int("message_limit", cfg.MessageLimit).
			Msg("starting ember server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Drop live subscriptions so Shutdown is not held open by them
	registry.CloseAll()

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
