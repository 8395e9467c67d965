package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mohamedkhairy/session-levels/internal/api"
	"github.com/mohamedkhairy/session-levels/internal/config"
	"github.com/mohamedkhairy/session-levels/internal/pubsub"
	"github.com/mohamedkhairy/session-levels/internal/storage"
	"github.com/mohamedkhairy/session-levels/internal/wsfeed"
	"github.com/mohamedkhairy/session-levels/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting API service",
		logger.Int("port", cfg.API.Port),
	)

	// Initialize Redis client
	redisClient, err := pubsub.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to initialize Redis client", logger.ErrorField(err))
	}
	defer redisClient.Close()

	// Initialize Postgres event store (read path only, the write queue stays idle)
	writeConfig := storage.WriteConfigFromTrackerConfig(cfg.Tracker)
	eventStore, err := storage.NewEventStore(cfg.Database, writeConfig)
	if err != nil {
		logger.Fatal("Failed to initialize event store", logger.ErrorField(err))
	}
	defer eventStore.Close()

	// Tracker names as published by the tracker service
	trackers := make([]string, 0, len(cfg.Trackers.Sources))
	for _, source := range cfg.Trackers.Sources {
		trackers = append(trackers, fmt.Sprintf("%s_x%d", source, cfg.Trackers.AcceptanceThreshold))
	}

	router := api.NewRouter(cfg.API, redisClient, eventStore, trackers, cfg.Trackers.Symbols)

	// WebSocket feed for live snapshot and event updates
	auth := api.NewAuthManager(cfg.API.JWTSecret)
	hub := wsfeed.NewHub(wsfeed.DefaultHubConfig(cfg.API.LiveChannel), redisClient, auth)
	if err := hub.Start(); err != nil {
		logger.Fatal("Failed to start WebSocket hub", logger.ErrorField(err))
	}
	defer hub.Stop()

	// The WebSocket upgrade bypasses the REST middleware chain: the logging
	// wrapper does not implement http.Hijacker
	root := http.NewServeMux()
	root.HandleFunc("/ws", hub.HandleWS)
	root.Handle("/", router)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.API.Port),
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("API server listening",
			logger.Int("port", cfg.API.Port),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("API server failed", logger.ErrorField(err))
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down API service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown failed", logger.ErrorField(err))
	}

	wg.Wait()
	logger.Info("API service stopped")
}
