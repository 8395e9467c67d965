package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohamedkhairy/session-levels/internal/config"
	"github.com/mohamedkhairy/session-levels/internal/engine"
	"github.com/mohamedkhairy/session-levels/internal/pubsub"
	"github.com/mohamedkhairy/session-levels/internal/storage"
	"github.com/mohamedkhairy/session-levels/pkg/levels"
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

	logger.Info("Starting level tracker service",
		logger.Int("health_port", cfg.Tracker.HealthCheckPort),
		logger.String("bar_stream", cfg.Tracker.BarStream),
		logger.String("snapshot_stream", cfg.Tracker.SnapshotStream),
	)

	engineConfig, err := buildEngineConfig(cfg)
	if err != nil {
		logger.Fatal("Invalid tracker configuration", logger.ErrorField(err))
	}

	// Initialize Redis client
	redisClient, err := pubsub.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to initialize Redis client", logger.ErrorField(err))
	}
	defer redisClient.Close()

	// Initialize Postgres event store
	writeConfig := storage.WriteConfigFromTrackerConfig(cfg.Tracker)
	eventStore, err := storage.NewEventStore(cfg.Database, writeConfig)
	if err != nil {
		logger.Fatal("Failed to initialize event store", logger.ErrorField(err))
	}
	defer eventStore.Close()

	if err := eventStore.Start(); err != nil {
		logger.Fatal("Failed to start event store", logger.ErrorField(err))
	}

	// Initialize tracker engine
	trackerEngine, err := engine.NewEngine(engineConfig)
	if err != nil {
		logger.Fatal("Failed to initialize tracker engine", logger.ErrorField(err))
	}

	// Initialize output publisher
	publisher := engine.NewPublisher(redisClient, engine.PublisherConfig{
		SnapshotStream: cfg.Tracker.SnapshotStream,
		EventStream:    cfg.Tracker.EventStream,
		LiveChannel:    cfg.Tracker.LiveChannel,
		LatestTTL:      cfg.Tracker.LatestTTL,
	})
	publisher.Start()
	defer publisher.Close()

	// Initialize bar stream consumer
	consumerConfig := pubsub.DefaultStreamConsumerConfig(
		cfg.Tracker.BarStream,
		cfg.Tracker.ConsumerGroup,
		fmt.Sprintf("tracker-consumer-%d", os.Getpid()),
	)

	consumer := pubsub.NewStreamConsumer(redisClient, consumerConfig)
	consumer.SetHandler(engine.BarHandler(trackerEngine, publisher, eventStore))

	if err := consumer.Start(); err != nil {
		logger.Fatal("Failed to start stream consumer", logger.ErrorField(err))
	}
	defer consumer.Stop()

	logger.Info("Level tracker service started",
		logger.String("stream", cfg.Tracker.BarStream),
		logger.String("consumer_group", cfg.Tracker.ConsumerGroup),
		logger.Int("sources", len(engineConfig.Sources)),
		logger.Int("acceptance_threshold", engineConfig.AcceptanceThreshold),
	)

	// Setup health and metrics server
	var wg sync.WaitGroup
	healthRouter := setupHealthAndMetricsServer(trackerEngine, consumer, eventStore)
	healthServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Tracker.HealthCheckPort),
		Handler:      healthRouter,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("Starting health and metrics server",
			logger.Int("port", cfg.Tracker.HealthCheckPort),
		)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Health and metrics server failed", logger.ErrorField(err))
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down level tracker service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Health server shutdown failed", logger.ErrorField(err))
	}

	wg.Wait()
	logger.Info("Level tracker service stopped")
}

// buildEngineConfig translates environment configuration into the engine's
// tracker parameters
func buildEngineConfig(cfg *config.Config) (engine.Config, error) {
	rthStart, err := levels.ParseClockTime(cfg.Session.RTHStart)
	if err != nil {
		return engine.Config{}, fmt.Errorf("invalid RTH_START: %w", err)
	}
	rthEnd, err := levels.ParseClockTime(cfg.Session.RTHEnd)
	if err != nil {
		return engine.Config{}, fmt.Errorf("invalid RTH_END: %w", err)
	}
	ethStart, err := levels.ParseClockTime(cfg.Session.ETHStart)
	if err != nil {
		return engine.Config{}, fmt.Errorf("invalid ETH_START: %w", err)
	}
	location, err := cfg.Location()
	if err != nil {
		return engine.Config{}, err
	}

	sources := make([]levels.LevelSource, 0, len(cfg.Trackers.Sources))
	for _, source := range cfg.Trackers.Sources {
		sources = append(sources, levels.LevelSource(source))
	}

	var manualLevel *float64
	if cfg.Trackers.ManualLevel != 0 {
		level := cfg.Trackers.ManualLevel
		manualLevel = &level
	}

	return engine.Config{
		Sources:             sources,
		AcceptanceThreshold: cfg.Trackers.AcceptanceThreshold,
		ManualLevel:         manualLevel,
		AutoSide:            cfg.Trackers.AutoSide,
		AcceptAbove:         cfg.Trackers.AcceptAbove,
		RTHStart:            rthStart,
		RTHEnd:              rthEnd,
		ETHStart:            ethStart,
		Location:            location,
		ATRPeriod:           cfg.Trackers.ATRPeriod,
	}, nil
}

// setupHealthAndMetricsServer sets up HTTP endpoints for health checks and metrics
func setupHealthAndMetricsServer(trackerEngine *engine.Engine, consumer *pubsub.StreamConsumer, eventStore *storage.EventStore) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		healthStatus := map[string]interface{}{
			"status":    "UP",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"checks": map[string]interface{}{
				"consumer": map[string]interface{}{
					"status":  "ok",
					"running": consumer.IsRunning(),
					"stats":   consumer.GetStats(),
				},
				"engine": map[string]interface{}{
					"status":       "ok",
					"symbol_count": trackerEngine.SymbolCount(),
				},
				"event_store": map[string]interface{}{
					"status":  "ok",
					"running": eventStore.IsRunning(),
				},
			},
		}

		if !consumer.IsRunning() || !eventStore.IsRunning() {
			status = http.StatusServiceUnavailable
			healthStatus["status"] = "DOWN"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(healthStatus)
	}).Methods("GET")

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if consumer.IsRunning() && eventStore.IsRunning() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("READY"))
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("NOT READY"))
		}
	}).Methods("GET")

	router.HandleFunc("/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("LIVE"))
	}).Methods("GET")

	router.Handle("/metrics", promhttp.Handler())

	return router
}
