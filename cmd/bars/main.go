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

	"github.com/mohamedkhairy/session-levels/internal/bars"
	"github.com/mohamedkhairy/session-levels/internal/config"
	"github.com/mohamedkhairy/session-levels/internal/models"
	"github.com/mohamedkhairy/session-levels/internal/pubsub"
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

	logger.Info("Starting bars aggregator service",
		logger.Int("health_port", cfg.Bars.HealthCheckPort),
		logger.String("tick_stream", cfg.Bars.TickStream),
		logger.String("bar_stream", cfg.Bars.BarStream),
	)

	location, err := cfg.Location()
	if err != nil {
		logger.Fatal("Failed to load session time zone", logger.ErrorField(err))
	}

	// Initialize Redis client
	redisClient, err := pubsub.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to initialize Redis client", logger.ErrorField(err))
	}
	defer redisClient.Close()

	// Initialize bar publisher
	publisherConfig := pubsub.DefaultStreamPublisherConfig(cfg.Bars.BarStream, "bar")
	publisherConfig.BatchSize = cfg.Bars.BatchSize
	publisherConfig.BatchTimeout = cfg.Bars.FlushInterval
	publisher := pubsub.NewStreamPublisher(redisClient, publisherConfig)
	publisher.Start()
	defer publisher.Close()

	// Initialize bar aggregator
	aggregator := bars.NewAggregator(location)
	aggregator.SetOnBarFinal(func(bar *models.Bar) {
		if err := publisher.Publish(bar); err != nil {
			logger.Error("Failed to publish finalized bar",
				logger.ErrorField(err),
				logger.String("symbol", bar.Symbol),
			)
		}
	})

	// Initialize tick stream consumer
	consumerConfig := pubsub.DefaultStreamConsumerConfig(
		cfg.Bars.TickStream,
		cfg.Bars.ConsumerGroup,
		fmt.Sprintf("bars-consumer-%d", os.Getpid()),
	)
	consumerConfig.BatchSize = cfg.Bars.BatchSize

	consumer := pubsub.NewStreamConsumer(redisClient, consumerConfig)
	consumer.SetHandler(bars.TickHandler(aggregator))

	if err := consumer.Start(); err != nil {
		logger.Fatal("Failed to start stream consumer", logger.ErrorField(err))
	}
	defer consumer.Stop()

	logger.Info("Bars aggregator service started",
		logger.String("stream", cfg.Bars.TickStream),
		logger.String("consumer_group", cfg.Bars.ConsumerGroup),
	)

	// Setup health and metrics server
	var wg sync.WaitGroup
	healthRouter := setupHealthAndMetricsServer(aggregator, consumer)
	healthServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Bars.HealthCheckPort),
		Handler:      healthRouter,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("Starting health and metrics server",
			logger.Int("port", cfg.Bars.HealthCheckPort),
		)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Health and metrics server failed", logger.ErrorField(err))
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down bars aggregator service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Health server shutdown failed", logger.ErrorField(err))
	}

	wg.Wait()

	// Finalize remaining live bars so nothing is lost
	aggregator.FlushAll()
	time.Sleep(500 * time.Millisecond)

	logger.Info("Bars aggregator service stopped")
}

// setupHealthAndMetricsServer sets up HTTP endpoints for health checks and metrics
func setupHealthAndMetricsServer(aggregator *bars.Aggregator, consumer *pubsub.StreamConsumer) *mux.Router {
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
				"aggregator": map[string]interface{}{
					"status":       "ok",
					"symbol_count": aggregator.SymbolCount(),
				},
			},
		}

		if !consumer.IsRunning() {
			status = http.StatusServiceUnavailable
			healthStatus["status"] = "DOWN"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(healthStatus)
	}).Methods("GET")

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if consumer.IsRunning() {
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
