package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohamedkhairy/session-levels/internal/config"
	"github.com/mohamedkhairy/session-levels/internal/models"
	"github.com/mohamedkhairy/session-levels/pkg/logger"
)

var (
	eventWriteTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_store_write_total",
			Help: "Total number of acceptance events written to Postgres",
		},
		[]string{"status"}, // "success" or "error"
	)

	eventWriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_store_write_errors_total",
			Help: "Total number of event write errors",
		},
		[]string{"error_type"},
	)

	eventWriteLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "event_store_write_latency_seconds",
			Help:    "Event write latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
	)

	eventWriteQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "event_store_write_queue_depth",
			Help: "Current depth of the event write queue",
		},
	)
)

const createEventsTable = `
CREATE TABLE IF NOT EXISTS acceptance_events (
	id          UUID PRIMARY KEY,
	symbol      TEXT NOT NULL,
	tracker     TEXT NOT NULL,
	timestamp   TIMESTAMPTZ NOT NULL,
	level       DOUBLE PRECISION NOT NULL,
	accept_above BOOLEAN NOT NULL,
	accepted    BOOLEAN NOT NULL,
	accept_bars INTEGER NOT NULL,
	close_price DOUBLE PRECISION NOT NULL,
	trace_id    TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_acceptance_events_symbol_ts
	ON acceptance_events (symbol, timestamp DESC);
`

// WriteConfig holds configuration for async write operations
type WriteConfig struct {
	BatchSize  int
	Interval   time.Duration
	QueueSize  int
	MaxRetries int
	RetryDelay time.Duration
}

// WriteConfigFromTrackerConfig creates a WriteConfig from the tracker service
// configuration
func WriteConfigFromTrackerConfig(cfg config.TrackerServiceConfig) WriteConfig {
	return WriteConfig{
		BatchSize:  cfg.DBWriteBatchSize,
		Interval:   cfg.DBWriteInterval,
		QueueSize:  cfg.DBWriteQueueSize,
		MaxRetries: cfg.DBMaxRetries,
		RetryDelay: cfg.DBRetryDelay,
	}
}

// EventStore implements EventStorage on Postgres with an async write queue
type EventStore struct {
	db          *sql.DB
	dbConfig    config.DatabaseConfig
	writeConfig WriteConfig

	writeQueue chan *models.AcceptanceEvent
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.RWMutex
	running    bool
}

// NewEventStore connects to Postgres and ensures the events table exists
func NewEventStore(dbConfig config.DatabaseConfig, writeConfig WriteConfig) (*EventStore, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		dbConfig.Host,
		dbConfig.Port,
		dbConfig.User,
		dbConfig.Password,
		dbConfig.Database,
		dbConfig.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(dbConfig.MaxConnections)
	db.SetMaxIdleConns(dbConfig.MaxIdleConns)
	db.SetConnMaxLifetime(dbConfig.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, createEventsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create events table: %w", err)
	}

	storeCtx, storeCancel := context.WithCancel(context.Background())

	store := &EventStore{
		db:          db,
		dbConfig:    dbConfig,
		writeConfig: writeConfig,
		writeQueue:  make(chan *models.AcceptanceEvent, writeConfig.QueueSize),
		ctx:         storeCtx,
		cancel:      storeCancel,
	}

	logger.Info("Connected to Postgres",
		logger.String("host", dbConfig.Host),
		logger.Int("port", dbConfig.Port),
		logger.String("database", dbConfig.Database),
	)

	return store, nil
}

// Start starts the write queue processor
func (s *EventStore) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("event store is already running")
	}
	s.running = true
	s.mu.Unlock()

	logger.Info("Starting event write queue processor",
		logger.Int("batch_size", s.writeConfig.BatchSize),
		logger.Duration("interval", s.writeConfig.Interval),
	)

	s.wg.Add(1)
	go s.processWriteQueue()

	return nil
}

// Stop stops the write queue processor and flushes remaining events
func (s *EventStore) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		// Read-only callers never start the queue but still own the pool
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
		return nil
	}
	s.running = false
	s.mu.Unlock()

	logger.Info("Stopping event write queue processor")
	s.cancel()
	s.wg.Wait()

	// Flush anything still queued
	remaining := make([]*models.AcceptanceEvent, 0, len(s.writeQueue))
	for {
		select {
		case event := <-s.writeQueue:
			remaining = append(remaining, event)
		default:
			if len(remaining) > 0 {
				s.writeEventsSync(context.Background(), remaining)
			}
			if err := s.db.Close(); err != nil {
				return fmt.Errorf("failed to close database connection: %w", err)
			}
			logger.Info("Event store stopped")
			return nil
		}
	}
}

// Enqueue queues an event for async writing, dropping it if the queue is full
func (s *EventStore) Enqueue(event *models.AcceptanceEvent) {
	if event == nil {
		return
	}
	if err := event.Validate(); err != nil {
		logger.Warn("Invalid event, skipping",
			logger.ErrorField(err),
			logger.String("symbol", event.Symbol),
		)
		return
	}

	select {
	case s.writeQueue <- event:
		eventWriteQueueDepth.Set(float64(len(s.writeQueue)))
	default:
		eventWriteErrors.WithLabelValues("queue_full").Inc()
		logger.Error("Event write queue is full, dropping event",
			logger.String("symbol", event.Symbol),
			logger.String("tracker", event.Tracker),
			logger.String("event_id", event.ID),
		)
	}
}

// WriteEvent writes a single event synchronously
func (s *EventStore) WriteEvent(ctx context.Context, event *models.AcceptanceEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if err := event.Validate(); err != nil {
		return err
	}
	return s.insertEvents(ctx, []*models.AcceptanceEvent{event})
}

// WriteEvents writes multiple events synchronously in one transaction
func (s *EventStore) WriteEvents(ctx context.Context, events []*models.AcceptanceEvent) error {
	valid := make([]*models.AcceptanceEvent, 0, len(events))
	for _, event := range events {
		if err := event.Validate(); err != nil {
			logger.Warn("Invalid event, skipping",
				logger.ErrorField(err),
				logger.String("symbol", event.Symbol),
			)
			continue
		}
		valid = append(valid, event)
	}
	if len(valid) == 0 {
		return nil
	}
	return s.insertEvents(ctx, valid)
}

// GetEvents retrieves events matching the filter, newest first
func (s *EventStore) GetEvents(ctx context.Context, filter EventFilter) ([]*models.AcceptanceEvent, error) {
	query := `
		SELECT id, symbol, tracker, timestamp, level, accept_above, accepted, accept_bars, close_price, COALESCE(trace_id, '')
		FROM acceptance_events
		WHERE 1=1
	`
	args := make([]interface{}, 0, 6)
	argIdx := 1

	if filter.Symbol != "" {
		query += fmt.Sprintf(" AND symbol = $%d", argIdx)
		args = append(args, filter.Symbol)
		argIdx++
	}
	if filter.Tracker != "" {
		query += fmt.Sprintf(" AND tracker = $%d", argIdx)
		args = append(args, filter.Tracker)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND timestamp >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND timestamp <= $%d", argIdx)
		args = append(args, filter.EndTime)
		argIdx++
	}

	query += " ORDER BY timestamp DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*models.AcceptanceEvent
	for rows.Next() {
		var event models.AcceptanceEvent
		if err := rows.Scan(
			&event.ID,
			&event.Symbol,
			&event.Tracker,
			&event.Timestamp,
			&event.Level,
			&event.AcceptAbove,
			&event.Accepted,
			&event.AcceptBars,
			&event.Close,
			&event.TraceID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return events, nil
}

// Close stops the write queue and closes the database connection
func (s *EventStore) Close() error {
	return s.Stop()
}

// processWriteQueue drains the queue into batched inserts
func (s *EventStore) processWriteQueue() {
	defer s.wg.Done()

	batch := make([]*models.AcceptanceEvent, 0, s.writeConfig.BatchSize)
	ticker := time.NewTicker(s.writeConfig.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			if len(batch) > 0 {
				s.writeEventsSync(context.Background(), batch)
			}
			return

		case event := <-s.writeQueue:
			batch = append(batch, event)
			eventWriteQueueDepth.Set(float64(len(s.writeQueue)))

			if len(batch) >= s.writeConfig.BatchSize {
				s.writeEventsSync(context.Background(), batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.writeEventsSync(context.Background(), batch)
				batch = batch[:0]
			}
		}
	}
}

// writeEventsSync writes events with retry logic
func (s *EventStore) writeEventsSync(ctx context.Context, events []*models.AcceptanceEvent) {
	if len(events) == 0 {
		return
	}

	startTime := time.Now()

	var err error
	for attempt := 0; attempt < s.writeConfig.MaxRetries; attempt++ {
		err = s.insertEvents(ctx, events)
		if err == nil {
			break
		}

		if attempt < s.writeConfig.MaxRetries-1 {
			delay := s.writeConfig.RetryDelay * time.Duration(1<<uint(attempt)) // Exponential backoff
			logger.Warn("Failed to write events, retrying",
				logger.ErrorField(err),
				logger.Int("attempt", attempt+1),
				logger.Int("events_count", len(events)),
				logger.Duration("delay", delay),
			)
			time.Sleep(delay)
		}
	}

	eventWriteLatency.Observe(time.Since(startTime).Seconds())

	if err != nil {
		eventWriteErrors.WithLabelValues("write_failed").Inc()
		eventWriteTotal.WithLabelValues("error").Add(float64(len(events)))
		logger.Error("Failed to write events after retries",
			logger.ErrorField(err),
			logger.Int("events_count", len(events)),
		)
		return
	}

	eventWriteTotal.WithLabelValues("success").Add(float64(len(events)))
	logger.Debug("Wrote events to Postgres",
		logger.Int("count", len(events)),
		logger.Duration("latency", time.Since(startTime)),
	)
}

// insertEvents inserts events in a single transaction
func (s *EventStore) insertEvents(ctx context.Context, events []*models.AcceptanceEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO acceptance_events (id, symbol, tracker, timestamp, level, accept_above, accepted, accept_bars, close_price, trace_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, event := range events {
		_, err := stmt.ExecContext(ctx,
			event.ID,
			event.Symbol,
			event.Tracker,
			event.Timestamp,
			event.Level,
			event.AcceptAbove,
			event.Accepted,
			event.AcceptBars,
			event.Close,
			event.TraceID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// IsRunning returns whether the write queue processor is running
func (s *EventStore) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
