package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Common
	Environment string
	LogLevel    string

	// Session windows and tracker parameters
	Session  SessionConfig
	Trackers TrackersConfig

	// Infrastructure
	Database DatabaseConfig
	Redis    RedisConfig

	// Services
	Bars    BarsConfig
	Tracker TrackerServiceConfig
	API     APIConfig
}

// SessionConfig holds exchange session window configuration
type SessionConfig struct {
	TimeZone string // IANA zone name, e.g. "America/New_York"
	RTHStart string // "09:30"
	RTHEnd   string // "16:00"
	ETHStart string // "18:00" (overnight window start)
}

// TrackersConfig holds the level tracker parameters
type TrackersConfig struct {
	AcceptanceThreshold int
	Sources             []string // level sources to track per symbol
	ManualLevel         float64  // fallback level; 0 means unset
	AutoSide            bool
	AcceptAbove         bool // used only when AutoSide is false
	ATRPeriod           int
	Symbols             []string
}

// DatabaseConfig holds Postgres/TimescaleDB configuration
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
}

// BarsConfig holds bar aggregator service configuration
type BarsConfig struct {
	HealthCheckPort int
	TickStream      string
	BarStream       string
	ConsumerGroup   string
	BatchSize       int
	FlushInterval   time.Duration
}

// TrackerServiceConfig holds tracker engine service configuration
type TrackerServiceConfig struct {
	HealthCheckPort int
	BarStream       string
	SnapshotStream  string
	EventStream     string
	LiveChannel     string
	ConsumerGroup   string
	LatestTTL       time.Duration
	// Event persistence
	DBWriteBatchSize int
	DBWriteInterval  time.Duration
	DBWriteQueueSize int
	DBMaxRetries     int
	DBRetryDelay     time.Duration
}

// APIConfig holds REST API configuration
type APIConfig struct {
	Port            int
	HealthCheckPort int
	JWTSecret       string
	RateLimitRPS    int
	LiveChannel     string
}

// Load loads configuration from environment variables
// It automatically loads .env file if it exists in the current directory or parent directories
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Session: SessionConfig{
			TimeZone: getEnv("SESSION_TZ", "America/New_York"),
			RTHStart: getEnv("RTH_START", "09:30"),
			RTHEnd:   getEnv("RTH_END", "16:00"),
			ETHStart: getEnv("ETH_START", "18:00"),
		},
		Trackers: TrackersConfig{
			AcceptanceThreshold: getEnvAsInt("ACCEPTANCE_THRESHOLD", 10),
			Sources:             getEnvAsStringSlice("LEVEL_SOURCES", []string{"prior_day_low"}),
			ManualLevel:         getEnvAsFloat("MANUAL_LEVEL", 0),
			AutoSide:            getEnvAsBool("AUTO_SIDE", true),
			AcceptAbove:         getEnvAsBool("ACCEPT_ABOVE", true),
			ATRPeriod:           getEnvAsInt("ATR_PERIOD", 14),
			Symbols:             getEnvAsStringSlice("SYMBOLS", []string{}),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			Database:        getEnv("DB_NAME", "session_levels"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxConnections:  getEnvAsInt("DB_MAX_CONNECTIONS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnvAsInt("REDIS_PORT", 6379),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvAsInt("REDIS_MIN_IDLE_CONNS", 5),
		},
		Bars: BarsConfig{
			HealthCheckPort: getEnvAsInt("BARS_HEALTH_PORT", 8081),
			TickStream:      getEnv("BARS_TICK_STREAM", "ticks"),
			BarStream:       getEnv("BARS_BAR_STREAM", "bars.finalized"),
			ConsumerGroup:   getEnv("BARS_CONSUMER_GROUP", "bars-aggregator"),
			BatchSize:       getEnvAsInt("BARS_BATCH_SIZE", 100),
			FlushInterval:   getEnvAsDuration("BARS_FLUSH_INTERVAL", 100*time.Millisecond),
		},
		Tracker: TrackerServiceConfig{
			HealthCheckPort:  getEnvAsInt("TRACKER_HEALTH_PORT", 8083),
			BarStream:        getEnv("TRACKER_BAR_STREAM", "bars.finalized"),
			SnapshotStream:   getEnv("TRACKER_SNAPSHOT_STREAM", "levels.snapshots"),
			EventStream:      getEnv("TRACKER_EVENT_STREAM", "levels.events"),
			LiveChannel:      getEnv("TRACKER_LIVE_CHANNEL", "levels.live"),
			ConsumerGroup:    getEnv("TRACKER_CONSUMER_GROUP", "level-tracker"),
			LatestTTL:        getEnvAsDuration("TRACKER_LATEST_TTL", 24*time.Hour),
			DBWriteBatchSize: getEnvAsInt("TRACKER_DB_WRITE_BATCH_SIZE", 100),
			DBWriteInterval:  getEnvAsDuration("TRACKER_DB_WRITE_INTERVAL", 1*time.Second),
			DBWriteQueueSize: getEnvAsInt("TRACKER_DB_WRITE_QUEUE_SIZE", 1000),
			DBMaxRetries:     getEnvAsInt("TRACKER_DB_MAX_RETRIES", 3),
			DBRetryDelay:     getEnvAsDuration("TRACKER_DB_RETRY_DELAY", 100*time.Millisecond),
		},
		API: APIConfig{
			Port:            getEnvAsInt("API_PORT", 8090),
			HealthCheckPort: getEnvAsInt("API_HEALTH_PORT", 8091),
			JWTSecret:       getEnv("API_JWT_SECRET", ""),
			RateLimitRPS:    getEnvAsInt("API_RATE_LIMIT_RPS", 100),
			LiveChannel:     getEnv("API_LIVE_CHANNEL", "levels.live"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Redis.Host == "" {
		return fmt.Errorf("REDIS_HOST is required")
	}
	if c.Trackers.AcceptanceThreshold < 1 {
		return fmt.Errorf("ACCEPTANCE_THRESHOLD must be at least 1")
	}
	if len(c.Trackers.Sources) == 0 {
		return fmt.Errorf("LEVEL_SOURCES must contain at least one source")
	}
	if c.Session.RTHStart == c.Session.RTHEnd {
		return fmt.Errorf("RTH_START and RTH_END must differ")
	}
	if _, err := time.LoadLocation(c.Session.TimeZone); err != nil {
		return fmt.Errorf("SESSION_TZ is invalid: %w", err)
	}
	return nil
}

// Location returns the parsed session time zone
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Session.TimeZone)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return floatValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Split by comma and trim spaces
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
