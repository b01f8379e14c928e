package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	Environment string

	// Database
	DatabaseURL    string
	MigrateOnStart bool
	MigrationsPath string

	// Redis
	RedisURL     string
	RedisChannel string

	// Server
	Port        string
	FrontendURL string

	// Table
	TableWidth   float64
	TableDepth   float64
	PocketRadius float64

	// Simulation
	TickRate                int
	BroadcastEveryTicks     int
	MaxCommandsPerActor     int
	SettleFlushInterval     time.Duration
	FullFlushInterval       time.Duration
	MissingAttributorPolicy string
	RehomeRetries           int
	RehomeBackoff           time.Duration

	// Cue
	MaxPull          float64
	MaxForce         float64
	EnforceOwnership bool

	// Maintenance
	PruneInterval  time.Duration
	PruneRetention time.Duration

	// WebSocket
	WSReplyTimeout time.Duration

	// Security
	JWTSecret string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		// Environment
		Environment: getEnv("APP_ENV", "development"),

		// Database
		DatabaseURL:    getEnv("DATABASE_URL", "postgres://localhost:5432/cuetable?sslmode=disable"),
		MigrateOnStart: getEnvBool("MIGRATE_ON_START", true),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "file://migrations"),

		// Redis
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisChannel: getEnv("REDIS_CHANNEL", "board_events"),

		// Server
		Port:        getEnv("APP_PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),

		// Table
		TableWidth:   getEnvFloat("TABLE_WIDTH", 80),
		TableDepth:   getEnvFloat("TABLE_DEPTH", 48),
		PocketRadius: getEnvFloat("POCKET_RADIUS", 1.8),

		// Simulation
		TickRate:                getEnvInt("TICK_RATE", 60),
		BroadcastEveryTicks:     getEnvInt("BROADCAST_EVERY_TICKS", 3),
		MaxCommandsPerActor:     getEnvInt("MAX_COMMANDS_PER_ACTOR", 32),
		SettleFlushInterval:     getEnvDuration("SETTLE_FLUSH_INTERVAL", 1200*time.Millisecond),
		FullFlushInterval:       getEnvDuration("FULL_FLUSH_INTERVAL", 3*time.Second),
		MissingAttributorPolicy: getEnv("MISSING_ATTRIBUTOR_POLICY", "drop"),
		RehomeRetries:           getEnvInt("REHOME_RETRIES", 3),
		RehomeBackoff:           getEnvDuration("REHOME_BACKOFF", 200*time.Millisecond),

		// Cue
		MaxPull:          getEnvFloat("CUE_MAX_PULL", 18),
		MaxForce:         getEnvFloat("CUE_MAX_FORCE", 16),
		EnforceOwnership: getEnvBool("ENFORCE_OWNERSHIP", true),

		// Maintenance
		PruneInterval:  getEnvDuration("PRUNE_INTERVAL", 10*time.Minute),
		PruneRetention: getEnvDuration("PRUNE_RETENTION", 24*time.Hour),

		// WebSocket
		WSReplyTimeout: getEnvDuration("WS_REPLY_TIMEOUT", 2*time.Second),

		// Security
		JWTSecret: getEnv("JWT_SECRET", "change-me-in-production"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("1.5s") or plain milliseconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
