package config

import (
	"os"
	"strconv"
)

// Config holds all application configuration
type Config struct {
	Port     string
	MongoURI string
	RedisURL string

	// JWT verification secret for the external identity tokens
	JWTSecret string

	// Per-user fixed-window limiter for generation-class events
	RateLimitWindowMs int64
	RateLimitCap      int

	// Process-local ingest throttle (requests/second across all users)
	IngestGlobalRate float64

	// Consolidator tuning
	SweepIntervalSeconds int
	StaleClaimSeconds    int
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Port:      getEnv("PORT", "3001"),
		MongoURI:  getEnv("MONGODB_URI", ""),
		RedisURL:  getEnv("REDIS_URL", "redis://localhost:6379"),
		JWTSecret: getEnv("JWT_SECRET", ""),

		RateLimitWindowMs: int64(getIntEnv("RATE_LIMIT_WINDOW_MS", 60000)),
		RateLimitCap:      getIntEnv("RATE_LIMIT_CAP", 60),

		IngestGlobalRate: getFloatEnv("INGEST_GLOBAL_RATE", 200),

		SweepIntervalSeconds: getIntEnv("QUEUE_SWEEP_INTERVAL_SECONDS", 30),
		StaleClaimSeconds:    getIntEnv("QUEUE_STALE_CLAIM_SECONDS", 120),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
