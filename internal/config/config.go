package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port     string
	Env      string
	RedisURL string

	// Room lifecycle
	RoomTTL      time.Duration
	MessageLimit int

	// Rate limiting tiers
	MessageRateLimit      int
	MessageRateWindow     time.Duration
	MessageHourlyLimit    int
	MessageHourlyWindow   time.Duration
	RoomCreateLimit       int
	RoomCreateWindow      time.Duration
	RoomCreateDailyLimit  int
	RoomCreateDailyWindow time.Duration

	// Abuse protection
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		RedisURL: os.Getenv("REDIS_URL"),

		RoomTTL:      getEnvSeconds("ROOM_TTL_SECONDS", 86400),
		MessageLimit: getEnvInt("MESSAGE_LIMIT", 200),

		MessageRateLimit:      getEnvInt("MESSAGE_RATE_LIMIT", 20),
		MessageRateWindow:     getEnvSeconds("MESSAGE_RATE_WINDOW_SECONDS", 10),
		MessageHourlyLimit:    getEnvInt("MESSAGE_RATE_HOURLY_LIMIT", 200),
		MessageHourlyWindow:   getEnvSeconds("MESSAGE_RATE_HOURLY_WINDOW_SECONDS", 3600),
		RoomCreateLimit:       getEnvInt("ROOM_CREATE_LIMIT", 5),
		RoomCreateWindow:      getEnvSeconds("ROOM_CREATE_WINDOW_SECONDS", 600),
		RoomCreateDailyLimit:  getEnvInt("ROOM_CREATE_DAILY_LIMIT", 50),
		RoomCreateDailyWindow: getEnvSeconds("ROOM_CREATE_DAILY_WINDOW_SECONDS", 86400),

		AutoBlockEnabled: getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
	}

	// Parse whitelist (comma-separated IPs or CIDRs)
	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		for _, entry := range strings.Split(whitelist, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
			}
		}
	}

	// In production, require a real Redis backend
	if cfg.Env == "production" && cfg.RedisURL == "" {
		panic("REDIS_URL is required in production")
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * time.Second
}
