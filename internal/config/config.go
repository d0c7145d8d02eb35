package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultCallTimeout is how long a call rings before it is recorded as missed.
const DefaultCallTimeout = 30 * time.Second

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string // PostgreSQL; empty means SQLite fallback
	SQLitePath  string
	RedisURL    string
	JWTSecret   string

	// Realtime
	CallTimeout    time.Duration
	AllowedOrigins []string // Origins accepted for WebSocket upgrades and CORS

	// Rate limiting
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
		Port:             getEnv("PORT", "8080"),
		Env:              getEnv("ENV", "development"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		SQLitePath:       getEnv("SQLITE_PATH", "./data/platform.db"),
		RedisURL:         os.Getenv("REDIS_URL"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		CallTimeout:      getDuration("CALL_TIMEOUT", DefaultCallTimeout),
		AllowedOrigins:   splitList(getEnv("ALLOWED_ORIGINS", "*")),
		AutoBlockEnabled: getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
	}

	// Parse whitelist (comma-separated IPs or CIDRs)
	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		cfg.RateLimitWhitelist = splitList(whitelist)
	}

	// In production, require a signing secret and a durable database
	if cfg.Env == "production" {
		if cfg.JWTSecret == "" {
			panic("JWT_SECRET is required in production")
		}
		if cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required in production")
		}
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "development-secret-do-not-deploy"
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

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

func splitList(value string) []string {
	var out []string
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
