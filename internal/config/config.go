package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Port        string
	Environment string
	MongoURI    string
	RedisURL    string

	// Auth
	JWTSecret          string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration

	// Presence channel tuning
	PresenceThrottle time.Duration // Minimum interval between cursor broadcasts per connection
	PresenceWindow   time.Duration // Inactivity window before a record is evicted from the roster

	// Auto-archive sweep
	ArchiveSweepCron string // Cron expression, validated at startup

	// Notification retention
	NotificationRetentionDays int

	// Board template for new projects (default columns, labels, flags)
	BoardTemplatePath string
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "3001"),
		Environment: strings.ToLower(getEnv("ENVIRONMENT", "development")),
		MongoURI:    getEnv("MONGODB_URI", "mongodb://localhost:27017/flowboard"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379"),

		JWTSecret:          getEnv("JWT_SECRET", ""),
		AccessTokenExpiry:  getDurationEnv("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
		RefreshTokenExpiry: getDurationEnv("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),

		PresenceThrottle: getDurationEnv("PRESENCE_THROTTLE", 100*time.Millisecond),
		PresenceWindow:   getDurationEnv("PRESENCE_WINDOW", 30*time.Second),

		ArchiveSweepCron: getEnv("ARCHIVE_SWEEP_CRON", "*/15 * * * *"),

		NotificationRetentionDays: getIntEnv("NOTIFICATION_RETENTION_DAYS", 30),

		BoardTemplatePath: getEnv("BOARD_TEMPLATE_PATH", "board_template.yaml"),
	}
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
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

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}
