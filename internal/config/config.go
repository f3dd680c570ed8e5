// Package config loads notifyd's process-level settings from the
// environment. Dispatcher tuning lives in the notification package.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds runtime settings loaded from env vars.
type Config struct {
	HTTPAddr    string
	DatabaseURL string
	RedisURL    string
	Environment string
	SentryDSN   string
	Release     string

	LogLevel  string
	LogFormat string
	LogFile   string

	TelegramBotToken string
	SMSRuAPIID       string
	SMSRuFrom        string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	// ContactsJSON overrides the built-in contact directory,
	// format: {"<user_id>": {"email": ..., "phone": ..., "telegram_chat_id": ...}}
	ContactsJSON string
}

// Load loads configuration from environment variables.
// Required variables: DATABASE_URL
// Optional variables with defaults: HTTP_ADDR, REDIS_URL, ENVIRONMENT,
// LOG_LEVEL, LOG_FORMAT, LOG_FILE, and the channel credentials.
func Load() Config {
	return Config{
		HTTPAddr:    envOr("HTTP_ADDR", ":8080"),
		DatabaseURL: envRequired("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		Environment: envOr("ENVIRONMENT", "development"),
		SentryDSN:   os.Getenv("SENTRY_DSN"),
		Release:     os.Getenv("RELEASE"),

		LogLevel:  envOr("LOG_LEVEL", "info"),
		LogFormat: envOr("LOG_FORMAT", "json"),
		LogFile:   os.Getenv("LOG_FILE"),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		SMSRuAPIID:       os.Getenv("SMSRU_API_ID"),
		SMSRuFrom:        os.Getenv("SMSRU_FROM"),

		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPPort:     envIntOr("SMTP_PORT", 587),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:     envOr("SMTP_FROM", "notifyd@localhost"),

		ContactsJSON: os.Getenv("NOTIFYD_CONTACTS"),
	}
}

// Validate checks that all required configuration is present and valid.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func envRequired(key string) string {
	value := os.Getenv(key)
	if value == "" {
		// In development, allow empty but warn
		fmt.Printf("WARNING: %s is not set. This is required in production.\n", key)
	}
	return value
}
