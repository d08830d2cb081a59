package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerPort      string
	DatabaseURL     string
	CORSAllowOrigin string
	AdminToken      string

	SBATBaseURL  string
	SBATUsername string
	SBATPassword string
	SBATTimeout  time.Duration

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	TelegramBotToken       string
	TelegramOperatorChatID string

	DiscordBotToken  string
	DiscordChannelID string

	RedisURL string

	AuditRetention         time.Duration
	AuditRetentionSchedule string

	MonitorConfigFile string
	MonitorAutostart  bool
}

func Load() *Config {
	return &Config{
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		DatabaseURL:     requireEnv("DATABASE_URL"),
		CORSAllowOrigin: getEnv("CORS_ALLOW_ORIGIN", "http://localhost:3000"),
		AdminToken:      os.Getenv("ADMIN_TOKEN"),

		SBATBaseURL:  os.Getenv("SBAT_BASE_URL"),
		SBATUsername: requireEnv("SBAT_USERNAME"),
		SBATPassword: requireEnv("SBAT_PASSWORD"),
		SBATTimeout:  getDuration("SBAT_TIMEOUT", 60*time.Second),

		SMTPHost:     os.Getenv("SMTP_SERVER"),
		SMTPPort:     getInt("SMTP_PORT", 587),
		SMTPUsername: os.Getenv("SENDER_EMAIL"),
		SMTPPassword: os.Getenv("SENDER_PASSWORD"),
		SMTPFrom:     os.Getenv("SMTP_FROM"),

		TelegramBotToken:       os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramOperatorChatID: os.Getenv("TELEGRAM_CHAT_ID"),

		DiscordBotToken:  os.Getenv("DISCORD_BOT_TOKEN"),
		DiscordChannelID: os.Getenv("DISCORD_CHANNEL_ID"),

		RedisURL: os.Getenv("REDIS_URL"),

		AuditRetention:         getDuration("AUDIT_RETENTION", 720*time.Hour),
		AuditRetentionSchedule: getEnv("AUDIT_RETENTION_SCHEDULE", "@daily"),

		MonitorConfigFile: os.Getenv("MONITOR_CONFIG_FILE"),
		MonitorAutostart:  getBool("MONITOR_AUTOSTART", false),
	}
}

// DatabaseURL is the only setting the migrate command needs.
func DatabaseURL() string {
	return requireEnv("DATABASE_URL")
}

func (c *Config) EmailEnabled() bool {
	return c.SMTPHost != "" && c.SMTPUsername != ""
}

func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != ""
}

func (c *Config) DiscordEnabled() bool {
	return c.DiscordBotToken != "" && c.DiscordChannelID != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration for env var, using default",
			"key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer for env var, using default",
			"key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("invalid boolean for env var, using default",
			"key", key, "value", v, "default", fallback)
		return fallback
	}
	return b
}
