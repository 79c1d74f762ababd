package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreSQLite = "sqlite"
	StoreJSON   = "json"
)

// Config holds the application settings read from the environment.
type Config struct {
	TelegramBotToken  string
	TelegramChatID    int64
	DiscordWebhookURL string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPTo       []string

	CheckInterval  time.Duration
	CheckSchedule  string
	NotifyCooldown time.Duration
	SendAttempts   int

	AlertStore   string
	DatabasePath string
	AlertsFile   string
	StoresFile   string

	HTTPAddr string

	RequestDelay   time.Duration
	RequestTimeout time.Duration
	MaxAttempts    int

	LogLevel string
}

// Load reads the configuration from environment variables. Invalid numbers fall back
// to their defaults; an unknown ALERT_STORE is an error.
func Load() (*Config, error) {
	cfg := &Config{
		TelegramBotToken:  strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")),
		DiscordWebhookURL: strings.TrimSpace(os.Getenv("DISCORD_WEBHOOK_URL")),
		SMTPHost:          strings.TrimSpace(os.Getenv("SMTP_HOST")),
		SMTPPort:          intEnv("SMTP_PORT", 587),
		SMTPUsername:      strings.TrimSpace(os.Getenv("SMTP_USERNAME")),
		SMTPPassword:      os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:          strings.TrimSpace(os.Getenv("SMTP_FROM")),
		SMTPTo:            listEnv("SMTP_TO"),
		CheckInterval:     time.Duration(intEnv("CHECK_INTERVAL_MINUTES", 30)) * time.Minute,
		CheckSchedule:     strings.TrimSpace(os.Getenv("CHECK_SCHEDULE")),
		NotifyCooldown:    time.Duration(intEnv("NOTIFY_COOLDOWN_HOURS", 168)) * time.Hour,
		SendAttempts:      intEnv("SEND_ATTEMPTS", 3),
		AlertStore:        strings.ToLower(stringEnv("ALERT_STORE", StoreSQLite)),
		DatabasePath:      stringEnv("DATABASE_PATH", "./alerts.db"),
		AlertsFile:        stringEnv("ALERTS_FILE", "./alerts.json"),
		StoresFile:        strings.TrimSpace(os.Getenv("STORES_FILE")),
		HTTPAddr:          ":8080",
		RequestTimeout:    time.Duration(intEnv("REQUEST_TIMEOUT_SECONDS", 15)) * time.Second,
		MaxAttempts:       intEnv("MAX_ATTEMPTS", 3),
		LogLevel:          stringEnv("LOG_LEVEL", "info"),
	}

	// Chat ID is optional: it restricts the bot and is the default notification chat.
	if chatIDStr := strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")); chatIDStr != "" {
		chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("TELEGRAM_CHAT_ID %q is not a number", chatIDStr)
		}
		cfg.TelegramChatID = chatID
	}

	// An explicitly empty HTTP_ADDR disables the API.
	if addr, ok := os.LookupEnv("HTTP_ADDR"); ok {
		cfg.HTTPAddr = strings.TrimSpace(addr)
	}

	// Zero or negative disables the per-host delay.
	cfg.RequestDelay = 2 * time.Second
	if v := strings.TrimSpace(os.Getenv("REQUEST_DELAY_SECONDS")); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			if secs <= 0 {
				cfg.RequestDelay = -1
			} else {
				cfg.RequestDelay = time.Duration(secs * float64(time.Second))
			}
		}
	}

	if cfg.SMTPHost != "" && cfg.SMTPFrom == "" {
		return nil, fmt.Errorf("SMTP_FROM is required when SMTP_HOST is set")
	}

	if cfg.AlertStore != StoreSQLite && cfg.AlertStore != StoreJSON {
		return nil, fmt.Errorf("ALERT_STORE must be %q or %q, got %q", StoreSQLite, StoreJSON, cfg.AlertStore)
	}

	return cfg, nil
}

// HasNotifier reports whether any delivery channel is configured.
func (c *Config) HasNotifier() bool {
	return c.TelegramBotToken != "" || c.DiscordWebhookURL != "" || c.SMTPHost != ""
}

func stringEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			return parsed
		}
	}
	return def
}

func listEnv(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
