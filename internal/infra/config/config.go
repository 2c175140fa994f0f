package config

import (
	"fmt"
	"os"
	"strconv"
	"strings" // For LogLevel normalization

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application. Dispatch policy
// (rate limits, timeouts, allowlist) is NOT here: it lives in the settings
// table so it can be changed without a restart.
type AppConfig struct {
	TelegramToken string
	DatabaseURL   string
	AdminChatID   int64
	GymName       string
	LogLevel      string
	Environment   string

	CronSpecDailyRecheck string // full delinquency recheck batch
	CronSpecDueSoon      string // upcoming-due reminder batch
	CronSpecOutbox       string // waitlist confirmation outbox poll
	CronSpecConfigReload string // dispatch config reload from settings
	CronSpecLedgerSweep  string // message ledger retention sweep

	DueSoonDays         int // how many days ahead the due-soon batch looks
	LedgerRetentionDays int

	DBMaxOpenConns int
	DBMaxIdleConns int
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// Attempt to load .env file. Errors are ignored if the file doesn't exist.
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN is not set")
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	adminIDStr := os.Getenv("ADMIN_CHAT_ID")
	if adminIDStr == "" {
		return nil, fmt.Errorf("ADMIN_CHAT_ID is not set")
	}
	cfg.AdminChatID, err = strconv.ParseInt(adminIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ADMIN_CHAT_ID: %w", err)
	}

	cfg.GymName = os.Getenv("GYM_NAME")
	if cfg.GymName == "" {
		cfg.GymName = "nuestro gimnasio"
	}

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info" // Default log level
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development" // Default environment
	}

	cfg.CronSpecDailyRecheck = envOr("CRON_SPEC_DAILY_RECHECK", "0 9 * * *")    // Default: 9 AM daily
	cfg.CronSpecDueSoon = envOr("CRON_SPEC_DUE_SOON", "0 10 * * *")             // Default: 10 AM daily
	cfg.CronSpecOutbox = envOr("CRON_SPEC_OUTBOX", "*/5 * * * *")               // Default: every 5 minutes
	cfg.CronSpecConfigReload = envOr("CRON_SPEC_CONFIG_RELOAD", "*/10 * * * *") // Default: every 10 minutes
	cfg.CronSpecLedgerSweep = envOr("CRON_SPEC_LEDGER_SWEEP", "30 3 * * *")     // Default: 3:30 AM daily

	cfg.DueSoonDays, err = envIntOr("DUE_SOON_DAYS", 3)
	if err != nil {
		return nil, err
	}
	cfg.LedgerRetentionDays, err = envIntOr("LEDGER_RETENTION_DAYS", 90)
	if err != nil {
		return nil, err
	}

	// Zero means "use the pool defaults".
	cfg.DBMaxOpenConns, err = envIntOr("DB_MAX_OPEN_CONNS", 0)
	if err != nil {
		return nil, err
	}
	cfg.DBMaxIdleConns, err = envIntOr("DB_MAX_IDLE_CONNS", 0)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
