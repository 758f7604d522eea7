package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"signal-systemv1/internal/model"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Angel One credentials
	AngelAPIKey     string
	AngelClientCode string
	AngelPIN        string
	AngelTOTPSecret string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	JournalPath   string
	MetricsAddr   string
	APIAddr       string
	LogLevel      string

	// Strategy config file consumed at signal-TF close boundaries.
	StrategyConfigPath string

	// Instruments as "exchange:token:index" triples, comma separated.
	Instruments string

	// Signal timeframe in seconds (5m rollup by default).
	SignalTF int

	// Event-time late tolerance for the 1m aggregator, seconds.
	LateToleranceSec int

	// Quote poll interval for option marking, seconds. 0 disables.
	QuotePollSec int

	// Notification backends (empty disables).
	TelegramBotToken string
	TelegramChatID   string
	AlertWebhookURL  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		AngelAPIKey:     mustEnv("ANGEL_API_KEY"),
		AngelClientCode: mustEnv("ANGEL_CLIENT_CODE"),
		AngelPIN:        mustEnv("ANGEL_PIN"),
		AngelTOTPSecret: mustEnv("ANGEL_TOTP_SECRET"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/candles.db"),
		JournalPath:   getEnv("JOURNAL_PATH", "data/journal.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		APIAddr:       getEnv("API_ADDR", ":8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		StrategyConfigPath: getEnv("STRATEGY_CONFIG_PATH", ""),

		// Defaults: NIFTY and BANKNIFTY current-month futures are
		// resolved at startup; these are the underlying spot indices.
		Instruments: getEnv("INSTRUMENTS", "NSE:26000:NIFTY,NSE:26009:BANKNIFTY"),

		SignalTF:         getEnvInt("SIGNAL_TF_SEC", 300),
		LateToleranceSec: getEnvInt("LATE_TOLERANCE_SEC", 2),
		QuotePollSec:     getEnvInt("QUOTE_POLL_SEC", 5),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		AlertWebhookURL:  getEnv("ALERT_WEBHOOK_URL", ""),
	}
}

// ParseInstruments parses the Instruments string into model.Instrument
// values. Malformed entries are skipped with a warning.
func (c *Config) ParseInstruments() []model.Instrument {
	parts := strings.Split(c.Instruments, ",")
	out := make([]model.Instrument, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		fields := strings.Split(p, ":")
		if len(fields) != 3 {
			log.Printf("[config] skipping invalid instrument entry: %q", p)
			continue
		}
		out = append(out, model.Instrument{
			Exchange: fields[0],
			Token:    fields[1],
			Index:    fields[2],
			Name:     fields[2],
		})
	}
	return out
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
