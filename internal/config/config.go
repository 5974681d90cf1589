// Package config loads marketpulse's environment configuration. It follows
// the teacher's load-then-parse-with-default shape: attempt a .env file,
// fall back to whatever is already in the process environment, and apply a
// typed default for anything missing or unparsable.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every environment-driven knob spec.md §6 names, plus the
// ambient ones the components underneath need.
type Config struct {
	Symbol string
	Port   string

	PaperTrading       bool
	EnableRealTimeFeed bool

	TelegramBotToken string
	TelegramChatID   int64

	EtherscanAPIKey      string
	EtherscanBaseURL     string
	WebhookSecurityToken string

	BinanceAPIKey    string
	BinanceAPISecret string

	WatchlistAddresses []string
	APIHealthURLs      []string

	ClassifierProfile string // "aggressive" (default) or "conservative"

	OrderBookDepth    int
	PressureLevels    int
	MomentumWindow    time.Duration
	DLSRingCapacity   int

	MaxReconnectAttempts int
	MaxQueueSize         int
	MaxConcurrentTasks   int
	SchedulerTick        time.Duration
	ShutdownDeadline     time.Duration

	LogMinLevel      string
	LogDir           string
	LogFileMaxBytes  int64
	LogFileRetention int
}

// Load reads a .env file if present (logging a warning, not a fatal, when
// it's missing — same as the teacher) and then the process environment.
func Load() *Config {
	if err := loadDotEnv(".env"); err != nil {
		log.Println("warning: .env file not found, relying on process environment")
	}

	cfg := &Config{
		Symbol:               getEnv("SYMBOL", "ETHUSDT"),
		Port:                 getEnv("PORT", "8080"),
		PaperTrading:         getBool("PAPER_TRADING", true),
		EnableRealTimeFeed:   getBool("ENABLE_REAL_TIME_FEEDS", true),
		TelegramBotToken:     os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:       getInt64("TELEGRAM_CHAT_ID", 0),
		EtherscanAPIKey:      os.Getenv("ETHERSCAN_API_KEY"),
		EtherscanBaseURL:     getEnv("ETHERSCAN_BASE_URL", "https://api.etherscan.io/api"),
		WebhookSecurityToken: os.Getenv("WEBHOOK_SECURITY_TOKEN"),
		BinanceAPIKey:        os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret:     os.Getenv("BINANCE_API_SECRET"),
		WatchlistAddresses:   splitCSV(os.Getenv("WHALE_WATCHLIST_ADDRESSES")),
		APIHealthURLs:        splitCSV(os.Getenv("API_HEALTH_URLS")),
		ClassifierProfile:    strings.ToLower(getEnv("CLASSIFIER_PROFILE", "aggressive")),
		OrderBookDepth:       getInt("ORDER_BOOK_DEPTH", 50),
		PressureLevels:       getInt("PRESSURE_LEVELS", 50),
		MomentumWindow:       getDuration("MOMENTUM_WINDOW", 5*time.Minute),
		DLSRingCapacity:      getInt("DLS_RING_CAPACITY", 2880),
		MaxReconnectAttempts: getInt("MAX_RECONNECT_ATTEMPTS", 10),
		MaxQueueSize:         getInt("MAX_QUEUE_SIZE", 500),
		MaxConcurrentTasks:   getInt("MAX_CONCURRENT_TASKS", 8),
		SchedulerTick:        getDuration("SCHEDULER_TICK", 1*time.Second),
		ShutdownDeadline:     getDuration("SHUTDOWN_DEADLINE", 30*time.Second),
		LogMinLevel:          getEnv("LOG_MIN_LEVEL", "info"),
		LogDir:               getEnv("LOG_DIR", "./logs"),
		LogFileMaxBytes:      int64(getInt("LOG_FILE_MAX_BYTES", 10*1024*1024)),
		LogFileRetention:     getInt("LOG_FILE_RETENTION", 30),
	}

	if cfg.WebhookSecurityToken == "" {
		log.Println("warning: WEBHOOK_SECURITY_TOKEN not set; the whale webhook will reject every request")
	}
	if cfg.TelegramBotToken == "" {
		log.Println("warning: TELEGRAM_BOT_TOKEN not set; Telegram notifications disabled")
	}

	return cfg
}

// splitCSV splits a comma-separated env value, dropping empty entries so
// an unset variable yields a nil slice rather than [""].
func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// loadDotEnv is a thin wrapper over dotenvLoad (dotenv.go), which keeps the
// godotenv import in its own file.
func loadDotEnv(path string) error {
	return dotenvLoad(path)
}
