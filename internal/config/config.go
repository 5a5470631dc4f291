package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	PostgresDSN      string
	RedisAddr        string
	KafkaBrokers     []string
	KafkaLedgerTopic string
	JWTSecret        string
	HTTPAddr         string
	OTLPEndpoint     string
	LogLevel         string

	// BonusPercent is the default earning rate applied when a request does
	// not carry its own.
	BonusPercent    decimal.Decimal
	SweepInterval   time.Duration
	TxRetryAttempts uint
	TxRetryDelay    time.Duration
	BalanceCacheTTL time.Duration
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using default values", "error", err)
	}

	cfg := &Config{
		PostgresDSN:      getEnv("POSTGRES_DSN", "host=localhost user=postgres password=postgres dbname=venue sslmode=disable"),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers:     splitList(getEnv("KAFKA_BROKER", "localhost:9092")),
		KafkaLedgerTopic: getEnv("KAFKA_LEDGER_TOPIC", "ledger-events"),
		JWTSecret:        getEnv("JWT_SECRET", "supersecret"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:     os.Getenv("OTLP_ENDPOINT"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		BonusPercent:     getDecimal("BONUS_PERCENT", decimal.NewFromInt(5)),
		SweepInterval:    getDuration("SWEEP_INTERVAL", time.Hour),
		TxRetryAttempts:  getUint("TX_RETRY_ATTEMPTS", 3),
		TxRetryDelay:     getDuration("TX_RETRY_DELAY", 20*time.Millisecond),
		BalanceCacheTTL:  getDuration("BALANCE_CACHE_TTL", 5*time.Minute),
	}

	if cfg.BonusPercent.IsNegative() {
		slog.Warn("negative BONUS_PERCENT, earning disabled", "value", cfg.BonusPercent.String())
		cfg.BonusPercent = decimal.Zero
	}

	slog.Info("config loaded",
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers,
		"kafka_topic", cfg.KafkaLedgerTopic,
		"http_addr", cfg.HTTPAddr,
		"bonus_percent", cfg.BonusPercent.String(),
		"sweep_interval", cfg.SweepInterval,
	)
	return cfg
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func getUint(key string, def uint) uint {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		slog.Warn("invalid number, using default", "key", key, "value", v, "default", def)
		return def
	}
	return uint(n)
}

func getDecimal(key string, def decimal.Decimal) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		slog.Warn("invalid decimal, using default", "key", key, "value", v, "default", def.String())
		return def
	}
	return d
}
