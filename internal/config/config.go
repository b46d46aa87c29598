// Package config loads service settings from the environment. A .env file in
// the working directory is read first when present; real environment
// variables take precedence over it.
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
	Port        string
	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration

	KafkaBrokers []string
	KafkaTopic   string
	RedisChannel string

	Currency   string
	FeeAccount string

	MaxPositionPerAccount int64
	MaxPositionAggregate  int64
	MaxOrderNotional      decimal.Decimal

	SweepInterval time.Duration
	QueueSize     int
	EventBuffer   int
}

func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to read .env file", "err", err)
	}

	return Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		CacheTTL:    getEnvDuration("CACHE_TTL", 30*time.Second),

		KafkaBrokers: getEnvSlice("KAFKA_BROKERS", nil),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "exchange.events"),
		RedisChannel: getEnv("REDIS_CHANNEL", "exchange_events"),

		Currency:   getEnv("CURRENCY", "USD"),
		FeeAccount: getEnv("FEE_ACCOUNT", "platform-fees"),

		MaxPositionPerAccount: getEnvInt("MAX_POSITION_PER_ACCOUNT", 0),
		MaxPositionAggregate:  getEnvInt("MAX_POSITION_AGGREGATE", 0),
		MaxOrderNotional:      getEnvDecimal("MAX_ORDER_NOTIONAL", decimal.Zero),

		SweepInterval: getEnvDuration("SWEEP_INTERVAL", time.Minute),
		QueueSize:     int(getEnvInt("QUEUE_SIZE", 256)),
		EventBuffer:   int(getEnvInt("EVENT_BUFFER", 1024)),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getEnvInt(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		slog.Warn("invalid integer setting, using default", "key", key, "value", v)
		return fallback
	}
	return n
}

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		slog.Warn("invalid decimal setting, using default", "key", key, "value", v)
		return fallback
	}
	return d
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration setting, using default", "key", key, "value", v)
		return fallback
	}
	return d
}
