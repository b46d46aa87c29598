package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "KAFKA_BROKERS", "CURRENCY", "QUEUE_SIZE", "MAX_ORDER_NOTIONAL", "SWEEP_INTERVAL"} {
		t.Setenv(k, "")
	}
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Nil(t, cfg.KafkaBrokers)
	assert.Equal(t, "USD", cfg.Currency)
	assert.Equal(t, 256, cfg.QueueSize)
	assert.True(t, cfg.MaxOrderNotional.IsZero())
	assert.Equal(t, time.Minute, cfg.SweepInterval)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092 ,")
	t.Setenv("MAX_POSITION_PER_ACCOUNT", "500")
	t.Setenv("MAX_ORDER_NOTIONAL", "25000.50")
	t.Setenv("SWEEP_INTERVAL", "15s")
	cfg := Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, int64(500), cfg.MaxPositionPerAccount)
	assert.True(t, cfg.MaxOrderNotional.Equal(decimal.RequireFromString("25000.50")))
	assert.Equal(t, 15*time.Second, cfg.SweepInterval)
}

func TestLoad_MalformedFallsBack(t *testing.T) {
	t.Setenv("QUEUE_SIZE", "lots")
	t.Setenv("MAX_ORDER_NOTIONAL", "abc")
	t.Setenv("CACHE_TTL", "soon")
	cfg := Load()

	assert.Equal(t, 256, cfg.QueueSize)
	assert.True(t, cfg.MaxOrderNotional.IsZero())
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
}
