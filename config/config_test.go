package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MemoryBackends(t *testing.T) {
	t.Setenv("RECORD_STORE", "memory")
	t.Setenv("PROMO_ENGINE", "Memory")
	t.Setenv("LOYALTY_VALIDITY_DAYS", "7")
	t.Setenv("RETRY_CALL_TIMEOUT", "750ms")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, RecordStoreMemory, cfg.Backends.RecordStore)
	assert.Equal(t, PromoEngineMemory, cfg.Backends.PromoEngine)
	assert.Equal(t, LockLocal, cfg.Backends.Lock)
	assert.Equal(t, int64(125), cfg.Loyalty.CodeCost)
	assert.Equal(t, 7*24*time.Hour, cfg.Loyalty.Validity())
	assert.Equal(t, 750*time.Millisecond, cfg.Retry.CallTimeout)
	assert.False(t, cfg.NeedsRedis())
}

func TestLoad_RejectsBadSelections(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown store", map[string]string{"RECORD_STORE": "dynamo", "PROMO_ENGINE": "memory"}},
		{"shopify store without credentials", map[string]string{"RECORD_STORE": "shopify", "PROMO_ENGINE": "memory", "SHOP_NAME": "", "ADMIN_API_TOKEN": ""}},
		{"s3 without bucket", map[string]string{"RECORD_STORE": "s3", "PROMO_ENGINE": "memory", "AWS_S3_BUCKET": ""}},
		{"shopify promo without price rule", map[string]string{"RECORD_STORE": "memory", "PROMO_ENGINE": "shopify", "SHOP_NAME": "dogs", "ADMIN_API_TOKEN": "t", "PRICE_RULE_ID": ""}},
		{"unknown lock", map[string]string{"RECORD_STORE": "memory", "PROMO_ENGINE": "memory", "LOCK_BACKEND": "zookeeper"}},
		{"too many attempts", map[string]string{"RECORD_STORE": "memory", "PROMO_ENGINE": "memory", "RETRY_MAX_ATTEMPTS": "5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{User: "u", Password: "p", Host: "h", Port: "5432", DBName: "loyalty", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:5432/loyalty?sslmode=disable", c.DSN())

	c.URL = "postgres://elsewhere/db"
	assert.Equal(t, "postgres://elsewhere/db", c.DSN())
}

func TestLoadJWT(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("JWT_TOKEN_TTL", "24h")

	cfg := LoadJWT()

	assert.Equal(t, "s3cret", cfg.Secret)
	assert.Equal(t, "dogdollars-loyalty", cfg.Issuer)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.False(t, cfg.Disabled)
}
