package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend selectors.
const (
	RecordStoreShopify  = "shopify"
	RecordStorePostgres = "postgres"
	RecordStoreS3       = "s3"
	RecordStoreMemory   = "memory"

	PromoEngineShopify = "shopify"
	PromoEngineMemory  = "memory"

	LockLocal = "local"
	LockRedis = "redis"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Shopify  ShopifyConfig
	AWS      AWSConfig
	Loyalty  LoyaltyConfig
	Retry    RetryConfig
	Backends BackendConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string
	ReadTimeout     int
	WriteTimeout    int
	ShutdownTimeout time.Duration
	// RunWorker also drains the event queue inside the server process.
	RunWorker bool
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/loyalty?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// JWTConfig holds service token settings.
type JWTConfig struct {
	Secret   string
	Issuer   string
	TokenTTL time.Duration
	// Disabled turns off bearer auth on event routes (local runs only).
	Disabled bool
}

// ShopifyConfig holds Admin API credentials for the metafield store and discount codes.
type ShopifyConfig struct {
	ShopName          string
	AccessToken       string
	APIVersion        string
	PriceRuleID       string
	RequestsPerSecond float64
	Burst             int
}

// AWSConfig holds credentials and the bucket for the S3 record store.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Prefix          string
	Endpoint        string
	UsePathStyle    bool
}

// LoyaltyConfig holds the reward rules.
type LoyaltyConfig struct {
	Namespace       string
	CodeCost        int64
	DiscountPercent int
	ValidityDays    int
}

// Validity returns the code validity window.
func (c LoyaltyConfig) Validity() time.Duration {
	return time.Duration(c.ValidityDays) * 24 * time.Hour
}

// RetryConfig bounds every external call.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	CallTimeout    time.Duration
}

// BackendConfig selects adapters.
type BackendConfig struct {
	RecordStore string
	PromoEngine string
	Lock        string
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "10000"),
			ReadTimeout:     getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:    getEnvInt("WRITE_TIMEOUT_SEC", 30),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
			RunWorker:       getEnvBool("RUN_WORKER", false),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "loyalty"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 10),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			LockTTL:  getEnvDuration("LOCK_TTL", 30*time.Second),
		},
		JWT: jwtFromEnv(),
		Shopify: ShopifyConfig{
			ShopName:          getEnv("SHOP_NAME", ""),
			AccessToken:       getEnv("ADMIN_API_TOKEN", ""),
			APIVersion:        getEnv("SHOPIFY_API_VERSION", "2023-10"),
			PriceRuleID:       getEnv("PRICE_RULE_ID", ""),
			RequestsPerSecond: getEnvFloat("SHOPIFY_REQUESTS_PER_SEC", 2),
			Burst:             getEnvInt("SHOPIFY_BURST", 4),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			Bucket:          getEnv("AWS_S3_BUCKET", ""),
			Prefix:          getEnv("AWS_S3_PREFIX", "customers"),
			Endpoint:        getEnv("AWS_S3_ENDPOINT", ""),
			UsePathStyle:    getEnvBool("AWS_S3_PATH_STYLE", false),
		},
		Loyalty: LoyaltyConfig{
			Namespace:       getEnv("LOYALTY_NAMESPACE", "loyalty"),
			CodeCost:        int64(getEnvInt("LOYALTY_CODE_COST", 125)),
			DiscountPercent: getEnvInt("LOYALTY_DISCOUNT_PERCENT", 10),
			ValidityDays:    getEnvInt("LOYALTY_VALIDITY_DAYS", 30),
		},
		Retry: RetryConfig{
			MaxAttempts:    getEnvInt("RETRY_MAX_ATTEMPTS", 3),
			InitialBackoff: getEnvDuration("RETRY_INITIAL_BACKOFF", 200*time.Millisecond),
			MaxBackoff:     getEnvDuration("RETRY_MAX_BACKOFF", 2*time.Second),
			CallTimeout:    getEnvDuration("RETRY_CALL_TIMEOUT", 5*time.Second),
		},
		Backends: BackendConfig{
			RecordStore: strings.ToLower(getEnv("RECORD_STORE", RecordStoreShopify)),
			PromoEngine: strings.ToLower(getEnv("PROMO_ENGINE", PromoEngineShopify)),
			Lock:        strings.ToLower(getEnv("LOCK_BACKEND", LockLocal)),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadJWT reads only the token settings, for tools that mint tokens without running the service.
func LoadJWT() JWTConfig {
	_ = godotenv.Load()
	_ = godotenv.Load("env")
	return jwtFromEnv()
}

func jwtFromEnv() JWTConfig {
	return JWTConfig{
		Secret:   getEnv("JWT_SECRET", "change-me-in-production"),
		Issuer:   getEnv("JWT_ISSUER", "dogdollars-loyalty"),
		TokenTTL: getEnvDuration("JWT_TOKEN_TTL", 0),
		Disabled: getEnvBool("AUTH_DISABLED", false),
	}
}

// Validate checks backend selections and the settings they require.
func (c *Config) Validate() error {
	switch c.Backends.RecordStore {
	case RecordStoreShopify:
		if c.Shopify.ShopName == "" || c.Shopify.AccessToken == "" {
			return fmt.Errorf("RECORD_STORE=shopify requires SHOP_NAME and ADMIN_API_TOKEN")
		}
	case RecordStorePostgres, RecordStoreMemory:
	case RecordStoreS3:
		if c.AWS.Bucket == "" {
			return fmt.Errorf("RECORD_STORE=s3 requires AWS_S3_BUCKET")
		}
	default:
		return fmt.Errorf("unknown RECORD_STORE %q", c.Backends.RecordStore)
	}
	switch c.Backends.PromoEngine {
	case PromoEngineShopify:
		if c.Shopify.ShopName == "" || c.Shopify.AccessToken == "" || c.Shopify.PriceRuleID == "" {
			return fmt.Errorf("PROMO_ENGINE=shopify requires SHOP_NAME, ADMIN_API_TOKEN and PRICE_RULE_ID")
		}
	case PromoEngineMemory:
	default:
		return fmt.Errorf("unknown PROMO_ENGINE %q", c.Backends.PromoEngine)
	}
	switch c.Backends.Lock {
	case LockLocal, LockRedis:
	default:
		return fmt.Errorf("unknown LOCK_BACKEND %q", c.Backends.Lock)
	}
	if c.Loyalty.CodeCost <= 0 || c.Loyalty.DiscountPercent <= 0 || c.Loyalty.DiscountPercent > 100 || c.Loyalty.ValidityDays <= 0 {
		return fmt.Errorf("invalid loyalty rules: cost=%d percent=%d validity_days=%d",
			c.Loyalty.CodeCost, c.Loyalty.DiscountPercent, c.Loyalty.ValidityDays)
	}
	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 3 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be between 1 and 3, got %d", c.Retry.MaxAttempts)
	}
	return nil
}

// NeedsRedis reports whether any selected component talks to Redis.
func (c *Config) NeedsRedis() bool {
	return c.Backends.Lock == LockRedis
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
