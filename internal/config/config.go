package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	SnapshotStoreMemory = "memory"
	SnapshotStoreRedis  = "redis"
	SnapshotStoreBolt   = "bolt"

	RefundLockLocal = "local"
	RefundLockRedis = "redis"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	OTLPEndpoint string

	PayPal PayPalConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SnapshotStore    string
	SnapshotBoltPath string
	RefundLock       string

	AdminAPIKeys      map[string]string
	AdminAuthDisabled bool

	Log LogConfig
}

type PayPalConfig struct {
	ClientID        string
	Secret          string
	BaseURL         string
	WebhookID       string
	UpstreamTimeout time.Duration
}

type LogConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")
	cfg := Config{
		AppName:      getenv("APP_SERVICE", "paydesk"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  environment,
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		NodeID:       getenvInt64("NODE_ID", 1),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		PayPal: PayPalConfig{
			ClientID:        strings.TrimSpace(getenv("PAYPAL_CLIENT_ID", "")),
			Secret:          strings.TrimSpace(getenv("PAYPAL_SECRET", "")),
			BaseURL:         strings.TrimRight(getenv("PAYPAL_BASE_URL", "https://api-m.sandbox.paypal.com"), "/"),
			WebhookID:       strings.TrimSpace(getenv("PAYPAL_WEBHOOK_ID", "")),
			UpstreamTimeout: getenvDuration("UPSTREAM_TIMEOUT", 10*time.Second),
		},
		DBType:            strings.ToLower(getenv("DB_TYPE", "sqlite")),
		DBHost:            getenv("DB_HOST", "localhost"),
		DBPort:            getenv("DB_PORT", "5432"),
		DBName:            getenv("DB_NAME", "paydesk"),
		DBUser:            getenv("DB_USER", "postgres"),
		DBPassword:        getenv("DB_PASSWORD", ""),
		DBSSLMode:         getenv("DB_SSLMODE", "disable"),
		DBPath:            getenv("DB_PATH", "paydesk.db"),
		DBMaxIdleConn:     int(getenvInt64("DB_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DB_MAX_OPEN_CONN", 20)),
		DBConnMaxLifetime: int(getenvInt64("DB_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DB_CONN_MAX_IDLE_TIME", 60)),
		RedisAddr:         strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		RedisDB:           int(getenvInt64("REDIS_DB", 0)),
		SnapshotStore:     strings.ToLower(getenv("SNAPSHOT_STORE", SnapshotStoreMemory)),
		SnapshotBoltPath:  getenv("SNAPSHOT_BOLT_PATH", "snapshots.bolt"),
		RefundLock:        strings.ToLower(getenv("REFUND_LOCK", RefundLockLocal)),
		AdminAPIKeys:      parseAdminKeys(getenv("ADMIN_API_KEYS", "")),
		AdminAuthDisabled: environment != "production" && getenvBool("ADMIN_AUTH_DISABLED", false),
		Log: LogConfig{
			File:       strings.TrimSpace(getenv("LOG_FILE", "")),
			MaxSizeMB:  int(getenvInt64("LOG_MAX_SIZE_MB", 100)),
			MaxBackups: int(getenvInt64("LOG_MAX_BACKUPS", 5)),
			MaxAgeDays: int(getenvInt64("LOG_MAX_AGE_DAYS", 14)),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// parseAdminKeys reads "key:role,key:role". A key without a role is a viewer.
func parseAdminKeys(raw string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, role, found := strings.Cut(part, ":")
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		role = strings.ToLower(strings.TrimSpace(role))
		if !found || role == "" {
			role = "viewer"
		}
		out[key] = role
	}
	return out
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
