package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	aws_pkg "github.com/Lead-Studios/veritix-backend-sub005/aws"
	"github.com/joho/godotenv"
)

const (
	DefaultOrderExpiryMinutes = 15
	DefaultSweepInterval      = 5 * time.Minute
	DefaultRefundRetryDelay   = 2 * time.Second
)

type Config struct {
	Env              string
	Port             string
	CORSOrigins      []string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string
	PostgresTimeZone string

	RedisURL            string
	KafkaBrokers        []string
	OrderEventsTopic    string
	OrderEventsSNSTopic string
	CloudWatchEnabled   bool
	CloudWatchNamespace string
	OtelEndpoint        string
	AWSEnabled          bool

	StellarNetwork           string
	HorizonURL               string
	PlatformReceivingAddress string
	PlatformSignerSecret     string

	SweepInterval        time.Duration
	SweepBatchSize       int
	MaxReconnectAttempts int
	InitialBackoff       time.Duration
	StreamStartCursor    string
	CursorKey            string
	CursorStore          string
	CursorTable          string
	RefundRatePerSecond  float64
	RefundRetryDelay     time.Duration
}

// IsPublicNetwork reports whether payments settle on the production ledger.
func (c *Config) IsPublicNetwork() bool {
	return c.StellarNetwork == "public"
}

// DSN builds the postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.PostgresHost, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresPort, c.PostgresSSLMode, c.PostgresTimeZone)
}

func LoadConfig() (*Config, error) {
	// .env is optional; real deployments inject the environment directly
	_ = godotenv.Load()

	cfg := &Config{
		Env:              getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8083"),
		CORSOrigins:      splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     os.Getenv("POSTGRES_HOST"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresTimeZone: getEnv("POSTGRES_TIMEZONE", "UTC"),

		RedisURL:            os.Getenv("REDIS_URL"),
		KafkaBrokers:        splitList(os.Getenv("KAFKA_BROKERS")),
		OrderEventsTopic:    getEnv("ORDER_EVENTS_TOPIC", "orders.lifecycle"),
		OrderEventsSNSTopic: os.Getenv("ORDER_EVENTS_SNS_TOPIC_ARN"),
		CloudWatchEnabled:   os.Getenv("CLOUDWATCH_ENABLED") == "true",
		CloudWatchNamespace: getEnv("CLOUDWATCH_NAMESPACE", "Ticketing"),
		OtelEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),

		StellarNetwork:           getEnv("STELLAR_NETWORK", "testnet"),
		HorizonURL:               os.Getenv("HORIZON_URL"),
		PlatformReceivingAddress: os.Getenv("PLATFORM_RECEIVING_ADDRESS"),
		PlatformSignerSecret:     os.Getenv("PLATFORM_SIGNER_SECRET"),

		SweepInterval:        time.Duration(getEnvInt("SWEEP_INTERVAL_MINUTES", int(DefaultSweepInterval/time.Minute))) * time.Minute,
		SweepBatchSize:       getEnvInt("SWEEP_BATCH_SIZE", 500),
		MaxReconnectAttempts: getEnvInt("MAX_RECONNECT_ATTEMPTS", 10),
		InitialBackoff:       time.Duration(getEnvInt("INITIAL_BACKOFF_MS", 1000)) * time.Millisecond,
		StreamStartCursor:    getEnv("STREAM_START_CURSOR", "now"),
		CursorKey:            getEnv("CURSOR_KEY", "payments"),
		CursorStore:          getEnv("CURSOR_STORE", "postgres"),
		CursorTable:          getEnv("CURSOR_TABLE", "payment-cursors"),
		RefundRatePerSecond:  getEnvFloat("REFUND_RATE_PER_SECOND", 1),
		RefundRetryDelay:     DefaultRefundRetryDelay,
	}
	cfg.AWSEnabled = os.Getenv("AWS_USE_SECRETS") == "true" || cfg.CloudWatchEnabled ||
		cfg.OrderEventsSNSTopic != "" || cfg.CursorStore == "dynamodb"

	if os.Getenv("AWS_USE_SECRETS") == "true" {
		if awsCfg, err := aws_pkg.LoadAWSConfig(context.Background()); err == nil {
			sm := aws_pkg.NewSecretsClient(awsCfg)
			applySecrets(context.Background(), cfg, sm)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type secretSource interface {
	GetSecretMap(ctx context.Context, name string) (map[string]string, error)
}

func applySecrets(ctx context.Context, cfg *Config, sm secretSource) {
	if m, err := sm.GetSecretMap(ctx, "ticketing/DB_CREDENTIALS"); err == nil {
		if v := m["POSTGRES_USER"]; v != "" {
			cfg.PostgresUser = v
		}
		if v := m["POSTGRES_PASSWORD"]; v != "" {
			cfg.PostgresPassword = v
		}
		if v := m["POSTGRES_DB"]; v != "" {
			cfg.PostgresDB = v
		}
		if v := m["POSTGRES_HOST"]; v != "" {
			cfg.PostgresHost = v
		}
		if v := m["POSTGRES_PORT"]; v != "" {
			cfg.PostgresPort = v
		}
	}
	if m, err := sm.GetSecretMap(ctx, "ticketing/STELLAR"); err == nil {
		if v := m["PLATFORM_SIGNER_SECRET"]; v != "" {
			cfg.PlatformSignerSecret = v
		}
		if v := m["PLATFORM_RECEIVING_ADDRESS"]; v != "" {
			cfg.PlatformReceivingAddress = v
		}
	}
}

func (c *Config) Validate() error {
	if c.PostgresUser == "" || c.PostgresPassword == "" || c.PostgresDB == "" || c.PostgresHost == "" {
		return fmt.Errorf("database config incomplete")
	}
	if c.PlatformReceivingAddress == "" {
		return fmt.Errorf("PLATFORM_RECEIVING_ADDRESS is required")
	}
	if c.StellarNetwork != "testnet" && c.StellarNetwork != "public" {
		return fmt.Errorf("STELLAR_NETWORK must be testnet or public, got %q", c.StellarNetwork)
	}
	if c.CursorStore != "postgres" && c.CursorStore != "dynamodb" {
		return fmt.Errorf("CURSOR_STORE must be postgres or dynamodb, got %q", c.CursorStore)
	}
	if c.MaxReconnectAttempts < 1 {
		return fmt.Errorf("MAX_RECONNECT_ATTEMPTS must be positive")
	}
	return nil
}

// EnvExpiryPolicy reads ORDER_EXPIRY_MINUTES on every call so operators can
// retune the payment window without a restart.
type EnvExpiryPolicy struct{}

func (EnvExpiryPolicy) Window() time.Duration {
	return time.Duration(getEnvInt("ORDER_EXPIRY_MINUTES", DefaultOrderExpiryMinutes)) * time.Minute
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil && f > 0 {
			return f
		}
	}
	return fallback
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
