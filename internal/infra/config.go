package infra

import (
	"fmt"
	"time"

	"github.com/biddersweet/platform/internal/domain"
	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL"`
	PGHost      string `env:"PGHOST" envDefault:"localhost"`
	PGPort      int    `env:"PGPORT" envDefault:"5432"`
	PGUser      string `env:"PGUSER" envDefault:"biddersweet"`
	PGPassword  string `env:"PGPASSWORD" envDefault:"biddersweet"`
	PGDatabase  string `env:"PGDATABASE" envDefault:"biddersweet"`
	PGMaxConns  int32  `env:"PG_MAX_CONNS" envDefault:"20"`
	PGAppName   string `env:"PG_APPLICATION_NAME" envDefault:"biddersweet"`
	// StatementTimeout bounds every statement server-side; zero leaves the
	// server default.
	StatementTimeout time.Duration `env:"PG_STATEMENT_TIMEOUT" envDefault:"30s"`
	AutoMigrate      bool          `env:"AUTO_MIGRATE" envDefault:"true"`
	LockTimeout      time.Duration `env:"LOCK_TIMEOUT" envDefault:"2s"`
	TxAttempts       int           `env:"TX_MAX_ATTEMPTS" envDefault:"3"`

	// Redis (empty URL disables the shared projection and broadcast)
	RedisURL         string `env:"REDIS_URL"`
	RedisPrefix      string `env:"REDIS_PREFIX" envDefault:"bs"`
	BroadcastChannel string `env:"BROADCAST_CHANNEL" envDefault:"biddersweet:auction-events"`

	// JWT
	JWTSecret      string `env:"JWT_SECRET" envDefault:"change-me-in-production"`
	JWTUserExpiry  string `env:"JWT_USER_EXPIRY" envDefault:"24h"`
	JWTAdminExpiry string `env:"JWT_ADMIN_EXPIRY" envDefault:"8h"`

	// Server
	APIPort           int    `env:"API_PORT" envDefault:"3100"`
	MaxBodyBytes      int64  `env:"MAX_BODY_BYTES" envDefault:"1048576"`
	DefaultStorefront string `env:"DEFAULT_STOREFRONT" envDefault:"main"`
	MetricsEnabled    bool   `env:"METRICS_ENABLED" envDefault:"true"`

	// Kafka
	KafkaBrokers       string        `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaEnabled       bool          `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaConsumerGroup string        `env:"KAFKA_CONSUMER_GROUP" envDefault:"biddersweet-projections"`
	OutboxInterval     time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"500ms"`
	OutboxBatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`

	// Bidding
	BidIncrementCents    int64         `env:"BID_INCREMENT_CENTS" envDefault:"1"`
	BidCostCredits       int64         `env:"BID_COST_CREDITS" envDefault:"1"`
	CreditValueCents     int64         `env:"CREDIT_VALUE_CENTS" envDefault:"100"`
	Currency             string        `env:"CURRENCY" envDefault:"usd"`
	ExtensionWindow      time.Duration `env:"BID_EXTENSION_WINDOW" envDefault:"10s"`
	BidRateLimit         int           `env:"BID_RATE_LIMIT" envDefault:"10"`
	BidRateWindow        time.Duration `env:"BID_RATE_WINDOW" envDefault:"1s"`
	AuctionCloseInterval time.Duration `env:"AUCTION_CLOSE_INTERVAL" envDefault:"5s"`

	// Dev
	AllowInsecureDefaults bool `env:"ALLOW_INSECURE_DEFAULTS" envDefault:"false"`

	// Stripe
	StripeSecretKey     string        `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET"`
	StripeSuccessURL    string        `env:"STRIPE_SUCCESS_URL" envDefault:"http://localhost:3000/checkout/success?session_id={CHECKOUT_SESSION_ID}"`
	StripeCancelURL     string        `env:"STRIPE_CANCEL_URL" envDefault:"http://localhost:3000/checkout/cancel"`
	StripeBreakerFails  int           `env:"STRIPE_BREAKER_FAILURES" envDefault:"5"`
	StripeBreakerReset  time.Duration `env:"STRIPE_BREAKER_RESET" envDefault:"30s"`
}

// LoadConfig parses environment variables into a Config struct.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks for insecure configuration that must not run in production.
// Set ALLOW_INSECURE_DEFAULTS=true to bypass (local dev only).
func (c *Config) Validate() error {
	if c.BidCostCredits <= 0 {
		return fmt.Errorf("BID_COST_CREDITS must be positive, got %d", c.BidCostCredits)
	}
	if c.BidIncrementCents <= 0 {
		return fmt.Errorf("BID_INCREMENT_CENTS must be positive, got %d", c.BidIncrementCents)
	}
	if err := domain.ValidateCurrency(domain.NormalizeCurrency(c.Currency)); err != nil {
		return fmt.Errorf("CURRENCY: %w", err)
	}
	if c.AllowInsecureDefaults {
		return nil
	}
	if c.JWTSecret == "change-me-in-production" {
		return fmt.Errorf("JWT_SECRET is set to the insecure default; set a strong secret or set ALLOW_INSECURE_DEFAULTS=true for local dev")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET is too short (%d chars); minimum 32 characters required", len(c.JWTSecret))
	}
	if c.StripeWebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
	}
	return nil
}

// DSN returns the PostgreSQL connection string, preferring DATABASE_URL if set.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDatabase)
}
