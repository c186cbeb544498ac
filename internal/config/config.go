package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config application configuration
type Config struct {
	// Runtime
	DevMode   bool   `env:"DEV_MODE" envDefault:"false"`
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"

	// FrontendURL is the CRM web app; used for CORS and post-connect redirects.
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`

	// Cache database
	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"sqlite3"` // "sqlite3" or "pgx"
	DatabaseURL    string `env:"DATABASE_URL" envDefault:"./data/crm.db"`

	// AWS
	CredentialsTable string `env:"CREDENTIALS_TABLE" envDefault:"CreatorAccounts"`
	LeasesTable      string `env:"LEASES_TABLE" envDefault:"SyncLeases"`
	KMSKeyID         string `env:"KMS_KEY_ID" envDefault:"alias/mappa-token-key"`
	EncryptionKey    string `env:"ENCRYPTION_KEY"` // dev mode only, 32 bytes

	// Remote platform
	PlatformAPIURL     string        `env:"PLATFORM_API_URL" envDefault:"https://api.creator-platform.example"`
	PlatformAPIVersion string        `env:"PLATFORM_API_VERSION" envDefault:"2024-06-01"`
	PlatformAuthURL    string        `env:"PLATFORM_AUTH_URL" envDefault:"https://auth.creator-platform.example/oauth/authorize"`
	PlatformTokenURL   string        `env:"PLATFORM_TOKEN_URL" envDefault:"https://auth.creator-platform.example/oauth/token"`
	PlatformRedirect   string        `env:"PLATFORM_REDIRECT_URL" envDefault:"http://localhost:8080/oauth/callback"`
	PlatformClientID   string        `env:"PLATFORM_CLIENT_ID"`
	HTTPTimeout        time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`

	// Secret parameter names (SSM, or env vars in dev mode)
	ClientSecretParam     string `env:"PLATFORM_CLIENT_SECRET_PARAM" envDefault:"/mappa/platform-client-secret"`
	WebhookSecretParam    string `env:"WEBHOOK_SECRET_PARAM" envDefault:"/mappa/webhook-secret"`
	JWTSecretParam        string `env:"JWT_SECRET_PARAM" envDefault:"/mappa/jwt-secret"`
	APIGatewaySecretParam string `env:"API_GATEWAY_SECRET_PARAM" envDefault:"/mappa/api-gateway-secret"`

	// Poller
	PollInterval         time.Duration `env:"POLL_INTERVAL" envDefault:"30s"`
	PollGroupSize        int           `env:"POLL_GROUP_SIZE" envDefault:"5"`
	ConversationPageSize int           `env:"CONVERSATION_PAGE_SIZE" envDefault:"20"`
	MessagePageSize      int           `env:"MESSAGE_PAGE_SIZE" envDefault:"20"`
	LeaseTTL             time.Duration `env:"LEASE_TTL" envDefault:"2m"`

	// Range fetcher
	RangeMaxSpanDays int `env:"RANGE_MAX_SPAN_DAYS" envDefault:"28"`
	RangeConcurrency int `env:"RANGE_CONCURRENCY" envDefault:"3"`
	RangeMaxPages    int `env:"RANGE_MAX_PAGES" envDefault:"100"`

	// Executor
	RetryMax       int           `env:"RETRY_MAX" envDefault:"3"`
	RetryBaseDelay time.Duration `env:"RETRY_BASE_DELAY" envDefault:"1s"`

	// Webhooks
	WebhookTolerance time.Duration `env:"WEBHOOK_TOLERANCE" envDefault:"300s"`
	WebhookAsync     bool          `env:"WEBHOOK_ASYNC" envDefault:"false"`

	// Events (optional)
	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"crm.events"`
}

// RangeMaxSpan returns the maximum window length for range fetches.
func (c *Config) RangeMaxSpan() time.Duration {
	return time.Duration(c.RangeMaxSpanDays) * 24 * time.Hour
}

// AMQPEnabled returns true if event publishing is configured
func (c *Config) AMQPEnabled() bool {
	return c.AMQPURL != ""
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromMap parses configuration from vars only, ignoring the process
// environment.
func LoadFromMap(vars map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: vars}); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DatabaseDriver {
	case "sqlite3", "pgx":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be sqlite3 or pgx, got %q", c.DatabaseDriver)
	}
	// Validate encryption key length (32 bytes for AES-256)
	if c.DevMode && c.EncryptionKey != "" && len(c.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(c.EncryptionKey))
	}
	if c.PollGroupSize <= 0 || c.RangeConcurrency <= 0 {
		return fmt.Errorf("POLL_GROUP_SIZE and RANGE_CONCURRENCY must be positive")
	}
	if c.RangeMaxSpanDays <= 0 {
		return fmt.Errorf("RANGE_MAX_SPAN_DAYS must be positive, got %d", c.RangeMaxSpanDays)
	}
	return nil
}
