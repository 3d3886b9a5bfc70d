// Package config loads imagebulk configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config aggregates application configuration values.
type Config struct {
	Environment string `env:"APP_ENV,default=development"`

	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Logging   LoggingConfig
	Auth      AuthConfig
	Provider  ProviderConfig
	Archive   ArchiveConfig
	Payments  PaymentsConfig
	Mail      MailConfig
	RateLimit RateLimitConfig
	Events    EventsConfig

	PlansFile string `env:"PLANS_FILE"`
	Plans     PlansConfig
}

// ServerConfig governs HTTP server behaviour.
type ServerConfig struct {
	Host              string        `env:"SERVER_HOST,default=0.0.0.0"`
	Port              int           `env:"SERVER_PORT,default=5000"`
	ReadTimeout       time.Duration `env:"SERVER_READ_TIMEOUT,default=15s"`
	WriteTimeout      time.Duration `env:"SERVER_WRITE_TIMEOUT,default=5m"`
	IdleTimeout       time.Duration `env:"SERVER_IDLE_TIMEOUT,default=60s"`
	ShutdownTimeout   time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT,default=15s"`
	AllowedOriginsCSV string        `env:"FRONTEND_URL,default=http://localhost:3000"`
}

// AllowedOrigins splits the configured CSV into trimmed origins.
func (s ServerConfig) AllowedOrigins() []string {
	var origins []string
	for _, part := range strings.Split(s.AllowedOriginsCSV, ",") {
		if origin := strings.TrimSpace(part); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig selects and configures the persistence backend.
type DatabaseConfig struct {
	Driver          string        `env:"DATABASE_DRIVER,default=memory"` // memory|postgres
	DSN             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS,default=20"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME,default=30m"`
	MigrateOnStart  bool          `env:"DATABASE_MIGRATE_ON_START,default=true"`
}

// RedisConfig is optional; an empty Addr keeps verification codes in memory.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,default=0"`
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level      string `env:"LOG_LEVEL,default=info"`
	Format     string `env:"LOG_FORMAT,default=text"`
	Output     string `env:"LOG_OUTPUT,default=stdout"`
	FilePrefix string `env:"LOG_FILE_PREFIX,default=imagebulk"`
}

// AuthConfig configures token issuance and email verification.
type AuthConfig struct {
	JWTSecret       string        `env:"JWT_SECRET"`
	JWTExpiry       time.Duration `env:"JWT_EXPIRY,default=168h"`
	VerificationTTL time.Duration `env:"VERIFICATION_CODE_TTL,default=10m"`
	BcryptCost      int           `env:"BCRYPT_COST,default=10"`
	StartingCredits int64         `env:"STARTING_CREDITS,default=20"`
}

// ProviderConfig configures the upstream image search API.
type ProviderConfig struct {
	APIKey        string        `env:"PEXELS_API_KEY"`
	BaseURL       string        `env:"PEXELS_API_URL,default=https://api.pexels.com/v1"`
	SearchTimeout time.Duration `env:"PROVIDER_SEARCH_TIMEOUT,default=30s"`
	FetchTimeout  time.Duration `env:"PROVIDER_FETCH_TIMEOUT,default=60s"`
	Concurrency   int           `env:"PROVIDER_CONCURRENCY,default=4"`
	TempDir       string        `env:"PROVIDER_TEMP_DIR,default=temp"`
}

// ArchiveConfig configures where deliverables are written and how long they live.
type ArchiveConfig struct {
	OutputDir     string        `env:"ARCHIVE_DIR,default=downloads"`
	Retention     time.Duration `env:"ARCHIVE_RETENTION,default=1h"`
	SweepSchedule string        `env:"ARCHIVE_SWEEP_SCHEDULE,default=@every 15m"`
}

// PaymentsConfig configures the payment gateway.
type PaymentsConfig struct {
	KeyID     string `env:"RAZORPAY_KEY_ID"`
	KeySecret string `env:"RAZORPAY_KEY_SECRET"`
	BaseURL   string `env:"RAZORPAY_API_URL,default=https://api.razorpay.com"`
	Currency  string `env:"PAYMENT_CURRENCY,default=INR"`
}

// MailConfig configures transactional email delivery.
type MailConfig struct {
	APIKey      string `env:"BREVO_API_KEY"`
	BaseURL     string `env:"BREVO_API_URL,default=https://api.brevo.com"`
	SenderEmail string `env:"BREVO_SENDER_EMAIL,default=noreply@imagebulk.com"`
	SenderName  string `env:"BREVO_SENDER_NAME,default=ImageBulk"`
	OwnerEmail  string `env:"OWNER_EMAIL"`
}

// RateLimitConfig sets per-client request budgets.
type RateLimitConfig struct {
	APIRequests      int           `env:"RATE_LIMIT_API_REQUESTS,default=100"`
	APIWindow        time.Duration `env:"RATE_LIMIT_API_WINDOW,default=15m"`
	AuthRequests     int           `env:"RATE_LIMIT_AUTH_REQUESTS,default=20"`
	AuthWindow       time.Duration `env:"RATE_LIMIT_AUTH_WINDOW,default=15m"`
	DownloadRequests int           `env:"RATE_LIMIT_DOWNLOAD_REQUESTS,default=10"`
	DownloadWindow   time.Duration `env:"RATE_LIMIT_DOWNLOAD_WINDOW,default=1m"`
}

// EventsConfig configures the optional NATS event stream.
type EventsConfig struct {
	NATSURL       string `env:"NATS_URL"`
	SubjectPrefix string `env:"EVENTS_SUBJECT_PREFIX,default=imagebulk"`
}

// Load reads an optional .env file, decodes the environment and resolves
// pricing plans.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if cfg.PlansFile != "" {
		plans, err := LoadPlansConfigFromPath(cfg.PlansFile)
		if err != nil {
			return nil, err
		}
		cfg.Plans = *plans
	} else {
		cfg.Plans = *DefaultPlansConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsDevelopment reports whether the service runs in a development environment.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "" || env == "development" || env == "dev" || env == "test"
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("port %d is out of range", c.Server.Port)
	}
	switch strings.ToLower(c.Database.Driver) {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.Database.Driver)
	}
	if c.Auth.JWTSecret == "" && !c.IsDevelopment() {
		return fmt.Errorf("JWT_SECRET is required outside development")
	}
	if c.Auth.StartingCredits < 0 {
		return fmt.Errorf("STARTING_CREDITS must not be negative")
	}
	if c.Provider.Concurrency <= 0 {
		return fmt.Errorf("PROVIDER_CONCURRENCY must be positive")
	}
	if c.RateLimit.APIRequests < 0 || c.RateLimit.AuthRequests < 0 || c.RateLimit.DownloadRequests < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	return c.Plans.Validate()
}
