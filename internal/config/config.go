package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/spec-kit/assistant-gate/internal/ratelimit"
)

// DefaultRateLimitPolicy is used when RATELIMIT_POLICY is unset.
const DefaultRateLimitPolicy = "default:STANDARD=60/1m,ELEVATED=240/1m;" +
	"llm-call:STANDARD=5/1s,ELEVATED=20/1s;" +
	"login-attempt:*=5/1h"

// Config aggregates runtime configuration for the service.
type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string `env:"APP_NAME" envDefault:"assistant-gate"`
	Env                   string `env:"APP_ENV" envDefault:"development"`
	Host                  string `env:"APP_HOST" envDefault:"0.0.0.0"`
	Port                  string `env:"APP_PORT" envDefault:"8080"`
	Version               string `env:"APP_VERSION" envDefault:"dev"`
	RequestTimeoutSeconds int    `env:"HTTP_REQUEST_TIMEOUT_SECONDS" envDefault:"30"`
	// UpstreamURL enables forwarding of gated routes when set.
	UpstreamURL string `env:"UPSTREAM_URL"`
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string `env:"POSTGRES_DSN"`
	MaxConns       int32  `env:"POSTGRES_MAX_CONNS" envDefault:"10"`
	MinConns       int32  `env:"POSTGRES_MIN_CONNS" envDefault:"2"`
	RunMigrations  bool   `env:"POSTGRES_RUN_MIGRATIONS" envDefault:"true"`
	ConnMaxIdleSec int32  `env:"POSTGRES_CONN_MAX_IDLE_SECONDS" envDefault:"30"`
	ConnMaxLifeSec int32  `env:"POSTGRES_CONN_MAX_LIFE_SECONDS" envDefault:"300"`

	// SlowQuery is the duration above which queries are logged at warn; 0 disables.
	SlowQuery time.Duration `env:"POSTGRES_SLOW_QUERY" envDefault:"250ms"`
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level       string `env:"LOG_LEVEL" envDefault:"info"`
	Encoding    string `env:"LOG_ENCODING" envDefault:"json"`
	Development bool   `env:"LOG_DEVELOPMENT"`
}

// AuthConfig defines credential handling.
type AuthConfig struct {
	TokenSecret            string        `env:"AUTH_TOKEN_SECRET,required,notEmpty"`
	TokenTTL               time.Duration `env:"AUTH_TOKEN_TTL" envDefault:"24h"`
	SessionCookie          string        `env:"AUTH_SESSION_COOKIE" envDefault:"session-token"`
	FrameworkSessionCookie string        `env:"AUTH_FRAMEWORK_SESSION_COOKIE" envDefault:"next-auth.session-token"`
	SessionLookupTimeout   time.Duration `env:"AUTH_SESSION_LOOKUP_TIMEOUT" envDefault:"2s"`
	CSRFCookie             string        `env:"AUTH_CSRF_COOKIE" envDefault:"csrf_token"`
	CSRFHeader             string        `env:"AUTH_CSRF_HEADER" envDefault:"X-CSRF-Token"`
	CSRFTTL                time.Duration `env:"AUTH_CSRF_TTL" envDefault:"1h"`
	CookieSecure           bool          `env:"AUTH_COOKIE_SECURE" envDefault:"false"`
	BcryptCost             int           `env:"AUTH_BCRYPT_COST" envDefault:"12"`
	RevocationEnabled      bool          `env:"AUTH_REVOCATION_ENABLED" envDefault:"true"`
}

// RateLimitConfig configures quotas.
type RateLimitConfig struct {
	KeyPrefix      string                  `env:"RATELIMIT_KEY_PREFIX" envDefault:"rate"`
	Policy         string                  `env:"RATELIMIT_POLICY"`
	OnStoreFailure ratelimit.FailurePolicy `env:"RATELIMIT_STORE_FAILURE" envDefault:"closed"`
}

// Load reads configuration from the environment, after merging an optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Sanitize()

	if _, err := cfg.RateLimit.QuotaPolicy(); err != nil {
		return nil, fmt.Errorf("RATELIMIT_POLICY: %w", err)
	}
	return &cfg, nil
}

// Sanitize applies guardrails to values loaded from env.
func (c *Config) Sanitize() {
	c.Logger.Level = strings.ToLower(strings.TrimSpace(c.Logger.Level))
	if c.Logger.Encoding != "console" {
		c.Logger.Encoding = "json"
	}
	c.Postgres.Sanitize()
	c.Auth.Sanitize()
	c.RateLimit.Sanitize()
}

// Sanitize clamps pool sizes.
func (p *PostgresConfig) Sanitize() {
	if p.MaxConns < 1 {
		p.MaxConns = 10
	}
	if p.MinConns < 0 {
		p.MinConns = 0
	}
	if p.MinConns > p.MaxConns {
		p.MinConns = p.MaxConns
	}
	if p.SlowQuery < 0 {
		p.SlowQuery = 0
	}
}

// ConnMaxIdle is the idle timeout for pooled connections.
func (p PostgresConfig) ConnMaxIdle() time.Duration {
	return time.Duration(p.ConnMaxIdleSec) * time.Second
}

// ConnMaxLifetime is the maximum age of a pooled connection.
func (p PostgresConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(p.ConnMaxLifeSec) * time.Second
}

// Sanitize replaces unusable durations and costs with defaults.
func (a *AuthConfig) Sanitize() {
	if a.TokenTTL <= 0 {
		a.TokenTTL = 24 * time.Hour
	}
	if a.SessionLookupTimeout <= 0 {
		a.SessionLookupTimeout = 2 * time.Second
	}
	if a.CSRFTTL <= 0 {
		a.CSRFTTL = time.Hour
	}
	// bcrypt accepts 4..31.
	if a.BcryptCost < 4 || a.BcryptCost > 31 {
		a.BcryptCost = 12
	}
}

// Sanitize fills in the default prefix and policy.
func (r *RateLimitConfig) Sanitize() {
	r.KeyPrefix = strings.TrimSpace(r.KeyPrefix)
	if r.KeyPrefix == "" {
		r.KeyPrefix = ratelimit.DefaultKeyPrefix
	}
	if strings.TrimSpace(r.Policy) == "" {
		r.Policy = DefaultRateLimitPolicy
	}
	if r.OnStoreFailure == "" {
		r.OnStoreFailure = ratelimit.FailClosed
	}
}

// QuotaPolicy parses the configured policy table.
func (r RateLimitConfig) QuotaPolicy() (ratelimit.Policy, error) {
	return ratelimit.ParsePolicy(r.Policy)
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}
