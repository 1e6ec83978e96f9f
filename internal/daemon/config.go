// Package daemon holds the reelpay service configuration.
package daemon

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full service configuration, read from reelpay.toml.
type Config struct {
	API      APIConfig      `toml:"api"`
	Database DatabaseConfig `toml:"database"`
	Webhook  WebhookConfig  `toml:"webhook"`
	Stripe   StripeConfig   `toml:"stripe"`
	Dedup    DedupConfig    `toml:"dedup"`
	Admin    AdminConfig    `toml:"admin"`
	Payout   PayoutConfig   `toml:"payout"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

type APIConfig struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	RequestTimeout string `toml:"request_timeout"`
}

type DatabaseConfig struct {
	// Path is the data directory; the ledger file lives inside it.
	Path string `toml:"path"`
}

type WebhookConfig struct {
	SigningSecret   string `toml:"signing_secret"`
	SignatureHeader string `toml:"signature_header"`
	// Tolerance bounds signature timestamp skew. "0s" disables the check.
	Tolerance string `toml:"tolerance"`
}

type StripeConfig struct {
	SecretKey         string `toml:"secret_key"`
	APIBase           string `toml:"api_base"`
	Currency          string `toml:"currency"`
	PayoutDescription string `toml:"payout_description"`
	MaxNetworkRetries int64  `toml:"max_network_retries"`
}

type DedupConfig struct {
	Backend  string `toml:"backend"` // "memory" or "redis"
	RedisURL string `toml:"redis_url"`
	TTL      string `toml:"ttl"`
}

type AdminConfig struct {
	// JWTSecret enables HS256 bearer auth on admin routes when set.
	JWTSecret string `toml:"jwt_secret"`
	Issuer    string `toml:"issuer"`
}

type PayoutConfig struct {
	MaxAttempts int `toml:"max_attempts"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "text" or "json"
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// DefaultConfig returns a config that runs locally with no file.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host:           "127.0.0.1",
			Port:           8080,
			RequestTimeout: "30s",
		},
		Database: DatabaseConfig{
			Path: "./data",
		},
		Webhook: WebhookConfig{
			SignatureHeader: "Stripe-Signature",
			Tolerance:       "5m",
		},
		Stripe: StripeConfig{
			Currency:          "usd",
			PayoutDescription: "ReelReview payout",
			MaxNetworkRetries: 2,
		},
		Dedup: DedupConfig{
			Backend: "memory",
			TTL:     "72h",
		},
		Admin: AdminConfig{
			Issuer: "reelpay",
		},
		Payout: PayoutConfig{
			MaxAttempts: 3,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Environment overrides. Secrets normally arrive this way.
const (
	EnvWebhookSecret  = "REELPAY_WEBHOOK_SECRET"
	EnvStripeKey      = "REELPAY_STRIPE_KEY"
	EnvAdminJWTSecret = "REELPAY_ADMIN_JWT_SECRET"
	EnvDBPath         = "REELPAY_DB_PATH"
	EnvRedisURL       = "REELPAY_REDIS_URL"
)

// Load reads path over the defaults, then applies environment overrides.
// An empty path or a missing file yields defaults plus environment.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	cfg.applyEnv(os.Getenv)
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Webhook.SigningSecret, EnvWebhookSecret)
	set(&c.Stripe.SecretKey, EnvStripeKey)
	set(&c.Admin.JWTSecret, EnvAdminJWTSecret)
	set(&c.Database.Path, EnvDBPath)
	if v := strings.TrimSpace(getenv(EnvRedisURL)); v != "" {
		c.Dedup.RedisURL = v
		c.Dedup.Backend = "redis"
	}
}

// Validate reports everything that would stop the server from serving.
func (c Config) Validate() error {
	var errs []error
	if c.Webhook.SigningSecret == "" {
		errs = append(errs, fmt.Errorf("webhook.signing_secret is required (or %s)", EnvWebhookSecret))
	}
	if c.Stripe.SecretKey == "" {
		errs = append(errs, fmt.Errorf("stripe.secret_key is required (or %s)", EnvStripeKey))
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("api.port %d out of range", c.API.Port))
	}
	switch c.Dedup.Backend {
	case "memory":
	case "redis":
		if c.Dedup.RedisURL == "" {
			errs = append(errs, errors.New("dedup.redis_url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("dedup.backend %q must be memory or redis", c.Dedup.Backend))
	}
	for name, d := range map[string]string{
		"api.request_timeout": c.API.RequestTimeout,
		"webhook.tolerance":   c.Webhook.Tolerance,
		"dedup.ttl":           c.Dedup.TTL,
	} {
		if _, err := time.ParseDuration(d); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Addr returns the listen address.
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Timeout returns the per-request timeout, defaulting to 30s.
func (c APIConfig) Timeout() time.Duration {
	return parseDuration(c.RequestTimeout, 30*time.Second)
}

// ToleranceDuration returns the signature timestamp tolerance.
func (c WebhookConfig) ToleranceDuration() time.Duration {
	return parseDuration(c.Tolerance, 5*time.Minute)
}

// TTLDuration returns how long processed event ids are remembered.
func (c DedupConfig) TTLDuration() time.Duration {
	return parseDuration(c.TTL, 72*time.Hour)
}

// SlogLevel maps the configured level name onto slog.
func (c LogConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(c.Level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log.level %q is not debug, info, warn or error", c.Level)
	}
}

// NewLogger builds the process logger.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, _ := c.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
