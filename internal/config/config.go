// Package config handles calcd configuration loading and validation.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// knownWeakSecrets is a blocklist of secrets that must never be used in production.
var knownWeakSecrets = map[string]bool{
	"your-secret-key-min-32-chars-change-in-production": true,
	"local-dev-secret-for-testing-only-32chars!":        true,
	"changeme": true,
	"secret":   true,
}

// GenerateRandomSecret returns a cryptographically random 64-character hex string
// suitable for use as a token signing secret.
func GenerateRandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Config is the top-level calcd configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Stage     string          `json:"stage,omitempty" env:"CALCD_STAGE"` // "test", "development" or "production"
	Auth      AuthConfig      `json:"auth"`
	OAuth     OAuthConfig     `json:"oauth"`
	Storage   StorageConfig   `json:"storage"`
	Logging   LoggingConfig   `json:"logging"`
	RateLimit RateLimitConfig `json:"rate_limit,omitempty"`
}

// ServerConfig defines the listener settings.
type ServerConfig struct {
	Addr           string   `json:"addr" env:"CALCD_ADDR"` // e.g. ":8000"
	TLSCert        string   `json:"tls_cert,omitempty" env:"CALCD_TLS_CERT"`
	TLSKey         string   `json:"tls_key,omitempty" env:"CALCD_TLS_KEY"`
	AllowedOrigins []string `json:"allowed_origins,omitempty" env:"CALCD_ALLOWED_ORIGINS"` // CORS origins; default ["*"]
	MaxBodyBytes   int64    `json:"max_body_bytes,omitempty" env:"CALCD_MAX_BODY_BYTES"`   // default 1MB
}

// AuthConfig defines authentication settings.
type AuthConfig struct {
	// APIKeys is a base64-encoded JSON object mapping API keys to
	// {"username": ..., "roles": [...]}. Duplicate keys are rejected at startup.
	APIKeys         string `json:"api_keys,omitempty" env:"CALCD_API_KEYS"`
	Secret          string `json:"secret" env:"CALCD_AUTH_SECRET"`
	TokenTTLMinutes int    `json:"token_ttl_minutes,omitempty" env:"CALCD_TOKEN_TTL_MINUTES"` // default 30
}

// TokenTTL returns the configured token lifetime.
func (a AuthConfig) TokenTTL() time.Duration {
	return time.Duration(a.TokenTTLMinutes) * time.Minute
}

// OAuthConfig defines settings for the external authorization server.
type OAuthConfig struct {
	Provider     string `json:"provider,omitempty" env:"CALCD_OAUTH_PROVIDER"` // default "github"
	ClientID     string `json:"client_id,omitempty" env:"CALCD_OAUTH_CLIENT_ID"`
	ClientSecret string `json:"client_secret,omitempty" env:"CALCD_OAUTH_CLIENT_SECRET"`
	TenantID     string `json:"tenant_id,omitempty" env:"CALCD_OAUTH_TENANT_ID"` // microsoft only
}

// StorageConfig defines audit log database settings.
type StorageConfig struct {
	Driver    string   `json:"driver,omitempty" env:"CALCD_STORAGE_DRIVER"` // "sqlite" (default) or "postgres"
	DSN       string   `json:"dsn,omitempty" env:"CALCD_STORAGE_DSN"`       // e.g. "calcd.db" or ":memory:"
	Retention Duration `json:"retention,omitempty"`                         // audit event retention; default 30 days
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `json:"level,omitempty" env:"CALCD_LOG_LEVEL"`
	Format string `json:"format,omitempty" env:"CALCD_LOG_FORMAT"` // "json" or "text"
}

// RateLimitConfig defines rate limiting settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"` // default 10
	Burst             int     `json:"burst,omitempty"`               // default 20
}

// Duration is a JSON-friendly time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		dur, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = dur
	case float64:
		d.Duration = time.Duration(val) * time.Second
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Load reads a config file, applies .env and environment overrides, and
// validates the result. A missing file at the default path is not an error:
// calcd can run entirely from environment variables.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case os.IsNotExist(err):
		// env-only operation
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required")
	}
	if len(c.Auth.Secret) < 32 {
		return fmt.Errorf("auth.secret must be at least 32 characters")
	}
	if knownWeakSecrets[c.Auth.Secret] {
		return fmt.Errorf("auth.secret is a well-known weak secret, generate a new one")
	}
	switch c.Stage {
	case "test", "development", "production":
	default:
		return fmt.Errorf("stage must be test, development or production, got %q", c.Stage)
	}
	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported storage driver: %q", c.Storage.Driver)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8000"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1024 * 1024 // 1MB
	}
	if c.Stage == "" {
		c.Stage = "development"
	}
	if c.Auth.TokenTTLMinutes == 0 {
		c.Auth.TokenTTLMinutes = 30
	}
	if c.OAuth.Provider == "" {
		c.OAuth.Provider = "github"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = "calcd.db"
	}
	if c.Storage.Retention.Duration == 0 {
		c.Storage.Retention.Duration = 30 * 24 * time.Hour
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 10
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
}
