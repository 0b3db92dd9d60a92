// Package config loads service configuration from an optional YAML file
// with environment variable overrides. Environment values win over file
// values; file values win over defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Auth      AuthConfig      `yaml:"auth"`
	Storage   StorageConfig   `yaml:"storage"`
	S3        S3Config        `yaml:"s3"`
	Reaper    ReaperConfig    `yaml:"reaper"`
	LogLevel  string          `yaml:"log_level"`

	// Pricing overrides per-model token rates, keyed by model id or
	// family substring ("sonnet"). Models not listed use builtin rates.
	Pricing map[string]ModelRate `yaml:"pricing"`
}

// ModelRate is the USD price per 1,000 tokens for one model or family.
type ModelRate struct {
	InputPer1K  float64 `yaml:"input_per_1k" json:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k" json:"output_per_1k"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// AnthropicConfig holds the model provider settings.
type AnthropicConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// AuthConfig holds token validation settings.
type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
	AdminGroup  string        `yaml:"admin_group"`
	DevMode     bool          `yaml:"dev_mode"`
}

// StorageConfig selects the persistence backends.
type StorageConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend"`

	// DataDir holds the SQLite database files when Backend is "sqlite".
	DataDir string `yaml:"data_dir"`

	// SessionCacheTTL bounds staleness of cached session reads.
	SessionCacheTTL time.Duration `yaml:"session_cache_ttl"`
}

// S3Config holds the tenant object store settings. An empty bucket selects
// the in-memory object store.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// ReaperConfig holds the background sweep settings.
type ReaperConfig struct {
	// Schedule is a cron expression; empty disables the reaper.
	Schedule string `yaml:"schedule"`

	// SessionTTLDays is how long deleted sessions are retained before
	// purge.
	SessionTTLDays int `yaml:"session_ttl_days"`
}

// Default returns the configuration used when nothing is specified.
func Default() *Config {
	return &Config{
		Server: ServerConfig{ListenAddr: ":8080"},
		Anthropic: AnthropicConfig{
			Model: "claude-sonnet-4-20250514",
		},
		Auth: AuthConfig{
			TokenExpiry: 24 * time.Hour,
			AdminGroup:  "admins",
		},
		Storage: StorageConfig{
			Backend:         "memory",
			DataDir:         "./data",
			SessionCacheTTL: 5 * time.Minute,
		},
		S3: S3Config{Region: "us-east-1"},
		Reaper: ReaperConfig{
			Schedule:       "0 3 * * *",
			SessionTTLDays: 30,
		},
		LogLevel: "info",
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then environment overrides. Environment variables inside the
// file are expanded before parsing.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(raw))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.ListenAddr, "PARLEY_LISTEN_ADDR")
	setString(&cfg.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	setString(&cfg.Anthropic.BaseURL, "ANTHROPIC_BASE_URL")
	setString(&cfg.Anthropic.Model, "PARLEY_MODEL")
	setString(&cfg.Auth.JWTSecret, "PARLEY_JWT_SECRET")
	setString(&cfg.Auth.AdminGroup, "PARLEY_ADMIN_GROUP")
	setBool(&cfg.Auth.DevMode, "PARLEY_DEV_MODE")
	setString(&cfg.Storage.Backend, "PARLEY_STORAGE_BACKEND")
	setString(&cfg.Storage.DataDir, "PARLEY_DATA_DIR")
	setString(&cfg.S3.Bucket, "PARLEY_S3_BUCKET")
	setString(&cfg.S3.Region, "PARLEY_S3_REGION")
	setString(&cfg.S3.Endpoint, "PARLEY_S3_ENDPOINT")
	setString(&cfg.S3.Prefix, "PARLEY_S3_PREFIX")
	setString(&cfg.S3.AccessKeyID, "AWS_ACCESS_KEY_ID")
	setString(&cfg.S3.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")
	setString(&cfg.Reaper.Schedule, "PARLEY_REAPER_SCHEDULE")
	setInt(&cfg.Reaper.SessionTTLDays, "PARLEY_SESSION_TTL_DAYS")
	setString(&cfg.LogLevel, "PARLEY_LOG_LEVEL")
	applyPricingEnv(cfg)
}

// applyPricingEnv merges PARLEY_PRICING, a JSON object of per-model rates
// ({"claude-sonnet-4": {"input_per_1k": 0.004, "output_per_1k": 0.02}}),
// over any file-configured pricing.
func applyPricingEnv(cfg *Config) {
	v, ok := os.LookupEnv("PARLEY_PRICING")
	if !ok || v == "" {
		return
	}
	var rates map[string]ModelRate
	if err := json.Unmarshal([]byte(v), &rates); err != nil {
		return
	}
	if cfg.Pricing == nil {
		cfg.Pricing = make(map[string]ModelRate, len(rates))
	}
	for model, rate := range rates {
		cfg.Pricing[model] = rate
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*dst = parsed
		}
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown storage backend %q (want memory or sqlite)", c.Storage.Backend)
	}
	if c.Auth.JWTSecret == "" && !c.Auth.DevMode {
		return fmt.Errorf("auth.jwt_secret is required unless dev mode is enabled")
	}
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	for model, rate := range c.Pricing {
		if rate.InputPer1K < 0 || rate.OutputPer1K < 0 {
			return fmt.Errorf("pricing for %q has a negative rate", model)
		}
	}
	return nil
}
