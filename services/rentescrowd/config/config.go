package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"rentescrow/crypto"
)

const (
	defaultListen          = ":8090"
	defaultSecretEnv       = "RENTESCROW_JWT_SECRET"
	defaultClockSkew       = 2 * time.Minute
	defaultEventHistory    = 1024
	defaultShutdownTimeout = 10 * time.Second
)

// Config captures the runtime settings for the rent escrow daemon.
type Config struct {
	ListenAddress   string          `yaml:"listen"`
	TLS             TLSConfig       `yaml:"tls"`
	Auth            AuthConfig      `yaml:"auth"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	Logging         LoggingConfig   `yaml:"logging"`
	Telemetry       TelemetryConfig `yaml:"telemetry"`
	GenesisPath     string          `yaml:"genesis"`
	VaultAddress    string          `yaml:"vault_address"`
	EventHistory    int             `yaml:"event_history"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
}

// TLSConfig describes the TLS material for the HTTP listener.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AuthConfig configures bearer token verification. The HMAC secret itself is
// read from the environment variable named by SecretEnv.
type AuthConfig struct {
	SecretEnv string        `yaml:"secret_env"`
	Issuer    string        `yaml:"issuer"`
	Audience  string        `yaml:"audience"`
	ClockSkew time.Duration `yaml:"clock_skew"`

	secret string
}

type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

type LoggingConfig struct {
	Level string        `yaml:"level"`
	Env   string        `yaml:"env"`
	File  LogFileConfig `yaml:"file"`
}

type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type TelemetryConfig struct {
	Endpoint       string            `yaml:"endpoint"`
	Insecure       bool              `yaml:"insecure"`
	Headers        map[string]string `yaml:"headers"`
	Traces         bool              `yaml:"traces"`
	Metrics        bool              `yaml:"metrics"`
	MetricInterval time.Duration     `yaml:"metric_interval"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.TLS.CertPath = strings.TrimSpace(cfg.TLS.CertPath)
	cfg.TLS.KeyPath = strings.TrimSpace(cfg.TLS.KeyPath)
	cfg.Auth.SecretEnv = strings.TrimSpace(cfg.Auth.SecretEnv)
	if cfg.Auth.SecretEnv == "" {
		cfg.Auth.SecretEnv = defaultSecretEnv
	}
	if cfg.Auth.ClockSkew <= 0 {
		cfg.Auth.ClockSkew = defaultClockSkew
	}
	cfg.Auth.secret = strings.TrimSpace(os.Getenv(cfg.Auth.SecretEnv))
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
	cfg.GenesisPath = strings.TrimSpace(cfg.GenesisPath)
	cfg.VaultAddress = strings.TrimSpace(cfg.VaultAddress)
	if cfg.EventHistory <= 0 {
		cfg.EventHistory = defaultEventHistory
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
}

func (cfg *Config) validate() error {
	hasCert := cfg.TLS.CertPath != ""
	if hasCert != (cfg.TLS.KeyPath != "") {
		return fmt.Errorf("tls: cert and key must either both be provided or both be empty")
	}
	if !hasCert && !cfg.TLS.AllowInsecure {
		return fmt.Errorf("tls: cert and key are required unless allow_insecure=true")
	}
	if cfg.Auth.secret == "" {
		return fmt.Errorf("auth: environment variable %s must hold the token secret", cfg.Auth.SecretEnv)
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	if cfg.VaultAddress == "" {
		return fmt.Errorf("vault_address is required")
	}
	if _, err := crypto.ParseIdentity(cfg.VaultAddress); err != nil {
		return fmt.Errorf("vault_address: %w", err)
	}
	return nil
}

// Secret returns the resolved HMAC secret.
func (cfg AuthConfig) Secret() string { return cfg.secret }

// Vault returns the parsed custody vault identity.
func (cfg Config) Vault() [20]byte {
	vault, _ := crypto.ParseIdentity(cfg.VaultAddress)
	return vault
}
