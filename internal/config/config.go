// Package config loads indexer configuration from environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries the full runtime configuration for the indexer.
type Config struct {
	Server  ServerConfig
	Redis   RedisConfig
	Solana  SolanaConfig
	Webhook WebhookConfig
	Query   QueryConfig
	Cache   CacheConfig
	Ledger  LedgerConfig
	Alert   AlertConfig
	Tracing TracingConfig
	Log     LogConfig
}

// ServerConfig holds the HTTP listener and edge-protection settings.
type ServerConfig struct {
	Port           int
	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigins    []string
}

// RedisConfig holds the store connection settings.
type RedisConfig struct {
	URL       string
	KeyPrefix string
}

// SolanaConfig holds the chain endpoint and program settings. A zero
// RateLimitRPS disables client-side pacing of outbound RPC calls.
type SolanaConfig struct {
	RPCURL         string
	Network        string
	VaultProgramID string
	RPCTimeout     time.Duration
	MaxRetries     int
	RateLimitRPS   float64
	RateLimitBurst int
}

// WebhookConfig holds the shared secret the event provider presents.
type WebhookConfig struct {
	AuthToken string
}

// QueryConfig bounds list reads: pagination limits and the fallback
// scan sizes that protect Redis from unindexed filter combinations.
type QueryConfig struct {
	DefaultLimit     int64
	MaxLimit         int64
	FallbackWarnSize int64
	FallbackMaxSize  int64
}

// CacheConfig drives the Cache-Control header on query responses.
type CacheConfig struct {
	MaxAge      time.Duration
	StaleFactor int
}

// LedgerConfig holds activity retention. Zero retention keeps
// activities forever.
type LedgerConfig struct {
	ActivityRetention time.Duration
}

// AlertConfig holds the Slack notifier settings. An empty webhook URL
// disables alert delivery.
type AlertConfig struct {
	SlackWebhookURL string
	Cooldown        time.Duration
}

// TracingConfig holds OpenTelemetry exporter settings.
type TracingConfig struct {
	Enabled    bool
	Endpoint   string
	SampleRate float64
	Insecure   bool
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string
}

// Load reads configuration from environment variables with sensible
// defaults and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvInt("HTTP_PORT", 8080),
			RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 10),
			RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 20),
			CORSOrigins:    splitList(getEnv("CORS_ALLOWED_ORIGINS", "")),
		},
		Redis: RedisConfig{
			URL:       getEnv("REDIS_URL", "redis://localhost:6379"),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "vitalfi"),
		},
		Solana: SolanaConfig{
			RPCURL:         getEnv("SOLANA_RPC_URL", "https://api.devnet.solana.com"),
			Network:        getEnv("SOLANA_NETWORK", "devnet"),
			VaultProgramID: getEnv("VAULT_PROGRAM_ID", ""),
			RPCTimeout:     time.Duration(getEnvInt("RPC_TIMEOUT_SECONDS", 30)) * time.Second,
			MaxRetries:     getEnvInt("RPC_MAX_RETRIES", 4),
			RateLimitRPS:   getEnvFloat("RPC_RATE_LIMIT_RPS", 0),
			RateLimitBurst: getEnvInt("RPC_RATE_LIMIT_BURST", 0),
		},
		Webhook: WebhookConfig{
			AuthToken: getEnv("WEBHOOK_AUTH_TOKEN", ""),
		},
		Query: QueryConfig{
			DefaultLimit:     int64(getEnvInt("QUERY_DEFAULT_LIMIT", 20)),
			MaxLimit:         int64(getEnvInt("QUERY_MAX_LIMIT", 100)),
			FallbackWarnSize: int64(getEnvInt("FALLBACK_WARN_SIZE", 100)),
			FallbackMaxSize:  int64(getEnvInt("FALLBACK_MAX_SIZE", 1000)),
		},
		Cache: CacheConfig{
			MaxAge:      time.Duration(getEnvInt("CACHE_MAX_AGE_SECONDS", 30)) * time.Second,
			StaleFactor: getEnvInt("CACHE_STALE_FACTOR", 3),
		},
		Ledger: LedgerConfig{
			ActivityRetention: time.Duration(getEnvInt("ACTIVITY_RETENTION_DAYS", 0)) * 24 * time.Hour,
		},
		Alert: AlertConfig{
			SlackWebhookURL: getEnv("ALERT_SLACK_WEBHOOK_URL", ""),
			Cooldown:        time.Duration(getEnvInt("ALERT_COOLDOWN_MINUTES", 5)) * time.Minute,
		},
		Tracing: TracingConfig{
			Enabled:    getEnvBool("TRACING_ENABLED", false),
			Endpoint:   getEnv("TRACING_OTLP_ENDPOINT", "localhost:4317"),
			SampleRate: getEnvFloat("TRACING_SAMPLE_RATE", 1.0),
			Insecure:   getEnvBool("TRACING_INSECURE", true),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.Solana.RPCURL == "" {
		return fmt.Errorf("SOLANA_RPC_URL is required")
	}
	if c.Solana.VaultProgramID == "" {
		return fmt.Errorf("VAULT_PROGRAM_ID is required")
	}
	if c.Webhook.AuthToken == "" {
		return fmt.Errorf("WEBHOOK_AUTH_TOKEN is required")
	}
	if c.Solana.Network != "mainnet" && c.Solana.Network != "devnet" {
		return fmt.Errorf("SOLANA_NETWORK must be mainnet or devnet, got %q", c.Solana.Network)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be within 1..65535, got %d", c.Server.Port)
	}
	if c.Query.DefaultLimit <= 0 {
		return fmt.Errorf("QUERY_DEFAULT_LIMIT must be positive, got %d", c.Query.DefaultLimit)
	}
	if c.Query.MaxLimit < c.Query.DefaultLimit {
		return fmt.Errorf("QUERY_MAX_LIMIT (%d) must be >= QUERY_DEFAULT_LIMIT (%d)", c.Query.MaxLimit, c.Query.DefaultLimit)
	}
	if c.Query.FallbackMaxSize < c.Query.FallbackWarnSize {
		return fmt.Errorf("FALLBACK_MAX_SIZE (%d) must be >= FALLBACK_WARN_SIZE (%d)", c.Query.FallbackMaxSize, c.Query.FallbackWarnSize)
	}
	if c.Solana.MaxRetries < 1 {
		return fmt.Errorf("RPC_MAX_RETRIES must be at least 1, got %d", c.Solana.MaxRetries)
	}
	if c.Solana.RateLimitRPS < 0 {
		return fmt.Errorf("RPC_RATE_LIMIT_RPS must not be negative, got %v", c.Solana.RateLimitRPS)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("TRACING_SAMPLE_RATE must be within [0,1], got %v", c.Tracing.SampleRate)
	}
	return nil
}

// RedactURL masks the password in a connection URL so it can be
// logged. Unparseable input comes back unchanged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
