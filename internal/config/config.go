package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

const (
	ProviderKindWebhook = "webhook"
	ProviderKindBot     = "bot"

	ConfigBackendPostgres = "postgres"
	ConfigBackendRedis    = "redis"
	ConfigBackendFile     = "file"
)

type Config struct {
	DatabaseDSN        string `env:"DATABASE_DSN,required=true"`
	ProviderURL        string `env:"PROVIDER_URL,required=true"`
	ProviderKind       string `env:"PROVIDER_KIND,default=webhook"`
	ProviderToken      string `env:"PROVIDER_TOKEN"`
	ProviderFlowID     string `env:"PROVIDER_FLOW_ID"`
	ProviderTimeoutMS  int    `env:"PROVIDER_TIMEOUT_MS,default=10000"`
	PhoneCountryCode   string `env:"PHONE_COUNTRY_CODE,default=55"`
	RedisURL           string `env:"REDIS_URL"`
	RabbitMQURL        string `env:"RABBITMQ_URL"`
	RateLimitPerSec    int    `env:"RATE_LIMIT_PER_SEC,default=5"`
	QueueConfigBackend string `env:"QUEUE_CONFIG_BACKEND,default=postgres"`
	QueueConfigPath    string `env:"QUEUE_CONFIG_PATH,default=./data/queue-config.yaml"`
	SweepIntervalSec   int    `env:"SWEEP_INTERVAL_SEC,default=30"`
	ItemPauseMS        int    `env:"ITEM_PAUSE_MS,default=2000"`
	ClaimLeaseSec      int    `env:"CLAIM_LEASE_SEC,default=300"`
	QueueAutoStart     bool   `env:"QUEUE_AUTO_START,default=false"`
	APIPort            int    `env:"API_PORT,default=8080"`
	LogLevel           string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.ProviderKind = strings.ToLower(strings.TrimSpace(cfg.ProviderKind))
	cfg.QueueConfigBackend = strings.ToLower(strings.TrimSpace(cfg.QueueConfigBackend))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate checks settings that depend on each other.
func (c *Config) Validate() error {
	switch c.ProviderKind {
	case ProviderKindWebhook:
	case ProviderKindBot:
		if strings.TrimSpace(c.ProviderToken) == "" || strings.TrimSpace(c.ProviderFlowID) == "" {
			return fmt.Errorf("PROVIDER_TOKEN and PROVIDER_FLOW_ID are required for the bot provider")
		}
	default:
		return fmt.Errorf("unsupported PROVIDER_KIND %q", c.ProviderKind)
	}

	switch c.QueueConfigBackend {
	case ConfigBackendPostgres:
	case ConfigBackendRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("REDIS_URL is required when QUEUE_CONFIG_BACKEND=redis")
		}
	case ConfigBackendFile:
		if strings.TrimSpace(c.QueueConfigPath) == "" {
			return fmt.Errorf("QUEUE_CONFIG_PATH is required when QUEUE_CONFIG_BACKEND=file")
		}
	default:
		return fmt.Errorf("unsupported QUEUE_CONFIG_BACKEND %q", c.QueueConfigBackend)
	}

	if c.RateLimitPerSec <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_SEC must be positive")
	}
	if c.ItemPauseMS < 0 {
		return fmt.Errorf("ITEM_PAUSE_MS must not be negative")
	}
	return nil
}

func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutMS) * time.Millisecond
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSec) * time.Second
}

func (c *Config) ItemPause() time.Duration {
	return time.Duration(c.ItemPauseMS) * time.Millisecond
}

func (c *Config) ClaimLease() time.Duration {
	return time.Duration(c.ClaimLeaseSec) * time.Second
}
