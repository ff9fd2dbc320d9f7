package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN          string `env:"DATABASE_DSN,required=true"`
	RedisURL             string `env:"REDIS_URL,required=true"`
	APIPort              int    `env:"API_PORT,default=8080"`
	MetricsPort          int    `env:"METRICS_PORT,default=9100"`
	LogLevel             string `env:"LOG_LEVEL,default=info"`
	DeliveryTimeoutMS    int    `env:"DELIVERY_TIMEOUT_MS,default=5000"`
	MaxAttempts          int    `env:"MAX_ATTEMPTS,default=5"`
	IdempotencyWindowMin int    `env:"IDEMPOTENCY_WINDOW_MIN,default=60"`
	SweepIntervalSec     int    `env:"SWEEP_INTERVAL_SEC,default=5"`
	SweepBatchLimit      int    `env:"SWEEP_BATCH_LIMIT,default=100"`
	TenantRatePerSec     int    `env:"TENANT_RATE_PER_SEC,default=20"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) DeliveryTimeout() time.Duration {
	return time.Duration(c.DeliveryTimeoutMS) * time.Millisecond
}

func (c *Config) IdempotencyWindow() time.Duration {
	return time.Duration(c.IdempotencyWindowMin) * time.Minute
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSec) * time.Second
}
