package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseDSN       string        `env:"DATABASE_DSN,required=true"`
	DatabaseMaxConns  int           `env:"DATABASE_MAX_OPEN_CONNS,default=10"`
	RedisURL          string        `env:"REDIS_URL,required=true"`
	RabbitMQURL       string        `env:"RABBITMQ_URL"`
	IntakeConcurrency int           `env:"INTAKE_CONCURRENCY,default=2"`
	BatchKeyPrefix    string        `env:"BATCH_KEY_PREFIX,default=notifications:batch"`
	PushConcurrency   int           `env:"PUSH_CONCURRENCY,default=8"`
	PushRateLimit     int           `env:"PUSH_RATE_LIMIT_PER_SEC,default=50"`
	PushTimeout       time.Duration `env:"PUSH_TIMEOUT,default=10s"`
	DrainScanInterval time.Duration `env:"DRAIN_SCAN_INTERVAL,default=15s"`
	AdminToken        string        `env:"ADMIN_TOKEN"`
	APIPort           int           `env:"API_PORT,default=8080"`
	LogLevel          string        `env:"LOG_LEVEL,default=info"`
}

// IntakeEnabled reports whether calendar events are consumed from RabbitMQ.
func (c *Config) IntakeEnabled() bool {
	return c != nil && c.RabbitMQURL != ""
}

// Load reads an optional .env file, then the process environment.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %q: %w", file, err)
		}
	}

	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.PushConcurrency < 1 {
		return nil, fmt.Errorf("failed to load config: PUSH_CONCURRENCY must be positive")
	}
	if cfg.DrainScanInterval <= 0 {
		return nil, fmt.Errorf("failed to load config: DRAIN_SCAN_INTERVAL must be positive")
	}
	return &cfg, nil
}
