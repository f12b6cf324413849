// Package config содержит логику чтения конфигурации сервиса подарочных карт.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса подарочных карт.
type Config struct {
	RunAddress      string        `env:"RUN_ADDRESS"`
	DatabaseURI     string        `env:"DATABASE_URI"`
	DeliveryAddress string        `env:"DELIVERY_SYSTEM_ADDRESS"`
	WebhookSecret   string        `env:"WEBHOOK_SECRET"`
	CodePrefix      string        `env:"CODE_PREFIX"`
	ExpiryDays      int           `env:"EXPIRY_DAYS"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envDeliveryAddress := cfg.DeliveryAddress
	envWebhookSecret := cfg.WebhookSecret
	envCodePrefix := cfg.CodePrefix
	envExpiryDays := cfg.ExpiryDays
	envSweepInterval := cfg.SweepInterval

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.DeliveryAddress, "r", "", "delivery system address")
	flag.StringVar(&cfg.WebhookSecret, "s", "", "webhook signing secret")
	flag.StringVar(&cfg.CodePrefix, "p", "GIFT", "gift card code prefix")
	flag.IntVar(&cfg.ExpiryDays, "e", 365, "gift card lifetime in days, 0 disables expiry")
	flag.DurationVar(&cfg.SweepInterval, "i", time.Hour, "expiry sweep interval, 0 disables the sweeper")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envDeliveryAddress != "" {
		cfg.DeliveryAddress = envDeliveryAddress
	}
	if envWebhookSecret != "" {
		cfg.WebhookSecret = envWebhookSecret
	}
	if envCodePrefix != "" {
		cfg.CodePrefix = envCodePrefix
	}
	if envExpiryDays != 0 {
		cfg.ExpiryDays = envExpiryDays
	}
	if envSweepInterval != 0 {
		cfg.SweepInterval = envSweepInterval
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.ExpiryDays < 0 {
		cfg.ExpiryDays = 0
	}

	return cfg, nil
}
