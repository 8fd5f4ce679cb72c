package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all process configuration, populated from the environment.
type Config struct {
	HTTPAddr          string        `envconfig:"HTTP_ADDR" default:":8080"`
	DatabaseDSN       string        `envconfig:"DATABASE_DSN" default:"host=postgres user=postgres password=postgres dbname=ocuscan port=5432 sslmode=disable"`
	RedisAddr         string        `envconfig:"REDIS_ADDR" default:"redis:6379"`
	ClassifierBaseURL string        `envconfig:"CLASSIFIER_BASE_URL" default:"http://model-server:8000"`
	ClassifierTimeout time.Duration `envconfig:"CLASSIFIER_TIMEOUT" default:"30s"`
	ShutdownTimeout   time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
