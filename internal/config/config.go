// Package config loads the API's runtime configuration from the
// environment.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App struct {
		Name     string `envconfig:"APP_NAME" default:"scriptoria-api"`
		HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`
		GRPCAddr string `envconfig:"GRPC_ADDR" default:":9090"`
	}

	DB struct {
		// DSN wins over the individual fields when set.
		DSN      string `envconfig:"PG_DSN" default:""`
		Host     string `envconfig:"DB_HOST" default:"localhost"`
		Port     int    `envconfig:"DB_PORT" default:"5432"`
		User     string `envconfig:"DB_USER" default:"postgres"`
		Password string `envconfig:"DB_PASSWORD" default:""`
		Name     string `envconfig:"DB_NAME" default:"scriptoria"`
	}

	Auth struct {
		JWTSecret string `envconfig:"JWT_SECRET" default:""`
	}

	Editorial struct {
		EnforceJournalScope  bool   `envconfig:"ENFORCE_JOURNAL_SCOPE" default:"true"`
		RequireApprovedCycle bool   `envconfig:"REQUIRE_APPROVED_CYCLE" default:"true"`
		DOIPrefix            string `envconfig:"DOI_PREFIX" default:"10.52437"`
	}

	RateLimit struct {
		PerSecond float64 `envconfig:"RATE_LIMIT_RPS" default:"25"`
		Burst     int     `envconfig:"RATE_LIMIT_BURST" default:"50"`
	}
}

// ConnectionString assembles the Postgres DSN, preferring the explicit one.
func (c *Config) ConnectionString() string {
	if c.DB.DSN != "" {
		return c.DB.DSN
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name)
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	return &cfg, nil
}
