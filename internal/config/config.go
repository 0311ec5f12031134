// Package config reads the service configuration.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the service configuration. Environment variables take
// precedence over command-line flags.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	FrontendURL string `env:"FRONTEND_URL"`

	JWTSecret     string        `env:"JWT_SECRET"`
	TokenTTL      time.Duration `env:"TOKEN_TTL" envDefault:"168h"`
	AdminTokenTTL time.Duration `env:"ADMIN_TOKEN_TTL" envDefault:"24h"`

	MailGatewayAddress string `env:"MAIL_GATEWAY_ADDRESS"`
	MailFrom           string `env:"MAIL_FROM" envDefault:"no-reply@stocksnav.io"`

	S3Bucket    string `env:"S3_BUCKET"`
	S3Region    string `env:"S3_REGION" envDefault:"ap-southeast-1"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`
}

// Parse reads the configuration from command-line flags and environment
// variables.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envFrontendURL := cfg.FrontendURL
	envMailGateway := cfg.MailGatewayAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.FrontendURL, "f", "", "frontend base URL used in emails")
	flag.StringVar(&cfg.MailGatewayAddress, "m", "", "mail gateway address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envFrontendURL != "" {
		cfg.FrontendURL = envFrontendURL
	}
	if envMailGateway != "" {
		cfg.MailGatewayAddress = envMailGateway
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	// Tokens signed with a guessable secret are forgeable, so there is no
	// default for it.
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET must be set")
	}

	return cfg, nil
}
