// Package config loads and validates the server configuration.
package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/rxtech-lab/paper-trading/pkg/errors"
)

// Config contains the server configuration.
type Config struct {
	// ListenAddr is the address the HTTP front end binds to.
	ListenAddr string `yaml:"listen_addr" validate:"required"`
	// DatabasePath is the DuckDB file backing the account store.
	// ":memory:" keeps the ledger ephemeral.
	DatabasePath string `yaml:"database_path" validate:"required"`
	// QuoteTimeoutSeconds bounds each ticker fetch. Zero uses the
	// resolver default.
	QuoteTimeoutSeconds int `yaml:"quote_timeout_seconds" validate:"gte=0"`
	// BinanceBaseURL overrides the quote source endpoint, e.g. for the
	// testnet. Empty uses the production API.
	BinanceBaseURL string `yaml:"binance_base_url" validate:"omitempty,url"`
}

// DefaultConfig returns a configuration suitable for local use.
func DefaultConfig() Config {
	return Config{
		ListenAddr:          ":8080",
		DatabasePath:        "paper-trading.db",
		QuoteTimeoutSeconds: 0,
		BinanceBaseURL:      "",
	}
}

// Validate validates the Config struct.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid server config", err)
	}

	return nil
}

// QuoteTimeout returns the configured fetch timeout as a duration.
func (c *Config) QuoteTimeout() time.Duration {
	return time.Duration(c.QuoteTimeoutSeconds) * time.Second
}

// Load reads a YAML configuration file and validates it.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to read config file", err)
	}

	return Parse(data)
}

// Parse parses YAML configuration bytes and validates them.
func Parse(data []byte) (Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse config", err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}
