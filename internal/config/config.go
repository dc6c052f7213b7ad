package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds everything the lending CLI needs to start.
type Config struct {
	DBPath            string        `env:"LENDING_DB_PATH" envDefault:"library.db"`
	SQLiteDriver      string        `env:"LENDING_SQLITE_DRIVER" envDefault:"sqlite3"`
	LoanPeriod        time.Duration `env:"LENDING_LOAN_PERIOD" envDefault:"24h"`
	SingleLoanPerBook bool          `env:"LENDING_SINGLE_LOAN_PER_BOOK" envDefault:"false"`
	Caller            string        `env:"LENDING_CALLER"`
	LogLevel          string        `env:"LENDING_LOG_LEVEL" envDefault:"warn"`
}

// Load reads an optional .env file from the working directory, then parses
// LENDING_* variables from the environment. A missing .env is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return Parse()
}

// Parse builds a Config from the current environment only.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the ledger cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("LENDING_DB_PATH cannot be empty")
	}
	switch c.SQLiteDriver {
	case "sqlite3", "sqlite":
	default:
		return fmt.Errorf("LENDING_SQLITE_DRIVER must be sqlite3 or sqlite, got %q", c.SQLiteDriver)
	}
	if c.LoanPeriod <= 0 {
		return fmt.Errorf("LENDING_LOAN_PERIOD must be positive, got %s", c.LoanPeriod)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("LENDING_LOG_LEVEL: %w", err)
	}
	return lvl, nil
}
