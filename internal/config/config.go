// Package config loads the CLI's settings from DURABLE_* environment
// variables and turns them into stores, loggers and engine options.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/dshills/durable-go/durable"
	"github.com/dshills/durable-go/durable/store"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreMySQL  = "mysql"
)

// Config holds the CLI settings. Command-line flags override the values
// parsed from the environment.
type Config struct {
	Store         string        `env:"DURABLE_STORE" envDefault:"sqlite"`
	SQLitePath    string        `env:"DURABLE_SQLITE_PATH" envDefault:"durable.db"`
	MySQLDSN      string        `env:"DURABLE_MYSQL_DSN"`
	Codec         string        `env:"DURABLE_CODEC" envDefault:"json"`
	MaxConcurrent int           `env:"DURABLE_MAX_CONCURRENT" envDefault:"0"`
	FailedPolicy  string        `env:"DURABLE_FAILED_POLICY" envDefault:"retry"`
	StrictReplay  bool          `env:"DURABLE_STRICT_REPLAY" envDefault:"true"`
	StepTimeout   time.Duration `env:"DURABLE_STEP_TIMEOUT" envDefault:"0s"`
	StepRetries   int           `env:"DURABLE_STEP_RETRIES" envDefault:"1"`
	LogFormat     string        `env:"DURABLE_LOG_FORMAT" envDefault:"text"`
	LogLevel      string        `env:"DURABLE_LOG_LEVEL" envDefault:"info"`
	MetricsAddr   string        `env:"DURABLE_METRICS_ADDR"`
	Trace         bool          `env:"DURABLE_TRACE" envDefault:"false"`
}

// ParseEnv parses environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	switch c.Store {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("DURABLE_SQLITE_PATH is required for the sqlite store"))
		}
	case StoreMySQL:
		if c.MySQLDSN == "" {
			errs = append(errs, errors.New("DURABLE_MYSQL_DSN is required for the mysql store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q (want memory, sqlite or mysql)", c.Store))
	}

	if _, err := durable.CodecByName(c.Codec); err != nil {
		errs = append(errs, err)
	}
	if c.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("max concurrent must be >= 0, got %d", c.MaxConcurrent))
	}
	if _, err := durable.ParseFailedStepPolicy(c.FailedPolicy); err != nil {
		errs = append(errs, err)
	}
	if c.StepTimeout < 0 {
		errs = append(errs, fmt.Errorf("step timeout must be >= 0, got %v", c.StepTimeout))
	}
	if c.StepRetries < 0 {
		errs = append(errs, fmt.Errorf("step retries must be >= 0, got %d", c.StepRetries))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("unknown log format %q (want text or json)", c.LogFormat))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Backend is a step record store the CLI can list and close.
type Backend interface {
	store.Store
	store.Lister
	Close() error
}

// OpenStore opens the configured backend.
func (c Config) OpenStore() (Backend, error) {
	switch c.Store {
	case StoreMemory:
		return store.NewMemStore(), nil
	case StoreSQLite:
		st, err := store.NewSQLiteStore(c.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, nil
	case StoreMySQL:
		st, err := store.NewMySQLStore(c.MySQLDSN)
		if err != nil {
			return nil, fmt.Errorf("open mysql store: %w", err)
		}
		return st, nil
	}
	return nil, fmt.Errorf("unknown store %q", c.Store)
}

// EngineOptions translates the engine-facing settings.
func (c Config) EngineOptions() ([]durable.Option, error) {
	codec, err := durable.CodecByName(c.Codec)
	if err != nil {
		return nil, err
	}
	policy, err := durable.ParseFailedStepPolicy(c.FailedPolicy)
	if err != nil {
		return nil, err
	}
	opts := []durable.Option{
		durable.WithCodec(codec),
		durable.WithMaxConcurrent(c.MaxConcurrent),
		durable.WithFailedStepPolicy(policy),
		durable.WithStrictReplay(c.StrictReplay),
		durable.WithStepTimeout(c.StepTimeout),
	}
	if c.StepRetries > 1 {
		opts = append(opts, durable.WithDefaultStepPolicy(durable.StepPolicy{
			Retry: &durable.RetryPolicy{
				MaxAttempts: c.StepRetries,
				BaseDelay:   retryBaseDelay,
				MaxDelay:    retryMaxDelay,
				Retryable:   retryable,
			},
		}))
	}
	return opts, nil
}

const (
	retryBaseDelay = 100 * time.Millisecond
	retryMaxDelay  = 5 * time.Second
)

// retryable treats every work error as transient except cancellation.
func retryable(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// Logger builds the diagnostic logger writing to w.
func (c Config) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}
