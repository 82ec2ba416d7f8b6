package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// EnvPrefix prefixes every process setting read from the environment.
const EnvPrefix = "WOODMAP_"

// Environment holds process-level settings that do not belong in a run
// file: where the registry lives, how the API listens, and how remote reads
// are retried.
type Environment struct {
	DBPath      string        `env:"DB_PATH" envDefault:"woodmap.db"`
	Listen      string        `env:"LISTEN" envDefault:":8090"`
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`
	STACBaseURL string        `env:"STAC_URL" envDefault:""`
	Quiet       bool          `env:"QUIET" envDefault:"false"`
	Progress    bool          `env:"PROGRESS" envDefault:"true"`
	Retry       RetryEnv      `envPrefix:"RETRY_"`
}

// RetryEnv configures bounded exponential backoff for remote scene reads.
type RetryEnv struct {
	Attempts  int           `env:"ATTEMPTS" envDefault:"4"`
	BaseDelay time.Duration `env:"BASE_DELAY" envDefault:"500ms"`
	MaxDelay  time.Duration `env:"MAX_DELAY" envDefault:"8s"`
}

// LoadEnvironment parses settings from the process environment.
func LoadEnvironment() (*Environment, error) {
	return LoadEnvironmentFrom(nil)
}

// LoadEnvironmentFrom parses settings from vars, or from the process
// environment when vars is nil.
func LoadEnvironmentFrom(vars map[string]string) (*Environment, error) {
	cfg := &Environment{}
	opts := env.Options{
		Prefix:      EnvPrefix,
		Environment: vars,
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	return cfg, nil
}

// Validate checks that the settings are usable.
func (e *Environment) Validate() error {
	if e.DBPath == "" {
		return fmt.Errorf("%sDB_PATH must not be empty", EnvPrefix)
	}
	if e.HTTPTimeout <= 0 {
		return fmt.Errorf("%sHTTP_TIMEOUT must be positive, got %s", EnvPrefix, e.HTTPTimeout)
	}
	if e.Retry.Attempts < 1 {
		return fmt.Errorf("%sRETRY_ATTEMPTS must be at least 1, got %d", EnvPrefix, e.Retry.Attempts)
	}
	if e.Retry.BaseDelay < 0 || e.Retry.MaxDelay < e.Retry.BaseDelay {
		return fmt.Errorf("%sRETRY_MAX_DELAY (%s) must be >= RETRY_BASE_DELAY (%s)", EnvPrefix, e.Retry.MaxDelay, e.Retry.BaseDelay)
	}
	return nil
}
