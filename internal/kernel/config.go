package kernel

import (
	"errors"
	"time"
)

const (
	defaultBaseURL     = "http://localhost:8765"
	defaultTimeout     = 30 * time.Second
	defaultMaxRetries  = 2
	defaultBaseBackoff = 200 * time.Millisecond
	defaultRateLimit   = 20.0
	defaultBurst       = 10
)

// Config configures the bridge client.
type Config struct {
	BaseURL string `json:"base_url" koanf:"base_url"`
	Token   string `json:"-" koanf:"token"` // Never serialize tokens

	// Timeout bounds every request except running a cell, which is bounded
	// by the caller's context.
	Timeout time.Duration `json:"timeout" koanf:"timeout"`

	MaxRetries int     `json:"max_retries" koanf:"max_retries"`
	RateLimit  float64 `json:"rate_limit" koanf:"rate_limit"`
	Burst      int     `json:"burst" koanf:"burst"`
}

// DefaultConfig returns defaults for a bridge on localhost.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:    defaultBaseURL,
		Timeout:    defaultTimeout,
		MaxRetries: defaultMaxRetries,
		RateLimit:  defaultRateLimit,
		Burst:      defaultBurst,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error
	if c.BaseURL == "" {
		errs = append(errs, ErrMissingBaseURL)
	}
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("max_retries must not be negative"))
	}
	if c.RateLimit <= 0 || c.Burst <= 0 {
		errs = append(errs, errors.New("rate_limit and burst must be positive"))
	}
	return errors.Join(errs...)
}
