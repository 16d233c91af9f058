package reasoning

import (
	"errors"
	"fmt"
	"time"
)

// Provider names a model backend.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderOllama Provider = "ollama"
)

// Default configuration values.
const (
	defaultOpenAIModel = "gpt-4o-mini"
	defaultOllamaModel = "llama3.1"
	defaultOllamaURL   = "http://localhost:11434"
	defaultMaxTokens   = 4096
	defaultTimeout     = 90 * time.Second
	defaultMaxRetries  = 3
	defaultBaseBackoff = 1 * time.Second
)

// Rate limiter defaults: 50 requests per minute.
const (
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5
)

// Config configures the reasoning client.
type Config struct {
	// Provider is "openai" (also any OpenAI-compatible endpoint) or "ollama"
	Provider Provider `json:"provider" koanf:"provider"`

	Model   string `json:"model" koanf:"model"`
	BaseURL string `json:"base_url,omitempty" koanf:"base_url"`
	APIKey  string `json:"-" koanf:"api_key"` // Never serialize API keys

	// Temperature for plan and replan calls. Validation and reflection
	// always run at zero.
	Temperature float64 `json:"temperature" koanf:"temperature"`
	MaxTokens   int     `json:"max_tokens" koanf:"max_tokens"`

	// Timeout bounds a single completion, retries excluded
	Timeout time.Duration `json:"timeout" koanf:"timeout"`

	MaxRetries int `json:"max_retries" koanf:"max_retries"`

	// RateLimit is requests per second; Burst the bucket size
	RateLimit float64 `json:"rate_limit" koanf:"rate_limit"`
	Burst     int     `json:"burst" koanf:"burst"`
}

// DefaultConfig returns sensible defaults for an OpenAI-compatible backend.
func DefaultConfig() *Config {
	return &Config{
		Provider:    ProviderOpenAI,
		Model:       defaultOpenAIModel,
		Temperature: 0.2,
		MaxTokens:   defaultMaxTokens,
		Timeout:     defaultTimeout,
		MaxRetries:  defaultMaxRetries,
		RateLimit:   defaultRateLimit,
		Burst:       defaultBurst,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error
	switch c.Provider {
	case ProviderOpenAI, ProviderOllama:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownProvider, c.Provider))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, errors.New("temperature must be within [0,2]"))
	}
	if c.MaxTokens <= 0 {
		errs = append(errs, errors.New("max_tokens must be positive"))
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
