package orchestrator

import (
	"errors"
	"fmt"
	"time"
)

// SpeedPreset names the delay between successful steps
type SpeedPreset string

const (
	SpeedInstant SpeedPreset = "instant"
	SpeedFast    SpeedPreset = "fast"
	SpeedNormal  SpeedPreset = "normal"
	SpeedSlow    SpeedPreset = "slow"

	// SpeedManual waits for Proceed between steps.
	SpeedManual SpeedPreset = "manual"
)

var speedDelays = map[SpeedPreset]time.Duration{
	SpeedInstant: 0,
	SpeedFast:    250 * time.Millisecond,
	SpeedNormal:  time.Second,
	SpeedSlow:    3 * time.Second,
	SpeedManual:  0,
}

// ParseSpeed validates a preset name.
func ParseSpeed(s string) (SpeedPreset, error) {
	p := SpeedPreset(s)
	if _, ok := speedDelays[p]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSpeed, s)
	}
	return p, nil
}

// Delay returns the inter-step delay. Manual has no fixed delay.
func (s SpeedPreset) Delay() time.Duration {
	return speedDelays[s]
}

// Config configures the orchestrator.
type Config struct {
	// StepTimeout bounds each Executor.Run call (default: 60s)
	StepTimeout time.Duration `json:"step_timeout" koanf:"step_timeout"`

	// MaxReplanAttempts caps replanning per episode of consecutive
	// failures (default: 3)
	MaxReplanAttempts int `json:"max_replan_attempts" koanf:"max_replan_attempts"`

	// ReflectionConfidence is the confidence at or above which a passed
	// reflection continues regardless of its recommended action (default: 0.7)
	ReflectionConfidence float64 `json:"reflection_confidence" koanf:"reflection_confidence"`

	// Speed is the initial speed preset (default: normal)
	Speed SpeedPreset `json:"speed" koanf:"speed"`

	// ValidateCode enables the reasoner's pre-execution validation gate
	ValidateCode bool `json:"validate_code" koanf:"validate_code"`

	// Reflect enables post-step reflection
	Reflect bool `json:"reflect" koanf:"reflect"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		StepTimeout:          60 * time.Second,
		MaxReplanAttempts:    3,
		ReflectionConfidence: 0.7,
		Speed:                SpeedNormal,
		ValidateCode:         true,
		Reflect:              true,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error
	if c.StepTimeout <= 0 {
		errs = append(errs, errors.New("step_timeout must be positive"))
	}
	if c.MaxReplanAttempts < 0 {
		errs = append(errs, errors.New("max_replan_attempts must not be negative"))
	}
	if c.ReflectionConfidence < 0 || c.ReflectionConfidence > 1 {
		errs = append(errs, errors.New("reflection_confidence must be within [0,1]"))
	}
	if _, err := ParseSpeed(string(c.Speed)); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
