package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidDuration is returned for duration text that cannot be read.
var ErrInvalidDuration = errors.New("invalid duration")

// Duration is a time.Duration read from YAML or NBPILOT_* variables. It
// accepts Go duration strings such as "1m30s" and bare integers, which
// count seconds.
type Duration time.Duration

// ParseDuration reads s as a Duration.
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidDuration)
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("%w %q: cannot be negative", ErrInvalidDuration, s)
		}
		return Duration(time.Duration(secs) * time.Second), nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w %q: use seconds or a value like \"30s\" or \"2m\"", ErrInvalidDuration, s)
	}
	if parsed < 0 {
		return 0, fmt.Errorf("%w %q: cannot be negative", ErrInvalidDuration, s)
	}
	return Duration(parsed), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d Duration) String() string {
	return d.Duration().String()
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Positive returns an error naming key when d is zero.
func (d Duration) Positive(key string) error {
	if d > 0 {
		return nil
	}
	return fmt.Errorf("%s must be positive, got %s", key, d)
}
