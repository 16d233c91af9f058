package reasoning

import (
	"errors"
	"strings"
)

var (
	// ErrUnknownProvider indicates a provider name NewModel does not support.
	ErrUnknownProvider = errors.New("unknown llm provider")

	// ErrMissingAPIKey indicates a hosted provider configured without a key.
	ErrMissingAPIKey = errors.New("api key required")

	// ErrEmptyCompletion indicates the model returned no choices or no text.
	ErrEmptyCompletion = errors.New("empty completion")

	// ErrNoJSON indicates the completion contained no JSON object.
	ErrNoJSON = errors.New("no JSON object in completion")

	// ErrNilModel indicates New was called without a model.
	ErrNilModel = errors.New("model is required")
)

// retryableError marks a failure worth retrying.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryableError checks if an error should be retried. Errors from the
// model are classified by their text since providers do not share a type.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var re *retryableError
	if errors.As(err, &re) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

var transientMarkers = []string{
	"429",
	"rate limit",
	"too many requests",
	"500",
	"502",
	"503",
	"504",
	"connection refused",
	"connection reset",
	"timeout",
	"temporarily unavailable",
	"overloaded",
	"eof",
}
