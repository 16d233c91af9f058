package verifier

import "errors"

var (
	// ErrInvalidWeights indicates factor weights that are negative or do not sum to 1.
	ErrInvalidWeights = errors.New("factor weights must be non-negative and sum to 1")

	// ErrInvalidHistoryLimit indicates a non-positive history limit.
	ErrInvalidHistoryLimit = errors.New("history limit must be positive")
)
