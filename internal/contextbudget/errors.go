package contextbudget

import "errors"

// Budget configuration errors.
var (
	ErrInvalidMaxTokens        = errors.New("max_tokens must be positive")
	ErrReservedExceedsMax      = errors.New("reserved_for_response must be below max_tokens")
	ErrInvalidWarningThreshold = errors.New("warning_threshold must be within (0, 1]")
	ErrInvalidTruncationFloor  = errors.New("min_truncated_tokens must be positive")
)
