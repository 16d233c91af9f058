package safety

import "errors"

var (
	// ErrInvalidTOML indicates a rules file that does not parse.
	ErrInvalidTOML = errors.New("invalid TOML format")

	// ErrInvalidRegex indicates a rule or allowlist pattern that does not compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrDuplicateRule indicates two blocked rules with the same id.
	ErrDuplicateRule = errors.New("duplicate rule id")
)
