package checkpoint

import "errors"

var (
	// ErrCheckpointNotFound indicates no checkpoint matches the requested step.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrNotebookUnavailable indicates no notebook handle is attached.
	ErrNotebookUnavailable = errors.New("notebook unavailable")

	// ErrInvalidCapacity indicates a non-positive checkpoint capacity.
	ErrInvalidCapacity = errors.New("max checkpoints must be positive")
)
