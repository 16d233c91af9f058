package orchestrator

import "errors"

var (
	// ErrAlreadyRunning is returned when a task is already in flight.
	ErrAlreadyRunning = errors.New("a task is already running")

	// ErrNilReasoner indicates New was called without a reasoner.
	ErrNilReasoner = errors.New("reasoner is required")

	// ErrNilExecutor indicates New was called without an executor.
	ErrNilExecutor = errors.New("executor is required")

	// ErrNilEnvironment indicates ExecuteTask was called without an environment.
	ErrNilEnvironment = errors.New("environment is required")

	// ErrEmptyTask indicates a task request without a description.
	ErrEmptyTask = errors.New("task description is required")

	// ErrUnknownSpeed indicates an unrecognised speed preset.
	ErrUnknownSpeed = errors.New("unknown speed preset")

	// errCancelled is raised internally when cancellation interrupts a step.
	errCancelled = errors.New("task cancelled")
)
