package orchestrator

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/nbpilot/internal/plan"
	"github.com/fyrsmithlabs/nbpilot/internal/verifier"
)

// Phase is the engine state reported in progress events
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhasePlanning    Phase = "planning"
	PhasePlanned     Phase = "planned"
	PhaseExecuting   Phase = "executing"
	PhaseToolCalling Phase = "tool_calling"
	PhaseValidating  Phase = "validating"
	PhaseVerifying   Phase = "verifying"
	PhaseReflecting  Phase = "reflecting"
	PhaseReplanning  Phase = "replanning"
	PhaseCompleted   Phase = "completed"
	PhaseFailed      Phase = "failed"
)

// AllPhases returns every phase in lifecycle order
func AllPhases() []Phase {
	return []Phase{
		PhaseIdle, PhasePlanning, PhasePlanned, PhaseExecuting, PhaseToolCalling,
		PhaseValidating, PhaseVerifying, PhaseReflecting, PhaseReplanning,
		PhaseCompleted, PhaseFailed,
	}
}

// Status is the terminal outcome of a task
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ErrorKind classifies an ExecutionError
type ErrorKind string

const (
	// KindRuntime: the code raised or returned an error status.
	KindRuntime ErrorKind = "runtime"
	// KindTimeout: execution exceeded the step timeout.
	KindTimeout ErrorKind = "timeout"
	// KindSafety: blocked by the safety check. Never replanned.
	KindSafety ErrorKind = "safety"
	// KindValidation: pre-execution checks failed, or verification escalated.
	KindValidation ErrorKind = "validation"
	// KindEnvironment: a collaborator was unreachable or misbehaved.
	KindEnvironment ErrorKind = "environment"
)

// ExecutionError is a structured step or task failure.
type ExecutionError struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	ErrorName  string    `json:"error_name,omitempty"`
	Traceback  string    `json:"traceback,omitempty"`
	StepNumber int       `json:"step_number,omitempty"`
}

// Error implements error.
func (e *ExecutionError) Error() string {
	if e.StepNumber > 0 {
		return fmt.Sprintf("%s error in step %d: %s", e.Kind, e.StepNumber, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

// Recoverable reports whether the failure goes to replanning.
func (e *ExecutionError) Recoverable() bool {
	switch e.Kind {
	case KindRuntime, KindTimeout, KindValidation:
		return true
	default:
		return false
	}
}

// Violation is a problem a gate found in a step's code
type Violation struct {
	Type        ViolationType `json:"type"`
	Gate        string        `json:"gate"`
	Description string        `json:"description"`
	Severity    Severity      `json:"severity"`
	StepNumber  int           `json:"step_number"`
	DetectedAt  time.Time     `json:"detected_at"`
}

// ViolationType categorizes violations
type ViolationType string

const (
	ViolationBlockedPattern    ViolationType = "blocked_pattern"
	ViolationValidationError   ViolationType = "validation_error"
	ViolationValidationWarning ViolationType = "validation_warning"
	ViolationValidatorDown     ViolationType = "validator_unavailable"
)

// Severity indicates how serious a violation is
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// ReflectionAction is what reflection recommends after a step
type ReflectionAction string

const (
	ActionContinue ReflectionAction = "continue"
	ActionAdjust   ReflectionAction = "adjust"
	ActionRetry    ReflectionAction = "retry"
	ActionReplan   ReflectionAction = "replan"
)

// TaskRequest starts a task.
type TaskRequest struct {
	// ID identifies the task in events. Generated when empty.
	ID   string `json:"id,omitempty"`
	Task string `json:"task"`
}

// Result is the outcome of ExecuteTask.
type Result struct {
	TaskID        string            `json:"task_id"`
	Status        Status            `json:"status"`
	Plan          *plan.Plan        `json:"plan,omitempty"`
	StepResults   []plan.StepResult `json:"step_results"`
	FinalAnswer   string            `json:"final_answer,omitempty"`
	Summary       string            `json:"summary,omitempty"`
	Error         *ExecutionError   `json:"error,omitempty"`
	Errors        []ExecutionError  `json:"errors,omitempty"`
	Violations    []Violation       `json:"violations,omitempty"`
	Verifications []verifier.Result `json:"verifications,omitempty"`
	Replans       int               `json:"replans"`
	StartedAt     time.Time         `json:"started_at"`
	CompletedAt   time.Time         `json:"completed_at"`
}

// Duration is the wall time of the task.
func (r *Result) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// Event is one progress update. Fields beyond TaskID, Phase and Time are
// set only for the phases that carry them.
type Event struct {
	TaskID     string    `json:"task_id"`
	Phase      Phase     `json:"phase"`
	Time       time.Time `json:"time"`
	Message    string    `json:"message,omitempty"`
	Step       int       `json:"step,omitempty"`
	TotalSteps int       `json:"total_steps,omitempty"`

	Tool         plan.ToolName     `json:"tool,omitempty"`
	Plan         *plan.Plan        `json:"plan,omitempty"`
	StepResult   *plan.StepResult  `json:"step_result,omitempty"`
	Error        *ExecutionError   `json:"error,omitempty"`
	Decision     plan.DecisionKind `json:"decision,omitempty"`
	Attempt      int               `json:"attempt,omitempty"`
	Verification *verifier.Result  `json:"verification,omitempty"`
	Reflection   *ReflectionResult `json:"reflection,omitempty"`
	Result       *Result           `json:"result,omitempty"`
}

// ProgressSink receives progress events. It must not block.
type ProgressSink func(Event)

// Snapshot is the externally visible state of the orchestrator.
type Snapshot struct {
	Running    bool        `json:"running"`
	TaskID     string      `json:"task_id,omitempty"`
	Phase      Phase       `json:"phase"`
	Step       int         `json:"step,omitempty"`
	TotalSteps int         `json:"total_steps,omitempty"`
	Speed      SpeedPreset `json:"speed"`
	LastResult *Result     `json:"last_result,omitempty"`
}
