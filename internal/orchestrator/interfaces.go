package orchestrator

import (
	"context"

	"github.com/fyrsmithlabs/nbpilot/internal/checkpoint"
	"github.com/fyrsmithlabs/nbpilot/internal/contextbudget"
	"github.com/fyrsmithlabs/nbpilot/internal/plan"
)

// Reasoner produces and revises plans
type Reasoner interface {
	// Plan decomposes a task into steps.
	Plan(ctx context.Context, req PlanRequest) (*plan.Plan, error)

	// Replan decides how to recover from a failed step.
	Replan(ctx context.Context, req ReplanRequest) (*plan.ReplanResponse, error)

	// Validate statically checks code before it runs.
	Validate(ctx context.Context, req ValidationRequest) (*ValidationResult, error)

	// Reflect judges whether a completed step met its criteria.
	Reflect(ctx context.Context, req ReflectionRequest) (*ReflectionResult, error)
}

// Executor runs tool calls against the notebook kernel
type Executor interface {
	// Run creates, updates or executes a cell for the call.
	Run(ctx context.Context, call plan.ToolCall) (*plan.ToolResult, error)

	// Interrupt stops the code currently executing.
	Interrupt(ctx context.Context) error

	// FetchVariableValues returns the string form of each named variable
	// that exists in the kernel. Missing names are absent from the map.
	FetchVariableValues(ctx context.Context, names []string) (map[string]string, error)

	CellCount(ctx context.Context) (int, error)
	CellOutput(ctx context.Context, index int) (string, error)
}

// SafetyChecker screens code before it runs. It has no side effects.
type SafetyChecker interface {
	CheckSafety(code string) (safe bool, blocked []string)
}

// Environment is the notebook a task runs in
type Environment interface {
	checkpoint.Notebook

	// Snapshot returns the notebook as context for the reasoner.
	Snapshot(ctx context.Context) (contextbudget.NotebookContext, error)
}

// PlanRequest asks for a plan.
type PlanRequest struct {
	Task           string                        `json:"task"`
	Context        contextbudget.NotebookContext `json:"context"`
	AvailableTools []string                      `json:"available_tools"`
}

// ReplanRequest asks how to recover from a failed step.
type ReplanRequest struct {
	Task          string                        `json:"task"`
	ExecutedSteps []plan.StepResult             `json:"executed_steps"`
	FailedStep    plan.Step                     `json:"failed_step"`
	Error         ExecutionError                `json:"error"`
	LastOutput    string                        `json:"last_output,omitempty"`
	Attempt       int                           `json:"attempt"`
	Context       contextbudget.NotebookContext `json:"context"`

	// ReflectionHint carries a retry or replan intent from the reflection
	// of an earlier step.
	ReflectionHint *ReflectionHint `json:"reflection_hint,omitempty"`
}

// ReflectionHint is a reflection intent deferred to the next replan.
type ReflectionHint struct {
	StepNumber int              `json:"step_number"`
	Action     ReflectionAction `json:"action"`
	Reasoning  string           `json:"reasoning,omitempty"`
}

// ValidationRequest asks for a static check of code.
type ValidationRequest struct {
	Code    string                        `json:"code"`
	Context contextbudget.NotebookContext `json:"context"`
}

// ValidationIssue is one finding of a static check.
type ValidationIssue struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Line     int      `json:"line,omitempty"`
}

// ValidationResult is the outcome of a static check.
type ValidationResult struct {
	Valid       bool              `json:"valid"`
	Issues      []ValidationIssue `json:"issues"`
	HasErrors   bool              `json:"has_errors"`
	HasWarnings bool              `json:"has_warnings"`
	Summary     string            `json:"summary,omitempty"`
}

// ReflectionRequest asks for a judgement on a completed step.
type ReflectionRequest struct {
	StepNumber      int      `json:"step_number"`
	Description     string   `json:"description"`
	Code            string   `json:"code"`
	Status          string   `json:"status"`
	Output          string   `json:"output,omitempty"`
	Error           string   `json:"error,omitempty"`
	ExpectedOutcome string   `json:"expected_outcome,omitempty"`
	Criteria        []string `json:"criteria,omitempty"`
	RemainingSteps  int      `json:"remaining_steps"`
}

// ReflectionResult is the reasoner's judgement on a step.
type ReflectionResult struct {
	Passed     bool             `json:"checkpoint_passed"`
	Confidence float64          `json:"confidence"`
	Action     ReflectionAction `json:"action"`
	Reasoning  string           `json:"reasoning,omitempty"`
}

// Decide applies the reflection rule: a passed checkpoint with confidence
// at or above threshold continues whatever action was recommended.
func (r *ReflectionResult) Decide(threshold float64) ReflectionAction {
	if r.Passed && r.Confidence >= threshold {
		return ActionContinue
	}
	if r.Action == "" {
		return ActionContinue
	}
	return r.Action
}
