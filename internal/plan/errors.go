package plan

import "errors"

// Plan shape errors.
var (
	ErrEmptyPlan           = errors.New("plan has no steps")
	ErrNonContiguous       = errors.New("step numbers are not contiguous")
	ErrNoToolCalls         = errors.New("step has no tool calls")
	ErrNilToolCall         = errors.New("tool call is nil")
	ErrDeclareDoneNotLast  = errors.New("declare_done must be the last call of its step")
	ErrMultipleDeclareDone = errors.New("plan declares done more than once")
)

// Decision errors.
var (
	ErrStepOutOfRange  = errors.New("failed step index out of range")
	ErrEmptyDecision   = errors.New("replan decision carries no changes")
	ErrUnknownDecision = errors.New("unknown replan decision")
	ErrUnknownTool     = errors.New("unknown tool")
)
