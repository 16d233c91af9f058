// Package plan defines the task decomposition the orchestrator executes:
// plans, steps, tool calls and the replanning decisions that revise them.
//
// A Plan is immutable per revision. Replanning never edits a plan in place;
// ApplyDecision returns a new revision.
package plan

import (
	"fmt"
	"strings"
	"time"
)

// Plan is an ordered sequence of steps.
type Plan struct {
	Steps             []Step        `json:"steps"`
	EstimatedDuration time.Duration `json:"estimated_duration,omitempty"`
}

// Step bundles one or more tool calls.
type Step struct {
	Number       int        `json:"step_number"`
	Description  string     `json:"description"`
	Dependencies []int      `json:"dependencies,omitempty"`
	ToolCalls    []ToolCall `json:"-"`

	IsNew        bool `json:"is_new,omitempty"`
	WasReplanned bool `json:"was_replanned,omitempty"`
	IsReplaced   bool `json:"is_replaced,omitempty"`

	// CellIndex and Operation address the step's cell in the notebook. They
	// carry no meaning for the engine itself.
	CellIndex *int          `json:"cell_index,omitempty"`
	Operation CellOperation `json:"operation,omitempty"`

	ExpectedOutcome        string   `json:"expected_outcome,omitempty"`
	ValidationCriteria     []string `json:"validation_criteria,omitempty"`
	ExpectedOutputPatterns []string `json:"expected_output_patterns,omitempty"`
}

// Len returns the number of steps.
func (p *Plan) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Steps)
}

// Clone returns a deep copy.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	out := &Plan{
		Steps:             make([]Step, len(p.Steps)),
		EstimatedDuration: p.EstimatedDuration,
	}
	for i := range p.Steps {
		out.Steps[i] = p.Steps[i].Clone()
	}
	return out
}

// Renumber assigns dense 1-based step numbers in slice order.
func (p *Plan) Renumber() {
	for i := range p.Steps {
		p.Steps[i].Number = i + 1
	}
}

// HasDeclareDone reports whether any step ends the task.
func (p *Plan) HasDeclareDone() bool {
	if p == nil {
		return false
	}
	for i := range p.Steps {
		if p.Steps[i].DeclaresDone() {
			return true
		}
	}
	return false
}

// Validate checks numbering and DeclareDone placement.
func (p *Plan) Validate() error {
	if p == nil || len(p.Steps) == 0 {
		return ErrEmptyPlan
	}
	done := 0
	for i := range p.Steps {
		s := &p.Steps[i]
		if s.Number != i+1 {
			return fmt.Errorf("%w: position %d has step number %d", ErrNonContiguous, i+1, s.Number)
		}
		if len(s.ToolCalls) == 0 {
			return fmt.Errorf("%w: step %d", ErrNoToolCalls, s.Number)
		}
		for j, call := range s.ToolCalls {
			if call == nil {
				return fmt.Errorf("%w: step %d call %d", ErrNilToolCall, s.Number, j+1)
			}
			if call.Tool() != ToolDeclareDone {
				continue
			}
			done++
			if j != len(s.ToolCalls)-1 {
				return fmt.Errorf("%w: step %d", ErrDeclareDoneNotLast, s.Number)
			}
		}
	}
	if done > 1 {
		return fmt.Errorf("%w: found %d", ErrMultipleDeclareDone, done)
	}
	return nil
}

// Clone returns a deep copy of the step.
func (s Step) Clone() Step {
	out := s
	out.Dependencies = append([]int(nil), s.Dependencies...)
	out.ValidationCriteria = append([]string(nil), s.ValidationCriteria...)
	out.ExpectedOutputPatterns = append([]string(nil), s.ExpectedOutputPatterns...)
	out.CellIndex = cloneIntPtr(s.CellIndex)
	out.ToolCalls = make([]ToolCall, len(s.ToolCalls))
	for i, call := range s.ToolCalls {
		out.ToolCalls[i] = cloneToolCall(call)
	}
	return out
}

// DeclaresDone reports whether the step contains a DeclareDone call.
func (s *Step) DeclaresDone() bool {
	for _, call := range s.ToolCalls {
		if call != nil && call.Tool() == ToolDeclareDone {
			return true
		}
	}
	return false
}

// Code joins the source of every RunCode call in the step.
func (s *Step) Code() string {
	var parts []string
	for _, call := range s.ToolCalls {
		if rc, ok := call.(RunCode); ok {
			parts = append(parts, rc.Code)
		}
	}
	return strings.Join(parts, "\n")
}

// clearTargets makes every call in the step create a fresh cell.
func (s *Step) clearTargets() {
	s.CellIndex = nil
	s.Operation = OperationInsert
	for i, call := range s.ToolCalls {
		switch c := call.(type) {
		case RunCode:
			c.CellIndex = nil
			c.Operation = OperationInsert
			s.ToolCalls[i] = c
		case Annotate:
			c.CellIndex = nil
			s.ToolCalls[i] = c
		}
	}
}

func cloneToolCall(call ToolCall) ToolCall {
	switch c := call.(type) {
	case RunCode:
		c.CellIndex = cloneIntPtr(c.CellIndex)
		return c
	case Annotate:
		c.CellIndex = cloneIntPtr(c.CellIndex)
		return c
	default:
		return call
	}
}
