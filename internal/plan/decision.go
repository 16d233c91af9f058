package plan

import (
	"fmt"
)

// DecisionKind names a replan decision on the wire.
type DecisionKind string

const (
	DecisionRefine          DecisionKind = "refine"
	DecisionInsertSteps     DecisionKind = "insert_steps"
	DecisionReplaceStep     DecisionKind = "replace_step"
	DecisionReplanRemaining DecisionKind = "replan_remaining"
)

// Decision is one of Refine, InsertSteps, ReplaceStep or ReplanRemaining.
type Decision interface {
	Kind() DecisionKind
	Accept(v DecisionVisitor) error
	isDecision()
}

// DecisionVisitor handles each Decision variant.
type DecisionVisitor interface {
	VisitRefine(d Refine) error
	VisitInsertSteps(d InsertSteps) error
	VisitReplaceStep(d ReplaceStep) error
	VisitReplanRemaining(d ReplanRemaining) error
}

// Refine rewrites the failed step's code in place.
type Refine struct {
	Code string `json:"code"`
}

// InsertSteps splices new steps before the failed step.
type InsertSteps struct {
	Steps []Step `json:"steps"`
}

// ReplaceStep swaps the failed step for a new one.
type ReplaceStep struct {
	Step Step `json:"step"`
}

// ReplanRemaining drops the failed step and everything after it and
// appends a new tail.
type ReplanRemaining struct {
	Steps []Step `json:"steps"`
}

func (Refine) Kind() DecisionKind          { return DecisionRefine }
func (InsertSteps) Kind() DecisionKind     { return DecisionInsertSteps }
func (ReplaceStep) Kind() DecisionKind     { return DecisionReplaceStep }
func (ReplanRemaining) Kind() DecisionKind { return DecisionReplanRemaining }

func (d Refine) Accept(v DecisionVisitor) error          { return v.VisitRefine(d) }
func (d InsertSteps) Accept(v DecisionVisitor) error     { return v.VisitInsertSteps(d) }
func (d ReplaceStep) Accept(v DecisionVisitor) error     { return v.VisitReplaceStep(d) }
func (d ReplanRemaining) Accept(v DecisionVisitor) error { return v.VisitReplanRemaining(d) }

func (Refine) isDecision()          {}
func (InsertSteps) isDecision()     {}
func (ReplaceStep) isDecision()     {}
func (ReplanRemaining) isDecision() {}

// ReplanResponse is what the reasoning service returns for a failed step.
type ReplanResponse struct {
	Analysis  string   `json:"analysis"`
	Reasoning string   `json:"reasoning"`
	Decision  Decision `json:"-"`
}

// Application is the result of applying a decision.
type Application struct {
	Plan     *Plan
	Warnings []string
}

// ApplyDecision applies d to a copy of p. failedIndex is the 0-based index
// of the failed step; failedCell is the cell the failed attempt wrote to, if
// known. p is left untouched.
func ApplyDecision(p *Plan, failedIndex int, d Decision, failedCell *int) (*Application, error) {
	if p == nil || failedIndex < 0 || failedIndex >= len(p.Steps) {
		return nil, fmt.Errorf("%w: %d", ErrStepOutOfRange, failedIndex)
	}
	if d == nil {
		return nil, ErrUnknownDecision
	}
	a := &applier{
		plan:       p.Clone(),
		index:      failedIndex,
		failedCell: failedCell,
	}
	if err := d.Accept(a); err != nil {
		return nil, err
	}
	a.plan.Renumber()
	return &Application{Plan: a.plan, Warnings: a.warnings}, nil
}

type applier struct {
	plan       *Plan
	index      int
	failedCell *int
	warnings   []string
}

func (a *applier) VisitRefine(d Refine) error {
	if d.Code == "" {
		return fmt.Errorf("%w: refine without code", ErrEmptyDecision)
	}
	step := &a.plan.Steps[a.index]

	target := cloneIntPtr(step.CellIndex)
	if target == nil {
		target = cloneIntPtr(a.failedCell)
	}

	replaced := false
	calls := make([]ToolCall, 0, len(step.ToolCalls))
	for _, call := range step.ToolCalls {
		rc, ok := call.(RunCode)
		if !ok {
			calls = append(calls, call)
			continue
		}
		if replaced {
			// Only one code cell survives a refine.
			continue
		}
		rc.Code = d.Code
		if target != nil {
			rc.CellIndex = cloneIntPtr(target)
			rc.Operation = OperationUpdate
		}
		calls = append(calls, rc)
		replaced = true
	}
	if !replaced {
		rc := RunCode{Code: d.Code, CellIndex: cloneIntPtr(target)}
		if target != nil {
			rc.Operation = OperationUpdate
		}
		calls = append([]ToolCall{rc}, calls...)
	}

	step.ToolCalls = calls
	step.WasReplanned = true
	if target != nil {
		step.CellIndex = target
		step.Operation = OperationUpdate
	}
	return nil
}

func (a *applier) VisitInsertSteps(d InsertSteps) error {
	if len(d.Steps) == 0 {
		return fmt.Errorf("%w: insert_steps without steps", ErrEmptyDecision)
	}
	inserted := freshSteps(d.Steps)
	steps := make([]Step, 0, len(a.plan.Steps)+len(inserted))
	steps = append(steps, a.plan.Steps[:a.index]...)
	steps = append(steps, inserted...)
	steps = append(steps, a.plan.Steps[a.index:]...)
	a.plan.Steps = steps
	return nil
}

func (a *applier) VisitReplaceStep(d ReplaceStep) error {
	if len(d.Step.ToolCalls) == 0 {
		return fmt.Errorf("%w: replace_step without tool calls", ErrEmptyDecision)
	}
	step := d.Step.Clone()
	step.clearTargets()
	step.IsReplaced = true
	a.plan.Steps[a.index] = step
	return nil
}

func (a *applier) VisitReplanRemaining(d ReplanRemaining) error {
	if len(d.Steps) == 0 {
		return fmt.Errorf("%w: replan_remaining without steps", ErrEmptyDecision)
	}
	tail := freshSteps(d.Steps)
	steps := make([]Step, 0, a.index+len(tail))
	steps = append(steps, a.plan.Steps[:a.index]...)
	steps = append(steps, tail...)
	a.plan.Steps = steps
	if !a.plan.HasDeclareDone() {
		a.warnings = append(a.warnings, "replanned tail has no declare_done call")
	}
	return nil
}

// freshSteps copies steps, marks them new and points them at new cells.
func freshSteps(in []Step) []Step {
	out := make([]Step, len(in))
	for i := range in {
		s := in[i].Clone()
		s.clearTargets()
		s.IsNew = true
		out[i] = s
	}
	return out
}
