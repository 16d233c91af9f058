package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/nbpilot/internal/contextbudget"
	"github.com/fyrsmithlabs/nbpilot/internal/plan"
)

// GateInput is what a gate inspects before a RunCode call executes
type GateInput struct {
	Step    plan.Step
	Code    string
	Context contextbudget.NotebookContext
}

// Gate checks code before it runs
type Gate interface {
	// Name returns the gate identifier
	Name() string

	// Check returns violations, if any. An error means the gate itself
	// could not run.
	Check(ctx context.Context, in GateInput) ([]Violation, error)
}

// SafetyGate blocks code the safety checker rejects
type SafetyGate struct {
	checker SafetyChecker
}

// NewSafetyGate creates a gate backed by checker
func NewSafetyGate(checker SafetyChecker) *SafetyGate {
	return &SafetyGate{checker: checker}
}

// Name returns the gate identifier
func (g *SafetyGate) Name() string {
	return "safety-gate"
}

// Check reports one critical violation per blocked pattern
func (g *SafetyGate) Check(ctx context.Context, in GateInput) ([]Violation, error) {
	if g.checker == nil {
		return nil, nil
	}
	safe, blocked := g.checker.CheckSafety(in.Code)
	if safe {
		return nil, nil
	}
	if len(blocked) == 0 {
		blocked = []string{"code rejected by safety check"}
	}

	violations := make([]Violation, 0, len(blocked))
	for _, b := range blocked {
		violations = append(violations, Violation{
			Type:        ViolationBlockedPattern,
			Gate:        g.Name(),
			Description: b,
			Severity:    SeverityCritical,
			StepNumber:  in.Step.Number,
			DetectedAt:  time.Now(),
		})
	}
	return violations, nil
}

// ValidationGate asks the reasoner to check code statically
type ValidationGate struct {
	reasoner Reasoner
}

// NewValidationGate creates a gate backed by the reasoner's Validate
func NewValidationGate(r Reasoner) *ValidationGate {
	return &ValidationGate{reasoner: r}
}

// Name returns the gate identifier
func (g *ValidationGate) Name() string {
	return "validation-gate"
}

// Check maps validation issues onto violations. A validator that cannot be
// reached yields a single warning so the step still runs.
func (g *ValidationGate) Check(ctx context.Context, in GateInput) ([]Violation, error) {
	res, err := g.reasoner.Validate(ctx, ValidationRequest{Code: in.Code, Context: in.Context})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return []Violation{{
			Type:        ViolationValidatorDown,
			Gate:        g.Name(),
			Description: fmt.Sprintf("validation unavailable: %v", err),
			Severity:    SeverityWarning,
			StepNumber:  in.Step.Number,
			DetectedAt:  time.Now(),
		}}, nil
	}
	if res == nil {
		return nil, nil
	}

	var violations []Violation
	for _, issue := range res.Issues {
		v := Violation{
			Type:        ViolationValidationWarning,
			Gate:        g.Name(),
			Description: issue.Message,
			Severity:    SeverityWarning,
			StepNumber:  in.Step.Number,
			DetectedAt:  time.Now(),
		}
		if issue.Severity == SeverityError || issue.Severity == SeverityCritical {
			v.Type = ViolationValidationError
			v.Severity = SeverityError
		}
		if issue.Line > 0 {
			v.Description = fmt.Sprintf("line %d: %s", issue.Line, issue.Message)
		}
		violations = append(violations, v)
	}

	// a result flagged with errors but no itemised issue still blocks
	if (res.HasErrors || !res.Valid) && !hasBlockingViolation(violations) {
		desc := res.Summary
		if desc == "" {
			desc = "code failed validation"
		}
		violations = append(violations, Violation{
			Type:        ViolationValidationError,
			Gate:        g.Name(),
			Description: desc,
			Severity:    SeverityError,
			StepNumber:  in.Step.Number,
			DetectedAt:  time.Now(),
		})
	}
	return violations, nil
}

// checkGates runs all gates and returns violations
func (o *Orchestrator) checkGates(ctx context.Context, in GateInput) ([]Violation, error) {
	var all []Violation
	for _, gate := range o.gates {
		violations, err := gate.Check(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("gate %s check failed: %w", gate.Name(), err)
		}
		all = append(all, violations...)
	}
	return all, nil
}

// hasCriticalViolation checks if any violation is critical
func hasCriticalViolation(violations []Violation) bool {
	for _, v := range violations {
		if v.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// hasBlockingViolation checks if any violation should block execution
func hasBlockingViolation(violations []Violation) bool {
	for _, v := range violations {
		if v.Severity == SeverityError || v.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// describeViolations creates a summary of violations at or above floor
func describeViolations(violations []Violation, floor Severity) string {
	var parts []string
	for _, v := range violations {
		if severityRank(v.Severity) < severityRank(floor) {
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s] %s", v.Type, v.Description))
	}
	return strings.Join(parts, "; ")
}

func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityError:
		return 1
	default:
		return 0
	}
}
