package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/nbpilot/internal/plan"
)

func gateInput(code string) GateInput {
	return GateInput{Step: plan.Step{Number: 3, Description: "step"}, Code: code}
}

func TestSafetyGate(t *testing.T) {
	gate := NewSafetyGate(fakeSafety{blocked: map[string]string{
		"os.system": "shell execution via os.system",
	}})
	assert.Equal(t, "safety-gate", gate.Name())

	violations, err := gate.Check(context.Background(), gateInput("x = 1"))
	require.NoError(t, err)
	assert.Empty(t, violations)

	violations, err = gate.Check(context.Background(), gateInput("os.system('ls')"))
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, ViolationBlockedPattern, violations[0].Type)
	assert.Equal(t, SeverityCritical, violations[0].Severity)
	assert.Equal(t, 3, violations[0].StepNumber)
	assert.Equal(t, "shell execution via os.system", violations[0].Description)
}

type rejectAll struct{}

func (rejectAll) CheckSafety(string) (bool, []string) { return false, nil }

func TestSafetyGate_RejectWithoutReason(t *testing.T) {
	violations, err := NewSafetyGate(rejectAll{}).Check(context.Background(), gateInput("x"))
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "code rejected by safety check", violations[0].Description)
}

func TestSafetyGate_NilChecker(t *testing.T) {
	violations, err := NewSafetyGate(nil).Check(context.Background(), gateInput("anything"))
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestValidationGate_MapsIssues(t *testing.T) {
	r := &MockReasoner{}
	r.On("Validate", mock.Anything, mock.Anything).Return(&ValidationResult{
		Valid:       false,
		HasErrors:   true,
		HasWarnings: true,
		Issues: []ValidationIssue{
			{Severity: SeverityWarning, Message: "unused import"},
			{Severity: SeverityError, Message: "undefined name 'df'", Line: 4},
			{Severity: SeverityCritical, Message: "syntax error"},
		},
	}, nil)

	gate := NewValidationGate(r)
	assert.Equal(t, "validation-gate", gate.Name())

	violations, err := gate.Check(context.Background(), gateInput("print(df)"))
	require.NoError(t, err)
	require.Len(t, violations, 3)

	assert.Equal(t, SeverityWarning, violations[0].Severity)
	assert.Equal(t, ViolationValidationWarning, violations[0].Type)
	assert.Equal(t, SeverityError, violations[1].Severity)
	assert.Equal(t, "line 4: undefined name 'df'", violations[1].Description)
	// critical issues from the validator block like errors, not like safety
	assert.Equal(t, SeverityError, violations[2].Severity)
	assert.False(t, hasCriticalViolation(violations))
	assert.True(t, hasBlockingViolation(violations))
}

func TestValidationGate_InvalidWithoutIssues(t *testing.T) {
	r := &MockReasoner{}
	r.On("Validate", mock.Anything, mock.Anything).Return(&ValidationResult{Valid: false, Summary: "does not parse"}, nil)

	violations, err := NewValidationGate(r).Check(context.Background(), gateInput("def ("))
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, SeverityError, violations[0].Severity)
	assert.Equal(t, "does not parse", violations[0].Description)
}

func TestValidationGate_WarningsOnly(t *testing.T) {
	r := &MockReasoner{}
	r.On("Validate", mock.Anything, mock.Anything).Return(&ValidationResult{
		Valid:       true,
		HasWarnings: true,
		Issues:      []ValidationIssue{{Severity: SeverityWarning, Message: "shadowed builtin"}},
	}, nil)

	violations, err := NewValidationGate(r).Check(context.Background(), gateInput("list = []"))
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.False(t, hasBlockingViolation(violations))
}

func TestValidationGate_ValidatorUnavailable(t *testing.T) {
	r := &MockReasoner{}
	r.On("Validate", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))

	violations, err := NewValidationGate(r).Check(context.Background(), gateInput("x = 1"))
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, ViolationValidatorDown, violations[0].Type)
	assert.Equal(t, SeverityWarning, violations[0].Severity)
}

func TestValidationGate_CancelledContext(t *testing.T) {
	r := &MockReasoner{}
	r.On("Validate", mock.Anything, mock.Anything).Return(nil, context.Canceled)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewValidationGate(r).Check(ctx, gateInput("x = 1"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDescribeViolations(t *testing.T) {
	violations := []Violation{
		{Type: ViolationValidationWarning, Description: "w", Severity: SeverityWarning},
		{Type: ViolationValidationError, Description: "e", Severity: SeverityError},
		{Type: ViolationBlockedPattern, Description: "c", Severity: SeverityCritical},
	}
	assert.Equal(t, "[blocked_pattern] c", describeViolations(violations, SeverityCritical))
	assert.Equal(t, "[validation_error] e; [blocked_pattern] c", describeViolations(violations, SeverityError))
	assert.Equal(t, "[validation_warning] w; [validation_error] e; [blocked_pattern] c", describeViolations(violations, SeverityWarning))
}

type countingGate struct {
	name  string
	calls int
	err   error
}

func (g *countingGate) Name() string { return g.name }

func (g *countingGate) Check(ctx context.Context, in GateInput) ([]Violation, error) {
	g.calls++
	return nil, g.err
}

func TestCheckGates_StopsOnGateError(t *testing.T) {
	first := &countingGate{name: "first", err: errors.New("broken")}
	second := &countingGate{name: "second"}

	o := newTestOrchestrator(t, &MockReasoner{}, &MockExecutor{}, nil, WithGates(first, second))
	_, err := o.checkGates(context.Background(), gateInput("x = 1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gate first check failed")
	assert.Equal(t, 1, first.calls)
	assert.Zero(t, second.calls)
}

func TestNew_GateOrder(t *testing.T) {
	extra := &countingGate{name: "extra"}
	cfg := testConfig()
	cfg.ValidateCode = true

	o := newTestOrchestrator(t, &MockReasoner{}, &MockExecutor{}, cfg,
		WithSafetyChecker(fakeSafety{}), WithGates(extra))
	require.Len(t, o.gates, 3)
	assert.Equal(t, "safety-gate", o.gates[0].Name())
	assert.Equal(t, "validation-gate", o.gates[1].Name())
	assert.Equal(t, "extra", o.gates[2].Name())
}
