package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nbpilot/internal/contextbudget"
	"github.com/fyrsmithlabs/nbpilot/internal/plan"
)

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// failureSignature is output text that marks a step as failed even when
// every call reported success.
type failureSignature struct {
	name    string
	pattern *regexp.Regexp
}

var failureSignatures = []failureSignature{
	{"traceback", regexp.MustCompile(`Traceback \(most recent call last\)`)},
	{"exception", regexp.MustCompile(`(?m)^\s*([A-Za-z_][\w.]*(?:Error|Exception)):`)},
	{"missing module", regexp.MustCompile(`No module named`)},
	{"command not found", regexp.MustCompile(`(?i)command not found`)},
	{"not found", regexp.MustCompile(`(?i)\bnot found\b`)},
	{"does not exist", regexp.MustCompile(`(?i)does not exist`)},
	{"permission denied", regexp.MustCompile(`(?i)permission denied`)},
}

var errorNamePattern = regexp.MustCompile(`(?m)^\s*(?:[\w.]+\.)?([A-Za-z_]\w*(?:Error|Exception)):`)

// DetectFailure scans output for known failure signatures. It returns the
// matched signature and, when present, the error class name.
func DetectFailure(output string) (signature, errorName string) {
	for _, sig := range failureSignatures {
		if sig.pattern.MatchString(output) {
			signature = sig.name
			break
		}
	}
	if signature == "" {
		return "", ""
	}
	if m := errorNamePattern.FindStringSubmatch(output); m != nil {
		errorName = m[1]
	}
	return signature, errorName
}

// stepOutcome is the result of one attempt at a step.
type stepOutcome struct {
	result    *plan.StepResult
	err       *ExecutionError
	done      bool
	cancelled bool

	// failedCell is the cell the failed call wrote to, if known.
	failedCell *int
	lastOutput string
}

// executeStepWithRetry runs every tool call of step once. Recovery from a
// failure is the caller's job through replanning; nothing is retried here.
func (r *run) executeStepWithRetry(ctx context.Context, step plan.Step) stepOutcome {
	ctx, span := r.o.tracer.Start(ctx, "orchestrator.Step", trace.WithAttributes(
		attribute.Int("step.number", step.Number),
		attribute.Int("step.attempt", r.replanAttempts+1),
		attribute.Int("step.tool_calls", len(step.ToolCalls)),
	))
	defer span.End()
	started := time.Now()

	s := &stepRunner{
		r:    r,
		ctx:  ctx,
		step: step,
		result: &plan.StepResult{
			StepNumber:  step.Number,
			Description: step.Description,
			Attempts:    r.replanAttempts + 1,
			ToolResults: []plan.ToolResult{},
		},
	}

	out := s.run()
	out.result = s.finish(out.err == nil && !out.cancelled)

	var kind ErrorKind
	if out.err != nil {
		kind = out.err.Kind
		span.SetStatus(codes.Error, out.err.Message)
		span.SetAttributes(attribute.String("step.error_kind", string(kind)))
	}
	if !out.cancelled {
		r.o.metrics.RecordStep(ctx, kind, time.Since(started))
	}
	return out
}

// stepRunner dispatches the tool calls of one step.
type stepRunner struct {
	r    *run
	ctx  context.Context
	step plan.Step

	result  *plan.StepResult
	codes   []string
	outputs []string
	done    bool

	failedCell *int
	lastOutput string
}

var _ plan.ToolCallVisitor = (*stepRunner)(nil)

func (s *stepRunner) run() stepOutcome {
	for _, call := range s.step.ToolCalls {
		if s.r.cancelled(s.ctx) {
			return stepOutcome{cancelled: true}
		}
		s.r.emit(Event{Phase: PhaseToolCalling, Step: s.step.Number, Tool: call.Tool()})

		if err := call.Accept(s); err != nil {
			if errors.Is(err, errCancelled) {
				return stepOutcome{cancelled: true}
			}
			return stepOutcome{
				err:        s.asExecutionError(err),
				failedCell: s.failedCell,
				lastOutput: s.lastOutput,
			}
		}
		if s.done {
			return stepOutcome{done: true}
		}
	}

	combined := strings.Join(s.outputs, "\n")
	if sig, name := DetectFailure(combined); sig != "" {
		return stepOutcome{
			err: &ExecutionError{
				Kind:       KindRuntime,
				Message:    fmt.Sprintf("output indicates failure (%s)", sig),
				ErrorName:  name,
				Traceback:  abbreviate(combined, 2000),
				StepNumber: s.step.Number,
			},
			failedCell: s.failedCell,
			lastOutput: combined,
		}
	}
	return stepOutcome{}
}

func (s *stepRunner) finish(success bool) *plan.StepResult {
	s.result.Success = success
	s.result.Code = strings.Join(s.codes, "\n\n")
	s.result.Output = strings.Join(s.outputs, "\n")
	return s.result
}

func (s *stepRunner) asExecutionError(err error) *ExecutionError {
	var xerr *ExecutionError
	if errors.As(err, &xerr) {
		if xerr.StepNumber == 0 {
			xerr.StepNumber = s.step.Number
		}
		return xerr
	}
	return &ExecutionError{Kind: KindEnvironment, Message: err.Error(), StepNumber: s.step.Number}
}

func (s *stepRunner) record(res *plan.ToolResult, output bool) {
	s.result.ToolResults = append(s.result.ToolResults, *res)
	if output && res.Output != "" {
		s.outputs = append(s.outputs, res.Output)
	}
	if res.CellIndex != nil {
		idx := *res.CellIndex
		s.failedCell = &idx
	}
}

// VisitRunCode gates, executes and checks one code cell.
func (s *stepRunner) VisitRunCode(call plan.RunCode) error {
	r := s.r
	ctx := s.ctx
	s.codes = append(s.codes, call.Code)

	if len(r.o.gates) > 0 {
		r.emit(Event{Phase: PhaseValidating, Step: s.step.Number, Tool: call.Tool()})
		violations, err := r.o.checkGates(ctx, GateInput{
			Step: s.step,
			Code: call.Code,
			Context: contextbudget.NotebookContext{
				Variables: append([]string(nil), r.visitedVars...),
				Imports:   append([]string(nil), r.visitedImports...),
			},
		})
		if err != nil {
			if r.cancelled(ctx) {
				return errCancelled
			}
			return &ExecutionError{Kind: KindEnvironment, Message: err.Error()}
		}
		r.violations = append(r.violations, violations...)
		r.o.logger.Violations(ctx, violations)

		if hasCriticalViolation(violations) {
			return &ExecutionError{
				Kind:    KindSafety,
				Message: "blocked by safety check: " + describeViolations(violations, SeverityCritical),
			}
		}
		if hasBlockingViolation(violations) {
			return &ExecutionError{
				Kind:    KindValidation,
				Message: "validation failed: " + describeViolations(violations, SeverityError),
			}
		}
	}

	if r.cancelled(ctx) {
		return errCancelled
	}

	timeout := r.o.config.StepTimeout
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	res, err := r.o.executor.Run(runCtx, call)
	deadline := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	cancel()

	if err != nil {
		switch {
		case ctx.Err() != nil:
			return errCancelled
		case deadline || errors.Is(err, context.DeadlineExceeded):
			if ierr := r.o.executor.Interrupt(context.WithoutCancel(ctx)); ierr != nil {
				r.o.logger.Warn(ctx, "interrupt failed", zap.Int("step", s.step.Number), zap.Error(ierr))
			}
			return &ExecutionError{Kind: KindTimeout, Message: fmt.Sprintf("execution exceeded %s", timeout)}
		default:
			return &ExecutionError{Kind: KindEnvironment, Message: fmt.Sprintf("execution backend: %v", err)}
		}
	}
	if res == nil {
		return &ExecutionError{Kind: KindEnvironment, Message: "execution backend returned no result"}
	}

	s.record(res, true)
	if !res.Success {
		s.lastOutput = s.failureOutput(res)
		msg := res.Error
		if msg == "" {
			msg = "execution failed"
		}
		return &ExecutionError{
			Kind:      KindRuntime,
			Message:   msg,
			ErrorName: res.ErrorName,
			Traceback: res.Traceback,
		}
	}
	s.lastOutput = res.Output
	return nil
}

// failureOutput returns the output of a failed call, reading the cell back
// when the result carried none.
func (s *stepRunner) failureOutput(res *plan.ToolResult) string {
	if res.Output != "" || res.CellIndex == nil {
		return res.Output
	}
	out, err := s.r.o.executor.CellOutput(s.ctx, *res.CellIndex)
	if err != nil {
		s.r.o.logger.Debug(s.ctx, "reading failed cell output", zap.Int("cell", *res.CellIndex), zap.Error(err))
		return ""
	}
	return out
}

// VisitAnnotate writes a markdown cell. A failed annotation is recorded
// but does not fail the step.
func (s *stepRunner) VisitAnnotate(call plan.Annotate) error {
	r := s.r
	runCtx, cancel := context.WithTimeout(s.ctx, r.o.config.StepTimeout)
	res, err := r.o.executor.Run(runCtx, call)
	cancel()
	if err == nil && res != nil && res.Success {
		s.record(res, false)
		return nil
	}
	if s.ctx.Err() != nil {
		return errCancelled
	}

	failed := plan.ToolResult{Tool: plan.ToolAnnotate, Success: false}
	switch {
	case err != nil:
		failed.Error = err.Error()
	case res == nil:
		failed.Error = "execution backend returned no result"
	default:
		failed = *res
	}
	s.result.ToolResults = append(s.result.ToolResults, failed)
	r.o.logger.Warn(s.ctx, "annotation failed", zap.Int("step", s.step.Number), zap.String("error", failed.Error))
	return nil
}

// VisitDeclareDone ends the task with the answer, placeholders filled in.
func (s *stepRunner) VisitDeclareDone(call plan.DeclareDone) error {
	answer := s.r.substitute(s.ctx, call.Answer)
	s.result.FinalAnswer = answer
	s.result.Summary = call.Summary
	s.result.ToolResults = append(s.result.ToolResults, plan.ToolResult{
		Tool:    plan.ToolDeclareDone,
		Success: true,
		Output:  answer,
	})
	s.done = true
	return nil
}

// substitute replaces {name} placeholders with live variable values. Any
// failure leaves the text as it was.
func (r *run) substitute(ctx context.Context, text string) string {
	matches := placeholderPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return text
	}
	names := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.o.config.StepTimeout)
	values, err := r.o.executor.FetchVariableValues(fetchCtx, names)
	cancel()
	if err != nil {
		r.o.logger.Debug(ctx, "placeholder substitution skipped", zap.Strings("names", names), zap.Error(err))
		return text
	}
	return placeholderPattern.ReplaceAllStringFunc(text, func(m string) string {
		if v, ok := values[m[1:len(m)-1]]; ok {
			return v
		}
		return m
	})
}

func abbreviate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
