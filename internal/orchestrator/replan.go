package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nbpilot/internal/contextbudget"
	"github.com/fyrsmithlabs/nbpilot/internal/plan"
	"github.com/fyrsmithlabs/nbpilot/internal/verifier"
)

// replan asks the reasoner how to recover from a failed step and swaps in
// the revised plan. The loop then retries the same index. A non-nil return
// ends the task.
func (r *run) replan(ctx context.Context, step plan.Step, out stepOutcome) *ExecutionError {
	limit := r.o.config.MaxReplanAttempts
	if r.replanAttempts >= limit {
		return &ExecutionError{
			Kind:       out.err.Kind,
			Message:    fmt.Sprintf("replanning limit reached after %d attempts: %s", limit, out.err.Message),
			ErrorName:  out.err.ErrorName,
			Traceback:  out.err.Traceback,
			StepNumber: step.Number,
		}
	}
	r.replanAttempts++
	r.replans++

	r.emit(Event{
		Phase:      PhaseReplanning,
		Step:       step.Number,
		TotalSteps: len(r.plan.Steps),
		Error:      out.err,
		Attempt:    r.replanAttempts,
		Message:    out.err.Message,
	})

	failedCell := r.liveCell(ctx, out.failedCell)
	lastOutput := out.lastOutput
	if lastOutput == "" && failedCell != nil {
		if text, err := r.o.executor.CellOutput(ctx, *failedCell); err == nil {
			lastOutput = text
		}
	}

	resp, err := r.o.reasoner.Replan(ctx, ReplanRequest{
		Task:           r.req.Task,
		ExecutedSteps:  append([]plan.StepResult(nil), r.results...),
		FailedStep:     step.Clone(),
		Error:          *out.err,
		LastOutput:     lastOutput,
		Attempt:        r.replanAttempts,
		Context:        r.replanContext(ctx),
		ReflectionHint: r.takeHint(),
	})
	if err != nil {
		return &ExecutionError{Kind: KindEnvironment, Message: fmt.Sprintf("replan request failed: %v", err), StepNumber: step.Number}
	}
	if resp == nil || resp.Decision == nil {
		return &ExecutionError{Kind: KindEnvironment, Message: "replan returned no decision", StepNumber: step.Number}
	}

	applied, err := plan.ApplyDecision(r.plan, r.index, resp.Decision, failedCell)
	if err != nil {
		return &ExecutionError{Kind: KindEnvironment, Message: fmt.Sprintf("applying %s decision: %v", resp.Decision.Kind(), err), StepNumber: step.Number}
	}
	if err := applied.Plan.Validate(); err != nil {
		return &ExecutionError{Kind: KindEnvironment, Message: fmt.Sprintf("revised plan invalid: %v", err), StepNumber: step.Number}
	}
	for _, w := range applied.Warnings {
		r.o.logger.Warn(ctx, w, zap.Int("step", step.Number), zap.String("decision", string(resp.Decision.Kind())))
	}

	r.plan = applied.Plan
	r.o.logger.Replanned(ctx, step.Number, resp.Decision.Kind(), r.replanAttempts, r.plan.Len())
	r.o.metrics.RecordReplan(ctx, string(resp.Decision.Kind()))
	r.emit(Event{
		Phase:      PhaseReplanning,
		Step:       step.Number,
		TotalSteps: r.plan.Len(),
		Decision:   resp.Decision.Kind(),
		Attempt:    r.replanAttempts,
		Plan:       r.plan.Clone(),
		Message:    resp.Reasoning,
	})
	return nil
}

// liveCell returns cell if it still exists in the notebook.
func (r *run) liveCell(ctx context.Context, cell *int) *int {
	if cell == nil {
		return nil
	}
	n, err := r.o.executor.CellCount(ctx)
	if err != nil || *cell < 0 || *cell >= n {
		return nil
	}
	return plan.IntPtr(*cell)
}

// replanContext is the optimized notebook context, or the tracked names
// alone when the notebook cannot be read.
func (r *run) replanContext(ctx context.Context) contextbudget.NotebookContext {
	snap, err := r.env.Snapshot(ctx)
	if err != nil {
		r.o.logger.Debug(ctx, "notebook snapshot for replan failed", zap.Error(err))
		return contextbudget.NotebookContext{
			Variables: append([]string(nil), r.visitedVars...),
			Imports:   append([]string(nil), r.visitedImports...),
		}
	}
	optimized, _, _ := r.o.budget.ExtractOptimizedContext(ctx, snap)
	return optimized
}

func (r *run) takeHint() *ReflectionHint {
	h := r.pendingHint
	r.pendingHint = nil
	return h
}

// verify checks the step's post-conditions. Only an escalate
// recommendation ends the task.
func (r *run) verify(ctx context.Context, step plan.Step, sr *plan.StepResult, previous, stepVars []string) *ExecutionError {
	r.emit(Event{Phase: PhaseVerifying, Step: step.Number, TotalSteps: len(r.plan.Steps)})

	current := append([]string(nil), previous...)
	if len(stepVars) > 0 {
		fetchCtx, cancel := context.WithTimeout(ctx, r.o.config.StepTimeout)
		values, err := r.o.executor.FetchVariableValues(fetchCtx, stepVars)
		cancel()
		if err != nil {
			r.o.logger.Debug(ctx, "fetching variables for verification failed", zap.Error(err))
		}
		present := make([]string, 0, len(values))
		for _, name := range stepVars {
			if _, ok := values[name]; ok {
				present = append(present, name)
			}
		}
		current = union(current, present)
	}

	// Reassigned names are not new state.
	result := r.o.verifier.Verify(ctx, verifier.Context{
		StepNumber: step.Number,
		Execution: verifier.ExecutionResult{
			Status: verifier.StatusOK,
			Stdout: sr.Output,
		},
		Expectation: &verifier.StateExpectation{
			Description:            step.ExpectedOutcome,
			ExpectedVariables:      minus(stepVars, previous),
			ExpectedOutputPatterns: step.ExpectedOutputPatterns,
		},
		PreviousVariables: previous,
		CurrentVariables:  current,
	})
	r.verifications = append(r.verifications, result)
	r.o.metrics.RecordConfidence(ctx, result.Confidence, string(result.Recommendation))
	r.o.logger.Verified(ctx, &result)
	r.emit(Event{Phase: PhaseVerifying, Step: step.Number, Verification: &result})

	if result.Recommendation == verifier.RecommendEscalate {
		return &ExecutionError{
			Kind:       KindValidation,
			Message:    "state verification escalated",
			StepNumber: step.Number,
		}
	}
	return nil
}

// reflect asks the reasoner to judge the step. Retry and replan intents are
// held for the next replan request.
func (r *run) reflect(ctx context.Context, step plan.Step, sr *plan.StepResult) {
	if !r.o.config.Reflect {
		return
	}
	r.emit(Event{Phase: PhaseReflecting, Step: step.Number, TotalSteps: len(r.plan.Steps)})

	res, err := r.o.reasoner.Reflect(ctx, ReflectionRequest{
		StepNumber:      step.Number,
		Description:     step.Description,
		Code:            sr.Code,
		Status:          "success",
		Output:          sr.Output,
		ExpectedOutcome: step.ExpectedOutcome,
		Criteria:        step.ValidationCriteria,
		RemainingSteps:  len(r.plan.Steps) - r.index - 1,
	})
	if err != nil {
		r.o.logger.Warn(ctx, "reflection failed", zap.Int("step", step.Number), zap.Error(err))
		return
	}
	if res == nil {
		return
	}

	switch action := res.Decide(r.o.config.ReflectionConfidence); action {
	case ActionRetry, ActionReplan:
		r.pendingHint = &ReflectionHint{StepNumber: step.Number, Action: action, Reasoning: res.Reasoning}
		r.o.logger.ReflectionIntent(ctx, r.pendingHint)
	}
	r.emit(Event{Phase: PhaseReflecting, Step: step.Number, Reflection: res})
}
