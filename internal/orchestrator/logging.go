package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nbpilot/internal/plan"
	"github.com/fyrsmithlabs/nbpilot/internal/verifier"
)

// Logger wraps zap.Logger with orchestration events.
type Logger struct {
	logger *zap.Logger
}

// NewLogger creates a new Logger. If logger is nil, uses a no-op logger.
func NewLogger(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger.Named("orchestrator")}
}

// TaskStarted logs the start of a task.
func (l *Logger) TaskStarted(ctx context.Context, taskID, task string) {
	l.logger.Info("task started", l.with(ctx,
		zap.String("task_id", taskID),
		zap.Int("task_chars", len(task)),
	)...)
}

// TaskFinished logs the terminal state of a task.
func (l *Logger) TaskFinished(ctx context.Context, r *Result) {
	fields := l.with(ctx,
		zap.String("task_id", r.TaskID),
		zap.String("status", string(r.Status)),
		zap.Int("steps", len(r.StepResults)),
		zap.Int("replans", r.Replans),
		zap.Duration("duration", r.Duration()),
	)
	if r.Error != nil {
		fields = append(fields, zap.String("error_kind", string(r.Error.Kind)), zap.String("error", r.Error.Message))
		l.logger.Warn("task finished", fields...)
		return
	}
	l.logger.Info("task finished", fields...)
}

// Planned logs a new plan.
func (l *Logger) Planned(ctx context.Context, p *plan.Plan) {
	l.logger.Info("plan ready", l.with(ctx,
		zap.Int("steps", p.Len()),
		zap.Bool("declares_done", p.HasDeclareDone()),
	)...)
}

// StepFailed logs a failed step.
func (l *Logger) StepFailed(ctx context.Context, xerr *ExecutionError, attempt int) {
	l.logger.Warn("step failed", l.with(ctx,
		zap.Int("step", xerr.StepNumber),
		zap.String("kind", string(xerr.Kind)),
		zap.String("error_name", xerr.ErrorName),
		zap.String("message", xerr.Message),
		zap.Int("attempt", attempt),
	)...)
}

// Replanned logs an applied replan decision.
func (l *Logger) Replanned(ctx context.Context, step int, kind plan.DecisionKind, attempt, steps int) {
	l.logger.Info("plan revised", l.with(ctx,
		zap.Int("step", step),
		zap.String("decision", string(kind)),
		zap.Int("attempt", attempt),
		zap.Int("steps", steps),
	)...)
}

// Violations logs gate violations below the blocking level.
func (l *Logger) Violations(ctx context.Context, violations []Violation) {
	for _, v := range violations {
		if v.Severity != SeverityWarning {
			continue
		}
		l.logger.Warn("gate warning", l.with(ctx,
			zap.String("gate", v.Gate),
			zap.Int("step", v.StepNumber),
			zap.String("description", v.Description),
		)...)
	}
}

// Verified logs a verification result that did not recommend proceeding.
func (l *Logger) Verified(ctx context.Context, r *verifier.Result) {
	if r.Recommendation == verifier.RecommendProceed {
		return
	}
	l.logger.Warn("state verification below proceed threshold", l.with(ctx,
		zap.Int("step", r.StepNumber),
		zap.Float64("confidence", r.Confidence),
		zap.String("recommendation", string(r.Recommendation)),
	)...)
}

// ReflectionIntent logs a deferred retry or replan intent.
func (l *Logger) ReflectionIntent(ctx context.Context, hint *ReflectionHint) {
	l.logger.Info("reflection recommends action", l.with(ctx,
		zap.Int("step", hint.StepNumber),
		zap.String("action", string(hint.Action)),
	)...)
}

// Warn logs a non-fatal problem.
func (l *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.logger.Warn(msg, l.with(ctx, fields...)...)
}

// Debug logs a diagnostic message.
func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.logger.Debug(msg, l.with(ctx, fields...)...)
}

func (l *Logger) with(ctx context.Context, fields ...zap.Field) []zap.Field {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return fields
	}
	return append(fields,
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}
