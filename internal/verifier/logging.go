package verifier

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Logger wraps zap.Logger with verification events.
type Logger struct {
	logger *zap.Logger
}

// NewLogger creates a new Logger. If logger is nil, uses a no-op logger.
func NewLogger(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger.Named("verifier")}
}

// Verified logs the outcome of a verification.
func (l *Logger) Verified(ctx context.Context, r *Result) {
	if l == nil || l.logger == nil {
		return
	}
	fields := []zap.Field{
		zap.Int("step", r.StepNumber),
		zap.Bool("valid", r.Valid),
		zap.Float64("confidence", r.Confidence),
		zap.String("recommendation", string(r.Recommendation)),
		zap.Int("mismatches", len(r.Mismatches)),
	}
	fields = append(fields, l.traceFields(ctx)...)

	switch r.Recommendation {
	case RecommendProceed:
		l.logger.Debug("step verified", fields...)
	case RecommendWarning:
		l.logger.Info("step verified with low confidence", fields...)
	default:
		l.logger.Warn("step verification below threshold", fields...)
	}

	for _, m := range r.Mismatches {
		if m.Severity != SeverityCritical {
			continue
		}
		l.logger.Warn("critical mismatch",
			zap.Int("step", r.StepNumber),
			zap.String("type", string(m.Type)),
			zap.String("description", m.Description),
			zap.String("suggestion", m.Suggestion),
		)
	}
}

func (l *Logger) traceFields(ctx context.Context) []zap.Field {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return nil
	}
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}
