package contextbudget

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Logger wraps zap.Logger with context-budget events.
type Logger struct {
	logger *zap.Logger
}

// NewLogger creates a new Logger. If logger is nil, uses a no-op logger.
func NewLogger(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger.Named("contextbudget")}
}

// UsageWarning logs that usage crossed the warning threshold.
func (l *Logger) UsageWarning(ctx context.Context, usage UsageStats, threshold float64) {
	if l == nil || l.logger == nil {
		return
	}
	fields := []zap.Field{
		zap.Int("total_tokens", usage.TotalTokens),
		zap.Int("available_tokens", usage.AvailableTokens),
		zap.Float64("usage_percent", usage.UsagePercent),
		zap.Float64("threshold", threshold),
	}
	fields = append(fields, l.traceFields(ctx)...)
	l.logger.Warn("context usage above warning threshold", fields...)
}

// Pruned logs a prune run.
func (l *Logger) Pruned(ctx context.Context, report PruneReport, target int) {
	if l == nil || l.logger == nil {
		return
	}
	fields := []zap.Field{
		zap.Int("original_tokens", report.OriginalTokens),
		zap.Int("pruned_tokens", report.PrunedTokens),
		zap.Int("target_tokens", target),
		zap.Int("removed_cells", report.RemovedCells),
		zap.Int("truncated_cells", report.TruncatedCells),
	}
	fields = append(fields, l.traceFields(ctx)...)
	l.logger.Info("context pruned", fields...)
}

// OverTarget logs that protected cells alone exceed the target.
func (l *Logger) OverTarget(ctx context.Context, prunedTokens, target int) {
	if l == nil || l.logger == nil {
		return
	}
	fields := []zap.Field{
		zap.Int("pruned_tokens", prunedTokens),
		zap.Int("target_tokens", target),
	}
	fields = append(fields, l.traceFields(ctx)...)
	l.logger.Warn("protected cells exceed token target after truncation", fields...)
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
