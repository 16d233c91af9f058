// Package logging provides structured logging for nbpilot.
//
// Logger wraps zap with:
//   - a Trace level below Debug
//   - stdout output plus an optional OpenTelemetry log bridge
//   - correlation fields taken from ctx (trace_id, span_id, task.id,
//     step.number, request.id)
//   - redaction of sensitive field names and credential patterns
//   - sampling below the error level
//   - a level that can be changed at runtime
//
// Usage:
//
//	logger, err := logging.NewLogger(cfg, tel.LoggerProvider())
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithTaskID(ctx, req.ID)
//	logger.Info(ctx, "task finished", zap.String("status", "completed"))
//
// Component packages take a *zap.Logger; pass logger.Underlying().
//
// Tests use NewTestLogger, which records entries for assertions:
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "step completed", zap.Int("step", 2))
//	tl.AssertField(t, "step completed", "step", int64(2))
package logging
