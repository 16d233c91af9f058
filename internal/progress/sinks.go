package progress

import (
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nbpilot/internal/orchestrator"
)

// FanOut delivers each event to every non-nil sink in order.
func FanOut(sinks ...orchestrator.ProgressSink) orchestrator.ProgressSink {
	live := make([]orchestrator.ProgressSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	return func(ev orchestrator.Event) {
		for _, s := range live {
			s(ev)
		}
	}
}

// LogSink writes each event to logger at debug level, and terminal
// phases at info.
func LogSink(logger *zap.Logger) orchestrator.ProgressSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("progress")
	return func(ev orchestrator.Event) {
		fields := []zap.Field{
			zap.String("task.id", ev.TaskID),
			zap.String("phase", string(ev.Phase)),
		}
		if ev.Step > 0 {
			fields = append(fields, zap.Int("step", ev.Step), zap.Int("total_steps", ev.TotalSteps))
		}
		if ev.Message != "" {
			fields = append(fields, zap.String("message", ev.Message))
		}
		if ev.Tool != "" {
			fields = append(fields, zap.String("tool", string(ev.Tool)))
		}
		if ev.Decision != "" {
			fields = append(fields, zap.String("decision", string(ev.Decision)))
		}
		if ev.Attempt > 0 {
			fields = append(fields, zap.Int("attempt", ev.Attempt))
		}
		if ev.Error != nil {
			fields = append(fields, zap.String("error", ev.Error.Error()))
		}

		switch ev.Phase {
		case orchestrator.PhaseCompleted, orchestrator.PhaseFailed:
			logger.Info("task progress", fields...)
		default:
			logger.Debug("task progress", fields...)
		}
	}
}
