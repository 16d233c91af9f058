package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName is the name used for OTEL instrumentation.
const InstrumentationName = "github.com/fyrsmithlabs/nbpilot/internal/orchestrator"

// Metrics provides OpenTelemetry metrics for task orchestration.
type Metrics struct {
	tasksTotal   metric.Int64Counter
	stepsTotal   metric.Int64Counter
	replansTotal metric.Int64Counter
	stepDuration metric.Float64Histogram
	confidence   metric.Float64Histogram
	activeTasks  metric.Int64UpDownCounter

	initialized bool
}

// NewMetrics creates a new Metrics instance with the provided meter.
// If meter is nil, uses the global meter provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	m.tasksTotal, err = meter.Int64Counter(
		"orchestrator.tasks.total",
		metric.WithDescription("Tasks finished, by status"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, err
	}

	m.stepsTotal, err = meter.Int64Counter(
		"orchestrator.steps.total",
		metric.WithDescription("Step attempts, by result and error kind"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		return nil, err
	}

	m.replansTotal, err = meter.Int64Counter(
		"orchestrator.replans.total",
		metric.WithDescription("Applied replan decisions"),
		metric.WithUnit("{replan}"),
	)
	if err != nil {
		return nil, err
	}

	m.stepDuration, err = meter.Float64Histogram(
		"orchestrator.step.duration",
		metric.WithDescription("Duration of step attempts"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, err
	}

	m.confidence, err = meter.Float64Histogram(
		"orchestrator.verification.confidence",
		metric.WithDescription("State verification confidence per step"),
		metric.WithExplicitBucketBoundaries(0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.75, 0.8, 0.9, 1),
	)
	if err != nil {
		return nil, err
	}

	m.activeTasks, err = meter.Int64UpDownCounter(
		"orchestrator.tasks.active",
		metric.WithDescription("Tasks currently running"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, err
	}

	m.initialized = true
	return m, nil
}

// TaskStarted increments the active task gauge.
func (m *Metrics) TaskStarted(ctx context.Context) {
	if m == nil || !m.initialized {
		return
	}
	m.activeTasks.Add(ctx, 1)
}

// RecordTask records a finished task.
func (m *Metrics) RecordTask(ctx context.Context, status Status) {
	if m == nil || !m.initialized {
		return
	}
	m.activeTasks.Add(ctx, -1)
	m.tasksTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}

// RecordStep records one step attempt. kind is empty for a success.
func (m *Metrics) RecordStep(ctx context.Context, kind ErrorKind, d time.Duration) {
	if m == nil || !m.initialized {
		return
	}
	result := "success"
	if kind != "" {
		result = "failure"
	}
	attrs := metric.WithAttributes(
		attribute.String("result", result),
		attribute.String("error_kind", string(kind)),
	)
	m.stepsTotal.Add(ctx, 1, attrs)
	m.stepDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordReplan records an applied decision.
func (m *Metrics) RecordReplan(ctx context.Context, decision string) {
	if m == nil || !m.initialized {
		return
	}
	m.replansTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", decision)))
}

// RecordConfidence records a verification score.
func (m *Metrics) RecordConfidence(ctx context.Context, confidence float64, recommendation string) {
	if m == nil || !m.initialized {
		return
	}
	m.confidence.Record(ctx, confidence, metric.WithAttributes(attribute.String("recommendation", recommendation)))
}
