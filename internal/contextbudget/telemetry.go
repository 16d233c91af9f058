package contextbudget

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName is the name used for OTEL instrumentation.
const InstrumentationName = "github.com/fyrsmithlabs/nbpilot/internal/contextbudget"

// Metrics provides OpenTelemetry metrics for context budgeting.
type Metrics struct {
	pruneTotal       metric.Int64Counter
	cellsRemoved     metric.Int64Counter
	cellsTruncated   metric.Int64Counter
	usageRatio       metric.Float64Histogram
	tokensPerRequest metric.Int64Histogram

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

	m.pruneTotal, err = meter.Int64Counter(
		"contextbudget.prune.total",
		metric.WithDescription("Number of prune runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	m.cellsRemoved, err = meter.Int64Counter(
		"contextbudget.cells.removed.total",
		metric.WithDescription("Cells dropped from the context"),
		metric.WithUnit("{cell}"),
	)
	if err != nil {
		return nil, err
	}

	m.cellsTruncated, err = meter.Int64Counter(
		"contextbudget.cells.truncated.total",
		metric.WithDescription("Cells truncated to fit the context"),
		metric.WithUnit("{cell}"),
	)
	if err != nil {
		return nil, err
	}

	m.usageRatio, err = meter.Float64Histogram(
		"contextbudget.usage.ratio",
		metric.WithDescription("Fraction of the usable budget consumed before pruning"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 0.75, 0.8, 0.9, 1, 1.5, 2),
	)
	if err != nil {
		return nil, err
	}

	m.tokensPerRequest, err = meter.Int64Histogram(
		"contextbudget.request.tokens",
		metric.WithDescription("Estimated tokens sent per reasoning request"),
		metric.WithUnit("{token}"),
		metric.WithExplicitBucketBoundaries(500, 1000, 4000, 8000, 16000, 32000, 64000, 128000),
	)
	if err != nil {
		return nil, err
	}

	m.initialized = true
	return m, nil
}

// RecordUsage records the usage observed for one request.
func (m *Metrics) RecordUsage(ctx context.Context, usage UsageStats) {
	if m == nil || !m.initialized {
		return
	}
	m.usageRatio.Record(ctx, usage.UsagePercent)
	m.tokensPerRequest.Record(ctx, int64(usage.TotalTokens))
}

// RecordPrune records a prune run.
func (m *Metrics) RecordPrune(ctx context.Context, report PruneReport, overTarget bool) {
	if m == nil || !m.initialized {
		return
	}
	m.pruneTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("over_target", overTarget)))
	m.cellsRemoved.Add(ctx, int64(report.RemovedCells))
	m.cellsTruncated.Add(ctx, int64(report.TruncatedCells))
}
