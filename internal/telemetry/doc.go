// Package telemetry sets up OpenTelemetry tracing and metrics for nbpilot.
//
// Spans and metrics are exported over OTLP (gRPC by default, or
// http/protobuf) to a collector:
//
//	tel, err := telemetry.New(ctx, cfg, telemetry.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	metrics, _ := orchestrator.NewMetrics(tel.Meter(orchestrator.InstrumentationName))
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc
//	  sampling:
//	    rate: 1.0
//	  metrics:
//	    enabled: true
//	    export_interval: 15s
//
// Telemetry failures do not stop the process. A provider that cannot be
// created is replaced by the global no-op provider and Health reports
// the instance as degraded.
//
// Tests use NewTestTelemetry, which records spans in memory and reads
// metrics through a manual reader.
package telemetry
