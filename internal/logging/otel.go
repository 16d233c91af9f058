package logging

import (
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// bridgeName is the instrumentation scope of log records sent through the
// otel bridge.
const bridgeName = "github.com/fyrsmithlabs/nbpilot"

var errNoOutput = errors.New("at least one output must be enabled and available")

// newCore builds the stdout and otel cores. The otel core is skipped when
// no provider is available.
func newCore(cfg *Config, out io.Writer, level zap.AtomicLevel, provider log.LoggerProvider) (zapcore.Core, error) {
	cores := make([]zapcore.Core, 0, 2)

	if cfg.Output.Stdout {
		encoder, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			return nil, fmt.Errorf("creating redacting encoder: %w", err)
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(out), level))
	}

	if cfg.Output.OTEL && provider != nil {
		bridge := otelzap.NewCore(bridgeName, otelzap.WithLoggerProvider(provider))
		cores = append(cores, &filterCore{Core: bridge, allow: level.Enabled})
	}

	switch len(cores) {
	case 0:
		return nil, errNoOutput
	case 1:
		return newSampledCore(cores[0], cfg.Sampling), nil
	default:
		return newSampledCore(zapcore.NewTee(cores...), cfg.Sampling), nil
	}
}
