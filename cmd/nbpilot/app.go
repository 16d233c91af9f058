package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nbpilot/internal/checkpoint"
	"github.com/fyrsmithlabs/nbpilot/internal/codeanalysis"
	"github.com/fyrsmithlabs/nbpilot/internal/config"
	"github.com/fyrsmithlabs/nbpilot/internal/contextbudget"
	"github.com/fyrsmithlabs/nbpilot/internal/kernel"
	"github.com/fyrsmithlabs/nbpilot/internal/logging"
	"github.com/fyrsmithlabs/nbpilot/internal/orchestrator"
	"github.com/fyrsmithlabs/nbpilot/internal/progress"
	"github.com/fyrsmithlabs/nbpilot/internal/reasoning"
	"github.com/fyrsmithlabs/nbpilot/internal/safety"
	"github.com/fyrsmithlabs/nbpilot/internal/telemetry"
	"github.com/fyrsmithlabs/nbpilot/internal/verifier"
)

// app holds the wired components shared by serve and run.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry

	kernel       *kernel.Client
	orchestrator *orchestrator.Orchestrator
	natsConn     *nats.Conn
	publisher    *progress.NATSPublisher
}

// newApp builds every component from cfg. Close releases what it opened.
//
//  1. Telemetry and logging
//  2. Reasoning and kernel clients
//  3. Safety, context budget, verifier and checkpoints
//  4. Orchestrator
//  5. NATS progress publisher, when enabled
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	// Bootstrap logger for telemetry setup; replaced once the bridge exists.
	boot, err := logging.NewLogger(&cfg.Logging, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.telemetry, err = telemetry.New(ctx, &cfg.Telemetry, telemetry.WithLogger(boot.Underlying()))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a.logger, err = logging.NewLogger(&cfg.Logging, a.telemetry.LoggerProvider())
	if err != nil {
		_ = a.telemetry.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	zl := a.logger.Underlying()

	if err := a.initComponents(zl); err != nil {
		a.Close(ctx)
		return nil, err
	}

	if cfg.NATS.Enabled {
		if err := a.connectNATS(zl); err != nil {
			a.Close(ctx)
			return nil, err
		}
	}

	zl.Info("nbpilot initialized",
		zap.String("version", version),
		zap.String("reasoning.provider", string(cfg.Reasoning.Provider)),
		zap.String("reasoning.model", cfg.Reasoning.Model),
		zap.String("kernel.url", cfg.Kernel.BaseURL),
		zap.String("speed", string(cfg.Orchestrator.Speed)),
		zap.Bool("nats", a.natsConn != nil),
		zap.Bool("telemetry", a.telemetry.IsEnabled()))
	return a, nil
}

func (a *app) initComponents(zl *zap.Logger) error {
	cfg := a.cfg

	model, err := reasoning.NewModel(&cfg.Reasoning)
	if err != nil {
		return fmt.Errorf("failed to create reasoning model: %w", err)
	}
	reasoner, err := reasoning.New(model, &cfg.Reasoning, reasoning.WithLogger(zl))
	if err != nil {
		return fmt.Errorf("failed to create reasoning client: %w", err)
	}

	a.kernel, err = kernel.New(&cfg.Kernel, kernel.WithLogger(zl))
	if err != nil {
		return fmt.Errorf("failed to create kernel client: %w", err)
	}

	checker, err := safety.New(&cfg.Safety, safety.WithLogger(zl))
	if err != nil {
		return fmt.Errorf("failed to create safety checker: %w", err)
	}

	meter := a.telemetry.Meter(orchestrator.InstrumentationName)

	budgetMetrics, err := contextbudget.NewMetrics(meter)
	if err != nil {
		return fmt.Errorf("failed to create context metrics: %w", err)
	}
	budgetOpts := []contextbudget.Option{
		contextbudget.WithLogger(zl),
		contextbudget.WithMetrics(budgetMetrics),
	}
	if cfg.Safety.RedactContext {
		budgetOpts = append(budgetOpts, contextbudget.WithRedactor(checker))
	}
	budget, err := contextbudget.NewManager(&cfg.Context, budgetOpts...)
	if err != nil {
		return fmt.Errorf("failed to create context manager: %w", err)
	}

	v, err := verifier.New(
		verifier.WithWeights(cfg.Verifier.Weights),
		verifier.WithHistoryLimit(cfg.Verifier.HistoryLimit),
		verifier.WithLogger(zl),
	)
	if err != nil {
		return fmt.Errorf("failed to create verifier: %w", err)
	}

	checkpoints, err := checkpoint.NewManager(&cfg.Checkpoint, zl)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint manager: %w", err)
	}

	metrics, err := orchestrator.NewMetrics(meter)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator metrics: %w", err)
	}

	a.orchestrator, err = orchestrator.New(reasoner, a.kernel,
		orchestrator.WithConfig(&cfg.Orchestrator),
		orchestrator.WithLogger(zl),
		orchestrator.WithMetrics(metrics),
		orchestrator.WithTracer(a.telemetry.Tracer(orchestrator.InstrumentationName)),
		orchestrator.WithSafetyChecker(checker),
		orchestrator.WithAnalyzer(codeanalysis.NewRegex()),
		orchestrator.WithContextManager(budget),
		orchestrator.WithVerifier(v),
		orchestrator.WithCheckpointManager(checkpoints),
	)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	return nil
}

func (a *app) connectNATS(zl *zap.Logger) error {
	nc, err := nats.Connect(a.cfg.NATS.URL,
		nats.Name("nbpilot"),
		nats.Timeout(a.cfg.NATS.ConnectTimeout.Duration()),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", a.cfg.NATS.URL, err)
	}
	a.natsConn = nc
	a.publisher = progress.NewNATSPublisher(nc,
		progress.WithSubjectPrefix(a.cfg.NATS.SubjectPrefix),
		progress.WithNATSLogger(zl),
	)
	zl.Info("connected to NATS", zap.String("url", a.cfg.NATS.URL))
	return nil
}

// sink returns the progress sink for tasks, combined with extra sinks.
func (a *app) sink(extra ...orchestrator.ProgressSink) orchestrator.ProgressSink {
	sinks := []orchestrator.ProgressSink{progress.LogSink(a.logger.Underlying())}
	if a.publisher != nil {
		sinks = append(sinks, a.publisher.Sink())
	}
	return progress.FanOut(append(sinks, extra...)...)
}

// applyConfig applies the settings that can change while running.
func (a *app) applyConfig(prev, next *config.Config) {
	zl := a.logger.Underlying()
	if next.Orchestrator.Speed != prev.Orchestrator.Speed {
		if err := a.orchestrator.SetSpeed(next.Orchestrator.Speed); err != nil {
			zl.Warn("failed to apply speed", zap.Error(err))
		} else {
			zl.Info("speed changed", zap.String("speed", string(next.Orchestrator.Speed)))
		}
	}
	if next.Logging.Level != prev.Logging.Level {
		level, err := logging.LevelFromString(next.Logging.Level)
		if err != nil {
			zl.Warn("failed to apply log level", zap.Error(err))
			return
		}
		a.logger.SetLevel(level)
		zl.Info("log level changed", zap.String("level", next.Logging.Level))
	}
}

// Close shuts down NATS and telemetry and flushes the logger.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.natsConn != nil {
		if err := a.natsConn.Drain(); err != nil {
			errs = append(errs, fmt.Errorf("draining NATS: %w", err))
		}
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down telemetry: %w", err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync() // Best-effort sync on shutdown
	}
	return errors.Join(errs...)
}
