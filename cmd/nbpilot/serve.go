package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nbpilot/internal/config"
	nbhttp "github.com/fyrsmithlabs/nbpilot/internal/http"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the task API",
		Long: `Serve the HTTP task API. Tasks submitted to POST /api/v1/tasks run
against the configured kernel; progress is logged and, when NATS is
enabled, published under the configured subject prefix.

Speed and log level are reloaded when the config file changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

// serve runs the API until ctx is cancelled, then shuts down within the
// configured timeout.
func serve(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	logger := a.logger.Underlying()

	srv, err := nbhttp.NewServer(a.orchestrator, a.kernel, logger,
		&nbhttp.Config{Host: cfg.Server.Host, Port: cfg.Server.Port},
		nbhttp.WithProgressSink(a.sink()),
		nbhttp.WithCheckpoints(a.orchestrator.Checkpoints()),
		nbhttp.WithMetrics(nbhttp.NewHTTPMetrics(logger)),
	)
	if err != nil {
		_ = a.Close(ctx)
		return fmt.Errorf("failed to create http server: %w", err)
	}

	if cfg.Server.WatchConfig {
		w, err := config.NewWatcher(configPath, cfg, a.applyConfig, config.WithWatcherLogger(logger))
		if err != nil {
			logger.Warn("config watching disabled", zap.Error(err))
		} else if err := w.Start(ctx); err != nil {
			logger.Warn("config watching disabled", zap.Error(err))
		} else {
			defer w.Stop()
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err = <-errCh:
		if err != nil {
			err = fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout.Duration()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("http shutdown incomplete", zap.Error(serr))
	}
	if cerr := a.Close(shutdownCtx); cerr != nil {
		logger.Warn("shutdown incomplete", zap.Error(cerr))
	}
	return err
}
