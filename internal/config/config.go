// Package config loads nbpilot configuration from a YAML file and NBPILOT_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/nbpilot/internal/checkpoint"
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

// Config holds the complete nbpilot configuration.
type Config struct {
	Server       ServerConfig         `koanf:"server"`
	Reasoning    reasoning.Config     `koanf:"reasoning"`
	Kernel       kernel.Config        `koanf:"kernel"`
	Orchestrator orchestrator.Config  `koanf:"orchestrator"`
	Context      contextbudget.Config `koanf:"context"`
	Verifier     VerifierConfig       `koanf:"verifier"`
	Checkpoint   checkpoint.Config    `koanf:"checkpoint"`
	Safety       safety.Config        `koanf:"safety"`
	NATS         NATSConfig           `koanf:"nats"`
	Logging      logging.Config       `koanf:"logging"`
	Telemetry    telemetry.Config     `koanf:"telemetry"`
}

// ServerConfig holds HTTP API configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`

	// WatchConfig reloads the config file on change and applies the
	// orchestrator speed and log level to the running server.
	WatchConfig bool `koanf:"watch_config"`
}

// VerifierConfig holds state verifier configuration.
type VerifierConfig struct {
	Weights      verifier.Weights `koanf:"weights"`
	HistoryLimit int              `koanf:"history_limit"`
}

// NATSConfig holds the progress publisher configuration.
type NATSConfig struct {
	Enabled        bool     `koanf:"enabled"`
	URL            string   `koanf:"url"`
	SubjectPrefix  string   `koanf:"subject_prefix"`
	ConnectTimeout Duration `koanf:"connect_timeout"`
}

// Default returns the configuration used when neither the file nor the
// environment sets a value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            9090,
			ShutdownTimeout: Duration(10 * time.Second),
			WatchConfig:     true,
		},
		Reasoning:    *reasoning.DefaultConfig(),
		Kernel:       *kernel.DefaultConfig(),
		Orchestrator: *orchestrator.DefaultConfig(),
		Context:      *contextbudget.DefaultConfig(),
		Verifier: VerifierConfig{
			Weights:      verifier.DefaultWeights(),
			HistoryLimit: 100,
		},
		Checkpoint: *checkpoint.DefaultConfig(),
		Safety:     *safety.DefaultConfig(),
		NATS: NATSConfig{
			URL:            "nats://127.0.0.1:4222",
			SubjectPrefix:  progress.DefaultSubjectPrefix,
			ConnectTimeout: Duration(2 * time.Second),
		},
		Logging:   *logging.NewDefaultConfig(),
		Telemetry: *telemetry.NewDefaultConfig(),
	}
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	section := func(name string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		section("server", fmt.Errorf("port must be within 1-65535, got %d", c.Server.Port))
	}
	section("server", c.Server.ShutdownTimeout.Positive("shutdown_timeout"))
	section("reasoning", c.Reasoning.Validate())
	section("kernel", c.Kernel.Validate())
	section("orchestrator", c.Orchestrator.Validate())
	section("context", c.Context.Validate())
	section("verifier", c.Verifier.Weights.Validate())
	if c.Verifier.HistoryLimit <= 0 {
		section("verifier", errors.New("history_limit must be positive"))
	}
	section("checkpoint", c.Checkpoint.Validate())
	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			section("nats", errors.New("url is required when enabled"))
		}
		if c.NATS.SubjectPrefix == "" {
			section("nats", errors.New("subject_prefix is required when enabled"))
		}
		section("nats", c.NATS.ConnectTimeout.Positive("connect_timeout"))
	}
	section("logging", c.Logging.Validate())
	section("telemetry", c.Telemetry.Validate())

	return errors.Join(errs...)
}
