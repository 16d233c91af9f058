package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/nbpilot/internal/config"
	"github.com/fyrsmithlabs/nbpilot/internal/orchestrator"
	"github.com/fyrsmithlabs/nbpilot/internal/plan"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath = ""
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "nbpilot")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "nbpilot by Fyrsmith Labs")
	assert.Contains(t, out, "Version:    dev")
}

func TestConfigValidateCmd(t *testing.T) {
	path := writeTestConfig(t, "orchestrator:\n  speed: fast\n")

	out, err := execute(t, "config", "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "configuration is valid")

	require.NoError(t, os.WriteFile(path, []byte("orchestrator:\n  speed: warp\n"), 0o600))
	_, err = execute(t, "config", "validate", "--config", path)
	assert.ErrorIs(t, err, orchestrator.ErrUnknownSpeed)
}

func TestConfigInitCmd(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	out, err := execute(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(home, ".config", "nbpilot", "config.yaml"))
	assert.DirExists(t, filepath.Join(home, ".config", "nbpilot"))
}

func TestRunCmd_RejectsManualSpeed(t *testing.T) {
	writeTestConfig(t, "")
	_, err := execute(t, "run", "--speed", "manual", "count rows")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "use serve")

	_, err = execute(t, "run", "--speed", "warp", "count rows")
	assert.ErrorIs(t, err, orchestrator.ErrUnknownSpeed)
}

func TestRunCmd_RejectsManualSpeedFromConfig(t *testing.T) {
	path := writeTestConfig(t, "orchestrator:\n  speed: manual\n")
	_, err := execute(t, "run", "--config", path, "count rows")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "use serve")

	writeTestConfig(t, "")
	t.Setenv("NBPILOT_ORCHESTRATOR_SPEED", "manual")
	_, err = execute(t, "run", "count rows")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "use serve")
}

func testAppConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	cfg := config.Default()
	cfg.Reasoning.APIKey = "sk-test"
	cfg.Logging.Output.Stdout = true
	return cfg
}

func TestNewApp(t *testing.T) {
	cfg := testAppConfig(t)

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	assert.NotNil(t, a.orchestrator)
	assert.NotNil(t, a.kernel)
	assert.Nil(t, a.natsConn)
	assert.NotNil(t, a.sink())
	assert.Equal(t, cfg.Orchestrator.Speed, a.orchestrator.Speed())
	assert.NotNil(t, a.orchestrator.Checkpoints())
}

func TestNewApp_ReasoningError(t *testing.T) {
	cfg := testAppConfig(t)
	cfg.Reasoning.APIKey = ""

	_, err := newApp(context.Background(), cfg)
	assert.Error(t, err)
}

func TestApplyConfig(t *testing.T) {
	cfg := testAppConfig(t)
	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	next := *cfg
	next.Orchestrator.Speed = orchestrator.SpeedFast
	next.Logging.Level = "debug"
	a.applyConfig(cfg, &next)

	assert.Equal(t, orchestrator.SpeedFast, a.orchestrator.Speed())
	assert.Equal(t, zapcore.DebugLevel, a.logger.Level())

	bad := next
	bad.Logging.Level = "loud"
	a.applyConfig(&next, &bad)
	assert.Equal(t, zapcore.DebugLevel, a.logger.Level())
}

func TestPrintEvent(t *testing.T) {
	var buf bytes.Buffer

	printEvent(&buf, orchestrator.Event{Phase: orchestrator.PhasePlanned, Plan: &plan.Plan{Steps: []plan.Step{
		{Number: 1, Description: "load data"},
		{Number: 2, Description: "plot"},
	}}})
	printEvent(&buf, orchestrator.Event{Phase: orchestrator.PhaseExecuting, Step: 1, TotalSteps: 2, Message: "load data"})
	printEvent(&buf, orchestrator.Event{Phase: orchestrator.PhaseReplanning, Attempt: 1, Message: "NameError"})
	printEvent(&buf, orchestrator.Event{Phase: orchestrator.PhaseVerifying})

	assert.Equal(t, "plan: 2 steps\n  1. load data\n  2. plot\n[1/2] load data\nreplanning (attempt 1): NameError\n", buf.String())
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	printResult(&buf, &orchestrator.Result{
		Status:      orchestrator.StatusCompleted,
		StepResults: make([]plan.StepResult, 3),
		Replans:     1,
		FinalAnswer: "42 rows",
		StartedAt:   start,
		CompletedAt: start.Add(1500 * time.Millisecond),
	})
	assert.Equal(t, "\nstatus: completed (3 steps, 1 replans, 1.5s)\nanswer: 42 rows\n", buf.String())
}
