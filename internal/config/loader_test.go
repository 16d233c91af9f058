package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/nbpilot/internal/orchestrator"
	"github.com/fyrsmithlabs/nbpilot/internal/reasoning"
)

// setupTestHome points HOME at a temp dir and returns the nbpilot config dir.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "nbpilot")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	return dir
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_YAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `
server:
  port: 8088
  shutdown_timeout: 3s
reasoning:
  provider: ollama
  model: llama3.1
  temperature: 0.1
kernel:
  base_url: http://127.0.0.1:9999
  timeout: 45s
orchestrator:
  speed: fast
  step_timeout: 2m
  max_replan_attempts: 5
  reflect: false
context:
  max_tokens: 32000
  reserved_for_response: 4000
verifier:
  weights:
    output_match: 0.25
    variables_created: 0.25
    no_exceptions: 0.25
    execution_complete: 0.25
checkpoint:
  max_checkpoints: 4
safety:
  rules_file: /etc/nbpilot/rules.toml
nats:
  enabled: true
  url: nats://nats:4222
logging:
  level: debug
  format: console
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, reasoning.ProviderOllama, cfg.Reasoning.Provider)
	assert.Equal(t, "llama3.1", cfg.Reasoning.Model)
	assert.Equal(t, 0.1, cfg.Reasoning.Temperature)
	assert.Equal(t, "http://127.0.0.1:9999", cfg.Kernel.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.Kernel.Timeout)
	assert.Equal(t, orchestrator.SpeedFast, cfg.Orchestrator.Speed)
	assert.Equal(t, 2*time.Minute, cfg.Orchestrator.StepTimeout)
	assert.Equal(t, 5, cfg.Orchestrator.MaxReplanAttempts)
	assert.False(t, cfg.Orchestrator.Reflect)
	assert.True(t, cfg.Orchestrator.ValidateCode, "keys absent from the file keep their defaults")
	assert.Equal(t, 32000, cfg.Context.MaxTokens)
	assert.Equal(t, 0.25, cfg.Verifier.Weights.OutputMatch)
	assert.Equal(t, 4, cfg.Checkpoint.MaxCheckpoints)
	assert.Equal(t, "/etc/nbpilot/rules.toml", cfg.Safety.RulesFile)
	assert.True(t, cfg.Safety.DetectSecrets)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "nats://nats:4222", cfg.NATS.URL)
	assert.Equal(t, "nbpilot.progress", cfg.NATS.SubjectPrefix)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `
orchestrator:
  speed: slow
reasoning:
  model: gpt-4o
`)

	t.Setenv("NBPILOT_ORCHESTRATOR_SPEED", "manual")
	t.Setenv("NBPILOT_ORCHESTRATOR_STEP_TIMEOUT", "90s")
	t.Setenv("NBPILOT_REASONING_API_KEY", "sk-test")
	t.Setenv("NBPILOT_SERVER_PORT", "7000")
	t.Setenv("NBPILOT_TELEMETRY_METRICS__ENABLED", "false")
	t.Setenv("NBPILOT_VERIFIER_WEIGHTS__OUTPUT_MATCH", "0.30")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, orchestrator.SpeedManual, cfg.Orchestrator.Speed)
	assert.Equal(t, 90*time.Second, cfg.Orchestrator.StepTimeout)
	assert.Equal(t, "gpt-4o", cfg.Reasoning.Model)
	assert.Equal(t, "sk-test", cfg.Reasoning.APIKey)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.False(t, cfg.Telemetry.Metrics.Enabled)
	assert.Equal(t, 0.30, cfg.Verifier.Weights.OutputMatch)
}

func TestLoad_ListsReplaceDefaults(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `
logging:
  redaction:
    fields: [session_cookie]
  fields:
    env: staging
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"session_cookie"}, cfg.Logging.Redaction.Fields)
	assert.Equal(t, map[string]string{"env": "staging", "service": "nbpilot"}, cfg.Logging.Fields)
	assert.NotEmpty(t, cfg.Logging.Redaction.Patterns)
}

func TestLoad_DefaultPath(t *testing.T) {
	dir := setupTestHome(t)
	writeConfig(t, dir, "server:\n  port: 9191\n")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)

	p, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.yaml"), p)
}

func TestLoad_NumericDurationsAreSeconds(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `
server:
  shutdown_timeout: 5
nats:
  connect_timeout: 3
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, 3*time.Second, cfg.NATS.ConnectTimeout.Duration())

	path = writeConfig(t, dir, "server:\n  shutdown_timeout: 1.5\n")
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid duration "1.5"`)
}

func TestLoad_MissingFile(t *testing.T) {
	dir := setupTestHome(t)

	cfg, err := Load(filepath.Join(dir, "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Port, cfg.Server.Port)
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server: [port\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoad_ValidationFailure(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "orchestrator:\n  speed: warp\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
	assert.ErrorIs(t, err, orchestrator.ErrUnknownSpeed)
}

func TestLoad_PathNotAllowed(t *testing.T) {
	setupTestHome(t)
	outside := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(outside, []byte("server:\n  port: 1\n"), 0o600))

	_, err := Load(outside)
	assert.ErrorIs(t, err, ErrPathNotAllowed)
}

func TestLoad_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  port: 9090\n")
	require.NoError(t, os.Chmod(path, 0o644))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInsecurePermissions)

	require.NoError(t, os.Chmod(path, 0o400))
	_, err = Load(path)
	assert.NoError(t, err)
}

func TestLoad_FileTooLarge(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "# "+strings.Repeat("x", maxConfigFileSize)+"\n")

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestValidateConfigPath(t *testing.T) {
	dir := setupTestHome(t)

	tests := []struct {
		name string
		path string
		ok   bool
	}{
		{name: "config dir", path: filepath.Join(dir, "config.yaml"), ok: true},
		{name: "nested", path: filepath.Join(dir, "profiles", "dev.yaml"), ok: true},
		{name: "system dir", path: "/etc/nbpilot/config.yaml", ok: true},
		{name: "traversal", path: filepath.Join(dir, "..", "..", "..", "etc", "passwd")},
		{name: "sibling prefix", path: dir + "-evil/config.yaml"},
		{name: "other app", path: "/etc/other/config.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfigPath(tt.path)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrPathNotAllowed)
			}
		})
	}
}

func TestValidateConfigPath_Symlink(t *testing.T) {
	dir := setupTestHome(t)
	target := filepath.Join(t.TempDir(), "secret.yaml")
	require.NoError(t, os.WriteFile(target, []byte("x: 1\n"), 0o600))
	link := filepath.Join(dir, "link.yaml")
	require.NoError(t, os.Symlink(target, link))

	assert.ErrorIs(t, validateConfigPath(link), ErrPathNotAllowed)
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"NBPILOT_SERVER_PORT":                     "server.port",
		"NBPILOT_ORCHESTRATOR_STEP_TIMEOUT":       "orchestrator.step_timeout",
		"NBPILOT_REASONING_API_KEY":               "reasoning.api_key",
		"NBPILOT_TELEMETRY_METRICS__ENABLED":      "telemetry.metrics.enabled",
		"NBPILOT_VERIFIER_WEIGHTS__NO_EXCEPTIONS": "verifier.weights.no_exceptions",
		"NBPILOT_DEBUG":                           "debug",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}

func TestEnsureConfigDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	require.NoError(t, EnsureConfigDir())
	info, err := os.Stat(filepath.Join(home, ".config", "nbpilot"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
