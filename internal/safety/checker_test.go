package safety

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDetector struct {
	secrets map[string]string // value -> rule id
}

func (f fakeDetector) DetectSecrets(text string) []Secret {
	var out []Secret
	for value, rule := range f.secrets {
		if strings.Contains(text, value) {
			out = append(out, Secret{RuleID: rule, Line: 1, Value: value})
		}
	}
	return out
}

func newChecker(t *testing.T, cfg *Config, opts ...Option) *Checker {
	t.Helper()
	if cfg == nil {
		cfg = &Config{}
	}
	c, err := New(cfg, opts...)
	require.NoError(t, err)
	return c
}

func TestCheckSafety_DefaultRules(t *testing.T) {
	c := newChecker(t, nil)

	tests := []struct {
		name    string
		code    string
		blocked string
	}{
		{name: "plain pandas", code: "import pandas as pd\ndf = pd.read_csv('data.csv')\ndf.describe()"},
		{name: "rm of a subdirectory", code: "!rm -rf /tmp/scratch"},
		{name: "rmtree of a subdirectory", code: "shutil.rmtree('/tmp/out')"},
		{name: "subprocess without shell", code: "subprocess.run(['ls', '-l'])"},
		{name: "rm -rf root", code: "!rm -rf /", blocked: "recursive deletion of the filesystem root"},
		{name: "rm -fr root glob", code: "!rm -fr /*", blocked: "recursive deletion of the filesystem root"},
		{name: "os.system", code: "import os\nos.system('ls')", blocked: "shell execution via os.system"},
		{name: "shell=True", code: "subprocess.run('ls | wc -l',\n    shell=True)", blocked: "subprocess call with shell=True"},
		{name: "rmtree root", code: `shutil.rmtree("/")`, blocked: "shutil.rmtree on the filesystem root"},
		{name: "bash fork bomb", code: "!:(){ :|:& };:", blocked: "fork bomb"},
		{name: "python fork bomb", code: "while True: os.fork()", blocked: "fork bomb"},
		{name: "eval input", code: "x = eval(input('expr? '))", blocked: "evaluation of user input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			safe, blocked := c.CheckSafety(tt.code)
			if tt.blocked == "" {
				assert.True(t, safe, blocked)
				assert.Empty(t, blocked)
				return
			}
			assert.False(t, safe)
			assert.Contains(t, blocked, tt.blocked)
		})
	}
}

func TestCheckSafety_ReportsEachRuleOnce(t *testing.T) {
	c := newChecker(t, nil)

	safe, blocked := c.CheckSafety("os.system('a')\nos.system('b')\neval(input())")
	assert.False(t, safe)
	assert.Equal(t, []string{"shell execution via os.system", "evaluation of user input"}, blocked)
}

func TestCheckSafety_Secrets(t *testing.T) {
	c := newChecker(t, &Config{DetectSecrets: true}, WithSecretDetector(fakeDetector{secrets: map[string]string{
		"sk-live-abc123": "openai-api-key",
	}}))

	safe, blocked := c.CheckSafety("client = OpenAI(api_key='sk-live-abc123')")
	assert.False(t, safe)
	assert.Equal(t, []string{"hard-coded credential (openai-api-key) on line 1"}, blocked)

	safe, _ = c.CheckSafety("client = OpenAI(api_key=os.environ['KEY'])")
	assert.True(t, safe)
}

func TestRedact(t *testing.T) {
	c := newChecker(t, &Config{DetectSecrets: true}, WithSecretDetector(fakeDetector{secrets: map[string]string{
		"hunter2hunter2": "password",
	}}))

	assert.Equal(t, "pw = '[REDACTED]'\nprint('[REDACTED]')", c.Redact("pw = 'hunter2hunter2'\nprint('hunter2hunter2')"))
	assert.Equal(t, "nothing here", c.Redact("nothing here"))
	assert.Equal(t, "", c.Redact(""))
}

func TestRedact_NoDetector(t *testing.T) {
	c := newChecker(t, nil)
	assert.Equal(t, "token = 'ghp_x'", c.Redact("token = 'ghp_x'"))
}

func TestGitleaksDetector(t *testing.T) {
	d, err := NewGitleaksDetector()
	require.NoError(t, err)

	assert.Empty(t, d.DetectSecrets("import numpy as np\nx = np.arange(10)\n"))

	token := "ghp_" + "aB3dE5fG7hJ9kL1mN2pQ4rS6tU8vW0xY2zA4"
	secrets := d.DetectSecrets("token = \"" + token + "\"\n")
	require.NotEmpty(t, secrets)
	assert.Contains(t, secrets[0].Value, "ghp_")

	c := newChecker(t, &Config{DetectSecrets: true}, WithSecretDetector(d))
	assert.NotContains(t, c.Redact("token = \""+token+"\""), token)
}

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRulesFile(t *testing.T) {
	path := writeRules(t, `
[[blocked]]
id = "internal-network"
description = "request to the internal network"
pattern = 'requests\.get\(\s*.http://10\.'

[allowlist]
regexes = ['os\.system\(.clear.\)']
`)
	c := newChecker(t, &Config{RulesFile: path})

	safe, blocked := c.CheckSafety("requests.get('http://10.0.0.1/admin')")
	assert.False(t, safe)
	assert.Equal(t, []string{"request to the internal network"}, blocked)

	safe, _ = c.CheckSafety("os.system('clear')")
	assert.True(t, safe)

	safe, _ = c.CheckSafety("os.system('clear')\nos.system('rm x')")
	assert.False(t, safe)
}

func TestLoadRulesFile_Errors(t *testing.T) {
	rf, err := LoadRulesFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Empty(t, rf.Blocked)

	_, err = LoadRulesFile(writeRules(t, "[[blocked]\nid ="))
	assert.ErrorIs(t, err, ErrInvalidTOML)

	_, err = LoadRulesFile(writeRules(t, "[[blocked]]\nid = \"bad\"\npattern = '(unclosed'\n"))
	assert.ErrorIs(t, err, ErrInvalidRegex)

	_, err = LoadRulesFile(writeRules(t, "[allowlist]\nregexes = ['[z-a]']\n"))
	assert.ErrorIs(t, err, ErrInvalidRegex)
}

func TestNew_DuplicateRule(t *testing.T) {
	path := writeRules(t, "[[blocked]]\nid = \"os-system\"\ndescription = \"dup\"\npattern = 'x'\n")
	_, err := New(&Config{RulesFile: path})
	assert.ErrorIs(t, err, ErrDuplicateRule)
}

func TestWithRules(t *testing.T) {
	c := newChecker(t, nil, WithRules(Rule{ID: "pickle", Description: "unpickling untrusted data", Pattern: `pickle\.loads?\(`}))

	safe, blocked := c.CheckSafety("obj = pickle.load(f)")
	assert.False(t, safe)
	assert.Equal(t, []string{"unpickling untrusted data"}, blocked)
}

func TestLineAt(t *testing.T) {
	text := "a = 1\nb = 2\nc = 3"
	assert.Equal(t, "a = 1", lineAt(text, 0))
	assert.Equal(t, "b = 2", lineAt(text, 8))
	assert.Equal(t, "c = 3", lineAt(text, len(text)-1))
}
