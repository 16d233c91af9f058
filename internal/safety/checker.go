package safety

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nbpilot/internal/contextbudget"
	"github.com/fyrsmithlabs/nbpilot/internal/orchestrator"
)

// Secret is a credential found in text.
type Secret struct {
	RuleID      string
	Description string
	Line        int
	Value       string
}

// SecretDetector finds credentials in text.
type SecretDetector interface {
	DetectSecrets(text string) []Secret
}

// gitleaksDetector wraps the gitleaks default ruleset. The detector keeps
// per-scan state, so scans are serialized.
type gitleaksDetector struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// NewGitleaksDetector returns a SecretDetector over the gitleaks defaults.
func NewGitleaksDetector() (SecretDetector, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating gitleaks detector: %w", err)
	}
	return &gitleaksDetector{detector: d}, nil
}

func (g *gitleaksDetector) DetectSecrets(text string) []Secret {
	g.mu.Lock()
	findings := g.detector.DetectString(text)
	g.mu.Unlock()

	out := make([]Secret, 0, len(findings))
	for _, f := range findings {
		if f.Secret == "" {
			continue
		}
		out = append(out, Secret{
			RuleID:      f.RuleID,
			Description: f.Description,
			Line:        f.StartLine,
			Value:       f.Secret,
		})
	}
	return out
}

// Checker implements orchestrator.SafetyChecker and contextbudget.Redactor.
type Checker struct {
	rules     []compiledRule
	allowlist []*regexp.Regexp
	secrets   SecretDetector
	logger    *zap.Logger
}

var (
	_ orchestrator.SafetyChecker = (*Checker)(nil)
	_ contextbudget.Redactor     = (*Checker)(nil)
)

// Option configures a Checker.
type Option func(*Checker)

// WithLogger sets the zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Checker) {
		c.logger = l
	}
}

// WithSecretDetector replaces the gitleaks detector.
func WithSecretDetector(d SecretDetector) Option {
	return func(c *Checker) {
		c.secrets = d
	}
}

// WithRules appends blocked rules to the defaults.
func WithRules(rules ...Rule) Option {
	return func(c *Checker) {
		compiled, err := compileRules(rules)
		if err != nil {
			c.logger.Warn("ignoring invalid rules", zap.Error(err))
			return
		}
		c.rules = append(c.rules, compiled...)
	}
}

// New creates a Checker from cfg. cfg may be nil for defaults.
func New(cfg *Config, opts ...Option) (*Checker, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	rf, err := LoadRulesFile(cfg.RulesFile)
	if err != nil {
		return nil, err
	}
	rules, err := compileRules(append(DefaultRules(), rf.Blocked...))
	if err != nil {
		return nil, err
	}

	c := &Checker{rules: rules, logger: zap.NewNop()}
	for _, pattern := range rf.Allowlist.Regexes {
		c.allowlist = append(c.allowlist, regexp.MustCompile(pattern))
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("safety")

	if cfg.DetectSecrets && c.secrets == nil {
		d, err := NewGitleaksDetector()
		if err != nil {
			return nil, err
		}
		c.secrets = d
	}
	return c, nil
}

// CheckSafety reports whether code may run and, if not, the description of
// every blocked pattern and credential it contains.
func (c *Checker) CheckSafety(code string) (bool, []string) {
	var blocked []string
	for _, r := range c.rules {
		for _, loc := range r.re.FindAllStringIndex(code, -1) {
			if c.allowed(lineAt(code, loc[0])) {
				continue
			}
			blocked = append(blocked, r.Description)
			break
		}
	}

	for _, s := range c.detectSecrets(code) {
		blocked = append(blocked, fmt.Sprintf("hard-coded credential (%s) on line %d", s.RuleID, s.Line))
	}

	if len(blocked) > 0 {
		c.logger.Info("code blocked", zap.Strings("reasons", blocked))
		return false, blocked
	}
	return true, nil
}

// Redact replaces every detected secret in text with [REDACTED].
func (c *Checker) Redact(text string) string {
	secrets := c.detectSecrets(text)
	if len(secrets) == 0 {
		return text
	}
	for _, s := range secrets {
		text = strings.ReplaceAll(text, s.Value, redactionMarker)
	}
	c.logger.Debug("secrets redacted", zap.Int("count", len(secrets)))
	return text
}

const redactionMarker = "[REDACTED]"

func (c *Checker) detectSecrets(text string) []Secret {
	if c.secrets == nil || text == "" {
		return nil
	}
	var out []Secret
	for _, s := range c.secrets.DetectSecrets(text) {
		if c.allowed(s.Value) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (c *Checker) allowed(text string) bool {
	for _, re := range c.allowlist {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// lineAt returns the line of text containing offset.
func lineAt(text string, offset int) string {
	start := strings.LastIndexByte(text[:offset], '\n') + 1
	end := strings.IndexByte(text[offset:], '\n')
	if end < 0 {
		return text[start:]
	}
	return text[start : offset+end]
}
