package safety

import (
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
)

// Rule is a blocked code pattern.
type Rule struct {
	ID          string `toml:"id"`
	Description string `toml:"description"`
	Pattern     string `toml:"pattern"`
}

type compiledRule struct {
	Rule
	re *regexp.Regexp
}

// DefaultRules returns the built-in blocked patterns.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "rm-rf-root",
			Description: "recursive deletion of the filesystem root",
			Pattern:     `\brm\s+-[a-zA-Z]*(?:rf|fr)[a-zA-Z]*\s+/(?:\*|\s|$|["'])`,
		},
		{
			ID:          "os-system",
			Description: "shell execution via os.system",
			Pattern:     `\bos\.system\s*\(`,
		},
		{
			ID:          "subprocess-shell",
			Description: "subprocess call with shell=True",
			Pattern:     `\bsubprocess\.\w+\((?s:[^)]*?)shell\s*=\s*True`,
		},
		{
			ID:          "rmtree-root",
			Description: "shutil.rmtree on the filesystem root",
			Pattern:     `\bshutil\.rmtree\(\s*["']/["']\s*\)`,
		},
		{
			ID:          "fork-bomb",
			Description: "fork bomb",
			Pattern:     `:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:|while\s+True\s*:\s*os\.fork\(\)`,
		},
		{
			ID:          "eval-input",
			Description: "evaluation of user input",
			Pattern:     `\b(?:eval|exec)\s*\(\s*input\s*\(`,
		},
	}
}

// RulesFile is the TOML layout of a rules file.
type RulesFile struct {
	Blocked   []Rule `toml:"blocked"`
	Allowlist struct {
		Regexes []string `toml:"regexes"`
	} `toml:"allowlist"`
}

// LoadRulesFile reads and validates a rules file. A missing file yields
// an empty RulesFile.
func LoadRulesFile(path string) (*RulesFile, error) {
	var rf RulesFile
	if path == "" {
		return &rf, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return &rf, nil
		}
		return nil, err
	}
	if _, err := toml.DecodeFile(path, &rf); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}

	// Validate patterns (fail-fast)
	for _, r := range rf.Blocked {
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return nil, fmt.Errorf("%w: rule %q in %s: %v", ErrInvalidRegex, r.ID, path, err)
		}
	}
	for _, pattern := range rf.Allowlist.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: allowlist pattern '%s' in %s: %v", ErrInvalidRegex, pattern, path, err)
		}
	}
	return &rf, nil
}

func compileRules(rules []Rule) ([]compiledRule, error) {
	seen := make(map[string]struct{}, len(rules))
	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if _, dup := seen[r.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRule, r.ID)
		}
		seen[r.ID] = struct{}{}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %q: %v", ErrInvalidRegex, r.ID, err)
		}
		out = append(out, compiledRule{Rule: r, re: re})
	}
	return out, nil
}
