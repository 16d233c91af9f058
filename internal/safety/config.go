package safety

// Config configures the checker.
type Config struct {
	// DetectSecrets blocks code containing hard-coded credentials (default: true)
	DetectSecrets bool `json:"detect_secrets" koanf:"detect_secrets"`

	// RedactContext redacts secrets from notebook context before it is
	// sent to the reasoning service (default: true)
	RedactContext bool `json:"redact_context" koanf:"redact_context"`

	// RulesFile is an optional TOML file with extra blocked patterns and
	// allowlist regexes. A missing file is ignored.
	RulesFile string `json:"rules_file,omitempty" koanf:"rules_file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DetectSecrets: true,
		RedactContext: true,
	}
}
