// Package verifier scores how well a step's observed post-state matches
// what the step was expected to produce.
package verifier

import "time"

// ExecutionStatus is the kernel's verdict on a step's execution.
type ExecutionStatus string

const (
	StatusOK    ExecutionStatus = "ok"
	StatusError ExecutionStatus = "error"
)

// ExecutionResult is what the kernel reported for a step.
type ExecutionResult struct {
	Status     ExecutionStatus `json:"status"`
	Stdout     string          `json:"stdout,omitempty"`
	Result     string          `json:"result,omitempty"`
	ErrorName  string          `json:"error_name,omitempty"`
	ErrorValue string          `json:"error_value,omitempty"`
	Traceback  string          `json:"traceback,omitempty"`
}

// StateExpectation is what a step should leave behind.
type StateExpectation struct {
	Description            string   `json:"description,omitempty"`
	ExpectedVariables      []string `json:"expected_variables,omitempty"`
	ExpectedOutputPatterns []string `json:"expected_output_patterns,omitempty"`
}

// Context is the input to one verification.
type Context struct {
	StepNumber        int
	Execution         ExecutionResult
	Expectation       *StateExpectation
	PreviousVariables []string
	CurrentVariables  []string
}

// MismatchType classifies a mismatch.
type MismatchType string

const (
	MismatchVariableMissing MismatchType = "variable_missing"
	MismatchOutput          MismatchType = "output_mismatch"
	MismatchExecutionError  MismatchType = "execution_error"
	MismatchImportFailed    MismatchType = "import_failed"
)

// Severity of a mismatch.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// Mismatch is one difference between expected and actual state.
type Mismatch struct {
	Type        MismatchType `json:"type"`
	Severity    Severity     `json:"severity"`
	Description string       `json:"description"`
	Expected    string       `json:"expected,omitempty"`
	Actual      string       `json:"actual,omitempty"`
	Suggestion  string       `json:"suggestion,omitempty"`
}

// Recommendation is the next action suggested by a confidence score.
type Recommendation string

const (
	RecommendProceed  Recommendation = "proceed"
	RecommendWarning  Recommendation = "warning"
	RecommendReplan   Recommendation = "replan"
	RecommendEscalate Recommendation = "escalate"
)

// Factors are the per-dimension scores, each in [0,1].
type Factors struct {
	OutputMatch       float64 `json:"output_match"`
	VariablesCreated  float64 `json:"variables_created"`
	NoExceptions      float64 `json:"no_exceptions"`
	ExecutionComplete float64 `json:"execution_complete"`
}

// Result is the outcome of one verification.
type Result struct {
	StepNumber     int            `json:"step_number"`
	Valid          bool           `json:"valid"`
	Confidence     float64        `json:"confidence"`
	Factors        Factors        `json:"factors"`
	Mismatches     []Mismatch     `json:"mismatches"`
	Recommendation Recommendation `json:"recommendation"`
	VerifiedAt     time.Time      `json:"verified_at"`
}

// HasCritical reports whether any mismatch is critical.
func (r *Result) HasCritical() bool {
	for _, m := range r.Mismatches {
		if m.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// Trend is the direction of recent confidence scores.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
)

// TrendAnalysis summarises the verification history.
type TrendAnalysis struct {
	Trend             Trend   `json:"trend"`
	RecentAverage     float64 `json:"recent_average"`
	PriorAverage      float64 `json:"prior_average"`
	AverageConfidence float64 `json:"average_confidence"`
	InvalidCount      int     `json:"invalid_count"`
	Total             int     `json:"total"`
}
