package verifier

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Recommendation thresholds.
const (
	ProceedThreshold = 0.90
	WarningThreshold = 0.75
	ReplanThreshold  = 0.60
)

const (
	defaultHistoryLimit = 100
	trendWindow         = 3
	trendBand           = 0.05
	weightTolerance     = 1e-9
)

var moduleNamePattern = regexp.MustCompile(`No module named '?([A-Za-z0-9_.]+)'?`)

// Weights are the per-factor weights of the overall confidence.
type Weights struct {
	OutputMatch       float64 `json:"output_match" koanf:"output_match"`
	VariablesCreated  float64 `json:"variables_created" koanf:"variables_created"`
	NoExceptions      float64 `json:"no_exceptions" koanf:"no_exceptions"`
	ExecutionComplete float64 `json:"execution_complete" koanf:"execution_complete"`
}

// DefaultWeights returns the default factor weights.
func DefaultWeights() Weights {
	return Weights{
		OutputMatch:       0.30,
		VariablesCreated:  0.30,
		NoExceptions:      0.25,
		ExecutionComplete: 0.15,
	}
}

// Validate checks that the weights are non-negative and sum to 1.
func (w Weights) Validate() error {
	for _, v := range []float64{w.OutputMatch, w.VariablesCreated, w.NoExceptions, w.ExecutionComplete} {
		if v < 0 || math.IsNaN(v) {
			return ErrInvalidWeights
		}
	}
	sum := w.OutputMatch + w.VariablesCreated + w.NoExceptions + w.ExecutionComplete
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("%w: got %.4f", ErrInvalidWeights, sum)
	}
	return nil
}

// Verifier scores post-step state and keeps a history of results.
//
// Verify is a pure function of its input apart from the history append, so
// one Verifier may be shared by sequential callers and read concurrently.
type Verifier struct {
	weights      Weights
	historyLimit int
	logger       *Logger
	now          func() time.Time

	mu      sync.RWMutex
	history []Result
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithWeights overrides the default factor weights.
func WithWeights(w Weights) Option {
	return func(v *Verifier) {
		v.weights = w
	}
}

// WithHistoryLimit bounds the number of retained results.
func WithHistoryLimit(n int) Option {
	return func(v *Verifier) {
		v.historyLimit = n
	}
}

// WithLogger sets the zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(v *Verifier) {
		v.logger = NewLogger(l)
	}
}

// New creates a Verifier.
func New(opts ...Option) (*Verifier, error) {
	v := &Verifier{
		weights:      DefaultWeights(),
		historyLimit: defaultHistoryLimit,
		logger:       NewLogger(nil),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	if err := v.weights.Validate(); err != nil {
		return nil, err
	}
	if v.historyLimit <= 0 {
		return nil, ErrInvalidHistoryLimit
	}
	return v, nil
}

// Weights returns the active factor weights.
func (v *Verifier) Weights() Weights {
	return v.weights
}

// Verify scores vc and appends the result to the history.
func (v *Verifier) Verify(ctx context.Context, vc Context) Result {
	factors := ComputeFactors(vc)
	confidence := v.CalculateConfidence(factors)

	r := Result{
		StepNumber:     vc.StepNumber,
		Confidence:     confidence,
		Factors:        factors,
		Mismatches:     detectMismatches(vc),
		Recommendation: RecommendationFor(confidence),
		VerifiedAt:     v.now(),
	}
	r.Valid = !r.HasCritical()

	v.mu.Lock()
	v.history = append(v.history, r)
	if over := len(v.history) - v.historyLimit; over > 0 {
		v.history = append([]Result(nil), v.history[over:]...)
	}
	v.mu.Unlock()

	observe(&r)
	v.logger.Verified(ctx, &r)
	return r
}

// CalculateConfidence is the weighted sum of the factors, clamped to [0,1].
func (v *Verifier) CalculateConfidence(f Factors) float64 {
	w := v.weights
	score := f.OutputMatch*w.OutputMatch +
		f.VariablesCreated*w.VariablesCreated +
		f.NoExceptions*w.NoExceptions +
		f.ExecutionComplete*w.ExecutionComplete
	return clamp(score)
}

// RecommendationFor maps a confidence score onto a recommendation.
func RecommendationFor(confidence float64) Recommendation {
	switch {
	case confidence >= ProceedThreshold:
		return RecommendProceed
	case confidence >= WarningThreshold:
		return RecommendWarning
	case confidence >= ReplanThreshold:
		return RecommendReplan
	default:
		return RecommendEscalate
	}
}

// ComputeFactors derives the four factor scores from vc.
func ComputeFactors(vc Context) Factors {
	f := Factors{
		OutputMatch:       1,
		VariablesCreated:  1,
		NoExceptions:      1,
		ExecutionComplete: 1,
	}
	if vc.Execution.Status == StatusError {
		f.NoExceptions = 0
		f.ExecutionComplete = 0
	}
	if vc.Expectation == nil {
		return f
	}

	if expected := vc.Expectation.ExpectedVariables; len(expected) > 0 {
		created := newVariables(vc.PreviousVariables, vc.CurrentVariables)
		hits := 0
		for _, name := range expected {
			if _, ok := created[name]; ok {
				hits++
			}
		}
		f.VariablesCreated = float64(hits) / float64(len(expected))
	}

	if patterns := vc.Expectation.ExpectedOutputPatterns; len(patterns) > 0 {
		text := outputText(vc.Execution)
		hits := 0
		for _, p := range patterns {
			if MatchPattern(p, text) {
				hits++
			}
		}
		f.OutputMatch = float64(hits) / float64(len(patterns))
	}
	return f
}

// MatchPattern reports whether pattern matches text case-insensitively. A
// pattern that does not compile is matched as a literal substring.
func MatchPattern(pattern, text string) bool {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return strings.Contains(strings.ToLower(text), strings.ToLower(pattern))
	}
	return re.MatchString(text)
}

// IsImportFailure reports whether the execution failed to import a module.
func IsImportFailure(er ExecutionResult) bool {
	switch er.ErrorName {
	case "ModuleNotFoundError", "ImportError":
		return true
	}
	for _, s := range []string{er.ErrorValue, er.Traceback, er.Stdout} {
		if strings.Contains(s, "No module named") {
			return true
		}
	}
	return false
}

// MissingModule extracts the module name from a "No module named" message.
func MissingModule(er ExecutionResult) string {
	for _, s := range []string{er.ErrorValue, er.Traceback, er.Stdout} {
		if m := moduleNamePattern.FindStringSubmatch(s); m != nil {
			return m[1]
		}
	}
	return ""
}

func detectMismatches(vc Context) []Mismatch {
	var out []Mismatch
	er := vc.Execution

	if er.Status == StatusError {
		out = append(out, Mismatch{
			Type:        MismatchExecutionError,
			Severity:    SeverityMajor,
			Description: "execution finished with an error",
			Expected:    string(StatusOK),
			Actual:      strings.TrimSpace(er.ErrorName + ": " + er.ErrorValue),
			Suggestion:  "inspect the traceback and fix the failing code",
		})
	}

	if IsImportFailure(er) {
		mod := MissingModule(er)
		suggestion := "install the missing package before importing it"
		if mod != "" {
			suggestion = fmt.Sprintf("install %q (for example with %%pip install %s) before importing it", mod, strings.SplitN(mod, ".", 2)[0])
		}
		out = append(out, Mismatch{
			Type:        MismatchImportFailed,
			Severity:    SeverityCritical,
			Description: "a module could not be imported",
			Expected:    "module importable",
			Actual:      strings.TrimSpace(er.ErrorName + ": " + er.ErrorValue),
			Suggestion:  suggestion,
		})
	}

	if vc.Expectation == nil {
		return out
	}

	created := newVariables(vc.PreviousVariables, vc.CurrentVariables)
	for _, name := range vc.Expectation.ExpectedVariables {
		if _, ok := created[name]; ok {
			continue
		}
		out = append(out, Mismatch{
			Type:        MismatchVariableMissing,
			Severity:    SeverityMajor,
			Description: fmt.Sprintf("variable %q was not created", name),
			Expected:    name,
			Suggestion:  "check that the assignment ran",
		})
	}

	text := outputText(er)
	for _, p := range vc.Expectation.ExpectedOutputPatterns {
		if MatchPattern(p, text) {
			continue
		}
		out = append(out, Mismatch{
			Type:        MismatchOutput,
			Severity:    SeverityMinor,
			Description: "output did not match the expected pattern",
			Expected:    p,
			Actual:      abbreviate(text, 200),
		})
	}
	return out
}

// History returns a copy of the retained results, oldest first.
func (v *Verifier) History() []Result {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]Result(nil), v.history...)
}

// Reset clears the history.
func (v *Verifier) Reset() {
	v.mu.Lock()
	v.history = nil
	v.mu.Unlock()
}

// Trend compares the average confidence of the last three results with the
// average of everything before them. Fewer than four results are stable.
func (v *Verifier) Trend() TrendAnalysis {
	v.mu.RLock()
	defer v.mu.RUnlock()

	ta := TrendAnalysis{Trend: TrendStable, Total: len(v.history)}
	if ta.Total == 0 {
		return ta
	}

	var sum float64
	for _, r := range v.history {
		sum += r.Confidence
		if !r.Valid {
			ta.InvalidCount++
		}
	}
	ta.AverageConfidence = sum / float64(ta.Total)

	if ta.Total <= trendWindow {
		ta.RecentAverage = ta.AverageConfidence
		return ta
	}

	split := ta.Total - trendWindow
	ta.PriorAverage = averageConfidence(v.history[:split])
	ta.RecentAverage = averageConfidence(v.history[split:])

	switch diff := ta.RecentAverage - ta.PriorAverage; {
	case diff > trendBand:
		ta.Trend = TrendImproving
	case diff < -trendBand:
		ta.Trend = TrendDeclining
	}
	return ta
}

func averageConfidence(rs []Result) float64 {
	var sum float64
	for _, r := range rs {
		sum += r.Confidence
	}
	return sum / float64(len(rs))
}

func newVariables(previous, current []string) map[string]struct{} {
	prev := make(map[string]struct{}, len(previous))
	for _, name := range previous {
		prev[name] = struct{}{}
	}
	out := make(map[string]struct{}, len(current))
	for _, name := range current {
		if _, ok := prev[name]; !ok {
			out[name] = struct{}{}
		}
	}
	return out
}

func outputText(er ExecutionResult) string {
	if er.Result == "" {
		return er.Stdout
	}
	if er.Stdout == "" {
		return er.Result
	}
	return er.Stdout + "\n" + er.Result
}

func abbreviate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func clamp(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}
