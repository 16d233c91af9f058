package reasoning

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/fyrsmithlabs/nbpilot/internal/orchestrator"
	"github.com/fyrsmithlabs/nbpilot/internal/plan"
)

var fencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(\\{.*?\\})\\s*```")

// extractJSON returns the JSON object in a completion: the contents of the
// first fenced block holding one, otherwise the first balanced object.
func extractJSON(text string) (string, error) {
	if m := fencePattern.FindStringSubmatch(text); m != nil && json.Valid([]byte(m[1])) {
		return m[1], nil
	}

	start := strings.IndexByte(text, '{')
	for start >= 0 {
		if end := matchBrace(text, start); end > 0 {
			candidate := text[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, nil
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", ErrNoJSON
}

// matchBrace returns the index of the brace closing the one at start,
// skipping braces inside JSON strings, or -1.
func matchBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

type planWire struct {
	Steps             []plan.Step `json:"steps"`
	EstimatedDuration string      `json:"estimated_duration,omitempty"`
}

func decodePlan(text string) (*plan.Plan, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, err
	}
	var w planWire
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if len(w.Steps) == 0 {
		return nil, fmt.Errorf("decode plan: no steps")
	}
	p := &plan.Plan{Steps: w.Steps}
	if d, err := time.ParseDuration(w.EstimatedDuration); err == nil {
		p.EstimatedDuration = d
	}
	p.Renumber()
	return p, nil
}

func decodeReplan(text string) (*plan.ReplanResponse, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, err
	}
	var resp plan.ReplanResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("decode replan: %w", err)
	}
	return &resp, nil
}

type validationWire struct {
	Valid   *bool                          `json:"valid"`
	Issues  []orchestrator.ValidationIssue `json:"issues"`
	Summary string                         `json:"summary"`
}

// decodeValidation normalizes severities and derives the flags from the
// issues. An omitted "valid" means valid unless an error was reported.
func decodeValidation(text string) (*orchestrator.ValidationResult, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, err
	}
	var w validationWire
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, fmt.Errorf("decode validation: %w", err)
	}

	res := &orchestrator.ValidationResult{Issues: w.Issues, Summary: w.Summary}
	for i := range res.Issues {
		sev := orchestrator.Severity(strings.ToLower(string(res.Issues[i].Severity)))
		switch sev {
		case orchestrator.SeverityError, orchestrator.SeverityCritical:
			res.HasErrors = true
		default:
			sev = orchestrator.SeverityWarning
			res.HasWarnings = true
		}
		res.Issues[i].Severity = sev
	}
	res.Valid = !res.HasErrors
	if w.Valid != nil && !*w.Valid {
		res.Valid = false
	}
	return res, nil
}

func decodeReflection(text string) (*orchestrator.ReflectionResult, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, err
	}
	var res orchestrator.ReflectionResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, fmt.Errorf("decode reflection: %w", err)
	}

	res.Confidence = min(max(res.Confidence, 0), 1)
	switch action := orchestrator.ReflectionAction(strings.ToLower(string(res.Action))); action {
	case orchestrator.ActionContinue, orchestrator.ActionAdjust, orchestrator.ActionRetry, orchestrator.ActionReplan:
		res.Action = action
	default:
		res.Action = orchestrator.ActionContinue
	}
	return &res, nil
}
