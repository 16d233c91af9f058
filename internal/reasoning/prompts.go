package reasoning

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/nbpilot/internal/contextbudget"
	"github.com/fyrsmithlabs/nbpilot/internal/orchestrator"
	"github.com/fyrsmithlabs/nbpilot/internal/plan"
)

// planSystemPrompt is the system prompt for task decomposition.
const planSystemPrompt = `You are a data science assistant that works inside a live Jupyter notebook.

Break the user's task into a short sequence of steps. Each step holds one or more tool calls:
- {"tool": "run_code", "params": {"code": "<python>"}} creates a code cell and runs it
- {"tool": "annotate", "params": {"content": "<markdown>"}} writes a markdown cell
- {"tool": "declare_done", "params": {"answer": "<final answer>", "summary": "<one line>"}} ends the task

Rules:
1. Reuse variables and imports that already exist in the notebook.
2. Keep each code step small enough to debug on its own.
3. The last step must contain exactly one declare_done call, as its final call.
4. In the answer you may reference notebook variables as {name}; they are filled in with live values.
5. For steps whose success is visible in output, list regular expressions in "expected_output_patterns".

Respond with a JSON object:
{"steps": [{"step_number": 1, "description": "...", "tool_calls": [...],
  "expected_outcome": "...", "validation_criteria": ["..."], "expected_output_patterns": ["..."]}],
 "estimated_duration": "2m"}

Respond ONLY with the JSON object, no additional text.`

// replanSystemPrompt is the system prompt for recovering from a failed step.
const replanSystemPrompt = `You are debugging a notebook task that failed at one step.

Choose exactly one decision:
- "refine": fix the failed step's code in place. changes: {"code": "<python>"}
- "insert_steps": add steps before the failed step, for example to install a missing package. changes: {"steps": [...]}
- "replace_step": swap the failed step for a different approach. changes: {"step": {...}}
- "replan_remaining": discard the failed step and everything after it. changes: {"steps": [...]}

Steps use the same shape as in planning, with tool_calls of run_code, annotate or declare_done.
A missing module is fixed by inserting an install step, not by rewriting the import.
If the remaining plan is replaced, it must still end with declare_done.

Respond with a JSON object:
{"analysis": "...", "decision": "refine|insert_steps|replace_step|replan_remaining", "reasoning": "...", "changes": {...}}

Respond ONLY with the JSON object, no additional text.`

// validateSystemPrompt is the system prompt for static code checks.
const validateSystemPrompt = `You review Python notebook code before it runs.

Report problems that would make the code fail or misbehave: syntax errors, names that are neither defined
in the code nor present in the notebook, misuse of known library APIs. Do not report style issues.

Respond with a JSON object:
{"valid": true|false, "issues": [{"severity": "error|warning", "message": "...", "line": 1}], "summary": "..."}

Respond ONLY with the JSON object, no additional text.`

// reflectSystemPrompt is the system prompt for judging a completed step.
const reflectSystemPrompt = `You judge whether a notebook step achieved what it was meant to.

Compare the step's output with its expected outcome and criteria. Recommend one action:
"continue" (the step is fine), "adjust" (minor issue, keep going), "retry" (the step should run again),
"replan" (the remaining plan no longer fits).

Respond with a JSON object:
{"checkpoint_passed": true|false, "confidence": 0.0-1.0, "action": "continue|adjust|retry|replan", "reasoning": "..."}

Respond ONLY with the JSON object, no additional text.`

// maxOutputChars bounds cell output quoted in prompts.
const maxOutputChars = 4000

func renderPlanPrompt(req orchestrator.PlanRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task:\n%s\n\n", req.Task)
	fmt.Fprintf(&b, "Available tools: %s\n\n", strings.Join(req.AvailableTools, ", "))
	writeNotebook(&b, req.Context)
	return b.String()
}

func renderReplanPrompt(req orchestrator.ReplanRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task:\n%s\n\n", req.Task)

	if len(req.ExecutedSteps) > 0 {
		b.WriteString("Completed steps:\n")
		for _, s := range req.ExecutedSteps {
			fmt.Fprintf(&b, "- step %d: %s\n", s.StepNumber, s.Description)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Failed step %d: %s\n", req.FailedStep.Number, req.FailedStep.Description)
	if code := req.FailedStep.Code(); code != "" {
		fmt.Fprintf(&b, "Code:\n```python\n%s\n```\n", code)
	}
	fmt.Fprintf(&b, "Error (%s", req.Error.Kind)
	if req.Error.ErrorName != "" {
		fmt.Fprintf(&b, ", %s", req.Error.ErrorName)
	}
	fmt.Fprintf(&b, "): %s\n", req.Error.Message)
	if req.Error.Traceback != "" {
		fmt.Fprintf(&b, "Traceback:\n%s\n", clip(req.Error.Traceback, maxOutputChars))
	}
	if req.LastOutput != "" {
		fmt.Fprintf(&b, "Last output:\n%s\n", clip(req.LastOutput, maxOutputChars))
	}
	fmt.Fprintf(&b, "\nThis is recovery attempt %d.\n", req.Attempt)

	if h := req.ReflectionHint; h != nil {
		fmt.Fprintf(&b, "\nAn earlier review of step %d recommended %q", h.StepNumber, h.Action)
		if h.Reasoning != "" {
			fmt.Fprintf(&b, ": %s", h.Reasoning)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	writeNotebook(&b, req.Context)
	return b.String()
}

func renderValidatePrompt(req orchestrator.ValidationRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Code:\n```python\n%s\n```\n\n", req.Code)
	if len(req.Context.Variables) > 0 {
		fmt.Fprintf(&b, "Variables defined in the notebook: %s\n", strings.Join(req.Context.Variables, ", "))
	}
	if len(req.Context.Imports) > 0 {
		fmt.Fprintf(&b, "Modules imported in the notebook: %s\n", strings.Join(req.Context.Imports, ", "))
	}
	return b.String()
}

func renderReflectPrompt(req orchestrator.ReflectionRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Step %d: %s\n", req.StepNumber, req.Description)
	fmt.Fprintf(&b, "Status: %s\n", req.Status)
	if req.ExpectedOutcome != "" {
		fmt.Fprintf(&b, "Expected outcome: %s\n", req.ExpectedOutcome)
	}
	for _, c := range req.Criteria {
		fmt.Fprintf(&b, "Criterion: %s\n", c)
	}
	if req.Code != "" {
		fmt.Fprintf(&b, "Code:\n```python\n%s\n```\n", req.Code)
	}
	if req.Output != "" {
		fmt.Fprintf(&b, "Output:\n%s\n", clip(req.Output, maxOutputChars))
	}
	if req.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", req.Error)
	}
	fmt.Fprintf(&b, "Steps remaining after this one: %d\n", req.RemainingSteps)
	return b.String()
}

// writeNotebook renders the optimized notebook context.
func writeNotebook(b *strings.Builder, nc contextbudget.NotebookContext) {
	fmt.Fprintf(b, "Notebook (%d cells):\n", nc.TotalCells)
	for _, c := range nc.Cells {
		fmt.Fprintf(b, "[%d] %s\n%s\n", c.Index, c.Type, c.Source)
		if c.Output != "" {
			fmt.Fprintf(b, "output:\n%s\n", clip(c.Output, maxOutputChars))
		}
	}
	if len(nc.Variables) > 0 {
		fmt.Fprintf(b, "Variables: %s\n", strings.Join(nc.Variables, ", "))
	}
	if len(nc.Imports) > 0 {
		fmt.Fprintf(b, "Imports: %s\n", strings.Join(nc.Imports, ", "))
	}
}

// retryPrompt appends the decode error so the model can correct itself.
func retryPrompt(user string, decodeErr error) string {
	return fmt.Sprintf("%s\n\nYour previous reply could not be used (%v). Reply with only the JSON object.", user, decodeErr)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... (truncated)"
}

// stepsJSON renders steps in wire form for logging.
func stepsJSON(steps []plan.Step) string {
	data, err := json.Marshal(steps)
	if err != nil {
		return ""
	}
	return string(data)
}
