package plan

import (
	"encoding/json"
	"fmt"
)

// toolCallEnvelope is the wire form of a ToolCall.
type toolCallEnvelope struct {
	Tool   ToolName        `json:"tool"`
	Params json.RawMessage `json:"params"`
}

// MarshalToolCall encodes a call as {"tool": ..., "params": {...}}.
func MarshalToolCall(call ToolCall) ([]byte, error) {
	if call == nil {
		return nil, ErrNilToolCall
	}
	params, err := json.Marshal(call)
	if err != nil {
		return nil, fmt.Errorf("marshal %s params: %w", call.Tool(), err)
	}
	return json.Marshal(toolCallEnvelope{Tool: call.Tool(), Params: params})
}

// UnmarshalToolCall decodes the envelope form.
func UnmarshalToolCall(data []byte) (ToolCall, error) {
	var env toolCallEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode tool call: %w", err)
	}
	params := env.Params
	if len(params) == 0 {
		params = []byte("{}")
	}
	switch env.Tool {
	case ToolRunCode:
		var c RunCode
		if err := json.Unmarshal(params, &c); err != nil {
			return nil, fmt.Errorf("decode run_code params: %w", err)
		}
		return c, nil
	case ToolAnnotate:
		var c Annotate
		if err := json.Unmarshal(params, &c); err != nil {
			return nil, fmt.Errorf("decode annotate params: %w", err)
		}
		return c, nil
	case ToolDeclareDone:
		var c DeclareDone
		if err := json.Unmarshal(params, &c); err != nil {
			return nil, fmt.Errorf("decode declare_done params: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, env.Tool)
	}
}

// stepAlias has Step's fields without its methods.
type stepAlias Step

type stepWire struct {
	stepAlias
	ToolCalls []json.RawMessage `json:"tool_calls"`
}

// MarshalJSON encodes tool calls in envelope form.
func (s Step) MarshalJSON() ([]byte, error) {
	w := stepWire{stepAlias: stepAlias(s)}
	w.ToolCalls = make([]json.RawMessage, 0, len(s.ToolCalls))
	for _, call := range s.ToolCalls {
		raw, err := MarshalToolCall(call)
		if err != nil {
			return nil, err
		}
		w.ToolCalls = append(w.ToolCalls, raw)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes tool calls from envelope form.
func (s *Step) UnmarshalJSON(data []byte) error {
	var w stepWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*s = Step(w.stepAlias)
	s.ToolCalls = make([]ToolCall, 0, len(w.ToolCalls))
	for _, raw := range w.ToolCalls {
		call, err := UnmarshalToolCall(raw)
		if err != nil {
			return fmt.Errorf("step %d: %w", s.Number, err)
		}
		s.ToolCalls = append(s.ToolCalls, call)
	}
	return nil
}

type replanWire struct {
	Analysis  string          `json:"analysis"`
	Decision  DecisionKind    `json:"decision"`
	Reasoning string          `json:"reasoning"`
	Changes   json.RawMessage `json:"changes"`
}

// MarshalJSON encodes the decision as a kind plus a changes payload.
func (r ReplanResponse) MarshalJSON() ([]byte, error) {
	w := replanWire{Analysis: r.Analysis, Reasoning: r.Reasoning}
	if r.Decision != nil {
		w.Decision = r.Decision.Kind()
		changes, err := json.Marshal(r.Decision)
		if err != nil {
			return nil, fmt.Errorf("marshal %s changes: %w", w.Decision, err)
		}
		w.Changes = changes
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the changes payload according to the decision kind.
func (r *ReplanResponse) UnmarshalJSON(data []byte) error {
	var w replanWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.Analysis = w.Analysis
	r.Reasoning = w.Reasoning

	changes := w.Changes
	if len(changes) == 0 || string(changes) == "null" {
		changes = []byte("{}")
	}

	var (
		d   Decision
		err error
	)
	switch w.Decision {
	case DecisionRefine:
		var v Refine
		err = json.Unmarshal(changes, &v)
		d = v
	case DecisionInsertSteps:
		var v InsertSteps
		err = json.Unmarshal(changes, &v)
		d = v
	case DecisionReplaceStep:
		var v ReplaceStep
		err = json.Unmarshal(changes, &v)
		d = v
	case DecisionReplanRemaining:
		var v ReplanRemaining
		err = json.Unmarshal(changes, &v)
		d = v
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDecision, w.Decision)
	}
	if err != nil {
		return fmt.Errorf("decode %s changes: %w", w.Decision, err)
	}
	r.Decision = d
	return nil
}
