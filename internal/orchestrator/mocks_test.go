package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/fyrsmithlabs/nbpilot/internal/checkpoint"
	"github.com/fyrsmithlabs/nbpilot/internal/contextbudget"
	"github.com/fyrsmithlabs/nbpilot/internal/plan"
)

// MockReasoner is a mock implementation of Reasoner
type MockReasoner struct {
	mock.Mock
}

func (m *MockReasoner) Plan(ctx context.Context, req PlanRequest) (*plan.Plan, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*plan.Plan), args.Error(1)
}

func (m *MockReasoner) Replan(ctx context.Context, req ReplanRequest) (*plan.ReplanResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*plan.ReplanResponse), args.Error(1)
}

func (m *MockReasoner) Validate(ctx context.Context, req ValidationRequest) (*ValidationResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ValidationResult), args.Error(1)
}

func (m *MockReasoner) Reflect(ctx context.Context, req ReflectionRequest) (*ReflectionResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ReflectionResult), args.Error(1)
}

// MockExecutor is a mock implementation of Executor
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Run(ctx context.Context, call plan.ToolCall) (*plan.ToolResult, error) {
	args := m.Called(ctx, call)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*plan.ToolResult), args.Error(1)
}

func (m *MockExecutor) Interrupt(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// FetchVariableValues accepts either a map or a func([]string) map as the
// first return value.
func (m *MockExecutor) FetchVariableValues(ctx context.Context, names []string) (map[string]string, error) {
	args := m.Called(ctx, names)
	switch v := args.Get(0).(type) {
	case func([]string) map[string]string:
		return v(names), args.Error(1)
	case map[string]string:
		return v, args.Error(1)
	default:
		return nil, args.Error(1)
	}
}

func (m *MockExecutor) CellCount(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockExecutor) CellOutput(ctx context.Context, index int) (string, error) {
	args := m.Called(ctx, index)
	return args.String(0), args.Error(1)
}

// allPresent reports every requested variable with a placeholder value.
func allPresent(names []string) map[string]string {
	out := make(map[string]string, len(names))
	for _, n := range names {
		out[n] = "<" + n + ">"
	}
	return out
}

// fakeEnv is an in-memory notebook.
type fakeEnv struct {
	mu      sync.Mutex
	cells   []checkpoint.Cell
	deleted []int
	updated map[int]string
	snapErr error
}

func newFakeEnv(sources ...string) *fakeEnv {
	e := &fakeEnv{updated: map[int]string{}}
	for i, s := range sources {
		e.cells = append(e.cells, checkpoint.Cell{Index: i, Type: "code", Source: s})
	}
	return e
}

func (e *fakeEnv) CellCount(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cells), nil
}

func (e *fakeEnv) Cell(ctx context.Context, index int) (checkpoint.Cell, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.cells) {
		return checkpoint.Cell{}, fmt.Errorf("cell %d out of range", index)
	}
	return e.cells[index], nil
}

func (e *fakeEnv) DeleteCell(ctx context.Context, index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.cells) {
		return fmt.Errorf("cell %d out of range", index)
	}
	e.cells = append(e.cells[:index], e.cells[index+1:]...)
	for i := range e.cells {
		e.cells[i].Index = i
	}
	e.deleted = append(e.deleted, index)
	return nil
}

func (e *fakeEnv) UpdateCell(ctx context.Context, index int, source string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.cells) {
		return fmt.Errorf("cell %d out of range", index)
	}
	e.cells[index].Source = source
	e.updated[index] = source
	return nil
}

func (e *fakeEnv) Snapshot(ctx context.Context) (contextbudget.NotebookContext, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snapErr != nil {
		return contextbudget.NotebookContext{}, e.snapErr
	}
	nc := contextbudget.NotebookContext{TotalCells: len(e.cells)}
	for _, c := range e.cells {
		nc.Cells = append(nc.Cells, contextbudget.CellContext{
			Index:  c.Index,
			Type:   contextbudget.CellTypeCode,
			Source: c.Source,
		})
	}
	return nc, nil
}

// fakeSafety blocks code containing any of its patterns.
type fakeSafety struct {
	blocked map[string]string
}

func (f fakeSafety) CheckSafety(code string) (bool, []string) {
	var hits []string
	for needle, reason := range f.blocked {
		if strings.Contains(code, needle) {
			hits = append(hits, reason)
		}
	}
	return len(hits) == 0, hits
}

// eventLog collects progress events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) sink(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) phases() []Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Phase, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Phase)
	}
	return out
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func codeStep(desc, code string) plan.Step {
	return plan.Step{Description: desc, ToolCalls: []plan.ToolCall{plan.RunCode{Code: code}}}
}

func doneStep(answer string) plan.Step {
	return plan.Step{
		Description: "report the answer",
		ToolCalls:   []plan.ToolCall{plan.DeclareDone{Answer: answer, Summary: "finished"}},
	}
}

func planOf(steps ...plan.Step) *plan.Plan {
	p := &plan.Plan{Steps: steps}
	p.Renumber()
	return p
}

func runCode(code string) interface{} {
	return mock.MatchedBy(func(call plan.ToolCall) bool {
		rc, ok := call.(plan.RunCode)
		return ok && rc.Code == code
	})
}

func anyAnnotate() interface{} {
	return mock.MatchedBy(func(call plan.ToolCall) bool {
		_, ok := call.(plan.Annotate)
		return ok
	})
}

func okResult(cell int, output string) *plan.ToolResult {
	return &plan.ToolResult{Tool: plan.ToolRunCode, Success: true, Output: output, CellIndex: plan.IntPtr(cell)}
}

func failResult(cell int, name, msg string) *plan.ToolResult {
	return &plan.ToolResult{
		Tool:      plan.ToolRunCode,
		Success:   false,
		Error:     msg,
		ErrorName: name,
		CellIndex: plan.IntPtr(cell),
	}
}
