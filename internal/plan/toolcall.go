package plan

// ToolName identifies a tool call variant on the wire.
type ToolName string

const (
	ToolRunCode     ToolName = "run_code"
	ToolAnnotate    ToolName = "annotate"
	ToolDeclareDone ToolName = "declare_done"
)

// AvailableTools lists every tool the engine can dispatch.
func AvailableTools() []string {
	return []string{string(ToolRunCode), string(ToolAnnotate), string(ToolDeclareDone)}
}

// CellOperation hints how the execution backend should address a cell.
type CellOperation string

const (
	OperationInsert  CellOperation = "insert"
	OperationUpdate  CellOperation = "update"
	OperationExecute CellOperation = "execute"
)

// ToolCall is one of RunCode, Annotate or DeclareDone.
//
// The set is closed: only types in this package implement it. Callers that
// need to handle every variant implement ToolCallVisitor and call Accept, so
// adding a variant breaks every handler at compile time.
type ToolCall interface {
	Tool() ToolName
	Accept(v ToolCallVisitor) error
	isToolCall()
}

// ToolCallVisitor handles each ToolCall variant.
type ToolCallVisitor interface {
	VisitRunCode(call RunCode) error
	VisitAnnotate(call Annotate) error
	VisitDeclareDone(call DeclareDone) error
}

// RunCode creates or updates a code cell and executes it.
type RunCode struct {
	Code      string        `json:"code"`
	CellIndex *int          `json:"cell_index,omitempty"`
	Operation CellOperation `json:"operation,omitempty"`
}

// Annotate writes a markdown cell.
type Annotate struct {
	Content   string `json:"content"`
	CellIndex *int   `json:"cell_index,omitempty"`
}

// DeclareDone ends the task with a final answer.
type DeclareDone struct {
	Answer  string `json:"answer"`
	Summary string `json:"summary,omitempty"`
}

func (RunCode) Tool() ToolName     { return ToolRunCode }
func (Annotate) Tool() ToolName    { return ToolAnnotate }
func (DeclareDone) Tool() ToolName { return ToolDeclareDone }

func (c RunCode) Accept(v ToolCallVisitor) error     { return v.VisitRunCode(c) }
func (c Annotate) Accept(v ToolCallVisitor) error    { return v.VisitAnnotate(c) }
func (c DeclareDone) Accept(v ToolCallVisitor) error { return v.VisitDeclareDone(c) }

func (RunCode) isToolCall()     {}
func (Annotate) isToolCall()    {}
func (DeclareDone) isToolCall() {}

// ToolResult is the outcome of one ToolCall.
type ToolResult struct {
	Tool      ToolName `json:"tool"`
	Success   bool     `json:"success"`
	Output    string   `json:"output,omitempty"`
	Error     string   `json:"error,omitempty"`
	ErrorName string   `json:"error_name,omitempty"`
	Traceback string   `json:"traceback,omitempty"`
	CellIndex *int     `json:"cell_index,omitempty"`

	// WasModified is true when an existing cell was overwritten rather than
	// a new one created.
	WasModified bool `json:"was_modified,omitempty"`

	// PreviousSource is the cell content before the overwrite. Only set
	// when WasModified is true.
	PreviousSource string `json:"previous_source,omitempty"`
}

// StepResult is the outcome of one Step.
type StepResult struct {
	Success     bool         `json:"success"`
	StepNumber  int          `json:"step_number"`
	Description string       `json:"description,omitempty"`
	ToolResults []ToolResult `json:"tool_results"`
	Attempts    int          `json:"attempts"`
	Code        string       `json:"code,omitempty"`
	Output      string       `json:"output,omitempty"`
	FinalAnswer string       `json:"final_answer,omitempty"`
	Summary     string       `json:"summary,omitempty"`
}

// IsFinal reports whether the step declared completion.
func (r *StepResult) IsFinal() bool {
	return r != nil && r.FinalAnswer != ""
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}

func cloneIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
