// Package contextbudget keeps the notebook context sent to the reasoning
// service inside a token budget.
package contextbudget

// CellType is the kind of a notebook cell.
type CellType string

const (
	CellTypeCode     CellType = "code"
	CellTypeMarkdown CellType = "markdown"
	CellTypeRaw      CellType = "raw"
)

// CellContext is one cell as seen by the reasoning service.
type CellContext struct {
	Index  int      `json:"index"`
	Type   CellType `json:"type"`
	Source string   `json:"source"`
	Output string   `json:"output,omitempty"`
}

// NotebookContext is the environment snapshot handed to the reasoning service.
type NotebookContext struct {
	TotalCells  int           `json:"total_cells"`
	Cells       []CellContext `json:"cells"`
	Imports     []string      `json:"imports,omitempty"`
	Variables   []string      `json:"variables,omitempty"`
	CurrentCell *int          `json:"current_cell,omitempty"`
}

// Clone returns a deep copy.
func (nc NotebookContext) Clone() NotebookContext {
	out := nc
	out.Cells = append([]CellContext(nil), nc.Cells...)
	out.Imports = append([]string(nil), nc.Imports...)
	out.Variables = append([]string(nil), nc.Variables...)
	if nc.CurrentCell != nil {
		v := *nc.CurrentCell
		out.CurrentCell = &v
	}
	return out
}

// Priority orders cells for pruning.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// rank is lower for more important priorities.
func (p Priority) rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// protected reports whether cells of this priority are truncated instead of dropped.
func (p Priority) protected() bool {
	return p == PriorityCritical || p == PriorityHigh
}

// PrioritizedCell is a cell with its pruning priority.
type PrioritizedCell struct {
	Cell     CellContext `json:"cell"`
	Priority Priority    `json:"priority"`
	// Recency is 0 for the most recent cell.
	Recency int `json:"recency"`
	Tokens  int `json:"tokens"`
}

// UsageStats is the token accounting of a NotebookContext.
type UsageStats struct {
	CellTokens      int     `json:"cell_tokens"`
	VariableTokens  int     `json:"variable_tokens"`
	ImportTokens    int     `json:"import_tokens"`
	TotalTokens     int     `json:"total_tokens"`
	AvailableTokens int     `json:"available_tokens"`
	UsagePercent    float64 `json:"usage_percent"`
}

// PruneReport describes what PruneContext removed.
type PruneReport struct {
	OriginalTokens int   `json:"original_tokens"`
	PrunedTokens   int   `json:"pruned_tokens"`
	RemovedCells   int   `json:"removed_cells"`
	TruncatedCells int   `json:"truncated_cells"`
	KeptIndices    []int `json:"kept_indices"`
}
