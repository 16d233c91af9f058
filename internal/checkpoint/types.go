package checkpoint

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/nbpilot/internal/plan"
)

// Cell is a notebook cell as read back from the notebook.
type Cell struct {
	Index   int      `json:"index"`
	Type    string   `json:"type"`
	Source  string   `json:"source"`
	Outputs []string `json:"outputs,omitempty"`
}

// Notebook is the handle rollback operates on.
type Notebook interface {
	CellCount(ctx context.Context) (int, error)
	Cell(ctx context.Context, index int) (Cell, error)
	DeleteCell(ctx context.Context, index int) error
	UpdateCell(ctx context.Context, index int, source string) error
}

// CellSnapshot is the state of one cell a step touched.
type CellSnapshot struct {
	Index   int      `json:"index"`
	Type    string   `json:"type"`
	Content string   `json:"content"`
	Outputs []string `json:"outputs,omitempty"`

	Created  bool `json:"created"`
	Modified bool `json:"modified"`

	// PreviousContent is the cell source before the step overwrote it.
	PreviousContent string `json:"previous_content,omitempty"`
}

// Checkpoint is the recorded state after a successful step.
type Checkpoint struct {
	ID          string         `json:"id"`
	StepNumber  int            `json:"step_number"`
	Description string         `json:"description"`
	CreatedAt   time.Time      `json:"created_at"`
	Plan        *plan.Plan     `json:"plan,omitempty"`
	Cells       []CellSnapshot `json:"cells"`

	// Variables, CreatedCells and ModifiedCells are cumulative over the
	// task up to and including this step.
	Variables     []string `json:"variables"`
	CreatedCells  []int    `json:"created_cells"`
	ModifiedCells []int    `json:"modified_cells"`
}

// Clone returns a deep copy.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	out := *c
	out.Plan = c.Plan.Clone()
	out.Cells = make([]CellSnapshot, len(c.Cells))
	for i, s := range c.Cells {
		s.Outputs = append([]string(nil), s.Outputs...)
		out.Cells[i] = s
	}
	out.Variables = append([]string(nil), c.Variables...)
	out.CreatedCells = append([]int(nil), c.CreatedCells...)
	out.ModifiedCells = append([]int(nil), c.ModifiedCells...)
	return &out
}

// RollbackResult reports what a rollback changed.
type RollbackResult struct {
	Success      bool   `json:"success"`
	RolledBackTo int    `json:"rolled_back_to"`
	CheckpointID string `json:"checkpoint_id"`

	// DeletedCells lists deleted indices in deletion order (descending).
	DeletedCells []int `json:"deleted_cells"`

	// RestoredCells lists restored indices after adjustment for deletions.
	RestoredCells []int `json:"restored_cells"`
}
