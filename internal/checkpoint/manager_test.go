package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nbpilot/internal/plan"
)

type fakeNotebook struct {
	cells     []Cell
	deleteErr error
	deletes   []int
	updates   []int
}

func newFakeNotebook(sources ...string) *fakeNotebook {
	nb := &fakeNotebook{}
	for _, s := range sources {
		nb.cells = append(nb.cells, Cell{Type: "code", Source: s})
	}
	nb.reindex()
	return nb
}

func (f *fakeNotebook) reindex() {
	for i := range f.cells {
		f.cells[i].Index = i
	}
}

func (f *fakeNotebook) insert(idx int, source string) {
	f.cells = append(f.cells, Cell{})
	copy(f.cells[idx+1:], f.cells[idx:])
	f.cells[idx] = Cell{Type: "code", Source: source, Outputs: []string{"out:" + source}}
	f.reindex()
}

func (f *fakeNotebook) sources() []string {
	out := make([]string, len(f.cells))
	for i, c := range f.cells {
		out[i] = c.Source
	}
	return out
}

func (f *fakeNotebook) CellCount(context.Context) (int, error) { return len(f.cells), nil }

func (f *fakeNotebook) Cell(_ context.Context, i int) (Cell, error) {
	if i < 0 || i >= len(f.cells) {
		return Cell{}, fmt.Errorf("cell %d out of range", i)
	}
	return f.cells[i], nil
}

func (f *fakeNotebook) DeleteCell(_ context.Context, i int) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if i < 0 || i >= len(f.cells) {
		return fmt.Errorf("cell %d out of range", i)
	}
	f.cells = append(f.cells[:i], f.cells[i+1:]...)
	f.reindex()
	f.deletes = append(f.deletes, i)
	return nil
}

func (f *fakeNotebook) UpdateCell(_ context.Context, i int, source string) error {
	if i < 0 || i >= len(f.cells) {
		return fmt.Errorf("cell %d out of range", i)
	}
	f.cells[i].Source = source
	f.updates = append(f.updates, i)
	return nil
}

func created(idx int) plan.ToolResult {
	return plan.ToolResult{Tool: plan.ToolRunCode, Success: true, CellIndex: plan.IntPtr(idx)}
}

func modified(idx int, previous string) plan.ToolResult {
	return plan.ToolResult{Tool: plan.ToolRunCode, Success: true, CellIndex: plan.IntPtr(idx), WasModified: true, PreviousSource: previous}
}

func stepResult(n int, results ...plan.ToolResult) *plan.StepResult {
	return &plan.StepResult{Success: true, StepNumber: n, ToolResults: results}
}

func newTestManager(t *testing.T, cfg *Config, nb Notebook) *Manager {
	t.Helper()
	m, err := NewManager(cfg, zap.NewNop())
	require.NoError(t, err)
	if nb != nil {
		m.SetNotebook(nb)
	}
	return m
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Equal(t, 10, DefaultConfig().MaxCheckpoints)

	_, err := NewManager(&Config{MaxCheckpoints: 0}, nil)
	assert.ErrorIs(t, err, ErrInvalidCapacity)
}

func TestCreateCheckpoint_TracksCells(t *testing.T) {
	ctx := context.Background()
	nb := newFakeNotebook("a = 1", "b = 2")
	m := newTestManager(t, nil, nb)

	p := &plan.Plan{Steps: []plan.Step{{Number: 1, Description: "load"}}}

	nb.insert(2, "x = 1")
	nb.cells[1].Source = "b = 3"
	cp, err := m.CreateCheckpoint(ctx, 1, "load", p, stepResult(1, created(2), modified(1, "b = 2")), []string{"x"})
	require.NoError(t, err)

	assert.NotEmpty(t, cp.ID)
	assert.Equal(t, 1, cp.StepNumber)
	assert.Equal(t, []int{2}, cp.CreatedCells)
	assert.Equal(t, []int{1}, cp.ModifiedCells)
	assert.Equal(t, []string{"x"}, cp.Variables)

	require.Len(t, cp.Cells, 2)
	assert.Equal(t, 1, cp.Cells[0].Index)
	assert.True(t, cp.Cells[0].Modified)
	assert.Equal(t, "b = 3", cp.Cells[0].Content)
	assert.Equal(t, "b = 2", cp.Cells[0].PreviousContent)
	assert.True(t, cp.Cells[1].Created)
	assert.Equal(t, "x = 1", cp.Cells[1].Content)
	assert.Equal(t, []string{"out:x = 1"}, cp.Cells[1].Outputs)

	// the stored plan is a copy
	p.Steps[0].Description = "changed"
	got, err := m.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "load", got.Plan.Steps[0].Description)
}

func TestCreateCheckpoint_WithoutNotebook(t *testing.T) {
	m := newTestManager(t, nil, nil)
	res := created(0)
	res.Output = "hello"
	cp, err := m.CreateCheckpoint(context.Background(), 1, "print", nil, stepResult(1, res), nil)
	require.NoError(t, err)
	require.Len(t, cp.Cells, 1)
	assert.Equal(t, []string{"hello"}, cp.Cells[0].Outputs)
	assert.Empty(t, cp.Cells[0].Content)
}

func TestCreateCheckpoint_EvictsOldest(t *testing.T) {
	m := newTestManager(t, &Config{MaxCheckpoints: 3}, nil)
	for i := 1; i <= 5; i++ {
		_, err := m.CreateCheckpoint(context.Background(), i, "", nil, stepResult(i), nil)
		require.NoError(t, err)
	}
	list := m.List()
	require.Len(t, list, 3)
	assert.Equal(t, 3, list[0].StepNumber)
	assert.Equal(t, 5, m.Latest().StepNumber)

	_, err := m.Get(1)
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
}

// buildHistory runs three steps against nb:
//
//	step 1 creates cell 2
//	step 2 creates cell 3 and overwrites cell 1
//	step 3 creates cell 4 and overwrites cell 3
func buildHistory(t *testing.T, m *Manager, nb *fakeNotebook) {
	t.Helper()
	ctx := context.Background()

	nb.insert(2, "x = 1")
	_, err := m.CreateCheckpoint(ctx, 1, "one", nil, stepResult(1, created(2)), []string{"x"})
	require.NoError(t, err)

	nb.insert(3, "y = 2")
	nb.cells[1].Source = "b = 3"
	_, err = m.CreateCheckpoint(ctx, 2, "two", nil, stepResult(2, created(3), modified(1, "b = 2")), []string{"y"})
	require.NoError(t, err)

	nb.insert(4, "z = 3")
	nb.cells[3].Source = "y = 5"
	_, err = m.CreateCheckpoint(ctx, 3, "three", nil, stepResult(3, created(4), modified(3, "y = 2")), []string{"z"})
	require.NoError(t, err)

	require.Equal(t, []string{"a = 1", "b = 3", "x = 1", "y = 5", "z = 3"}, nb.sources())
}

func TestRollbackTo(t *testing.T) {
	ctx := context.Background()
	nb := newFakeNotebook("a = 1", "b = 2")
	m := newTestManager(t, nil, nb)
	buildHistory(t, m, nb)

	res, err := m.RollbackTo(ctx, 1)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.RolledBackTo)
	assert.Equal(t, []int{4, 3}, res.DeletedCells, "deleted from the highest index down")
	assert.Equal(t, []int{1}, res.RestoredCells)

	assert.Equal(t, []string{"a = 1", "b = 2", "x = 1"}, nb.sources())
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, []string{"x"}, m.Variables())
	assert.Equal(t, []int{4, 3}, nb.deletes)
}

func TestRollbackTo_Idempotent(t *testing.T) {
	ctx := context.Background()
	nb := newFakeNotebook("a = 1", "b = 2")
	m := newTestManager(t, nil, nb)
	buildHistory(t, m, nb)

	_, err := m.RollbackTo(ctx, 2)
	require.NoError(t, err)
	after := nb.sources()

	res, err := m.RollbackTo(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, res.DeletedCells)
	assert.Empty(t, res.RestoredCells)
	assert.Equal(t, after, nb.sources())
}

func TestRollbackTo_RestoresInReverseOrder(t *testing.T) {
	ctx := context.Background()
	nb := newFakeNotebook("a = 1", "b = 2")
	m := newTestManager(t, nil, nb)

	nb.insert(2, "c = 1")
	_, err := m.CreateCheckpoint(ctx, 1, "", nil, stepResult(1, created(2)), nil)
	require.NoError(t, err)

	nb.cells[0].Source = "a = 2"
	_, err = m.CreateCheckpoint(ctx, 2, "", nil, stepResult(2, modified(0, "a = 1")), nil)
	require.NoError(t, err)

	nb.cells[0].Source = "a = 3"
	_, err = m.CreateCheckpoint(ctx, 3, "", nil, stepResult(3, modified(0, "a = 2")), nil)
	require.NoError(t, err)

	res, err := m.RollbackTo(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0}, res.RestoredCells)
	assert.Equal(t, "a = 1", nb.cells[0].Source, "the earliest pre-modification content wins")
}

func TestRollbackTo_AdjustsIndicesForDeletions(t *testing.T) {
	ctx := context.Background()
	nb := newFakeNotebook("n0", "n1", "n2", "n3")
	m := newTestManager(t, nil, nb)

	_, err := m.CreateCheckpoint(ctx, 1, "nothing touched", nil, stepResult(1), nil)
	require.NoError(t, err)

	nb.insert(2, "inserted")
	_, err = m.CreateCheckpoint(ctx, 2, "", nil, stepResult(2, created(2)), nil)
	require.NoError(t, err)

	nb.cells[4].Source = "changed"
	_, err = m.CreateCheckpoint(ctx, 3, "", nil, stepResult(3, modified(4, "n3")), nil)
	require.NoError(t, err)

	res, err := m.RollbackTo(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, res.DeletedCells)
	assert.Equal(t, []int{3}, res.RestoredCells)
	assert.Equal(t, []string{"n0", "n1", "n2", "n3"}, nb.sources())
}

func TestRollbackTo_Errors(t *testing.T) {
	ctx := context.Background()

	m := newTestManager(t, nil, nil)
	_, err := m.CreateCheckpoint(ctx, 1, "", nil, stepResult(1, created(0)), nil)
	require.NoError(t, err)

	_, err = m.RollbackTo(ctx, 1)
	assert.ErrorIs(t, err, ErrNotebookUnavailable)

	_, err = m.RollbackTo(ctx, 7)
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
	assert.Contains(t, err.Error(), "step 7")

	nb := newFakeNotebook("a", "b")
	nb.deleteErr = errors.New("kernel gone")
	m.SetNotebook(nb)
	_, err = m.CreateCheckpoint(ctx, 2, "", nil, stepResult(2, created(1)), nil)
	require.NoError(t, err)

	_, err = m.RollbackTo(ctx, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kernel gone")
	assert.Equal(t, 2, m.Len(), "store untouched on failure")
}

func TestRollbackBefore(t *testing.T) {
	ctx := context.Background()
	nb := newFakeNotebook("a = 1", "b = 2")
	m := newTestManager(t, nil, nb)
	buildHistory(t, m, nb)

	res, err := m.RollbackBefore(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, res.RolledBackTo)
	assert.Equal(t, []string{"a = 1", "b = 3", "x = 1", "y = 2"}, nb.sources())

	_, err = m.RollbackBefore(ctx, 1)
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
}

func TestRollbackToLatest(t *testing.T) {
	ctx := context.Background()
	nb := newFakeNotebook("a = 1", "b = 2")
	m := newTestManager(t, nil, nb)

	_, err := m.RollbackToLatest(ctx)
	assert.ErrorIs(t, err, ErrCheckpointNotFound)

	buildHistory(t, m, nb)
	res, err := m.RollbackToLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.RolledBackTo)
	assert.Empty(t, res.DeletedCells)
	assert.Equal(t, 3, m.Len())
}

func TestClear(t *testing.T) {
	nb := newFakeNotebook("a = 1", "b = 2")
	m := newTestManager(t, nil, nb)
	buildHistory(t, m, nb)

	m.Clear()
	assert.Zero(t, m.Len())
	assert.Nil(t, m.Latest())
	assert.Empty(t, m.Variables())
}
