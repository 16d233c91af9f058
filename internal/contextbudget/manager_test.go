package contextbudget

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestManager(t *testing.T, cfg *Config, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(cfg, opts...)
	require.NoError(t, err)
	return m
}

func cellsOf(n, size int) []CellContext {
	cells := make([]CellContext, n)
	for i := range cells {
		cells[i] = CellContext{
			Index:  i,
			Type:   CellTypeCode,
			Source: strings.Repeat("x", size),
		}
	}
	return cells
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("z", 400), 100},
		{strings.Repeat("z", 401), 101},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EstimateTokens(tt.text), "len=%d", len(tt.text))
	}
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.MaxTokens = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidMaxTokens)

	cfg = DefaultConfig()
	cfg.ReservedForResponse = cfg.MaxTokens
	assert.ErrorIs(t, cfg.Validate(), ErrReservedExceedsMax)

	cfg = DefaultConfig()
	cfg.WarningThreshold = 1.5
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidWarningThreshold)

	cfg = DefaultConfig()
	cfg.MinTruncatedTokens = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidTruncationFloor)

	_, err := NewManager(&Config{})
	assert.Error(t, err)
}

func TestManager_CalculateUsage(t *testing.T) {
	m := newTestManager(t, &Config{MaxTokens: 1100, ReservedForResponse: 100, WarningThreshold: 0.8, MinTruncatedTokens: 10})

	nc := NotebookContext{
		Cells: []CellContext{
			{Index: 0, Source: strings.Repeat("a", 40), Output: strings.Repeat("b", 8)},
			{Index: 1, Source: strings.Repeat("c", 4)},
		},
		Variables: []string{"df", "x"}, // "df, x" = 5 chars
		Imports:   []string{"numpy"},   // 5 chars
	}

	usage := m.CalculateUsage(nc)
	assert.Equal(t, 10+2+1, usage.CellTokens)
	assert.Equal(t, 2, usage.VariableTokens)
	assert.Equal(t, 2, usage.ImportTokens)
	assert.Equal(t, 17, usage.TotalTokens)
	assert.Equal(t, 1000, usage.AvailableTokens)
	assert.InDelta(t, 0.017, usage.UsagePercent, 1e-9)
}

func TestManager_PrioritizeCells(t *testing.T) {
	m := newTestManager(t, nil)
	cells := cellsOf(12, 4)

	got := m.PrioritizeCells(cells, intPtr(2))
	require.Len(t, got, 12)

	assert.Equal(t, PriorityCritical, got[0].Priority)
	assert.Equal(t, 2, got[0].Cell.Index)

	var high, medium, low []int
	for _, pc := range got[1:] {
		switch pc.Priority {
		case PriorityHigh:
			high = append(high, pc.Cell.Index)
		case PriorityMedium:
			medium = append(medium, pc.Cell.Index)
		case PriorityLow:
			low = append(low, pc.Cell.Index)
		}
	}
	assert.Equal(t, []int{11, 10, 9}, high)
	assert.Equal(t, []int{8, 7, 6, 5, 4}, medium)
	assert.Equal(t, []int{3, 1, 0}, low)
}

func TestManager_PrioritizeCells_NoCurrent(t *testing.T) {
	m := newTestManager(t, nil)
	got := m.PrioritizeCells(cellsOf(4, 4), nil)
	for _, pc := range got {
		assert.NotEqual(t, PriorityCritical, pc.Priority)
	}
	assert.Equal(t, 3, got[0].Cell.Index)
	assert.Equal(t, PriorityMedium, got[3].Priority)
}

func TestManager_PruneContext_NoOpUnderBudget(t *testing.T) {
	m := newTestManager(t, nil)
	nc := NotebookContext{Cells: cellsOf(3, 40)}

	out, report := m.PruneContext(context.Background(), nc, 1000)
	assert.Equal(t, nc.Cells, out.Cells)
	assert.Equal(t, report.OriginalTokens, report.PrunedTokens)
	assert.Zero(t, report.RemovedCells)
	assert.Equal(t, []int{0, 1, 2}, report.KeptIndices)
}

func TestManager_PruneContext_DropsLowPriorityFirst(t *testing.T) {
	m := newTestManager(t, &Config{MaxTokens: 10000, ReservedForResponse: 0, WarningThreshold: 0.8, MinTruncatedTokens: 5})

	// 12 cells of 10 tokens each.
	nc := NotebookContext{Cells: cellsOf(12, 40), CurrentCell: intPtr(11)}

	out, report := m.PruneContext(context.Background(), nc, 60)
	assert.LessOrEqual(t, report.PrunedTokens, 60)
	assert.Equal(t, 6, len(out.Cells))
	assert.Equal(t, 6, report.RemovedCells)
	assert.Zero(t, report.TruncatedCells)
	// current + 3 high + 2 medium survive, in index order
	assert.Equal(t, []int{6, 7, 8, 9, 10, 11}, report.KeptIndices)
	assert.Equal(t, report.KeptIndices, cellIndices(out.Cells))

	// input untouched
	assert.Len(t, nc.Cells, 12)
}

func TestManager_PruneContext_TruncatesProtectedCells(t *testing.T) {
	m := newTestManager(t, &Config{MaxTokens: 10000, ReservedForResponse: 0, WarningThreshold: 0.8, MinTruncatedTokens: 10})

	lines := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		lines = append(lines, "value_"+strings.Repeat("a", 10)+" = 1")
	}
	big := strings.Join(lines, "\n")
	nc := NotebookContext{
		Cells: []CellContext{
			{Index: 0, Source: "old = 1", Output: "noise"},
			{Index: 1, Source: big, Output: strings.Repeat("o", 400)},
		},
		CurrentCell: intPtr(1),
	}

	out, report := m.PruneContext(context.Background(), nc, 100)
	require.Len(t, out.Cells, 2)
	assert.Equal(t, 1, report.TruncatedCells)
	assert.Zero(t, report.RemovedCells)
	assert.LessOrEqual(t, report.PrunedTokens, 100)

	// the small high-priority cell still fits whole
	assert.Equal(t, nc.Cells[0], out.Cells[0])

	got := out.Cells[1]
	assert.Empty(t, got.Output, "truncated cells lose their output")
	assert.True(t, strings.HasPrefix(got.Source, truncationMarker))
	assert.True(t, strings.HasSuffix(got.Source, lines[len(lines)-1]), "the tail of the source is kept")
	body := strings.TrimPrefix(got.Source, truncationMarker)
	assert.True(t, strings.HasPrefix(body, "value_"), "cut lands on a line boundary")
}

func TestManager_PruneContext_FloorMayExceedTarget(t *testing.T) {
	m := newTestManager(t, &Config{MaxTokens: 10000, ReservedForResponse: 0, WarningThreshold: 0.8, MinTruncatedTokens: 20})

	nc := NotebookContext{Cells: cellsOf(3, 400), CurrentCell: intPtr(2)}

	out, report := m.PruneContext(context.Background(), nc, 10)
	require.Len(t, out.Cells, 3)
	assert.Equal(t, 3, report.TruncatedCells)
	assert.Greater(t, report.PrunedTokens, 10)
	for _, c := range out.Cells {
		assert.LessOrEqual(t, EstimateTokens(c.Source), 20)
		assert.Greater(t, len(c.Source), len(truncationMarker))
	}
}

func TestManager_PruneContext_NeverExceedsTargetWhenLowCellsDroppable(t *testing.T) {
	m := newTestManager(t, &Config{MaxTokens: 100000, ReservedForResponse: 0, WarningThreshold: 0.8, MinTruncatedTokens: 5})

	for _, target := range []int{80, 120, 200, 333, 390} {
		nc := NotebookContext{
			Cells:     cellsOf(20, 80),
			Variables: []string{"a", "b"},
		}
		_, report := m.PruneContext(context.Background(), nc, target)
		assert.LessOrEqual(t, report.PrunedTokens, target, "target=%d", target)
		assert.Greater(t, report.RemovedCells, 0)
	}
}

func TestManager_ExtractOptimizedContext(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	m := newTestManager(t, &Config{MaxTokens: 120, ReservedForResponse: 20, WarningThreshold: 0.5, MinTruncatedTokens: 5},
		WithLogger(zap.New(core)))
	ctx := context.Background()

	// 60 tokens: above warning, below budget
	nc := NotebookContext{Cells: cellsOf(6, 40)}
	out, report, usage := m.ExtractOptimizedContext(ctx, nc)
	assert.Nil(t, report)
	assert.Len(t, out.Cells, 6)
	assert.InDelta(t, 0.6, usage.UsagePercent, 1e-9)
	assert.Equal(t, 1, logs.FilterMessage("context usage above warning threshold").Len())

	// still above: no second warning
	_, _, _ = m.ExtractOptimizedContext(ctx, nc)
	assert.Equal(t, 1, logs.FilterMessage("context usage above warning threshold").Len())

	// drop below then cross again: warns again
	_, _, _ = m.ExtractOptimizedContext(ctx, NotebookContext{Cells: cellsOf(1, 40)})
	_, _, _ = m.ExtractOptimizedContext(ctx, nc)
	assert.Equal(t, 2, logs.FilterMessage("context usage above warning threshold").Len())

	// 150 tokens exceeds the 100 usable
	huge := NotebookContext{Cells: cellsOf(15, 40)}
	out, report, usage = m.ExtractOptimizedContext(ctx, huge)
	require.NotNil(t, report)
	assert.Equal(t, 150, report.OriginalTokens)
	assert.LessOrEqual(t, usage.TotalTokens, 100)
	assert.Len(t, out.Cells, 10)
}

type secretRedactor struct{}

func (secretRedactor) Redact(s string) string {
	return strings.ReplaceAll(s, "sk-secret", "[REDACTED]")
}

func TestManager_ExtractOptimizedContext_Redacts(t *testing.T) {
	m := newTestManager(t, nil, WithRedactor(secretRedactor{}))
	nc := NotebookContext{Cells: []CellContext{{Index: 0, Source: "key = 'sk-secret'", Output: "sk-secret"}}}

	out, _, _ := m.ExtractOptimizedContext(context.Background(), nc)
	assert.Equal(t, "key = '[REDACTED]'", out.Cells[0].Source)
	assert.Equal(t, "[REDACTED]", out.Cells[0].Output)
	assert.Equal(t, "key = 'sk-secret'", nc.Cells[0].Source)
}

func TestTruncateTail(t *testing.T) {
	assert.Equal(t, "short", truncateTail("short", 100))

	src := "first line that is long enough\nsecond\nthird line"
	got := truncateTail(src, len(truncationMarker)+20)
	assert.True(t, strings.HasPrefix(got, truncationMarker))
	assert.True(t, strings.HasSuffix(got, "third line"))

	// multi-byte runes are never split
	utf := strings.Repeat("é", 50)
	got = truncateTail(utf, len(truncationMarker)+11)
	assert.True(t, strings.HasPrefix(got, truncationMarker))
	assert.True(t, strings.HasSuffix(got, "é"))
	assert.Equal(t, 0, len(strings.TrimPrefix(got, truncationMarker))%2)
}

func intPtr(v int) *int { return &v }
