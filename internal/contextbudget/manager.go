package contextbudget

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	highPriorityCount   = 3
	mediumPriorityCount = 5

	// cutSearchFraction bounds how far into a truncated tail we look for a
	// line break to cut on.
	cutSearchFraction = 0.2

	truncationMarker = "# ... [truncated]\n"
)

// Config holds the token budget.
type Config struct {
	MaxTokens           int     `json:"max_tokens" koanf:"max_tokens"`
	ReservedForResponse int     `json:"reserved_for_response" koanf:"reserved_for_response"`
	WarningThreshold    float64 `json:"warning_threshold" koanf:"warning_threshold"`
	MinTruncatedTokens  int     `json:"min_truncated_tokens" koanf:"min_truncated_tokens"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxTokens:           100000,
		ReservedForResponse: 8000,
		WarningThreshold:    0.8,
		MinTruncatedTokens:  50,
	}
}

// Validate checks the budget for errors.
func (c *Config) Validate() error {
	if c.MaxTokens <= 0 {
		return ErrInvalidMaxTokens
	}
	if c.ReservedForResponse < 0 || c.ReservedForResponse >= c.MaxTokens {
		return ErrReservedExceedsMax
	}
	if c.WarningThreshold <= 0 || c.WarningThreshold > 1 {
		return ErrInvalidWarningThreshold
	}
	if c.MinTruncatedTokens <= 0 {
		return ErrInvalidTruncationFloor
	}
	return nil
}

// Available is the token budget left for the request itself.
func (c *Config) Available() int {
	return c.MaxTokens - c.ReservedForResponse
}

// Redactor removes sensitive content from text.
type Redactor interface {
	Redact(text string) string
}

// Manager accounts for and reduces notebook context.
type Manager struct {
	config   *Config
	logger   *Logger
	metrics  *Metrics
	redactor Redactor

	// warned is set while usage stays above the warning threshold.
	warned atomic.Bool
}

// Option configures Manager.
type Option func(*Manager)

// WithLogger sets the zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = NewLogger(l)
	}
}

// WithMetrics sets custom metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithRedactor redacts cell sources and outputs before accounting.
func WithRedactor(r Redactor) Option {
	return func(m *Manager) {
		m.redactor = r
	}
}

// NewManager creates a Manager. A nil config uses DefaultConfig.
func NewManager(cfg *Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	metrics, _ := NewMetrics(nil)
	m := &Manager{
		config:  cfg,
		logger:  NewLogger(nil),
		metrics: metrics,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Config returns the active budget.
func (m *Manager) Config() Config {
	return *m.config
}

// EstimateTokens approximates tokens as ceil(chars/4).
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

func cellTokens(c CellContext) int {
	return EstimateTokens(c.Source) + EstimateTokens(c.Output)
}

func listTokens(items []string) int {
	if len(items) == 0 {
		return 0
	}
	return EstimateTokens(strings.Join(items, ", "))
}

// CalculateUsage sums per-component token estimates.
func (m *Manager) CalculateUsage(nc NotebookContext) UsageStats {
	var usage UsageStats
	for _, c := range nc.Cells {
		usage.CellTokens += cellTokens(c)
	}
	usage.VariableTokens = listTokens(nc.Variables)
	usage.ImportTokens = listTokens(nc.Imports)
	usage.TotalTokens = usage.CellTokens + usage.VariableTokens + usage.ImportTokens
	usage.AvailableTokens = m.config.Available()
	if usage.AvailableTokens > 0 {
		usage.UsagePercent = float64(usage.TotalTokens) / float64(usage.AvailableTokens)
	}
	return usage
}

// PrioritizeCells ranks cells for pruning. The current cell is critical, the
// three most recent others are high, the next five medium and the rest low.
// The result is ordered by priority, then by recency (most recent first).
func (m *Manager) PrioritizeCells(cells []CellContext, current *int) []PrioritizedCell {
	byRecency := append([]CellContext(nil), cells...)
	sort.SliceStable(byRecency, func(i, j int) bool {
		return byRecency[i].Index > byRecency[j].Index
	})

	out := make([]PrioritizedCell, 0, len(byRecency))
	rank := 0
	for i, c := range byRecency {
		pc := PrioritizedCell{Cell: c, Recency: i, Tokens: cellTokens(c)}
		switch {
		case current != nil && c.Index == *current:
			pc.Priority = PriorityCritical
		case rank < highPriorityCount:
			pc.Priority = PriorityHigh
			rank++
		case rank < highPriorityCount+mediumPriorityCount:
			pc.Priority = PriorityMedium
			rank++
		default:
			pc.Priority = PriorityLow
			rank++
		}
		out = append(out, pc)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Priority.rank(), out[j].Priority.rank()
		if ri != rj {
			return ri < rj
		}
		return out[i].Recency < out[j].Recency
	})
	return out
}

// PruneContext reduces nc to at most targetTokens where possible. Variables
// and imports are always kept; cells are kept greedily by priority. Critical
// and high cells that do not fit are truncated to their tail (never below
// the configured floor) and lose their output; medium and low cells that do
// not fit are dropped.
func (m *Manager) PruneContext(ctx context.Context, nc NotebookContext, targetTokens int) (NotebookContext, PruneReport) {
	original := m.CalculateUsage(nc).TotalTokens
	out := nc.Clone()

	if original <= targetTokens {
		return out, PruneReport{
			OriginalTokens: original,
			PrunedTokens:   original,
			KeptIndices:    cellIndices(out.Cells),
		}
	}

	fixed := listTokens(nc.Variables) + listTokens(nc.Imports)
	cellBudget := targetTokens - fixed
	if cellBudget < 0 {
		cellBudget = 0
	}

	report := PruneReport{OriginalTokens: original}
	kept := make([]CellContext, 0, len(nc.Cells))
	used := 0

	prioritized := m.PrioritizeCells(nc.Cells, nc.CurrentCell)
	reserve := m.protectedReserve(prioritized)

	for i, pc := range prioritized {
		if used+pc.Tokens <= cellBudget {
			kept = append(kept, pc.Cell)
			used += pc.Tokens
			continue
		}
		if !pc.Priority.protected() {
			report.RemovedCells++
			continue
		}

		// Leave room for the protected cells still to come.
		allowed := cellBudget - used - reserve[i]
		if allowed < m.config.MinTruncatedTokens {
			allowed = m.config.MinTruncatedTokens
		}
		c := pc.Cell
		c.Source = truncateTail(c.Source, allowed*4)
		c.Output = ""
		kept = append(kept, c)
		used += cellTokens(c)
		report.TruncatedCells++
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Index < kept[j].Index })
	out.Cells = kept

	report.PrunedTokens = used + fixed
	report.KeptIndices = cellIndices(kept)

	overTarget := report.PrunedTokens > targetTokens
	if overTarget {
		m.logger.OverTarget(ctx, report.PrunedTokens, targetTokens)
	}
	m.logger.Pruned(ctx, report, targetTokens)
	m.metrics.RecordPrune(ctx, report, overTarget)
	return out, report
}

// protectedReserve returns, per position, the tokens that protected cells
// after that position need at minimum.
func (m *Manager) protectedReserve(cells []PrioritizedCell) []int {
	reserve := make([]int, len(cells))
	acc := 0
	for i := len(cells) - 1; i >= 0; i-- {
		reserve[i] = acc
		if cells[i].Priority.protected() {
			acc += min(cells[i].Tokens, m.config.MinTruncatedTokens)
		}
	}
	return reserve
}

// ExtractOptimizedContext is the entry point used before every reasoning
// request. It redacts, measures, warns once per threshold crossing, and
// prunes only when the usable budget is exceeded. The returned report is nil
// when no pruning happened.
func (m *Manager) ExtractOptimizedContext(ctx context.Context, nc NotebookContext) (NotebookContext, *PruneReport, UsageStats) {
	nc = m.redact(nc)
	usage := m.CalculateUsage(nc)
	m.metrics.RecordUsage(ctx, usage)

	if usage.UsagePercent >= m.config.WarningThreshold {
		if m.warned.CompareAndSwap(false, true) {
			m.logger.UsageWarning(ctx, usage, m.config.WarningThreshold)
		}
	} else {
		m.warned.Store(false)
	}

	if usage.TotalTokens <= usage.AvailableTokens {
		return nc, nil, usage
	}

	pruned, report := m.PruneContext(ctx, nc, usage.AvailableTokens)
	return pruned, &report, m.CalculateUsage(pruned)
}

func (m *Manager) redact(nc NotebookContext) NotebookContext {
	out := nc.Clone()
	if m.redactor == nil {
		return out
	}
	for i := range out.Cells {
		out.Cells[i].Source = m.redactor.Redact(out.Cells[i].Source)
		out.Cells[i].Output = m.redactor.Redact(out.Cells[i].Output)
	}
	return out
}

// truncateTail keeps at most maxChars of the end of source, prefixed with a
// marker. When the first line break of the kept tail falls within its first
// 20%, the partial leading line is cut away.
func truncateTail(source string, maxChars int) string {
	if len(source) <= maxChars {
		return source
	}
	keep := maxChars - len(truncationMarker)
	if keep < 1 {
		keep = 1
	}
	if keep > len(source) {
		keep = len(source)
	}
	start := len(source) - keep
	for start < len(source) && !utf8.RuneStart(source[start]) {
		start++
	}
	tail := source[start:]
	if nl := strings.IndexByte(tail, '\n'); nl >= 0 && float64(nl) < float64(len(tail))*cutSearchFraction {
		tail = tail[nl+1:]
	}
	return truncationMarker + tail
}

func cellIndices(cells []CellContext) []int {
	out := make([]int, len(cells))
	for i, c := range cells {
		out[i] = c.Index
	}
	return out
}
