package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nbpilot/internal/plan"
)

const instrumentationName = "github.com/fyrsmithlabs/nbpilot/internal/checkpoint"

// Config configures the checkpoint manager.
type Config struct {
	// MaxCheckpoints bounds the store; the oldest checkpoint is evicted
	// first (default: 10).
	MaxCheckpoints int `json:"max_checkpoints" koanf:"max_checkpoints"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{MaxCheckpoints: 10}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.MaxCheckpoints <= 0 {
		return ErrInvalidCapacity
	}
	return nil
}

// Manager owns the checkpoint store of the running task.
type Manager struct {
	config *Config
	logger *zap.Logger

	tracer          trace.Tracer
	createCounter   metric.Int64Counter
	rollbackCounter metric.Int64Counter
	deletedCounter  metric.Int64Counter

	mu          sync.RWMutex
	notebook    Notebook
	checkpoints []*Checkpoint
	created     map[int]struct{}
	modified    map[int]struct{}
	variables   []string
	now         func() time.Time
}

// NewManager creates a checkpoint manager.
func NewManager(cfg *Config, logger *zap.Logger) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		config:   cfg,
		logger:   logger.Named("checkpoint"),
		tracer:   otel.Tracer(instrumentationName),
		created:  make(map[int]struct{}),
		modified: make(map[int]struct{}),
		now:      time.Now,
	}
	m.initMetrics(otel.Meter(instrumentationName))
	return m, nil
}

func (m *Manager) initMetrics(meter metric.Meter) {
	var err error

	m.createCounter, err = meter.Int64Counter(
		"nbpilot.checkpoint.created_total",
		metric.WithDescription("Total number of checkpoints created"),
		metric.WithUnit("{checkpoint}"),
	)
	if err != nil {
		m.logger.Warn("failed to create checkpoint counter", zap.Error(err))
	}

	m.rollbackCounter, err = meter.Int64Counter(
		"nbpilot.checkpoint.rollbacks_total",
		metric.WithDescription("Total number of rollbacks"),
		metric.WithUnit("{rollback}"),
	)
	if err != nil {
		m.logger.Warn("failed to create rollback counter", zap.Error(err))
	}

	m.deletedCounter, err = meter.Int64Counter(
		"nbpilot.checkpoint.cells_deleted_total",
		metric.WithDescription("Total number of cells deleted by rollbacks"),
		metric.WithUnit("{cell}"),
	)
	if err != nil {
		m.logger.Warn("failed to create deleted cells counter", zap.Error(err))
	}
}

// SetNotebook attaches the notebook handle used for snapshots and rollback.
func (m *Manager) SetNotebook(nb Notebook) {
	m.mu.Lock()
	m.notebook = nb
	m.mu.Unlock()
}

// CreateCheckpoint records the state after a successful step. Every cell a
// tool result points at is tracked as modified when the result says it
// overwrote the cell and as created otherwise.
func (m *Manager) CreateCheckpoint(ctx context.Context, stepNumber int, description string, p *plan.Plan, result *plan.StepResult, newVariables []string) (*Checkpoint, error) {
	ctx, span := m.tracer.Start(ctx, "checkpoint.Create")
	defer span.End()
	span.SetAttributes(attribute.Int("step", stepNumber))

	m.mu.Lock()
	defer m.mu.Unlock()

	var snaps []CellSnapshot
	if result != nil {
		for _, tr := range result.ToolResults {
			if tr.CellIndex == nil {
				continue
			}
			idx := *tr.CellIndex
			snap := CellSnapshot{
				Index:    idx,
				Created:  !tr.WasModified,
				Modified: tr.WasModified,
			}
			if tr.WasModified {
				m.modified[idx] = struct{}{}
				snap.PreviousContent = tr.PreviousSource
			} else {
				m.created[idx] = struct{}{}
			}
			m.fillSnapshot(ctx, &snap, tr)
			snaps = append(snaps, snap)
		}
	}
	sort.SliceStable(snaps, func(i, j int) bool { return snaps[i].Index < snaps[j].Index })

	m.variables = mergeNames(m.variables, newVariables)

	cp := &Checkpoint{
		ID:            uuid.New().String(),
		StepNumber:    stepNumber,
		Description:   description,
		CreatedAt:     m.now(),
		Plan:          p.Clone(),
		Cells:         snaps,
		Variables:     append([]string(nil), m.variables...),
		CreatedCells:  sortedKeys(m.created),
		ModifiedCells: sortedKeys(m.modified),
	}

	m.checkpoints = append(m.checkpoints, cp)
	if over := len(m.checkpoints) - m.config.MaxCheckpoints; over > 0 {
		for _, old := range m.checkpoints[:over] {
			m.logger.Debug("evicting checkpoint", zap.Int("step", old.StepNumber), zap.String("id", old.ID))
		}
		m.checkpoints = append([]*Checkpoint(nil), m.checkpoints[over:]...)
	}

	if m.createCounter != nil {
		m.createCounter.Add(ctx, 1)
	}
	m.logger.Info("created checkpoint",
		zap.String("id", cp.ID),
		zap.Int("step", stepNumber),
		zap.Int("cells", len(snaps)),
		zap.Int("stored", len(m.checkpoints)),
	)
	span.SetAttributes(attribute.String("checkpoint_id", cp.ID))
	return cp.Clone(), nil
}

// fillSnapshot reads the cell back from the notebook. Without a notebook,
// or when the read fails, the tool result output stands in.
func (m *Manager) fillSnapshot(ctx context.Context, snap *CellSnapshot, tr plan.ToolResult) {
	if m.notebook != nil {
		cell, err := m.notebook.Cell(ctx, snap.Index)
		if err == nil {
			snap.Type = cell.Type
			snap.Content = cell.Source
			snap.Outputs = append([]string(nil), cell.Outputs...)
			return
		}
		m.logger.Warn("failed to read cell for snapshot", zap.Int("cell", snap.Index), zap.Error(err))
	}
	if tr.Output != "" {
		snap.Outputs = []string{tr.Output}
	}
}

// RollbackTo restores the notebook to the state recorded for stepNumber.
func (m *Manager) RollbackTo(ctx context.Context, stepNumber int) (*RollbackResult, error) {
	ctx, span := m.tracer.Start(ctx, "checkpoint.Rollback")
	defer span.End()
	span.SetAttributes(attribute.Int("step", stepNumber))

	m.mu.Lock()
	defer m.mu.Unlock()

	ti := m.indexOf(stepNumber)
	if ti < 0 {
		err := fmt.Errorf("rollback to step %d: %w", stepNumber, ErrCheckpointNotFound)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	res, err := m.rollback(ctx, ti)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	span.SetAttributes(
		attribute.Int("deleted", len(res.DeletedCells)),
		attribute.Int("restored", len(res.RestoredCells)),
	)
	return res, nil
}

// RollbackToLatest rolls back to the most recent checkpoint, discarding any
// cells created since.
func (m *Manager) RollbackToLatest(ctx context.Context) (*RollbackResult, error) {
	m.mu.RLock()
	n := len(m.checkpoints)
	var step int
	if n > 0 {
		step = m.checkpoints[n-1].StepNumber
	}
	m.mu.RUnlock()

	if n == 0 {
		return nil, fmt.Errorf("rollback to latest: %w", ErrCheckpointNotFound)
	}
	return m.RollbackTo(ctx, step)
}

// RollbackBefore rolls back to the latest checkpoint recorded for a step
// earlier than stepNumber.
func (m *Manager) RollbackBefore(ctx context.Context, stepNumber int) (*RollbackResult, error) {
	m.mu.RLock()
	target := -1
	for i := len(m.checkpoints) - 1; i >= 0; i-- {
		if m.checkpoints[i].StepNumber < stepNumber {
			target = m.checkpoints[i].StepNumber
			break
		}
	}
	m.mu.RUnlock()

	if target < 0 {
		return nil, fmt.Errorf("rollback before step %d: %w", stepNumber, ErrCheckpointNotFound)
	}
	return m.RollbackTo(ctx, target)
}

// rollback must be called with m.mu held.
func (m *Manager) rollback(ctx context.Context, ti int) (*RollbackResult, error) {
	target := m.checkpoints[ti]
	if m.notebook == nil {
		return nil, fmt.Errorf("rollback to step %d: %w", target.StepNumber, ErrNotebookUnavailable)
	}

	res := &RollbackResult{
		RolledBackTo:  target.StepNumber,
		CheckpointID:  target.ID,
		DeletedCells:  []int{},
		RestoredCells: []int{},
	}

	keep := toSet(target.CreatedCells)
	var doomed []int
	for idx := range m.created {
		if _, ok := keep[idx]; !ok {
			doomed = append(doomed, idx)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(doomed)))

	for _, idx := range doomed {
		if err := m.notebook.DeleteCell(ctx, idx); err != nil {
			return res, fmt.Errorf("rollback to step %d: delete cell %d: %w", target.StepNumber, idx, err)
		}
		res.DeletedCells = append(res.DeletedCells, idx)
	}

	deleted := toSet(res.DeletedCells)
	later := m.checkpoints[ti+1:]
	for i := len(later) - 1; i >= 0; i-- {
		for _, snap := range later[i].Cells {
			if !snap.Modified {
				continue
			}
			if _, gone := deleted[snap.Index]; gone {
				continue
			}
			idx := snap.Index - countBelow(res.DeletedCells, snap.Index)
			if err := m.notebook.UpdateCell(ctx, idx, snap.PreviousContent); err != nil {
				return res, fmt.Errorf("rollback to step %d: restore cell %d: %w", target.StepNumber, idx, err)
			}
			res.RestoredCells = append(res.RestoredCells, idx)
		}
	}

	m.created = toSet(target.CreatedCells)
	m.modified = toSet(target.ModifiedCells)
	m.variables = append([]string(nil), target.Variables...)
	m.checkpoints = m.checkpoints[:ti+1]
	res.Success = true

	if m.rollbackCounter != nil {
		m.rollbackCounter.Add(ctx, 1)
	}
	if m.deletedCounter != nil {
		m.deletedCounter.Add(ctx, int64(len(res.DeletedCells)))
	}
	m.logger.Info("rolled back",
		zap.Int("step", target.StepNumber),
		zap.Ints("deleted_cells", res.DeletedCells),
		zap.Ints("restored_cells", res.RestoredCells),
	)
	return res, nil
}

// indexOf returns the position of the latest checkpoint for stepNumber, or -1.
func (m *Manager) indexOf(stepNumber int) int {
	for i := len(m.checkpoints) - 1; i >= 0; i-- {
		if m.checkpoints[i].StepNumber == stepNumber {
			return i
		}
	}
	return -1
}

// Get returns a copy of the checkpoint recorded for stepNumber.
func (m *Manager) Get(stepNumber int) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := m.indexOf(stepNumber)
	if i < 0 {
		return nil, fmt.Errorf("step %d: %w", stepNumber, ErrCheckpointNotFound)
	}
	return m.checkpoints[i].Clone(), nil
}

// List returns copies of all stored checkpoints, oldest first.
func (m *Manager) List() []*Checkpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Checkpoint, len(m.checkpoints))
	for i, cp := range m.checkpoints {
		out[i] = cp.Clone()
	}
	return out
}

// Latest returns a copy of the most recent checkpoint, or nil.
func (m *Manager) Latest() *Checkpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.checkpoints) == 0 {
		return nil
	}
	return m.checkpoints[len(m.checkpoints)-1].Clone()
}

// Len returns the number of stored checkpoints.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.checkpoints)
}

// Variables returns the tracked variable names.
func (m *Manager) Variables() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.variables...)
}

// Clear drops every checkpoint and all tracking state. The notebook handle
// is kept.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.checkpoints = nil
	m.created = make(map[int]struct{})
	m.modified = make(map[int]struct{})
	m.variables = nil
	m.mu.Unlock()
}

func mergeNames(have, add []string) []string {
	seen := make(map[string]struct{}, len(have))
	for _, n := range have {
		seen[n] = struct{}{}
	}
	for _, n := range add {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		have = append(have, n)
	}
	return have
}

func toSet(xs []int) map[int]struct{} {
	out := make(map[int]struct{}, len(xs))
	for _, x := range xs {
		out[x] = struct{}{}
	}
	return out
}

func sortedKeys(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

func countBelow(xs []int, v int) int {
	n := 0
	for _, x := range xs {
		if x < v {
			n++
		}
	}
	return n
}
