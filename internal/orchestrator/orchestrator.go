package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nbpilot/internal/checkpoint"
	"github.com/fyrsmithlabs/nbpilot/internal/codeanalysis"
	"github.com/fyrsmithlabs/nbpilot/internal/contextbudget"
	"github.com/fyrsmithlabs/nbpilot/internal/plan"
	"github.com/fyrsmithlabs/nbpilot/internal/verifier"
)

// Orchestrator plans and executes one notebook task at a time.
type Orchestrator struct {
	config   *Config
	reasoner Reasoner
	executor Executor
	safety   SafetyChecker
	gates    []Gate
	extra    []Gate

	analyzer    codeanalysis.Analyzer
	budget      *contextbudget.Manager
	verifier    *verifier.Verifier
	checkpoints *checkpoint.Manager

	zl      *zap.Logger
	logger  *Logger
	metrics *Metrics
	tracer  trace.Tracer
	now     func() time.Time

	running   atomic.Bool
	speed     atomic.Value // SpeedPreset
	proceedCh chan struct{}

	mu     sync.Mutex
	active *run
	state  Snapshot
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig sets the configuration.
func WithConfig(cfg *Config) Option {
	return func(o *Orchestrator) {
		o.config = cfg
	}
}

// WithLogger sets the zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.zl = l
	}
}

// WithMetrics sets custom metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithSafetyChecker installs a SafetyGate in front of every RunCode call.
func WithSafetyChecker(s SafetyChecker) Option {
	return func(o *Orchestrator) {
		o.safety = s
	}
}

// WithGates appends gates that run after the safety and validation gates.
func WithGates(gates ...Gate) Option {
	return func(o *Orchestrator) {
		o.extra = append(o.extra, gates...)
	}
}

// WithAnalyzer sets the code analyzer.
func WithAnalyzer(a codeanalysis.Analyzer) Option {
	return func(o *Orchestrator) {
		o.analyzer = a
	}
}

// WithContextManager sets the context budget manager.
func WithContextManager(m *contextbudget.Manager) Option {
	return func(o *Orchestrator) {
		o.budget = m
	}
}

// WithVerifier sets the state verifier.
func WithVerifier(v *verifier.Verifier) Option {
	return func(o *Orchestrator) {
		o.verifier = v
	}
}

// WithCheckpointManager sets the checkpoint manager.
func WithCheckpointManager(m *checkpoint.Manager) Option {
	return func(o *Orchestrator) {
		o.checkpoints = m
	}
}

// WithTracer sets the tracer used for task and step spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

// New creates an Orchestrator. Collaborators not supplied through options
// get defaults.
func New(reasoner Reasoner, executor Executor, opts ...Option) (*Orchestrator, error) {
	if reasoner == nil {
		return nil, ErrNilReasoner
	}
	if executor == nil {
		return nil, ErrNilExecutor
	}

	o := &Orchestrator{
		reasoner:  reasoner,
		executor:  executor,
		tracer:    otel.Tracer(InstrumentationName),
		now:       time.Now,
		proceedCh: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.config == nil {
		o.config = DefaultConfig()
	}
	if err := o.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid orchestrator config: %w", err)
	}
	if o.zl == nil {
		o.zl = zap.NewNop()
	}
	o.logger = NewLogger(o.zl)

	if o.metrics == nil {
		m, err := NewMetrics(nil)
		if err != nil {
			return nil, fmt.Errorf("creating metrics: %w", err)
		}
		o.metrics = m
	}
	if o.analyzer == nil {
		o.analyzer = codeanalysis.NewRegex()
	}
	if o.budget == nil {
		m, err := contextbudget.NewManager(nil, contextbudget.WithLogger(o.zl))
		if err != nil {
			return nil, err
		}
		o.budget = m
	}
	if o.verifier == nil {
		v, err := verifier.New(verifier.WithLogger(o.zl))
		if err != nil {
			return nil, err
		}
		o.verifier = v
	}
	if o.checkpoints == nil {
		m, err := checkpoint.NewManager(nil, o.zl)
		if err != nil {
			return nil, err
		}
		o.checkpoints = m
	}

	if o.safety != nil {
		o.gates = append(o.gates, NewSafetyGate(o.safety))
	}
	if o.config.ValidateCode {
		o.gates = append(o.gates, NewValidationGate(reasoner))
	}
	o.gates = append(o.gates, o.extra...)

	o.speed.Store(o.config.Speed)
	o.state = Snapshot{Phase: PhaseIdle}
	return o, nil
}

// IsRunning reports whether a task is in flight.
func (o *Orchestrator) IsRunning() bool {
	return o.running.Load()
}

// Speed returns the current speed preset.
func (o *Orchestrator) Speed() SpeedPreset {
	return o.speed.Load().(SpeedPreset)
}

// SetSpeed changes the speed preset. It takes effect at the next pause.
func (o *Orchestrator) SetSpeed(s SpeedPreset) error {
	if _, err := ParseSpeed(string(s)); err != nil {
		return err
	}
	o.speed.Store(s)
	return nil
}

// Proceed releases a manual-speed pause. Extra signals are dropped.
func (o *Orchestrator) Proceed() {
	select {
	case o.proceedCh <- struct{}{}:
	default:
	}
}

// Cancel requests cooperative cancellation of the running task.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	r := o.active
	o.mu.Unlock()
	if r != nil {
		r.cancel()
	}
}

// Checkpoints returns the checkpoint manager.
func (o *Orchestrator) Checkpoints() *checkpoint.Manager {
	return o.checkpoints
}

// Verifier returns the state verifier.
func (o *Orchestrator) Verifier() *verifier.Verifier {
	return o.verifier
}

// Snapshot returns the externally visible state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.state
	s.Running = o.running.Load()
	s.Speed = o.Speed()
	return s
}

// RollbackTo restores the notebook to the checkpoint of step. It is
// rejected while a task runs.
func (o *Orchestrator) RollbackTo(ctx context.Context, step int, env Environment) (*checkpoint.RollbackResult, error) {
	if o.running.Load() {
		return nil, ErrAlreadyRunning
	}
	if env != nil {
		o.checkpoints.SetNotebook(env)
	}
	return o.checkpoints.RollbackTo(ctx, step)
}

// ExecuteTask plans and runs req in env, reporting progress to sink. It
// returns ErrAlreadyRunning when a task is active and argument errors for
// an invalid request; every other outcome is described by the Result.
func (o *Orchestrator) ExecuteTask(ctx context.Context, req TaskRequest, env Environment, sink ProgressSink) (*Result, error) {
	if req.Task == "" {
		return nil, ErrEmptyTask
	}
	if env == nil {
		return nil, ErrNilEnvironment
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	r := newRun(o, req, env, sink)

	// Cancel takes mu, so it always sees the run once running is set.
	o.mu.Lock()
	if !o.running.CompareAndSwap(false, true) {
		o.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	o.active = r
	o.state = Snapshot{TaskID: req.ID, Phase: PhaseIdle}
	o.mu.Unlock()
	defer o.running.Store(false)

	o.reset(env)

	ctx, span := o.tracer.Start(ctx, "orchestrator.ExecuteTask",
		trace.WithAttributes(attribute.String("task.id", req.ID)))
	defer span.End()

	o.metrics.TaskStarted(ctx)
	o.logger.TaskStarted(ctx, req.ID, req.Task)

	result := r.execute(ctx)

	span.SetAttributes(
		attribute.String("task.status", string(result.Status)),
		attribute.Int("task.steps", len(result.StepResults)),
		attribute.Int("task.replans", result.Replans),
	)
	if result.Error != nil {
		span.SetStatus(codes.Error, result.Error.Error())
	}
	o.metrics.RecordTask(ctx, result.Status)
	o.logger.TaskFinished(ctx, result)

	o.mu.Lock()
	o.active = nil
	o.state.LastResult = result
	o.mu.Unlock()
	return result, nil
}

// reset clears cross-task tracking before a new task.
func (o *Orchestrator) reset(env Environment) {
	o.verifier.Reset()
	o.checkpoints.Clear()
	o.checkpoints.SetNotebook(env)
	for {
		select {
		case <-o.proceedCh:
			continue
		default:
		}
		return
	}
}

func (o *Orchestrator) publish(e Event) {
	o.mu.Lock()
	o.state.TaskID = e.TaskID
	o.state.Phase = e.Phase
	if e.Step > 0 {
		o.state.Step = e.Step
	}
	if e.TotalSteps > 0 {
		o.state.TotalSteps = e.TotalSteps
	}
	o.mu.Unlock()
}

// run is the state of one task.
type run struct {
	o    *Orchestrator
	req  TaskRequest
	env  Environment
	sink ProgressSink

	cancelCh   chan struct{}
	cancelOnce sync.Once

	startedAt      time.Time
	plan           *plan.Plan
	index          int
	replanAttempts int
	replans        int
	results        []plan.StepResult
	errors         []ExecutionError
	violations     []Violation
	verifications  []verifier.Result
	visitedVars    []string
	visitedImports []string
	pendingHint    *ReflectionHint
}

func newRun(o *Orchestrator, req TaskRequest, env Environment, sink ProgressSink) *run {
	return &run{
		o:         o,
		req:       req,
		env:       env,
		sink:      sink,
		cancelCh:  make(chan struct{}),
		startedAt: o.now(),
	}
}

func (r *run) cancel() {
	r.cancelOnce.Do(func() { close(r.cancelCh) })
}

func (r *run) cancelled(ctx context.Context) bool {
	select {
	case <-r.cancelCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (r *run) emit(e Event) {
	e.TaskID = r.req.ID
	e.Time = r.o.now()
	r.o.publish(e)
	if r.sink != nil {
		r.sink(e)
	}
}

func (r *run) execute(ctx context.Context) *Result {
	if xerr := r.planPhase(ctx); xerr != nil {
		return r.fail(xerr)
	}

	for r.index < len(r.plan.Steps) {
		if r.cancelled(ctx) {
			return r.cancelledResult()
		}

		step := r.plan.Steps[r.index]
		r.emit(Event{
			Phase:      PhaseExecuting,
			Step:       step.Number,
			TotalSteps: len(r.plan.Steps),
			Message:    step.Description,
		})

		out := r.executeStepWithRetry(ctx, step)
		if out.cancelled {
			return r.cancelledResult()
		}

		if out.err != nil {
			r.errors = append(r.errors, *out.err)
			r.o.logger.StepFailed(ctx, out.err, r.replanAttempts+1)
			if !out.err.Recoverable() {
				return r.fail(out.err)
			}
			if fatal := r.replan(ctx, step, out); fatal != nil {
				return r.fail(fatal)
			}
			continue
		}

		sr := out.result
		r.results = append(r.results, *sr)
		r.replanAttempts = 0

		previous := append([]string(nil), r.visitedVars...)
		stepVars := r.track(sr.Code)
		if _, err := r.o.checkpoints.CreateCheckpoint(ctx, step.Number, step.Description, r.plan, sr, stepVars); err != nil {
			r.o.logger.Warn(ctx, "checkpoint failed", zap.Int("step", step.Number), zap.Error(err))
		}

		if out.done {
			return r.complete(sr)
		}

		if xerr := r.verify(ctx, step, sr, previous, stepVars); xerr != nil {
			r.errors = append(r.errors, *xerr)
			return r.fail(xerr)
		}
		r.reflect(ctx, step, sr)

		r.index++
		if r.index < len(r.plan.Steps) {
			r.pace(ctx)
		}
	}
	return r.complete(nil)
}

func (r *run) planPhase(ctx context.Context) *ExecutionError {
	r.emit(Event{Phase: PhasePlanning, Message: r.req.Task})

	snap, err := r.env.Snapshot(ctx)
	if err != nil {
		return &ExecutionError{Kind: KindEnvironment, Message: fmt.Sprintf("reading notebook: %v", err)}
	}
	optimized, _, _ := r.o.budget.ExtractOptimizedContext(ctx, snap)

	p, err := r.o.reasoner.Plan(ctx, PlanRequest{
		Task:           r.req.Task,
		Context:        optimized,
		AvailableTools: plan.AvailableTools(),
	})
	if err != nil {
		return &ExecutionError{Kind: KindEnvironment, Message: fmt.Sprintf("planning failed: %v", err)}
	}
	if p.Len() == 0 {
		return &ExecutionError{Kind: KindEnvironment, Message: "planning failed: reasoner returned an empty plan"}
	}

	p = p.Clone()
	p.Renumber()
	if err := p.Validate(); err != nil {
		return &ExecutionError{Kind: KindEnvironment, Message: fmt.Sprintf("planning failed: %v", err)}
	}
	r.plan = p

	r.o.logger.Planned(ctx, p)
	r.emit(Event{Phase: PhasePlanned, Plan: p.Clone(), TotalSteps: p.Len()})
	return nil
}

// track records the step's variables and imports and returns the
// variables the step assigns.
func (r *run) track(code string) []string {
	vars := r.o.analyzer.Variables(code)
	r.visitedVars = union(r.visitedVars, vars)
	r.visitedImports = union(r.visitedImports, r.o.analyzer.Imports(code))
	return vars
}

// pace waits between steps according to the speed preset. Cancellation
// ends the wait; the loop notices it on the next iteration.
func (r *run) pace(ctx context.Context) {
	speed := r.o.Speed()
	if speed == SpeedManual {
		r.emit(Event{Phase: PhaseExecuting, Message: "waiting for proceed", TotalSteps: len(r.plan.Steps)})
		select {
		case <-r.o.proceedCh:
		case <-r.cancelCh:
		case <-ctx.Done():
		}
		return
	}

	d := speed.Delay()
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-r.cancelCh:
	case <-ctx.Done():
	}
}

func (r *run) result(status Status) *Result {
	return &Result{
		TaskID:        r.req.ID,
		Status:        status,
		Plan:          r.plan.Clone(),
		StepResults:   append([]plan.StepResult(nil), r.results...),
		Errors:        append([]ExecutionError(nil), r.errors...),
		Violations:    append([]Violation(nil), r.violations...),
		Verifications: append([]verifier.Result(nil), r.verifications...),
		Replans:       r.replans,
		StartedAt:     r.startedAt,
		CompletedAt:   r.o.now(),
	}
}

func (r *run) complete(final *plan.StepResult) *Result {
	res := r.result(StatusCompleted)
	if final != nil {
		res.FinalAnswer = final.FinalAnswer
		res.Summary = final.Summary
	} else if n := len(r.results); n > 0 {
		res.Summary = r.results[n-1].Output
	}
	r.emit(Event{Phase: PhaseCompleted, Result: res, StepResult: final})
	return res
}

func (r *run) fail(xerr *ExecutionError) *Result {
	res := r.result(StatusFailed)
	res.Error = xerr
	r.emit(Event{Phase: PhaseFailed, Error: xerr, Result: res, Message: xerr.Message})
	return res
}

func (r *run) cancelledResult() *Result {
	res := r.result(StatusCancelled)
	r.emit(Event{Phase: PhaseFailed, Result: res, Message: errCancelled.Error()})
	return res
}

func union(have, add []string) []string {
	seen := make(map[string]struct{}, len(have))
	for _, s := range have {
		seen[s] = struct{}{}
	}
	for _, s := range add {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		have = append(have, s)
	}
	return have
}

// minus returns the names of have that are not in drop.
func minus(have, drop []string) []string {
	skip := make(map[string]struct{}, len(drop))
	for _, s := range drop {
		skip[s] = struct{}{}
	}
	out := make([]string, 0, len(have))
	for _, s := range have {
		if _, ok := skip[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}
