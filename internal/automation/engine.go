package automation

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MaxResults caps the stored result history per process. Older entries
// are dropped; the tail always survives intact because every decision
// the engine makes reads backwards from the most recent entry.
const MaxResults = 100

// defaultTickInterval paces the engine when no interval is configured.
const defaultTickInterval = 5 * time.Second

// ActivePublisher publishes the aggregate active-state snapshot to the
// event bus. Satisfied by *eventcache.Cache.
type ActivePublisher interface {
	PublishActive(data map[string]any) error
}

// Broadcaster is the interface for broadcasting WebSocket events.
type Broadcaster interface {
	// Broadcast sends an event to all clients subscribed to the given channel.
	Broadcast(channel string, payload any)
}

// ResultRecorder receives every result the engine persisted, for
// telemetry. Satisfied by *history.Recorder. Implementations must not
// block: they are called inside the tick.
type ResultRecorder interface {
	RecordResult(proc *Process, result StepResult)
}

// Engine advances automation processes.
//
// Each tick it consumes pending step jumps, walks every stored process
// through as many phase changes as currently possible, persists what
// changed, and publishes the active-state snapshot. Ticks run strictly
// one at a time: the next wait starts only after the previous tick
// finished, so a slow handler delays the loop instead of stacking it.
//
// Thread Safety: ScheduleStepJump is safe for concurrent use; Run and
// Tick must be driven from a single goroutine.
type Engine struct {
	processes ProcessStore
	tasks     TaskStore
	registry  *Registry
	publisher ActivePublisher // may be nil
	hub       Broadcaster     // may be nil
	recorder  ResultRecorder  // may be nil
	logger    Logger

	tickInterval time.Duration
	maxResults   int
	now          func() time.Time

	jumpMu sync.Mutex
	jumps  []StepJump
}

// NewEngine creates a new automation engine.
//
// Parameters:
//   - processes: Store for process documents
//   - tasks: Store for task documents
//   - registry: Handler registry for item evaluation
//   - publisher: Bus publisher for the active snapshot (may be nil)
//   - hub: WebSocket hub for broadcasting snapshots (may be nil)
//   - logger: Logger instance
func NewEngine(processes ProcessStore, tasks TaskStore, registry *Registry, publisher ActivePublisher, hub Broadcaster, logger Logger) *Engine {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Engine{
		processes:    processes,
		tasks:        tasks,
		registry:     registry,
		publisher:    publisher,
		hub:          hub,
		logger:       logger,
		tickInterval: defaultTickInterval,
		maxResults:   MaxResults,
		now:          time.Now,
	}
}

// SetTickInterval overrides the default tick pacing.
func (e *Engine) SetTickInterval(d time.Duration) {
	if d > 0 {
		e.tickInterval = d
	}
}

// SetMaxResults overrides the default result history cap.
func (e *Engine) SetMaxResults(n int) {
	if n > 0 {
		e.maxResults = n
	}
}

// SetRecorder attaches a telemetry recorder. Must be called before Run.
func (e *Engine) SetRecorder(r ResultRecorder) {
	e.recorder = r
}

// CreateProcess instantiates a template and persists the new process.
// The first tick after creation writes its initial result.
func (e *Engine) CreateProcess(ctx context.Context, tpl *Template) (*Process, error) {
	proc, err := InstantiateProcess(tpl)
	if err != nil {
		return nil, err
	}

	saved, err := e.processes.Save(ctx, proc)
	if err != nil {
		return nil, err
	}

	e.logger.Info("process created",
		"process_id", saved.ID,
		"title", saved.Title,
		"steps", len(saved.Steps),
	)
	return saved, nil
}

// ScheduleStepJump queues a jump for the next tick. The queue is
// drained before normal advancement, so a jump scheduled mid-tick
// takes effect on the following one.
func (e *Engine) ScheduleStepJump(jump StepJump) {
	e.jumpMu.Lock()
	e.jumps = append(e.jumps, jump)
	e.jumpMu.Unlock()

	e.logger.Debug("step jump scheduled",
		"process_id", jump.ProcessID,
		"step_id", jump.StepID,
	)
}

// Run drives the tick loop until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("automation engine started", "tick_interval", e.tickInterval)

	timer := time.NewTimer(e.tickInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("automation engine stopped")
			return ctx.Err()
		case <-timer.C:
		}

		e.Tick(ctx)
		timer.Reset(e.tickInterval)
	}
}

// Tick performs one full engine pass: jumps, advancement, snapshot.
// A failing process never stops the others.
func (e *Engine) Tick(ctx context.Context) {
	e.applyJumps(ctx)

	procs, err := e.processes.FetchAll(ctx)
	if err != nil {
		e.logger.Error("fetching processes", "error", err)
		return
	}

	for i := range procs {
		e.advance(ctx, &procs[i])
	}

	e.publishActive(ctx, procs)
}

// applyJumps drains the jump queue snapshot taken at tick start.
//
// A jump against a missing process is dropped. A store failure
// requeues the failed jump and everything after it at the front of
// the queue, preserving order for the next tick.
func (e *Engine) applyJumps(ctx context.Context) {
	e.jumpMu.Lock()
	batch := e.jumps
	e.jumps = nil
	e.jumpMu.Unlock()

	for i, jump := range batch {
		err := e.applyJump(ctx, jump)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrProcessNotFound) {
			e.logger.Warn("dropping jump for unknown process",
				"process_id", jump.ProcessID,
				"step_id", jump.StepID,
			)
			continue
		}

		e.logger.Error("applying step jump", "process_id", jump.ProcessID, "error", err)
		e.jumpMu.Lock()
		e.jumps = append(append([]StepJump{}, batch[i:]...), e.jumps...)
		e.jumpMu.Unlock()
		return
	}
}

// applyJump forces a process to a step by appending a fresh active
// result. The jump is applied unconditionally: it is the operator's
// escape hatch, and works even on finished or errored processes.
func (e *Engine) applyJump(ctx context.Context, jump StepJump) error {
	proc, err := e.processes.FetchByID(ctx, jump.ProcessID)
	if err != nil {
		return err
	}

	phase := jump.Phase
	if phase == "" {
		phase = PhaseCreated
	}

	result := StepResult{
		ID:     GenerateID(),
		StepID: jump.StepID,
		Phase:  phase,
		Status: StatusActive,
		Date:   e.now(),
	}
	proc.Results = append(proc.Results, result)
	e.truncateResults(proc)

	saved, err := e.processes.Save(ctx, proc)
	if err != nil {
		return err
	}
	if e.recorder != nil {
		e.recorder.RecordResult(saved, result)
	}

	e.logger.Info("step jump applied",
		"process_id", jump.ProcessID,
		"step_id", jump.StepID,
		"phase", phase,
	)
	return nil
}

// advance walks one process through every phase change currently
// possible and persists the outcome.
//
// The inner loop ends when no new result is produced, or when the
// chain hands back the result it started from, which is how a
// still-failing step signals "reported already, still retrying".
// The iteration bound guards against templates that cycle through
// steps with trivially true conditions.
func (e *Engine) advance(ctx context.Context, proc *Process) {
	var appended []StepResult

	for i := 0; i < e.maxResults; i++ {
		next := e.nextUpdateResult(ctx, proc)
		if next == nil {
			break
		}
		if cur := proc.LatestResult(); cur != nil && cur.ID == next.ID {
			break
		}
		proc.Results = append(proc.Results, *next)
		appended = append(appended, *next)
	}

	if len(appended) == 0 {
		return
	}
	e.truncateResults(proc)

	saved, err := e.processes.Save(ctx, proc)
	if err != nil {
		e.logger.Error("saving process", "process_id", proc.ID, "error", err)
		return
	}
	*proc = *saved

	if e.recorder != nil {
		for _, res := range appended {
			e.recorder.RecordResult(saved, res)
		}
	}
}

// nextUpdateResult computes the next result for a process, or nil when
// nothing changes this pass. It never returns an error: handler
// failures become error results so the process keeps retrying, and
// invariant violations become terminal results.
func (e *Engine) nextUpdateResult(ctx context.Context, proc *Process) *StepResult {
	now := e.now()
	current := proc.LatestResult()

	if current == nil {
		if len(proc.Steps) == 0 {
			return &StepResult{
				ID:     GenerateID(),
				Phase:  PhaseInvalid,
				Status: StatusFinished,
				Date:   now,
			}
		}
		return &StepResult{
			ID:     GenerateID(),
			StepID: proc.Steps[0].ID,
			Phase:  PhaseCreated,
			Status: StatusActive,
			Date:   now,
		}
	}

	if current.Status != StatusActive {
		return nil
	}

	step := proc.StepByID(current.StepID)
	if step == nil {
		e.logger.Error("active result references unknown step",
			"process_id", proc.ID,
			"step_id", current.StepID,
		)
		return &StepResult{
			ID:     GenerateID(),
			StepID: current.StepID,
			Phase:  PhaseInvalid,
			Status: StatusInvalid,
			Date:   now,
			Error:  "unknown step " + current.StepID,
		}
	}

	hctx := &HandlerContext{Process: proc, Step: step, Result: current, Now: now}

	switch current.Phase {
	case PhaseCreated:
		if err := e.prepareStep(ctx, step, hctx); err != nil {
			return e.errorResult(proc, current, err)
		}
		return e.phaseResult(current, PhasePreconditions)

	case PhasePreconditions:
		ok, err := e.checkItems(ctx, step.Preconditions, hctx)
		if err != nil {
			return e.errorResult(proc, current, err)
		}
		if !ok {
			return nil
		}
		return e.phaseResult(current, PhaseActions)

	case PhaseActions:
		if err := e.applyActions(ctx, step, hctx); err != nil {
			return e.errorResult(proc, current, err)
		}
		return e.phaseResult(current, PhaseTransitions)

	case PhaseTransitions:
		return e.checkTransitions(ctx, proc, step, current, hctx)

	default:
		return nil
	}
}

// prepareStep runs one-time setup for every enabled item of a step:
// preconditions, actions, and the conditions of enabled transitions.
func (e *Engine) prepareStep(ctx context.Context, step *Step, hctx *HandlerContext) error {
	if err := e.prepareItems(ctx, step.Preconditions, hctx); err != nil {
		return err
	}
	if err := e.prepareItems(ctx, step.Actions, hctx); err != nil {
		return err
	}
	for i := range step.Transitions {
		if !step.Transitions[i].Enabled {
			continue
		}
		if err := e.prepareItems(ctx, step.Transitions[i].Conditions, hctx); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) prepareItems(ctx context.Context, items []Item, hctx *HandlerContext) error {
	for i := range items {
		if !items[i].Enabled {
			continue
		}
		if err := e.registry.Prepare(ctx, &items[i], hctx); err != nil {
			return err
		}
	}
	return nil
}

// checkItems evaluates conditions as a short-circuit AND over enabled
// items. Disabled items are vacuously true.
func (e *Engine) checkItems(ctx context.Context, items []Item, hctx *HandlerContext) (bool, error) {
	for i := range items {
		if !items[i].Enabled {
			continue
		}
		ok, err := e.registry.Check(ctx, &items[i], hctx)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// applyActions executes enabled actions in declared order, stopping at
// the first failure.
func (e *Engine) applyActions(ctx context.Context, step *Step, hctx *HandlerContext) error {
	for i := range step.Actions {
		if !step.Actions[i].Enabled {
			continue
		}
		if err := e.registry.Apply(ctx, &step.Actions[i], hctx); err != nil {
			return err
		}
	}
	return nil
}

// checkTransitions picks the step's exit.
//
// With no enabled transitions the process falls through to the next
// step by position, or finishes at the last one. Otherwise the first
// enabled transition whose conditions all hold is taken; none holding
// means the step stays put this tick.
func (e *Engine) checkTransitions(ctx context.Context, proc *Process, step *Step, current *StepResult, hctx *HandlerContext) *StepResult {
	enabled := make([]*Transition, 0, len(step.Transitions))
	for i := range step.Transitions {
		if step.Transitions[i].Enabled {
			enabled = append(enabled, &step.Transitions[i])
		}
	}

	if len(enabled) == 0 {
		return e.advanceByIndex(proc, step)
	}

	for _, tr := range enabled {
		ok, err := e.checkItems(ctx, tr.Conditions, hctx)
		if err != nil {
			return e.errorResult(proc, current, err)
		}
		if !ok {
			continue
		}

		next := tr.Next
		if !next.IsStep {
			if next.Advance {
				return e.advanceByIndex(proc, step)
			}
			return e.finishedResult(step)
		}

		target := proc.StepByID(next.StepID)
		if target == nil {
			e.logger.Error("transition references unknown step",
				"process_id", proc.ID,
				"transition_id", tr.ID,
				"next", next.StepID,
			)
			return &StepResult{
				ID:     GenerateID(),
				StepID: step.ID,
				Phase:  PhaseInvalid,
				Status: StatusInvalid,
				Date:   e.now(),
				Error:  "transition target " + next.StepID + " not found",
			}
		}
		return e.enterStep(target)
	}

	return nil
}

// advanceByIndex moves to the step after the current one, or finishes
// the process at the last step.
func (e *Engine) advanceByIndex(proc *Process, step *Step) *StepResult {
	idx := proc.StepIndex(step.ID)
	if idx >= 0 && idx+1 < len(proc.Steps) {
		return e.enterStep(&proc.Steps[idx+1])
	}
	return e.finishedResult(step)
}

func (e *Engine) enterStep(step *Step) *StepResult {
	return &StepResult{
		ID:     GenerateID(),
		StepID: step.ID,
		Phase:  PhaseCreated,
		Status: StatusActive,
		Date:   e.now(),
	}
}

func (e *Engine) finishedResult(step *Step) *StepResult {
	return &StepResult{
		ID:     GenerateID(),
		StepID: step.ID,
		Phase:  PhaseFinished,
		Status: StatusFinished,
		Date:   e.now(),
	}
}

// errorResult converts a handler failure into a result.
//
// An invariant violation ends the process: its stored state cannot be
// interpreted, so retrying would fail forever. Any other failure is
// recorded once and then retried silently: while the current result
// already carries an error, the same result is handed back, which the
// advance loop reads as "nothing new".
func (e *Engine) errorResult(proc *Process, current *StepResult, err error) *StepResult {
	var inv *EngineInvariantError
	if errors.As(err, &inv) {
		e.logger.Error("process state invariant violated",
			"process_id", proc.ID,
			"error", err,
		)
		return &StepResult{
			ID:     GenerateID(),
			StepID: current.StepID,
			Phase:  PhaseInvalid,
			Status: StatusInvalid,
			Date:   e.now(),
			Error:  err.Error(),
		}
	}

	if current.Error != "" {
		return current
	}

	e.logger.Error("process step failed",
		"process_id", proc.ID,
		"step_id", current.StepID,
		"phase", current.Phase,
		"error", err,
	)
	return &StepResult{
		ID:     GenerateID(),
		StepID: current.StepID,
		Phase:  current.Phase,
		Status: current.Status,
		Date:   e.now(),
		Error:  err.Error(),
	}
}

// phaseResult moves the current step to a new phase.
func (e *Engine) phaseResult(current *StepResult, phase Phase) *StepResult {
	return &StepResult{
		ID:     GenerateID(),
		StepID: current.StepID,
		Phase:  phase,
		Status: StatusActive,
		Date:   e.now(),
	}
}

// truncateResults drops the oldest history beyond the configured cap.
func (e *Engine) truncateResults(proc *Process) {
	if len(proc.Results) <= e.maxResults {
		return
	}
	trimmed := make([]StepResult, e.maxResults)
	copy(trimmed, proc.Results[len(proc.Results)-e.maxResults:])
	proc.Results = trimmed
}

// publishActive pushes the aggregate snapshot to the bus and any
// connected WebSocket clients.
func (e *Engine) publishActive(ctx context.Context, procs []Process) {
	if e.publisher == nil && e.hub == nil {
		return
	}

	tasks, err := e.tasks.FetchAll(ctx)
	if err != nil {
		e.logger.Error("fetching tasks for snapshot", "error", err)
		tasks = []Task{}
	}
	if procs == nil {
		procs = []Process{}
	}
	if tasks == nil {
		tasks = []Task{}
	}

	data := map[string]any{
		"processes": procs,
		"tasks":     tasks,
	}

	if e.publisher != nil {
		if err := e.publisher.PublishActive(data); err != nil {
			e.logger.Warn("publishing active snapshot", "error", err)
		}
	}
	if e.hub != nil {
		e.hub.Broadcast("automation.active", data)
	}
}
