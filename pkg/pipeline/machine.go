package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/ACUY-D/MULTI-AGENT-CODE-sub001/pkg/checkpoint"
	"github.com/ACUY-D/MULTI-AGENT-CODE-sub001/pkg/models"
	"github.com/ACUY-D/MULTI-AGENT-CODE-sub001/pkg/recovery"
)

// Logger defines the logging interface for the Machine.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// PhaseFunc is the unit of work one working state executes. It receives
// the run context for reading; mutations happen through the machine.
type PhaseFunc func(ctx context.Context, run *RunContext) (models.TaskResult, error)

// RollbackFunc undoes the side effects of the failed phase before the
// run rewinds to MAPPING.
type RollbackFunc func(ctx context.Context, run *RunContext) error

// TaskSource supplies the task buckets stamped onto checkpoints,
// typically the scheduler driving the current phase.
type TaskSource interface {
	Buckets() checkpoint.TaskBuckets
}

// Notifier receives terminal notifications. Optional.
type Notifier interface {
	PipelineCompleted(run *RunContext)
	PipelineFailed(run *RunContext, err error)
}

// Machine drives one pipeline run through the phase sequence. Every
// working state writes a checkpoint on entry, executes its phase
// operation, and advances on success or retries in place on failure.
// All collaborators are injected; the machine holds no global state.
type Machine struct {
	cfg    models.PipelineConfig
	store  checkpoint.Store
	logger Logger

	mu         sync.Mutex
	cond       *sync.Cond
	state      State
	epoch      uint64 // bumped on every transition; stale phase results carry an old epoch
	run        *RunContext
	phases     map[State]PhaseFunc
	rollbackFn RollbackFunc
	taskSource TaskSource
	notifier   Notifier
	lastErr    error
}

// New builds a Machine in the IDLE state. The store may be nil, in
// which case checkpointing is disabled (resume is then impossible).
func New(cfg models.PipelineConfig, store checkpoint.Store, logger Logger) *Machine {
	m := &Machine{
		cfg:    cfg,
		store:  store,
		logger: logger,
		state:  StateIdle,
		phases: make(map[State]PhaseFunc),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// RegisterPhase binds the unit of work a working state executes.
func (m *Machine) RegisterPhase(s State, fn PhaseFunc) error {
	if !s.Working() {
		return errors.Errorf("%s is not a working state", s)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phases[s] = fn
	return nil
}

// RegisterRollback binds the rollback operation.
func (m *Machine) RegisterRollback(fn RollbackFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollbackFn = fn
}

// SetTaskSource wires the provider of task buckets for checkpoints.
func (m *Machine) SetTaskSource(ts TaskSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.taskSource = ts
}

// SetNotifier wires the terminal notification sink.
func (m *Machine) SetNotifier(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifier = n
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Context returns the active run context, nil before the first run.
func (m *Machine) Context() *RunContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.run
}

// fireLocked applies an event against the transition table. The caller
// holds m.mu. PAUSED+RESUME resolves to the frozen previous phase.
func (m *Machine) fireLocked(ev Event) error {
	target, ok := next(m.state, ev)
	if !ok {
		return errors.Wrapf(ErrInvalidTransition, "%s in state %s", ev, m.state)
	}
	if m.state == StatePaused && ev == EventResume {
		target = m.run.PreviousPhase
		if target == "" {
			target = StateInitializing
		}
		m.run.PreviousPhase = ""
	}
	m.logger.Infof("Pipeline %s: %s --%s--> %s", m.pipelineIDLocked(), m.state, ev, target)
	m.state = target
	m.epoch++
	m.cond.Broadcast()
	return nil
}

func (m *Machine) pipelineIDLocked() string {
	if m.run == nil {
		return "?"
	}
	return m.run.PipelineID
}

// Run executes the pipeline to a terminal state. It may be entered from
// IDLE (fresh run), from a working state (after Restore), or from
// INITIALIZING (after Retry). Returns the terminal result; the error is
// non-nil iff the run failed.
func (m *Machine) Run(ctx context.Context, pipelineID, objective string) (*models.Result, error) {
	m.mu.Lock()
	switch {
	case m.state == StateIdle:
		m.run = newRunContext(pipelineID, objective)
		if err := m.fireLocked(EventStart); err != nil {
			m.mu.Unlock()
			return nil, err
		}
	case (m.state.Working() || m.state == StateRollingBack) && m.run != nil:
		// Resuming a restored or retried run.
	default:
		state := m.state
		m.mu.Unlock()
		return nil, errors.Wrapf(ErrInvalidTransition, "run from state %s", state)
	}
	m.mu.Unlock()

	// Wake pause-waiters when the caller cancels.
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			m.cond.Broadcast()
		case <-watchDone:
		}
	}()
	defer close(watchDone)

	for {
		m.mu.Lock()
		state := m.state
		m.mu.Unlock()

		if ctx.Err() != nil && !state.Terminal() {
			m.mu.Lock()
			if m.lastErr == nil {
				m.lastErr = errors.Wrap(ctx.Err(), "pipeline cancelled")
			}
			_ = m.fireLocked(EventCancel)
			m.mu.Unlock()
			continue
		}

		switch {
		case state.Working():
			m.runPhase(ctx, state)
		case state == StateRollingBack:
			m.doRollback(ctx)
		case state == StatePaused:
			m.awaitResume(ctx)
		case state == StateCompleted:
			m.finalize(ctx)
			return m.result(), nil
		case state == StateFailed:
			m.notifyFailed()
			res := m.result()
			m.mu.Lock()
			err := m.lastErr
			m.mu.Unlock()
			if err == nil {
				err = errors.New("pipeline failed")
			}
			return res, err
		default:
			return nil, errors.Wrapf(ErrInvalidTransition, "unexpected state %s", state)
		}
	}
}

// runPhase executes one working state: entry checkpoint, phase
// operation under the pipeline task timeout, then advance/retry/fail.
func (m *Machine) runPhase(ctx context.Context, phase State) {
	m.mu.Lock()
	m.run.CurrentPhase = phase
	run := m.run
	fn := m.phases[phase]
	entry := m.epoch
	m.mu.Unlock()

	// Entry checkpoint is synchronous. A failed write is logged, not
	// fatal: losing one checkpoint is recoverable from the prior one.
	m.saveCheckpoint(ctx, phase, models.RunningPipelineStatus)

	var res models.TaskResult
	var err error
	if fn != nil {
		phaseCtx, cancel := context.WithTimeout(ctx, m.cfg.TaskTimeout)
		res, err = fn(phaseCtx, run)
		if err == nil && phaseCtx.Err() == context.DeadlineExceeded {
			err = recovery.NewKindError(recovery.TimeoutKind, fmt.Sprintf("phase %s timed out", phase))
		}
		cancel()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != phase || m.epoch != entry {
		// The machine transitioned since this phase entry: paused (even
		// if already resumed back into the same phase), cancelled,
		// skipped or rolled back. The result is dropped and the phase
		// re-runs in full if re-entered.
		return
	}

	if err == nil {
		m.run.Results[string(phase)] = res
		m.run.RetryCount = 0
		m.run.Progress = float64(phaseIndex(phase)+1) / float64(len(workingOrder)) * 100
		if phase == StateDebriefing {
			_ = m.fireLocked(EventComplete)
		} else {
			_ = m.fireLocked(EventNextPhase)
		}
		return
	}

	m.run.Errors = append(m.run.Errors, fmt.Sprintf("%s: %v", phase, err))

	switch recovery.Decide(err) {
	case recovery.AbortAction:
		m.lastErr = err
		_ = m.fireLocked(EventCancel)
		return
	case recovery.EscalateAction, recovery.RollbackAction:
		// Not worth retrying in place.
		m.lastErr = err
		_ = m.fireLocked(EventError)
		return
	}

	if m.run.RetryCount < m.cfg.MaxRetries {
		m.run.RetryCount++
		m.logger.Infof("Pipeline %s: retrying phase %s in place (%d/%d): %v",
			run.PipelineID, phase, m.run.RetryCount, m.cfg.MaxRetries, err)
		_ = m.fireLocked(EventRetry)
		return
	}

	m.lastErr = errors.Wrapf(recovery.ErrRetryBudgetExceeded, "phase %s: %v", phase, err)
	_ = m.fireLocked(EventError)
}

// doRollback runs the rollback operation and, when a prior checkpoint
// exists, restores the run context from it and rewinds to MAPPING so
// the ACTING work is re-derived. Without a checkpoint the run fails.
func (m *Machine) doRollback(ctx context.Context) {
	m.mu.Lock()
	run := m.run
	fn := m.rollbackFn
	m.mu.Unlock()

	var err error
	if fn != nil {
		err = fn(ctx, run)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.logger.Errorf("Pipeline %s: rollback failed: %v", run.PipelineID, err)
		m.lastErr = err
		_ = m.fireLocked(EventError)
		return
	}
	if m.store == nil || len(run.Checkpoints) == 0 {
		m.logger.Errorf("Pipeline %s: rollback succeeded but no checkpoint to restore", run.PipelineID)
		_ = m.fireLocked(EventError)
		return
	}

	cp, cperr := m.store.GetLatest(ctx, run.PipelineID)
	if cperr != nil {
		m.logger.Errorf("Pipeline %s: cannot load checkpoint for rollback: %v", run.PipelineID, cperr)
		m.lastErr = cperr
		_ = m.fireLocked(EventError)
		return
	}

	run.Progress = cp.State.Progress
	restoreResults(run, cp)
	run.RetryCount = 0
	run.CurrentPhase = StateMapping
	m.logger.Infof("Pipeline %s: rolled back to MAPPING at progress %.1f", run.PipelineID, run.Progress)
	_ = m.fireLocked(EventComplete)
}

func (m *Machine) awaitResume(ctx context.Context) {
	m.mu.Lock()
	for m.state == StatePaused && ctx.Err() == nil {
		m.cond.Wait()
	}
	m.mu.Unlock()
}

// Pause freezes the run from any working state. The current phase is
// recorded as the previous phase and a checkpoint is written; the phase
// operation in flight is discarded and re-run in full on resume.
func (m *Machine) Pause(ctx context.Context) error {
	m.mu.Lock()
	if !m.state.Working() {
		state := m.state
		m.mu.Unlock()
		return errors.Wrapf(ErrInvalidTransition, "pause in state %s", state)
	}
	phase := m.state
	m.run.PreviousPhase = phase
	if err := m.fireLocked(EventPause); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	m.saveCheckpoint(ctx, phase, models.PausedPipelineStatus)
	return nil
}

// Resume returns a paused run to the exact phase it was paused from
// (shallow history) and clears the previous-phase marker.
func (m *Machine) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePaused {
		return errors.Wrapf(ErrInvalidTransition, "resume in state %s", m.state)
	}
	return m.fireLocked(EventResume)
}

// Cancel forces the run to FAILED. Work in flight is not interrupted
// here; the scheduler observes its own context.
func (m *Machine) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Terminal() {
		return nil
	}
	if m.lastErr == nil {
		m.lastErr = errors.New("pipeline cancelled")
	}
	return m.fireLocked(EventCancel)
}

// Skip advances past the current working state without recording a
// result.
func (m *Machine) Skip() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.Working() {
		return errors.Wrapf(ErrInvalidTransition, "skip in state %s", m.state)
	}
	m.run.Progress = float64(phaseIndex(m.state)+1) / float64(len(workingOrder)) * 100
	m.run.RetryCount = 0
	return m.fireLocked(EventSkip)
}

// Rollback forces the run out of its current working state into
// ROLLING_BACK: the in-flight phase result is discarded, the rollback
// operation runs, and the run rewinds to MAPPING from the newest
// checkpoint.
func (m *Machine) Rollback() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.Working() {
		return errors.Wrapf(ErrInvalidTransition, "rollback in state %s", m.state)
	}
	return m.fireLocked(EventRollback)
}

// Retry re-arms a FAILED run: the retry counter is reset and the state
// returns to INITIALIZING. The caller then invokes Run again.
func (m *Machine) Retry() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateFailed {
		return errors.Wrapf(ErrInvalidTransition, "retry in state %s", m.state)
	}
	if m.run == nil {
		return errors.Wrap(ErrNotRunning, "no run context")
	}
	m.run.RetryCount = 0
	m.lastErr = nil
	return m.fireLocked(EventRetry)
}

// Restore rehydrates a fresh machine from a checkpoint so Run continues
// from the checkpointed phase with its progress and results intact.
func (m *Machine) Restore(cp *checkpoint.Checkpoint) error {
	if cp == nil {
		return errors.New("nil checkpoint")
	}
	if err := cp.Validate(); err != nil {
		return errors.Wrap(err, "restore")
	}
	phase := State(cp.State.Phase)
	if !phase.Working() {
		return errors.Errorf("cannot restore into state %s", phase)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateIdle {
		return errors.Wrapf(ErrInvalidTransition, "restore in state %s", m.state)
	}
	objective := ""
	if v, ok := cp.State.Context["objective"].(string); ok {
		objective = v
	}
	run := newRunContext(cp.PipelineID, objective)
	run.CurrentPhase = phase
	run.Progress = cp.State.Progress
	run.Checkpoints = []string{cp.ID}
	if !cp.Metrics.StartTime.IsZero() {
		run.StartedAt = cp.Metrics.StartTime
	}
	restoreResults(run, cp)
	m.run = run
	m.state = phase
	m.epoch++
	m.cond.Broadcast()
	m.logger.Infof("Pipeline %s: restored from checkpoint %s at phase %s (progress %.1f)",
		run.PipelineID, cp.ID, phase, run.Progress)
	return nil
}

// WaitForState blocks until the machine reaches the target state. A
// zero timeout waits forever; otherwise ErrWaitTimeout.
func (m *Machine) WaitForState(target State, timeout time.Duration) error {
	var expired atomic.Bool
	if timeout > 0 {
		timer := time.AfterFunc(timeout, func() {
			expired.Store(true)
			m.cond.Broadcast()
		})
		defer timer.Stop()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.state != target {
		if expired.Load() {
			return errors.Wrapf(ErrWaitTimeout, "waiting for %s (current %s)", target, m.state)
		}
		m.cond.Wait()
	}
	return nil
}

// finalize writes the terminal checkpoint and emits the completion
// notification.
func (m *Machine) finalize(ctx context.Context) {
	m.mu.Lock()
	m.run.Progress = 100
	run := m.run
	notifier := m.notifier
	m.mu.Unlock()

	m.saveCheckpoint(ctx, StateCompleted, models.CompletedPipelineStatus)
	m.logger.Infof("Pipeline %s completed", run.PipelineID)
	if notifier != nil {
		notifier.PipelineCompleted(run)
	}
}

func (m *Machine) notifyFailed() {
	m.mu.Lock()
	run := m.run
	notifier := m.notifier
	err := m.lastErr
	m.mu.Unlock()
	m.logger.Errorf("Pipeline %s failed: %v", run.PipelineID, err)
	if notifier != nil {
		notifier.PipelineFailed(run, err)
	}
}

// saveCheckpoint snapshots the run under the given phase label. Write
// failures are logged and swallowed; the previous checkpoint still
// covers the run.
func (m *Machine) saveCheckpoint(ctx context.Context, phase State, status models.PipelineStatus) {
	if m.store == nil || !m.cfg.CheckpointEnabled {
		return
	}
	m.mu.Lock()
	run := m.run
	results := make(map[string]interface{}, len(run.Results))
	for k, v := range run.Results {
		results[k] = v
	}
	cp := &checkpoint.Checkpoint{
		PipelineID: run.PipelineID,
		State: checkpoint.StateSnapshot{
			Phase:    string(phase),
			Status:   string(status),
			Progress: run.Progress,
			Context: map[string]interface{}{
				"objective":  run.Objective,
				"results":    results,
				"retryCount": run.RetryCount,
			},
		},
		Artifacts: run.Artifacts,
		Metrics: checkpoint.Metrics{
			StartTime: run.StartedAt,
			Duration:  time.Since(run.StartedAt).Milliseconds(),
		},
	}
	if m.taskSource != nil {
		cp.Tasks = m.taskSource.Buckets()
	}
	m.mu.Unlock()

	id, err := m.store.Save(ctx, cp)
	if err != nil {
		m.logger.Errorf("Pipeline %s: checkpoint at %s failed: %v", run.PipelineID, phase, err)
		return
	}
	m.mu.Lock()
	run.Checkpoints = append(run.Checkpoints, id)
	m.mu.Unlock()
}

// result builds the user-visible outcome of the run.
func (m *Machine) result() *models.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := m.run
	res := &models.Result{
		Success:          m.state == StateCompleted,
		PipelineID:       run.PipelineID,
		CompletedPhases:  run.completedPhases(),
		PhaseResults:     run.Results,
		Errors:           append([]string(nil), run.Errors...),
		LastCheckpointID: run.LastCheckpointID(),
		StartedAt:        run.StartedAt,
		FinishedAt:       time.Now(),
	}
	if m.state == StateFailed {
		res.FailedPhase = string(run.CurrentPhase)
		var tf interface{ FailedTask() string }
		if errors.As(m.lastErr, &tf) {
			res.FailedTask = tf.FailedTask()
		}
		if m.lastErr != nil {
			cls := recovery.Classify(m.lastErr)
			res.Classification = &cls
		}
	}
	return res
}

func restoreResults(run *RunContext, cp *checkpoint.Checkpoint) {
	if results, ok := cp.State.Context["results"].(map[string]interface{}); ok {
		for k, v := range results {
			run.Results[k] = v
		}
	}
}
