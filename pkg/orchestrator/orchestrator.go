package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ACUY-D/MULTI-AGENT-CODE-sub001/pkg/checkpoint"
	"github.com/ACUY-D/MULTI-AGENT-CODE-sub001/pkg/models"
	"github.com/ACUY-D/MULTI-AGENT-CODE-sub001/pkg/pipeline"
	"github.com/ACUY-D/MULTI-AGENT-CODE-sub001/pkg/recovery"
	"github.com/ACUY-D/MULTI-AGENT-CODE-sub001/pkg/scheduler"
)

// Mode selects how a run advances between phases.
type Mode string

const (
	// ModeAuto runs every phase without confirmation.
	ModeAuto Mode = "auto"
	// ModeSemi asks the injected gate before entering each phase after
	// the first.
	ModeSemi Mode = "semi"
	// ModeDryRun executes all coordination logic but marks every phase
	// summary as virtual.
	ModeDryRun Mode = "dry-run"
)

// Logger defines the logging interface for the Orchestrator.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Planner supplies the tasks each phase schedules. Content generation
// stays behind the planner and the workers; the orchestrator only
// coordinates.
type Planner interface {
	PlanPhase(ctx context.Context, phase string, run *pipeline.RunContext) ([]*models.Task, error)
}

// PhaseRollbacker is an optional planner extension invoked when the
// pipeline rolls back a failed phase.
type PhaseRollbacker interface {
	RollbackPhase(ctx context.Context, run *pipeline.RunContext) error
}

// GateFunc confirms entry into a phase in semi mode. A non-nil error
// stops the run.
type GateFunc func(ctx context.Context, phase string, run *pipeline.RunContext) error

// PhaseSummary is the result recorded for one executed phase.
type PhaseSummary struct {
	Phase     string                       `json:"phase"`
	Tasks     int                          `json:"tasks"`
	Completed int                          `json:"completed"`
	Failed    int                          `json:"failed"`
	Skipped   int                          `json:"skipped"`
	Outputs   map[string]models.TaskResult `json:"outputs,omitempty"`
	Virtual   bool                         `json:"virtual,omitempty"`
}

// Status is a point-in-time view of the active run.
type Status struct {
	PipelineID  string                 `json:"pipeline_id"`
	State       string                 `json:"state"`
	Phase       string                 `json:"phase"`
	Progress    float64                `json:"progress"`
	StartedAt   time.Time              `json:"started_at,omitempty"`
	Checkpoints int                    `json:"checkpoints"`
	Tasks       checkpoint.TaskBuckets `json:"tasks"`
}

// Orchestrator owns one pipeline run at a time: a state machine for the
// phase sequence and a fresh scheduler per phase. All collaborators
// arrive through the constructor.
type Orchestrator struct {
	cfg     models.PipelineConfig
	store   checkpoint.Store
	planner Planner
	workers []models.Worker
	logger  Logger
	gate    GateFunc

	mu      sync.Mutex
	machine *pipeline.Machine
	sched   *scheduler.Scheduler
	mode    Mode
}

// ErrRunActive is returned by Run when a run is already in flight.
var ErrRunActive = recovery.NewKindError(recovery.ProtocolKind, "a pipeline run is already active")

// New builds an Orchestrator. The store may be nil to disable
// checkpointing; the planner may be nil for runs whose phases carry no
// tasks.
func New(cfg models.PipelineConfig, store checkpoint.Store, planner Planner, workers []models.Worker, logger Logger) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		store:   store,
		planner: planner,
		workers: workers,
		logger:  logger,
	}
}

// SetGate installs the semi-mode confirmation gate.
func (o *Orchestrator) SetGate(g GateFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gate = g
}

// Run executes a pipeline for the objective under the given mode and
// blocks until it reaches a terminal state.
func (o *Orchestrator) Run(ctx context.Context, objective string, mode Mode) (*models.Result, error) {
	m, err := o.arm(mode)
	if err != nil {
		return nil, err
	}
	pipelineID := uuid.NewString()
	o.logger.Infof("Starting pipeline %s (%s): %s", pipelineID, mode, objective)
	return m.Run(ctx, pipelineID, objective)
}

// ResumeFromCheckpoint rehydrates a run from a stored checkpoint and
// drives it to a terminal state.
func (o *Orchestrator) ResumeFromCheckpoint(ctx context.Context, id string, mode Mode) (*models.Result, error) {
	if o.store == nil {
		return nil, errors.New("no checkpoint store configured")
	}
	cp, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "resume from %s", id)
	}
	m, err := o.arm(mode)
	if err != nil {
		return nil, err
	}
	if err := m.Restore(cp); err != nil {
		o.disarm()
		return nil, err
	}
	o.logger.Infof("Resuming pipeline %s from checkpoint %s", cp.PipelineID, cp.ID)
	return m.Run(ctx, cp.PipelineID, "")
}

// arm installs a fresh machine for a new run, refusing while one is
// active.
func (o *Orchestrator) arm(mode Mode) (*pipeline.Machine, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.machine != nil {
		s := o.machine.State()
		if s != pipeline.StateIdle && !s.Terminal() {
			return nil, errors.Wrapf(ErrRunActive, "state %s", s)
		}
	}
	m := pipeline.New(o.cfg, o.store, o.logger)
	for _, phase := range []pipeline.State{
		pipeline.StateInitializing,
		pipeline.StateBrainstorming,
		pipeline.StateMapping,
		pipeline.StateActing,
		pipeline.StateDebriefing,
	} {
		p := phase
		if err := m.RegisterPhase(p, func(ctx context.Context, run *pipeline.RunContext) (models.TaskResult, error) {
			return o.runPhase(ctx, p, run)
		}); err != nil {
			return nil, err
		}
	}
	m.RegisterRollback(o.rollback)
	m.SetTaskSource(o)
	o.machine = m
	o.sched = nil
	o.mode = mode
	return m, nil
}

func (o *Orchestrator) disarm() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.machine = nil
	o.sched = nil
}

// runPhase plans the phase's tasks and drives them through a dedicated
// scheduler.
func (o *Orchestrator) runPhase(ctx context.Context, phase pipeline.State, run *pipeline.RunContext) (models.TaskResult, error) {
	o.mu.Lock()
	mode := o.mode
	gate := o.gate
	o.mu.Unlock()

	if mode == ModeSemi && gate != nil && phase != pipeline.StateInitializing {
		if err := gate(ctx, string(phase), run); err != nil {
			return nil, recovery.WrapKind(recovery.ValidationKind, errors.Wrapf(err, "gate rejected phase %s", phase))
		}
	}

	var tasks []*models.Task
	if o.planner != nil {
		var err error
		tasks, err = o.planner.PlanPhase(ctx, string(phase), run)
		if err != nil {
			return nil, errors.Wrapf(err, "plan phase %s", phase)
		}
	}
	if len(tasks) == 0 {
		return &PhaseSummary{Phase: string(phase), Virtual: mode == ModeDryRun}, nil
	}

	sched := scheduler.New(o.cfg, o.workers, o.store, o.logger)
	sched.SetSnapshotScope(run.PipelineID, string(phase))
	o.mu.Lock()
	o.sched = sched
	o.mu.Unlock()

	for _, t := range tasks {
		if err := sched.Admit(t); err != nil {
			return nil, errors.Wrapf(err, "admit task %s in phase %s", t.ID, phase)
		}
	}

	if err := sched.Run(ctx); err != nil {
		return nil, err
	}
	return o.summarize(phase, sched, mode), nil
}

func (o *Orchestrator) summarize(phase pipeline.State, sched *scheduler.Scheduler, mode Mode) *PhaseSummary {
	sum := &PhaseSummary{
		Phase:   string(phase),
		Outputs: make(map[string]models.TaskResult),
		Virtual: mode == ModeDryRun,
	}
	for _, t := range sched.Tasks() {
		sum.Tasks++
		switch t.Status {
		case models.CompletedTaskStatus:
			sum.Completed++
			if t.Output != nil {
				sum.Outputs[t.ID] = t.Output
			}
		case models.FailedTaskStatus:
			sum.Failed++
		case models.SkippedTaskStatus:
			sum.Skipped++
		}
	}
	return sum
}

// rollback delegates to the planner when it knows how to undo a phase.
func (o *Orchestrator) rollback(ctx context.Context, run *pipeline.RunContext) error {
	if pr, ok := o.planner.(PhaseRollbacker); ok {
		return pr.RollbackPhase(ctx, run)
	}
	o.logger.Infof("Pipeline %s: no rollback handler, relying on checkpoint restore", run.PipelineID)
	return nil
}

// Buckets reports the task buckets of the scheduler driving the current
// phase. Implements pipeline.TaskSource.
func (o *Orchestrator) Buckets() checkpoint.TaskBuckets {
	o.mu.Lock()
	sched := o.sched
	o.mu.Unlock()
	if sched == nil {
		return checkpoint.TaskBuckets{}
	}
	return sched.Buckets()
}

// Pause freezes the active run at its current phase.
func (o *Orchestrator) Pause(ctx context.Context) error {
	m := o.activeMachine()
	if m == nil {
		return errors.Wrap(pipeline.ErrNotRunning, "pause")
	}
	return m.Pause(ctx)
}

// Resume returns a paused run to its frozen phase.
func (o *Orchestrator) Resume() error {
	m := o.activeMachine()
	if m == nil {
		return errors.Wrap(pipeline.ErrNotRunning, "resume")
	}
	return m.Resume()
}

// Rollback rewinds the active run to MAPPING via its newest checkpoint.
func (o *Orchestrator) Rollback() error {
	m := o.activeMachine()
	if m == nil {
		return errors.Wrap(pipeline.ErrNotRunning, "rollback")
	}
	return m.Rollback()
}

// Abort cancels the active run.
func (o *Orchestrator) Abort() error {
	m := o.activeMachine()
	if m == nil {
		return errors.Wrap(pipeline.ErrNotRunning, "abort")
	}
	return m.Cancel()
}

// WaitForState blocks until the active run reaches the target state.
func (o *Orchestrator) WaitForState(target pipeline.State, timeout time.Duration) error {
	m := o.activeMachine()
	if m == nil {
		return errors.Wrap(pipeline.ErrNotRunning, "wait")
	}
	return m.WaitForState(target, timeout)
}

// Status reports the current run. A zero Status with state IDLE is
// returned when nothing has run yet.
func (o *Orchestrator) Status() Status {
	m := o.activeMachine()
	if m == nil {
		return Status{State: string(pipeline.StateIdle)}
	}
	st := Status{
		State: string(m.State()),
		Tasks: o.Buckets(),
	}
	if run := m.Context(); run != nil {
		st.PipelineID = run.PipelineID
		st.Phase = string(run.CurrentPhase)
		st.Progress = run.Progress
		st.StartedAt = run.StartedAt
		st.Checkpoints = len(run.Checkpoints)
	}
	return st
}

func (o *Orchestrator) activeMachine() *pipeline.Machine {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.machine
}
