package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/ACUY-D/MULTI-AGENT-CODE-sub001/pkg/checkpoint"
	"github.com/ACUY-D/MULTI-AGENT-CODE-sub001/pkg/models"
	"github.com/ACUY-D/MULTI-AGENT-CODE-sub001/pkg/recovery"
)

// Logger defines the logging interface for the Scheduler.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// taskOutcome is sent by a dispatch goroutine when a task finishes. The
// attempt count and last error message travel here instead of being
// written onto the task from the goroutine, so task fields are only
// mutated under s.mu.
type taskOutcome struct {
	task     *models.Task
	workerID string
	result   models.TaskResult
	err      error
	attempts int
	errMsg   string
}

// Scheduler drains a dependency graph of tasks through a pool of workers
// under a concurrency bound. One Scheduler serves exactly one pipeline
// run; its graph, queue and running set are never shared.
type Scheduler struct {
	cfg        models.PipelineConfig
	workers    []models.Worker
	logger     Logger
	store      checkpoint.Store // optional, periodic snapshots
	pipelineID string
	phase      string

	mu       sync.Mutex
	graph    *graph
	queue    *readyQueue
	running  map[string]struct{} // task ids currently executing
	inflight map[string]int      // per-worker running count
	failures map[string]error
	done     chan taskOutcome
	lastSnap time.Time
}

// New builds a Scheduler. The checkpoint store may be nil, in which case
// periodic snapshots are disabled. All collaborators are injected; the
// scheduler holds no global state.
func New(cfg models.PipelineConfig, workers []models.Worker, store checkpoint.Store, logger Logger) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		workers:  workers,
		logger:   logger,
		store:    store,
		graph:    newGraph(),
		queue:    newReadyQueue(),
		running:  make(map[string]struct{}),
		inflight: make(map[string]int),
		failures: make(map[string]error),
	}
}

// SetSnapshotScope names the pipeline and phase stamped onto periodic
// snapshots. Without a scope the scheduler never snapshots.
func (s *Scheduler) SetSnapshotScope(pipelineID, phase string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipelineID = pipelineID
	s.phase = phase
}

// Admit registers a task and its declared dependencies. Dependencies
// must already be admitted; an insertion that would close a cycle is
// rolled back and rejected.
func (s *Scheduler) Admit(t *models.Task) error {
	if t == nil {
		return errors.New("nil task")
	}
	if t.Status == "" {
		t.Status = models.PendingTaskStatus
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.graph.admit(t); err != nil {
		return err
	}
	s.logger.Infof("Admitted task %s (%s, priority %s, deps %v)", t.ID, t.Type, t.Priority, t.Dependencies)
	return nil
}

// Tasks returns a snapshot of the admitted tasks in admission order.
// The entries are copies, safe to read while the run is still going.
func (s *Scheduler) Tasks() []*models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Task, 0, len(s.graph.order))
	for _, id := range s.graph.order {
		snapshot := *s.graph.tasks[id]
		out = append(out, &snapshot)
	}
	return out
}

// Failures returns the terminal error of every exhausted task.
func (s *Scheduler) Failures() map[string]error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]error, len(s.failures))
	for k, v := range s.failures {
		out[k] = v
	}
	return out
}

// Buckets groups admitted task ids by status for checkpointing.
func (s *Scheduler) Buckets() checkpoint.TaskBuckets {
	s.mu.Lock()
	defer s.mu.Unlock()
	completed, inProgress, pending, failed := s.graph.buckets()
	return checkpoint.TaskBuckets{
		Completed:  completed,
		InProgress: inProgress,
		Pending:    pending,
		Failed:     failed,
	}
}

// Run drains the graph to completion or deadlock. Each iteration moves
// ready tasks into the priority queue, dispatches while the concurrency
// budget allows, then waits for at least one running task to finish.
// It returns nil when every task reached COMPLETED, a *TaskError when a
// task exhausted its retries, ErrDeadlock when unfinished tasks can
// never run, and ErrIterationLimit when the loop bound is hit.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.done = make(chan taskOutcome, s.cfg.MaxConcurrentTasks+1)
	s.mu.Unlock()

	var firstFailure *TaskError

	for iter := 0; ; iter++ {
		if iter >= s.cfg.MaxIterations {
			return errors.Wrapf(ErrIterationLimit, "after %d iterations", iter)
		}

		s.mu.Lock()
		// Ready set: PENDING tasks with all dependencies satisfied.
		for _, t := range s.graph.ready() {
			t.Status = models.QueuedTaskStatus
			s.queue.push(t, t.Priority)
		}

		// Dispatch under the concurrency bound. The cancel signal is
		// observed here, before each new dispatch: no new work starts
		// after cancellation, running tasks are left to finish.
		var stranded []*queueItem
		cancelled := ctx.Err() != nil
		stopDispatch := cancelled || (firstFailure != nil && s.cfg.ErrorPolicy != models.ContinueOnError)
		for !stopDispatch && len(s.running) < s.cfg.MaxConcurrentTasks && s.queue.Len() > 0 {
			item := s.queue.pop()
			if item.task.Status != models.QueuedTaskStatus {
				continue // skipped or cancelled while queued
			}
			w := s.selectWorkerLocked(item.task)
			if w == nil {
				// Nobody free for this task right now. Re-enqueue one
				// tier lower instead of blocking the queue head.
				item.priority = item.priority.Demote()
				stranded = append(stranded, item)
				continue
			}
			s.startTaskLocked(ctx, item.task, w)
		}
		for _, item := range stranded {
			s.queue.push(item.task, item.priority)
		}

		runningCount := len(s.running)
		queued := s.queue.Len()
		unfinished := s.graph.unfinished()
		s.mu.Unlock()

		if unfinished == 0 {
			s.maybeSnapshot(ctx, true)
			if ctx.Err() != nil && s.anyCancelled() {
				return errors.Wrap(ctx.Err(), "run cancelled")
			}
			if firstFailure != nil {
				return firstFailure
			}
			return nil
		}

		if runningCount == 0 {
			if cancelled {
				s.cancelRemaining()
				return errors.Wrap(ctx.Err(), "run cancelled")
			}
			if firstFailure != nil && s.cfg.ErrorPolicy != models.ContinueOnError {
				return firstFailure
			}
			if queued == 0 || !s.anyCapableWorker() {
				return errors.Wrapf(ErrDeadlock, "%d unfinished tasks", unfinished)
			}
			// Queued work exists but every capable worker is occupied
			// elsewhere; give worker state a moment to change. The
			// iteration limit bounds this.
			time.Sleep(10 * time.Millisecond)
			continue
		}

		// Wait for at least one running task to finish.
		out := <-s.done
		s.finish(out, &firstFailure)

		// Drain whatever else finished meanwhile without blocking.
	drain:
		for {
			select {
			case out := <-s.done:
				s.finish(out, &firstFailure)
			default:
				break drain
			}
		}

		s.maybeSnapshot(ctx, false)
	}
}

// selectWorkerLocked picks a worker for the task: the pre-assigned
// worker when it is idle and capable, otherwise the least-loaded idle
// worker advertising the task's capability (earlier registration wins
// ties).
func (s *Scheduler) selectWorkerLocked(t *models.Task) models.Worker {
	if t.AssignedWorker != "" {
		for _, w := range s.workers {
			if w.ID() == t.AssignedWorker && s.eligibleLocked(w, t) {
				return w
			}
		}
	}
	var best models.Worker
	for _, w := range s.workers {
		if !s.eligibleLocked(w, t) {
			continue
		}
		if best == nil || w.CurrentLoad() < best.CurrentLoad() {
			best = w
		}
	}
	return best
}

// eligibleLocked reports whether w can take t right now. The per-worker
// cap is enforced against inflight, which is updated synchronously under
// s.mu; Status alone lags behind a dispatch whose goroutine has not
// begun executing yet.
func (s *Scheduler) eligibleLocked(w models.Worker, t *models.Task) bool {
	if s.inflight[w.ID()] > 0 {
		return false
	}
	if w.Status() != models.IdleWorkerStatus {
		return false
	}
	return w.CanHandle(t)
}

// anyCapableWorker reports whether some worker could ever run a queued
// task, ignoring its current load. Used to tell a momentary stall from a
// true deadlock.
func (s *Scheduler) anyCapableWorker() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.queue.items {
		for _, w := range s.workers {
			if w.Status() == models.OfflineWorkerStatus || w.Status() == models.ErrorWorkerStatus {
				continue
			}
			if w.CanHandle(item.task) {
				return true
			}
		}
	}
	return false
}

func (s *Scheduler) startTaskLocked(ctx context.Context, t *models.Task, w models.Worker) {
	now := time.Now()
	t.Status = models.RunningTaskStatus
	t.StartedAt = &now
	s.running[t.ID] = struct{}{}
	s.inflight[w.ID()]++
	s.logger.Infof("Dispatching task %s to worker %s", t.ID, w.ID())
	go s.execute(ctx, t, w)
}

// execute runs one task through its bounded retry loop. Retries are a
// property of the single task, not of the run: the same worker re-attempts
// after an exponential backoff until the budget is spent.
func (s *Scheduler) execute(ctx context.Context, t *models.Task, w models.Worker) {
	timeout := s.cfg.TaskTimeout
	if t.Timeout != nil {
		timeout = *t.Timeout
	}
	maxRetries := s.cfg.MaxRetries
	if t.Retries > 0 {
		maxRetries = t.Retries
	}
	backoff := s.cfg.RetryBackoff

	var result models.TaskResult
	var taskErr error
	var lastMsg string
	attempts := 0
	retriedOut := false

	for attempt := 0; attempt <= maxRetries; attempt++ {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		result, taskErr = w.Execute(attemptCtx, t)
		timedOut := attemptCtx.Err() == context.DeadlineExceeded
		cancel()

		if taskErr == nil && !timedOut {
			break
		}
		if ctx.Err() != nil {
			taskErr = ctx.Err()
			break
		}
		if timedOut {
			taskErr = errors.Wrapf(ErrTaskTimeout, "task %s after %s (attempt %d)", t.ID, timeout, attempt+1)
		}
		lastMsg = taskErr.Error()

		cls := recovery.Classify(taskErr)
		if !cls.Retryable {
			break
		}
		if attempt == maxRetries {
			retriedOut = true
			break
		}
		s.logger.Infof("Retrying task %s in %s (attempt %d/%d): %v", t.ID, backoff, attempt+1, maxRetries, taskErr)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			taskErr = ctx.Err()
		}
		backoff *= 2
		if s.cfg.MaxRetryBackoff > 0 && backoff > s.cfg.MaxRetryBackoff {
			backoff = s.cfg.MaxRetryBackoff
		}
		if ctx.Err() != nil {
			break
		}
	}

	if retriedOut {
		taskErr = errors.Wrapf(recovery.ErrRetryBudgetExceeded, "task %s: %v", t.ID, taskErr)
	}
	s.done <- taskOutcome{task: t, workerID: w.ID(), result: result, err: taskErr, attempts: attempts, errMsg: lastMsg}
}

// finish applies a task outcome: completion unlocks dependents, failure
// either skips them (continue-on-error) or becomes the run's error.
func (s *Scheduler) finish(out taskOutcome, firstFailure **TaskError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := out.task
	if _, ok := s.running[t.ID]; !ok {
		return // completion already observed
	}
	delete(s.running, t.ID)
	if s.inflight[out.workerID] > 0 {
		s.inflight[out.workerID]--
	}
	now := time.Now()
	t.FinishedAt = &now
	t.Attempts = out.attempts
	if out.errMsg != "" {
		t.ErrorMsg = out.errMsg
	}

	if out.err == nil {
		t.Status = models.CompletedTaskStatus
		t.Output = out.result
		s.graph.onCompleted(t.ID)
		s.logger.Infof("Task %s completed after %d attempt(s)", t.ID, t.Attempts)
		return
	}

	if errors.Is(out.err, context.Canceled) {
		t.Status = models.CancelledTaskStatus
		s.logger.Infof("Task %s cancelled", t.ID)
		return
	}

	t.Status = models.FailedTaskStatus
	t.ErrorMsg = out.err.Error()
	s.failures[t.ID] = out.err
	skipped := s.graph.skipDependents(t.ID)
	s.logger.Errorf("Task %s failed: %v (skipping %d dependents)", t.ID, out.err, len(skipped))

	if *firstFailure == nil {
		*firstFailure = &TaskError{TaskID: t.ID, Skipped: skipped, Err: out.err}
	}
}

func (s *Scheduler) anyCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.graph.tasks {
		if t.Status == models.CancelledTaskStatus {
			return true
		}
	}
	return false
}

// cancelRemaining marks every queued or pending task CANCELLED. Running
// tasks are never interrupted; their own ctx propagation ends them.
func (s *Scheduler) cancelRemaining() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.graph.tasks {
		switch t.Status {
		case models.PendingTaskStatus, models.QueuedTaskStatus:
			t.Status = models.CancelledTaskStatus
		}
	}
}

// maybeSnapshot writes a periodic snapshot of the task buckets. Failures
// are logged and swallowed: a lost periodic snapshot never aborts a run.
func (s *Scheduler) maybeSnapshot(ctx context.Context, force bool) {
	s.mu.Lock()
	enabled := s.store != nil && s.cfg.CheckpointEnabled && s.pipelineID != ""
	due := force || time.Since(s.lastSnap) >= s.cfg.CheckpointInterval
	if !enabled || !due {
		s.mu.Unlock()
		return
	}
	s.lastSnap = time.Now()
	completed, inProgress, pending, failed := s.graph.buckets()
	total := s.graph.total
	phase := s.phase
	pipelineID := s.pipelineID
	s.mu.Unlock()

	progress := 0.0
	if total > 0 {
		progress = float64(len(completed)) / float64(total) * 100
	}
	cp := &checkpoint.Checkpoint{
		PipelineID: pipelineID,
		State: checkpoint.StateSnapshot{
			Phase:    phase,
			Status:   string(models.RunningPipelineStatus),
			Progress: progress,
			Context:  map[string]interface{}{"source": "scheduler"},
		},
		Tasks: checkpoint.TaskBuckets{
			Completed:  completed,
			InProgress: inProgress,
			Pending:    pending,
			Failed:     failed,
		},
		Metrics: checkpoint.Metrics{StartTime: s.lastSnap},
	}
	if _, err := s.store.Save(ctx, cp); err != nil {
		s.logger.Errorf("Periodic snapshot failed: %v", err)
	}
}
