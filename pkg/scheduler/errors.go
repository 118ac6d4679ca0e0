package scheduler

import (
	"fmt"
	"strings"

	"github.com/ACUY-D/MULTI-AGENT-CODE-sub001/pkg/recovery"
)

var (
	// ErrCycleDetected is returned by Admit when inserting the task
	// would make the dependency graph cyclic.
	ErrCycleDetected = recovery.NewKindError(recovery.ValidationKind, "cycle detected")
	// ErrUnknownDependency is returned by Admit when a declared
	// dependency has not been admitted yet.
	ErrUnknownDependency = recovery.NewKindError(recovery.ValidationKind, "unknown dependency")
	// ErrDeadlock is returned by Run when unfinished tasks remain but
	// nothing is ready and nothing is running.
	ErrDeadlock = recovery.NewKindError(recovery.ProtocolKind, "deadlock: unfinished tasks with nothing runnable")
	// ErrTaskTimeout marks a single dispatch that exceeded its timeout.
	ErrTaskTimeout = recovery.NewKindError(recovery.TimeoutKind, "task timed out")
	// ErrIterationLimit is returned by Run when the loop bound is hit
	// before the graph drains.
	ErrIterationLimit = recovery.NewKindError(recovery.ProtocolKind, "iteration limit exceeded")
)

// TaskError is the pipeline-level error for an exhausted task. It names
// the failing task and the dependents skipped because of it.
type TaskError struct {
	TaskID  string
	Skipped []string
	Err     error
}

func (e *TaskError) Error() string {
	if len(e.Skipped) > 0 {
		return fmt.Sprintf("task %s failed (skipped dependents: %s): %v",
			e.TaskID, strings.Join(e.Skipped, ", "), e.Err)
	}
	return fmt.Sprintf("task %s failed: %v", e.TaskID, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// FailedTask names the task that caused the failure.
func (e *TaskError) FailedTask() string {
	return e.TaskID
}
