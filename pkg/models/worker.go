package models

import "context"

type WorkerStatus string

const (
	IdleWorkerStatus    WorkerStatus = "idle"
	BusyWorkerStatus    WorkerStatus = "busy"
	ErrorWorkerStatus   WorkerStatus = "error"
	OfflineWorkerStatus WorkerStatus = "offline"
)

// Worker is a unit of execution selected by capability to run tasks.
// The scheduler never inspects a worker beyond this contract; content
// generation lives entirely behind Execute.
type Worker interface {
	// ID returns a stable identifier unique within one worker pool.
	ID() string
	// Capabilities returns the task types this worker can execute.
	Capabilities() []string
	// Status reports availability. Workers reporting error or offline
	// are never selected for dispatch.
	Status() WorkerStatus
	// CanHandle reports whether this worker can execute the given task.
	CanHandle(t *Task) bool
	// Execute runs the task to completion or failure. It must honor
	// ctx cancellation and return promptly when the deadline passes.
	Execute(ctx context.Context, t *Task) (TaskResult, error)
	// CurrentLoad returns the number of tasks the worker is executing.
	CurrentLoad() int
}
