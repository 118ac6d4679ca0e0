package models

import "time"

type TaskStatus string

const (
	PendingTaskStatus   TaskStatus = "PENDING"
	QueuedTaskStatus    TaskStatus = "QUEUED"
	RunningTaskStatus   TaskStatus = "RUNNING"
	CompletedTaskStatus TaskStatus = "COMPLETED"
	FailedTaskStatus    TaskStatus = "FAILED"
	SkippedTaskStatus   TaskStatus = "SKIPPED"
	CancelledTaskStatus TaskStatus = "CANCELLED"
)

// Terminal reports whether the status is final. A task in a terminal
// status is never transitioned again.
func (s TaskStatus) Terminal() bool {
	switch s {
	case CompletedTaskStatus, FailedTaskStatus, SkippedTaskStatus, CancelledTaskStatus:
		return true
	default:
		return false
	}
}

// Priority orders tasks in the ready queue. Higher values dispatch first.
type Priority int

const (
	LowPriority Priority = iota
	MediumPriority
	HighPriority
	CriticalPriority
)

func (p Priority) String() string {
	switch p {
	case CriticalPriority:
		return "CRITICAL"
	case HighPriority:
		return "HIGH"
	case MediumPriority:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// Demote returns the priority one tier lower, never below LOW. Used when
// the head of the ready queue has no capable worker available.
func (p Priority) Demote() Priority {
	if p <= LowPriority {
		return LowPriority
	}
	return p - 1
}

// TaskResult is the output of a task execution.
type TaskResult interface{}

// Task represents a unit of work scheduled within one pipeline run.
type Task struct {
	ID             string                 `json:"id"`                        // Unique identifier within one run
	Name           string                 `json:"name"`                      // Descriptive name (e.g., "GenerateModule")
	Type           string                 `json:"type"`                      // Capability tag matched against workers
	Priority       Priority               `json:"priority"`                  // Dispatch priority
	Status         TaskStatus             `json:"status"`                    // Lifecycle status
	Dependencies   []string               `json:"dependencies"`              // Task IDs that must complete first
	Input          map[string]interface{} `json:"input,omitempty"`           // Payload handed to the worker
	Output         TaskResult             `json:"output,omitempty"`          // Set on completion
	Retries        int                    `json:"retries"`                   // Max retry attempts (0 = pipeline default)
	Attempts       int                    `json:"attempts"`                  // Executions observed so far
	ErrorMsg       string                 `json:"error,omitempty"`           // Last error message
	AssignedWorker string                 `json:"assigned_worker,omitempty"` // Preferred worker ID, if any
	Timeout        *time.Duration         `json:"timeout,omitempty"`         // Per-task timeout override
	CreatedAt      time.Time              `json:"created_at"`
	StartedAt      *time.Time             `json:"started_at,omitempty"`
	FinishedAt     *time.Time             `json:"finished_at,omitempty"`
}
