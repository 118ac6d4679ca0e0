package models

import (
	"time"

	"github.com/ACUY-D/MULTI-AGENT-CODE-sub001/pkg/recovery"
)

type PipelineStatus string

const (
	PendingPipelineStatus   PipelineStatus = "PENDING"
	RunningPipelineStatus   PipelineStatus = "RUNNING"
	PausedPipelineStatus    PipelineStatus = "PAUSED"
	CompletedPipelineStatus PipelineStatus = "COMPLETED"
	FailedPipelineStatus    PipelineStatus = "FAILED"
)

// Result is the final outcome of a pipeline run. It always carries enough
// to resume: the phases completed so far, the failing identifiers and the
// most recent checkpoint id.
type Result struct {
	Success          bool                     `json:"success"`
	PipelineID       string                   `json:"pipeline_id"`
	CompletedPhases  []string                 `json:"completed_phases"`
	FailedPhase      string                   `json:"failed_phase,omitempty"`
	FailedTask       string                   `json:"failed_task,omitempty"`
	Classification   *recovery.Classification `json:"classification,omitempty"`
	PhaseResults     map[string]TaskResult    `json:"phase_results,omitempty"`
	Errors           []string                 `json:"errors,omitempty"`
	LastCheckpointID string                   `json:"last_checkpoint_id,omitempty"`
	StartedAt        time.Time                `json:"started_at"`
	FinishedAt       time.Time                `json:"finished_at"`
}
