package pipeline

import (
	"time"

	"github.com/ACUY-D/MULTI-AGENT-CODE-sub001/pkg/models"
)

// RunContext is the mutable state of one pipeline run. It is owned by
// the Machine and mutated only by its transition actions; it is not
// persisted beyond the checkpoints derived from it.
type RunContext struct {
	PipelineID    string
	Objective     string
	CurrentPhase  State
	PreviousPhase State // set while paused, cleared on resume
	Progress      float64
	StartedAt     time.Time
	Results       map[string]models.TaskResult // phase name -> result
	Errors        []string
	Checkpoints   []string // checkpoint ids produced so far, oldest first
	RetryCount    int      // in-place retries of the current phase
	Artifacts     map[string]interface{}
}

func newRunContext(pipelineID, objective string) *RunContext {
	return &RunContext{
		PipelineID: pipelineID,
		Objective:  objective,
		StartedAt:  time.Now(),
		Results:    make(map[string]models.TaskResult),
		Artifacts:  make(map[string]interface{}),
	}
}

// LastCheckpointID returns the most recently written checkpoint id.
func (r *RunContext) LastCheckpointID() string {
	if len(r.Checkpoints) == 0 {
		return ""
	}
	return r.Checkpoints[len(r.Checkpoints)-1]
}

// completedPhases lists the phases with a recorded result, in working
// order.
func (r *RunContext) completedPhases() []string {
	var out []string
	for _, s := range workingOrder {
		if _, ok := r.Results[string(s)]; ok {
			out = append(out, string(s))
		}
	}
	return out
}
