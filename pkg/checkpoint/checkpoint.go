package checkpoint

import (
	"time"

	"github.com/pkg/errors"
)

// SchemaVersion is written into every snapshot so older stores can be
// detected on load.
const SchemaVersion = "1.0.0"

// StateSnapshot captures the pipeline state machine at checkpoint time.
type StateSnapshot struct {
	Phase    string                 `json:"phase"`
	Status   string                 `json:"status"`
	Progress float64                `json:"progress"`
	Context  map[string]interface{} `json:"context"`
}

// TaskBuckets holds task ids grouped by their status at checkpoint time.
type TaskBuckets struct {
	Completed  []string `json:"completed"`
	InProgress []string `json:"inProgress"`
	Pending    []string `json:"pending"`
	Failed     []string `json:"failed"`
}

// Metrics carries the run's timing at checkpoint time. Duration is the
// elapsed wall time in milliseconds.
type Metrics struct {
	StartTime time.Time `json:"startTime"`
	Duration  int64     `json:"duration"`
}

// Checkpoint is an immutable snapshot of pipeline and task state. Once
// written it is never mutated, only superseded or deleted by rotation.
type Checkpoint struct {
	ID         string                 `json:"id"`
	PipelineID string                 `json:"pipelineId"`
	Timestamp  time.Time              `json:"timestamp"`
	Version    string                 `json:"version"`
	State      StateSnapshot          `json:"state"`
	Tasks      TaskBuckets            `json:"tasks"`
	Artifacts  map[string]interface{} `json:"artifacts"`
	Metrics    Metrics                `json:"metrics"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Validate checks the fields every loadable snapshot must carry.
func (c *Checkpoint) Validate() error {
	if c == nil {
		return errors.New("nil checkpoint")
	}
	if c.PipelineID == "" {
		return errors.New("missing pipeline id")
	}
	if c.Version == "" {
		return errors.New("missing schema version")
	}
	if c.State.Phase == "" {
		return errors.New("missing phase")
	}
	if c.State.Progress < 0 || c.State.Progress > 100 {
		return errors.Errorf("progress %v out of range", c.State.Progress)
	}
	if c.ID == "" {
		return errors.New("missing id")
	}
	return nil
}
