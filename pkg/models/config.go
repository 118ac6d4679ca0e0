package models

import (
	"time"

	"github.com/pkg/errors"
)

// ErrorPolicy controls how task failures affect the rest of the run.
type ErrorPolicy string

const (
	// ContinueOnError marks transitive dependents of a failed task as
	// SKIPPED and lets independent tasks finish.
	ContinueOnError ErrorPolicy = "continue-on-error"
	// RollbackOnCritical surfaces the failure for a pipeline-level rollback.
	RollbackOnCritical ErrorPolicy = "rollback-on-critical"
	// AbortOnError stops the run on the first exhausted task.
	AbortOnError ErrorPolicy = "abort"
)

const (
	DefaultMaxConcurrentTasks = 4
	DefaultTaskTimeout        = 60 * time.Second
	DefaultMaxRetries         = 2
	DefaultMaxIterations      = 1000
	DefaultRetryBackoff       = 500 * time.Millisecond
	DefaultMaxRetryBackoff    = 30 * time.Second
	DefaultCheckpointInterval = 30 * time.Second
	DefaultCheckpointMaxCount = 20
	DefaultRetentionDays      = 7
	DefaultMaxTotalBytes      = 64 << 20
)

// PipelineConfig is the configuration surface consumed by the engine.
// It is produced elsewhere (flags, env) and validated at construction.
type PipelineConfig struct {
	MaxConcurrentTasks int           `json:"max_concurrent_tasks"`
	TaskTimeout        time.Duration `json:"task_timeout"`
	MaxRetries         int           `json:"max_retries"`
	RetryBackoff       time.Duration `json:"retry_backoff"`     // initial backoff, doubled per attempt
	MaxRetryBackoff    time.Duration `json:"max_retry_backoff"` // backoff ceiling
	MaxIterations      int           `json:"max_iterations"`    // scheduler loop bound

	CheckpointEnabled  bool          `json:"checkpoint_enabled"`
	CheckpointInterval time.Duration `json:"checkpoint_interval"`
	CheckpointMaxCount int           `json:"checkpoint_max_count"`
	RetentionDays      int           `json:"retention_days"`
	MaxTotalBytes      int64         `json:"max_total_bytes"`

	ErrorPolicy ErrorPolicy `json:"error_policy"`
}

// DefaultConfig returns a PipelineConfig with every knob at its default.
func DefaultConfig() PipelineConfig {
	return PipelineConfig{
		MaxConcurrentTasks: DefaultMaxConcurrentTasks,
		TaskTimeout:        DefaultTaskTimeout,
		MaxRetries:         DefaultMaxRetries,
		RetryBackoff:       DefaultRetryBackoff,
		MaxRetryBackoff:    DefaultMaxRetryBackoff,
		MaxIterations:      DefaultMaxIterations,
		CheckpointEnabled:  true,
		CheckpointInterval: DefaultCheckpointInterval,
		CheckpointMaxCount: DefaultCheckpointMaxCount,
		RetentionDays:      DefaultRetentionDays,
		MaxTotalBytes:      DefaultMaxTotalBytes,
		ErrorPolicy:        ContinueOnError,
	}
}

// Validate rejects configurations the engine cannot run with.
func (c PipelineConfig) Validate() error {
	if c.MaxConcurrentTasks <= 0 {
		return errors.New("max_concurrent_tasks must be positive")
	}
	if c.TaskTimeout <= 0 {
		return errors.New("task_timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("max_retries cannot be negative")
	}
	if c.MaxIterations <= 0 {
		return errors.New("max_iterations must be positive")
	}
	if c.RetryBackoff <= 0 {
		return errors.New("retry_backoff must be positive")
	}
	switch c.ErrorPolicy {
	case ContinueOnError, RollbackOnCritical, AbortOnError:
	default:
		return errors.Errorf("invalid error_policy %q", c.ErrorPolicy)
	}
	if c.CheckpointEnabled {
		if c.CheckpointMaxCount <= 0 {
			return errors.New("checkpoint_max_count must be positive")
		}
		if c.RetentionDays <= 0 {
			return errors.New("retention_days must be positive")
		}
		if c.MaxTotalBytes <= 0 {
			return errors.New("max_total_bytes must be positive")
		}
	}
	return nil
}
