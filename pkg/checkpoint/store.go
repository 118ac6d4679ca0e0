package checkpoint

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when no stored snapshot matches an id.
	ErrNotFound = errors.New("checkpoint not found")
	// ErrCorrupt is returned when a stored snapshot cannot be decoded.
	ErrCorrupt = errors.New("checkpoint corrupt")
	// ErrWriteFailed is returned when a snapshot cannot be written
	// durably. The failure is transient from the caller's perspective
	// and the save may be retried.
	ErrWriteFailed = errors.New("checkpoint write failed")
)

// Logger is the narrow logging contract the stores depend on.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// NewID derives a checkpoint id from the creation time, the pipeline id
// and a short random suffix. Colons and dots in the timestamp are
// replaced so the id stays filesystem-safe.
func NewID(prefix, pipelineID string, ts time.Time) string {
	stamp := strings.NewReplacer(":", "-", ".", "-").
		Replace(ts.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
	suffix := uuid.New().String()[:8]
	return fmt.Sprintf("%s_%s_%s_%s", prefix, stamp, pipelineID, suffix)
}

// Metadata describes a stored snapshot without its body.
type Metadata struct {
	ID         string    `json:"id"`
	PipelineID string    `json:"pipelineId"`
	Timestamp  time.Time `json:"timestamp"`
	Size       int64     `json:"size"`
	Compressed bool      `json:"compressed"`
}

// Store persists pipeline snapshots. Implementations must make writes
// atomic from the caller's perspective: Load never observes a partially
// written snapshot. Save is safe to call concurrently from the state
// machine and the scheduler because every snapshot gets its own id.
type Store interface {
	// Save assigns an id (unless one is set), writes the snapshot
	// durably and triggers rotation. Returns the assigned id.
	Save(ctx context.Context, cp *Checkpoint) (string, error)
	// Load finds a snapshot by id substring match.
	Load(ctx context.Context, id string) (*Checkpoint, error)
	// List enumerates stored snapshots newest-first, optionally
	// filtered by pipeline id. Bodies are not loaded.
	List(ctx context.Context, pipelineID string) ([]Metadata, error)
	// GetLatest returns the newest loadable snapshot for a pipeline,
	// skipping over snapshots that fail to decode. ErrNotFound when
	// none is loadable.
	GetLatest(ctx context.Context, pipelineID string) (*Checkpoint, error)
	// Delete removes a snapshot. Absence is not an error.
	Delete(ctx context.Context, id string) error
	// Rotate enforces the retention rules. Failures are logged by the
	// implementation and never surfaced; Rotate must not block normal
	// save/load operation.
	Rotate(ctx context.Context) error
	// Validate loads the snapshot and checks its required fields,
	// returning false instead of an error on any failure.
	Validate(ctx context.Context, id string) bool
}
