package checkpoint_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/ACUY-D/MULTI-AGENT-CODE-sub001/pkg/checkpoint"
)

// testLogger implements the Logger interface for testing
type testLogger struct{}

func (testLogger) Infof(format string, args ...interface{})  {}
func (testLogger) Errorf(format string, args ...interface{}) {}

func newCheckpoint(pipelineID string, ts time.Time) *checkpoint.Checkpoint {
	return &checkpoint.Checkpoint{
		PipelineID: pipelineID,
		Timestamp:  ts,
		State: checkpoint.StateSnapshot{
			Phase:    "ACTING",
			Status:   "RUNNING",
			Progress: 60,
			Context:  map[string]interface{}{"objective": "test"},
		},
		Tasks: checkpoint.TaskBuckets{
			Completed: []string{"a"},
			Pending:   []string{"b"},
		},
		Metrics: checkpoint.Metrics{StartTime: ts, Duration: 1200},
	}
}

func newFileStore(t *testing.T, cfg checkpoint.FileStoreConfig) *checkpoint.FileStore {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	store, err := checkpoint.NewFileStore(cfg, testLogger{})
	assert.NoError(t, err)
	return store
}

func TestFileStoreSaveLoadRoundtrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		name := "plain"
		if compress {
			name = "gzip"
		}
		t.Run(name, func(t *testing.T) {
			store := newFileStore(t, checkpoint.FileStoreConfig{Compress: compress})
			ctx := context.Background()

			cp := newCheckpoint("pipe-1", time.Now())
			id, err := store.Save(ctx, cp)
			assert.NoError(t, err)
			assert.NotEmpty(t, id)
			assert.Equal(t, id, cp.ID)
			assert.Equal(t, checkpoint.SchemaVersion, cp.Version)

			loaded, err := store.Load(ctx, id)
			assert.NoError(t, err)
			assert.Equal(t, cp.ID, loaded.ID)
			assert.Equal(t, "pipe-1", loaded.PipelineID)
			assert.Equal(t, "ACTING", loaded.State.Phase)
			assert.Equal(t, 60.0, loaded.State.Progress)
			assert.Equal(t, []string{"a"}, loaded.Tasks.Completed)
			assert.Equal(t, int64(1200), loaded.Metrics.Duration)

			assert.True(t, store.Validate(ctx, id))
		})
	}
}

func TestFileStoreLoadBySubstring(t *testing.T) {
	store := newFileStore(t, checkpoint.FileStoreConfig{})
	ctx := context.Background()

	id, err := store.Save(ctx, newCheckpoint("pipe-sub", time.Now()))
	assert.NoError(t, err)

	loaded, err := store.Load(ctx, "pipe-sub")
	assert.NoError(t, err)
	assert.Equal(t, id, loaded.ID)

	_, err = store.Load(ctx, "no-such-pipeline")
	assert.True(t, errors.Is(err, checkpoint.ErrNotFound))

	_, err = store.Load(ctx, "")
	assert.True(t, errors.Is(err, checkpoint.ErrNotFound))
}

func TestFileStoreListNewestFirst(t *testing.T) {
	store := newFileStore(t, checkpoint.FileStoreConfig{})
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	for i := 0; i < 3; i++ {
		_, err := store.Save(ctx, newCheckpoint("pipe-list", base.Add(time.Duration(i)*time.Second)))
		assert.NoError(t, err)
	}
	_, err := store.Save(ctx, newCheckpoint("other-pipe", base.Add(10*time.Second)))
	assert.NoError(t, err)

	metas, err := store.List(ctx, "pipe-list")
	assert.NoError(t, err)
	assert.Len(t, metas, 3)
	for i := 1; i < len(metas); i++ {
		assert.True(t, metas[i-1].Timestamp.After(metas[i].Timestamp),
			"expected newest-first, got %v before %v", metas[i-1].Timestamp, metas[i].Timestamp)
	}
	for _, meta := range metas {
		assert.Equal(t, "pipe-list", meta.PipelineID)
		assert.Greater(t, meta.Size, int64(0))
	}

	all, err := store.List(ctx, "")
	assert.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestFileStoreGetLatestSkipsCorrupt(t *testing.T) {
	dir := t.TempDir()
	store := newFileStore(t, checkpoint.FileStoreConfig{Dir: dir})
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	oldID, err := store.Save(ctx, newCheckpoint("pipe-corrupt", base))
	assert.NoError(t, err)
	newID, err := store.Save(ctx, newCheckpoint("pipe-corrupt", base.Add(time.Second)))
	assert.NoError(t, err)

	// Corrupt the newest snapshot on disk.
	assert.NoError(t, os.WriteFile(filepath.Join(dir, newID+".json"), []byte("{not json"), 0o644))

	latest, err := store.GetLatest(ctx, "pipe-corrupt")
	assert.NoError(t, err)
	assert.Equal(t, oldID, latest.ID)

	assert.False(t, store.Validate(ctx, newID))
	assert.True(t, store.Validate(ctx, oldID))
}

func TestFileStoreGetLatestNotFound(t *testing.T) {
	store := newFileStore(t, checkpoint.FileStoreConfig{})
	_, err := store.GetLatest(context.Background(), "ghost")
	assert.True(t, errors.Is(err, checkpoint.ErrNotFound))
}

func TestFileStoreDeleteIsIdempotent(t *testing.T) {
	store := newFileStore(t, checkpoint.FileStoreConfig{})
	ctx := context.Background()

	id, err := store.Save(ctx, newCheckpoint("pipe-del", time.Now()))
	assert.NoError(t, err)

	assert.NoError(t, store.Delete(ctx, id))
	_, err = store.Load(ctx, id)
	assert.True(t, errors.Is(err, checkpoint.ErrNotFound))

	// Deleting again is not an error.
	assert.NoError(t, store.Delete(ctx, id))
	assert.NoError(t, store.Delete(ctx, "never-existed"))
}

func TestFileStoreRotateMaxCount(t *testing.T) {
	store := newFileStore(t, checkpoint.FileStoreConfig{MaxCount: 3})
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	var ids []string
	for i := 0; i < 5; i++ {
		id, err := store.Save(ctx, newCheckpoint("pipe-rot", base.Add(time.Duration(i)*time.Second)))
		assert.NoError(t, err)
		ids = append(ids, id)
	}

	metas, err := store.List(ctx, "")
	assert.NoError(t, err)
	assert.Len(t, metas, 3)
	// The survivors are the newest three.
	assert.Equal(t, ids[4], metas[0].ID)
	assert.Equal(t, ids[3], metas[1].ID)
	assert.Equal(t, ids[2], metas[2].ID)
}

func TestFileStoreRotateRetentionWindow(t *testing.T) {
	store := newFileStore(t, checkpoint.FileStoreConfig{Retention: time.Hour})
	ctx := context.Background()

	_, err := store.Save(ctx, newCheckpoint("pipe-old", time.Now().Add(-2*time.Hour)))
	assert.NoError(t, err)
	freshID, err := store.Save(ctx, newCheckpoint("pipe-fresh", time.Now()))
	assert.NoError(t, err)

	metas, err := store.List(ctx, "")
	assert.NoError(t, err)
	assert.Len(t, metas, 1)
	assert.Equal(t, freshID, metas[0].ID)
}

func TestFileStoreRotateSizeBudget(t *testing.T) {
	store := newFileStore(t, checkpoint.FileStoreConfig{MaxBytes: 1})
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	_, err := store.Save(ctx, newCheckpoint("pipe-size", base))
	assert.NoError(t, err)
	_, err = store.Save(ctx, newCheckpoint("pipe-size", base.Add(time.Second)))
	assert.NoError(t, err)

	// A 1-byte budget cannot hold any snapshot, so rotation after each
	// save drops everything, oldest first.
	metas, err := store.List(ctx, "")
	assert.NoError(t, err)
	assert.Empty(t, metas)
}

func TestFileStoreRejectsInvalidCheckpoint(t *testing.T) {
	store := newFileStore(t, checkpoint.FileStoreConfig{})
	ctx := context.Background()

	_, err := store.Save(ctx, nil)
	assert.Error(t, err)

	_, err = store.Save(ctx, &checkpoint.Checkpoint{}) // no pipeline id
	assert.Error(t, err)

	bad := newCheckpoint("pipe-x", time.Now())
	bad.State.Progress = 150
	_, err = store.Save(ctx, bad)
	assert.Error(t, err)
}

func TestNewIDIsSortableByTime(t *testing.T) {
	early := checkpoint.NewID("checkpoint", "pipe", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	late := checkpoint.NewID("checkpoint", "pipe", time.Date(2026, 1, 2, 3, 4, 6, 0, time.UTC))
	assert.Less(t, early[:len("checkpoint_2006-01-02T15-04-05-000Z")], late[:len("checkpoint_2006-01-02T15-04-05-000Z")])
}
