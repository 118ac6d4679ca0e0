package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ACUY-D/MULTI-AGENT-CODE-sub001/internal/storage"
	"github.com/ACUY-D/MULTI-AGENT-CODE-sub001/internal/testutil"
	"github.com/ACUY-D/MULTI-AGENT-CODE-sub001/pkg/checkpoint"
)

type testLogger struct{}

func (testLogger) Infof(format string, args ...interface{})  {}
func (testLogger) Errorf(format string, args ...interface{}) {}

func testCheckpoint(pipelineID string, ts time.Time) *checkpoint.Checkpoint {
	return &checkpoint.Checkpoint{
		PipelineID: pipelineID,
		Timestamp:  ts,
		State: checkpoint.StateSnapshot{
			Phase:    "MAPPING",
			Status:   "RUNNING",
			Progress: 40,
			Context:  map[string]interface{}{"objective": "persisted run"},
		},
		Tasks: checkpoint.TaskBuckets{
			Completed: []string{"plan"},
			Pending:   []string{"execute"},
		},
	}
}

func TestPostgresStore(t *testing.T) {
	testDB := testutil.SetupTestDB(t)
	defer testDB.Teardown(t)
	ctx := context.Background()

	newStore := func(t *testing.T, cfg storage.PostgresConfig) *storage.PostgresStore {
		_, err := testDB.DB.Exec("TRUNCATE checkpoints")
		assert.NoError(t, err)
		return storage.NewPostgresStoreWithDB(testDB.DB, cfg, testLogger{})
	}

	t.Run("SaveAndLoadRoundtrip", func(t *testing.T) {
		store := newStore(t, storage.PostgresConfig{Compress: true})

		cp := testCheckpoint("pipe-db", time.Now())
		id, err := store.Save(ctx, cp)
		assert.NoError(t, err)
		assert.NotEmpty(t, id)
		assert.Equal(t, checkpoint.SchemaVersion, cp.Version)

		loaded, err := store.Load(ctx, id)
		assert.NoError(t, err)
		assert.Equal(t, id, loaded.ID)
		assert.Equal(t, "pipe-db", loaded.PipelineID)
		assert.Equal(t, "MAPPING", loaded.State.Phase)
		assert.Equal(t, 40.0, loaded.State.Progress)
		assert.Equal(t, []string{"plan"}, loaded.Tasks.Completed)
		assert.True(t, store.Validate(ctx, id))
	})

	t.Run("SaveUpsertsOnSameID", func(t *testing.T) {
		store := newStore(t, storage.PostgresConfig{})

		cp := testCheckpoint("pipe-upsert", time.Now())
		id, err := store.Save(ctx, cp)
		assert.NoError(t, err)

		cp.State.Progress = 80
		again, err := store.Save(ctx, cp)
		assert.NoError(t, err)
		assert.Equal(t, id, again)

		loaded, err := store.Load(ctx, id)
		assert.NoError(t, err)
		assert.Equal(t, 80.0, loaded.State.Progress)

		metas, err := store.List(ctx, "pipe-upsert")
		assert.NoError(t, err)
		assert.Len(t, metas, 1)
	})

	t.Run("LoadBySubstring", func(t *testing.T) {
		store := newStore(t, storage.PostgresConfig{})

		id, err := store.Save(ctx, testCheckpoint("pipe-sub", time.Now()))
		assert.NoError(t, err)

		loaded, err := store.Load(ctx, "pipe-sub")
		assert.NoError(t, err)
		assert.Equal(t, id, loaded.ID)

		_, err = store.Load(ctx, "no-such-id")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)
		_, err = store.Load(ctx, "")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	})

	t.Run("SubstringLookupIsLiteral", func(t *testing.T) {
		store := newStore(t, storage.PostgresConfig{})

		id, err := store.Save(ctx, testCheckpoint("pipeXa", time.Now()))
		assert.NoError(t, err)

		// Underscore and percent must not act as pattern wildcards.
		_, err = store.Load(ctx, "pipe_a")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)
		_, err = store.Load(ctx, "pipe%a")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)

		assert.NoError(t, store.Delete(ctx, "pipe_a"))
		loaded, err := store.Load(ctx, "pipeXa")
		assert.NoError(t, err)
		assert.Equal(t, id, loaded.ID)
	})

	t.Run("ListNewestFirstWithFilter", func(t *testing.T) {
		store := newStore(t, storage.PostgresConfig{})

		base := time.Now().Add(-time.Minute)
		for i := 0; i < 3; i++ {
			_, err := store.Save(ctx, testCheckpoint("pipe-list", base.Add(time.Duration(i)*time.Second)))
			assert.NoError(t, err)
		}
		_, err := store.Save(ctx, testCheckpoint("pipe-other", base))
		assert.NoError(t, err)

		metas, err := store.List(ctx, "pipe-list")
		assert.NoError(t, err)
		assert.Len(t, metas, 3)
		for i := 1; i < len(metas); i++ {
			assert.True(t, metas[i-1].Timestamp.After(metas[i].Timestamp))
		}
		for _, meta := range metas {
			assert.Equal(t, "pipe-list", meta.PipelineID)
			assert.Greater(t, meta.Size, int64(0))
		}

		all, err := store.List(ctx, "")
		assert.NoError(t, err)
		assert.Len(t, all, 4)
	})

	t.Run("GetLatestSkipsCorruptRow", func(t *testing.T) {
		store := newStore(t, storage.PostgresConfig{})

		base := time.Now().Add(-time.Minute)
		oldID, err := store.Save(ctx, testCheckpoint("pipe-corrupt", base))
		assert.NoError(t, err)

		// A newer row whose body is not valid JSON.
		_, err = testDB.DB.Exec(
			`INSERT INTO checkpoints (id, pipeline_id, created_at, compressed, body)
			 VALUES ($1, $2, $3, FALSE, $4)`,
			"checkpoint_garbage_pipe-corrupt_ffffffff", "pipe-corrupt",
			base.Add(time.Second).UTC(), []byte("{not json"))
		assert.NoError(t, err)

		latest, err := store.GetLatest(ctx, "pipe-corrupt")
		assert.NoError(t, err)
		assert.Equal(t, oldID, latest.ID)

		assert.False(t, store.Validate(ctx, "checkpoint_garbage_pipe-corrupt_ffffffff"))

		_, err = store.GetLatest(ctx, "ghost")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		store := newStore(t, storage.PostgresConfig{})

		id, err := store.Save(ctx, testCheckpoint("pipe-del", time.Now()))
		assert.NoError(t, err)

		assert.NoError(t, store.Delete(ctx, id))
		_, err = store.Load(ctx, id)
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)
		assert.NoError(t, store.Delete(ctx, id))
	})

	t.Run("RotateKeepsNewest", func(t *testing.T) {
		store := newStore(t, storage.PostgresConfig{MaxCount: 2})

		base := time.Now().Add(-time.Minute)
		var ids []string
		for i := 0; i < 4; i++ {
			id, err := store.Save(ctx, testCheckpoint("pipe-rot", base.Add(time.Duration(i)*time.Second)))
			assert.NoError(t, err)
			ids = append(ids, id)
		}

		metas, err := store.List(ctx, "")
		assert.NoError(t, err)
		assert.Len(t, metas, 2)
		assert.Equal(t, ids[3], metas[0].ID)
		assert.Equal(t, ids[2], metas[1].ID)
	})

	t.Run("RotateRetentionWindow", func(t *testing.T) {
		store := newStore(t, storage.PostgresConfig{Retention: time.Hour})

		_, err := store.Save(ctx, testCheckpoint("pipe-old", time.Now().Add(-2*time.Hour)))
		assert.NoError(t, err)
		freshID, err := store.Save(ctx, testCheckpoint("pipe-fresh", time.Now()))
		assert.NoError(t, err)

		metas, err := store.List(ctx, "")
		assert.NoError(t, err)
		assert.Len(t, metas, 1)
		assert.Equal(t, freshID, metas[0].ID)
	})

	t.Run("RejectsInvalidCheckpoint", func(t *testing.T) {
		store := newStore(t, storage.PostgresConfig{})

		_, err := store.Save(ctx, nil)
		assert.Error(t, err)
		_, err = store.Save(ctx, &checkpoint.Checkpoint{})
		assert.Error(t, err)
	})
}
