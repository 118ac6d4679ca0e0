package scheduler

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/ACUY-D/MULTI-AGENT-CODE-sub001/pkg/models"
)

func task(id string, deps ...string) *models.Task {
	return &models.Task{ID: id, Status: models.PendingTaskStatus, Dependencies: deps}
}

func TestGraphAdmit(t *testing.T) {
	g := newGraph()

	assert.NoError(t, g.admit(task("a")))
	assert.NoError(t, g.admit(task("b", "a")))
	assert.Equal(t, 2, g.total)
	assert.Equal(t, 1, g.indegree["b"])

	t.Run("duplicate id rejected", func(t *testing.T) {
		err := g.admit(task("a"))
		assert.Error(t, err)
	})

	t.Run("unknown dependency rejected", func(t *testing.T) {
		err := g.admit(task("c", "ghost"))
		assert.True(t, errors.Is(err, ErrUnknownDependency))
	})

	t.Run("empty id rejected", func(t *testing.T) {
		assert.Error(t, g.admit(&models.Task{}))
		assert.Error(t, g.admit(nil))
	})
}

func TestGraphAdmitCompletedDependency(t *testing.T) {
	g := newGraph()
	done := task("done")
	done.Status = models.CompletedTaskStatus
	assert.NoError(t, g.admit(done))

	// A dependency that already completed does not gate the new task.
	assert.NoError(t, g.admit(task("next", "done")))
	assert.Equal(t, 0, g.indegree["next"])

	ready := g.ready()
	assert.Len(t, ready, 1)
	assert.Equal(t, "next", ready[0].ID)
}

func TestGraphCycleRejectionLeavesGraphUnchanged(t *testing.T) {
	g := newGraph()
	assert.NoError(t, g.admit(task("a")))

	err := g.admit(task("self", "self"))
	assert.True(t, errors.Is(err, ErrCycleDetected))

	// The rejected insertion left no trace.
	assert.Equal(t, 1, g.total)
	assert.NotContains(t, g.tasks, "self")
	assert.NotContains(t, g.indegree, "self")
	assert.Equal(t, []string{"a"}, g.order)

	// The graph still accepts valid work.
	assert.NoError(t, g.admit(task("b", "a")))
	assert.Equal(t, 2, g.total)
}

func TestGraphDetectsCorruptedCycle(t *testing.T) {
	g := newGraph()
	a := task("a")
	assert.NoError(t, g.admit(a))
	assert.NoError(t, g.admit(task("b", "a")))
	assert.False(t, g.hasCycle())

	// Simulate state corruption: a suddenly depends on b.
	a.Dependencies = []string{"b"}
	g.dependents["b"] = append(g.dependents["b"], "a")
	assert.True(t, g.hasCycle())
}

func TestGraphReadyFollowsAdmissionOrder(t *testing.T) {
	g := newGraph()
	assert.NoError(t, g.admit(task("z")))
	assert.NoError(t, g.admit(task("a")))
	assert.NoError(t, g.admit(task("m", "z")))

	ready := g.ready()
	assert.Len(t, ready, 2)
	assert.Equal(t, "z", ready[0].ID)
	assert.Equal(t, "a", ready[1].ID)
}

func TestGraphCompletionUnlocksDependents(t *testing.T) {
	g := newGraph()
	assert.NoError(t, g.admit(task("a")))
	assert.NoError(t, g.admit(task("b")))
	assert.NoError(t, g.admit(task("c", "a", "b")))

	assert.Equal(t, 2, g.indegree["c"])

	g.tasks["a"].Status = models.CompletedTaskStatus
	g.onCompleted("a")
	assert.Equal(t, 1, g.indegree["c"])
	assert.Empty(t, func() []string {
		var ids []string
		for _, rt := range g.ready() {
			if rt.ID == "c" {
				ids = append(ids, rt.ID)
			}
		}
		return ids
	}())

	g.tasks["b"].Status = models.CompletedTaskStatus
	g.onCompleted("b")
	assert.Equal(t, 0, g.indegree["c"])
}

func TestGraphSkipDependentsIsTransitive(t *testing.T) {
	g := newGraph()
	assert.NoError(t, g.admit(task("root")))
	assert.NoError(t, g.admit(task("mid", "root")))
	assert.NoError(t, g.admit(task("leaf", "mid")))
	assert.NoError(t, g.admit(task("free")))

	g.tasks["root"].Status = models.FailedTaskStatus
	skipped := g.skipDependents("root")

	assert.ElementsMatch(t, []string{"mid", "leaf"}, skipped)
	assert.Equal(t, models.SkippedTaskStatus, g.tasks["mid"].Status)
	assert.Equal(t, models.SkippedTaskStatus, g.tasks["leaf"].Status)
	assert.Equal(t, models.PendingTaskStatus, g.tasks["free"].Status)
	assert.Equal(t, 1, g.unfinished())
}

func TestGraphSkipDependentsLeavesRunningAlone(t *testing.T) {
	g := newGraph()
	assert.NoError(t, g.admit(task("root")))
	assert.NoError(t, g.admit(task("started", "root")))

	g.tasks["started"].Status = models.RunningTaskStatus
	skipped := g.skipDependents("root")
	assert.Empty(t, skipped)
	assert.Equal(t, models.RunningTaskStatus, g.tasks["started"].Status)
}

func TestGraphBuckets(t *testing.T) {
	g := newGraph()
	assert.NoError(t, g.admit(task("a")))
	assert.NoError(t, g.admit(task("b")))
	assert.NoError(t, g.admit(task("c")))
	assert.NoError(t, g.admit(task("d")))

	g.tasks["a"].Status = models.CompletedTaskStatus
	g.tasks["b"].Status = models.RunningTaskStatus
	g.tasks["c"].Status = models.FailedTaskStatus

	completed, inProgress, pending, failed := g.buckets()
	assert.Equal(t, []string{"a"}, completed)
	assert.Equal(t, []string{"b"}, inProgress)
	assert.Equal(t, []string{"d"}, pending)
	assert.Equal(t, []string{"c"}, failed)
}
