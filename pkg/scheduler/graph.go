package scheduler

import (
	"github.com/pkg/errors"

	"github.com/ACUY-D/MULTI-AGENT-CODE-sub001/pkg/models"
)

// graph is the dependency graph over one run's tasks. An edge dep->task
// means the task cannot start until dep completes. The graph is owned by
// exactly one Scheduler and is never shared across runs.
type graph struct {
	tasks      map[string]*models.Task
	dependents map[string][]string // dependency id -> ids waiting on it
	indegree   map[string]int      // unmet dependency count per task
	order      []string            // admission order
	total      int
}

func newGraph() *graph {
	return &graph{
		tasks:      make(map[string]*models.Task),
		dependents: make(map[string][]string),
		indegree:   make(map[string]int),
	}
}

// admit registers a task. Every declared dependency must already be
// admitted. If inserting the task would close a cycle, the insertion is
// rolled back completely and ErrCycleDetected returned.
func (g *graph) admit(t *models.Task) error {
	if t == nil || t.ID == "" {
		return errors.New("task id is required")
	}
	if _, exists := g.tasks[t.ID]; exists {
		return errors.Errorf("task %s already admitted", t.ID)
	}
	for _, dep := range t.Dependencies {
		// A self-dependency closes the smallest possible cycle; report
		// it as such, not as an unknown dependency.
		if dep == t.ID {
			return errors.Wrapf(ErrCycleDetected, "task %s depends on itself", t.ID)
		}
		if _, ok := g.tasks[dep]; !ok {
			return errors.Wrapf(ErrUnknownDependency, "task %s depends on %s", t.ID, dep)
		}
	}

	g.tasks[t.ID] = t
	g.indegree[t.ID] = 0
	for _, dep := range t.Dependencies {
		g.dependents[dep] = append(g.dependents[dep], t.ID)
		if !g.tasks[dep].Status.Terminal() {
			g.indegree[t.ID]++
		}
	}
	g.order = append(g.order, t.ID)

	if g.hasCycle() {
		g.remove(t.ID)
		return errors.Wrapf(ErrCycleDetected, "admitting task %s", t.ID)
	}
	g.total++
	return nil
}

// remove undoes an insertion. Only valid for the most recently admitted
// task, which by construction has no dependents yet.
func (g *graph) remove(id string) {
	t := g.tasks[id]
	if t == nil {
		return
	}
	for _, dep := range t.Dependencies {
		deps := g.dependents[dep]
		for i, d := range deps {
			if d == id {
				g.dependents[dep] = append(deps[:i], deps[i+1:]...)
				break
			}
		}
	}
	delete(g.dependents, id)
	delete(g.indegree, id)
	delete(g.tasks, id)
	for i, o := range g.order {
		if o == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}

// hasCycle runs Kahn's algorithm over the structural edges. Statuses are
// ignored: a cycle is a property of the graph, not of execution.
func (g *graph) hasCycle() bool {
	indeg := make(map[string]int, len(g.tasks))
	for id, t := range g.tasks {
		indeg[id] = len(t.Dependencies)
		// Self-dependency closes the smallest possible cycle.
		for _, dep := range t.Dependencies {
			if dep == id {
				return true
			}
		}
	}
	queue := make([]string, 0, len(g.tasks))
	for id, d := range indeg {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, dep := range g.dependents[id] {
			indeg[dep]--
			if indeg[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	return visited != len(g.tasks)
}

// ready returns PENDING tasks whose dependencies are all satisfied, in
// admission order so FIFO holds within a priority tier.
func (g *graph) ready() []*models.Task {
	var out []*models.Task
	for _, id := range g.order {
		t := g.tasks[id]
		if t.Status == models.PendingTaskStatus && g.indegree[id] == 0 {
			out = append(out, t)
		}
	}
	return out
}

// onCompleted decrements the unmet-dependency count of every dependent.
func (g *graph) onCompleted(id string) {
	for _, dep := range g.dependents[id] {
		if g.indegree[dep] > 0 {
			g.indegree[dep]--
		}
	}
}

// skipDependents transitively marks every not-yet-running dependent of
// id as SKIPPED and returns the ids it skipped.
func (g *graph) skipDependents(id string) []string {
	var skipped []string
	queue := append([]string(nil), g.dependents[id]...)
	seen := map[string]struct{}{id: {}}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if _, ok := seen[next]; ok {
			continue
		}
		seen[next] = struct{}{}
		t := g.tasks[next]
		if t == nil {
			continue
		}
		switch t.Status {
		case models.PendingTaskStatus, models.QueuedTaskStatus:
			t.Status = models.SkippedTaskStatus
			skipped = append(skipped, next)
		}
		queue = append(queue, g.dependents[next]...)
	}
	return skipped
}

// unfinished counts tasks not yet in a terminal status.
func (g *graph) unfinished() int {
	n := 0
	for _, t := range g.tasks {
		if !t.Status.Terminal() {
			n++
		}
	}
	return n
}

// buckets groups task ids by status for checkpointing.
func (g *graph) buckets() (completed, inProgress, pending, failed []string) {
	for _, id := range g.order {
		switch g.tasks[id].Status {
		case models.CompletedTaskStatus:
			completed = append(completed, id)
		case models.RunningTaskStatus:
			inProgress = append(inProgress, id)
		case models.FailedTaskStatus:
			failed = append(failed, id)
		case models.PendingTaskStatus, models.QueuedTaskStatus:
			pending = append(pending, id)
		}
	}
	return
}
