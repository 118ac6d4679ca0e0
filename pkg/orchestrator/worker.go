package orchestrator

import (
	"context"
	"sync/atomic"

	"github.com/ACUY-D/MULTI-AGENT-CODE-sub001/pkg/models"
)

// HandlerFunc is the unit of work a FuncWorker executes per task.
type HandlerFunc func(ctx context.Context, t *models.Task) (models.TaskResult, error)

// FuncWorker adapts a plain function into a models.Worker. Load is
// tracked so the scheduler can prefer the least busy worker; a
// FuncWorker is always idle when nothing is executing.
type FuncWorker struct {
	id           string
	capabilities []string
	handler      HandlerFunc
	load         int32
}

// NewFuncWorker builds a worker with the given id and capabilities. An
// empty capability list means the worker accepts every task type.
func NewFuncWorker(id string, capabilities []string, handler HandlerFunc) *FuncWorker {
	return &FuncWorker{
		id:           id,
		capabilities: capabilities,
		handler:      handler,
	}
}

func (w *FuncWorker) ID() string {
	return w.id
}

func (w *FuncWorker) Capabilities() []string {
	return w.capabilities
}

func (w *FuncWorker) Status() models.WorkerStatus {
	if atomic.LoadInt32(&w.load) > 0 {
		return models.BusyWorkerStatus
	}
	return models.IdleWorkerStatus
}

func (w *FuncWorker) CanHandle(t *models.Task) bool {
	if len(w.capabilities) == 0 {
		return true
	}
	for _, c := range w.capabilities {
		if c == t.Type {
			return true
		}
	}
	return false
}

func (w *FuncWorker) Execute(ctx context.Context, t *models.Task) (models.TaskResult, error) {
	atomic.AddInt32(&w.load, 1)
	defer atomic.AddInt32(&w.load, -1)
	return w.handler(ctx, t)
}

func (w *FuncWorker) CurrentLoad() int {
	return int(atomic.LoadInt32(&w.load))
}
