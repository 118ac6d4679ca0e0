package scheduler

import (
	"container/heap"

	"github.com/ACUY-D/MULTI-AGENT-CODE-sub001/pkg/models"
)

// queueItem carries its own priority so a task can be re-enqueued at a
// demoted tier without mutating the task's declared priority.
type queueItem struct {
	task     *models.Task
	priority models.Priority
	seq      uint64
}

// readyQueue orders ready tasks CRITICAL->HIGH->MEDIUM->LOW, FIFO within
// a tier (earlier enqueue wins ties).
type readyQueue struct {
	items []*queueItem
	seq   uint64
}

func newReadyQueue() *readyQueue {
	q := &readyQueue{}
	heap.Init(q)
	return q
}

func (q *readyQueue) Len() int { return len(q.items) }

func (q *readyQueue) Less(i, j int) bool {
	if q.items[i].priority != q.items[j].priority {
		return q.items[i].priority > q.items[j].priority
	}
	return q.items[i].seq < q.items[j].seq
}

func (q *readyQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
}

func (q *readyQueue) Push(x interface{}) {
	q.items = append(q.items, x.(*queueItem))
}

func (q *readyQueue) Pop() interface{} {
	old := q.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	q.items = old[:n-1]
	return item
}

// push enqueues a task at the given tier.
func (q *readyQueue) push(t *models.Task, p models.Priority) {
	q.seq++
	heap.Push(q, &queueItem{task: t, priority: p, seq: q.seq})
}

// pop dequeues the highest-priority item, nil when empty.
func (q *readyQueue) pop() *queueItem {
	if q.Len() == 0 {
		return nil
	}
	return heap.Pop(q).(*queueItem)
}
