package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ACUY-D/MULTI-AGENT-CODE-sub001/pkg/models"
)

func TestReadyQueuePriorityOrder(t *testing.T) {
	q := newReadyQueue()
	q.push(&models.Task{ID: "low"}, models.LowPriority)
	q.push(&models.Task{ID: "critical"}, models.CriticalPriority)
	q.push(&models.Task{ID: "medium"}, models.MediumPriority)
	q.push(&models.Task{ID: "high"}, models.HighPriority)

	var order []string
	for q.Len() > 0 {
		order = append(order, q.pop().task.ID)
	}
	assert.Equal(t, []string{"critical", "high", "medium", "low"}, order)
}

func TestReadyQueueFIFOWithinTier(t *testing.T) {
	q := newReadyQueue()
	for _, id := range []string{"first", "second", "third"} {
		q.push(&models.Task{ID: id}, models.MediumPriority)
	}

	assert.Equal(t, "first", q.pop().task.ID)
	assert.Equal(t, "second", q.pop().task.ID)

	// New arrivals at the same tier queue behind survivors.
	q.push(&models.Task{ID: "fourth"}, models.MediumPriority)
	assert.Equal(t, "third", q.pop().task.ID)
	assert.Equal(t, "fourth", q.pop().task.ID)
}

func TestReadyQueueDemotedItemYieldsTier(t *testing.T) {
	q := newReadyQueue()
	q.push(&models.Task{ID: "was-high"}, models.HighPriority.Demote())
	q.push(&models.Task{ID: "still-high"}, models.HighPriority)

	assert.Equal(t, "still-high", q.pop().task.ID)
	assert.Equal(t, "was-high", q.pop().task.ID)
}
