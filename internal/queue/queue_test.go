package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btk/orchestrator/pkg/types"
)

func task(id string, p types.TaskPriority) *types.Task {
	return &types.Task{ID: id, Priority: p}
}

func TestEmptyQueue(t *testing.T) {
	q := New()
	assert.Equal(t, 0, q.Len())
	assert.Nil(t, q.Dequeue())
}

func TestFIFOWithinLevel(t *testing.T) {
	q := New()
	q.Enqueue(task("a", types.PriorityNormal))
	q.Enqueue(task("b", types.PriorityNormal))
	q.Enqueue(task("c", types.PriorityNormal))

	assert.Equal(t, "a", q.Dequeue().ID)
	assert.Equal(t, "b", q.Dequeue().ID)
	assert.Equal(t, "c", q.Dequeue().ID)
	assert.Nil(t, q.Dequeue())
}

func TestPriorityPrecedence(t *testing.T) {
	q := New()
	q.Enqueue(task("low", types.PriorityLow))
	q.Enqueue(task("normal", types.PriorityNormal))
	q.Enqueue(task("critical", types.PriorityCritical))
	q.Enqueue(task("high", types.PriorityHigh))

	assert.Equal(t, "critical", q.Dequeue().ID)
	assert.Equal(t, "high", q.Dequeue().ID)
	assert.Equal(t, "normal", q.Dequeue().ID)
	assert.Equal(t, "low", q.Dequeue().ID)
}

func TestCriticalBeatsEarlierNormal(t *testing.T) {
	q := New()
	q.Enqueue(task("n1", types.PriorityNormal))
	q.Enqueue(task("n2", types.PriorityNormal))
	q.Enqueue(task("crit", types.PriorityCritical))

	// Critical is dequeued before any normal task queued earlier.
	assert.Equal(t, "crit", q.Dequeue().ID)
	assert.Equal(t, "n1", q.Dequeue().ID)
}

func TestLenByPriority(t *testing.T) {
	q := New()
	q.Enqueue(task("a", types.PriorityHigh))
	q.Enqueue(task("b", types.PriorityHigh))
	q.Enqueue(task("c", types.PriorityLow))

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, 2, q.LenByPriority(types.PriorityHigh))
	assert.Equal(t, 1, q.LenByPriority(types.PriorityLow))
	assert.Equal(t, 0, q.LenByPriority(types.PriorityCritical))

	require.NotNil(t, q.Dequeue())
	assert.Equal(t, 1, q.LenByPriority(types.PriorityHigh))
}

func TestEnqueueNil(t *testing.T) {
	q := New()
	q.Enqueue(nil)
	assert.Equal(t, 0, q.Len())
}
