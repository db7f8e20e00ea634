// Package queue implements the priority-ordered holding area for tasks
// awaiting execution.
package queue

import (
	"sync"

	"btk/orchestrator/pkg/types"
)

// Queue holds pending tasks in four priority levels, FIFO within a level.
// Dequeue order across levels follows priority precedence only; the queue
// itself enforces no concurrency cap, that is the orchestrator's admission
// gate.
type Queue struct {
	mu     sync.Mutex
	levels [types.PriorityLevels][]*types.Task
	size   int
}

// New creates an empty task queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue appends a task to the tail of its priority level.
func (q *Queue) Enqueue(task *types.Task) {
	if task == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	rank := task.Priority.Rank()
	q.levels[rank] = append(q.levels[rank], task)
	q.size++
}

// Dequeue removes and returns the oldest task of the highest non-empty
// priority level, or nil when the queue is empty.
func (q *Queue) Dequeue() *types.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	for rank := 0; rank < types.PriorityLevels; rank++ {
		level := q.levels[rank]
		if len(level) == 0 {
			continue
		}
		task := level[0]
		level[0] = nil
		q.levels[rank] = level[1:]
		q.size--
		return task
	}
	return nil
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// LenByPriority returns the number of queued tasks at the given priority.
func (q *Queue) LenByPriority(p types.TaskPriority) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.levels[p.Rank()])
}
