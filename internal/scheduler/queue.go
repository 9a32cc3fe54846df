package scheduler

import (
	"container/heap"

	"curator/internal/priority"
	"curator/internal/types"
)

// taskQueue is a priority heap over queued tasks: highest score first, FIFO
// on ties. Not goroutine-safe; the scheduler's mutex guards it.
type taskQueue struct {
	items []*types.ScheduledTask
}

func (q *taskQueue) Len() int           { return len(q.items) }
func (q *taskQueue) Less(i, j int) bool { return priority.Less(q.items[i], q.items[j]) }
func (q *taskQueue) Swap(i, j int)      { q.items[i], q.items[j] = q.items[j], q.items[i] }
func (q *taskQueue) Push(x interface{}) { q.items = append(q.items, x.(*types.ScheduledTask)) }
func (q *taskQueue) Pop() interface{} {
	old := q.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	q.items = old[:n-1]
	return item
}

func (q *taskQueue) push(task *types.ScheduledTask) { heap.Push(q, task) }

func (q *taskQueue) pop() *types.ScheduledTask {
	if q.Len() == 0 {
		return nil
	}
	return heap.Pop(q).(*types.ScheduledTask)
}

// remove deletes the task with the given id, if queued. Returns whether it
// was found.
func (q *taskQueue) remove(task *types.ScheduledTask) bool {
	for i, item := range q.items {
		if item.ID == task.ID {
			heap.Remove(q, i)
			return true
		}
	}
	return false
}

// rescore recomputes heap order after scores change.
func (q *taskQueue) rescore() { heap.Init(q) }
