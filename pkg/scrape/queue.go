package scrape

import "sync"

// Queue is a thread-safe FIFO of task ids. The authoritative task records
// live in the tracker; the queue carries ids only.
type Queue struct {
	mu  sync.Mutex
	ids []string
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends a task id to the back of the queue.
func (q *Queue) Enqueue(taskID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, taskID)
}

// Dequeue pops the front task id. Non-blocking; ok is false when empty.
func (q *Queue) Dequeue() (taskID string, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ids) == 0 {
		return "", false
	}
	taskID = q.ids[0]
	q.ids = q.ids[1:]
	return taskID, true
}

// ReturnToFront pushes a dequeued task id back to the head, preserving its
// priority over everything queued behind it.
func (q *Queue) ReturnToFront(taskID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append([]string{taskID}, q.ids...)
}

// Size returns the number of queued ids.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

// IsEmpty reports whether the queue holds no ids.
func (q *Queue) IsEmpty() bool {
	return q.Size() == 0
}
