// Package scrape implements the concurrent scraping subsystem: the task
// state tracker, the FIFO task queue, the scraper factory contract, the
// durable artifact persister, and the control center owning the worker pool.
package scrape

import (
	"fmt"
	"sync"

	"github.com/deepscout/deepscout/pkg/models"
)

// Tracker is the authoritative store of scraping task state. All mutations
// happen under a single internal lock; callers receive and submit copies,
// never pointers into the tracker's state.
type Tracker struct {
	mu       sync.Mutex
	tasks    map[string]*models.ScrapingTask
	byBatch  map[string][]string // batch id -> task ids in registration order
	expected map[string]int      // batch id -> declared expected total
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		tasks:    make(map[string]*models.ScrapingTask),
		byBatch:  make(map[string][]string),
		expected: make(map[string]int),
	}
}

// SetExpectedTotal declares how many tasks a batch will eventually register.
// Callers that never declare a total rely on the registered-count recovery
// path in the completion check.
func (t *Tracker) SetExpectedTotal(batchID string, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expected[batchID] = total
}

// Register inserts a task in Pending status. Fails with ErrDuplicateTaskID
// if the id is already tracked.
func (t *Tracker) Register(task models.ScrapingTask) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.tasks[task.TaskID]; exists {
		return fmt.Errorf("task %s: %w", task.TaskID, ErrDuplicateTaskID)
	}
	task.Status = models.TaskStatusPending
	t.tasks[task.TaskID] = &task
	t.byBatch[task.BatchID] = append(t.byBatch[task.BatchID], task.TaskID)
	return nil
}

// Transition performs a compare-and-swap status change with an atomic field
// patch. Fails with ErrStateMismatch if the current status differs from from,
// and with ErrInvalidTransition if the DAG forbids from → to. State is left
// unchanged on any failure.
func (t *Tracker) Transition(taskID string, from, to models.TaskStatus, patch models.TaskPatch) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, ErrUnknownTask)
	}
	if task.Status != from {
		return fmt.Errorf("task %s is %s, not %s: %w", taskID, task.Status, from, ErrStateMismatch)
	}
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("task %s: %s -> %s: %w", taskID, from, to, ErrInvalidTransition)
	}

	task.Status = to
	if patch.AssignedWorkerID != nil {
		task.AssignedWorkerID = *patch.AssignedWorkerID
	}
	if patch.StartedAt != nil {
		task.StartedAt = patch.StartedAt
	}
	if patch.CompletedAt != nil {
		task.CompletedAt = patch.CompletedAt
	}
	if patch.Error != nil {
		task.Error = *patch.Error
	}
	if patch.ArtifactPath != nil {
		task.ArtifactPath = *patch.ArtifactPath
	}
	return nil
}

// Get returns a copy of the task. Fails with ErrUnknownTask if not tracked.
func (t *Tracker) Get(taskID string) (models.ScrapingTask, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[taskID]
	if !ok {
		return models.ScrapingTask{}, fmt.Errorf("task %s: %w", taskID, ErrUnknownTask)
	}
	return *task, nil
}

// ListByBatch returns copies of a batch's tasks in registration order.
func (t *Tracker) ListByBatch(batchID string) []models.ScrapingTask {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := t.byBatch[batchID]
	out := make([]models.ScrapingTask, 0, len(ids))
	for _, id := range ids {
		out = append(out, *t.tasks[id])
	}
	return out
}

// Statistics computes a progress snapshot from current state. No derived
// counters are stored; every call recounts.
func (t *Tracker) Statistics(batchID string) models.BatchProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statisticsLocked(batchID)
}

func (t *Tracker) statisticsLocked(batchID string) models.BatchProgress {
	p := models.BatchProgress{
		BatchID:       batchID,
		ExpectedTotal: t.expected[batchID],
	}
	for _, id := range t.byBatch[batchID] {
		p.RegisteredCount++
		switch t.tasks[id].Status {
		case models.TaskStatusPending:
			p.Pending++
		case models.TaskStatusProcessing:
			p.InProgress++
		case models.TaskStatusCompleted:
			p.Completed++
		case models.TaskStatusFailed:
			p.Failed++
		case models.TaskStatusCancelled:
			p.Cancelled++
		}
	}

	denom := p.ExpectedTotal
	if p.RegisteredCount > denom {
		denom = p.RegisteredCount
	}
	if denom > 0 {
		p.CompletionRate = float64(p.Completed+p.Failed) / float64(denom)
	}
	p.IsComplete = p.CompletionRate == 1.0 && p.InProgress == 0 && p.Pending == 0
	p.CanProceed = p.IsComplete && p.Completed > 0
	return p
}

// AllTerminal reports whether every registered task of the batch has reached
// a terminal status, along with the progress snapshot it was judged on.
func (t *Tracker) AllTerminal(batchID string) (bool, models.BatchProgress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.statisticsLocked(batchID)
	if p.RegisteredCount == 0 {
		return false, p
	}
	return p.Pending == 0 && p.InProgress == 0, p
}
