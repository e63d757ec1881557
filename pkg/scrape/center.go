package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/deepscout/deepscout/pkg/config"
	"github.com/deepscout/deepscout/pkg/events"
	"github.com/deepscout/deepscout/pkg/models"
)

// ControlCenter owns the scraping worker pool and is the single ordering
// authority for task assignment. At any moment at most one dequeue-and-assign
// operation is in flight, guaranteed by assignMu; completion handling runs
// under the same lock so a finishing worker re-enters assignment with no
// observable idle gap.
type ControlCenter struct {
	tracker   *Tracker
	queue     *Queue
	scrapers  *Registry
	persister *Persister
	publisher *events.Publisher
	cfg       *config.ScrapingConfig
	logger    *slog.Logger

	// assignMu serializes dequeue-transition-assign and task completion.
	assignMu sync.Mutex

	workers  []*worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool

	// raceCounter counts StateMismatch losses in the assignment loop.
	// Non-zero under contention is expected and harmless.
	raceCounter atomic.Int64

	batchMu   sync.Mutex
	cancelled map[string]bool // batch id -> cancel flag
	announced map[string]bool // batch id -> all_scraping_complete published
}

// assignRetryBound caps the drain loop per assignment attempt so a queue full
// of stale ids cannot spin a worker forever inside the lock.
const assignRetryBound = 64

// NewControlCenter wires the control center. The registry decides which link
// kinds this process can scrape.
func NewControlCenter(
	tracker *Tracker,
	queue *Queue,
	scrapers *Registry,
	persister *Persister,
	publisher *events.Publisher,
	cfg *config.ScrapingConfig,
	logger *slog.Logger,
) *ControlCenter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ControlCenter{
		tracker:   tracker,
		queue:     queue,
		scrapers:  scrapers,
		persister: persister,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.With("component", "control_center"),
		stopCh:    make(chan struct{}),
		cancelled: make(map[string]bool),
		announced: make(map[string]bool),
	}
}

// Start spawns the worker pool. Safe to call more than once; subsequent
// calls are no-ops.
func (c *ControlCenter) Start(ctx context.Context) {
	if c.started {
		c.logger.Warn("Control center already started, ignoring duplicate Start call")
		return
	}
	c.started = true

	c.logger.Info("Starting scraping workers", "worker_count", c.cfg.WorkerPoolSize)
	for i := 0; i < c.cfg.WorkerPoolSize; i++ {
		c.spawnWorker(ctx, i)
	}
}

// Stop signals all workers to stop and waits for them. Workers finish their
// current extraction before exiting.
func (c *ControlCenter) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	c.logger.Info("Scraping workers stopped")
}

func (c *ControlCenter) spawnWorker(ctx context.Context, id int) {
	w := &worker{
		id:     id,
		center: c,
		logger: c.logger.With("worker_id", id),
	}
	c.workers = append(c.workers, w)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		w.run(ctx)
	}()
}

// RegisterBatch declares the expected task count for a batch. expectedTotal
// may be zero when the caller does not know it upfront.
func (c *ControlCenter) RegisterBatch(ctx context.Context, batchID string, expectedTotal int) {
	c.tracker.SetExpectedTotal(batchID, expectedTotal)
	c.batchMu.Lock()
	delete(c.cancelled, batchID)
	c.batchMu.Unlock()
	c.publishStatus(ctx, batchID)
}

// Submit registers a task and enqueues it for assignment. Only Pending tasks
// ever enter the queue.
func (c *ControlCenter) Submit(ctx context.Context, task models.ScrapingTask) error {
	if c.isCancelled(task.BatchID) {
		return fmt.Errorf("batch %s: %w", task.BatchID, ErrBatchCancelled)
	}
	if err := c.tracker.Register(task); err != nil {
		return err
	}
	c.queue.Enqueue(task.TaskID)
	c.publishStatus(ctx, task.BatchID)
	return nil
}

// Cancel sets the batch cancel flag and moves all Pending tasks to
// Cancelled. Tasks already Processing run to completion; the assignment loop
// drains their stale queue entries.
func (c *ControlCenter) Cancel(ctx context.Context, batchID string) {
	c.batchMu.Lock()
	c.cancelled[batchID] = true
	c.batchMu.Unlock()

	for _, task := range c.tracker.ListByBatch(batchID) {
		if task.Status != models.TaskStatusPending {
			continue
		}
		err := c.tracker.Transition(task.TaskID, models.TaskStatusPending, models.TaskStatusCancelled, models.TaskPatch{})
		if err != nil {
			// Lost a race with an assignment; the task is Processing now
			// and will finish normally.
			continue
		}
	}
	c.logger.Info("Batch cancelled", "batch_id", batchID)
	c.publishStatus(ctx, batchID)
}

// RaceCounter returns how many assignment CAS races have been lost so far.
func (c *ControlCenter) RaceCounter() int64 {
	return c.raceCounter.Load()
}

func (c *ControlCenter) isCancelled(batchID string) bool {
	c.batchMu.Lock()
	defer c.batchMu.Unlock()
	return c.cancelled[batchID]
}

// confirmAllComplete reports whether the batch is finished per the
// completion rules: either the declared expected total is covered by
// terminal tasks, or no total was declared and every registered task is
// terminal. Publishes all_scraping_complete exactly once per batch.
func (c *ControlCenter) confirmAllComplete(ctx context.Context, batchID string) bool {
	if c.isCancelled(batchID) {
		return false
	}
	allTerminal, p := c.tracker.AllTerminal(batchID)
	if !allTerminal {
		return false
	}

	var done bool
	if p.ExpectedTotal > 0 {
		done = p.Completed+p.Failed >= p.ExpectedTotal
	} else {
		// Recovery path for callers that never declared an expected total.
		done = p.RegisteredCount > 0
	}
	if !done {
		return false
	}

	c.batchMu.Lock()
	first := !c.announced[batchID]
	if first {
		c.announced[batchID] = true
	}
	c.batchMu.Unlock()

	if first {
		c.publisher.AllScrapingComplete(ctx, batchID, events.AllScrapingCompletePayload{
			CompletionRate: p.CompletionRate,
			Registered:     p.RegisteredCount,
			ExpectedTotal:  p.ExpectedTotal,
		})
		c.logger.Info("All scraping complete",
			"batch_id", batchID, "completed", p.Completed, "failed", p.Failed)
	}
	return true
}

// ConfirmAllComplete polls the completion rules until they hold or the
// configured timeout elapses, in which case it returns ErrPartialCompletion.
// Callers may proceed anyway when every registered task is terminal.
func (c *ControlCenter) ConfirmAllComplete(ctx context.Context, batchID string) error {
	deadline := time.Now().Add(c.cfg.CompletionTimeout())
	for {
		if c.confirmAllComplete(ctx, batchID) {
			return nil
		}
		if time.Now().After(deadline) {
			c.publisher.Error(ctx, batchID, events.ErrorPayload{
				Where:   "control_center",
				Code:    events.ErrorCodePartialCompletion,
				Message: "batch completion confirmation timed out",
			})
			return fmt.Errorf("batch %s: %w", batchID, ErrPartialCompletion)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.QueueCheckInterval()):
		}
	}
}

func (c *ControlCenter) publishStatus(ctx context.Context, batchID string) {
	p := c.tracker.Statistics(batchID)
	c.publisher.ScrapingStatus(ctx, batchID, events.ScrapingStatusPayload{
		ExpectedTotal:  p.ExpectedTotal,
		Registered:     p.RegisteredCount,
		Completed:      p.Completed,
		Failed:         p.Failed,
		InProgress:     p.InProgress,
		Pending:        p.Pending,
		CompletionRate: p.CompletionRate,
		IsComplete:     p.IsComplete,
		CanProceed:     p.CanProceed,
	})
}

// tryAssign runs the assignment algorithm under assignMu. It returns the
// task to work on, or ok=false when the queue is empty or fully stale.
func (c *ControlCenter) tryAssign(workerID int) (models.ScrapingTask, bool) {
	c.assignMu.Lock()
	defer c.assignMu.Unlock()

	for i := 0; i < assignRetryBound; i++ {
		taskID, ok := c.queue.Dequeue()
		if !ok {
			return models.ScrapingTask{}, false
		}
		task, err := c.tracker.Get(taskID)
		if err != nil {
			continue // task purged; drain the stale entry
		}
		if task.Status != models.TaskStatusPending || c.isCancelled(task.BatchID) {
			continue // stale entry or cancelled batch
		}

		workerName := fmt.Sprintf("scrape-worker-%d", workerID)
		now := time.Now().UTC()
		err = c.tracker.Transition(taskID, models.TaskStatusPending, models.TaskStatusProcessing, models.TaskPatch{
			AssignedWorkerID: &workerName,
			StartedAt:        &now,
		})
		if err != nil {
			c.raceCounter.Add(1)
			continue
		}

		task, _ = c.tracker.Get(taskID)
		return task, true
	}
	return models.ScrapingTask{}, false
}

// completeTask finalizes a finished extraction under assignMu: transition,
// persist, then publish scrape_complete only after the artifact is durable.
func (c *ControlCenter) completeTask(ctx context.Context, task models.ScrapingTask, result *models.ScrapeResult, extractErr error) {
	c.assignMu.Lock()
	defer c.assignMu.Unlock()

	now := time.Now().UTC()
	payload := events.ScrapeCompletePayload{LinkID: task.LinkID}

	switch {
	case extractErr != nil:
		msg := extractErr.Error()
		c.failTask(task.TaskID, msg, now)
		payload.Error = msg

	default:
		path, perr := c.persister.Persist(task, result)
		if perr != nil {
			msg := perr.Error()
			c.failTask(task.TaskID, msg, now)
			payload.Error = msg
			c.publisher.Error(ctx, task.BatchID, events.ErrorPayload{
				Where:   "persister",
				Code:    events.ErrorCodePersistence,
				Message: msg,
			})
		} else {
			err := c.tracker.Transition(task.TaskID, models.TaskStatusProcessing, models.TaskStatusCompleted, models.TaskPatch{
				CompletedAt:  &now,
				ArtifactPath: &path,
			})
			if err != nil {
				c.logger.Error("Completion transition failed", "task_id", task.TaskID, "error", err)
			}
			payload.Success = true
			payload.ArtifactPath = path
		}
	}

	c.publisher.ScrapeComplete(ctx, task.BatchID, payload)
	c.publishStatus(ctx, task.BatchID)
	c.confirmAllComplete(ctx, task.BatchID)
}

func (c *ControlCenter) failTask(taskID, msg string, now time.Time) {
	err := c.tracker.Transition(taskID, models.TaskStatusProcessing, models.TaskStatusFailed, models.TaskPatch{
		CompletedAt: &now,
		Error:       &msg,
	})
	if err != nil {
		c.logger.Error("Failure transition failed", "task_id", taskID, "error", err)
	}
}
