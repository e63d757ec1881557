package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/deepscout/deepscout/pkg/events"
	"github.com/deepscout/deepscout/pkg/models"
)

type workerState string

const (
	workerStateIdle       workerState = "idle"
	workerStateProcessing workerState = "processing"
	workerStateTerminated workerState = "terminated"
)

// worker pulls tasks from the control center's assignment loop and runs a
// scraper for each. One goroutine per worker.
type worker struct {
	id     int
	center *ControlCenter
	logger *slog.Logger

	state          workerState
	tasksCompleted int
	tasksFailed    int
}

func (w *worker) run(ctx context.Context) {
	w.state = workerStateIdle
	w.logger.Info("Scrape worker started")

	for {
		select {
		case <-w.center.stopCh:
			w.state = workerStateTerminated
			w.logger.Info("Scrape worker stopping",
				"completed", w.tasksCompleted, "failed", w.tasksFailed)
			return
		case <-ctx.Done():
			w.state = workerStateTerminated
			return
		default:
		}

		task, ok := w.center.tryAssign(w.id)
		if !ok {
			w.sleep(w.center.cfg.QueueCheckInterval())
			continue
		}

		w.state = workerStateProcessing
		w.runTask(ctx, task)
		w.state = workerStateIdle
		// Re-enter assignment immediately; no poll delay after real work.
	}
}

// runTask guards one full assignment, completion bookkeeping included. A
// panic anywhere in the iteration is absorbed so the pool keeps its worker
// count; the next loop pass picks up fresh work.
func (w *worker) runTask(ctx context.Context, task models.ScrapingTask) {
	defer func() {
		if r := recover(); r != nil {
			w.tasksFailed++
			w.logger.Error("Worker recovered from panic",
				"task_id", task.TaskID, "panic", r)
		}
	}()
	w.process(ctx, task)
}

// process runs one extraction end to end. A panicking scraper fails the task
// and is absorbed here so the pool keeps its worker count.
func (w *worker) process(ctx context.Context, task models.ScrapingTask) {
	var (
		result *models.ScrapeResult
		err    error
	)

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: scraper panicked: %v", ErrScraperFailed, r)
				w.logger.Error("Scraper panic recovered",
					"task_id", task.TaskID, "panic", r)
			}
		}()
		result, err = w.extract(ctx, task)
	}()

	if err != nil {
		w.tasksFailed++
	} else {
		w.tasksCompleted++
	}
	w.center.completeTask(ctx, task, result, err)
}

func (w *worker) extract(ctx context.Context, task models.ScrapingTask) (*models.ScrapeResult, error) {
	sink := &progressPublisher{
		publisher: w.center.publisher,
		batchID:   task.BatchID,
		ctx:       ctx,
	}
	scraper, err := w.center.scrapers.New(task.ScraperKind, sink)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScraperFailed, err)
	}
	defer scraper.Close()

	if !scraper.ValidateURL(task.URL) {
		return nil, fmt.Errorf("%w: url rejected by %s scraper: %s",
			ErrScraperFailed, task.ScraperKind, task.URL)
	}

	sink.Progress(task.LinkID, "fetch", 0.0, "")
	result, err := scraper.Extract(ctx, task.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScraperFailed, err)
	}
	sink.Progress(task.LinkID, "extract", 1.0, "")
	return result, nil
}

// sleep waits for d or until the pool stops, whichever comes first.
func (w *worker) sleep(d time.Duration) {
	select {
	case <-w.center.stopCh:
	case <-time.After(d):
	}
}

// progressPublisher adapts the event publisher to the ProgressSink the
// scrapers report through.
type progressPublisher struct {
	publisher *events.Publisher
	batchID   string
	ctx       context.Context
}

func (p *progressPublisher) Progress(linkID, stage string, progress float64, message string) {
	p.publisher.ScrapeProgress(p.ctx, p.batchID, events.ScrapeProgressPayload{
		LinkID:   linkID,
		Stage:    stage,
		Progress: progress,
		Message:  message,
	})
}
