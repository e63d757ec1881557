package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/deepscout/deepscout/pkg/config"
	"github.com/deepscout/deepscout/pkg/events"
	"github.com/deepscout/deepscout/pkg/models"
	"github.com/deepscout/deepscout/pkg/storage"
)

// itemPhase tracks where a link currently sits in the summarization flow.
// The three live phases are disjoint per link; attempt counters let a
// readmitted link invalidate any worker still holding the previous attempt.
type itemPhase string

const (
	phaseQueued     itemPhase = "queued"
	phaseProcessing itemPhase = "processing"
	phaseCancelled  itemPhase = "cancelled"
)

type itemState struct {
	phase   itemPhase
	attempt int
}

type job struct {
	batchID      string
	linkID       string
	artifactPath string
	attempt      int
}

// Manager is the event-driven summarization pipeline. It watches batch
// channels for scrape_complete events and dispatches each durable artifact
// to a summarization worker exactly once.
type Manager struct {
	summarizer *Summarizer
	layout     *storage.Layout
	publisher  *events.Publisher
	cfg        *config.SummarizationConfig
	logger     *slog.Logger

	mu    sync.Mutex
	items map[string]map[string]*itemState // batch id -> link id -> state
	queue []job

	watchMu sync.Mutex
	watches map[string]*events.Subscription

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool

	idleMu sync.Mutex
	busy   int

	// lastActivity feeds the wait timeout: the clock restarts whenever a
	// worker picks up or finishes a job.
	lastActivity time.Time
}

// NewManager wires the summarization manager. Workers are not started until
// Start is called.
func NewManager(
	summarizer *Summarizer,
	layout *storage.Layout,
	publisher *events.Publisher,
	cfg *config.SummarizationConfig,
	logger *slog.Logger,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		summarizer:   summarizer,
		layout:       layout,
		publisher:    publisher,
		cfg:          cfg,
		logger:       logger.With("component", "summarization_manager"),
		items:        make(map[string]map[string]*itemState),
		watches:      make(map[string]*events.Subscription),
		stopCh:       make(chan struct{}),
		lastActivity: time.Now(),
	}
}

// Start spawns the worker pool.
func (m *Manager) Start(ctx context.Context) {
	if m.started {
		m.logger.Warn("Summarization manager already started, ignoring duplicate Start call")
		return
	}
	m.started = true

	m.logger.Info("Starting summarization workers", "worker_count", m.cfg.WorkerPoolSize)
	for i := 0; i < m.cfg.WorkerPoolSize; i++ {
		m.wg.Add(1)
		go func(id int) {
			defer m.wg.Done()
			m.runWorker(ctx, id)
		}(i)
	}
}

// Stop detaches all batch watches and stops the workers. In-flight LLM calls
// run to their next cancellation checkpoint.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })

	m.watchMu.Lock()
	for batchID, sub := range m.watches {
		m.publisher.Bus().Unsubscribe(sub)
		delete(m.watches, batchID)
	}
	m.watchMu.Unlock()

	m.wg.Wait()
	m.logger.Info("Summarization workers stopped")
}

// WatchBatch subscribes to a batch's event channel and enqueues a
// summarization job for every successful scrape_complete. Idempotent per
// batch.
func (m *Manager) WatchBatch(ctx context.Context, batchID string) {
	m.watchMu.Lock()
	if _, ok := m.watches[batchID]; ok {
		m.watchMu.Unlock()
		return
	}
	sub := m.publisher.Bus().Subscribe(events.BatchChannel(batchID))
	m.watches[batchID] = sub
	m.watchMu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for env := range sub.Events() {
			if env.Type != events.EventTypeScrapeComplete {
				continue
			}
			var payload events.ScrapeCompletePayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				m.logger.Error("Malformed scrape_complete payload",
					"batch_id", batchID, "error", err)
				continue
			}
			if !payload.Success || payload.ArtifactPath == "" {
				continue
			}
			m.Enqueue(batchID, payload.LinkID, payload.ArtifactPath)
		}
	}()
}

// UnwatchBatch detaches the batch watch. Queued jobs for the batch still run.
func (m *Manager) UnwatchBatch(batchID string) {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	if sub, ok := m.watches[batchID]; ok {
		m.publisher.Bus().Unsubscribe(sub)
		delete(m.watches, batchID)
	}
}

// Enqueue admits a link for summarization. Duplicate events for a link that
// is already queued or processing are ignored; a link cancelled earlier is
// readmitted fresh, which invalidates any stale worker via the attempt
// counter.
func (m *Manager) Enqueue(batchID, linkID, artifactPath string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	batch := m.items[batchID]
	if batch == nil {
		batch = make(map[string]*itemState)
		m.items[batchID] = batch
	}

	state := batch[linkID]
	switch {
	case state == nil:
		batch[linkID] = &itemState{phase: phaseQueued, attempt: 1}
	case state.phase == phaseQueued || state.phase == phaseProcessing:
		return // idempotent
	case state.phase == phaseCancelled:
		// A fresh scrape of a previously cancelled link starts over.
		state.phase = phaseQueued
		state.attempt++
	}

	m.queue = append(m.queue, job{
		batchID:      batchID,
		linkID:       linkID,
		artifactPath: artifactPath,
		attempt:      batch[linkID].attempt,
	})
}

// CancelItem marks a link cancelled. A queued entry is skipped when popped;
// a processing worker abandons at its next checkpoint.
func (m *Manager) CancelItem(batchID, linkID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch := m.items[batchID]
	if batch == nil {
		batch = make(map[string]*itemState)
		m.items[batchID] = batch
	}
	state := batch[linkID]
	if state == nil {
		batch[linkID] = &itemState{phase: phaseCancelled}
		return
	}
	state.phase = phaseCancelled
}

// QueueSize returns the number of jobs waiting for a worker, including
// entries that will be discarded as stale when popped.
func (m *Manager) QueueSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// WaitForCompletion blocks until the queue is empty and every worker has
// been idle for the settle delay, or until the configured timeout passes
// since the last observed activity, in which case ErrPartialCompletion is
// returned.
func (m *Manager) WaitForCompletion(ctx context.Context, batchID string) error {
	settledAt := time.Time{}
	for {
		if m.quiescent() {
			if settledAt.IsZero() {
				settledAt = time.Now()
			}
			if time.Since(settledAt) >= m.cfg.SettleDelay() {
				return nil
			}
		} else {
			settledAt = time.Time{}
		}

		if time.Since(m.activity()) > m.cfg.WaitTimeout() {
			m.publisher.Error(ctx, batchID, events.ErrorPayload{
				Where:   "summarization_manager",
				Code:    events.ErrorCodePartialCompletion,
				Message: "summarization wait timed out",
			})
			return fmt.Errorf("batch %s: %w", batchID, ErrPartialCompletion)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func (m *Manager) quiescent() bool {
	m.mu.Lock()
	empty := len(m.queue) == 0
	m.mu.Unlock()
	if !empty {
		return false
	}
	m.idleMu.Lock()
	defer m.idleMu.Unlock()
	return m.busy == 0
}

func (m *Manager) activity() time.Time {
	m.idleMu.Lock()
	defer m.idleMu.Unlock()
	return m.lastActivity
}

func (m *Manager) touchActivity() {
	m.idleMu.Lock()
	m.lastActivity = time.Now()
	m.idleMu.Unlock()
}

// pop claims the next runnable job. Entries whose link is no longer queued
// at the same attempt are discarded here.
func (m *Manager) pop() (job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.queue) > 0 {
		j := m.queue[0]
		m.queue = m.queue[1:]

		state := m.items[j.batchID][j.linkID]
		if state == nil || state.phase != phaseQueued || state.attempt != j.attempt {
			continue // cancelled or superseded while waiting
		}
		state.phase = phaseProcessing
		return j, true
	}
	return job{}, false
}

// checkpoint reports whether the job is still the live attempt for its link.
func (m *Manager) checkpoint(j job) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.items[j.batchID][j.linkID]
	return state != nil && state.phase == phaseProcessing && state.attempt == j.attempt
}

// finish retires the job's processing claim. Returns false when the job was
// cancelled or superseded in the meantime.
func (m *Manager) finish(j job) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.items[j.batchID][j.linkID]
	if state == nil || state.attempt != j.attempt || state.phase != phaseProcessing {
		return false
	}
	delete(m.items[j.batchID], j.linkID)
	return true
}

func (m *Manager) runWorker(ctx context.Context, id int) {
	logger := m.logger.With("worker_id", id)
	logger.Info("Summarization worker started")

	for {
		select {
		case <-m.stopCh:
			logger.Info("Summarization worker stopping")
			return
		case <-ctx.Done():
			return
		default:
		}

		j, ok := m.pop()
		if !ok {
			select {
			case <-m.stopCh:
			case <-time.After(20 * time.Millisecond):
			}
			continue
		}

		m.idleMu.Lock()
		m.busy++
		m.lastActivity = time.Now()
		m.idleMu.Unlock()

		m.process(ctx, j, logger)

		m.idleMu.Lock()
		m.busy--
		m.lastActivity = time.Now()
		m.idleMu.Unlock()
	}
}

func (m *Manager) process(ctx context.Context, j job, logger *slog.Logger) {
	progress := func(stage string, p float64) {
		m.publisher.SummaryProgress(ctx, j.batchID, events.SummaryProgressPayload{
			LinkID:   j.linkID,
			Stage:    stage,
			Progress: p,
		})
	}

	progress("load", 0.0)
	var artifact models.Artifact
	if err := storage.ReadJSON(j.artifactPath, &artifact); err != nil {
		m.fail(ctx, j, fmt.Errorf("open artifact: %w", err), logger)
		return
	}

	if !m.checkpoint(j) {
		logger.Info("Summarization abandoned before model call", "link_id", j.linkID)
		return
	}

	progress("summarize", 0.3)
	summary, err := m.summarizer.Summarize(ctx, &artifact)
	if err != nil {
		if m.checkpoint(j) {
			m.fail(ctx, j, err, logger)
		}
		return
	}

	// The LLM call is the long pole; re-check cancellation before writing.
	if !m.checkpoint(j) {
		logger.Info("Summarization abandoned after model call", "link_id", j.linkID)
		return
	}

	progress("write", 0.9)
	path := m.layout.SummaryPath(j.batchID, j.linkID)
	if err := storage.WriteJSONAtomic(path, summary); err != nil {
		m.fail(ctx, j, fmt.Errorf("write summary: %w", err), logger)
		return
	}

	if !m.finish(j) {
		return
	}
	m.publisher.SummaryComplete(ctx, j.batchID, events.SummaryCompletePayload{
		LinkID:      j.linkID,
		Success:     true,
		SummaryPath: path,
	})
	logger.Info("Summary written", "batch_id", j.batchID, "link_id", j.linkID, "path", path)
}

func (m *Manager) fail(ctx context.Context, j job, err error, logger *slog.Logger) {
	if !m.finish(j) {
		return
	}
	logger.Error("Summarization failed", "batch_id", j.batchID, "link_id", j.linkID, "error", err)
	m.publisher.SummaryComplete(ctx, j.batchID, events.SummaryCompletePayload{
		LinkID:  j.linkID,
		Success: false,
		Error:   err.Error(),
	})
}
