package scrape

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/deepscout/deepscout/pkg/models"
	"github.com/deepscout/deepscout/pkg/storage"
)

// Persister writes scrape artifacts durably. Every write is atomic
// (temp-then-rename) and verified by re-opening and parsing the target,
// because the summarization pipeline opens the file the moment the
// scrape_complete event arrives.
type Persister struct {
	layout   *storage.Layout
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
}

// NewPersister creates a persister over layout with the given retry budget.
func NewPersister(layout *storage.Layout, attempts int, logger *slog.Logger) *Persister {
	if attempts <= 0 {
		attempts = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{
		layout:   layout,
		attempts: attempts,
		backoff:  50 * time.Millisecond,
		logger:   logger.With("component", "persister"),
	}
}

// Persist writes the artifact for task and returns its final path. Retries
// with exponential backoff on write or verification failure; returns
// ErrPersistenceFailed once the budget is exhausted.
func (p *Persister) Persist(task models.ScrapingTask, result *models.ScrapeResult) (string, error) {
	artifact := models.Artifact{
		BatchID: task.BatchID,
		LinkID:  task.LinkID,
		Kind:    task.LinkKind,
		Result:  *result,
		Meta: models.ArtifactMeta{
			Source:      task.URL,
			ScraperKind: string(task.ScraperKind),
			ExtractedAt: time.Now().UTC(),
			WordCount:   countWords(result),
			Language:    result.Extra["language"],
		},
	}
	path := p.layout.ArtifactPath(task.BatchID, task.LinkID, task.LinkKind)

	var lastErr error
	delay := p.backoff
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if lastErr = p.writeAndVerify(path, &artifact); lastErr == nil {
			return path, nil
		}
		p.logger.Warn("Artifact write failed",
			"task_id", task.TaskID, "path", path, "attempt", attempt, "error", lastErr)
		if attempt < p.attempts {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return "", fmt.Errorf("%w: %s after %d attempts: %v",
		ErrPersistenceFailed, path, p.attempts, lastErr)
}

// writeAndVerify performs one atomic write followed by a read-back parse.
func (p *Persister) writeAndVerify(path string, artifact *models.Artifact) error {
	if err := storage.WriteJSONAtomic(path, artifact); err != nil {
		return err
	}
	var check models.Artifact
	if err := storage.ReadJSON(path, &check); err != nil {
		return fmt.Errorf("verification read: %w", err)
	}
	if check.LinkID != artifact.LinkID || check.BatchID != artifact.BatchID {
		return fmt.Errorf("verification mismatch: read %s/%s", check.BatchID, check.LinkID)
	}
	return nil
}

func countWords(result *models.ScrapeResult) int {
	n := len(strings.Fields(result.Content))
	for _, c := range result.Comments {
		n += len(strings.Fields(c.Text))
	}
	return n
}
