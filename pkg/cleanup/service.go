// Package cleanup enforces on-disk data retention: batch artifacts, session
// documents, and reports past the retention window are removed, along with
// their persisted event history.
package cleanup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/deepscout/deepscout/pkg/config"
	"github.com/deepscout/deepscout/pkg/events"
	"github.com/deepscout/deepscout/pkg/storage"
)

// HistoryPruner deletes persisted event history for a channel. Implemented
// by the database event store; nil disables history pruning.
type HistoryPruner interface {
	DeleteChannel(ctx context.Context, channel string) error
}

// Service periodically removes data older than the retention window.
// All operations are idempotent; a sweep that races a concurrent delete
// just logs and moves on.
type Service struct {
	cfg     *config.RetentionConfig
	layout  *storage.Layout
	history HistoryPruner
	logger  *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a retention sweeper. history may be nil.
func NewService(cfg *config.RetentionConfig, layout *storage.Layout, history HistoryPruner, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:     cfg,
		layout:  layout,
		history: history,
		logger:  logger.With("component", "cleanup"),
	}
}

// Start launches the background sweep loop. A first sweep runs immediately.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Cleanup service started",
		"max_age_days", s.cfg.MaxAgeDays,
		"sweep_interval_h", s.cfg.SweepIntervalH)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.Sweep(ctx)

	ticker := time.NewTicker(time.Duration(s.cfg.SweepIntervalH) * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one retention pass over batches, sessions, and reports.
func (s *Service) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-time.Duration(s.cfg.MaxAgeDays) * 24 * time.Hour)

	removed := s.sweepBatches(ctx, cutoff)
	removed += s.sweepFiles(filepath.Join(s.layout.Root(), "sessions"), cutoff)
	removed += s.sweepFiles(filepath.Join(s.layout.Root(), "reports"), cutoff)

	if removed > 0 {
		s.logger.Info("Retention sweep removed expired data", "removed", removed)
	}
}

// sweepBatches removes whole batch directories older than cutoff and prunes
// their event history channels.
func (s *Service) sweepBatches(ctx context.Context, cutoff time.Time) int {
	batchesDir := filepath.Join(s.layout.Root(), "batches")
	entries, err := os.ReadDir(batchesDir)
	if err != nil {
		return 0
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		batchID := e.Name()
		if err := os.RemoveAll(filepath.Join(batchesDir, batchID)); err != nil {
			s.logger.Error("Retention: batch removal failed", "batch_id", batchID, "error", err)
			continue
		}
		if s.history != nil {
			if err := s.history.DeleteChannel(ctx, events.BatchChannel(batchID)); err != nil {
				s.logger.Error("Retention: history prune failed", "batch_id", batchID, "error", err)
			}
		}
		removed++
	}
	return removed
}

// sweepFiles removes regular files older than cutoff in dir, skipping
// temp files from in-flight atomic writes.
func (s *Service) sweepFiles(dir string, cutoff time.Time) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			s.logger.Error("Retention: file removal failed", "path", e.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed
}
