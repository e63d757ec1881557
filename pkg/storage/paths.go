// Package storage defines the on-disk layout for batches, sessions, and
// reports, and provides atomic JSON persistence shared by the scraping and
// research subsystems.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/deepscout/deepscout/pkg/models"
)

// Layout resolves file paths under a configured data root:
//
//	batches/<batch_id>/<link_id>_<kind>.json       scrape artifacts
//	batches/<batch_id>/<link_id>_summary.json      summaries
//	sessions/<session_id>.json                     research sessions
//	reports/<session_id>.md                        final reports
type Layout struct {
	root string
}

// NewLayout creates a Layout rooted at dir. The directory tree is created
// lazily as files are written.
func NewLayout(dir string) *Layout {
	return &Layout{root: dir}
}

// Root returns the data root directory.
func (l *Layout) Root() string { return l.root }

// BatchDir returns the directory holding a batch's artifacts.
func (l *Layout) BatchDir(batchID string) string {
	return filepath.Join(l.root, "batches", batchID)
}

// ArtifactPath returns the artifact file path for a link within a batch.
func (l *Layout) ArtifactPath(batchID, linkID string, kind models.LinkKind) string {
	return filepath.Join(l.BatchDir(batchID), fmt.Sprintf("%s_%s.json", linkID, kind))
}

// SummaryPath returns the summary file path for a link within a batch.
func (l *Layout) SummaryPath(batchID, linkID string) string {
	return filepath.Join(l.BatchDir(batchID), linkID+"_summary.json")
}

// SessionPath returns the persisted session document path.
func (l *Layout) SessionPath(sessionID string) string {
	return filepath.Join(l.root, "sessions", sessionID+".json")
}

// ReportPath returns the final report path for a session.
func (l *Layout) ReportPath(sessionID string) string {
	return filepath.Join(l.root, "reports", sessionID+".md")
}

// EnsureDir creates the parent directory of path if it does not exist.
func EnsureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	return nil
}
