package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepscout/deepscout/pkg/config"
	"github.com/deepscout/deepscout/pkg/events"
	"github.com/deepscout/deepscout/pkg/storage"
)

type recordingPruner struct {
	channels []string
}

func (p *recordingPruner) DeleteChannel(_ context.Context, channel string) error {
	p.channels = append(p.channels, channel)
	return nil
}

func writeAged(t *testing.T, path string, age time.Duration) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	stamp := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, stamp, stamp))
}

func TestSweepRemovesExpiredData(t *testing.T) {
	layout := storage.NewLayout(t.TempDir())
	old := 40 * 24 * time.Hour

	// Expired batch with an artifact, plus a fresh one.
	writeAged(t, filepath.Join(layout.BatchDir("old-batch"), "link1_article.json"), old)
	stamp := time.Now().Add(-old)
	require.NoError(t, os.Chtimes(layout.BatchDir("old-batch"), stamp, stamp))
	writeAged(t, filepath.Join(layout.BatchDir("new-batch"), "link1_article.json"), time.Hour)

	writeAged(t, layout.SessionPath("old-session"), old)
	writeAged(t, layout.SessionPath("new-session"), time.Hour)
	writeAged(t, layout.ReportPath("old-session"), old)

	// In-flight atomic write temp file, old but never swept.
	writeAged(t, filepath.Join(layout.Root(), "sessions", ".x.json.tmp-1"), old)

	pruner := &recordingPruner{}
	svc := NewService(&config.RetentionConfig{Enabled: true, MaxAgeDays: 30, SweepIntervalH: 6},
		layout, pruner, nil)
	svc.Sweep(context.Background())

	assert.NoDirExists(t, layout.BatchDir("old-batch"))
	assert.DirExists(t, layout.BatchDir("new-batch"))
	assert.NoFileExists(t, layout.SessionPath("old-session"))
	assert.FileExists(t, layout.SessionPath("new-session"))
	assert.NoFileExists(t, layout.ReportPath("old-session"))
	assert.FileExists(t, filepath.Join(layout.Root(), "sessions", ".x.json.tmp-1"))

	assert.Equal(t, []string{events.BatchChannel("old-batch")}, pruner.channels)
}

func TestSweepToleratesMissingDirectories(t *testing.T) {
	layout := storage.NewLayout(t.TempDir())
	svc := NewService(&config.RetentionConfig{Enabled: true, MaxAgeDays: 30, SweepIntervalH: 6},
		layout, nil, nil)
	svc.Sweep(context.Background())
}

func TestStartStopIdempotent(t *testing.T) {
	layout := storage.NewLayout(t.TempDir())
	svc := NewService(&config.RetentionConfig{Enabled: true, MaxAgeDays: 30, SweepIntervalH: 6},
		layout, nil, nil)
	svc.Start(context.Background())
	svc.Start(context.Background())
	svc.Stop()
}
