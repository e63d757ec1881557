package scrape

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepscout/deepscout/pkg/models"
	"github.com/deepscout/deepscout/pkg/storage"
)

func TestPersisterWritesVerifiedArtifact(t *testing.T) {
	layout := storage.NewLayout(t.TempDir())
	p := NewPersister(layout, 3, nil)

	task := newTask("b1", "t1")
	result := &models.ScrapeResult{
		Title:   "How gearboxes wear",
		Content: "Planetary gearboxes wear at the sun gear first.",
		Comments: []models.Comment{
			{Author: "u1", Text: "Confirmed on my rig."},
		},
	}

	path, err := p.Persist(task, result)
	require.NoError(t, err)
	assert.Equal(t, layout.ArtifactPath("b1", task.LinkID, task.LinkKind), path)

	var artifact models.Artifact
	require.NoError(t, storage.ReadJSON(path, &artifact))
	assert.Equal(t, "b1", artifact.BatchID)
	assert.Equal(t, task.LinkID, artifact.LinkID)
	assert.Equal(t, result.Title, artifact.Result.Title)
	assert.Equal(t, task.URL, artifact.Meta.Source)
	assert.Equal(t, 12, artifact.Meta.WordCount)
	assert.False(t, artifact.Meta.ExtractedAt.IsZero())
}

func TestPersisterArtifactReadableImmediately(t *testing.T) {
	// The summarizer opens the artifact as soon as it learns the path, so
	// the returned path must already hold a complete document.
	layout := storage.NewLayout(t.TempDir())
	p := NewPersister(layout, 3, nil)

	task := newTask("b1", "t1")
	path, err := p.Persist(task, &models.ScrapeResult{Content: "body"})
	require.NoError(t, err)

	var artifact models.Artifact
	require.NoError(t, storage.ReadJSON(path, &artifact))
	assert.Equal(t, "body", artifact.Result.Content)

	// No temp files left behind next to the artifact.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, e.Name()[0] == '.', "unexpected temp file %s", e.Name())
	}
}

func TestPersisterExhaustsRetryBudget(t *testing.T) {
	dir := t.TempDir()
	layout := storage.NewLayout(dir)
	task := newTask("b1", "t1")

	// Occupy the batch directory path with a regular file so every write
	// attempt fails.
	batchDir := filepath.Dir(layout.ArtifactPath("b1", task.LinkID, task.LinkKind))
	require.NoError(t, os.MkdirAll(filepath.Dir(batchDir), 0o755))
	require.NoError(t, os.WriteFile(batchDir, []byte("blocker"), 0o644))

	p := NewPersister(layout, 2, nil)
	p.backoff = 0 // keep the test fast

	_, err := p.Persist(task, &models.ScrapeResult{Content: "body"})
	require.ErrorIs(t, err, ErrPersistenceFailed)
	assert.Contains(t, err.Error(), "after 2 attempts")
}
