package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0o644))
	return dir
}

func TestInitialize_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Initialize(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Scraping.WorkerPoolSize)
	assert.Equal(t, 100, cfg.Scraping.QueueCheckIntervalMS)
	assert.Equal(t, 3, cfg.Scraping.Retry.PersistenceAttempts)
	assert.Equal(t, 3, cfg.Summarization.WorkerPoolSize)
	assert.Equal(t, 200, cfg.Summarization.SettleDelayMS)
	assert.Equal(t, 20_000, cfg.Research.PageWindowSizeChars)
	assert.InDelta(t, 0.85, cfg.Research.NoveltyThreshold, 1e-9)
	assert.Equal(t, 15, cfg.Research.HeartbeatSeconds)
	assert.True(t, cfg.Research.Stream.IncludeUsage)
	assert.Equal(t, 1024, cfg.EventBus.SubscriberBuffer)
	assert.False(t, cfg.Retention.Enabled)
	assert.Equal(t, 30, cfg.Retention.MaxAgeDays)
}

func TestInitialize_UserOverridesMergeOverDefaults(t *testing.T) {
	dir := writeConfig(t, `
scraping:
  worker_pool_size: 4
research:
  novelty_threshold: 0.9
`)
	cfg, err := Initialize(dir)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Scraping.WorkerPoolSize)
	assert.InDelta(t, 0.9, cfg.Research.NoveltyThreshold, 1e-9)
	// Untouched sections keep defaults.
	assert.Equal(t, 100, cfg.Scraping.QueueCheckIntervalMS)
	assert.Equal(t, 3, cfg.Summarization.WorkerPoolSize)
}

func TestInitialize_EnvExpansion(t *testing.T) {
	t.Setenv("DEEPSCOUT_TEST_DATA_DIR", "/var/lib/scout")
	dir := writeConfig(t, `
storage:
  data_dir: "{{.DEEPSCOUT_TEST_DATA_DIR}}"
`)
	cfg, err := Initialize(dir)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/scout", cfg.Storage.DataDir)
}

func TestInitialize_ValidationFailure(t *testing.T) {
	dir := writeConfig(t, `
research:
  novelty_threshold: 1.5
`)
	_, err := Initialize(dir)
	require.Error(t, err)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "research.novelty_threshold", vErr.Field)
}

func TestInitialize_MalformedYAML(t *testing.T) {
	dir := writeConfig(t, "scraping: [not a map")
	_, err := Initialize(dir)
	require.Error(t, err)
	var lErr *LoadError
	require.ErrorAs(t, err, &lErr)
	assert.Equal(t, ConfigFileName, lErr.File)
}

func TestExpandEnv_PreservesLiteralDollar(t *testing.T) {
	in := []byte(`pattern: "^secret.*$"`)
	assert.Equal(t, in, ExpandEnv(in))
}

func TestDurationHelpers(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "100ms", cfg.Scraping.QueueCheckInterval().String())
	assert.Equal(t, "200ms", cfg.Summarization.SettleDelay().String())
	assert.Equal(t, "15s", cfg.Research.Heartbeat().String())
	assert.Equal(t, "30s", cfg.Scraping.CompletionTimeout().String())
}
