package config

import "time"

// ScrapingConfig controls the scraping worker pool.
type ScrapingConfig struct {
	// WorkerPoolSize is the number of scraping workers (W).
	WorkerPoolSize int `yaml:"worker_pool_size"`

	// QueueCheckIntervalMS is how long an idle worker waits before polling
	// the task queue again, in milliseconds.
	QueueCheckIntervalMS int `yaml:"queue_check_interval_ms"`

	// CompletionTimeoutS bounds the caller-side wait for batch completion
	// confirmation, in seconds.
	CompletionTimeoutS int `yaml:"completion_timeout_seconds"`

	Retry ScrapingRetryConfig `yaml:"retry"`
}

// ScrapingRetryConfig controls retry behavior for artifact persistence.
type ScrapingRetryConfig struct {
	// PersistenceAttempts is the maximum number of write-and-verify attempts
	// before a task is failed with PersistenceFailed.
	PersistenceAttempts int `yaml:"persistence_attempts"`
}

// QueueCheckInterval returns the poll interval as a duration.
func (c *ScrapingConfig) QueueCheckInterval() time.Duration {
	return time.Duration(c.QueueCheckIntervalMS) * time.Millisecond
}

// CompletionTimeout returns the completion wait bound as a duration.
func (c *ScrapingConfig) CompletionTimeout() time.Duration {
	return time.Duration(c.CompletionTimeoutS) * time.Second
}

// SummarizationConfig controls the summarization worker pool.
type SummarizationConfig struct {
	// WorkerPoolSize is the number of summarization workers (M).
	WorkerPoolSize int `yaml:"worker_pool_size"`

	// SettleDelayMS is how long the completion predicate requires the queue
	// to stay empty and all workers idle before reporting success.
	SettleDelayMS int `yaml:"settle_delay_ms"`

	// WaitTimeoutS bounds wait-for-completion beyond the last observed
	// activity, in seconds.
	WaitTimeoutS int `yaml:"wait_timeout_seconds"`
}

// SettleDelay returns the settle delay as a duration.
func (c *SummarizationConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMS) * time.Millisecond
}

// WaitTimeout returns the completion wait bound as a duration.
func (c *SummarizationConfig) WaitTimeout() time.Duration {
	return time.Duration(c.WaitTimeoutS) * time.Second
}

// ResearchConfig controls the research orchestrator.
type ResearchConfig struct {
	// PageWindowSizeChars is the window size S used when a step's input
	// exceeds the model budget and must be paged.
	PageWindowSizeChars int `yaml:"page_window_size_chars"`

	// NoveltyThreshold is the cosine-similarity threshold above which a new
	// finding is considered a duplicate of a prior one.
	NoveltyThreshold float64 `yaml:"novelty_threshold"`

	// HeartbeatSeconds is the stream-inactivity interval after which a
	// workflow_progress heartbeat is published.
	HeartbeatSeconds int `yaml:"heartbeat_seconds"`

	Stream ResearchStreamConfig `yaml:"stream"`
}

// ResearchStreamConfig tunes LLM stream handling during research phases.
type ResearchStreamConfig struct {
	IncludeUsage bool `yaml:"include_usage"`
}

// Heartbeat returns the heartbeat interval as a duration.
func (c *ResearchConfig) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}
