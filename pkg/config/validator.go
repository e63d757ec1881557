package config

// validate checks ranges and required fields after merging.
func validate(cfg *Config) error {
	if cfg.Storage.DataDir == "" {
		return &ValidationError{Field: "storage.data_dir", Reason: "must not be empty"}
	}
	if cfg.Scraping.WorkerPoolSize < 1 {
		return &ValidationError{Field: "scraping.worker_pool_size", Reason: "must be at least 1"}
	}
	if cfg.Scraping.QueueCheckIntervalMS < 1 {
		return &ValidationError{Field: "scraping.queue_check_interval_ms", Reason: "must be at least 1"}
	}
	if cfg.Scraping.Retry.PersistenceAttempts < 1 {
		return &ValidationError{Field: "scraping.retry.persistence_attempts", Reason: "must be at least 1"}
	}
	if cfg.Summarization.WorkerPoolSize < 1 {
		return &ValidationError{Field: "summarization.worker_pool_size", Reason: "must be at least 1"}
	}
	if cfg.Summarization.SettleDelayMS < 0 {
		return &ValidationError{Field: "summarization.settle_delay_ms", Reason: "must not be negative"}
	}
	if cfg.Research.PageWindowSizeChars < 1000 {
		return &ValidationError{Field: "research.page_window_size_chars", Reason: "must be at least 1000"}
	}
	if t := cfg.Research.NoveltyThreshold; t <= 0 || t > 1 {
		return &ValidationError{Field: "research.novelty_threshold", Reason: "must be in (0, 1]"}
	}
	if cfg.Research.HeartbeatSeconds < 1 {
		return &ValidationError{Field: "research.heartbeat_seconds", Reason: "must be at least 1"}
	}
	if cfg.EventBus.SubscriberBuffer < 1 {
		return &ValidationError{Field: "event_bus.subscriber_buffer", Reason: "must be at least 1"}
	}
	if cfg.LLM.Model == "" {
		return &ValidationError{Field: "llm.model", Reason: "must not be empty"}
	}
	if cfg.Retention.Enabled {
		if cfg.Retention.MaxAgeDays < 1 {
			return &ValidationError{Field: "retention.max_age_days", Reason: "must be at least 1"}
		}
		if cfg.Retention.SweepIntervalH < 1 {
			return &ValidationError{Field: "retention.sweep_interval_h", Reason: "must be at least 1"}
		}
	}
	return nil
}
