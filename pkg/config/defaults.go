package config

// DefaultConfig returns the built-in defaults. User configuration is merged
// on top of these; any field left unset in deepscout.yaml keeps its default.
func DefaultConfig() *Config {
	return &Config{
		Storage: &StorageConfig{
			DataDir: "./data",
		},
		Server: &ServerConfig{
			HTTPPort:         "8080",
			WSWriteTimeoutMS: 10_000,
		},
		Scraping: &ScrapingConfig{
			WorkerPoolSize:       8,
			QueueCheckIntervalMS: 100,
			CompletionTimeoutS:   30,
			Retry: ScrapingRetryConfig{
				PersistenceAttempts: 3,
			},
		},
		Summarization: &SummarizationConfig{
			WorkerPoolSize: 3,
			SettleDelayMS:  200,
			WaitTimeoutS:   60,
		},
		Research: &ResearchConfig{
			PageWindowSizeChars: 20_000,
			NoveltyThreshold:    0.85,
			HeartbeatSeconds:    15,
			Stream: ResearchStreamConfig{
				IncludeUsage: true,
			},
		},
		EventBus: &EventBusConfig{
			SubscriberBuffer: 1024,
		},
		LLM: &LLMConfig{
			Provider:  "anthropic",
			Model:     "claude-sonnet-4-5",
			MaxTokens: 8192,
			APIKeyEnv: "ANTHROPIC_API_KEY",
		},
		Embedding: &EmbeddingConfig{
			Model:     "gemini-embedding-001",
			APIKeyEnv: "GOOGLE_API_KEY",
		},
		Retention: &RetentionConfig{
			Enabled:        false,
			MaxAgeDays:     30,
			SweepIntervalH: 6,
		},
	}
}
