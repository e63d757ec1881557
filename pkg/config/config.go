// Package config loads and validates the deepscout configuration.
// Configuration comes from deepscout.yaml (with {{.ENV_VAR}} expansion)
// merged over built-in defaults. The resulting Config is immutable after
// Initialize returns and is passed by reference throughout the process.
package config

// Config is the root configuration object.
type Config struct {
	Storage       *StorageConfig       `yaml:"storage"`
	Server        *ServerConfig        `yaml:"server"`
	Scraping      *ScrapingConfig      `yaml:"scraping"`
	Summarization *SummarizationConfig `yaml:"summarization"`
	Research      *ResearchConfig      `yaml:"research"`
	EventBus      *EventBusConfig      `yaml:"event_bus"`
	LLM           *LLMConfig           `yaml:"llm"`
	Embedding     *EmbeddingConfig     `yaml:"embedding"`
	Retention     *RetentionConfig     `yaml:"retention"`
}

// StorageConfig locates the on-disk data root (batches/, sessions/, reports/).
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// ServerConfig holds HTTP/WebSocket server settings.
type ServerConfig struct {
	HTTPPort         string   `yaml:"http_port"`
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
	WSWriteTimeoutMS int      `yaml:"ws_write_timeout_ms"`
}

// EventBusConfig tunes the in-process event bus.
type EventBusConfig struct {
	// SubscriberBuffer is the per-subscriber delivery buffer. A subscriber
	// whose buffer fills is detached rather than backpressuring the producer.
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// LLMConfig selects and tunes the streaming LLM provider.
type LLMConfig struct {
	Provider  string `yaml:"provider"` // currently "anthropic"
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	// APIKeyEnv names the environment variable holding the API key.
	// The key itself never appears in config files.
	APIKeyEnv string `yaml:"api_key_env"`
}

// EmbeddingConfig selects the embedding provider for the novelty filter.
type EmbeddingConfig struct {
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// RetentionConfig governs on-disk data retention. Batches, session documents,
// and reports older than the retention window are removed by the background
// sweeper, along with their persisted event history.
type RetentionConfig struct {
	// Enabled turns the background sweeper on.
	Enabled bool `yaml:"enabled"`
	// MaxAgeDays is the retention window; data untouched for longer is removed.
	MaxAgeDays int `yaml:"max_age_days"`
	// SweepIntervalH is the hours between sweeps.
	SweepIntervalH int `yaml:"sweep_interval_h"`
}
