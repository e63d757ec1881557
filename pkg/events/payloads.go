package events

import (
	"encoding/json"
	"time"
)

// Envelope wraps every event delivered on a channel. Seq is assigned by the
// bus and is strictly monotone per channel; Payload holds the marshaled
// type-specific payload struct.
type Envelope struct {
	Type      string          `json:"type"`
	BatchID   string          `json:"batch_id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Seq       uint64          `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ScrapingStatusPayload is a batch-level progress summary. Published on both
// the batch channel and the global batches channel whenever counts change.
type ScrapingStatusPayload struct {
	ExpectedTotal  int     `json:"expected_total"`
	Registered     int     `json:"registered"`
	Completed      int     `json:"completed"`
	Failed         int     `json:"failed"`
	InProgress     int     `json:"in_progress"`
	Pending        int     `json:"pending"`
	CompletionRate float64 `json:"completion_rate"`
	IsComplete     bool    `json:"is_complete"`
	CanProceed     bool    `json:"can_proceed"`
}

// ScrapeProgressPayload reports incremental progress for a single task,
// forwarded from the scraper's progress sink. Progress is in [0,1].
type ScrapeProgressPayload struct {
	LinkID   string  `json:"link_id"`
	Stage    string  `json:"stage"`
	Progress float64 `json:"progress"`
	Message  string  `json:"message,omitempty"`
}

// ScrapeCompletePayload announces the terminal outcome of one task.
type ScrapeCompletePayload struct {
	LinkID       string `json:"link_id"`
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
	ArtifactPath string `json:"artifact_path,omitempty"`
}

// AllScrapingCompletePayload fires exactly once per batch when every task
// has reached a terminal status.
type AllScrapingCompletePayload struct {
	CompletionRate float64 `json:"completion_rate"`
	Registered     int     `json:"registered"`
	ExpectedTotal  int     `json:"expected_total"`
}

// SummaryProgressPayload reports a summarization worker's progress on a link.
type SummaryProgressPayload struct {
	LinkID   string  `json:"link_id"`
	Stage    string  `json:"stage"`
	Progress float64 `json:"progress"`
}

// SummaryCompletePayload announces a finished per-link summary.
type SummaryCompletePayload struct {
	LinkID      string `json:"link_id"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	SummaryPath string `json:"summary_path,omitempty"`
}

// ResearchPhaseChangePayload marks a research session entering or exiting a
// phase. Phase is the numeric phase id (0.5 through 4).
type ResearchPhaseChangePayload struct {
	Phase     float64 `json:"phase"`
	PhaseName string  `json:"phase_name"`
	Entering  bool    `json:"entering"`
}

// ResearchStreamTokenPayload carries one streamed text fragment from the LLM.
type ResearchStreamTokenPayload struct {
	Phase    float64 `json:"phase"`
	Fragment string  `json:"fragment"`
}

// ResearchStreamStructuredPayload carries a parsed structured result emitted
// mid-stream (a candidate goal, a plan step, a finding).
type ResearchStreamStructuredPayload struct {
	Phase  float64         `json:"phase"`
	Object json.RawMessage `json:"object"`
}

// UserInputRequiredPayload asks the user a question. The session suspends
// until a user_input message referencing PromptID arrives.
type UserInputRequiredPayload struct {
	PromptID   string   `json:"prompt_id"`
	PromptText string   `json:"prompt_text"`
	Choices    []string `json:"choices,omitempty"`
}

// WorkflowProgressPayload is the research heartbeat plus coarse progress.
type WorkflowProgressPayload struct {
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// ErrorPayload reports a recoverable or terminal error on a channel. Also
// sent as the last envelope to a subscriber detached for falling behind.
type ErrorPayload struct {
	Where   string `json:"where"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
