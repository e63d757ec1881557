// Package events provides the in-process event bus that fans out typed
// progress events to observers, plus the WebSocket delivery layer and the
// inbound user-response surface.
//
// Every event published for a batch is wrapped in an Envelope carrying a
// per-channel monotone sequence number and a wall-clock timestamp. All
// subscribers to a channel observe the same envelopes in the same order.
// Delivery is at-most-once: a subscriber whose buffer fills up is detached
// (it receives one terminal error envelope) while the producer and the other
// subscribers continue unaffected.
package events

// Event type identifiers carried in Envelope.Type.
const (
	// Scraping lifecycle.
	EventTypeScrapingStatus      = "scraping_status"
	EventTypeScrapeProgress      = "scrape_progress"
	EventTypeScrapeComplete      = "scrape_complete"
	EventTypeAllScrapingComplete = "all_scraping_complete"

	// Summarization lifecycle.
	EventTypeSummaryProgress = "summary_progress"
	EventTypeSummaryComplete = "summary_complete"

	// Research lifecycle.
	EventTypeResearchPhaseChange     = "research_phase_change"
	EventTypeResearchStreamToken     = "research_stream_token"
	EventTypeResearchStreamStructure = "research_stream_structured"
	EventTypeUserInputRequired       = "user_input_required"
	EventTypeWorkflowProgress        = "workflow_progress"

	// Errors (also used as the terminal envelope for dropped subscribers).
	EventTypeError = "error"
)

// Error codes carried in ErrorPayload.Code.
const (
	ErrorCodeUnknownPrompt     = "UnknownPrompt"
	ErrorCodeSlowSubscriber    = "SlowSubscriber"
	ErrorCodePersistence       = "PersistenceFailed"
	ErrorCodeScraper           = "ScraperFailed"
	ErrorCodePartialCompletion = "PartialCompletion"
	ErrorCodeEmbedding         = "EmbeddingUnavailable"
	ErrorCodePhaseFailed       = "PhaseFailed"
)

// GlobalBatchesChannel carries scraping_status summaries for every batch.
// Dashboard views subscribe here instead of to each batch individually.
const GlobalBatchesChannel = "batches"

// BatchChannel returns the channel name for a batch's event stream.
// Format: "batch:{batch_id}".
func BatchChannel(batchID string) string {
	return "batch:" + batchID
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
// subscribe/unsubscribe/catchup/ping manage the outbound stream; user_input
// and cancel form the inbound control channel.
type ClientMessage struct {
	Action      string  `json:"action"`
	Channel     string  `json:"channel,omitempty"`
	LastEventID *uint64 `json:"last_event_id,omitempty"`

	// user_input fields.
	PromptID string `json:"prompt_id,omitempty"`
	Response string `json:"response,omitempty"`

	// cancel fields (exactly one is set).
	BatchID   string `json:"batch_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}
