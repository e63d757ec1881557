package events

import (
	"context"
	"log/slog"
)

// History persists envelopes for catchup after reconnects. Implemented by
// the Postgres event store; nil disables persistence.
type History interface {
	// StoreEvent records env under channel. Failures are logged, not fatal.
	StoreEvent(ctx context.Context, channel string, env Envelope) error
	// EventsAfter returns envelopes on channel with Seq > afterSeq in order.
	EventsAfter(ctx context.Context, channel string, afterSeq uint64) ([]Envelope, error)
}

// transientTypes are fan-out only: high-churn progress and token events that
// are never stored for catchup.
var transientTypes = map[string]bool{
	EventTypeScrapingStatus:      true,
	EventTypeScrapeProgress:      true,
	EventTypeSummaryProgress:     true,
	EventTypeResearchStreamToken: true,
	EventTypeWorkflowProgress:    true,
}

// Publisher is the typed write side of the bus. Each method publishes one
// event kind to the right channel(s) and, for persistent kinds, records it
// in history.
type Publisher struct {
	bus     *Bus
	history History
	logger  *slog.Logger
}

// NewPublisher wires a publisher to bus. history may be nil.
func NewPublisher(bus *Bus, history History, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		bus:     bus,
		history: history,
		logger:  logger.With("component", "event_publisher"),
	}
}

// Bus exposes the underlying bus for subscribers.
func (p *Publisher) Bus() *Bus { return p.bus }

func (p *Publisher) publish(ctx context.Context, channel, eventType, batchID, sessionID string, payload any) {
	env, err := p.bus.Publish(channel, eventType, batchID, sessionID, payload)
	if err != nil {
		p.logger.Error("Failed to publish event", "type", eventType, "channel", channel, "error", err)
		return
	}
	if p.history == nil || transientTypes[eventType] {
		return
	}
	if err := p.history.StoreEvent(ctx, channel, env); err != nil {
		p.logger.Error("Failed to store event", "type", eventType, "channel", channel, "error", err)
	}
}

// ScrapingStatus publishes a batch progress summary to the batch channel and
// mirrors it to the global batches channel.
func (p *Publisher) ScrapingStatus(ctx context.Context, batchID string, payload ScrapingStatusPayload) {
	p.publish(ctx, BatchChannel(batchID), EventTypeScrapingStatus, batchID, "", payload)
	p.publish(ctx, GlobalBatchesChannel, EventTypeScrapingStatus, batchID, "", payload)
}

// ScrapeProgress publishes incremental per-task progress.
func (p *Publisher) ScrapeProgress(ctx context.Context, batchID string, payload ScrapeProgressPayload) {
	p.publish(ctx, BatchChannel(batchID), EventTypeScrapeProgress, batchID, "", payload)
}

// ScrapeComplete publishes a task's terminal outcome.
func (p *Publisher) ScrapeComplete(ctx context.Context, batchID string, payload ScrapeCompletePayload) {
	p.publish(ctx, BatchChannel(batchID), EventTypeScrapeComplete, batchID, "", payload)
}

// AllScrapingComplete publishes the once-per-batch completion event.
func (p *Publisher) AllScrapingComplete(ctx context.Context, batchID string, payload AllScrapingCompletePayload) {
	p.publish(ctx, BatchChannel(batchID), EventTypeAllScrapingComplete, batchID, "", payload)
}

// SummaryProgress publishes summarization worker progress.
func (p *Publisher) SummaryProgress(ctx context.Context, batchID string, payload SummaryProgressPayload) {
	p.publish(ctx, BatchChannel(batchID), EventTypeSummaryProgress, batchID, "", payload)
}

// SummaryComplete publishes a finished per-link summary.
func (p *Publisher) SummaryComplete(ctx context.Context, batchID string, payload SummaryCompletePayload) {
	p.publish(ctx, BatchChannel(batchID), EventTypeSummaryComplete, batchID, "", payload)
}

// PhaseChange publishes a research phase transition.
func (p *Publisher) PhaseChange(ctx context.Context, batchID, sessionID string, payload ResearchPhaseChangePayload) {
	p.publish(ctx, BatchChannel(batchID), EventTypeResearchPhaseChange, batchID, sessionID, payload)
}

// StreamToken publishes one streamed LLM text fragment.
func (p *Publisher) StreamToken(ctx context.Context, batchID, sessionID string, payload ResearchStreamTokenPayload) {
	p.publish(ctx, BatchChannel(batchID), EventTypeResearchStreamToken, batchID, sessionID, payload)
}

// StreamStructured publishes a parsed mid-stream structured result.
func (p *Publisher) StreamStructured(ctx context.Context, batchID, sessionID string, payload ResearchStreamStructuredPayload) {
	p.publish(ctx, BatchChannel(batchID), EventTypeResearchStreamStructure, batchID, sessionID, payload)
}

// UserInputRequired publishes a prompt the user must answer.
func (p *Publisher) UserInputRequired(ctx context.Context, batchID, sessionID string, payload UserInputRequiredPayload) {
	p.publish(ctx, BatchChannel(batchID), EventTypeUserInputRequired, batchID, sessionID, payload)
}

// WorkflowProgress publishes the research heartbeat.
func (p *Publisher) WorkflowProgress(ctx context.Context, batchID, sessionID string, payload WorkflowProgressPayload) {
	p.publish(ctx, BatchChannel(batchID), EventTypeWorkflowProgress, batchID, sessionID, payload)
}

// Error publishes an error event on the batch channel.
func (p *Publisher) Error(ctx context.Context, batchID string, payload ErrorPayload) {
	p.publish(ctx, BatchChannel(batchID), EventTypeError, batchID, "", payload)
}

// GlobalError publishes an error event on the global batches channel. Used
// when the error cannot be attributed to a batch, such as a user response
// naming an unknown prompt id.
func (p *Publisher) GlobalError(ctx context.Context, payload ErrorPayload) {
	p.publish(ctx, GlobalBatchesChannel, EventTypeError, "", "", payload)
}
