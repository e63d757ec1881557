package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/deepscout/deepscout/pkg/events"
	"github.com/deepscout/deepscout/pkg/research"
	"github.com/deepscout/deepscout/pkg/scrape"
)

// Control is the inbound command surface shared by the REST handlers and the
// WebSocket client messages: user prompt responses and cancellations.
type Control struct {
	center    *scrape.ControlCenter
	research  *research.Registry
	prompts   *events.PromptRegistry
	publisher *events.Publisher
}

var _ events.Control = (*Control)(nil)

// NewControl wires the inbound control surface.
func NewControl(
	center *scrape.ControlCenter,
	researchReg *research.Registry,
	prompts *events.PromptRegistry,
	publisher *events.Publisher,
) *Control {
	return &Control{
		center:    center,
		research:  researchReg,
		prompts:   prompts,
		publisher: publisher,
	}
}

// DeliverUserResponse resolves a pending research prompt. An unknown or
// expired prompt id is surfaced to observers as an error event and returned
// to the caller; the suspended session is unaffected.
func (ctl *Control) DeliverUserResponse(promptID, response string) error {
	if err := ctl.prompts.Resolve(promptID, response); err != nil {
		if errors.Is(err, events.ErrUnknownPrompt) {
			ctl.publisher.GlobalError(context.Background(), events.ErrorPayload{
				Where:   "user_input",
				Code:    events.ErrorCodeUnknownPrompt,
				Message: fmt.Sprintf("no pending prompt with id %s", promptID),
			})
		}
		return err
	}
	return nil
}

// CancelBatch requests cancellation of a batch's remaining scraping work.
func (ctl *Control) CancelBatch(batchID string) error {
	ctl.center.Cancel(context.Background(), batchID)
	return nil
}

// CancelSession requests cancellation of a running research session.
func (ctl *Control) CancelSession(sessionID string) error {
	return ctl.research.Cancel(sessionID)
}
