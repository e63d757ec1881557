package events

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrUnknownPrompt is returned when a user response references a prompt id
// that is not currently outstanding.
var ErrUnknownPrompt = errors.New("unknown or expired prompt id")

// ErrPromptPending is returned when a session tries to open a second prompt
// while one is still awaiting a response.
var ErrPromptPending = errors.New("a prompt is already pending for this session")

type pendingPrompt struct {
	sessionID string
	respond   chan string
}

// PromptRegistry tracks outstanding user-input prompts. At most one prompt
// may be pending per research session; responses are matched strictly by
// prompt id so a stale reply to an earlier question cannot be misdelivered.
type PromptRegistry struct {
	mu        sync.Mutex
	byID      map[string]*pendingPrompt
	bySession map[string]string // session id -> pending prompt id
}

// NewPromptRegistry creates an empty registry.
func NewPromptRegistry() *PromptRegistry {
	return &PromptRegistry{
		byID:      make(map[string]*pendingPrompt),
		bySession: make(map[string]string),
	}
}

// Open registers a new prompt for sessionID and returns its generated id
// together with the channel the response will be delivered on. The channel
// receives exactly one value and is then closed by Resolve.
func (r *PromptRegistry) Open(sessionID string) (string, <-chan string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.bySession[sessionID]; exists {
		return "", nil, fmt.Errorf("session %s: %w", sessionID, ErrPromptPending)
	}
	id := uuid.NewString()
	p := &pendingPrompt{sessionID: sessionID, respond: make(chan string, 1)}
	r.byID[id] = p
	r.bySession[sessionID] = id
	return id, p.respond, nil
}

// Resolve delivers the user's response for promptID and removes the prompt.
// Responses for unknown ids fail with ErrUnknownPrompt.
func (r *PromptRegistry) Resolve(promptID, response string) error {
	r.mu.Lock()
	p, ok := r.byID[promptID]
	if ok {
		delete(r.byID, promptID)
		delete(r.bySession, p.sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("prompt %s: %w", promptID, ErrUnknownPrompt)
	}
	p.respond <- response
	close(p.respond)
	return nil
}

// Cancel withdraws any pending prompt for sessionID, closing its response
// channel without a value. Used when a session is cancelled mid-prompt.
func (r *PromptRegistry) Cancel(sessionID string) {
	r.mu.Lock()
	id, ok := r.bySession[sessionID]
	var p *pendingPrompt
	if ok {
		p = r.byID[id]
		delete(r.byID, id)
		delete(r.bySession, sessionID)
	}
	r.mu.Unlock()
	if p != nil {
		close(p.respond)
	}
}

// Pending reports whether sessionID has an outstanding prompt.
func (r *PromptRegistry) Pending(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.bySession[sessionID]
	return ok
}
