package research

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deepscout/deepscout/pkg/config"
	"github.com/deepscout/deepscout/pkg/embedding"
	"github.com/deepscout/deepscout/pkg/events"
	"github.com/deepscout/deepscout/pkg/llm"
	"github.com/deepscout/deepscout/pkg/storage"
)

// SessionState is the coarse lifecycle state of a managed session.
type SessionState string

// Session lifecycle states as reported by the registry.
const (
	SessionStateRunning   SessionState = "running"
	SessionStateCompleted SessionState = "completed"
	SessionStateFailed    SessionState = "failed"
	SessionStateCancelled SessionState = "cancelled"
)

var (
	// ErrSessionNotFound is returned for session ids the registry never saw.
	ErrSessionNotFound = errors.New("research session not found")
	// ErrSessionNotCancellable is returned when cancelling a session that
	// already reached a terminal state.
	ErrSessionNotCancellable = errors.New("research session already finished")
)

// SessionStatus is a point-in-time snapshot of a managed session.
type SessionStatus struct {
	SessionID     string       `json:"session_id"`
	BatchID       string       `json:"batch_id"`
	State         SessionState `json:"state"`
	AwaitingInput bool         `json:"awaiting_input"`
	Error         string       `json:"error,omitempty"`
	ReportPath    string       `json:"report_path,omitempty"`
	StartedAt     time.Time    `json:"started_at"`
	FinishedAt    *time.Time   `json:"finished_at,omitempty"`
}

type managedSession struct {
	orch   *Orchestrator
	status SessionStatus
}

// Registry starts research sessions and tracks their lifecycle. One
// orchestrator per session; finished sessions stay queryable for the life of
// the process (their documents are on disk regardless).
type Registry struct {
	client    llm.Client
	engine    embedding.Engine
	publisher *events.Publisher
	prompts   *events.PromptRegistry
	layout    *storage.Layout
	cfg       *config.ResearchConfig
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*managedSession
}

// NewRegistry wires a session registry. engine may be nil, which disables
// the novelty filter for all sessions.
func NewRegistry(
	client llm.Client,
	engine embedding.Engine,
	publisher *events.Publisher,
	prompts *events.PromptRegistry,
	layout *storage.Layout,
	cfg *config.ResearchConfig,
	logger *slog.Logger,
) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		client:    client,
		engine:    engine,
		publisher: publisher,
		prompts:   prompts,
		layout:    layout,
		cfg:       cfg,
		logger:    logger.With("component", "research_registry"),
		sessions:  make(map[string]*managedSession),
	}
}

// Start creates a session for batchID and runs its orchestrator in the
// background. The returned session id identifies the run in events and
// status queries.
func (r *Registry) Start(ctx context.Context, batchID, guidance string) (string, error) {
	sessionID := uuid.NewString()
	session := NewSession(r.layout, sessionID, batchID)
	filter := NewNoveltyFilter(r.engine, r.cfg.NoveltyThreshold, r.logger)
	orch := NewOrchestrator(session, r.client, filter, r.publisher, r.prompts,
		r.layout, r.cfg, r.logger)

	r.mu.Lock()
	r.sessions[sessionID] = &managedSession{
		orch: orch,
		status: SessionStatus{
			SessionID: sessionID,
			BatchID:   batchID,
			State:     SessionStateRunning,
			StartedAt: time.Now().UTC(),
		},
	}
	r.mu.Unlock()

	// The run outlives the HTTP request that started it.
	runCtx := context.WithoutCancel(ctx)
	go r.run(runCtx, sessionID, orch, guidance)

	r.logger.Info("Research session started", "session_id", sessionID, "batch_id", batchID)
	return sessionID, nil
}

func (r *Registry) run(ctx context.Context, sessionID string, orch *Orchestrator, guidance string) {
	err := orch.Run(ctx, guidance)

	r.mu.Lock()
	defer r.mu.Unlock()
	ms := r.sessions[sessionID]
	now := time.Now().UTC()
	ms.status.FinishedAt = &now
	switch {
	case err == nil:
		ms.status.State = SessionStateCompleted
		ms.status.ReportPath = r.layout.ReportPath(sessionID)
	case errors.Is(err, ErrSessionCancelled):
		ms.status.State = SessionStateCancelled
	default:
		ms.status.State = SessionStateFailed
		ms.status.Error = err.Error()
	}
}

// Status returns a snapshot for sessionID.
func (r *Registry) Status(sessionID string) (SessionStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ms, ok := r.sessions[sessionID]
	if !ok {
		return SessionStatus{}, ErrSessionNotFound
	}
	status := ms.status
	status.AwaitingInput = r.prompts.Pending(sessionID)
	return status, nil
}

// Cancel requests cancellation of a running session. The state flips to
// cancelled once the orchestrator observes the flag and returns.
func (r *Registry) Cancel(sessionID string) error {
	r.mu.Lock()
	ms, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	if ms.status.State != SessionStateRunning {
		r.mu.Unlock()
		return ErrSessionNotCancellable
	}
	r.mu.Unlock()

	ms.orch.Cancel()
	return nil
}
