package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/deepscout/deepscout/pkg/config"
	"github.com/deepscout/deepscout/pkg/events"
	"github.com/deepscout/deepscout/pkg/llm"
	"github.com/deepscout/deepscout/pkg/storage"
)

// Phase identifiers as published in research_phase_change events.
const (
	PhaseRole       = 0.5
	PhaseDiscover   = 1
	PhasePlan       = 2
	PhaseExecute    = 3
	PhaseSynthesize = 4
)

var phaseNames = map[float64]string{
	PhaseRole:       "role",
	PhaseDiscover:   "discover",
	PhasePlan:       "plan",
	PhaseExecute:    "execute",
	PhaseSynthesize: "synthesize",
}

// ErrSessionCancelled is returned by Run when the session's cancel flag was
// raised. The session is persisted before the error is returned.
var ErrSessionCancelled = errors.New("research session cancelled")

// Orchestrator sequences the research phases for one session. One
// orchestrator per session; Run is called once.
type Orchestrator struct {
	session   *Session
	client    llm.Client
	filter    *NoveltyFilter
	publisher *events.Publisher
	prompts   *events.PromptRegistry
	layout    *storage.Layout
	cfg       *config.ResearchConfig
	logger    *slog.Logger

	cancelled atomic.Bool

	// cancelStream aborts the in-flight LLM stream when the session is
	// cancelled mid-phase.
	streamMu     sync.Mutex
	cancelStream context.CancelFunc

	// lastToken drives the heartbeat: nanosecond timestamp of the most
	// recent stream token (or heartbeat).
	lastToken atomic.Int64
}

// NewOrchestrator wires an orchestrator for session.
func NewOrchestrator(
	session *Session,
	client llm.Client,
	filter *NoveltyFilter,
	publisher *events.Publisher,
	prompts *events.PromptRegistry,
	layout *storage.Layout,
	cfg *config.ResearchConfig,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		session:   session,
		client:    client,
		filter:    filter,
		publisher: publisher,
		prompts:   prompts,
		layout:    layout,
		cfg:       cfg,
		logger: logger.With("component", "research_orchestrator",
			"session_id", session.ID()),
	}
}

// Cancel raises the session cancel flag, aborts any in-flight LLM stream,
// and resolves a pending user prompt as abandoned. Run observes the flag at
// its next phase or step boundary.
func (o *Orchestrator) Cancel() {
	o.cancelled.Store(true)
	o.streamMu.Lock()
	if o.cancelStream != nil {
		o.cancelStream()
	}
	o.streamMu.Unlock()
	o.prompts.Cancel(o.session.ID())
	o.logger.Info("Session cancel requested")
}

// Run executes phases 0.5 through 4 in order, persisting the session after
// each phase. Returns ErrSessionCancelled if cancelled; any other error
// aborts the run after persisting what exists.
func (o *Orchestrator) Run(ctx context.Context, guidance string) error {
	o.session.SetMeta(MetaGuidancePreRole, guidance)
	o.lastToken.Store(time.Now().UnixNano())

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go o.heartbeatLoop(heartbeatCtx)

	sources, err := loadSources(o.layout, o.session.BatchID())
	if err != nil {
		return o.abort(ctx, fmt.Errorf("gather batch sources: %w", err))
	}
	if len(sources) == 0 {
		return o.abort(ctx, fmt.Errorf("batch %s has no readable sources", o.session.BatchID()))
	}
	overview := buildOverview(sources)

	type phaseFn struct {
		id  float64
		run func(context.Context) error
	}
	phases := []phaseFn{
		{PhaseRole, func(ctx context.Context) error { return o.runRole(ctx, overview) }},
		{PhaseDiscover, func(ctx context.Context) error { return o.runDiscover(ctx, overview) }},
		{PhasePlan, func(ctx context.Context) error { return o.runPlan(ctx, overview) }},
		{PhaseExecute, func(ctx context.Context) error { return o.runExecute(ctx, sources) }},
		{PhaseSynthesize, o.runSynthesize},
	}

	for _, phase := range phases {
		if err := o.checkCancelled(); err != nil {
			return err
		}

		o.publishPhase(ctx, phase.id, true)
		err := phase.run(ctx)
		o.publishPhase(ctx, phase.id, false)

		if err != nil {
			return o.abort(ctx, fmt.Errorf("phase %s: %w", phaseNames[phase.id], err))
		}
		if err := o.session.Save(); err != nil {
			return o.abort(ctx, err)
		}
	}

	o.logger.Info("Research run complete", "report", o.layout.ReportPath(o.session.ID()))
	return nil
}

func (o *Orchestrator) checkCancelled() error {
	if !o.cancelled.Load() {
		return nil
	}
	if err := o.session.Save(); err != nil {
		o.logger.Error("Failed to persist cancelled session", "error", err)
	}
	return fmt.Errorf("session %s: %w", o.session.ID(), ErrSessionCancelled)
}

func (o *Orchestrator) abort(ctx context.Context, err error) error {
	if errors.Is(err, ErrSessionCancelled) || errors.Is(err, context.Canceled) {
		return o.checkCancelled()
	}
	o.logger.Error("Research run aborted", "error", err)
	o.publisher.Error(ctx, o.session.BatchID(), events.ErrorPayload{
		Where:   "research_orchestrator",
		Code:    events.ErrorCodePhaseFailed,
		Message: err.Error(),
	})
	if saveErr := o.session.Save(); saveErr != nil {
		o.logger.Error("Failed to persist aborted session", "error", saveErr)
	}
	return err
}

func (o *Orchestrator) publishPhase(ctx context.Context, phase float64, entering bool) {
	o.publisher.PhaseChange(ctx, o.session.BatchID(), o.session.ID(),
		events.ResearchPhaseChangePayload{
			Phase:     phase,
			PhaseName: phaseNames[phase],
			Entering:  entering,
		})
}

// heartbeatLoop publishes workflow_progress whenever the stream has been
// silent longer than the configured interval.
func (o *Orchestrator) heartbeatLoop(ctx context.Context) {
	interval := o.cfg.Heartbeat()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := time.Unix(0, o.lastToken.Load())
			if time.Since(last) < interval {
				continue
			}
			o.lastToken.Store(time.Now().UnixNano())
			o.publisher.WorkflowProgress(ctx, o.session.BatchID(), o.session.ID(),
				events.WorkflowProgressPayload{
					Message: "research in progress",
					Detail:  fmt.Sprintf("no model output for %s", interval),
				})
		}
	}
}

// callModel issues one streaming call, republishing text fragments as
// research_stream_token events and feeding the heartbeat.
func (o *Orchestrator) callModel(ctx context.Context, phase float64, system, input string) (*llm.Response, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	o.streamMu.Lock()
	o.cancelStream = cancel
	o.streamMu.Unlock()
	defer func() {
		cancel()
		o.streamMu.Lock()
		o.cancelStream = nil
		o.streamMu.Unlock()
	}()

	stream, err := o.client.Generate(streamCtx, &llm.GenerateInput{
		System:    system,
		Messages:  []llm.ConversationMessage{{Role: llm.RoleUser, Content: input}},
		MaxTokens: 8192,
	})
	if err != nil {
		return nil, err
	}

	resp, err := llm.CollectWithCallback(stream, func(kind llm.ChunkType, delta string) {
		if kind != llm.ChunkTypeText {
			return
		}
		o.lastToken.Store(time.Now().UnixNano())
		o.publisher.StreamToken(ctx, o.session.BatchID(), o.session.ID(),
			events.ResearchStreamTokenPayload{Phase: phase, Fragment: delta})
	})
	if err != nil {
		if o.cancelled.Load() {
			return nil, ErrSessionCancelled
		}
		return nil, err
	}
	if o.cfg.Stream.IncludeUsage && resp.Usage != nil {
		o.logger.Info("Model call finished",
			"phase", phaseNames[phase],
			"input_tokens", resp.Usage.InputTokens,
			"output_tokens", resp.Usage.OutputTokens)
	}
	return resp, nil
}

// modelRetryAttempts bounds re-asks after a malformed JSON response or an
// interrupted stream. Other errors fail the call immediately.
const modelRetryAttempts = 2

// callModelJSON issues a call and parses the first JSON document of the
// response into out, re-asking the model on parse failures and interrupted
// streams.
func (o *Orchestrator) callModelJSON(ctx context.Context, phase float64, system, input string, out any) error {
	var lastErr error
	for attempt := 0; attempt <= modelRetryAttempts; attempt++ {
		if attempt > 0 {
			if err := o.checkCancelled(); err != nil {
				return err
			}
			o.logger.Warn("Retrying model call",
				"phase", phaseNames[phase], "attempt", attempt+1, "error", lastErr)
		}
		resp, err := o.callModel(ctx, phase, system, input)
		if err != nil {
			if errors.Is(err, llm.ErrStreamInterrupted) {
				lastErr = err
				continue
			}
			return err
		}
		if err := llm.ExtractJSON(resp.Text, out); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// publishFilterWarning reports an advisory novelty-filter failure. The run
// continues with all findings retained.
func (o *Orchestrator) publishFilterWarning(ctx context.Context, err error) {
	o.publisher.Error(ctx, o.session.BatchID(), events.ErrorPayload{
		Where:   "novelty_filter",
		Code:    events.ErrorCodeEmbedding,
		Message: err.Error(),
	})
}

// askUser opens a prompt, publishes user_input_required, and suspends until
// the response arrives or the session is cancelled.
func (o *Orchestrator) askUser(ctx context.Context, text string, choices []string) (string, error) {
	promptID, responses, err := o.prompts.Open(o.session.ID())
	if err != nil {
		return "", fmt.Errorf("open user prompt: %w", err)
	}

	o.publisher.UserInputRequired(ctx, o.session.BatchID(), o.session.ID(),
		events.UserInputRequiredPayload{
			PromptID:   promptID,
			PromptText: text,
			Choices:    choices,
		})
	o.logger.Info("Suspended awaiting user input", "prompt_id", promptID)

	select {
	case response, ok := <-responses:
		if !ok {
			return "", ErrSessionCancelled
		}
		o.logger.Info("User input received", "prompt_id", promptID)
		return response, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// goalSelection is the parsed form of the Phase 1 user response.
type goalSelection struct {
	GoalIndex int    `json:"goal_index"`
	Amendment string `json:"amendment"`
}

// parseGoalSelection accepts either a JSON object {"goal_index": n,
// "amendment": "..."} (1-based) or a bare integer string. Anything else
// selects the first goal and keeps the whole response as amendment text.
func parseGoalSelection(response string, goalCount int) goalSelection {
	var sel goalSelection
	if err := json.Unmarshal([]byte(response), &sel); err == nil && sel.GoalIndex >= 1 {
		if sel.GoalIndex > goalCount {
			sel.GoalIndex = 1
		}
		return sel
	}
	if n, err := strconv.Atoi(strings.TrimSpace(response)); err == nil && n >= 1 && n <= goalCount {
		return goalSelection{GoalIndex: n}
	}
	return goalSelection{GoalIndex: 1, Amendment: strings.TrimSpace(response)}
}
