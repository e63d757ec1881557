package research

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepscout/deepscout/pkg/config"
	"github.com/deepscout/deepscout/pkg/events"
	"github.com/deepscout/deepscout/pkg/llm"
	"github.com/deepscout/deepscout/pkg/models"
	"github.com/deepscout/deepscout/pkg/storage"
)

// scriptedLLM serves canned responses keyed by system prompt, so each phase
// gets its own script regardless of call order. The last response for a key
// repeats once the queue is drained.
type scriptedLLM struct {
	mu        sync.Mutex
	responses map[string][]string
	failures  map[string]bool
	gates     map[string]chan struct{}
	calls     map[string]int
}

func newScriptedLLM() *scriptedLLM {
	return &scriptedLLM{
		responses: make(map[string][]string),
		failures:  make(map[string]bool),
		gates:     make(map[string]chan struct{}),
		calls:     make(map[string]int),
	}
}

func (s *scriptedLLM) script(system string, responses ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[system] = responses
}

func (s *scriptedLLM) Generate(ctx context.Context, input *llm.GenerateInput) (<-chan llm.Chunk, error) {
	s.mu.Lock()
	s.calls[input.System]++
	queue := s.responses[input.System]
	var response string
	if len(queue) > 0 {
		response = queue[0]
		if len(queue) > 1 {
			s.responses[input.System] = queue[1:]
		}
	}
	fail := s.failures[input.System]
	gate := s.gates[input.System]
	s.mu.Unlock()

	ch := make(chan llm.Chunk, 4)
	go func() {
		defer close(ch)
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				ch <- &llm.ErrorChunk{Message: "stream aborted", Code: "cancelled"}
				return
			}
		}
		if fail {
			ch <- &llm.ErrorChunk{Message: "provider exploded", Code: "http_500", Retryable: true}
			return
		}
		// Two fragments so stream-token forwarding is observable.
		half := len(response) / 2
		ch <- &llm.TextChunk{Content: response[:half]}
		ch <- &llm.TextChunk{Content: response[half:]}
		ch <- &llm.UsageChunk{InputTokens: 100, OutputTokens: 50, TotalTokens: 150}
	}()
	return ch, nil
}

func (s *scriptedLLM) Close() error { return nil }

const (
	goalsResponse = `{"goals": [
		{"goal_text": "Determine dominant gearbox wear modes", "rationale": "transcripts focus on wear", "feasibility": "high"},
		{"goal_text": "Map audience disagreement", "rationale": "comments diverge", "feasibility": "medium"},
		{"goal_text": "Compare maintenance advice", "rationale": "several sources", "feasibility": "high"},
		{"goal_text": "Trace terminology drift", "rationale": "mixed jargon", "feasibility": "low"},
		{"goal_text": "Rank failure predictors", "rationale": "quantifiable", "feasibility": "medium"}
	]}`
	planResponse = `{"steps": [
		{"step_id": 1, "goal": "collect wear claims", "required_data": "transcript summaries"},
		{"step_id": 2, "goal": "contrast with comments", "required_data": "comment summaries"},
		{"step_id": 3, "goal": "rank evidence", "required_data": "all findings"}
	]}`
	executeResponse = `{"findings": {"summary": "wear claims collected",
		"points_of_interest": ["sun gear wears first", "lubrication interval matters"],
		"analysis_details": "details"},
		"insights": "wear is front-loaded", "confidence": 0.8}`
	reportResponse = "# Gearbox Wear Report\n\nThe sun gear wears first [EVID-01].\n\n## Evidence\n[EVID-01]: step 1"
)

type orchFixture struct {
	orch    *Orchestrator
	session *Session
	layout  *storage.Layout
	bus     *events.Bus
	prompts *events.PromptRegistry
	client  *scriptedLLM
	rec     *eventRecorder
	cfg     *config.ResearchConfig
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Envelope
}

func recordChannel(bus *events.Bus, channel string) *eventRecorder {
	rec := &eventRecorder{}
	sub := bus.Subscribe(channel)
	go func() {
		for env := range sub.Events() {
			rec.mu.Lock()
			rec.events = append(rec.events, env)
			rec.mu.Unlock()
		}
	}()
	return rec
}

func (r *eventRecorder) ofType(eventType string) []events.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Envelope
	for _, env := range r.events {
		if env.Type == eventType {
			out = append(out, env)
		}
	}
	return out
}

// seedBatch writes one summary and one artifact so the batch has sources.
func seedBatch(t *testing.T, layout *storage.Layout, batchID string) {
	t.Helper()
	require.NoError(t, storage.WriteJSONAtomic(layout.SummaryPath(batchID, "link1"), &models.Summary{
		LinkID:            "link1",
		TranscriptSummary: "The video explains planetary gearbox wear patterns.",
		CommentsSummary:   "Commenters debate lubrication intervals.",
		CreatedAt:         time.Now().UTC(),
	}))
	require.NoError(t, storage.WriteJSONAtomic(
		layout.ArtifactPath(batchID, "link2", models.LinkKindArticle), &models.Artifact{
			BatchID: batchID,
			LinkID:  "link2",
			Kind:    models.LinkKindArticle,
			Result:  models.ScrapeResult{Title: "Gear article", Content: "Long form text about gears."},
			Meta:    models.ArtifactMeta{WordCount: 6},
		}))
}

func setupOrchestrator(t *testing.T) *orchFixture {
	t.Helper()

	client := newScriptedLLM()
	client.script(rolePrompt, `{"role": "a gearbox domain analyst"}`)
	client.script(discoverPrompt, goalsResponse)
	client.script(planPrompt, planResponse)
	client.script(executePrompt, executeResponse)
	client.script(synthesizePrompt, reportResponse)

	bus := events.NewBus(8192, nil)
	publisher := events.NewPublisher(bus, nil, nil)
	prompts := events.NewPromptRegistry()
	layout := storage.NewLayout(t.TempDir())
	seedBatch(t, layout, "b1")

	cfg := &config.ResearchConfig{
		PageWindowSizeChars: 0, // no paging unless a test opts in
		NoveltyThreshold:    0.85,
		HeartbeatSeconds:    0,
	}
	session := NewSession(layout, "sess1", "b1")
	orch := NewOrchestrator(session, client, NewNoveltyFilter(nil, cfg.NoveltyThreshold, nil),
		publisher, prompts, layout, cfg, nil)

	return &orchFixture{
		orch:    orch,
		session: session,
		layout:  layout,
		bus:     bus,
		prompts: prompts,
		client:  client,
		rec:     recordChannel(bus, events.BatchChannel("b1")),
		cfg:     cfg,
	}
}

// runAsync starts Run and returns a channel carrying its result.
func runAsync(f *orchFixture, guidance string) <-chan error {
	done := make(chan error, 1)
	go func() { done <- f.orch.Run(context.Background(), guidance) }()
	return done
}

// awaitPrompt waits for the user_input_required event and returns its payload.
func awaitPrompt(t *testing.T, f *orchFixture) events.UserInputRequiredPayload {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(f.rec.ofType(events.EventTypeUserInputRequired)) > 0
	}, 3*time.Second, 10*time.Millisecond)

	var payload events.UserInputRequiredPayload
	env := f.rec.ofType(events.EventTypeUserInputRequired)[0]
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	return payload
}

func TestOrchestratorFullRun(t *testing.T) {
	f := setupOrchestrator(t)
	done := runAsync(f, "focus on mechanical wear")

	prompt := awaitPrompt(t, f)
	assert.Len(t, prompt.Choices, 5)
	require.NoError(t, f.prompts.Resolve(prompt.PromptID, `{"goal_index": 1, "amendment": "include cost angle"}`))

	require.NoError(t, <-done)

	// Phase transitions: 0.5 through 4, entering then exiting, in order.
	changes := f.rec.ofType(events.EventTypeResearchPhaseChange)
	require.Len(t, changes, 10)
	wantPhases := []float64{0.5, 0.5, 1, 1, 2, 2, 3, 3, 4, 4}
	for i, env := range changes {
		var p events.ResearchPhaseChangePayload
		require.NoError(t, json.Unmarshal(env.Payload, &p))
		assert.Equal(t, wantPhases[i], p.Phase)
		assert.Equal(t, i%2 == 0, p.Entering)
		assert.Equal(t, "sess1", env.SessionID)
	}

	// Session state.
	assert.Equal(t, "a gearbox domain analyst", f.session.Meta(MetaRole))
	assert.Equal(t, "Determine dominant gearbox wear modes", f.session.Meta(MetaSelectedGoal))
	assert.Equal(t, "include cost angle", f.session.Meta(MetaPostPhase1))
	assert.Len(t, f.session.Plan(), 3)
	assert.Len(t, f.session.Entries(), 3)

	// Report on disk, with evidence references.
	report, err := os.ReadFile(f.layout.ReportPath("sess1"))
	require.NoError(t, err)
	assert.Contains(t, string(report), "[EVID-01]")

	// Session persisted and loadable.
	loaded, err := LoadSession(f.layout, "sess1")
	require.NoError(t, err)
	assert.Len(t, loaded.Entries(), 3)

	// Stream tokens were forwarded.
	assert.NotEmpty(t, f.rec.ofType(events.EventTypeResearchStreamToken))
	// Goals and plan steps went out as structured events.
	assert.GreaterOrEqual(t, len(f.rec.ofType(events.EventTypeResearchStreamStructure)), 8)
}

func TestOrchestratorWrongPromptIDKeepsSuspension(t *testing.T) {
	f := setupOrchestrator(t)
	done := runAsync(f, "")

	prompt := awaitPrompt(t, f)

	// A response for a stale prompt id is rejected and the session stays
	// suspended in Phase 1.
	err := f.prompts.Resolve("not-a-prompt", "1")
	require.ErrorIs(t, err, events.ErrUnknownPrompt)
	assert.True(t, f.prompts.Pending("sess1"))

	time.Sleep(50 * time.Millisecond)
	changes := f.rec.ofType(events.EventTypeResearchPhaseChange)
	var last events.ResearchPhaseChangePayload
	require.NoError(t, json.Unmarshal(changes[len(changes)-1].Payload, &last))
	assert.Equal(t, float64(PhaseDiscover), last.Phase)
	assert.True(t, last.Entering, "still inside Phase 1")

	require.NoError(t, f.prompts.Resolve(prompt.PromptID, "2"))
	require.NoError(t, <-done)
	assert.Equal(t, "Map audience disagreement", f.session.Meta(MetaSelectedGoal))
}

func TestOrchestratorRoleFailureUsesDefault(t *testing.T) {
	f := setupOrchestrator(t)
	f.client.failures[rolePrompt] = true

	done := runAsync(f, "")
	prompt := awaitPrompt(t, f)
	require.NoError(t, f.prompts.Resolve(prompt.PromptID, "1"))

	require.NoError(t, <-done)
	assert.Equal(t, defaultRole, f.session.Meta(MetaRole))
}

func TestOrchestratorCancelDuringPrompt(t *testing.T) {
	f := setupOrchestrator(t)
	done := runAsync(f, "")

	awaitPrompt(t, f)
	f.orch.Cancel()

	err := <-done
	require.ErrorIs(t, err, ErrSessionCancelled)
	assert.False(t, f.prompts.Pending("sess1"))

	// Cancelled sessions are persisted for later inspection.
	_, loadErr := LoadSession(f.layout, "sess1")
	assert.NoError(t, loadErr)
}

func TestOrchestratorFailedStepRecordedAndRunContinues(t *testing.T) {
	f := setupOrchestrator(t)
	// First execute call succeeds, the second stays unparseable through every
	// retry, the third succeeds again.
	f.client.script(executePrompt, executeResponse,
		"I cannot answer that.", "I cannot answer that.", "I cannot answer that.",
		executeResponse)

	done := runAsync(f, "")
	prompt := awaitPrompt(t, f)
	require.NoError(t, f.prompts.Resolve(prompt.PromptID, "1"))
	require.NoError(t, <-done)

	entries := f.session.Entries()
	require.Len(t, entries, 3)
	assert.False(t, entries[0].Failed)
	assert.True(t, entries[1].Failed)
	assert.Contains(t, entries[1].Error, "parse step 2")
	assert.False(t, entries[2].Failed)

	// A failing step does not abort the run, so the report still exists.
	_, err := os.Stat(f.layout.ReportPath("sess1"))
	assert.NoError(t, err)
}

func TestOrchestratorPagedStepDedupAndSingleSave(t *testing.T) {
	f := setupOrchestrator(t)

	// Rebuild the batch with one long artifact that spans 4 windows.
	para := strings.Repeat("gear wear observations and measurements. ", 30)
	long := para + "\n\n" + para + "\n\n" + para + "\n\n" + para
	require.NoError(t, storage.WriteJSONAtomic(
		f.layout.ArtifactPath("b1", "link3", models.LinkKindArticle), &models.Artifact{
			BatchID: "b1", LinkID: "link3", Kind: models.LinkKindArticle,
			Result: models.ScrapeResult{Content: long},
		}))
	sources, err := loadSources(f.layout, "b1")
	require.NoError(t, err)
	content := renderSources(sources)
	f.cfg.PageWindowSizeChars = len(content)/4 + 64

	// Every window independently reports "mechanic A".
	windowResponse := `{"findings": {"summary": "window finding",
		"points_of_interest": ["mechanic A"]}, "insights": "", "confidence": 0.5}`
	f.client.script(executePrompt, windowResponse)

	step := models.PlanStep{StepID: 1, Goal: "find mechanics", RequiredData: "everything"}
	f.session.SetPlan([]models.PlanStep{step})

	savesBefore := f.session.saves
	require.NoError(t, f.orch.executeStep(context.Background(), step, sources))

	calls := f.client.calls[executePrompt]
	assert.GreaterOrEqual(t, calls, 4, "content must page into at least 4 windows")

	entries := f.session.Entries()
	require.Len(t, entries, 1)
	count := 0
	for _, p := range entries[0].Findings.PointsOfInterest {
		if strings.EqualFold(strings.TrimSpace(p), "mechanic a") {
			count++
		}
	}
	assert.Equal(t, 1, count, `"mechanic A" must survive exactly once`)
	assert.Equal(t, savesBefore+1, f.session.saves, "one disk save for the whole paged step")
}

func TestOrchestratorHeartbeatDuringSilence(t *testing.T) {
	f := setupOrchestrator(t)
	f.cfg.HeartbeatSeconds = 1
	gate := make(chan struct{})
	f.client.gates[discoverPrompt] = gate

	done := runAsync(f, "")

	// With the discover stream stalled, a workflow_progress heartbeat must
	// appear after the silence interval.
	require.Eventually(t, func() bool {
		return len(f.rec.ofType(events.EventTypeWorkflowProgress)) > 0
	}, 3*time.Second, 25*time.Millisecond)

	close(gate)
	prompt := awaitPrompt(t, f)
	require.NoError(t, f.prompts.Resolve(prompt.PromptID, "1"))
	require.NoError(t, <-done)
}

func TestParseGoalSelectionForms(t *testing.T) {
	cases := []struct {
		name      string
		response  string
		wantIndex int
		wantAmend string
	}{
		{"json with amendment", `{"goal_index": 3, "amendment": "add costs"}`, 3, "add costs"},
		{"bare integer", " 2 ", 2, ""},
		{"out of range json", `{"goal_index": 99}`, 1, ""},
		{"free text", "just look into cost overruns", 1, "just look into cost overruns"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sel := parseGoalSelection(tc.response, 5)
			assert.Equal(t, tc.wantIndex, sel.GoalIndex)
			assert.Equal(t, tc.wantAmend, sel.Amendment)
		})
	}
}

func TestLoadSourcesPrefersSummaries(t *testing.T) {
	layout := storage.NewLayout(t.TempDir())
	seedBatch(t, layout, "b1")

	items, err := loadSources(layout, "b1")
	require.NoError(t, err)
	require.Len(t, items, 2)

	byID := map[string]sourceItem{}
	for _, it := range items {
		byID[it.linkID] = it
	}
	assert.True(t, byID["link1"].fromSummary)
	assert.Contains(t, byID["link1"].text, "planetary gearbox wear")
	assert.Contains(t, byID["link1"].text, "Audience discussion")
	assert.False(t, byID["link2"].fromSummary)
	assert.Equal(t, "Gear article", byID["link2"].title)

	overview := buildOverview(items)
	assert.Contains(t, overview, "Batch of 2 sources")
	assert.Contains(t, overview, "link1")
	assert.Contains(t, overview, fmt.Sprintf("%d words", 6))
}
