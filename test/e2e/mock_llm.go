package e2e

import (
	"context"
	"strings"
	"sync"

	"github.com/deepscout/deepscout/pkg/llm"
)

// mockLLM routes calls on distinctive fragments of the system prompt, so one
// client serves the summarizer and every research phase. Responses are
// streamed in two fragments like a real provider.
type mockLLM struct {
	mu    sync.Mutex
	calls []string // matched route per call, in order

	// Route overrides; empty string falls back to the default response.
	responses map[string]string
}

const (
	routeSummary    = "summary"
	routeRole       = "role"
	routeDiscover   = "discover"
	routePlan       = "plan"
	routeExecute    = "execute"
	routeSynthesize = "synthesize"
)

var defaultResponses = map[string]string{
	routeSummary: `{"transcript_summary": "The source explains planetary gearbox wear.",
		"comments_summary": "Commenters debate lubrication schedules."}`,
	routeRole: `{"role": "a drivetrain reliability analyst"}`,
	routeDiscover: `{"goals": [
		{"goal_text": "Identify dominant wear modes", "rationale": "wear dominates the sources", "feasibility": "high"},
		{"goal_text": "Contrast maintenance advice", "rationale": "sources disagree", "feasibility": "high"},
		{"goal_text": "Map audience sentiment", "rationale": "rich comment data", "feasibility": "medium"},
		{"goal_text": "Rank failure predictors", "rationale": "quantifiable", "feasibility": "medium"},
		{"goal_text": "Trace terminology drift", "rationale": "mixed jargon", "feasibility": "low"}
	]}`,
	routePlan: `{"steps": [
		{"step_id": 1, "goal": "collect wear claims", "required_data": "summaries"},
		{"step_id": 2, "goal": "compare maintenance advice", "required_data": "summaries"},
		{"step_id": 3, "goal": "weigh the evidence", "required_data": "prior findings"}
	]}`,
	routeExecute: `{"findings": {"summary": "wear concentrates on the sun gear",
		"points_of_interest": ["sun gear wears first", "interval shortening helps"]},
		"insights": "wear is front-loaded", "confidence": 0.8}`,
	routeSynthesize: "# Drivetrain Wear Report\n\nThe sun gear wears first [EVID-01].\n\n## Evidence\n[EVID-01]: step 1",
}

func newMockLLM() *mockLLM {
	return &mockLLM{responses: make(map[string]string)}
}

func route(system string) string {
	switch {
	case strings.Contains(system, "condensing scraped web content"):
		return routeSummary
	case strings.Contains(system, "advisory research role"):
		return routeRole
	case strings.Contains(system, "candidate research goals"):
		return routeDiscover
	case strings.Contains(system, "ordered research plan"):
		return routePlan
	case strings.Contains(system, "Work the research step"):
		return routeExecute
	case strings.Contains(system, "final research report"):
		return routeSynthesize
	}
	return ""
}

func (m *mockLLM) Generate(ctx context.Context, input *llm.GenerateInput) (<-chan llm.Chunk, error) {
	matched := route(input.System)

	m.mu.Lock()
	m.calls = append(m.calls, matched)
	response := m.responses[matched]
	m.mu.Unlock()
	if response == "" {
		response = defaultResponses[matched]
	}

	ch := make(chan llm.Chunk, 4)
	go func() {
		defer close(ch)
		half := len(response) / 2
		ch <- &llm.TextChunk{Content: response[:half]}
		ch <- &llm.TextChunk{Content: response[half:]}
		ch <- &llm.UsageChunk{InputTokens: 80, OutputTokens: 40, TotalTokens: 120}
	}()
	return ch, nil
}

func (m *mockLLM) Close() error { return nil }

func (m *mockLLM) callCount(matched string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == matched {
			n++
		}
	}
	return n
}
