// Package research implements the five-phase LLM research pipeline: session
// state with a cumulative-summary cache, phase runners, paged execution over
// oversize inputs, an embedding-backed novelty filter, and the orchestrator
// that sequences it all.
package research

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/deepscout/deepscout/pkg/models"
	"github.com/deepscout/deepscout/pkg/storage"
)

// Metadata keys used across phases.
const (
	MetaRole            = "role"
	MetaGuidancePreRole = "phase_feedback_pre_role"
	MetaPostPhase1      = "phase_feedback_post_phase1"
	MetaSelectedGoal    = "selected_goal"
)

// sessionDoc is the persisted form of a session. Cache fields are
// deliberately absent: they are rebuilt on load.
type sessionDoc struct {
	SessionID      string                   `json:"session_id"`
	BatchID        string                   `json:"batch_id"`
	Metadata       map[string]string        `json:"metadata,omitempty"`
	Scratchpad     []models.ScratchpadEntry `json:"scratchpad,omitempty"`
	Plan           []models.PlanStep        `json:"plan,omitempty"`
	Goals          []models.ResearchGoal    `json:"goals,omitempty"`
	PhaseArtifacts map[string]string        `json:"phase_artifacts,omitempty"`
	CreatedAt      time.Time                `json:"created_at"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

// Session is the research session store. It exclusively owns the scratchpad
// and session metadata; all access goes through its methods.
type Session struct {
	mu sync.Mutex

	id        string
	batchID   string
	metadata  map[string]string
	entries   map[int]models.ScratchpadEntry
	plan      []models.PlanStep
	goals     []models.ResearchGoal
	artifacts map[string]string
	createdAt time.Time

	layout *storage.Layout

	// Cumulative summary cache. Invalidated by every scratchpad mutation
	// and on load; never persisted.
	summaryCache string
	summaryValid bool
	rebuilds     int
	saves        int
}

// NewSession creates an empty session for a batch.
func NewSession(layout *storage.Layout, sessionID, batchID string) *Session {
	return &Session{
		id:        sessionID,
		batchID:   batchID,
		metadata:  make(map[string]string),
		entries:   make(map[int]models.ScratchpadEntry),
		artifacts: make(map[string]string),
		createdAt: time.Now().UTC(),
		layout:    layout,
	}
}

// LoadSession reads a persisted session from disk. The cumulative-summary
// cache always starts invalid after a load.
func LoadSession(layout *storage.Layout, sessionID string) (*Session, error) {
	var doc sessionDoc
	if err := storage.ReadJSON(layout.SessionPath(sessionID), &doc); err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	s := NewSession(layout, doc.SessionID, doc.BatchID)
	for k, v := range doc.Metadata {
		s.metadata[k] = v
	}
	for _, e := range doc.Scratchpad {
		s.entries[e.StepID] = e
	}
	s.plan = append(s.plan, doc.Plan...)
	s.goals = append(s.goals, doc.Goals...)
	for k, v := range doc.PhaseArtifacts {
		s.artifacts[k] = v
	}
	if !doc.CreatedAt.IsZero() {
		s.createdAt = doc.CreatedAt
	}
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// BatchID returns the batch this session researches.
func (s *Session) BatchID() string { return s.batchID }

// SetMeta stores a metadata value.
func (s *Session) SetMeta(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = value
}

// Meta returns a metadata value, or "" when unset.
func (s *Session) Meta(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadata[key]
}

// SetGoals stores the discovery phase's candidate goals.
func (s *Session) SetGoals(goals []models.ResearchGoal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.goals = append([]models.ResearchGoal(nil), goals...)
}

// Goals returns the candidate goals.
func (s *Session) Goals() []models.ResearchGoal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ResearchGoal(nil), s.goals...)
}

// SetPlan stores the ordered research plan.
func (s *Session) SetPlan(plan []models.PlanStep) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plan = append([]models.PlanStep(nil), plan...)
}

// Plan returns the ordered research plan.
func (s *Session) Plan() []models.PlanStep {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PlanStep(nil), s.plan...)
}

// SetPhaseArtifact records one phase's output blob (the synthesized report
// text, the raw goal list).
func (s *Session) SetPhaseArtifact(phase, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[phase] = content
}

// PhaseArtifact returns a phase's recorded output.
func (s *Session) PhaseArtifact(phase string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifacts[phase]
}

// UpdateScratchpad appends or replaces the entry for stepID. Re-running a
// step overwrites its previous entry, which makes step retries idempotent.
// Every call invalidates the cumulative-summary cache. The session is
// flushed to disk iff autosave is true.
func (s *Session) UpdateScratchpad(entry models.ScratchpadEntry, autosave bool) error {
	s.mu.Lock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.entries[entry.StepID] = entry
	s.summaryValid = false
	s.mu.Unlock()

	if autosave {
		return s.Save()
	}
	return nil
}

// Entries returns the scratchpad in step order.
func (s *Session) Entries() []models.ScratchpadEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entriesLocked()
}

func (s *Session) entriesLocked() []models.ScratchpadEntry {
	out := make([]models.ScratchpadEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepID < out[j].StepID })
	return out
}

// CumulativeSummary returns the concatenated projection of all scratchpad
// entries in step order. Cached between scratchpad mutations, so a long run
// pays the O(n) rebuild once per update instead of once per read.
func (s *Session) CumulativeSummary() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.summaryValid {
		return s.summaryCache
	}

	var b strings.Builder
	for _, e := range s.entriesLocked() {
		fmt.Fprintf(&b, "## Step %d", e.StepID)
		if e.Failed {
			b.WriteString(" (failed)")
		}
		b.WriteString("\n")
		if e.Findings.Summary != "" {
			b.WriteString(e.Findings.Summary)
			b.WriteString("\n")
		}
		for _, p := range e.Findings.PointsOfInterest {
			b.WriteString("- ")
			b.WriteString(p)
			b.WriteString("\n")
		}
		if e.Insights != "" {
			b.WriteString("Insights: ")
			b.WriteString(e.Insights)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	s.summaryCache = b.String()
	s.summaryValid = true
	s.rebuilds++
	return s.summaryCache
}

// Save flushes the session document to disk atomically. A crashed write
// leaves the previous consistent document in place.
func (s *Session) Save() error {
	s.mu.Lock()
	doc := sessionDoc{
		SessionID:      s.id,
		BatchID:        s.batchID,
		Metadata:       make(map[string]string, len(s.metadata)),
		Scratchpad:     s.entriesLocked(),
		Plan:           append([]models.PlanStep(nil), s.plan...),
		Goals:          append([]models.ResearchGoal(nil), s.goals...),
		PhaseArtifacts: make(map[string]string, len(s.artifacts)),
		CreatedAt:      s.createdAt,
		UpdatedAt:      time.Now().UTC(),
	}
	for k, v := range s.metadata {
		doc.Metadata[k] = v
	}
	for k, v := range s.artifacts {
		doc.PhaseArtifacts[k] = v
	}
	path := s.layout.SessionPath(s.id)
	s.saves++
	s.mu.Unlock()

	if err := storage.WriteJSONAtomic(path, &doc); err != nil {
		return fmt.Errorf("save session %s: %w", doc.SessionID, err)
	}
	return nil
}
