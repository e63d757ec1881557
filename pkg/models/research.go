package models

import "time"

// Findings is the structured body of one research step's output.
type Findings struct {
	Summary          string   `json:"summary"`
	PointsOfInterest []string `json:"points_of_interest"`
	AnalysisDetails  string   `json:"analysis_details,omitempty"`
	Article          string   `json:"article,omitempty"`
}

// ScratchpadEntry accumulates the outcome of a single research plan step.
type ScratchpadEntry struct {
	StepID     int       `json:"step_id"`
	Findings   Findings  `json:"findings"`
	Insights   string    `json:"insights,omitempty"`
	Confidence float64   `json:"confidence"`
	Sources    []string  `json:"sources,omitempty"`
	Failed     bool      `json:"failed,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ResearchGoal is one candidate goal surfaced during the discovery phase.
type ResearchGoal struct {
	GoalText    string `json:"goal_text"`
	Rationale   string `json:"rationale"`
	Feasibility string `json:"feasibility"`
}

// PlanStep is one ordered step of the research plan produced in Phase 2.
type PlanStep struct {
	StepID       int    `json:"step_id"`
	Goal         string `json:"goal"`
	RequiredData string `json:"required_data"`
	Notes        string `json:"notes,omitempty"`
}

// UserPrompt is an interactive question the research pipeline poses to the
// user. At most one prompt is outstanding per session; the prompt is
// discarded once its response is delivered.
type UserPrompt struct {
	PromptID    string     `json:"prompt_id"`
	PromptText  string     `json:"prompt_text"`
	Choices     []string   `json:"choices,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	Response    string     `json:"response,omitempty"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}
