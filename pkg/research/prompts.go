package research

import (
	"fmt"
	"strings"

	"github.com/deepscout/deepscout/pkg/models"
)

const (
	rolePrompt = `You are preparing a research effort over a batch of scraped web sources.
Based on the data overview below, write a one-paragraph advisory research role
describing what kind of analyst would best interpret this material.
Respond with JSON: {"role": "..."}`

	defaultRole = "a careful generalist research analyst who weighs primary content against audience discussion"

	discoverPrompt = `Acting in the role below, propose between 5 and 10 candidate research goals
for this batch of sources. Each goal must be specific enough to plan against.
Respond with JSON: {"goals": [{"goal_text": "...", "rationale": "...", "feasibility": "..."}]}`

	planPrompt = `Produce an ordered research plan of 3 to 7 steps for the selected goal.
Each step needs a step_id (1-based), a goal, and required_data describing which
source content the step needs. Choose whatever methodology fits the goal.
Respond with JSON: {"steps": [{"step_id": 1, "goal": "...", "required_data": "...", "notes": "..."}]}`

	executePrompt = `Work the research step below against the provided source content.
Report only findings grounded in the content. Respond with JSON:
{"findings": {"summary": "...", "points_of_interest": ["..."], "analysis_details": "..."},
 "insights": "...", "confidence": 0.0}`

	synthesizePrompt = `Write the final research report in Markdown using the accumulated findings
below. Cite evidence inline as [EVID-NN] where NN is the step number the
finding came from, and append an evidence index mapping each reference to its
step. Produce one complete document; no preamble.`
)

// userIntentBlock renders the User Intent section included in every phase
// prompt after role generation. userContext is empty before Phase 2.
func userIntentBlock(guidance, userContext string) string {
	var b strings.Builder
	b.WriteString("## User Intent\n")
	if guidance != "" {
		fmt.Fprintf(&b, "Guidance: %s\n", guidance)
	} else {
		b.WriteString("Guidance: (none given)\n")
	}
	if userContext != "" {
		fmt.Fprintf(&b, "Additional context: %s\n", userContext)
	}
	return b.String()
}

func buildRoleInput(overview, guidance string) string {
	var b strings.Builder
	b.WriteString("## Data Overview\n")
	b.WriteString(overview)
	if guidance != "" {
		b.WriteString("\n\n## User Guidance\n")
		b.WriteString(guidance)
	}
	return b.String()
}

func buildDiscoverInput(role, overview, guidance string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Role\n%s\n\n", role)
	fmt.Fprintf(&b, "## Data Overview\n%s\n\n", overview)
	b.WriteString(userIntentBlock(guidance, ""))
	return b.String()
}

func buildPlanInput(goal, amendment, overview, guidance string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Selected Goal\n%s\n", goal)
	if amendment != "" {
		fmt.Fprintf(&b, "\n## Goal Amendment\n%s\n", amendment)
	}
	fmt.Fprintf(&b, "\n## Data Overview\n%s\n\n", overview)
	b.WriteString(userIntentBlock(guidance, amendment))
	return b.String()
}

func buildExecuteInput(step models.PlanStep, cumulative, content, guidance, userContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Step %d: %s\nRequired data: %s\n", step.StepID, step.Goal, step.RequiredData)
	if step.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", step.Notes)
	}
	if cumulative != "" {
		fmt.Fprintf(&b, "\n## Findings So Far\n%s\n", cumulative)
	}
	fmt.Fprintf(&b, "\n## Source Content\n%s\n\n", content)
	b.WriteString(userIntentBlock(guidance, userContext))
	return b.String()
}

func buildSynthesizeInput(goal, cumulative, guidance, userContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Research Goal\n%s\n\n", goal)
	fmt.Fprintf(&b, "## Accumulated Findings\n%s\n\n", cumulative)
	b.WriteString(userIntentBlock(guidance, userContext))
	return b.String()
}
