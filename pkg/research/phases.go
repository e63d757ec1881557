package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/deepscout/deepscout/pkg/events"
	"github.com/deepscout/deepscout/pkg/llm"
	"github.com/deepscout/deepscout/pkg/models"
	"github.com/deepscout/deepscout/pkg/storage"
)

// runRole generates the advisory research role. Failure is non-fatal: the
// run proceeds with a generic default role.
func (o *Orchestrator) runRole(ctx context.Context, overview string) error {
	guidance := o.session.Meta(MetaGuidancePreRole)

	role := defaultRole
	resp, err := o.callModel(ctx, PhaseRole, rolePrompt, buildRoleInput(overview, guidance))
	if err != nil {
		if o.cancelled.Load() {
			return ErrSessionCancelled
		}
		o.logger.Warn("Role generation failed, using default role", "error", err)
	} else {
		var parsed struct {
			Role string `json:"role"`
		}
		if jsonErr := llm.ExtractJSON(resp.Text, &parsed); jsonErr != nil || parsed.Role == "" {
			o.logger.Warn("Role response unparseable, using default role", "error", jsonErr)
		} else {
			role = parsed.Role
		}
	}

	o.session.SetMeta(MetaRole, role)
	return nil
}

// runDiscover surfaces candidate goals, publishes each as a structured
// event, then suspends until the user selects one.
func (o *Orchestrator) runDiscover(ctx context.Context, overview string) error {
	guidance := o.session.Meta(MetaGuidancePreRole)
	input := buildDiscoverInput(o.session.Meta(MetaRole), overview, guidance)

	var parsed struct {
		Goals []models.ResearchGoal `json:"goals"`
	}
	if err := o.callModelJSON(ctx, PhaseDiscover, discoverPrompt, input, &parsed); err != nil {
		if errors.Is(err, llm.ErrInvalidJSON) {
			return fmt.Errorf("parse goals: %w", err)
		}
		return err
	}
	if len(parsed.Goals) == 0 {
		return fmt.Errorf("parse goals: %w", llm.ErrInvalidJSON)
	}
	o.session.SetGoals(parsed.Goals)

	choices := make([]string, len(parsed.Goals))
	for i, g := range parsed.Goals {
		choices[i] = g.GoalText
		raw, _ := json.Marshal(g)
		o.publisher.StreamStructured(ctx, o.session.BatchID(), o.session.ID(),
			events.ResearchStreamStructuredPayload{Phase: PhaseDiscover, Object: raw})
	}

	response, err := o.askUser(ctx,
		"Select a research goal by number, optionally with amendment text.", choices)
	if err != nil {
		return err
	}

	sel := parseGoalSelection(response, len(parsed.Goals))
	o.session.SetMeta(MetaSelectedGoal, parsed.Goals[sel.GoalIndex-1].GoalText)
	o.session.SetMeta(MetaPostPhase1, sel.Amendment)
	return nil
}

// runPlan produces the ordered research plan for the selected goal.
func (o *Orchestrator) runPlan(ctx context.Context, overview string) error {
	goal := o.session.Meta(MetaSelectedGoal)
	amendment := o.session.Meta(MetaPostPhase1)
	guidance := o.session.Meta(MetaGuidancePreRole)

	var parsed struct {
		Steps []models.PlanStep `json:"steps"`
	}
	input := buildPlanInput(goal, amendment, overview, guidance)
	if err := o.callModelJSON(ctx, PhasePlan, planPrompt, input, &parsed); err != nil {
		if errors.Is(err, llm.ErrInvalidJSON) {
			return fmt.Errorf("parse plan: %w", err)
		}
		return err
	}
	if len(parsed.Steps) == 0 {
		return fmt.Errorf("parse plan: %w", llm.ErrInvalidJSON)
	}

	o.session.SetPlan(parsed.Steps)
	for _, step := range parsed.Steps {
		raw, _ := json.Marshal(step)
		o.publisher.StreamStructured(ctx, o.session.BatchID(), o.session.ID(),
			events.ResearchStreamStructuredPayload{Phase: PhasePlan, Object: raw})
	}
	return nil
}

// stepOutput is the parsed structured result of one execute call.
type stepOutput struct {
	Findings   models.Findings `json:"findings"`
	Insights   string          `json:"insights"`
	Confidence float64         `json:"confidence"`
}

// runExecute walks the plan steps sequentially. A failing step is recorded
// as a failed scratchpad entry and execution continues with the next step.
func (o *Orchestrator) runExecute(ctx context.Context, sources []sourceItem) error {
	for _, step := range o.session.Plan() {
		if err := o.checkCancelled(); err != nil {
			return err
		}
		if err := o.executeStep(ctx, step, sources); err != nil {
			if o.cancelled.Load() {
				return ErrSessionCancelled
			}
			o.logger.Error("Step failed, continuing with next step",
				"step_id", step.StepID, "error", err)
			entry := models.ScratchpadEntry{
				StepID: step.StepID,
				Failed: true,
				Error:  err.Error(),
			}
			if saveErr := o.session.UpdateScratchpad(entry, true); saveErr != nil {
				return saveErr
			}
		}
	}
	return nil
}

// executeStep runs one plan step, paging the content when it exceeds the
// window budget, and records the deduplicated outcome in the scratchpad.
func (o *Orchestrator) executeStep(ctx context.Context, step models.PlanStep, sources []sourceItem) error {
	guidance := o.session.Meta(MetaGuidancePreRole)
	userContext := o.session.Meta(MetaPostPhase1)
	content := renderSources(sources)
	priors := o.session.Entries()

	windows := splitWindows(content, o.cfg.PageWindowSizeChars)
	if len(windows) <= 1 {
		input := buildExecuteInput(step, o.session.CumulativeSummary(), content, guidance, userContext)
		var out stepOutput
		if err := o.callModelJSON(ctx, PhaseExecute, executePrompt, input, &out); err != nil {
			if errors.Is(err, llm.ErrInvalidJSON) {
				return fmt.Errorf("parse step %d output: %w", step.StepID, err)
			}
			return err
		}
		out.Findings.PointsOfInterest = dedupePoints(out.Findings.PointsOfInterest)
		if err := o.filter.Apply(ctx, &out.Findings, priors); err != nil {
			o.publishFilterWarning(ctx, err)
		}
		o.publishStepResult(ctx, &out)
		return o.session.UpdateScratchpad(models.ScratchpadEntry{
			StepID:     step.StepID,
			Findings:   out.Findings,
			Insights:   out.Insights,
			Confidence: out.Confidence,
			Sources:    sourceIDs(sources),
		}, true)
	}

	// Paged path: one model call per window, merged points extended in
	// place with duplicates skipped as they arrive, one save at the end.
	merged := models.Findings{}
	seen := make(map[string]bool)
	var insights []string
	var confidence float64
	for i, window := range windows {
		if o.cancelled.Load() {
			return ErrSessionCancelled
		}
		input := buildExecuteInput(step, o.session.CumulativeSummary(), window, guidance, userContext)
		var out stepOutput
		if err := o.callModelJSON(ctx, PhaseExecute, executePrompt, input, &out); err != nil {
			if errors.Is(err, llm.ErrInvalidJSON) {
				return fmt.Errorf("parse step %d window %d output: %w", step.StepID, i+1, err)
			}
			return err
		}

		if out.Findings.Summary != "" {
			if merged.Summary != "" {
				merged.Summary += " "
			}
			merged.Summary += out.Findings.Summary
		}
		merged.PointsOfInterest = mergePoints(merged.PointsOfInterest, seen, out.Findings.PointsOfInterest)
		if out.Findings.AnalysisDetails != "" {
			if merged.AnalysisDetails != "" {
				merged.AnalysisDetails += "\n"
			}
			merged.AnalysisDetails += out.Findings.AnalysisDetails
		}
		if out.Insights != "" {
			insights = append(insights, out.Insights)
		}
		confidence += out.Confidence

		// Interim snapshot, memory only; the single save happens at step end.
		if err := o.session.UpdateScratchpad(models.ScratchpadEntry{
			StepID:     step.StepID,
			Findings:   merged,
			Insights:   strings.Join(insights, " "),
			Confidence: confidence / float64(i+1),
			Sources:    sourceIDs(sources),
		}, false); err != nil {
			return err
		}
	}

	merged.PointsOfInterest = dedupePoints(merged.PointsOfInterest)
	if err := o.filter.Apply(ctx, &merged, priors); err != nil {
		o.publishFilterWarning(ctx, err)
	}
	final := models.ScratchpadEntry{
		StepID:     step.StepID,
		Findings:   merged,
		Insights:   strings.Join(insights, " "),
		Confidence: confidence / float64(len(windows)),
		Sources:    sourceIDs(sources),
	}
	o.publishStepResult(ctx, &stepOutput{Findings: final.Findings, Insights: final.Insights, Confidence: final.Confidence})
	if err := o.session.UpdateScratchpad(final, false); err != nil {
		return err
	}
	return o.session.Save()
}

func (o *Orchestrator) publishStepResult(ctx context.Context, out *stepOutput) {
	raw, err := json.Marshal(out)
	if err != nil {
		return
	}
	o.publisher.StreamStructured(ctx, o.session.BatchID(), o.session.ID(),
		events.ResearchStreamStructuredPayload{Phase: PhaseExecute, Object: raw})
}

func sourceIDs(sources []sourceItem) []string {
	out := make([]string, len(sources))
	for i, s := range sources {
		out[i] = s.linkID
	}
	return out
}

// runSynthesize streams the final Markdown report and writes it to disk.
func (o *Orchestrator) runSynthesize(ctx context.Context) error {
	guidance := o.session.Meta(MetaGuidancePreRole)
	userContext := o.session.Meta(MetaPostPhase1)
	input := buildSynthesizeInput(o.session.Meta(MetaSelectedGoal),
		o.evidenceBlock(), guidance, userContext)

	resp, err := o.callModel(ctx, PhaseSynthesize, synthesizePrompt, input)
	if err != nil {
		return err
	}
	report := strings.TrimSpace(resp.Text)
	if report == "" {
		return fmt.Errorf("synthesis produced an empty report")
	}

	path := o.layout.ReportPath(o.session.ID())
	if err := storage.WriteFileAtomic(path, []byte(report+"\n")); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	o.session.SetPhaseArtifact(phaseNames[PhaseSynthesize], report)
	return nil
}

// evidenceBlock renders the scratchpad with [EVID-NN] tags so the synthesis
// prompt can cite steps directly.
func (o *Orchestrator) evidenceBlock() string {
	var b strings.Builder
	for _, e := range o.session.Entries() {
		if e.Failed {
			continue
		}
		fmt.Fprintf(&b, "[EVID-%02d] Step %d", e.StepID, e.StepID)
		if e.Findings.Summary != "" {
			fmt.Fprintf(&b, ": %s", e.Findings.Summary)
		}
		b.WriteString("\n")
		for _, p := range e.Findings.PointsOfInterest {
			fmt.Fprintf(&b, "  - %s\n", p)
		}
		if e.Insights != "" {
			fmt.Fprintf(&b, "  Insights: %s\n", e.Insights)
		}
	}
	return b.String()
}
