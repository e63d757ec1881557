package summarize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/deepscout/deepscout/pkg/llm"
	"github.com/deepscout/deepscout/pkg/models"
)

const summarySystemPrompt = `You are a research assistant condensing scraped web content.
Given one source document, produce a JSON object with these fields:
  "transcript_summary": a dense summary of the main content (omit if there is no main content),
  "comments_summary": a dense summary of the discussion and audience reaction (omit if there are no comments).
Preserve concrete facts, numbers, names, and dissenting opinions. Respond with JSON only.`

// commentSampleLimit bounds how many comments go into the prompt. Comment
// sections on popular links run to thousands of entries; the head of the
// list (sorted by the scraper, typically by engagement) carries the signal.
const commentSampleLimit = 200

// Summarizer turns one scrape artifact into a Summary document via the LLM.
type Summarizer struct {
	client    llm.Client
	maxTokens int
}

// NewSummarizer creates a summarizer over client.
func NewSummarizer(client llm.Client, maxTokens int) *Summarizer {
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &Summarizer{client: client, maxTokens: maxTokens}
}

// Summarize runs the LLM over the artifact and returns the parsed summary.
func (s *Summarizer) Summarize(ctx context.Context, artifact *models.Artifact) (*models.Summary, error) {
	stream, err := s.client.Generate(ctx, &llm.GenerateInput{
		System: summarySystemPrompt,
		Messages: []llm.ConversationMessage{
			{Role: llm.RoleUser, Content: buildSourceBlock(artifact)},
		},
		MaxTokens: s.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("start summary stream for %s: %w", artifact.LinkID, err)
	}

	resp, err := llm.Collect(stream)
	if err != nil {
		return nil, fmt.Errorf("summary stream for %s: %w", artifact.LinkID, err)
	}

	var parsed struct {
		TranscriptSummary string `json:"transcript_summary"`
		CommentsSummary   string `json:"comments_summary"`
	}
	if err := llm.ExtractJSON(resp.Text, &parsed); err != nil {
		return nil, fmt.Errorf("parse summary for %s: %w", artifact.LinkID, err)
	}
	if parsed.TranscriptSummary == "" && parsed.CommentsSummary == "" {
		return nil, fmt.Errorf("parse summary for %s: %w", artifact.LinkID, llm.ErrInvalidJSON)
	}

	return &models.Summary{
		LinkID:            artifact.LinkID,
		TranscriptSummary: parsed.TranscriptSummary,
		CommentsSummary:   parsed.CommentsSummary,
		CreatedAt:         time.Now().UTC(),
	}, nil
}

// buildSourceBlock renders the artifact as the user message. Sections are
// labeled so the model can tell primary content from discussion.
func buildSourceBlock(artifact *models.Artifact) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Source kind: %s\nSource URL: %s\n", artifact.Kind, artifact.Meta.Source)
	if artifact.Result.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", artifact.Result.Title)
	}
	if artifact.Result.Content != "" {
		b.WriteString("\n--- CONTENT ---\n")
		b.WriteString(artifact.Result.Content)
		b.WriteString("\n")
	}
	if len(artifact.Result.Comments) > 0 {
		b.WriteString("\n--- COMMENTS ---\n")
		comments := artifact.Result.Comments
		if len(comments) > commentSampleLimit {
			comments = comments[:commentSampleLimit]
		}
		for _, c := range comments {
			author := c.Author
			if author == "" {
				author = "anonymous"
			}
			fmt.Fprintf(&b, "[%s, %d likes] %s\n", author, c.Likes, c.Text)
		}
	}
	return b.String()
}
