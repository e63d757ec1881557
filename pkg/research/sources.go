package research

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/deepscout/deepscout/pkg/models"
	"github.com/deepscout/deepscout/pkg/storage"
)

// sourceItem is one link's research-ready content: the summary when the
// summarization pipeline produced one, otherwise the raw artifact text.
type sourceItem struct {
	linkID      string
	title       string
	text        string
	fromSummary bool
	wordCount   int
}

// loadSources reads a batch directory and returns one item per link, summary
// preferred, ordered by link id for stable prompts.
func loadSources(layout *storage.Layout, batchID string) ([]sourceItem, error) {
	dir := layout.BatchDir(batchID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read batch directory %s: %w", dir, err)
	}

	summaries := make(map[string]*models.Summary)
	artifacts := make(map[string]*models.Artifact)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if strings.HasSuffix(e.Name(), "_summary.json") {
			var s models.Summary
			if err := storage.ReadJSON(path, &s); err == nil && s.LinkID != "" {
				summaries[s.LinkID] = &s
			}
			continue
		}
		var a models.Artifact
		if err := storage.ReadJSON(path, &a); err == nil && a.LinkID != "" {
			// A link can have several artifacts (transcript plus comments);
			// keep the first and merge nothing, summaries cover the rest.
			if _, ok := artifacts[a.LinkID]; !ok {
				artifacts[a.LinkID] = &a
			}
		}
	}

	linkIDs := make(map[string]bool)
	for id := range summaries {
		linkIDs[id] = true
	}
	for id := range artifacts {
		linkIDs[id] = true
	}

	var items []sourceItem
	for id := range linkIDs {
		item := sourceItem{linkID: id}
		if s, ok := summaries[id]; ok {
			var parts []string
			if s.TranscriptSummary != "" {
				parts = append(parts, s.TranscriptSummary)
			}
			if s.CommentsSummary != "" {
				parts = append(parts, "Audience discussion: "+s.CommentsSummary)
			}
			item.text = strings.Join(parts, "\n")
			item.fromSummary = true
		}
		if a, ok := artifacts[id]; ok {
			item.title = a.Result.Title
			item.wordCount = a.Meta.WordCount
			if item.text == "" {
				item.text = a.Result.Content
			}
		}
		if strings.TrimSpace(item.text) == "" {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].linkID < items[j].linkID })
	return items, nil
}

// renderSources concatenates items into a prompt content block.
func renderSources(items []sourceItem) string {
	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "### Source %s", item.linkID)
		if item.title != "" {
			fmt.Fprintf(&b, ": %s", item.title)
		}
		b.WriteString("\n")
		b.WriteString(item.text)
		b.WriteString("\n\n")
	}
	return b.String()
}

// buildOverview produces the short per-link digest used by the role and
// discovery phases.
func buildOverview(items []sourceItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Batch of %d sources:\n", len(items))
	for _, item := range items {
		fmt.Fprintf(&b, "- %s", item.linkID)
		if item.title != "" {
			fmt.Fprintf(&b, " (%s)", item.title)
		}
		if item.wordCount > 0 {
			fmt.Fprintf(&b, ", %d words", item.wordCount)
		}
		excerpt := item.text
		if len(excerpt) > 200 {
			excerpt = excerpt[:200] + "..."
		}
		fmt.Fprintf(&b, ": %s\n", strings.ReplaceAll(excerpt, "\n", " "))
	}
	return b.String()
}
