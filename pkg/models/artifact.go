package models

import "time"

// ScrapeResult is the content extracted by a scraper for one link.
type ScrapeResult struct {
	Title    string            `json:"title,omitempty"`
	Content  string            `json:"content"`
	Comments []Comment         `json:"comments,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// Comment is a single discussion entry extracted from a comment section or
// forum thread.
type Comment struct {
	Author  string `json:"author,omitempty"`
	Text    string `json:"text"`
	Likes   int    `json:"likes,omitempty"`
	Replies int    `json:"replies,omitempty"`
}

// ArtifactMeta is the metadata block written alongside every scrape result.
type ArtifactMeta struct {
	Source      string    `json:"source"`
	ScraperKind string    `json:"scraper_kind"`
	ExtractedAt time.Time `json:"extracted_at"`
	WordCount   int       `json:"word_count"`
	Language    string    `json:"language,omitempty"`
}

// Artifact is the durable per-task JSON document written to the batch
// directory. Immutable once written.
type Artifact struct {
	BatchID string       `json:"batch_id"`
	LinkID  string       `json:"link_id"`
	Kind    LinkKind     `json:"kind"`
	Result  ScrapeResult `json:"result"`
	Meta    ArtifactMeta `json:"meta"`
}

// Summary is the condensed per-link JSON produced by the summarization
// pipeline and written as a sibling _summary.json file. Both sections are
// optional; which ones are present depends on the link kind.
type Summary struct {
	LinkID            string    `json:"link_id"`
	TranscriptSummary string    `json:"transcript_summary,omitempty"`
	CommentsSummary   string    `json:"comments_summary,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}
