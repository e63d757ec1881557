// Package models defines the domain types shared across the scraping,
// summarization, and research subsystems.
package models

import "time"

// LinkKind classifies an ingested link by the kind of content behind it.
type LinkKind string

// Link kinds accepted at ingestion.
const (
	LinkKindVideoTranscript LinkKind = "video-transcript"
	LinkKindVideoComments   LinkKind = "video-comments"
	LinkKindForumThread     LinkKind = "forum-thread"
	LinkKindArticle         LinkKind = "article"
)

// Valid reports whether k is a recognized link kind.
func (k LinkKind) Valid() bool {
	switch k {
	case LinkKindVideoTranscript, LinkKindVideoComments, LinkKindForumThread, LinkKindArticle:
		return true
	}
	return false
}

// ScraperKind identifies which scraper implementation handles a task.
type ScraperKind string

// Scraper kinds, derived one-to-one from link kinds.
const (
	ScraperKindTranscript ScraperKind = "transcript"
	ScraperKindComments   ScraperKind = "comments"
	ScraperKindForum      ScraperKind = "forum"
	ScraperKindArticle    ScraperKind = "article"
)

// ScraperKindFor returns the scraper kind responsible for a link kind.
func ScraperKindFor(k LinkKind) ScraperKind {
	switch k {
	case LinkKindVideoTranscript:
		return ScraperKindTranscript
	case LinkKindVideoComments:
		return ScraperKindComments
	case LinkKindForumThread:
		return ScraperKindForum
	default:
		return ScraperKindArticle
	}
}

// TaskStatus represents the lifecycle state of a scraping task.
type TaskStatus string

// Task lifecycle states. Transitions form a DAG:
// Pending → Processing → (Completed | Failed), or Pending → Cancelled.
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the status DAG permits moving to next.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		return next == TaskStatusProcessing || next == TaskStatusCancelled
	case TaskStatusProcessing:
		return next == TaskStatusCompleted || next == TaskStatusFailed
	}
	return false
}

// ScrapingTask is the authoritative record of one scraping job. Owned
// exclusively by the task tracker once registered; callers operate on copies.
type ScrapingTask struct {
	TaskID      string      `json:"task_id"`
	BatchID     string      `json:"batch_id"`
	LinkID      string      `json:"link_id"`
	URL         string      `json:"url"`
	LinkKind    LinkKind    `json:"link_kind"`
	ScraperKind ScraperKind `json:"scraper_kind"`
	Priority    int         `json:"priority"`
	CreatedAt   time.Time   `json:"created_at"`

	Status           TaskStatus `json:"status"`
	AssignedWorkerID string     `json:"assigned_worker_id,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	Error            string     `json:"error,omitempty"`
	ArtifactPath     string     `json:"artifact_path,omitempty"`
}

// TaskPatch carries the optional field updates applied atomically with a
// status transition.
type TaskPatch struct {
	AssignedWorkerID *string
	StartedAt        *time.Time
	CompletedAt      *time.Time
	Error            *string
	ArtifactPath     *string
}

// BatchProgress is a point-in-time snapshot of a batch's scraping progress.
// Computed from the tracker's current state; no derived counters are stored.
type BatchProgress struct {
	BatchID         string  `json:"batch_id"`
	ExpectedTotal   int     `json:"expected_total"`
	RegisteredCount int     `json:"registered"`
	Completed       int     `json:"completed"`
	Failed          int     `json:"failed"`
	InProgress      int     `json:"in_progress"`
	Pending         int     `json:"pending"`
	Cancelled       int     `json:"cancelled"`
	CompletionRate  float64 `json:"completion_rate"`
	IsComplete      bool    `json:"is_complete"`
	CanProceed      bool    `json:"can_proceed"`
}
