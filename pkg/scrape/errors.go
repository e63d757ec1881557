package scrape

import "errors"

// Sentinel errors for task tracking and batch completion. Callers match with
// errors.Is; wrapped forms carry the task or batch id.
var (
	// ErrDuplicateTaskID is returned when registering a task id that is
	// already tracked.
	ErrDuplicateTaskID = errors.New("duplicate task id")

	// ErrStateMismatch is returned by a compare-and-swap transition whose
	// from-status does not match the task's current status.
	ErrStateMismatch = errors.New("task status mismatch")

	// ErrInvalidTransition is returned when a transition would violate the
	// status DAG regardless of the current status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrUnknownTask is returned when a task id is not tracked.
	ErrUnknownTask = errors.New("unknown task id")

	// ErrPersistenceFailed is returned when an artifact could not be made
	// durable within the configured retry budget.
	ErrPersistenceFailed = errors.New("artifact persistence failed")

	// ErrPartialCompletion is returned when a completion wait times out with
	// work still outstanding.
	ErrPartialCompletion = errors.New("batch did not fully complete in time")

	// ErrBatchCancelled is returned when an operation targets a batch whose
	// cancel flag is set.
	ErrBatchCancelled = errors.New("batch is cancelled")

	// ErrScraperFailed wraps extraction failures, including recovered panics
	// inside a scraper implementation.
	ErrScraperFailed = errors.New("scraper failed")
)
