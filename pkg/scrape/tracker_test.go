package scrape

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepscout/deepscout/pkg/models"
)

func newTask(batchID, taskID string) models.ScrapingTask {
	return models.ScrapingTask{
		TaskID:      taskID,
		BatchID:     batchID,
		LinkID:      "link-" + taskID,
		URL:         "https://example.com/" + taskID,
		LinkKind:    models.LinkKindArticle,
		ScraperKind: models.ScraperKindArticle,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestTrackerRegisterRejectsDuplicates(t *testing.T) {
	tr := NewTracker()

	require.NoError(t, tr.Register(newTask("b1", "t1")))
	err := tr.Register(newTask("b1", "t1"))
	require.ErrorIs(t, err, ErrDuplicateTaskID)

	// The original registration is untouched.
	task, err := tr.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, task.Status)
}

func TestTrackerTransitionIsCompareAndSwap(t *testing.T) {
	tr := NewTracker()
	require.NoError(t, tr.Register(newTask("b1", "t1")))

	worker := "scrape-worker-0"
	now := time.Now().UTC()
	require.NoError(t, tr.Transition("t1", models.TaskStatusPending, models.TaskStatusProcessing, models.TaskPatch{
		AssignedWorkerID: &worker,
		StartedAt:        &now,
	}))

	// A second claim against the same from-status must lose.
	err := tr.Transition("t1", models.TaskStatusPending, models.TaskStatusProcessing, models.TaskPatch{})
	require.ErrorIs(t, err, ErrStateMismatch)

	task, err := tr.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusProcessing, task.Status)
	assert.Equal(t, worker, task.AssignedWorkerID)
	require.NotNil(t, task.StartedAt)
}

func TestTrackerTransitionEnforcesLifecycleDAG(t *testing.T) {
	tr := NewTracker()
	require.NoError(t, tr.Register(newTask("b1", "t1")))

	// Pending cannot jump straight to Completed.
	err := tr.Transition("t1", models.TaskStatusPending, models.TaskStatusCompleted, models.TaskPatch{})
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, tr.Transition("t1", models.TaskStatusPending, models.TaskStatusProcessing, models.TaskPatch{}))
	require.NoError(t, tr.Transition("t1", models.TaskStatusProcessing, models.TaskStatusCompleted, models.TaskPatch{}))

	// Terminal states admit nothing further.
	err = tr.Transition("t1", models.TaskStatusCompleted, models.TaskStatusProcessing, models.TaskPatch{})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTrackerTransitionUnknownTask(t *testing.T) {
	tr := NewTracker()
	err := tr.Transition("nope", models.TaskStatusPending, models.TaskStatusProcessing, models.TaskPatch{})
	require.ErrorIs(t, err, ErrUnknownTask)
}

func TestTrackerConcurrentClaimsSingleWinner(t *testing.T) {
	tr := NewTracker()
	require.NoError(t, tr.Register(newTask("b1", "t1")))

	const claimants = 32
	var wg sync.WaitGroup
	var winsMu sync.Mutex
	wins := 0

	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			worker := fmt.Sprintf("scrape-worker-%d", i)
			err := tr.Transition("t1", models.TaskStatusPending, models.TaskStatusProcessing, models.TaskPatch{
				AssignedWorkerID: &worker,
			})
			if err == nil {
				winsMu.Lock()
				wins++
				winsMu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrStateMismatch)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one claimant should win the transition")
}

func TestTrackerStatisticsUsesExpectedTotalAsDenominator(t *testing.T) {
	tr := NewTracker()
	tr.SetExpectedTotal("b1", 4)
	require.NoError(t, tr.Register(newTask("b1", "t1")))
	require.NoError(t, tr.Register(newTask("b1", "t2")))

	require.NoError(t, tr.Transition("t1", models.TaskStatusPending, models.TaskStatusProcessing, models.TaskPatch{}))
	require.NoError(t, tr.Transition("t1", models.TaskStatusProcessing, models.TaskStatusCompleted, models.TaskPatch{}))

	p := tr.Statistics("b1")
	assert.Equal(t, 4, p.ExpectedTotal)
	assert.Equal(t, 2, p.RegisteredCount)
	assert.Equal(t, 1, p.Completed)
	assert.Equal(t, 1, p.Pending)
	assert.InDelta(t, 0.25, p.CompletionRate, 1e-9)
	assert.False(t, p.IsComplete)
	assert.False(t, p.CanProceed)
}

func TestTrackerStatisticsCompleteBatch(t *testing.T) {
	tr := NewTracker()
	tr.SetExpectedTotal("b1", 2)
	require.NoError(t, tr.Register(newTask("b1", "t1")))
	require.NoError(t, tr.Register(newTask("b1", "t2")))

	for _, id := range []string{"t1", "t2"} {
		require.NoError(t, tr.Transition(id, models.TaskStatusPending, models.TaskStatusProcessing, models.TaskPatch{}))
	}
	require.NoError(t, tr.Transition("t1", models.TaskStatusProcessing, models.TaskStatusCompleted, models.TaskPatch{}))
	msg := "boom"
	require.NoError(t, tr.Transition("t2", models.TaskStatusProcessing, models.TaskStatusFailed, models.TaskPatch{Error: &msg}))

	p := tr.Statistics("b1")
	assert.InDelta(t, 1.0, p.CompletionRate, 1e-9)
	assert.True(t, p.IsComplete)
	assert.True(t, p.CanProceed, "at least one completed task should allow proceeding")

	allTerminal, _ := tr.AllTerminal("b1")
	assert.True(t, allTerminal)
}

func TestTrackerAllTerminalFalseWhenEmpty(t *testing.T) {
	tr := NewTracker()
	tr.SetExpectedTotal("b1", 0)

	allTerminal, p := tr.AllTerminal("b1")
	assert.False(t, allTerminal, "a batch with no registered tasks is never terminal")
	assert.Equal(t, 0, p.RegisteredCount)
}

func TestTrackerGetReturnsCopy(t *testing.T) {
	tr := NewTracker()
	require.NoError(t, tr.Register(newTask("b1", "t1")))

	task, err := tr.Get("t1")
	require.NoError(t, err)
	task.Status = models.TaskStatusFailed

	fresh, err := tr.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, fresh.Status)
}
