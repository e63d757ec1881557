package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptOpenAndResolve(t *testing.T) {
	reg := NewPromptRegistry()

	id, respond, err := reg.Open("session-1")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.True(t, reg.Pending("session-1"))

	require.NoError(t, reg.Resolve(id, "option-b"))
	assert.Equal(t, "option-b", <-respond)

	_, open := <-respond
	assert.False(t, open, "response channel closes after delivery")
	assert.False(t, reg.Pending("session-1"))
}

func TestPromptRejectsUnknownID(t *testing.T) {
	reg := NewPromptRegistry()
	err := reg.Resolve("nope", "whatever")
	require.ErrorIs(t, err, ErrUnknownPrompt)
}

func TestPromptResolveIsOneShot(t *testing.T) {
	reg := NewPromptRegistry()
	id, _, err := reg.Open("session-1")
	require.NoError(t, err)

	require.NoError(t, reg.Resolve(id, "first"))
	// A stale duplicate reply must be rejected, not delivered twice.
	require.ErrorIs(t, reg.Resolve(id, "second"), ErrUnknownPrompt)
}

func TestPromptOnePerSession(t *testing.T) {
	reg := NewPromptRegistry()
	id, _, err := reg.Open("session-1")
	require.NoError(t, err)

	_, _, err = reg.Open("session-1")
	require.ErrorIs(t, err, ErrPromptPending)

	// Other sessions are unaffected.
	_, _, err = reg.Open("session-2")
	require.NoError(t, err)

	// Resolving frees the slot.
	require.NoError(t, reg.Resolve(id, "ok"))
	_, _, err = reg.Open("session-1")
	require.NoError(t, err)
}

func TestPromptCancelClosesWithoutValue(t *testing.T) {
	reg := NewPromptRegistry()
	id, respond, err := reg.Open("session-1")
	require.NoError(t, err)

	reg.Cancel("session-1")

	_, open := <-respond
	assert.False(t, open)
	assert.False(t, reg.Pending("session-1"))
	require.ErrorIs(t, reg.Resolve(id, "late"), ErrUnknownPrompt)
}
