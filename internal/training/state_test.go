package training

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()
	allowed := []struct{ from, to State }{
		{Uninitialized, Training},
		{Uninitialized, Resumed},
		{Resumed, Training},
		{Training, Checkpointed},
		{Checkpointed, Training},
		{Checkpointed, Finalized},
		{Checkpointed, Resumed},
		{Training, Failed},
	}
	for _, tc := range allowed {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
	denied := []struct{ from, to State }{
		{Uninitialized, Finalized},
		{Training, Finalized},
		{Training, Resumed},
		{Finalized, Training},
		{Failed, Training},
		{Resumed, Checkpointed},
	}
	for _, tc := range denied {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "checkpointed", Checkpointed.String())
	assert.Equal(t, "State(42)", State(42).String())
	assert.True(t, Finalized.Terminal())
	assert.False(t, Resumed.Terminal())
	assert.EqualError(t, &TransitionError{From: Finalized, To: Training}, "invalid trainer transition finalized -> training")
}
