package state

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition_AllowedEdges(t *testing.T) {
	allowed := map[RunState][]RunState{
		Created:     {Planned, Failed},
		Planned:     {Executing, Failed},
		Executing:   {Validating, Retrying, Failed},
		Validating:  {Completed, Retrying, HumanReview, Failed},
		Retrying:    {Executing, HumanReview, Failed},
		HumanReview: {Executing, Failed, Completed},
	}

	for from, tos := range allowed {
		for _, to := range tos {
			got, err := Transition(from, to)
			require.NoError(t, err, "%s -> %s", from, to)
			assert.Equal(t, to, got)
		}
	}
}

func TestTransition_RejectsEverythingElse(t *testing.T) {
	for _, from := range All() {
		for _, to := range All() {
			if Can(from, to) {
				continue
			}
			got, err := Transition(from, to)
			require.Error(t, err, "%s -> %s should be rejected", from, to)
			assert.Equal(t, from, got)

			var ite *InvalidTransitionError
			require.True(t, errors.As(err, &ite))
			assert.Equal(t, from, ite.From)
			assert.Equal(t, to, ite.To)
			assert.Contains(t, err.Error(), string(from))
			assert.Contains(t, err.Error(), string(to))
		}
	}
}

func TestTransition_NoSelfLoops(t *testing.T) {
	for _, s := range All() {
		assert.False(t, Can(s, s), "self-loop on %s", s)
	}
}

func TestTerminal(t *testing.T) {
	assert.True(t, Terminal(Completed))
	assert.True(t, Terminal(Failed))
	for _, s := range []RunState{Created, Planned, Executing, Validating, Retrying, HumanReview} {
		assert.False(t, Terminal(s))
	}
}
