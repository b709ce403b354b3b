package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseValidation_StrictJSON(t *testing.T) {
	got := parseValidation(`{"passed": true, "reason": "totals match", "next_action": "none"}`)
	assert.True(t, got.Passed)
	assert.Equal(t, "totals match", got.Reason)
	assert.Equal(t, "none", got.NextAction)
}

func TestParseValidation_JSONEmbeddedInProse(t *testing.T) {
	raw := "Sure, here is my verdict:\n{\"passed\": false, \"reason\": \"missing rows\", \"next_action\": \"retry\"}\nLet me know if you need more."
	got := parseValidation(raw)
	assert.False(t, got.Passed)
	assert.Equal(t, "missing rows", got.Reason)
	assert.Equal(t, "retry", got.NextAction)
}

func TestParseValidation_Unparseable(t *testing.T) {
	for _, raw := range []string{
		"the run looked fine to me",
		"",
		"{not json at all",
		"passed: yes",
	} {
		got := parseValidation(raw)
		assert.False(t, got.Passed, "raw=%q", raw)
		assert.Equal(t, "validation parsing failed", got.Reason)
		assert.Equal(t, "retry", got.NextAction)
	}
}

func TestParseValidation_NestedBracesUseOuterSpan(t *testing.T) {
	raw := `verdict {"passed": true, "reason": "ok", "next_action": "none", "detail": {"cells": 3}} end`
	got := parseValidation(raw)
	assert.True(t, got.Passed)
	assert.Equal(t, "ok", got.Reason)
}
