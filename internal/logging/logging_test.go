package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ValidConfig(t *testing.T) {
	logger, err := New(Config{Level: "debug", Format: "json"})
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer func() { _ = logger.Sync() }()
}

func TestNew_ConsoleFormat(t *testing.T) {
	logger, err := New(Config{Level: "info", Format: "console"})
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(Config{Level: "loud", Format: "json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	ctx = WithMissionID(ctx, "mission-1")
	ctx = WithRunID(ctx, "run-1")
	ctx = WithStepID(ctx, "step-1-executor")

	assert.Equal(t, "mission-1", MissionIDFromContext(ctx))
	assert.Equal(t, "run-1", RunIDFromContext(ctx))
	assert.Equal(t, "step-1-executor", StepIDFromContext(ctx))
	assert.Len(t, ContextFields(ctx), 3)
}
