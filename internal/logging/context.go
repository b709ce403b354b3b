package logging

import (
	"context"

	"go.uber.org/zap"
)

// Context key types
type missionCtxKey struct{}
type runCtxKey struct{}
type stepCtxKey struct{}

// WithMissionID adds a mission id to context.
func WithMissionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, missionCtxKey{}, id)
}

// WithRunID adds a run id to context.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, id)
}

// WithStepID adds a step id to context.
func WithStepID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, stepCtxKey{}, id)
}

// MissionIDFromContext extracts the mission id, if any.
func MissionIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(missionCtxKey{}).(string)
	return s
}

// RunIDFromContext extracts the run id, if any.
func RunIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(runCtxKey{}).(string)
	return s
}

// StepIDFromContext extracts the step id, if any.
func StepIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(stepCtxKey{}).(string)
	return s
}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 3)
	if id := MissionIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("mission_id", id))
	}
	if id := RunIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("run_id", id))
	}
	if id := StepIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("step_id", id))
	}
	return fields
}
