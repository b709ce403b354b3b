// Package retry provides the backoff policy and failure classification
// used by the mission run loop.
package retry

import (
	"context"
	"strings"
	"time"
)

// Class buckets a failure for retry decisions and telemetry.
type Class string

const (
	ClassToolError      Class = "tool_error"
	ClassNetworkError   Class = "network_error"
	ClassRateLimited    Class = "rate_limited"
	ClassValidationErr  Class = "validation_error"
	ClassPolicyBlocked  Class = "policy_blocked"
	ClassBudgetExceeded Class = "budget_exceeded"
)

// Fatal reports whether the class short-circuits the retry loop
// regardless of remaining attempts.
func (c Class) Fatal() bool {
	return c == ClassBudgetExceeded
}

// Policy holds the bounded-retry parameters for a run.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy returns the standard policy: 3 attempts, 1s base, 8s cap.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    8 * time.Second,
	}
}

// DelayFor computes the backoff delay before retrying after the given
// attempt: min(base * 2^(attempt-1), max). Attempts are 1-based.
func (p Policy) DelayFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Sleep blocks for the backoff delay of the given attempt, returning
// early with ctx.Err() if the context is cancelled.
func (p Policy) Sleep(ctx context.Context, attempt int) error {
	t := time.NewTimer(p.DelayFor(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Classify maps a failure to a Class using substring heuristics on the
// error text. Unrecognized failures default to ClassToolError.
func Classify(err error) Class {
	if err == nil {
		return ClassToolError
	}
	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "429") || strings.Contains(text, "rate"):
		return ClassRateLimited
	case strings.Contains(text, "timeout") || strings.Contains(text, "connection"):
		return ClassNetworkError
	case strings.Contains(text, "policy") || strings.Contains(text, "permission"):
		return ClassPolicyBlocked
	case strings.Contains(text, "budget"):
		return ClassBudgetExceeded
	case strings.Contains(text, "validation"):
		return ClassValidationErr
	default:
		return ClassToolError
	}
}
