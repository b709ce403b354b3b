// Package router turns a role name and prompt into model output while
// enforcing a per-run budget cap and per-role provider fallback chains.
package router

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// costFloorUSD is the minimum charge per completion. Cost estimation is
// deliberately approximate: a monotonic function of prompt length with
// a floor, not token-accurate pricing.
const costFloorUSD = 0.0002

// Completer issues one completion against a concrete model.
type Completer interface {
	Complete(ctx context.Context, model, prompt string) (string, error)
}

// BudgetExceededError is returned before any network call when the
// estimated cost would push cumulative spend over the cap. It is always
// fatal to the run.
type BudgetExceededError struct {
	BudgetUSD   float64
	SpentUSD    float64
	EstimateUSD float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: spent %.4f + estimate %.4f over cap %.4f USD",
		e.SpentUSD, e.EstimateUSD, e.BudgetUSD)
}

// Config configures a Router.
type Config struct {
	// BaseURL is an OpenAI-compatible completion endpoint.
	BaseURL string
	APIKey  string
	// BudgetUSD caps cumulative spend for this Router instance.
	BudgetUSD float64
	// RequestsPerSecond limits outbound completion calls. Zero means
	// no client-side limiting.
	RequestsPerSecond float64
	// DryRun returns deterministic simulated output instead of calling
	// the completion endpoint. Spend still accrues so budget behavior
	// stays testable.
	DryRun bool
}

// Router routes role-addressed prompts through fallback chains with
// budget accounting. One Router instance scopes one run's spend; do not
// share a Router across concurrent missions.
type Router struct {
	mu        sync.Mutex
	spentUSD  float64
	budgetUSD float64
	fallbacks map[string][]string
	completer Completer
	limiter   *rate.Limiter
	dryRun    bool
	logger    *zap.Logger
}

// defaultFallbacks is the static per-role model chain table.
func defaultFallbacks() map[string][]string {
	return map[string][]string{
		"planner":         {"planner", "manager", "local_reflector"},
		"vision_executor": {"vision_executor", "planner"},
		"validator":       {"local_reflector", "planner"},
		"manager":         {"manager", "planner"},
	}
}

// New builds a Router backed by an OpenAI-compatible client.
func New(cfg Config, logger *zap.Logger) *Router {
	return NewWithCompleter(cfg, newOpenAICompleter(cfg.BaseURL, cfg.APIKey), logger)
}

// NewWithCompleter builds a Router over a caller-supplied Completer.
func NewWithCompleter(cfg Config, completer Completer, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Router{
		budgetUSD: cfg.BudgetUSD,
		fallbacks: defaultFallbacks(),
		completer: completer,
		limiter:   limiter,
		dryRun:    cfg.DryRun,
		logger:    logger,
	}
}

// EstimateCost returns the approximate USD cost of completing prompt:
// max(floor, len(prompt)/10000).
func EstimateCost(prompt string) float64 {
	est := float64(len(prompt)) / 10000.0
	if est < costFloorUSD {
		return costFloorUSD
	}
	return est
}

// Spent returns cumulative spend. It is monotonically non-decreasing
// over the Router's lifetime.
func (r *Router) Spent() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spentUSD
}

// Complete resolves role to its fallback chain and tries each candidate
// model in order, returning the first successful output. The budget is
// checked before any call is issued; a chain where every candidate
// fails yields an aggregate error carrying the last cause.
func (r *Router) Complete(ctx context.Context, role, prompt string) (string, error) {
	est := EstimateCost(prompt)

	r.mu.Lock()
	if r.spentUSD+est > r.budgetUSD {
		err := &BudgetExceededError{BudgetUSD: r.budgetUSD, SpentUSD: r.spentUSD, EstimateUSD: est}
		r.mu.Unlock()
		return "", err
	}
	r.mu.Unlock()

	models, ok := r.fallbacks[role]
	if !ok {
		models = []string{role}
	}

	var lastErr error
	for _, model := range models {
		out, err := r.call(ctx, model, prompt)
		if err != nil {
			r.logger.Warn("model call failed",
				zap.String("role", role),
				zap.String("model", model),
				zap.Error(err))
			lastErr = err
			continue
		}
		r.mu.Lock()
		r.spentUSD += est
		r.mu.Unlock()
		return out, nil
	}
	return "", fmt.Errorf("all model fallbacks failed for role=%s: %w", role, lastErr)
}

func (r *Router) call(ctx context.Context, model, prompt string) (string, error) {
	if r.dryRun {
		return dryCompletion(model, prompt), nil
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter wait: %w", err)
		}
	}
	return r.completer.Complete(ctx, model, prompt)
}

// dryCompletion returns the deterministic simulated output for a model.
// The local reflector plays the validator in dry runs, so it must emit
// strict validation JSON.
func dryCompletion(model, prompt string) string {
	if model == "local_reflector" {
		return `{"passed": true, "reason": "dry-run validated", "next_action": "none"}`
	}
	if len(prompt) > 180 {
		prompt = prompt[:180]
	}
	return fmt.Sprintf("[dry-run:%s] %s", model, prompt)
}
