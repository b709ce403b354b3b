// Package orchestrator drives missions to completion: it persists the
// run, claims its queue job, gates it against policy, plans with memory
// context, and loops execute -> validate -> retry until the run reaches
// a terminal state.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/missiond/internal/executor"
	"github.com/fyrsmithlabs/missiond/internal/logging"
	"github.com/fyrsmithlabs/missiond/internal/memory"
	"github.com/fyrsmithlabs/missiond/internal/policy"
	"github.com/fyrsmithlabs/missiond/internal/retry"
	"github.com/fyrsmithlabs/missiond/internal/router"
	"github.com/fyrsmithlabs/missiond/internal/state"
	"github.com/fyrsmithlabs/missiond/internal/store"
	"github.com/fyrsmithlabs/missiond/internal/telemetry"
	"github.com/fyrsmithlabs/missiond/internal/workspace"
)

const (
	episodicFetchLimit  = 20
	semanticFetchLimit  = 50
	semanticRankTop     = 3
	episodicTokenLimit  = 5
	planMemoryTruncate  = 300
	resultMemoryLimit   = 500
	validatorInputLimit = 1800
)

// StreamFn receives progress events during a run.
type StreamFn func(event string, payload map[string]any)

// RouterFactory builds the model router for one run. A fresh router per
// run keeps spend accounting scoped to that run, and the mission's
// budget caps it.
type RouterFactory func(mission *store.Mission) *router.Router

// Outcome is the terminal result of a mission run. It always carries a
// state for programmatic branching; the remaining fields vary by
// terminal branch.
type Outcome struct {
	RunID         string            `json:"run_id"`
	State         state.RunState    `json:"state"`
	Step          int               `json:"step,omitempty"`
	Runtime       string            `json:"runtime,omitempty"`
	ExecutorRunID string            `json:"executor_run_id,omitempty"`
	Artifact      string            `json:"artifact,omitempty"`
	Validation    *ValidationResult `json:"validation,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// Config holds orchestrator tuning.
type Config struct {
	Retry retry.Policy
	// BrowserEngine is forwarded to the browser backend's engine field.
	BrowserEngine string
}

// Orchestrator composes the store, policy gate, model router, memory,
// and executors into the mission run loop. It is safe to invoke
// concurrently for distinct runs; each RunMission call owns its run's
// state exclusively.
type Orchestrator struct {
	cfg       Config
	store     *store.Store
	gate      *policy.Gate
	newRouter RouterFactory
	executors map[string]executor.Executor
	recorder  *telemetry.Recorder
	ws        *workspace.Workspace
	stream    StreamFn
	logger    *zap.Logger
}

// New builds an Orchestrator. Executors are registered separately.
func New(cfg Config, st *store.Store, gate *policy.Gate, newRouter RouterFactory, recorder *telemetry.Recorder, ws *workspace.Workspace, logger *zap.Logger) *Orchestrator {
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	if cfg.BrowserEngine == "" {
		cfg.BrowserEngine = RuntimeBrowser
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		cfg:       cfg,
		store:     st,
		gate:      gate,
		newRouter: newRouter,
		executors: make(map[string]executor.Executor),
		recorder:  recorder,
		ws:        ws,
		logger:    logger,
	}
	o.stream = func(event string, payload map[string]any) {
		logger.Info("stream event", zap.String("event", event), zap.Any("payload", payload))
	}
	return o
}

// RegisterExecutor adds an execution runtime, keyed by its name.
func (o *Orchestrator) RegisterExecutor(ex executor.Executor) {
	o.executors[ex.Runtime()] = ex
}

// OnStream replaces the progress stream hook.
func (o *Orchestrator) OnStream(fn StreamFn) {
	if fn != nil {
		o.stream = fn
	}
}

// RunMission persists the mission, creates and enqueues its run, claims
// the queue job, and executes the run to a terminal state. The claimed
// job is acknowledged on every exit path.
func (o *Orchestrator) RunMission(ctx context.Context, mission *store.Mission) (*Outcome, error) {
	run := &store.Run{
		ID:        "run-" + uuid.NewString()[:8],
		MissionID: mission.ID,
		State:     state.Created,
		CreatedAt: time.Now().UTC(),
	}
	ctx = logging.WithMissionID(logging.WithRunID(ctx, run.ID), mission.ID)

	if err := o.store.SaveMission(mission); err != nil {
		return nil, err
	}
	if err := o.store.SaveRun(run); err != nil {
		return nil, err
	}
	if err := o.store.SetRunControl(run.ID, store.ControlActive); err != nil {
		return nil, err
	}
	if err := o.store.Enqueue(run.ID, missionPayload(mission)); err != nil {
		return nil, err
	}
	o.stream("progress", map[string]any{"run_id": run.ID, "state": string(run.State)})

	job, err := o.store.Dequeue()
	if err != nil {
		return nil, fmt.Errorf("claiming queue job: %w", err)
	}
	defer func() {
		if ackErr := o.store.Ack(job.ID); ackErr != nil {
			o.logger.Error("failed to ack queue job", append(logging.ContextFields(ctx), zap.Uint("job_id", job.ID), zap.Error(ackErr))...)
		}
	}()

	return o.executeRun(ctx, run, mission)
}

func (o *Orchestrator) executeRun(ctx context.Context, run *store.Run, mission *store.Mission) (*Outcome, error) {
	paths, err := o.ws.InitRun(run.ID)
	if err != nil {
		return nil, err
	}
	if err := o.ws.WriteJSON(filepath.Join(paths.Inputs, "mission.json"), mission); err != nil {
		o.logger.Warn("failed to mirror mission input", append(logging.ContextFields(ctx), zap.Error(err))...)
	}

	// Pre-planning escalation: flagged domains go straight to review,
	// consuming no budget and no attempts.
	if o.gate.RequiresHumanReview(mission) {
		run.State = state.HumanReview
		if err := o.store.SaveRun(run); err != nil {
			return nil, err
		}
		o.observeTerminal(run, 0)
		return &Outcome{RunID: run.ID, State: run.State, Reason: "domain requires human review"}, nil
	}

	runtime := selectRuntime(mission)
	if err := o.gate.CheckPermissions(mission, []string{requiredPermission(runtime)}); err != nil {
		return nil, err
	}

	if run.State, err = state.Transition(run.State, state.Planned); err != nil {
		return nil, err
	}
	if err := o.store.SaveRun(run); err != nil {
		return nil, err
	}

	episodic, err := o.store.RecentEpisodic(mission.Domain, episodicFetchLimit)
	if err != nil {
		return nil, err
	}
	semantic, err := o.store.RecentSemantic(mission.Domain, semanticFetchLimit)
	if err != nil {
		return nil, err
	}
	retrieved := memory.SemanticRank(mission.Objective, semantic, semanticRankTop)

	rtr := o.newRouter(mission)

	planPrompt := fmt.Sprintf(
		"You are planner. Runtime=%s. Objective: %s\nPrior failures summary: %s\nRelevant memory: %s\nReturn concise numbered plan + success criteria.",
		runtime, mission.Objective, memory.EpisodicSummary(episodic, episodicTokenLimit), strings.Join(retrieved, "; "))
	plan, err := rtr.Complete(ctx, "planner", planPrompt)
	if err != nil {
		// Planning failures happen before the loop's own error
		// handling; budget and fallback errors surface to the caller.
		return nil, fmt.Errorf("planning: %w", err)
	}
	if err := o.store.PushEpisodic(mission.Domain, "plan:"+truncate(plan, planMemoryTruncate)); err != nil {
		return nil, err
	}

	if run.State, err = state.Transition(run.State, state.Executing); err != nil {
		return nil, err
	}
	if err := o.saveRun(run, rtr); err != nil {
		return nil, err
	}

	return o.runLoop(ctx, run, mission, rtr, paths, runtime, plan)
}

// runLoop is the bounded execute -> validate -> retry loop. Each
// iteration starts with a cooperative pause check; in-flight executor
// and model calls always complete before a pause is honored.
func (o *Orchestrator) runLoop(ctx context.Context, run *store.Run, mission *store.Mission, rtr *router.Router, paths workspace.RunPaths, runtime, plan string) (*Outcome, error) {
	for i := 1; i <= mission.MaxSteps; i++ {
		ctl, err := o.store.GetRunControl(run.ID)
		if err != nil {
			o.logger.Warn("run control read failed, assuming active", append(logging.ContextFields(ctx), zap.Error(err))...)
			ctl = store.ControlActive
		}
		if ctl == store.ControlPaused {
			run.State = state.HumanReview
			if err := o.saveRun(run, rtr); err != nil {
				return nil, err
			}
			o.observeTerminal(run, rtr.Spent())
			o.stream("progress", map[string]any{"run_id": run.ID, "state": string(run.State), "reason": "paused by operator"})
			return &Outcome{RunID: run.ID, State: run.State, Reason: "paused by operator"}, nil
		}

		run.Attempt = i
		execStep := &store.Step{
			ID:     fmt.Sprintf("step-%d-executor", i),
			RunID:  run.ID,
			Role:   runtime + "_executor",
			Action: runtime + ".execute",
			Input:  map[string]any{"objective": mission.Objective, "iteration": i, "runtime": runtime},
			State:  store.StepPending,
		}
		stepCtx := logging.WithStepID(ctx, execStep.ID)
		start := time.Now()

		result, artifact, iterErr := o.executeStep(stepCtx, run, mission, runtime, i, execStep.ID)

		var validation ValidationResult
		if iterErr == nil {
			execStep.Output = map[string]any(result)
			execStep.State = store.StepOK
			execStep.DurationMS = time.Since(start).Milliseconds()
			if err := o.store.SaveStep(execStep); err != nil {
				return nil, err
			}
			if err := o.store.SaveArtifact(artifact); err != nil {
				return nil, err
			}
			if err := o.ws.WriteJSON(filepath.Join(paths.Artifacts, execStep.ID+".json"), result); err != nil {
				o.logger.Warn("failed to mirror executor result", append(logging.ContextFields(stepCtx), zap.Error(err))...)
			}
			o.recorder.Record(&store.TelemetryEvent{
				RunID: run.ID, StepID: execStep.ID,
				Name: runtime + "_call_ms", Value: float64(execStep.DurationMS),
				Tags: map[string]string{"iteration": fmt.Sprint(i), "run_state": string(run.State), "runtime": runtime},
			})
			o.recorder.Metrics().StepDuration.WithLabelValues(execStep.Role, runtime).Observe(time.Since(start).Seconds())

			if run.State, iterErr = state.Transition(run.State, state.Validating); iterErr == nil {
				if err := o.saveRun(run, rtr); err != nil {
					return nil, err
				}
				validation, iterErr = o.validateStep(stepCtx, run, mission, rtr, paths, runtime, plan, i, result)
			}
		}

		if iterErr != nil {
			var ite *state.InvalidTransitionError
			if errors.As(iterErr, &ite) {
				// Programming-error class: fail the run, never retry.
				run.State = state.Failed
				if err := o.saveRun(run, rtr); err != nil {
					return nil, err
				}
				o.observeTerminal(run, rtr.Spent())
				return &Outcome{RunID: run.ID, State: run.State, Error: iterErr.Error()}, nil
			}

			// Executors may hand back a trace artifact alongside the
			// error; keep it for debugging the failed attempt.
			if artifact != nil {
				if err := o.store.SaveArtifact(artifact); err != nil {
					return nil, err
				}
			}

			class := retry.Classify(iterErr)
			execStep.State = store.StepError
			execStep.ErrorType = class
			execStep.DurationMS = time.Since(start).Milliseconds()
			if err := o.store.SaveStep(execStep); err != nil {
				return nil, err
			}
			o.recorder.Record(&store.TelemetryEvent{
				RunID: run.ID, StepID: execStep.ID,
				Name: "step_error", Value: 1,
				Tags: map[string]string{"type": string(class), "runtime": runtime},
			})
			o.recorder.Metrics().StepErrors.WithLabelValues(string(class)).Inc()
			o.logger.Warn("step failed", append(logging.ContextFields(stepCtx),
				zap.String("class", string(class)), zap.Error(iterErr))...)

			if class.Fatal() || i >= o.cfg.Retry.MaxAttempts {
				run.State = state.Failed
				if err := o.saveRun(run, rtr); err != nil {
					return nil, err
				}
				o.observeTerminal(run, rtr.Spent())
				return &Outcome{RunID: run.ID, State: run.State, Error: string(class)}, nil
			}
			if err := o.cfg.Retry.Sleep(ctx, i); err != nil {
				return nil, err
			}
			continue
		}

		if validation.Passed {
			var err error
			if run.State, err = state.Transition(run.State, state.Completed); err != nil {
				return nil, err
			}
			if err := o.saveRun(run, rtr); err != nil {
				return nil, err
			}
			outcome := &Outcome{
				RunID:         run.ID,
				State:         run.State,
				Step:          i,
				Runtime:       runtime,
				ExecutorRunID: executorRunID(result),
				Artifact:      artifact.Path,
				Validation:    &validation,
			}
			if err := o.ws.WriteJSON(filepath.Join(paths.Outputs, "result.json"), outcome); err != nil {
				o.logger.Warn("failed to mirror outcome", append(logging.ContextFields(stepCtx), zap.Error(err))...)
			}
			o.observeTerminal(run, rtr.Spent())
			o.stream("progress", map[string]any{"run_id": run.ID, "state": string(run.State), "step": i, "runtime": runtime})
			return outcome, nil
		}

		if run.State, err = state.Transition(run.State, state.Retrying); err != nil {
			return nil, err
		}
		if err := o.saveRun(run, rtr); err != nil {
			return nil, err
		}
		if err := o.store.PushEpisodic(mission.Domain, "failure:"+validation.Reason); err != nil {
			return nil, err
		}
		o.stream("progress", map[string]any{"run_id": run.ID, "state": string(run.State), "reason": validation.Reason})

		if i >= o.cfg.Retry.MaxAttempts {
			if run.State, err = state.Transition(run.State, state.HumanReview); err != nil {
				return nil, err
			}
			if err := o.saveRun(run, rtr); err != nil {
				return nil, err
			}
			o.observeTerminal(run, rtr.Spent())
			return &Outcome{RunID: run.ID, State: run.State, Reason: validation.Reason}, nil
		}

		if run.State, err = state.Transition(run.State, state.Executing); err != nil {
			return nil, err
		}
		if err := o.saveRun(run, rtr); err != nil {
			return nil, err
		}
		if err := o.cfg.Retry.Sleep(ctx, i); err != nil {
			return nil, err
		}
	}

	run.State = state.Failed
	if err := o.saveRun(run, rtr); err != nil {
		return nil, err
	}
	o.observeTerminal(run, rtr.Spent())
	return &Outcome{RunID: run.ID, State: run.State, Error: "max steps exceeded"}, nil
}

// executeStep dispatches one iteration to the selected runtime's
// executor.
func (o *Orchestrator) executeStep(ctx context.Context, run *store.Run, mission *store.Mission, runtime string, iteration int, stepID string) (executor.Result, *store.Artifact, error) {
	ex, ok := o.executors[runtime]
	if !ok {
		return nil, nil, fmt.Errorf("no executor registered for runtime %q", runtime)
	}

	if runtime == RuntimeDesktop {
		return ex.Execute(ctx, run.ID, stepID, "operate", map[string]any{
			"prompt":    mission.Objective,
			"iteration": iteration,
		})
	}

	payload := map[string]any{
		"prompt": mission.Objective,
		"engine": o.cfg.BrowserEngine,
		"metadata": map[string]any{
			"run_id":    run.ID,
			"iteration": iteration,
			"runtime":   runtime,
		},
	}
	if mission.Metadata != nil {
		if url, ok := mission.Metadata["url"].(string); ok && url != "" {
			payload["url"] = url
		}
	}
	return ex.Execute(ctx, run.ID, stepID, runtime+".execute", payload)
}

// validateStep asks the validator role to judge an execution result,
// persists the validator step, and feeds the verdict into semantic
// memory.
func (o *Orchestrator) validateStep(ctx context.Context, run *store.Run, mission *store.Mission, rtr *router.Router, paths workspace.RunPaths, runtime, plan string, iteration int, result executor.Result) (ValidationResult, error) {
	valStep := &store.Step{
		ID:     fmt.Sprintf("step-%d-validator", iteration),
		RunID:  run.ID,
		Role:   "validator",
		Action: "validate.execution",
		Input:  map[string]any{"plan": plan, "execution_result": map[string]any(result), "runtime": runtime},
		State:  store.StepPending,
	}
	start := time.Now()

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("encoding execution result for validation: %w", err)
	}
	prompt := fmt.Sprintf(
		"Return strict JSON only: {passed:boolean,reason:string,next_action:string}.\nPlan:%s\nRuntime:%s\nExecution:%s",
		plan, runtime, truncate(string(resultJSON), validatorInputLimit))

	raw, err := rtr.Complete(ctx, "validator", prompt)
	if err != nil {
		return ValidationResult{}, err
	}
	parsed := parseValidation(raw)

	valStep.Output = map[string]any{"raw": raw, "parsed": parsed}
	valStep.State = store.StepOK
	valStep.DurationMS = time.Since(start).Milliseconds()
	if err := o.store.SaveStep(valStep); err != nil {
		return ValidationResult{}, err
	}
	if err := o.ws.WriteJSON(filepath.Join(paths.Logs, valStep.ID+".json"), valStep.Output); err != nil {
		o.logger.Warn("failed to mirror validator output", append(logging.ContextFields(ctx), zap.Error(err))...)
	}
	o.recorder.Record(&store.TelemetryEvent{
		RunID: run.ID, StepID: valStep.ID,
		Name: "validation_ms", Value: float64(valStep.DurationMS),
		Tags: map[string]string{"passed": fmt.Sprint(parsed.Passed), "iteration": fmt.Sprint(iteration), "runtime": runtime},
	})
	o.recorder.Metrics().StepDuration.WithLabelValues(valStep.Role, runtime).Observe(time.Since(start).Seconds())

	if err := o.store.PushSemantic(mission.Domain, truncate(string(resultJSON), resultMemoryLimit), runtime+"-result"); err != nil {
		return ValidationResult{}, err
	}
	return parsed, nil
}

// saveRun persists the run with its spend snapshot.
func (o *Orchestrator) saveRun(run *store.Run, rtr *router.Router) error {
	run.CostUSD = rtr.Spent()
	return o.store.SaveRun(run)
}

// observeTerminal updates the terminal-state metrics for a run.
func (o *Orchestrator) observeTerminal(run *store.Run, spentUSD float64) {
	o.recorder.Metrics().RunsTotal.WithLabelValues(string(run.State)).Inc()
	if spentUSD > 0 {
		o.recorder.Metrics().ModelSpend.Add(spentUSD)
	}
}

func executorRunID(result executor.Result) string {
	for _, key := range []string{"run_id", "task_id"} {
		if v, ok := result[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func missionPayload(mission *store.Mission) map[string]any {
	data, err := json.Marshal(mission)
	if err != nil {
		return map[string]any{"id": mission.ID}
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return map[string]any{"id": mission.ID}
	}
	return payload
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
