package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/missiond/internal/executor"
	"github.com/fyrsmithlabs/missiond/internal/policy"
	"github.com/fyrsmithlabs/missiond/internal/retry"
	"github.com/fyrsmithlabs/missiond/internal/router"
	"github.com/fyrsmithlabs/missiond/internal/state"
	"github.com/fyrsmithlabs/missiond/internal/store"
	"github.com/fyrsmithlabs/missiond/internal/telemetry"
	"github.com/fyrsmithlabs/missiond/internal/workspace"
)

// scriptedCompleter answers by prompt shape: planner prompts get a plan,
// validator prompts get the configured verdict JSON.
type scriptedCompleter struct {
	mu         sync.Mutex
	verdict    string
	plannerErr error
	calls      int
}

func (s *scriptedCompleter) Complete(_ context.Context, _, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if strings.HasPrefix(prompt, "Return strict JSON only") {
		return s.verdict, nil
	}
	if s.plannerErr != nil {
		return "", s.plannerErr
	}
	return "1. gather sources 2. summarize. Success: summary written.", nil
}

type testHarness struct {
	orch  *Orchestrator
	store *store.Store
	tmp   string
}

func newHarness(t *testing.T, p retry.Policy, routerCfg router.Config, completer router.Completer) *testHarness {
	t.Helper()
	tmp := t.TempDir()

	st, err := store.Open(filepath.Join(tmp, "missiond.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	factory := func(mission *store.Mission) *router.Router {
		cfg := routerCfg
		if mission.BudgetUSD > 0 && mission.BudgetUSD < cfg.BudgetUSD {
			cfg.BudgetUSD = mission.BudgetUSD
		}
		return router.NewWithCompleter(cfg, completer, zap.NewNop())
	}
	rec := telemetry.NewRecorder(st, telemetry.NewMetrics(), zap.NewNop())
	ws := workspace.New(filepath.Join(tmp, "runs"))

	orch := New(Config{Retry: p}, st, policy.NewGate(), factory, rec, ws, zap.NewNop())
	orch.RegisterExecutor(executor.NewBrowser(executor.BrowserConfig{
		DryRun:      true,
		ArtifactDir: filepath.Join(tmp, "artifacts"),
	}))
	orch.RegisterExecutor(executor.NewDesktop(executor.DesktopConfig{
		DryRun:      true,
		ArtifactDir: filepath.Join(tmp, "artifacts"),
	}))
	return &testHarness{orch: orch, store: st, tmp: tmp}
}

func fastRetry() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func testMission(objective string) *store.Mission {
	return &store.Mission{
		ID:          "mission-" + fmt.Sprint(time.Now().UnixNano()),
		Objective:   objective,
		Domain:      "general",
		Permissions: []string{"web.browse", "workspace.read", "workspace.write", "desktop.control"},
		BudgetUSD:   2.0,
		MaxSteps:    2,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestRunMission_DryRunCompletes(t *testing.T) {
	h := newHarness(t, fastRetry(), router.Config{BudgetUSD: 2.0, DryRun: true}, nil)

	outcome, err := h.orch.RunMission(context.Background(), testMission("Research test objective"))
	require.NoError(t, err)

	assert.Equal(t, state.Completed, outcome.State)
	assert.Equal(t, 1, outcome.Step)
	assert.Equal(t, "browser", outcome.Runtime)
	assert.Equal(t, "dry-step-1-executor", outcome.ExecutorRunID)
	require.NotNil(t, outcome.Validation)
	assert.True(t, outcome.Validation.Passed)

	run, err := h.store.GetRun(outcome.RunID)
	require.NoError(t, err)
	assert.Equal(t, state.Completed, run.State)
	assert.Greater(t, run.CostUSD, 0.0)

	steps, err := h.store.StepsForRun(outcome.RunID)
	require.NoError(t, err)
	roles := make(map[string]string, len(steps))
	for _, s := range steps {
		roles[s.ID] = s.Role
	}
	assert.Equal(t, "browser_executor", roles["step-1-executor"])
	assert.Equal(t, "validator", roles["step-1-validator"])

	_, err = os.Stat(outcome.Artifact)
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(h.tmp, "runs", outcome.RunID, "outputs", "result.json"))
	assert.NoError(t, err)
}

func TestRunMission_DesktopKeywordRouting(t *testing.T) {
	h := newHarness(t, fastRetry(), router.Config{BudgetUSD: 2.0, DryRun: true}, nil)

	outcome, err := h.orch.RunMission(context.Background(), testMission("Open Excel and update spreadsheet totals"))
	require.NoError(t, err)

	assert.Equal(t, state.Completed, outcome.State)
	assert.Equal(t, "desktop", outcome.Runtime)

	steps, err := h.store.StepsForRun(outcome.RunID)
	require.NoError(t, err)
	require.NotEmpty(t, steps)
	found := false
	for _, s := range steps {
		if s.ID == "step-1-executor" {
			found = true
			assert.Equal(t, "desktop_executor", s.Role)
			assert.Equal(t, "desktop.execute", s.Action)
		}
	}
	assert.True(t, found)
}

func TestRunMission_MetadataRuntimeOverride(t *testing.T) {
	h := newHarness(t, fastRetry(), router.Config{BudgetUSD: 2.0, DryRun: true}, nil)

	mission := testMission("Research test objective")
	mission.Metadata = map[string]any{"runtime": "desktop"}

	outcome, err := h.orch.RunMission(context.Background(), mission)
	require.NoError(t, err)
	assert.Equal(t, "desktop", outcome.Runtime)
}

func TestRunMission_PauseBeforeFirstStep(t *testing.T) {
	h := newHarness(t, fastRetry(), router.Config{BudgetUSD: 2.0, DryRun: true}, nil)

	// Pause via the control channel as soon as the run is announced,
	// before the loop's first iteration checks it.
	var once sync.Once
	h.orch.OnStream(func(_ string, payload map[string]any) {
		once.Do(func() {
			runID, _ := payload["run_id"].(string)
			require.NoError(t, h.store.SetRunControl(runID, store.ControlPaused))
		})
	})

	outcome, err := h.orch.RunMission(context.Background(), testMission("Research test objective"))
	require.NoError(t, err)

	assert.Equal(t, state.HumanReview, outcome.State)
	assert.Equal(t, "paused by operator", outcome.Reason)

	steps, err := h.store.StepsForRun(outcome.RunID)
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestRunMission_FlaggedDomainGoesToReview(t *testing.T) {
	h := newHarness(t, fastRetry(), router.Config{BudgetUSD: 2.0, DryRun: true}, nil)

	mission := testMission("Rebalance the brokerage portfolio")
	mission.Domain = "finance"

	outcome, err := h.orch.RunMission(context.Background(), mission)
	require.NoError(t, err)

	assert.Equal(t, state.HumanReview, outcome.State)
	assert.Equal(t, "domain requires human review", outcome.Reason)

	run, err := h.store.GetRun(outcome.RunID)
	require.NoError(t, err)
	assert.Equal(t, state.HumanReview, run.State)
	assert.Zero(t, run.CostUSD)

	steps, err := h.store.StepsForRun(outcome.RunID)
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestRunMission_MissingPermissionRejected(t *testing.T) {
	h := newHarness(t, fastRetry(), router.Config{BudgetUSD: 2.0, DryRun: true}, nil)

	mission := testMission("Research test objective")
	mission.Permissions = []string{"workspace.read"}

	outcome, err := h.orch.RunMission(context.Background(), mission)
	require.Error(t, err)
	assert.Nil(t, outcome)

	var violation *policy.ViolationError
	require.ErrorAs(t, err, &violation)
	assert.Contains(t, violation.Missing, "web.browse")
}

func TestRunMission_ValidationFailureEscalatesToReview(t *testing.T) {
	completer := &scriptedCompleter{
		verdict: `{"passed": false, "reason": "summary missing totals", "next_action": "retry"}`,
	}
	p := retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	h := newHarness(t, p, router.Config{BudgetUSD: 2.0}, completer)

	mission := testMission("Research test objective")
	mission.MaxSteps = 5

	outcome, err := h.orch.RunMission(context.Background(), mission)
	require.NoError(t, err)

	assert.Equal(t, state.HumanReview, outcome.State)
	assert.Equal(t, "summary missing totals", outcome.Reason)

	steps, err := h.store.StepsForRun(outcome.RunID)
	require.NoError(t, err)
	ids := make([]string, 0, len(steps))
	for _, s := range steps {
		ids = append(ids, s.ID)
	}
	assert.Contains(t, ids, "step-1-executor")
	assert.Contains(t, ids, "step-1-validator")
	assert.Contains(t, ids, "step-2-executor")
	assert.Contains(t, ids, "step-2-validator")
	assert.NotContains(t, ids, "step-3-executor")
}

func TestRunMission_PlanningBudgetExceeded(t *testing.T) {
	// Budget below the cost floor rejects the planning call before any
	// model traffic.
	h := newHarness(t, fastRetry(), router.Config{BudgetUSD: 0.0001, DryRun: true}, nil)

	outcome, err := h.orch.RunMission(context.Background(), testMission("Research test objective"))
	require.Error(t, err)
	assert.Nil(t, outcome)

	var budgetErr *router.BudgetExceededError
	assert.ErrorAs(t, err, &budgetErr)
}

func TestRunMission_ExecutorNetworkErrorExhaustsRetries(t *testing.T) {
	completer := &scriptedCompleter{verdict: `{"passed": true, "reason": "ok", "next_action": "none"}`}
	p := retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	h := newHarness(t, p, router.Config{BudgetUSD: 2.0}, completer)

	// Point the browser executor at a dead endpoint so every attempt
	// fails at the transport layer.
	h.orch.RegisterExecutor(executor.NewBrowser(executor.BrowserConfig{
		BaseURL:     "http://127.0.0.1:1",
		ArtifactDir: filepath.Join(h.tmp, "artifacts"),
		Timeout:     time.Second,
	}))

	mission := testMission("Research test objective")
	mission.MaxSteps = 5

	outcome, err := h.orch.RunMission(context.Background(), mission)
	require.NoError(t, err)

	assert.Equal(t, state.Failed, outcome.State)
	assert.Equal(t, string(retry.ClassNetworkError), outcome.Error)

	steps, err := h.store.StepsForRun(outcome.RunID)
	require.NoError(t, err)
	var errored int
	for _, s := range steps {
		if s.State == store.StepError {
			errored++
			assert.Equal(t, retry.ClassNetworkError, s.ErrorType)
		}
	}
	assert.Equal(t, 2, errored)
}

func TestRunMission_MissingExecutorFailsAfterRetries(t *testing.T) {
	completer := &scriptedCompleter{verdict: `{"passed": true, "reason": "ok", "next_action": "none"}`}
	p := retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	h := newHarness(t, p, router.Config{BudgetUSD: 2.0}, completer)
	delete(h.orch.executors, "browser")

	mission := testMission("Research test objective")
	mission.MaxSteps = 5

	outcome, err := h.orch.RunMission(context.Background(), mission)
	require.NoError(t, err)
	assert.Equal(t, state.Failed, outcome.State)
	assert.Equal(t, string(retry.ClassToolError), outcome.Error)
}

func TestRunMission_MaxStepsExceededFails(t *testing.T) {
	completer := &scriptedCompleter{
		verdict: `{"passed": false, "reason": "still incomplete", "next_action": "retry"}`,
	}
	// More attempts than steps: the step cap terminates the loop first.
	p := retry.Policy{MaxAttempts: 10, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	h := newHarness(t, p, router.Config{BudgetUSD: 2.0}, completer)

	mission := testMission("Research test objective")
	mission.MaxSteps = 2

	outcome, err := h.orch.RunMission(context.Background(), mission)
	require.NoError(t, err)
	assert.Equal(t, state.Failed, outcome.State)
	assert.Equal(t, "max steps exceeded", outcome.Error)
}

func TestRunMission_QueueJobAcked(t *testing.T) {
	h := newHarness(t, fastRetry(), router.Config{BudgetUSD: 2.0, DryRun: true}, nil)

	_, err := h.orch.RunMission(context.Background(), testMission("Research test objective"))
	require.NoError(t, err)

	_, err = h.store.Dequeue()
	assert.True(t, errors.Is(err, store.ErrEmptyQueue))
}

func TestRunMission_SpendRecordedOnRun(t *testing.T) {
	h := newHarness(t, fastRetry(), router.Config{BudgetUSD: 2.0, DryRun: true}, nil)

	outcome, err := h.orch.RunMission(context.Background(), testMission("Research test objective"))
	require.NoError(t, err)

	run, err := h.store.GetRun(outcome.RunID)
	require.NoError(t, err)
	// Dry runs still accrue estimated spend: one planner call plus one
	// validator call, each at least the cost floor.
	assert.GreaterOrEqual(t, run.CostUSD, 2*0.0002)
	assert.Less(t, run.CostUSD, 2.0)
}
