// Package main implements the missiond daemon and CLI.
//
// missiond orchestrates missions: it plans an objective with a model,
// dispatches execution to a browser or desktop automation runtime,
// validates the result, and retries with bounded backoff until the run
// reaches a terminal state.
//
// Usage:
//
//	# Start the HTTP server
//	missiond serve
//
//	# Run a single mission from the command line
//	missiond run "Research GPU pricing across cloud providers"
//
//	# Simulate everything, no model or runtime traffic
//	missiond run --dry-run "Open Excel and update spreadsheet totals"
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/missiond/internal/config"
	"github.com/fyrsmithlabs/missiond/internal/executor"
	httpapi "github.com/fyrsmithlabs/missiond/internal/http"
	"github.com/fyrsmithlabs/missiond/internal/logging"
	"github.com/fyrsmithlabs/missiond/internal/orchestrator"
	"github.com/fyrsmithlabs/missiond/internal/policy"
	"github.com/fyrsmithlabs/missiond/internal/router"
	"github.com/fyrsmithlabs/missiond/internal/store"
	"github.com/fyrsmithlabs/missiond/internal/telemetry"
	"github.com/fyrsmithlabs/missiond/internal/workspace"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

var (
	configPath string
	dryRun     bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "missiond",
	Short:   "Mission orchestration daemon",
	Long:    "missiond plans, executes, and validates missions against browser and desktop automation runtimes.",
	Version: fmt.Sprintf("%s (%s)", version, gitCommit),
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "simulate model and runtime calls")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the missiond HTTP server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

var runCmd = &cobra.Command{
	Use:   "run [objective...]",
	Short: "Run a single mission and print its outcome",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd.Context(), strings.Join(args, " "))
	},
}

var (
	missionDomain      string
	missionBudget      float64
	missionMaxSteps    int
	missionRuntime     string
	missionPermissions []string
)

func init() {
	runCmd.Flags().StringVar(&missionDomain, "domain", "", "mission domain (default from config)")
	runCmd.Flags().Float64Var(&missionBudget, "budget", 0, "per-run model budget in USD (default from config)")
	runCmd.Flags().IntVar(&missionMaxSteps, "max-steps", 0, "maximum run loop iterations (default from config)")
	runCmd.Flags().StringVar(&missionRuntime, "runtime", "", "force runtime selection (browser or desktop)")
	runCmd.Flags().StringSliceVar(&missionPermissions, "permission", nil, "granted permission, repeatable (default from config)")
}

// artifactDir keeps each runtime's raw trace files in its own subtree
// so they never collide with the per-run directories under the root.
func artifactDir(root, runtime string) string {
	return filepath.Join(root, "artifacts", runtime)
}

// deps holds the wired service graph shared by serve and run.
type deps struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
	orch   *orchestrator.Orchestrator
	rec    *telemetry.Recorder
}

func (d *deps) close() {
	if d.store != nil {
		_ = d.store.Close()
	}
	if d.logger != nil {
		_ = d.logger.Sync()
	}
}

func build() (*deps, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, err
	}
	if dryRun {
		cfg.Router.DryRun = true
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		logger.Sync()
		return nil, fmt.Errorf("opening store: %w", err)
	}

	rec := telemetry.NewRecorder(st, telemetry.NewMetrics(), logger)

	routerCfg := cfg.Router
	newRouter := func(mission *store.Mission) *router.Router {
		budget := routerCfg.BudgetUSD
		if mission.BudgetUSD > 0 && mission.BudgetUSD < budget {
			budget = mission.BudgetUSD
		}
		return router.New(router.Config{
			BaseURL:           routerCfg.BaseURL,
			APIKey:            routerCfg.APIKey.Value(),
			BudgetUSD:         budget,
			RequestsPerSecond: routerCfg.RequestsPerSecond,
			DryRun:            routerCfg.DryRun,
		}, logger)
	}

	orch := orchestrator.New(
		orchestrator.Config{Retry: cfg.Retry.Policy(), BrowserEngine: cfg.Browser.Engine},
		st,
		policy.NewGate(),
		newRouter,
		rec,
		workspace.New(cfg.Workspace.Root),
		logger,
	)
	orch.RegisterExecutor(executor.NewBrowser(executor.BrowserConfig{
		BaseURL:      cfg.Browser.BaseURL,
		TaskEndpoint: cfg.Browser.TaskEndpoint,
		APIKey:       cfg.Browser.APIKey.Value(),
		ArtifactDir:  artifactDir(cfg.Workspace.Root, "browser"),
		Timeout:      cfg.Browser.Timeout,
		DryRun:       cfg.Router.DryRun,
	}))
	orch.RegisterExecutor(executor.NewDesktop(executor.DesktopConfig{
		BaseURL:     cfg.Desktop.BaseURL,
		ArtifactDir: artifactDir(cfg.Workspace.Root, "desktop"),
		Timeout:     cfg.Desktop.Timeout,
		DryRun:      cfg.Router.DryRun,
	}))

	return &deps{cfg: cfg, logger: logger, store: st, orch: orch, rec: rec}, nil
}

func serve(ctx context.Context) error {
	d, err := build()
	if err != nil {
		return err
	}
	defer d.close()

	srv, err := httpapi.NewServer(d.orch, d.store, d.rec.Metrics(), d.cfg.Mission, d.logger, d.cfg.Server.Listen)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	d.logger.Info("missiond started",
		zap.String("addr", d.cfg.Server.Listen),
		zap.String("version", version),
		zap.Bool("dry_run", d.cfg.Router.DryRun))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runOnce(ctx context.Context, objective string) error {
	d, err := build()
	if err != nil {
		return err
	}
	defer d.close()

	mission := &store.Mission{
		ID:          "mission-" + uuid.NewString()[:8],
		Objective:   objective,
		Domain:      missionDomain,
		Permissions: missionPermissions,
		BudgetUSD:   missionBudget,
		MaxSteps:    missionMaxSteps,
		CreatedAt:   time.Now().UTC(),
	}
	if mission.Domain == "" {
		mission.Domain = d.cfg.Mission.Domain
	}
	if len(mission.Permissions) == 0 {
		mission.Permissions = append([]string(nil), d.cfg.Mission.Permissions...)
	}
	if mission.BudgetUSD == 0 {
		mission.BudgetUSD = d.cfg.Mission.BudgetUSD
	}
	if mission.MaxSteps == 0 {
		mission.MaxSteps = d.cfg.Mission.MaxSteps
	}
	if missionRuntime != "" {
		if mission.Metadata == nil {
			mission.Metadata = map[string]any{}
		}
		mission.Metadata["runtime"] = missionRuntime
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	outcome, err := d.orch.RunMission(ctx, mission)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(outcome, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
