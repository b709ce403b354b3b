// Package http provides the HTTP API for missiond.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/missiond/internal/config"
	"github.com/fyrsmithlabs/missiond/internal/orchestrator"
	"github.com/fyrsmithlabs/missiond/internal/policy"
	"github.com/fyrsmithlabs/missiond/internal/store"
	"github.com/fyrsmithlabs/missiond/internal/telemetry"
)

// MissionRunner drives a submitted mission to a terminal state.
type MissionRunner interface {
	RunMission(ctx context.Context, mission *store.Mission) (*orchestrator.Outcome, error)
}

// Server provides HTTP endpoints for missiond.
type Server struct {
	echo     *echo.Echo
	runner   MissionRunner
	store    *store.Store
	metrics  *telemetry.Metrics
	defaults config.MissionConfig
	logger   *zap.Logger
	listen   string
}

// NewServer creates the HTTP server over runner and st.
func NewServer(runner MissionRunner, st *store.Store, metrics *telemetry.Metrics, defaults config.MissionConfig, logger *zap.Logger, listen string) (*Server, error) {
	if runner == nil {
		return nil, errors.New("runner cannot be nil")
	}
	if st == nil {
		return nil, errors.New("store cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger is required for request tracking and debugging")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:     e,
		runner:   runner,
		store:    st,
		metrics:  metrics,
		defaults: defaults,
		logger:   logger,
		listen:   listen,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	v1 := s.echo.Group("/api/v1")
	v1.POST("/missions", s.handleCreateMission)
	v1.GET("/missions/:id", s.handleGetMission)
	v1.GET("/runs/:id", s.handleGetRun)
	v1.POST("/runs/:id/pause", s.handlePauseRun)
	v1.POST("/runs/:id/resume", s.handleResumeRun)
}

// CreateMissionRequest is the request body for POST /api/v1/missions.
type CreateMissionRequest struct {
	Objective   string         `json:"objective"`
	Domain      string         `json:"domain"`
	Permissions []string       `json:"permissions"`
	BudgetUSD   float64        `json:"budget_usd"`
	MaxSteps    int            `json:"max_steps"`
	Metadata    map[string]any `json:"metadata"`
}

// CreateMissionResponse is the response body for POST /api/v1/missions.
// Result is the terminal outcome of the mission's run.
type CreateMissionResponse struct {
	MissionID string                `json:"mission_id"`
	Result    *orchestrator.Outcome `json:"result"`
}

// MissionResponse is the response body for GET /api/v1/missions/:id.
type MissionResponse struct {
	Mission *store.Mission `json:"mission"`
	Runs    []store.Run    `json:"runs"`
}

// RunResponse is the response body for GET /api/v1/runs/:id.
type RunResponse struct {
	Run     *store.Run   `json:"run"`
	Steps   []store.Step `json:"steps"`
	Control string       `json:"control"`
}

// ControlResponse is the response body for the pause and resume
// endpoints.
type ControlResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleCreateMission accepts a mission, applies the configured
// defaults, and runs it to a terminal state before responding. Each
// request gets its own goroutine from the server, so concurrent
// submissions run concurrently; long missions hold their connection
// open until the outcome is known.
func (s *Server) handleCreateMission(c echo.Context) error {
	var req CreateMissionRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid mission request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Objective == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "objective field is required")
	}

	mission := &store.Mission{
		ID:          "mission-" + uuid.NewString()[:8],
		Objective:   req.Objective,
		Domain:      req.Domain,
		Permissions: req.Permissions,
		BudgetUSD:   req.BudgetUSD,
		MaxSteps:    req.MaxSteps,
		Metadata:    req.Metadata,
		CreatedAt:   time.Now().UTC(),
	}
	s.applyDefaults(mission)

	outcome, err := s.runner.RunMission(c.Request().Context(), mission)
	if err != nil {
		var violation *policy.ViolationError
		if errors.As(err, &violation) {
			return echo.NewHTTPError(http.StatusForbidden, violation.Error())
		}
		s.logger.Error("mission run failed",
			zap.String("mission_id", mission.ID),
			zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "mission run failed")
	}
	s.logger.Info("mission run finished",
		zap.String("mission_id", mission.ID),
		zap.String("run_id", outcome.RunID),
		zap.String("state", string(outcome.State)))

	return c.JSON(http.StatusOK, CreateMissionResponse{
		MissionID: mission.ID,
		Result:    outcome,
	})
}

func (s *Server) applyDefaults(m *store.Mission) {
	if m.Domain == "" {
		m.Domain = s.defaults.Domain
	}
	if len(m.Permissions) == 0 {
		m.Permissions = append([]string(nil), s.defaults.Permissions...)
	}
	if m.BudgetUSD == 0 {
		m.BudgetUSD = s.defaults.BudgetUSD
	}
	if m.MaxSteps == 0 {
		m.MaxSteps = s.defaults.MaxSteps
	}
}

func (s *Server) handleGetMission(c echo.Context) error {
	id := c.Param("id")
	mission, err := s.store.GetMission(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "mission not found")
		}
		s.logger.Error("loading mission", zap.String("mission_id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "loading mission")
	}
	runs, err := s.store.RunsForMission(id)
	if err != nil {
		s.logger.Error("loading mission runs", zap.String("mission_id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "loading mission runs")
	}
	return c.JSON(http.StatusOK, MissionResponse{Mission: mission, Runs: runs})
}

func (s *Server) handleGetRun(c echo.Context) error {
	id := c.Param("id")
	run, err := s.store.GetRun(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		s.logger.Error("loading run", zap.String("run_id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "loading run")
	}
	steps, err := s.store.StepsForRun(id)
	if err != nil {
		s.logger.Error("loading run steps", zap.String("run_id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "loading run steps")
	}
	control, err := s.store.GetRunControl(id)
	if err != nil {
		s.logger.Error("loading run control", zap.String("run_id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "loading run control")
	}
	return c.JSON(http.StatusOK, RunResponse{Run: run, Steps: steps, Control: control})
}

func (s *Server) handlePauseRun(c echo.Context) error {
	return s.setControl(c, store.ControlPaused)
}

func (s *Server) handleResumeRun(c echo.Context) error {
	return s.setControl(c, store.ControlActive)
}

func (s *Server) setControl(c echo.Context, status string) error {
	id := c.Param("id")
	if _, err := s.store.GetRun(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		s.logger.Error("loading run", zap.String("run_id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "loading run")
	}
	if err := s.store.SetRunControl(id, status); err != nil {
		s.logger.Error("setting run control", zap.String("run_id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "setting run control")
	}
	s.logger.Info("run control updated", zap.String("run_id", id), zap.String("status", status))
	return c.JSON(http.StatusOK, ControlResponse{RunID: id, Status: status})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.listen))
	return s.echo.Start(s.listen)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
