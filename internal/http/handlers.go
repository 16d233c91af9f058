package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nbpilot/internal/checkpoint"
	"github.com/fyrsmithlabs/nbpilot/internal/orchestrator"
)

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleSubmitTask starts a task in the background.
func (s *Server) handleSubmitTask(c echo.Context) error {
	var req SubmitTaskRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid task request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Task = strings.TrimSpace(req.Task)
	if req.Task == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task field is required")
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	ctx := c.Request().Context()
	if !s.busy.CompareAndSwap(false, true) {
		s.metrics.RecordSubmission(ctx, false)
		return echo.NewHTTPError(http.StatusConflict, orchestrator.ErrAlreadyRunning.Error())
	}
	s.metrics.RecordSubmission(ctx, true)

	task := orchestrator.TaskRequest{ID: req.ID, Task: req.Task}
	s.runs.Add(1)
	go s.run(task)

	return c.JSON(http.StatusAccepted, SubmitTaskResponse{TaskID: req.ID, Status: "accepted"})
}

func (s *Server) run(task orchestrator.TaskRequest) {
	defer s.runs.Done()
	defer s.busy.Store(false)

	result, err := s.engine.ExecuteTask(s.baseCtx, task, s.env, s.sink)
	if err != nil {
		s.logger.Error("task rejected", zap.String("task.id", task.ID), zap.Error(err))
		return
	}
	s.logger.Info("task finished",
		zap.String("task.id", task.ID),
		zap.String("status", string(result.Status)),
		zap.Int("replans", result.Replans),
	)
}

// handleCurrentTask returns the engine state.
func (s *Server) handleCurrentTask(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.Snapshot())
}

// handleProceed releases a manual-speed pause.
func (s *Server) handleProceed(c echo.Context) error {
	if !s.engine.Snapshot().Running {
		return echo.NewHTTPError(http.StatusConflict, "no task is running")
	}
	s.engine.Proceed()
	return c.NoContent(http.StatusAccepted)
}

// handleCancel requests cancellation of the running task.
func (s *Server) handleCancel(c echo.Context) error {
	if !s.engine.Snapshot().Running {
		return echo.NewHTTPError(http.StatusConflict, "no task is running")
	}
	s.engine.Cancel()
	return c.NoContent(http.StatusAccepted)
}

// handleSetSpeed changes the speed preset.
func (s *Server) handleSetSpeed(c echo.Context) error {
	var req SpeedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	speed, err := orchestrator.ParseSpeed(req.Speed)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.engine.SetSpeed(speed); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, SpeedResponse{Speed: speed})
}

// handleListCheckpoints lists checkpoints oldest first.
func (s *Server) handleListCheckpoints(c echo.Context) error {
	resp := CheckpointsResponse{Checkpoints: []CheckpointSummary{}}
	if s.checkpoints != nil {
		for _, cp := range s.checkpoints.List() {
			resp.Checkpoints = append(resp.Checkpoints, summarize(cp))
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// handleRollback restores the notebook to a step's checkpoint.
func (s *Server) handleRollback(c echo.Context) error {
	step, err := strconv.Atoi(c.Param("step"))
	if err != nil || step < 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "step must be a positive integer")
	}

	result, err := s.engine.RollbackTo(c.Request().Context(), step, s.env)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, result)
	case errors.Is(err, checkpoint.ErrCheckpointNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrAlreadyRunning):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, checkpoint.ErrNotebookUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("rollback failed", zap.Int("step", step), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "rollback failed")
	}
}
