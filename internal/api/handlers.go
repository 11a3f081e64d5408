// Package api exposes the rule execution engine over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medofficehq/chargerules/internal/execution"
	"github.com/medofficehq/chargerules/internal/lib"
	"github.com/medofficehq/chargerules/internal/models"
	"github.com/medofficehq/chargerules/internal/rules"
	"github.com/medofficehq/chargerules/internal/services"
)

// Handler serves the rule execution endpoints.
type Handler struct {
	executor *execution.Executor
	registry *rules.Registry
	store    services.ResultStore
	logger   zerolog.Logger
}

// NewHandler wires the handler over its collaborators.
func NewHandler(executor *execution.Executor, registry *rules.Registry, store services.ResultStore, logger zerolog.Logger) *Handler {
	return &Handler{
		executor: executor,
		registry: registry,
		store:    store,
		logger:   lib.ComponentLogger(logger, "api"),
	}
}

// RegisterRoutes mounts the rule endpoints on the echo instance.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	group := e.Group("/api/rules")
	group.POST("/run", h.Run)
	group.GET("/list", h.List)
	group.GET("/progress/:execution_id", h.Progress)
	group.GET("/results/:execution_id", h.Results)
	group.GET("/runs", h.Runs)
	group.POST("/runs/:project_id/archive", h.Archive)
}

type runResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	ExecutionID string `json:"execution_id,omitempty"`
	ProjectID   string `json:"project_id,omitempty"`
}

// Run submits a rule execution. Validation failures still answer HTTP 200
// with success:false, which existing consumers depend on.
func (h *Handler) Run(c echo.Context) error {
	var request models.RunRequest
	if err := c.Bind(&request); err != nil {
		return c.JSON(http.StatusOK, runResponse{
			Success: false,
			Message: "invalid request body: " + err.Error(),
		})
	}

	result, err := h.executor.Submit(request)
	if err != nil {
		if lib.IsValidationError(err) {
			return c.JSON(http.StatusOK, runResponse{
				Success: false,
				Message: err.Error(),
			})
		}
		h.logger.Error().Err(err).Msg("run submission failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to submit run")
	}

	return c.JSON(http.StatusOK, runResponse{
		Success:     true,
		Message:     "execution started",
		ExecutionID: result.ExecutionID,
		ProjectID:   result.ProjectID,
	})
}

// List returns the registered rules.
func (h *Handler) List(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"rules": h.registry.List(),
	})
}

// Progress returns the pollable progress snapshot for one execution.
func (h *Handler) Progress(c echo.Context) error {
	executionID := c.Param("execution_id")

	progress, ok := h.executor.Tracker().GetProgress(executionID)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "execution not found")
	}

	return c.JSON(http.StatusOK, progress)
}

// Results returns the completed run for one execution. While the execution
// is still in flight it answers 202 so the caller keeps polling.
func (h *Handler) Results(c echo.Context) error {
	executionID := c.Param("execution_id")

	if progress, ok := h.executor.Tracker().GetProgress(executionID); ok && !progress.Status.IsTerminal() {
		return c.JSON(http.StatusAccepted, map[string]interface{}{
			"status":  progress.Status,
			"message": "execution still in progress",
		})
	}

	run, err := h.executor.Result(c.Request().Context(), executionID)
	if err != nil {
		if lib.IsNotFound(err) {
			return echo.NewHTTPError(http.StatusNotFound, "results not found")
		}
		h.logger.Error().Err(err).Str("execution_id", executionID).Msg("failed to load results")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load results")
	}

	return c.JSON(http.StatusOK, run)
}

// Runs lists all non-archived runs, newest first.
func (h *Handler) Runs(c echo.Context) error {
	runs, err := h.store.ListRuns(c.Request().Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list runs")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list runs")
	}
	if runs == nil {
		runs = []models.ExecutionRun{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"runs": runs,
	})
}

// Archive soft-deletes a project's run.
func (h *Handler) Archive(c echo.Context) error {
	projectID := c.Param("project_id")

	if err := h.store.Archive(c.Request().Context(), projectID, time.Now().UTC()); err != nil {
		if lib.IsNotFound(err) {
			return echo.NewHTTPError(http.StatusNotFound, "project not found")
		}
		h.logger.Error().Err(err).Str("project_id", projectID).Msg("failed to archive run")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to archive run")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":    true,
		"project_id": projectID,
	})
}
