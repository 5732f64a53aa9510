// Package api provides the HTTP API for researchd.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/researchd/internal/coordinator"
	"github.com/fyrsmithlabs/researchd/internal/store"
)

// Config holds HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
}

// Server exposes the coordinator over HTTP.
type Server struct {
	echo   *echo.Echo
	coord  *coordinator.Coordinator
	logger *zap.Logger
	config *Config
}

// NewServer creates the HTTP server with middleware and routes registered.
func NewServer(coord *coordinator.Coordinator, logger *zap.Logger, cfg *Config) (*Server, error) {
	if coord == nil {
		return nil, fmt.Errorf("coordinator cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host:            "localhost",
			Port:            8006,
			ShutdownTimeout: 10 * time.Second,
		}
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
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:   e,
		coord:  coord,
		logger: logger,
		config: cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/research", s.handleStartResearch)
	v1.GET("/tasks", s.handleListTasks)
	v1.GET("/tasks/:id", s.handleGetTask)
	v1.POST("/tasks/:id/cancel", s.handleCancelTask)
}

// StartResearchRequest is the request body for POST /api/v1/research.
type StartResearchRequest struct {
	Topic         string `json:"topic"`
	MaxIterations int    `json:"max_iterations"`
}

// StartResearchResponse is the response body for POST /api/v1/research.
type StartResearchResponse struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Service: "researchd"})
}

// handleStartResearch creates a task record and launches the workflow.
func (s *Server) handleStartResearch(c echo.Context) error {
	var req StartResearchRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid research request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	taskID, err := s.coord.StartWorkflow(c.Request().Context(), req.Topic, req.MaxIterations)
	if err != nil {
		switch {
		case errors.Is(err, coordinator.ErrEmptyTopic), errors.Is(err, coordinator.ErrMaxIterations):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("failed to start workflow", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to start workflow")
		}
	}

	return c.JSON(http.StatusAccepted, StartResearchResponse{
		TaskID:  taskID,
		Status:  "started",
		Message: "Research task started. Poll /api/v1/tasks/" + taskID + " for progress.",
	})
}

// handleGetTask returns the full record for a task.
func (s *Server) handleGetTask(c echo.Context) error {
	rec, err := s.coord.GetTask(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "task not found")
	}
	if err != nil {
		s.logger.Error("failed to load task", zap.String("task_id", c.Param("id")), zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "state store unavailable")
	}
	return c.JSON(http.StatusOK, rec)
}

// TaskSummary is one entry in the GET /api/v1/tasks response.
type TaskSummary struct {
	TaskID       string    `json:"task_id"`
	Topic        string    `json:"topic"`
	Status       string    `json:"status"`
	Iteration    int       `json:"iteration"`
	QualityScore float64   `json:"quality_score"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// handleListTasks returns summaries of all known tasks, newest first.
func (s *Server) handleListTasks(c echo.Context) error {
	recs, err := s.coord.ListTasks(c.Request().Context())
	if err != nil {
		s.logger.Error("failed to list tasks", zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "state store unavailable")
	}

	summaries := make([]TaskSummary, 0, len(recs))
	for _, rec := range recs {
		summaries = append(summaries, TaskSummary{
			TaskID:       rec.TaskID,
			Topic:        rec.Topic,
			Status:       string(rec.Status),
			Iteration:    rec.Iteration,
			QualityScore: rec.QualityScore,
			CreatedAt:    rec.CreatedAt,
			UpdatedAt:    rec.UpdatedAt,
		})
	}
	return c.JSON(http.StatusOK, summaries)
}

// handleCancelTask requests cancellation of a running workflow.
func (s *Server) handleCancelTask(c echo.Context) error {
	taskID := c.Param("id")

	if s.coord.CancelTask(taskID) {
		return c.JSON(http.StatusAccepted, map[string]string{
			"task_id": taskID,
			"status":  "cancelling",
		})
	}

	// Not running: distinguish unknown tasks from already-terminal ones.
	rec, err := s.coord.GetTask(c.Request().Context(), taskID)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "task not found")
	}
	if err != nil {
		s.logger.Error("failed to load task", zap.String("task_id", taskID), zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "state store unavailable")
	}
	return echo.NewHTTPError(http.StatusConflict,
		fmt.Sprintf("task is not running (status %s)", rec.Status))
}

// Start starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully within the configured timeout. Returns
// http.ErrServerClosed on graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Echo returns the underlying Echo instance, used by tests to drive handlers
// without a listener.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
