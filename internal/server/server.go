// Package server exposes the task queue over a thin HTTP layer. Request
// routing stays dumb on purpose: every handler delegates straight to the
// queue and returns without blocking on processing.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"docpipe/constants"
	"docpipe/internal/task"
)

// Server wires the HTTP surface to the task queue.
type Server struct {
	queue  *task.Queue
	hub    *Hub
	logger *slog.Logger
	echo   *echo.Echo
}

type submitRequest struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

func New(queue *task.Queue, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		queue:  queue,
		hub:    NewHub(logger),
		logger: logger,
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	e.POST("/jobs", s.submit)
	e.GET("/jobs", s.list)
	e.GET("/jobs/:id", s.status)
	e.DELETE("/jobs/:id", s.cancel)
	e.GET("/queue", s.queueStatus)
	e.GET("/statistics", s.statistics)
	e.POST("/cleanup", s.cleanup)
	e.GET("/ws", s.hub.Serve)
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	s.echo = e
	return s
}

// Start runs the listener and the websocket hub until Shutdown.
func (s *Server) Start(addr string) error {
	s.hub.Start()
	return s.echo.Start(addr)
}

// Shutdown stops the websocket hub, then drains and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	return s.echo.Shutdown(ctx)
}

// Handler exposes the routes for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) submit(c echo.Context) error {
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Path = strings.TrimSpace(req.Path)
	if req.Path == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "path is required")
	}
	if !constants.IsAllowedExt(filepath.Ext(req.Path)) {
		return echo.NewHTTPError(http.StatusBadRequest, "unsupported file type")
	}
	if req.Filename == "" {
		req.Filename = filepath.Base(req.Path)
	}

	id, err := s.queue.Submit(req.Filename, req.Path)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	s.hub.BroadcastJobUpdate(id, string(constants.JobStatusPending), "")
	return c.JSON(http.StatusAccepted, map[string]string{"job_id": id})
}

func (s *Server) status(c echo.Context) error {
	job, ok := s.queue.Status(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	return c.JSON(http.StatusOK, job)
}

func (s *Server) list(c echo.Context) error {
	return c.JSON(http.StatusOK, s.queue.List())
}

func (s *Server) cancel(c echo.Context) error {
	id := c.Param("id")
	if !s.queue.Cancel(id) {
		return echo.NewHTTPError(http.StatusConflict, "job not found or already terminal")
	}
	s.hub.BroadcastJobUpdate(id, string(constants.JobStatusCancelled), "")
	return c.JSON(http.StatusOK, map[string]string{"job_id": id, "status": string(constants.JobStatusCancelled)})
}

func (s *Server) queueStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.queue.QueueStatus())
}

func (s *Server) statistics(c echo.Context) error {
	return c.JSON(http.StatusOK, s.queue.Statistics())
}

func (s *Server) cleanup(c echo.Context) error {
	hours := 24
	if v := c.QueryParam("max_age_hours"); v != "" {
		if parsed, err := time.ParseDuration(v + "h"); err == nil && parsed > 0 {
			hours = int(parsed.Hours())
		}
	}
	removed := s.queue.Cleanup(time.Duration(hours) * time.Hour)
	return c.JSON(http.StatusOK, map[string]int{"removed": removed})
}

// NotifyJobUpdate lets queue hooks push terminal states to websocket clients.
func (s *Server) NotifyJobUpdate(jobID, status, errMsg string) {
	s.hub.BroadcastJobUpdate(jobID, status, errMsg)
}
