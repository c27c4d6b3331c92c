package api

import (
	"megicode/backend/internal/automation"
	"megicode/backend/internal/engine"
	"megicode/backend/internal/repository"

	"github.com/labstack/echo/v4"
)

// Server holds the dependencies for the API server.
type Server struct {
	engine   *engine.Engine
	executor *automation.Executor
	repo     repository.Repository
	logger   Logger
}

// NewServer creates a new Server.
func NewServer(eng *engine.Engine, executor *automation.Executor, repo repository.Repository, logger Logger) *Server {
	return &Server{engine: eng, executor: executor, repo: repo, logger: logger}
}

// Register mounts the /api/v1 routes on g. read and write guard the read
// and mutating routes; either may be nil.
func (s *Server) Register(g *echo.Group, read, write echo.MiddlewareFunc) {
	r := guard(read)
	w := guard(write)

	g.GET("/definitions", s.ListDefinitions, r...)
	g.POST("/definitions", s.PublishDefinition, w...)
	g.POST("/definitions/:key/versions/:version/activate", s.ActivateDefinition, w...)

	g.GET("/instances", s.ListInstances, r...)
	g.POST("/instances", s.StartInstance, w...)
	g.GET("/instances/:id", s.GetInstanceState, r...)
	g.POST("/instances/:id/advance", s.AdvanceInstance, w...)
	g.POST("/instances/:id/cancel", s.CancelInstance, w...)
	g.POST("/instances/:id/skip", s.SkipStep, w...)
	g.POST("/instances/:id/assign", s.AssignStep, w...)

	g.GET("/overdue", s.ListOverdue, r...)

	g.GET("/automations/:id", s.GetAutomation, r...)
	g.POST("/automations/:id/retry", s.RetryAutomation, w...)
}

func guard(m echo.MiddlewareFunc) []echo.MiddlewareFunc {
	if m == nil {
		return nil
	}
	return []echo.MiddlewareFunc{m}
}
