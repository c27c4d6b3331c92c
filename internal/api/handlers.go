// Package api contains the HTTP handlers of the workflow engine.
package api

import (
	"errors"
	"net/http"
	"time"

	"megicode/backend/internal/automation"
	"megicode/backend/internal/engine"
	"megicode/backend/internal/repository"
	"megicode/backend/internal/workflow"
	"megicode/backend/pkg/models"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/trace"
)

// Version is reported by the health endpoint.
var Version = "dev"

// Logger is the logging surface the handlers need.
type Logger interface {
	Error(msg string, args ...any)
}

// HandleHealth reports service health including the store.
// (GET /healthz)
func (s *Server) HandleHealth(c echo.Context) error {
	status := models.HealthStatus{
		Status:    "ok",
		Service:   "megicode-workflow",
		Version:   Version,
		Timestamp: time.Now().UTC(),
		Checks:    map[string]string{"database": "ok"},
	}
	code := http.StatusOK
	if err := s.repo.Ping(c.Request().Context()); err != nil {
		status.Status = "degraded"
		status.Checks["database"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// problem writes an RFC 7807 Problem Details response.
func problem(c echo.Context, status int, title, detail string) error {
	p := models.ProblemDetails{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	}
	if sc := trace.SpanContextFromContext(c.Request().Context()); sc.HasTraceID() {
		p.TraceID = sc.TraceID().String()
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	return c.JSON(status, p)
}

func badRequest(c echo.Context, err error) error {
	return problem(c, http.StatusBadRequest, "Bad Request", err.Error())
}

// fail maps an engine error to its HTTP status.
func (s *Server) fail(c echo.Context, err error) error {
	var verrs workflow.ValidationErrors
	switch {
	case errors.Is(err, engine.ErrDefinitionNotFound),
		errors.Is(err, engine.ErrInstanceNotFound),
		errors.Is(err, automation.ErrAutomationNotFound),
		errors.Is(err, repository.ErrNotFound):
		return problem(c, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, engine.ErrStaleTransition),
		errors.Is(err, engine.ErrConcurrentInstance),
		errors.Is(err, engine.ErrInstanceTerminal),
		errors.Is(err, engine.ErrStepNotSkippable),
		errors.Is(err, engine.ErrAutomationPending),
		errors.Is(err, engine.ErrAutomationFailed):
		return problem(c, http.StatusConflict, "Conflict", err.Error())
	case errors.As(err, &verrs),
		errors.Is(err, engine.ErrInvalidDefinition),
		errors.Is(err, engine.ErrNoMatchingTransition),
		errors.Is(err, engine.ErrRevisitLimit),
		errors.Is(err, automation.ErrNotServiceTask),
		errors.Is(err, automation.ErrActionMismatch):
		return problem(c, http.StatusUnprocessableEntity, "Unprocessable Entity", err.Error())
	}
	s.logger.Error("request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
	return problem(c, http.StatusInternalServerError, "Internal Server Error", "unexpected error")
}
