package api

import (
	"errors"
	"net/http"

	"megicode/backend/internal/engine"

	"github.com/labstack/echo/v4"
)

// GetAutomation returns one automation record
// (GET /api/v1/automations/:id)
func (s *Server) GetAutomation(c echo.Context) error {
	var id string
	if err := pathParam(c, "id", &id); err != nil {
		return badRequest(c, err)
	}
	a, err := s.executor.Automation(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

// RetryAutomation runs an automation now, including one that exhausted its
// retries. A failed attempt is reported in the result, not as an error.
// (POST /api/v1/automations/:id/retry)
func (s *Server) RetryAutomation(c echo.Context) error {
	var id string
	if err := pathParam(c, "id", &id); err != nil {
		return badRequest(c, err)
	}
	res, err := s.executor.Retry(c.Request().Context(), id)
	if err != nil && !(errors.Is(err, engine.ErrAutomationFailed) && res != nil) {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
