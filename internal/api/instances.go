package api

import (
	"errors"
	"net/http"
	"time"

	"megicode/backend/internal/auth"
	"megicode/backend/internal/engine"
	"megicode/backend/internal/repository"
	"megicode/backend/pkg/models"

	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"
)

// StartInstanceRequest is the body of POST /instances.
type StartInstanceRequest struct {
	DefinitionKey string         `json:"definition_key"`
	ProjectID     string         `json:"project_id"`
	LeadID        string         `json:"lead_id,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}

// AdvanceInstanceRequest is the body of POST /instances/:id/advance.
type AdvanceInstanceRequest struct {
	StepKey         string         `json:"step_key"`
	Outcome         string         `json:"outcome,omitempty"`
	Data            map[string]any `json:"data,omitempty"`
	ExpectedVersion int            `json:"expected_version,omitempty"`
}

// CancelInstanceRequest is the body of POST /instances/:id/cancel.
type CancelInstanceRequest struct {
	Reason string `json:"reason"`
}

// SkipStepRequest is the body of POST /instances/:id/skip.
type SkipStepRequest struct {
	StepKey string `json:"step_key"`
	Reason  string `json:"reason"`
}

// AssignStepRequest is the body of POST /instances/:id/assign.
type AssignStepRequest struct {
	StepKey string `json:"step_key"`
	UserID  string `json:"user_id"`
}

// StartInstance starts a process for a project
// (POST /api/v1/instances)
func (s *Server) StartInstance(c echo.Context) error {
	ctx := c.Request().Context()

	var req StartInstanceRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err)
	}
	if req.DefinitionKey == "" || req.ProjectID == "" {
		return badRequest(c, errors.New("definition_key and project_id are required"))
	}

	inst, err := s.engine.Start(ctx, engine.StartRequest{
		DefinitionKey: req.DefinitionKey,
		ProjectID:     req.ProjectID,
		LeadID:        req.LeadID,
		ActorID:       auth.ActorFromContext(ctx),
		Data:          req.Data,
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, inst)
}

// ListInstances returns instances filtered by project and status
// (GET /api/v1/instances)
func (s *Server) ListInstances(c echo.Context) error {
	var (
		filter repository.InstanceFilter
		status string
	)
	params := c.QueryParams()
	if err := runtime.BindQueryParameter("form", true, false, "project_id", params, &filter.ProjectID); err != nil {
		return badRequest(c, err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "status", params, &status); err != nil {
		return badRequest(c, err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", params, &filter.Limit); err != nil {
		return badRequest(c, err)
	}
	switch models.InstanceStatus(status) {
	case "", models.InstanceStatusRunning, models.InstanceStatusCompleted, models.InstanceStatusCanceled:
		filter.Status = models.InstanceStatus(status)
	default:
		return badRequest(c, errors.New("status must be running, completed or canceled"))
	}

	insts, err := s.engine.ListInstances(c.Request().Context(), filter)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, insts)
}

// GetInstanceState returns an instance with its steps, automations and
// messages
// (GET /api/v1/instances/:id)
func (s *Server) GetInstanceState(c echo.Context) error {
	var id string
	if err := pathParam(c, "id", &id); err != nil {
		return badRequest(c, err)
	}
	st, err := s.engine.State(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

// AdvanceInstance completes the current step
// (POST /api/v1/instances/:id/advance)
func (s *Server) AdvanceInstance(c echo.Context) error {
	ctx := c.Request().Context()

	var id string
	if err := pathParam(c, "id", &id); err != nil {
		return badRequest(c, err)
	}
	var req AdvanceInstanceRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err)
	}
	if req.StepKey == "" {
		return badRequest(c, errors.New("step_key is required"))
	}

	inst, err := s.engine.Advance(ctx, engine.AdvanceRequest{
		InstanceID:      id,
		TriggerStepKey:  req.StepKey,
		Outcome:         req.Outcome,
		ActorID:         auth.ActorFromContext(ctx),
		Data:            req.Data,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, inst)
}

// CancelInstance stops a running instance
// (POST /api/v1/instances/:id/cancel)
func (s *Server) CancelInstance(c echo.Context) error {
	ctx := c.Request().Context()

	var id string
	if err := pathParam(c, "id", &id); err != nil {
		return badRequest(c, err)
	}
	var req CancelInstanceRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err)
	}

	inst, err := s.engine.Cancel(ctx, id, req.Reason, auth.ActorFromContext(ctx))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, inst)
}

// SkipStep moves past an optional or blocked step
// (POST /api/v1/instances/:id/skip)
func (s *Server) SkipStep(c echo.Context) error {
	ctx := c.Request().Context()

	var id string
	if err := pathParam(c, "id", &id); err != nil {
		return badRequest(c, err)
	}
	var req SkipStepRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err)
	}
	if req.StepKey == "" {
		return badRequest(c, errors.New("step_key is required"))
	}

	inst, err := s.engine.Skip(ctx, engine.SkipRequest{
		InstanceID: id,
		StepKey:    req.StepKey,
		ActorID:    auth.ActorFromContext(ctx),
		Reason:     req.Reason,
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, inst)
}

// AssignStep assigns the active step to a user
// (POST /api/v1/instances/:id/assign)
func (s *Server) AssignStep(c echo.Context) error {
	ctx := c.Request().Context()

	var id string
	if err := pathParam(c, "id", &id); err != nil {
		return badRequest(c, err)
	}
	var req AssignStepRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err)
	}
	if req.StepKey == "" || req.UserID == "" {
		return badRequest(c, errors.New("step_key and user_id are required"))
	}

	step, err := s.engine.Assign(ctx, engine.AssignRequest{
		InstanceID: id,
		StepKey:    req.StepKey,
		UserID:     req.UserID,
		ActorID:    auth.ActorFromContext(ctx),
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, step)
}

// ListOverdue returns active steps past their deadline. ?as_of takes an
// RFC 3339 time and defaults to now.
// (GET /api/v1/overdue)
func (s *Server) ListOverdue(c echo.Context) error {
	var asOf time.Time
	if err := runtime.BindQueryParameter("form", true, false, "as_of", c.QueryParams(), &asOf); err != nil {
		return badRequest(c, err)
	}
	steps, err := s.engine.OverdueSteps(c.Request().Context(), asOf)
	if err != nil {
		return s.fail(c, err)
	}
	if steps == nil {
		steps = []*models.OverdueStep{}
	}
	return c.JSON(http.StatusOK, steps)
}
