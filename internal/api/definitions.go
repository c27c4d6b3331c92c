package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"megicode/backend/internal/auth"
	"megicode/backend/internal/workflow"

	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"
)

// maxDefinitionBytes bounds uploaded definition documents.
const maxDefinitionBytes = 1 << 20

// ListDefinitions returns every stored definition version
// (GET /api/v1/definitions)
func (s *Server) ListDefinitions(c echo.Context) error {
	defs, err := s.engine.ListDefinitions(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, defs)
}

// PublishDefinition stores a new version of a definition. The body is the
// JSON or YAML document; ?activate=true makes it the active version.
// (POST /api/v1/definitions)
func (s *Server) PublishDefinition(c echo.Context) error {
	ctx := c.Request().Context()

	var activate bool
	if err := runtime.BindQueryParameter("form", true, false, "activate", c.QueryParams(), &activate); err != nil {
		return badRequest(c, err)
	}

	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxDefinitionBytes+1))
	if err != nil {
		return badRequest(c, err)
	}
	if len(raw) > maxDefinitionBytes {
		return problem(c, http.StatusRequestEntityTooLarge, "Request Entity Too Large", "definition exceeds 1 MiB")
	}
	if strings.Contains(c.Request().Header.Get(echo.HeaderContentType), "yaml") {
		if raw, err = workflow.YAMLToJSON(raw); err != nil {
			return badRequest(c, err)
		}
	}

	rec, err := s.engine.PublishDefinition(ctx, raw, activate, auth.ActorFromContext(ctx))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, rec)
}

// ActivateDefinition makes one stored version the active one
// (POST /api/v1/definitions/:key/versions/:version/activate)
func (s *Server) ActivateDefinition(c echo.Context) error {
	var (
		key     string
		version int
	)
	if err := pathParam(c, "key", &key); err != nil {
		return badRequest(c, err)
	}
	if err := pathParam(c, "version", &version); err != nil {
		return badRequest(c, err)
	}
	if version < 1 {
		return badRequest(c, fmt.Errorf("version must be positive, got %d", version))
	}
	if err := s.engine.ActivateDefinition(c.Request().Context(), key, version); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func pathParam(c echo.Context, name string, dest any) error {
	return runtime.BindStyledParameterWithOptions("simple", name, c.Param(name), dest, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
}
