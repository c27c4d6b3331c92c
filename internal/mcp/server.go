// Package mcp exposes workflow operations as MCP tools for agents.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"megicode/backend/internal/auth"
	"megicode/backend/internal/automation"
	"megicode/backend/internal/engine"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// agentActor is recorded as the actor when the caller is anonymous.
const agentActor = "mcp-agent"

type Server struct {
	mcpServer *server.MCPServer
	engine    *engine.Engine
	executor  *automation.Executor
}

func NewServer(eng *engine.Engine, executor *automation.Executor, version string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Megicode Workflow",
			version,
			server.WithToolCapabilities(true),
		),
		engine:   eng,
		executor: executor,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"start_instance",
			mcp.WithDescription("Start a workflow instance for a project using the active definition version"),
			mcp.WithString("definition_key", mcp.Required(), mcp.Description("Key of the workflow definition")),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("Project the instance belongs to")),
			mcp.WithString("lead_id", mcp.Description("Originating lead, if any")),
			mcp.WithObject("data", mcp.Description("Initial instance data")),
		),
		s.handleStartInstance,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"advance_instance",
			mcp.WithDescription("Complete the current step of an instance and follow the matching transition"),
			mcp.WithString("instance_id", mcp.Required(), mcp.Description("ID of the instance")),
			mcp.WithString("step_key", mcp.Required(), mcp.Description("Key of the step being completed")),
			mcp.WithString("outcome", mcp.Description("Outcome for a branching step, e.g. approved")),
			mcp.WithObject("data", mcp.Description("Data merged into the instance")),
		),
		s.handleAdvanceInstance,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_instance_state",
			mcp.WithDescription("Get an instance with its steps, automations and handoff messages"),
			mcp.WithString("instance_id", mcp.Required(), mcp.Description("ID of the instance")),
		),
		s.handleGetInstanceState,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_overdue_steps",
			mcp.WithDescription("List active steps whose deadline has passed"),
			mcp.WithString("as_of", mcp.Description("RFC 3339 time to evaluate deadlines at; defaults to now")),
		),
		s.handleListOverdueSteps,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"retry_automation",
			mcp.WithDescription("Run a service task automation again, including one that exhausted its retries"),
			mcp.WithString("automation_id", mcp.Required(), mcp.Description("ID of the automation")),
		),
		s.handleRetryAutomation,
	)
}

func (s *Server) handleStartInstance(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}
	key, ok := args["definition_key"].(string)
	if !ok || key == "" {
		return mcp.NewToolResultError("Missing required parameter: definition_key"), nil
	}
	project, ok := args["project_id"].(string)
	if !ok || project == "" {
		return mcp.NewToolResultError("Missing required parameter: project_id"), nil
	}
	lead, _ := args["lead_id"].(string)
	data, _ := args["data"].(map[string]any)

	inst, err := s.engine.Start(ctx, engine.StartRequest{
		DefinitionKey: key,
		ProjectID:     project,
		LeadID:        lead,
		ActorID:       actor(ctx),
		Data:          data,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start instance: %v", err)), nil
	}
	return jsonResult(inst)
}

func (s *Server) handleAdvanceInstance(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}
	id, ok := args["instance_id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: instance_id"), nil
	}
	step, ok := args["step_key"].(string)
	if !ok || step == "" {
		return mcp.NewToolResultError("Missing required parameter: step_key"), nil
	}
	outcome, _ := args["outcome"].(string)
	data, _ := args["data"].(map[string]any)

	inst, err := s.engine.Advance(ctx, engine.AdvanceRequest{
		InstanceID:     id,
		TriggerStepKey: step,
		Outcome:        outcome,
		ActorID:        actor(ctx),
		Data:           data,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to advance instance: %v", err)), nil
	}
	return jsonResult(inst)
}

func (s *Server) handleGetInstanceState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}
	id, ok := args["instance_id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: instance_id"), nil
	}

	st, err := s.engine.State(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load instance: %v", err)), nil
	}
	return jsonResult(st)
}

func (s *Server) handleListOverdueSteps(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var asOf time.Time
	if args, ok := request.Params.Arguments.(map[string]any); ok {
		if raw, _ := args["as_of"].(string); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("Invalid as_of: %v", err)), nil
			}
			asOf = t
		}
	}

	steps, err := s.engine.OverdueSteps(ctx, asOf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list overdue steps: %v", err)), nil
	}
	return jsonResult(steps)
}

func (s *Server) handleRetryAutomation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}
	id, ok := args["automation_id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: automation_id"), nil
	}

	res, err := s.executor.Retry(ctx, id)
	if err != nil && res == nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to retry automation: %v", err)), nil
	}
	return jsonResult(res)
}

func actor(ctx context.Context) string {
	if id := auth.ActorFromContext(ctx); id != "" {
		return id
	}
	return agentActor
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding tool result: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// MountHTTPHandlers registers the SSE transport under /mcp on mux.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
