package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	mcpsdk "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/agentic-warden/mcp-gateway/internal/gwerr"
	"github.com/agentic-warden/mcp-gateway/internal/orchestrator"
)

// ToolCaller is the subset of the connection pool execute_tool needs.
// Defined locally, mirroring orchestrator.ToolCaller, so this package
// doesn't have to import internal/mcp just for one method.
type ToolCaller interface {
	Call(ctx context.Context, server, tool string, args map[string]any) (json.RawMessage, error)
}

// Config wires the dependencies a Server needs to serve the gateway's
// fixed set of meta-tools.
type Config struct {
	Name          string // server identity advertised at initialize
	Version       string
	Orchestrator  *orchestrator.Orchestrator
	Caller        ToolCaller
	Tasks         *TaskSupervisor
	RolesDir      string
	ProvidersPath string
}

// Server serves the meta-tool surface over mcp-go's server transport,
// using server.NewMCPServer/server.Hooks to register session lifecycle
// callbacks alongside the tool handlers themselves.
type Server struct {
	cfg          Config
	mcp          *server.MCPServer
	capabilities *capabilityRegistry
}

// New builds a Server and registers the meta-tool surface. Call MCPServer
// to obtain the underlying *server.MCPServer for a transport (stdio/SSE).
func New(cfg Config) *Server {
	if cfg.Name == "" {
		cfg.Name = "mcp-gateway"
	}
	if cfg.Version == "" {
		cfg.Version = "0.1.0"
	}

	s := &Server{
		cfg:          cfg,
		capabilities: newCapabilityRegistry(),
	}

	hooks := &server.Hooks{}
	hooks.AddOnRegisterSession(s.onRegisterSession)
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		s.capabilities.unregister(session.SessionID())
	})
	hooks.AddBeforeAny(func(_ context.Context, _ any, method mcpsdk.MCPMethod, _ any) {
		log.Printf("[Gateway] %s", method)
	})
	hooks.AddOnError(func(_ context.Context, _ any, method mcpsdk.MCPMethod, _ any, err error) {
		log.Printf("[Gateway] %s failed: %v", method, err)
	})

	s.mcp = server.NewMCPServer(
		cfg.Name,
		cfg.Version,
		server.WithHooks(hooks),
		server.WithToolCapabilities(true),
	)

	s.registerMetaTools()
	return s
}

// MCPServer returns the underlying server for a transport to serve.
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

// Capability looks up what a connected session's client announced.
func (s *Server) Capability(sessionID string) (ClientCapability, bool) {
	return s.capabilities.get(sessionID)
}

// Notify sends a tools/list_changed notification to sessionID, used by
// the orchestrator's Notifier when a generated tool is registered under
// ExecutionDynamic.
func (s *Server) Notify(_ context.Context, sessionID string) error {
	s.mcp.SendNotificationToClient(sessionID, "notifications/tools/list_changed", nil)
	return nil
}

// sessionClientInfo is the optional mcp-go interface exposed by sessions
// that captured the client's Implementation at initialize time. Not every
// transport's ClientSession implements it, so callers type-assert.
type sessionClientInfo interface {
	GetClientInfo() mcpsdk.Implementation
}

func (s *Server) onRegisterSession(_ context.Context, session server.ClientSession) {
	var name, version string
	if withInfo, ok := session.(sessionClientInfo); ok {
		info := withInfo.GetClientInfo()
		name, version = info.Name, info.Version
	}
	s.capabilities.register(session.SessionID(), name, version)
	log.Printf("[Gateway] session registered: %s", session.SessionID())
}

func (s *Server) registerMetaTools() {
	s.mcp.AddTool(mcpsdk.NewTool("intelligent_route",
		mcpsdk.WithDescription("Route a natural-language request to a single tool or a generated workflow"),
		mcpsdk.WithString("user_request", mcpsdk.Required(), mcpsdk.Description("What the caller wants done")),
		mcpsdk.WithNumber("max_candidates", mcpsdk.Description("Top-K candidates to consider (default 8)")),
		mcpsdk.WithString("decision_mode", mcpsdk.Description("auto | vector | llm_react")),
		mcpsdk.WithString("execution_mode", mcpsdk.Description("dynamic | query | inline")),
		mcpsdk.WithObject("arguments", mcpsdk.Description("Arguments to pass to the resolved tool, if known")),
	), s.handleIntelligentRoute)

	s.mcp.AddTool(mcpsdk.NewTool("execute_tool",
		mcpsdk.WithDescription("Call a known downstream tool directly (two-phase commit: preview, then run)"),
		mcpsdk.WithString("server", mcpsdk.Required(), mcpsdk.Description("Downstream server name")),
		mcpsdk.WithString("tool", mcpsdk.Required(), mcpsdk.Description("Tool name on that server")),
		mcpsdk.WithObject("args", mcpsdk.Description("Tool arguments")),
		mcpsdk.WithBoolean("preview", mcpsdk.Description("If true, validate only and do not call the tool")),
	), s.handleExecuteTool)

	s.mcp.AddTool(mcpsdk.NewTool("start_task",
		mcpsdk.WithDescription("Start a background process and track it as a task"),
		mcpsdk.WithString("command", mcpsdk.Required()),
		mcpsdk.WithArray("args", mcpsdk.Description("Command-line arguments")),
		mcpsdk.WithString("cwd", mcpsdk.Description("Working directory (defaults to the gateway's own)")),
	), s.handleStartTask)

	s.mcp.AddTool(mcpsdk.NewTool("stop_task",
		mcpsdk.WithDescription("Stop a running task, gracefully then forcefully"),
		mcpsdk.WithString("task_id", mcpsdk.Required()),
	), s.handleStopTask)

	s.mcp.AddTool(mcpsdk.NewTool("list_tasks",
		mcpsdk.WithDescription("List all tracked background tasks"),
	), s.handleListTasks)

	s.mcp.AddTool(mcpsdk.NewTool("get_task_logs",
		mcpsdk.WithDescription("Read a task's captured stdout/stderr"),
		mcpsdk.WithString("task_id", mcpsdk.Required()),
		mcpsdk.WithNumber("from_offset", mcpsdk.Description("Byte offset to resume from (default 0)")),
	), s.handleGetTaskLogs)

	s.mcp.AddTool(mcpsdk.NewTool("get_task_status",
		mcpsdk.WithDescription("Get a task's current status and metadata"),
		mcpsdk.WithString("task_id", mcpsdk.Required()),
	), s.handleGetTaskStatus)

	s.mcp.AddTool(mcpsdk.NewTool("list_roles",
		mcpsdk.WithDescription("List built-in and user-defined agent roles"),
	), s.handleListRoles)

	s.mcp.AddTool(mcpsdk.NewTool("list_providers",
		mcpsdk.WithDescription("List configured LLM providers and the default one"),
	), s.handleListProviders)
}

func (s *Server) handleIntelligentRoute(ctx context.Context, req mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	args := req.GetArguments()

	userRequest, _ := args["user_request"].(string)
	routeReq := orchestrator.RouteRequest{
		UserRequest: userRequest,
		SessionID:   sessionIDFromContext(ctx),
	}
	if v, ok := args["max_candidates"].(float64); ok {
		routeReq.MaxCandidates = int(v)
	}
	if v, ok := args["decision_mode"].(string); ok {
		routeReq.DecisionMode = orchestrator.DecisionMode(v)
	}
	if v, ok := args["execution_mode"].(string); ok {
		routeReq.ExecutionMode = orchestrator.ExecutionMode(v)
	}
	if v, ok := args["arguments"].(map[string]any); ok {
		routeReq.Arguments = v
	}

	resp, err := s.cfg.Orchestrator.Route(ctx, routeReq)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(resp)
}

// executeToolResult is execute_tool's own response shape, distinct from
// intelligent_route's, since this is a direct passthrough rather than a
// routing decision.
type executeToolResult struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result,omitempty"`
}

func (s *Server) handleExecuteTool(ctx context.Context, req mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	args := req.GetArguments()
	serverName, _ := args["server"].(string)
	toolName, _ := args["tool"].(string)
	if serverName == "" || toolName == "" {
		return errorResult(gwerr.New(gwerr.InvalidArgument, "execute_tool: server and tool are required")), nil
	}
	toolArgs, _ := args["args"].(map[string]any)
	preview, _ := args["preview"].(bool)

	if preview {
		return jsonResult(executeToolResult{
			Success: true,
			Message: fmt.Sprintf("would call %s/%s", serverName, toolName),
		})
	}

	result, err := s.cfg.Caller.Call(ctx, serverName, toolName, toolArgs)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(executeToolResult{Success: true, Message: "ok", Result: result})
}

func (s *Server) handleStartTask(ctx context.Context, req mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	args := req.GetArguments()
	command, _ := args["command"].(string)
	cwd, _ := args["cwd"].(string)
	var cmdArgs []string
	if raw, ok := args["args"].([]any); ok {
		for _, a := range raw {
			if str, ok := a.(string); ok {
				cmdArgs = append(cmdArgs, str)
			}
		}
	}

	record, err := s.cfg.Tasks.Start(ctx, command, cmdArgs, cwd)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{"task_id": record.ID, "pid": record.PID})
}

func (s *Server) handleStopTask(_ context.Context, req mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	taskID, _ := req.GetArguments()["task_id"].(string)
	if err := s.cfg.Tasks.Stop(taskID); err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{"ok": true})
}

func (s *Server) handleListTasks(_ context.Context, _ mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	return jsonResult(s.cfg.Tasks.List())
}

func (s *Server) handleGetTaskLogs(_ context.Context, req mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	args := req.GetArguments()
	taskID, _ := args["task_id"].(string)
	var offset int64
	if v, ok := args["from_offset"].(float64); ok {
		offset = int64(v)
	}

	content, next, err := s.cfg.Tasks.Logs(taskID, offset)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{"content": content, "next_offset": next})
}

func (s *Server) handleGetTaskStatus(_ context.Context, req mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	taskID, _ := req.GetArguments()["task_id"].(string)
	record, err := s.cfg.Tasks.Status(taskID)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(record)
}

func (s *Server) handleListRoles(_ context.Context, _ mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	roles, err := ListRoles(s.cfg.RolesDir)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{
		"builtin_roles": roles.BuiltinRoles,
		"user_roles":    roles.UserRoles,
	})
}

func (s *Server) handleListProviders(_ context.Context, _ mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	providers, err := ListProviders(s.cfg.ProvidersPath)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{
		"providers":        providers.Providers,
		"default_provider": providers.DefaultProvider,
	})
}

// sessionIDFromContext extracts the calling client session's ID, if the
// transport attached one to ctx. Query/inline execution modes don't need
// a session at all, so a missing session is not an error here.
func sessionIDFromContext(ctx context.Context) string {
	session := server.ClientSessionFromContext(ctx)
	if session == nil {
		return ""
	}
	return session.SessionID()
}

// errorResult maps a gwerr.Error (or any error) onto an MCP tool error,
// embedding the stable Kind as a message prefix: the MCP tool-result
// contract has no native structured-error-code field, so the code lives
// in the message by convention.
func errorResult(err error) *mcpsdk.CallToolResult {
	return mcpsdk.NewToolResultError(err.Error())
}

func jsonResult(v any) (*mcpsdk.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("gateway: marshal tool result: %w", err)
	}
	return mcpsdk.NewToolResultText(string(data)), nil
}
