package rest

import (
	"github.com/mark3labs/mcp-go/mcp"

	"btk/orchestrator/pkg/types"
)

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ShutdownResponse acknowledges a shutdown request.
type ShutdownResponse struct {
	Message string `json:"message"`
	GraceMs int64  `json:"grace_ms"`
}

// SubmitTaskRequest is the body of POST /api/v1/tasks.
type SubmitTaskRequest struct {
	Type      string         `json:"type,omitempty"`
	ToolName  string         `json:"tool_name"`
	Args      map[string]any `json:"args,omitempty"`
	Priority  string         `json:"priority,omitempty"`
	TimeoutMs int64          `json:"timeout_ms,omitempty"`
	Retries   int            `json:"retries,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
}

// ToolsResponse is the body of GET /api/v1/tools.
type ToolsResponse struct {
	Tools []*types.ToolDefinition `json:"tools"`
}

// MCPToolsResponse is the body of GET /api/v1/tools?format=mcp.
type MCPToolsResponse struct {
	Tools []mcp.Tool `json:"tools"`
}

// BackendView is one entry of GET /api/v1/backends.
type BackendView struct {
	Info   types.BackendInfo   `json:"info"`
	Status types.BackendStatus `json:"status"`
}

// BackendsResponse is the body of GET /api/v1/backends.
type BackendsResponse struct {
	Backends []BackendView `json:"backends"`
}

// StartSessionRequest is the body of POST /api/v1/sessions.
type StartSessionRequest struct {
	Mode string `json:"mode,omitempty"`
}

// StepSessionResponse is the body of POST /api/v1/sessions/:id/step.
type StepSessionResponse struct {
	SessionID   string `json:"session_id"`
	StepCounter int    `json:"step_counter"`
}

// SessionsResponse is the body of GET /api/v1/sessions.
type SessionsResponse struct {
	Sessions []*types.Session `json:"sessions"`
}
