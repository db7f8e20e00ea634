package types

import (
	"encoding/json"
	"time"
)

// MessageType defines the bridge message types exchanged between the
// orchestrator and its execution backends.
type MessageType string

const (
	// One-way signals; they carry no correlation ID and expect no reply.
	MsgRegister  MessageType = "component.register"
	MsgHeartbeat MessageType = "heartbeat"

	// Request/response pairs; the response echoes the request ID as its
	// correlation ID.
	MsgHealthCheck MessageType = "health.check"
	MsgToolsList   MessageType = "tools.list"
	MsgTaskExecute MessageType = "task.execute"
	MsgResult      MessageType = "result"
	MsgError       MessageType = "error"
)

// BridgeMessage is the versioned envelope for every bridge message,
// regardless of transport. Request/response pairs share a CorrelationID
// equal to the request's ID.
type BridgeMessage struct {
	ID            string          `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        string          `json:"source"`
	Target        string          `json:"target"`
	Type          MessageType     `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Version       string          `json:"version"`
}

// IsOneWay reports whether the message type expects no reply.
func (m *BridgeMessage) IsOneWay() bool {
	return m.Type == MsgRegister || m.Type == MsgHeartbeat
}

// RegisterPayload is carried by component.register messages.
type RegisterPayload struct {
	ComponentID  string            `json:"component_id"`
	Role         string            `json:"role"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Labels       map[string]string `json:"labels,omitempty"`
}

// HeartbeatPayload is carried by heartbeat messages.
type HeartbeatPayload struct {
	ComponentID string  `json:"component_id"`
	Load        float64 `json:"load"`
	ActiveTasks int     `json:"active_tasks"`
	Timestamp   int64   `json:"timestamp"`
}

// ExecutePayload is carried by task.execute requests.
type ExecutePayload struct {
	TaskID    string         `json:"task_id"`
	ToolName  string         `json:"tool_name"`
	Args      map[string]any `json:"args,omitempty"`
	TimeoutMs int64          `json:"timeout_ms,omitempty"`
}

// ExecuteResultPayload answers a task.execute request.
type ExecuteResultPayload struct {
	TaskID  string `json:"task_id"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ToolsPayload answers a tools.list request.
type ToolsPayload struct {
	Tools []*ToolDefinition `json:"tools"`
}

// ErrorPayload answers any request that could not be served.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
