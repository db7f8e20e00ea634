package types

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
)

// ToolDefinition describes a named, schema-described capability a backend
// can execute.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToMCPTool converts the definition into an MCP tool declaration, keeping the
// raw JSON Schema untouched.
func (td *ToolDefinition) ToMCPTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(td.Name, td.Description, td.InputSchema)
}
