package localtool

import (
	"context"
	"encoding/json"

	"btk/orchestrator/pkg/types"
)

// StatusProvider supplies the orchestrator's current health snapshot.
type StatusProvider func() *types.HealthStatus

// StatusTool exposes the orchestrator's own health as a local tool so
// clients can probe it through the same task path as everything else.
type StatusTool struct {
	provider StatusProvider
}

// NewStatusTool creates the orchestrator.status tool.
func NewStatusTool(provider StatusProvider) *StatusTool {
	return &StatusTool{provider: provider}
}

func (t *StatusTool) Name() string { return "orchestrator.status" }

func (t *StatusTool) Definition() *types.ToolDefinition {
	return &types.ToolDefinition{
		Name:        t.Name(),
		Description: "Returns the orchestrator's current health snapshot",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
	}
}

func (t *StatusTool) Execute(_ context.Context, _ map[string]any) (any, error) {
	return t.provider(), nil
}
