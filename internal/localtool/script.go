package localtool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"

	"btk/orchestrator/pkg/types"
)

// ScriptTool evaluates a JavaScript expression in an isolated runtime.
// Each execution gets a fresh VM; scripts share no state.
type ScriptTool struct{}

// NewScriptTool creates the script.eval tool.
func NewScriptTool() *ScriptTool {
	return &ScriptTool{}
}

func (t *ScriptTool) Name() string { return "script.eval" }

func (t *ScriptTool) Definition() *types.ToolDefinition {
	return &types.ToolDefinition{
		Name:        t.Name(),
		Description: "Evaluates a JavaScript expression and returns its value",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"script": {"type": "string", "description": "JavaScript source to evaluate"},
				"vars": {"type": "object", "description": "Variables bound as globals"}
			},
			"required": ["script"]
		}`),
	}
}

func (t *ScriptTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	script, ok := args["script"].(string)
	if !ok || script == "" {
		return nil, fmt.Errorf("'script' parameter is required")
	}

	vm := goja.New()
	if vars, ok := args["vars"].(map[string]any); ok {
		for k, v := range vars {
			if err := vm.Set(k, v); err != nil {
				return nil, fmt.Errorf("bind variable '%s': %w", k, err)
			}
		}
	}

	// Interrupt the VM when the task deadline fires; goja cannot be
	// cancelled any other way.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt("script execution timed out")
		case <-done:
		}
	}()

	val, err := vm.RunString(script)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("script error: %w", err)
	}
	return val.Export(), nil
}
