package localtool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"btk/orchestrator/pkg/types"
)

// ExtractTool evaluates a JSONPath expression against a JSON document.
type ExtractTool struct{}

// NewExtractTool creates the data.extract tool.
func NewExtractTool() *ExtractTool {
	return &ExtractTool{}
}

func (t *ExtractTool) Name() string { return "data.extract" }

func (t *ExtractTool) Definition() *types.ToolDefinition {
	return &types.ToolDefinition{
		Name:        t.Name(),
		Description: "Extracts values from a JSON document using a JSONPath expression",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"expression": {"type": "string", "description": "JSONPath expression"},
				"data": {"description": "JSON document to extract from"},
				"first": {"type": "boolean", "description": "Return only the first match"}
			},
			"required": ["expression", "data"]
		}`),
	}
}

func (t *ExtractTool) Execute(_ context.Context, args map[string]any) (any, error) {
	expression, ok := args["expression"].(string)
	if !ok || expression == "" {
		return nil, fmt.Errorf("'expression' parameter is required")
	}
	data, ok := args["data"]
	if !ok {
		return nil, fmt.Errorf("'data' parameter is required")
	}

	// A string document is parsed before evaluation; anything else is
	// treated as an already-decoded value tree.
	if s, isStr := data.(string); isStr {
		parsed, err := oj.ParseString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid JSON document: %w", err)
		}
		data = parsed
	}

	path, err := jp.ParseString(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid JSONPath expression '%s': %w", expression, err)
	}

	results := path.Get(data)
	if first, _ := args["first"].(bool); first {
		if len(results) == 0 {
			return nil, fmt.Errorf("no match for '%s'", expression)
		}
		return results[0], nil
	}
	return results, nil
}
