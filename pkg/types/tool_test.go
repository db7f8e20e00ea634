package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMCPTool(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"url":{"type":"string"}},"required":["url"]}`)
	td := &ToolDefinition{
		Name:        "screenshot",
		Description: "Captures a screenshot of the current page",
		InputSchema: schema,
	}

	tool := td.ToMCPTool()
	assert.Equal(t, "screenshot", tool.Name)
	assert.Equal(t, td.Description, tool.Description)

	// The raw schema must survive marshalling untouched.
	data, err := json.Marshal(tool)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	inputSchema, ok := decoded["inputSchema"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "object", inputSchema["type"])
}

func TestToolDefinitionRoundTrip(t *testing.T) {
	td := &ToolDefinition{
		Name:        "click",
		Description: "Clicks an element",
		InputSchema: json.RawMessage(`{"type":"object"}`),
	}

	data, err := json.Marshal(td)
	require.NoError(t, err)

	var got ToolDefinition
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, td.Name, got.Name)
	assert.JSONEq(t, string(td.InputSchema), string(got.InputSchema))
}
