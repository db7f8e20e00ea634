package localtool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btk/orchestrator/pkg/types"
)

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewExtractTool()))

	assert.Error(t, r.Register(NewExtractTool()), "duplicate name must be rejected")
	assert.Error(t, r.Register(nil))

	got, ok := r.Get("data.extract")
	require.True(t, ok)
	assert.Equal(t, "data.extract", got.Name())
	assert.True(t, r.Has("data.extract"))
	assert.False(t, r.Has("nope"))
}

func TestRegistryDefinitions(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(NewExtractTool())
	r.MustRegister(NewScriptTool())

	defs := r.Definitions()
	require.Len(t, defs, 2)
	names := map[string]bool{}
	for _, d := range defs {
		names[d.Name] = true
		assert.NotEmpty(t, d.Description)
		assert.NotEmpty(t, d.InputSchema)
	}
	assert.True(t, names["data.extract"])
	assert.True(t, names["script.eval"])
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	res := r.Execute(context.Background(), &types.Task{ID: "t1", ToolName: "missing"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "missing")
	assert.Equal(t, "local", res.ExecutedBy)
}

func TestExtractTool(t *testing.T) {
	tool := NewExtractTool()

	res, err := tool.Execute(context.Background(), map[string]any{
		"expression": "$.items[*].name",
		"data":       `{"items":[{"name":"a"},{"name":"b"}]}`,
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{"a", "b"}, res)

	// Already-decoded documents work too.
	res, err = tool.Execute(context.Background(), map[string]any{
		"expression": "$.x",
		"data":       map[string]any{"x": float64(7)},
		"first":      true,
	})
	require.NoError(t, err)
	assert.Equal(t, float64(7), res)
}

func TestExtractToolErrors(t *testing.T) {
	tool := NewExtractTool()

	_, err := tool.Execute(context.Background(), map[string]any{"data": "{}"})
	assert.Error(t, err, "missing expression")

	_, err = tool.Execute(context.Background(), map[string]any{
		"expression": "$[", "data": "{}",
	})
	assert.Error(t, err, "invalid expression")

	_, err = tool.Execute(context.Background(), map[string]any{
		"expression": "$.x", "data": "not json",
	})
	assert.Error(t, err, "invalid document")

	_, err = tool.Execute(context.Background(), map[string]any{
		"expression": "$.missing", "data": "{}", "first": true,
	})
	assert.Error(t, err, "no match with first=true")
}

func TestScriptTool(t *testing.T) {
	tool := NewScriptTool()

	res, err := tool.Execute(context.Background(), map[string]any{
		"script": "a + b",
		"vars":   map[string]any{"a": int64(2), "b": int64(3)},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 5, res)

	_, err = tool.Execute(context.Background(), map[string]any{"script": "syntax error ("})
	assert.Error(t, err)

	_, err = tool.Execute(context.Background(), map[string]any{})
	assert.Error(t, err, "missing script")
}

func TestScriptToolTimeout(t *testing.T) {
	tool := NewScriptTool()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := tool.Execute(ctx, map[string]any{"script": "while(true){}"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second, "interrupt must stop the loop")
}

func TestStatusTool(t *testing.T) {
	snapshot := &types.HealthStatus{Status: types.HealthHealthy, TasksProcessed: 3}
	tool := NewStatusTool(func() *types.HealthStatus { return snapshot })

	res, err := tool.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, snapshot, res)
}

func TestRegistryExecuteTimeoutShape(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(NewScriptTool())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := r.Execute(ctx, &types.Task{
		ID:       "t1",
		ToolName: "script.eval",
		Args:     map[string]any{"script": "while(true){}"},
	})
	assert.False(t, res.Success)
	assert.Equal(t, types.ErrTimeout, res.Error)
}
