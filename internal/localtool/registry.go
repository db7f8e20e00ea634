// Package localtool implements tools the orchestrator executes in-process,
// without routing through the backend chain.
package localtool

import (
	"context"
	"fmt"
	"sync"

	"btk/orchestrator/pkg/types"
)

// Tool is an in-process capability invokable by name.
type Tool interface {
	// Name returns the unique tool name.
	Name() string
	// Definition describes the tool for discovery endpoints.
	Definition() *types.ToolDefinition
	// Execute runs the tool. The context carries the task deadline.
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// Registry manages local tool registration and lookup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Returns an error if a tool with the same name
// already exists.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return fmt.Errorf("cannot register nil tool")
	}
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool '%s' is already registered", name)
	}
	r.tools[name] = t
	return nil
}

// MustRegister registers a tool and panics on error.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, exists := r.tools[name]
	return t, exists
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	_, exists := r.Get(name)
	return exists
}

// Definitions returns the definitions of every registered tool.
func (r *Registry) Definitions() []*types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*types.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition())
	}
	return defs
}

// Execute looks up a tool and runs it, shaping the outcome as a TaskResult.
func (r *Registry) Execute(ctx context.Context, task *types.Task) *types.TaskResult {
	t, exists := r.Get(task.ToolName)
	if !exists {
		return &types.TaskResult{
			TaskID:     task.ID,
			Success:    false,
			Error:      fmt.Sprintf("local tool '%s' not found", task.ToolName),
			ExecutedBy: "local",
		}
	}

	data, err := t.Execute(ctx, task.Args)
	if err != nil {
		msg := err.Error()
		if ctx.Err() == context.DeadlineExceeded {
			msg = types.ErrTimeout
		}
		return &types.TaskResult{
			TaskID:     task.ID,
			Success:    false,
			Error:      msg,
			ExecutedBy: "local",
		}
	}
	return &types.TaskResult{
		TaskID:     task.ID,
		Success:    true,
		Data:       data,
		ExecutedBy: "local",
	}
}
