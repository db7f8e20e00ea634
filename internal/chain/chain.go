// Package chain implements the ordered fallback chain of execution backends.
package chain

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"btk/orchestrator/pkg/logger"
	"btk/orchestrator/pkg/types"
)

// Backend is one member of the fallback chain. *backend.Client satisfies it,
// as does the bridge-connected adapter in api/rest.
type Backend interface {
	ID() string
	Info() types.BackendInfo
	Health(ctx context.Context) *types.HealthStatus
	Tools(ctx context.Context) []*types.ToolDefinition
	InvalidateTools()
	Execute(ctx context.Context, task *types.Task) *types.TaskResult
	Close() error
}

// Chain tries backends in fixed registration order until one succeeds.
// Registration order is never reordered by load; simplicity over optimality
// is deliberate here.
type Chain struct {
	mu   sync.RWMutex
	list []Backend
	byID map[string]Backend
}

// New creates an empty fallback chain.
func New() *Chain {
	return &Chain{byID: make(map[string]Backend)}
}

// Register appends a backend to the end of the chain. A backend ID can be
// registered at most once; there are never two live handles to the same id.
func (c *Chain) Register(b Backend) error {
	if b == nil || b.ID() == "" {
		return fmt.Errorf("backend must have an id")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byID[b.ID()]; exists {
		return fmt.Errorf("backend already registered: %s", b.ID())
	}
	c.byID[b.ID()] = b
	c.list = append(c.list, b)
	return nil
}

// Unregister removes a backend from the chain and closes it.
func (c *Chain) Unregister(id string) error {
	c.mu.Lock()
	b, exists := c.byID[id]
	if !exists {
		c.mu.Unlock()
		return fmt.Errorf("backend not registered: %s", id)
	}
	delete(c.byID, id)
	for i, member := range c.list {
		if member.ID() == id {
			c.list = append(c.list[:i], c.list[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	return b.Close()
}

// Get returns a registered backend by id.
func (c *Chain) Get(id string) (Backend, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.byID[id]
	return b, ok
}

// Backends returns the chain members in registration order.
func (c *Chain) Backends() []Backend {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Backend, len(c.list))
	copy(out, c.list)
	return out
}

// Len returns the number of registered backends.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.list)
}

// Execute routes the task through the chain: backends are tried in
// registration order, stopping at the first success. Every failed backend id
// is accumulated into FallbackChainTried. Each hop past the first consumes
// one retry; execution stops when RetriesLeft hits zero regardless of chain
// position. Only when every reachable backend has failed does the caller see
// a terminal failure carrying the full tried list.
func (c *Chain) Execute(ctx context.Context, task *types.Task) *types.TaskResult {
	backends := c.Backends()
	if len(backends) == 0 {
		return &types.TaskResult{
			TaskID:       task.ID,
			Success:      false,
			Error:        "no backends registered",
			FallbackUsed: true,
		}
	}

	tried := make([]string, 0, len(backends))
	lastErr := ""
	budgetSpent := false

	for i, b := range backends {
		if i > 0 {
			if task.RetriesLeft <= 0 {
				budgetSpent = true
				break
			}
			task.RetriesLeft--
		}

		res := b.Execute(ctx, task)
		if res.Success {
			res.FallbackUsed = i > 0
			res.FallbackChainTried = tried
			return res
		}

		tried = append(tried, b.ID())
		lastErr = res.Error
		logger.Warn("backend failed, advancing fallback chain",
			zap.String("task", task.ID),
			zap.String("backend", b.ID()),
			zap.String("error", res.Error))
	}

	errMsg := fmt.Sprintf("all backends failed, last error: %s", lastErr)
	if budgetSpent {
		errMsg = fmt.Sprintf("fallback chain stopped after %d attempts, retry budget spent, last error: %s", len(tried), lastErr)
	}
	return &types.TaskResult{
		TaskID:             task.ID,
		Success:            false,
		Error:              errMsg,
		FallbackUsed:       true,
		FallbackChainTried: tried,
	}
}
