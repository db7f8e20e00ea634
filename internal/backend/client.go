// Package backend provides the per-backend client handle used by the
// fallback chain: health probes, tool discovery with a TTL cache, and
// generic task execution with bounded per-call timeouts.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"btk/orchestrator/pkg/jsonutil"
	"btk/orchestrator/pkg/logger"
	"btk/orchestrator/pkg/types"
)

const (
	// DefaultToolCacheTTL bounds how long a discovered tool list is reused.
	DefaultToolCacheTTL = 30 * time.Second

	// DefaultCallTimeout bounds health probes and discovery calls.
	DefaultCallTimeout = 10 * time.Second
)

// ErrCallTimeout is returned by transports when a call exceeds its deadline.
var ErrCallTimeout = errors.New("call timed out")

// Transport carries envelope-typed requests to one execution backend over
// HTTP or the bridge. Implementations map the message type onto their wire.
type Transport interface {
	// Request performs one request/response round trip. The context deadline
	// bounds the call; timeouts surface as ErrCallTimeout.
	Request(ctx context.Context, msgType types.MessageType, payload any) (json.RawMessage, error)

	// Close releases the transport.
	Close() error
}

// Client is the handle for a single execution backend.
type Client struct {
	info        types.BackendInfo
	transport   Transport
	callTimeout time.Duration
	toolTTL     time.Duration

	// Tool cache; lazily invalidated after the TTL, explicitly invalidated
	// when the orchestrator marks the backend offline.
	cacheMu     sync.Mutex
	toolCache   []*types.ToolDefinition
	toolCacheAt time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithToolCacheTTL overrides the tool cache TTL.
func WithToolCacheTTL(ttl time.Duration) Option {
	return func(c *Client) { c.toolTTL = ttl }
}

// WithCallTimeout overrides the probe/discovery timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.callTimeout = d }
}

// NewClient creates a backend client over the given transport.
func NewClient(info types.BackendInfo, transport Transport, opts ...Option) *Client {
	c := &Client{
		info:        info,
		transport:   transport,
		callTimeout: DefaultCallTimeout,
		toolTTL:     DefaultToolCacheTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the backend identifier.
func (c *Client) ID() string {
	return c.info.ID
}

// Info returns the registration info for this backend.
func (c *Client) Info() types.BackendInfo {
	return c.info
}

// Health probes the backend with a bounded timeout. It returns nil, never an
// error, on any failure, timeout or malformed response; callers treat nil as
// unhealthy.
func (c *Client) Health(ctx context.Context) *types.HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	raw, err := c.transport.Request(ctx, types.MsgHealthCheck, nil)
	if err != nil {
		return nil
	}

	var status types.HealthStatus
	if err := jsonutil.Unmarshal(raw, &status); err != nil {
		return nil
	}
	if status.Status == "" {
		return nil
	}
	return &status
}

// Tools returns the backend's tool list. A cache younger than the TTL is
// served without a network call; on discovery failure the last good cache
// (or an empty list) is returned rather than an error.
func (c *Client) Tools(ctx context.Context) []*types.ToolDefinition {
	c.cacheMu.Lock()
	if c.toolCache != nil && time.Since(c.toolCacheAt) < c.toolTTL {
		cached := c.toolCache
		c.cacheMu.Unlock()
		return cached
	}
	stale := c.toolCache
	c.cacheMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	raw, err := c.transport.Request(ctx, types.MsgToolsList, nil)
	if err != nil {
		logger.Warn("tool discovery failed, serving stale cache",
			zap.String("backend", c.info.ID), zap.Error(err))
		if stale != nil {
			return stale
		}
		return []*types.ToolDefinition{}
	}

	var payload types.ToolsPayload
	if err := jsonutil.Unmarshal(raw, &payload); err != nil {
		if stale != nil {
			return stale
		}
		return []*types.ToolDefinition{}
	}

	c.cacheMu.Lock()
	c.toolCache = payload.Tools
	c.toolCacheAt = time.Now()
	c.cacheMu.Unlock()

	return payload.Tools
}

// InvalidateTools drops the cached tool list immediately.
func (c *Client) InvalidateTools() {
	c.cacheMu.Lock()
	c.toolCache = nil
	c.toolCacheAt = time.Time{}
	c.cacheMu.Unlock()
}

// Execute runs a task against this backend with the task's own timeout. It
// never returns an error: a timeout maps to a TaskResult with
// success=false and error="timeout" so the fallback chain can treat every
// failure uniformly.
func (c *Client) Execute(ctx context.Context, task *types.Task) *types.TaskResult {
	timeout := task.Timeout
	if timeout <= 0 {
		timeout = c.callTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	raw, err := c.transport.Request(ctx, types.MsgTaskExecute, &types.ExecutePayload{
		TaskID:    task.ID,
		ToolName:  task.ToolName,
		Args:      task.Args,
		TimeoutMs: timeout.Milliseconds(),
	})
	elapsed := time.Since(start)

	if err != nil {
		msg := err.Error()
		if errors.Is(err, ErrCallTimeout) || errors.Is(err, context.DeadlineExceeded) {
			msg = types.ErrTimeout
		}
		return &types.TaskResult{
			TaskID:        task.ID,
			Success:       false,
			Error:         msg,
			ExecutedBy:    c.info.ID,
			ExecutionTime: elapsed,
		}
	}

	var payload types.ExecuteResultPayload
	if err := jsonutil.Unmarshal(raw, &payload); err != nil {
		return &types.TaskResult{
			TaskID:        task.ID,
			Success:       false,
			Error:         "malformed execute response: " + err.Error(),
			ExecutedBy:    c.info.ID,
			ExecutionTime: elapsed,
		}
	}

	return &types.TaskResult{
		TaskID:        task.ID,
		Success:       payload.Success,
		Data:          payload.Data,
		Error:         payload.Error,
		ExecutedBy:    c.info.ID,
		ExecutionTime: elapsed,
	}
}

// Close releases the underlying transport.
func (c *Client) Close() error {
	return c.transport.Close()
}
