package types

import (
	"fmt"
	"time"
)

// BackendRole defines what kind of execution backend a handle points at.
type BackendRole string

const (
	// RoleAutomation executes browser-automation tool calls.
	RoleAutomation BackendRole = "automation"
	// RoleGeneric executes arbitrary tool calls.
	RoleGeneric BackendRole = "generic"
	// RoleBridge is a backend reached through the message bridge.
	RoleBridge BackendRole = "bridge"
)

// BackendInfo contains backend registration information.
type BackendInfo struct {
	ID     string            `json:"id"`
	Host   string            `json:"host"`
	Port   int               `json:"port"`
	Role   BackendRole       `json:"role"`
	Labels map[string]string `json:"labels,omitempty"`
}

// Addr returns the host:port address of the backend.
func (b BackendInfo) Addr() string {
	return fmt.Sprintf("%s:%d", b.Host, b.Port)
}

// BackendState represents the last known health of a backend.
type BackendState string

const (
	// BackendStateOnline indicates the backend answered its last probe.
	BackendStateOnline BackendState = "online"
	// BackendStateOffline indicates the backend failed its last probe.
	BackendStateOffline BackendState = "offline"
	// BackendStateDegraded indicates the backend answered but reported trouble.
	BackendStateDegraded BackendState = "degraded"
)

// BackendStatus is the mutable health record kept per registered backend.
// The state field is written only by the orchestrator health-check loop;
// LastSeen is additionally refreshed by incoming heartbeats.
type BackendStatus struct {
	State       BackendState `json:"state"`
	Load        float64      `json:"load"`
	ActiveTasks int          `json:"active_tasks"`
	LastSeen    time.Time    `json:"last_seen"`
}

// HealthStatus is the payload of a successful health probe.
type HealthStatus struct {
	Status         string        `json:"status"`
	UptimeMs       int64         `json:"uptime_ms"`
	Load           float64       `json:"load"`
	TasksProcessed int64         `json:"tasks_processed"`
	TasksQueued    int           `json:"tasks_queued"`
	TasksFailed    int64         `json:"tasks_failed"`
	LastError      string        `json:"last_error,omitempty"`
	Memory         *MemoryStats  `json:"memory,omitempty"`
	Latency        *LatencyStats `json:"latency,omitempty"`
}

// LatencyStats summarizes task execution latency in milliseconds.
type LatencyStats struct {
	P50 float64 `json:"p50_ms"`
	P95 float64 `json:"p95_ms"`
	P99 float64 `json:"p99_ms"`
	Max float64 `json:"max_ms"`
}

// MemoryStats reports process memory usage inside a health payload.
type MemoryStats struct {
	Used       uint64  `json:"used"`
	Total      uint64  `json:"total"`
	Percentage float64 `json:"percentage"`
}

const (
	// HealthHealthy means every registered backend is reachable.
	HealthHealthy = "healthy"
	// HealthDegraded means at least one backend is unreachable.
	HealthDegraded = "degraded"
	// HealthUnhealthy means no backend is reachable.
	HealthUnhealthy = "unhealthy"
)
