// Package types defines the core data structures for the task-orchestration core.
//
// This package contains the fundamental types shared by every component:
//   - Task and TaskResult
//   - Backend registration, status and health types
//   - The versioned bridge message envelope
//   - Tool definitions and session contexts
package types
