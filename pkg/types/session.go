package types

import "time"

// SessionMode selects how steps inside a session are executed.
type SessionMode string

const (
	// SessionModeLive executes steps as they arrive.
	SessionModeLive SessionMode = "live"
	// SessionModeReplay re-runs a previously recorded sequence.
	SessionModeReplay SessionMode = "replay"
)

// Session is a caller-scoped execution context spanning multiple related
// task submissions. It lives only for the lifetime of the process.
type Session struct {
	SessionID   string      `json:"session_id"`
	RunID       string      `json:"run_id"`
	Mode        SessionMode `json:"mode"`
	StepCounter int         `json:"step_counter"`
	StartedAt   time.Time   `json:"started_at"`
}
