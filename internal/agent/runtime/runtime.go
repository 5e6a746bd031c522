// Package runtime starts worker processes, supervises them against a
// deadline and turns what they did into a models.Result.
package runtime

import (
	"time"
)

// Event is a run lifecycle notification published to subscribers.
type Event struct {
	Type      string         `json:"type"`
	RunID     string         `json:"run_id,omitempty"`
	TypeName  string         `json:"agent_type,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Event types.
const (
	EventRunStarted  = "run_started"
	EventRunFinished = "run_finished"
	EventMessage     = "message"
)

// State is the supervisor's view of a run.
type State string

const (
	Running   State = "running"
	Succeeded State = "succeeded"
	Failed    State = "failed"
	TimedOut  State = "timed_out"
)

// Terminator stops a running worker. Terminate asks politely, Kill does not.
// Implementations are per platform.
type Terminator interface {
	Terminate() error
	Kill() error
}
