package models

// Run statuses.
const (
	RunSpawning  = "spawning"
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
	RunTimedOut  = "timed_out"
)

// IsTerminalRun reports whether a run status is final.
func IsTerminalRun(status string) bool {
	switch status {
	case RunSucceeded, RunFailed, RunTimedOut:
		return true
	}
	return false
}

// Message statuses.
const (
	MessagePending      = "pending"
	MessageRead         = "read"
	MessageAcknowledged = "acknowledged"
)

// Message types.
const (
	TypeNotification = "notification"
	TypeStatusUpdate = "status_update"
	TypeQuestion     = "question"
	TypeBroadcast    = "broadcast"
	TypeTaskRequest  = "task_request"
)

// Message priorities.
const (
	PriorityUrgent = "urgent"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

// Default limits.
const (
	DefaultMaxRequestBodyBytes = 1 << 20 // 1 MiB
	DefaultRunListLimit        = 200
	DefaultSSEChannelBuffer    = 256
	DefaultMaxOutputBytes      = 4 << 20
	DefaultMaxConcurrent       = 8
	DefaultCallbackGroup       = "coordinator"
)
