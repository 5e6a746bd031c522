// Package models provides shared types for the agentorch HTTP API, the MCP
// tools and external clients. These types mirror the API JSON and are stable
// for use by pkg/client and other consumers.
package models

import "time"

// Result is the normalized outcome of one worker run. Exactly one of Output
// and Error is set: Output when Success, Error otherwise.
type Result struct {
	RunID                string  `json:"run_id,omitempty"`
	TypeName             string  `json:"agent_type"`
	Status               string  `json:"status"`
	Success              bool    `json:"success"`
	Output               *string `json:"output"`
	Error                *string `json:"error"`
	Stderr               *string `json:"stderr,omitempty"`
	ExitCode             *int    `json:"exit_code,omitempty"`
	Workspace            string  `json:"workspace,omitempty"`
	ExecutionTimeSeconds float64 `json:"execution_time_seconds"`
	EstimatedCost        float64 `json:"estimated_cost_usd"`
}

// Run is a persisted worker run.
type Run struct {
	RunID            string     `json:"run_id"`
	TypeName         string     `json:"agent_type"`
	Task             string     `json:"task"`
	Workspace        string     `json:"workspace,omitempty"`
	Status           string     `json:"status"`
	ExitCode         *int       `json:"exit_code,omitempty"`
	Output           *string    `json:"output,omitempty"`
	Error            *string    `json:"error,omitempty"`
	ExecutionSeconds float64    `json:"execution_time_seconds"`
	EstimatedCost    float64    `json:"estimated_cost_usd"`
	CallbackGroup    *string    `json:"callback_group,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
}

// RunStats aggregates runs of one worker type.
type RunStats struct {
	TypeName       string     `json:"agent_type"`
	Total          int64      `json:"total_spawns"`
	Succeeded      int64      `json:"successful"`
	Failed         int64      `json:"failed"`
	TimedOut       int64      `json:"timed_out"`
	AvgExecSeconds float64    `json:"avg_execution_seconds"`
	TotalCost      float64    `json:"total_cost_usd"`
	FirstSpawn     *time.Time `json:"first_spawn,omitempty"`
	LastSpawn      *time.Time `json:"last_spawn,omitempty"`
}

// Message is an asynchronous message between runs, groups and the
// coordinator. ToRunID and ToGroup are never both set; both nil means a
// broadcast.
type Message struct {
	MessageID   string         `json:"message_id"`
	FromRunID   *string        `json:"from_run_id,omitempty"`
	ToRunID     *string        `json:"to_run_id,omitempty"`
	ToGroup     *string        `json:"to_group,omitempty"`
	MessageType string         `json:"message_type"`
	Priority    string         `json:"priority"`
	Subject     string         `json:"subject,omitempty"`
	Body        string         `json:"body"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Status      string         `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	ReadAt      *time.Time     `json:"read_at,omitempty"`
}

// SpawnRequest is the body of POST /runs.
type SpawnRequest struct {
	AgentType      string `json:"agent_type"`
	Task           string `json:"task"`
	ProjectRoot    string `json:"project_root"`
	TimeoutSeconds int    `json:"timeout,omitempty"`
	Async          bool   `json:"async,omitempty"`
	CallbackGroup  string `json:"callback_group,omitempty"`
}

// SpawnAccepted is returned for an asynchronous spawn.
type SpawnAccepted struct {
	RunID         string `json:"run_id"`
	AgentType     string `json:"agent_type"`
	Status        string `json:"status"`
	CallbackGroup string `json:"callback_group"`
}

// SendMessageRequest is the body of POST /messages.
type SendMessageRequest struct {
	FromRunID   string         `json:"from_run_id,omitempty"`
	ToRunID     string         `json:"to_run_id,omitempty"`
	ToGroup     string         `json:"to_group,omitempty"`
	MessageType string         `json:"message_type,omitempty"`
	Priority    string         `json:"priority,omitempty"`
	Subject     string         `json:"subject,omitempty"`
	Body        string         `json:"body"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ReplyRequest is the body of POST /messages/{id}/reply.
type ReplyRequest struct {
	FromRunID string `json:"from_run_id,omitempty"`
	Body      string `json:"body"`
}

// BatchSpawnRequest is the body of POST /runs/batch. Runs execute
// concurrently; results come back in request order.
type BatchSpawnRequest struct {
	Runs []SpawnRequest `json:"runs"`
}

// BatchSpawnResponse is returned by POST /runs/batch.
type BatchSpawnResponse struct {
	Results []Result `json:"results"`
}

// MessageAccepted is returned when a message is stored.
type MessageAccepted struct {
	MessageID string `json:"message_id"`
}

// CatalogReloaded is returned by POST /catalog/reload.
type CatalogReloaded struct {
	Types []string `json:"types"`
}
