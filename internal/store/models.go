// Package store defines the persistence interface for worker runs and
// messages, the SQLite implementation, and the SQL shared with postgres.
package store

import "time"

// NewRun is a run about to be spawned.
type NewRun struct {
	RunID         string
	TypeName      string
	Task          string
	CallbackGroup *string
	CreatedAt     time.Time
}

// RunFinish is the terminal record of a run.
type RunFinish struct {
	Status           string
	ExitCode         *int
	Output           *string
	Error            *string
	Workspace        string
	ExecutionSeconds float64
	EstimatedCost    float64
	EndedAt          time.Time
}

// RunFilter narrows ListRuns. Results are newest first.
type RunFilter struct {
	TypeName string
	Status   string
	Limit    int
}

// InboxQuery selects messages for a reader.
//
// With neither RunID nor Group set, every message not addressed to a
// specific run matches: group mail and broadcasts alike. With Group set,
// that group's mail matches; with RunID set, that run's mail. Setting both
// returns the union. True broadcasts (no recipient at all) are added to
// targeted queries unless ExcludeBroadcasts is set. Read and acknowledged
// messages are skipped unless IncludeRead is set.
type InboxQuery struct {
	RunID             string
	Group             string
	ExcludeBroadcasts bool
	IncludeRead       bool
	Limit             int
}
