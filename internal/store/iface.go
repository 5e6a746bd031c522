package store

import (
	"context"
	"errors"
	"time"

	"github.com/ankittk/agentorch/pkg/models"
)

var (
	// ErrNotFound is returned for unknown run or message ids.
	ErrNotFound = errors.New("not found")
	// ErrTerminal is returned when finishing a run that already finished.
	ErrTerminal = errors.New("run already in a terminal state")
)

// Store is the persistence interface for worker runs and messages.
// Implementations: the SQLite store in this package and *postgres.Store.
type Store interface {
	RunStore
	MessageStore
	Close() error
}

// RunStore records worker runs. Terminal rows are never modified or deleted.
type RunStore interface {
	CreateRun(ctx context.Context, run NewRun) error
	MarkRunning(ctx context.Context, runID, workspace string, startedAt time.Time) error
	FinishRun(ctx context.Context, runID string, fin RunFinish) error
	GetRun(ctx context.Context, runID string) (models.Run, error)
	ListRuns(ctx context.Context, f RunFilter) ([]models.Run, error)
	RunStats(ctx context.Context, since time.Time) ([]models.RunStats, error)
}

// MessageStore persists messages for the mailbox.
type MessageStore interface {
	InsertMessage(ctx context.Context, m models.Message) error
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	QueryInbox(ctx context.Context, q InboxQuery) ([]models.Message, error)
	// MarkMessageRead moves a pending message to read. Other states are left alone.
	MarkMessageRead(ctx context.Context, messageID string, at time.Time) error
	// AcknowledgeMessage moves a pending or read message to acknowledged.
	AcknowledgeMessage(ctx context.Context, messageID string, at time.Time) error
}
