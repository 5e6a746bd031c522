package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ankittk/agentorch/internal/store"
	"github.com/ankittk/agentorch/pkg/models"
)

func (s *Store) CreateRun(ctx context.Context, run store.NewRun) error {
	created := run.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.Pool.Exec(ctx, `INSERT INTO agent_runs(run_id, type_name, task, status, callback_group, created_at) VALUES($1, $2, $3, 'spawning', $4, $5)`,
		run.RunID, run.TypeName, run.Task, run.CallbackGroup, store.Nanos(created))
	return err
}

func (s *Store) MarkRunning(ctx context.Context, runID, workspace string, startedAt time.Time) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE agent_runs SET status='running', workspace=$1, started_at=$2 WHERE run_id=$3 AND status='spawning'`,
		workspace, store.Nanos(startedAt), runID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrTerminal(ctx, runID)
	}
	return nil
}

func (s *Store) FinishRun(ctx context.Context, runID string, fin store.RunFinish) error {
	if !models.IsTerminalRun(fin.Status) {
		return errors.New("finish run: status must be terminal, got " + fin.Status)
	}
	ended := fin.EndedAt
	if ended.IsZero() {
		ended = time.Now()
	}
	tag, err := s.Pool.Exec(ctx, `UPDATE agent_runs SET status=$1, exit_code=$2, output=$3, error=$4,
  workspace=CASE WHEN $5='' THEN workspace ELSE $5 END, execution_seconds=$6, estimated_cost=$7, ended_at=$8
WHERE run_id=$9 AND status NOT IN `+store.TerminalStatuses,
		fin.Status, fin.ExitCode, fin.Output, fin.Error, fin.Workspace, fin.ExecutionSeconds, fin.EstimatedCost, store.Nanos(ended), runID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrTerminal(ctx, runID)
	}
	return nil
}

func (s *Store) missingOrTerminal(ctx context.Context, runID string) error {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if models.IsTerminalRun(run.Status) {
		return store.ErrTerminal
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (models.Run, error) {
	run, err := store.ScanRun(s.Pool.QueryRow(ctx, `SELECT `+store.RunColumns+` FROM agent_runs WHERE run_id = $1`, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Run{}, store.ErrNotFound
	}
	return run, err
}

func (s *Store) ListRuns(ctx context.Context, f store.RunFilter) ([]models.Run, error) {
	q, args := store.ListRunsSQL(f, store.Dollar)
	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Run{}
	for rows.Next() {
		run, err := store.ScanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *Store) RunStats(ctx context.Context, since time.Time) ([]models.RunStats, error) {
	var from int64
	if !since.IsZero() {
		from = store.Nanos(since)
	}
	rows, err := s.Pool.Query(ctx, store.RunStatsSQL(store.Dollar), from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.RunStats{}
	for rows.Next() {
		st, err := store.ScanRunStats(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) InsertMessage(ctx context.Context, m models.Message) error {
	md, err := store.EncodeMetadata(m.Metadata)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, `INSERT INTO messages(message_id, from_run_id, to_run_id, to_group, message_type, priority, subject, body, metadata, status, created_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.MessageID, m.FromRunID, m.ToRunID, m.ToGroup, m.MessageType, m.Priority, m.Subject, m.Body, md, m.Status, store.Nanos(m.CreatedAt))
	return err
}

func (s *Store) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	m, err := store.ScanMessage(s.Pool.QueryRow(ctx, `SELECT `+store.MessageColumns+` FROM messages WHERE message_id = $1`, messageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Message{}, store.ErrNotFound
	}
	return m, err
}

func (s *Store) QueryInbox(ctx context.Context, q store.InboxQuery) ([]models.Message, error) {
	query, args := store.InboxSQL(q, store.Dollar)
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Message{}
	for rows.Next() {
		m, err := store.ScanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) MarkMessageRead(ctx context.Context, messageID string, at time.Time) error {
	return s.transition(ctx, `UPDATE messages SET status='read', read_at=$1 WHERE message_id=$2 AND status='pending'`, messageID, at)
}

func (s *Store) AcknowledgeMessage(ctx context.Context, messageID string, at time.Time) error {
	return s.transition(ctx, `UPDATE messages SET status='acknowledged', read_at=COALESCE(read_at, $1) WHERE message_id=$2 AND status IN ('pending','read')`, messageID, at)
}

func (s *Store) transition(ctx context.Context, q, messageID string, at time.Time) error {
	tag, err := s.Pool.Exec(ctx, q, store.Nanos(at), messageID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var one int
	err = s.Pool.QueryRow(ctx, `SELECT 1 FROM messages WHERE message_id = $1`, messageID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
