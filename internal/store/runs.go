package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ankittk/agentorch/pkg/models"
)

func (s *sqliteStore) CreateRun(ctx context.Context, run NewRun) error {
	created := run.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.stmtCreateRun.ExecContext(ctx, run.RunID, run.TypeName, run.Task, run.CallbackGroup, Nanos(created))
	return err
}

func (s *sqliteStore) MarkRunning(ctx context.Context, runID, workspace string, startedAt time.Time) error {
	res, err := s.stmtMarkRunning.ExecContext(ctx, workspace, Nanos(startedAt), runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.missingOrTerminal(ctx, runID)
	}
	return nil
}

func (s *sqliteStore) FinishRun(ctx context.Context, runID string, fin RunFinish) error {
	if !models.IsTerminalRun(fin.Status) {
		return errors.New("finish run: status must be terminal, got " + fin.Status)
	}
	ended := fin.EndedAt
	if ended.IsZero() {
		ended = time.Now()
	}
	res, err := s.stmtFinishRun.ExecContext(ctx, fin.Status, fin.ExitCode, fin.Output, fin.Error,
		fin.Workspace, fin.Workspace, fin.ExecutionSeconds, fin.EstimatedCost, Nanos(ended), runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.missingOrTerminal(ctx, runID)
	}
	return nil
}

func (s *sqliteStore) missingOrTerminal(ctx context.Context, runID string) error {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if models.IsTerminalRun(run.Status) {
		return ErrTerminal
	}
	return nil
}

func (s *sqliteStore) GetRun(ctx context.Context, runID string) (models.Run, error) {
	run, err := ScanRun(s.stmtGetRun.QueryRowContext(ctx, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Run{}, ErrNotFound
	}
	return run, err
}

func (s *sqliteStore) ListRuns(ctx context.Context, f RunFilter) ([]models.Run, error) {
	q, args := ListRunsSQL(f, Question)
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []models.Run{}
	for rows.Next() {
		run, err := ScanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *sqliteStore) RunStats(ctx context.Context, since time.Time) ([]models.RunStats, error) {
	var from int64
	if !since.IsZero() {
		from = Nanos(since)
	}
	rows, err := s.DB.QueryContext(ctx, RunStatsSQL(Question), from)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []models.RunStats{}
	for rows.Next() {
		st, err := ScanRunStats(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
