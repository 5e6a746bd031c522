package store

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/ankittk/agentorch/pkg/models"
)

// Placeholder renders the n-th (1-based) bind parameter for a dialect.
type Placeholder func(n int) string

// Question is SQLite's placeholder.
func Question(int) string { return "?" }

// Dollar is PostgreSQL's placeholder.
func Dollar(n int) string { return "$" + strconv.Itoa(n) }

// Column lists shared by both dialects.
const (
	RunColumns     = `run_id, type_name, task, workspace, status, exit_code, output, error, execution_seconds, estimated_cost, callback_group, created_at, started_at, ended_at`
	MessageColumns = `message_id, from_run_id, to_run_id, to_group, message_type, priority, subject, body, metadata, status, created_at, read_at`
	// TerminalStatuses is the SQL list of final run states.
	TerminalStatuses = `('succeeded','failed','timed_out')`
)

// InboxSQL builds the inbox query for q.
func InboxSQL(q InboxQuery, ph Placeholder) (string, []any) {
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return ph(len(args))
	}
	const broadcast = `(to_run_id IS NULL AND to_group IS NULL)`

	var recipients []string
	switch {
	case q.RunID == "" && q.Group == "":
		recipients = append(recipients, `to_run_id IS NULL`)
	default:
		if q.RunID != "" {
			recipients = append(recipients, `to_run_id = `+arg(q.RunID))
		}
		if q.Group != "" {
			recipients = append(recipients, `to_group = `+arg(q.Group))
		}
		if !q.ExcludeBroadcasts {
			recipients = append(recipients, broadcast)
		}
	}
	where := []string{"(" + strings.Join(recipients, " OR ") + ")"}
	if !q.IncludeRead {
		where = append(where, `status = `+arg(models.MessagePending))
	}
	sql := `SELECT ` + MessageColumns + ` FROM messages WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_at ASC, seq ASC`
	if q.Limit > 0 {
		sql += ` LIMIT ` + arg(q.Limit)
	}
	return sql, args
}

// ListRunsSQL builds the run listing query for f.
func ListRunsSQL(f RunFilter, ph Placeholder) (string, []any) {
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return ph(len(args))
	}
	var where []string
	if f.TypeName != "" {
		where = append(where, `type_name = `+arg(f.TypeName))
	}
	if f.Status != "" {
		where = append(where, `status = `+arg(f.Status))
	}
	sql := `SELECT ` + RunColumns + ` FROM agent_runs`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = models.DefaultRunListLimit
	}
	sql += ` ORDER BY created_at DESC, seq DESC LIMIT ` + arg(limit)
	return sql, args
}

// RunStatsSQL aggregates runs per type created at or after the first parameter.
func RunStatsSQL(ph Placeholder) string {
	return `SELECT type_name,
  COUNT(*),
  SUM(CASE WHEN status = 'succeeded' THEN 1 ELSE 0 END),
  SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END),
  SUM(CASE WHEN status = 'timed_out' THEN 1 ELSE 0 END),
  AVG(CASE WHEN ended_at IS NOT NULL THEN execution_seconds END),
  COALESCE(SUM(estimated_cost), 0),
  MIN(created_at),
  MAX(created_at)
FROM agent_runs
WHERE created_at >= ` + ph(1) + `
GROUP BY type_name
ORDER BY COUNT(*) DESC, type_name ASC`
}

// Row is satisfied by *sql.Row, *sql.Rows and pgx.Row.
type Row interface {
	Scan(dest ...any) error
}

// ScanRun reads one row selected with RunColumns.
func ScanRun(r Row) (models.Run, error) {
	var run models.Run
	var createdAt int64
	var startedAt, endedAt *int64
	var exitCode *int64
	if err := r.Scan(&run.RunID, &run.TypeName, &run.Task, &run.Workspace, &run.Status, &exitCode,
		&run.Output, &run.Error, &run.ExecutionSeconds, &run.EstimatedCost, &run.CallbackGroup,
		&createdAt, &startedAt, &endedAt); err != nil {
		return models.Run{}, err
	}
	if exitCode != nil {
		c := int(*exitCode)
		run.ExitCode = &c
	}
	run.CreatedAt = FromNanos(createdAt)
	run.StartedAt = fromNanosPtr(startedAt)
	run.EndedAt = fromNanosPtr(endedAt)
	return run, nil
}

// ScanMessage reads one row selected with MessageColumns.
func ScanMessage(r Row) (models.Message, error) {
	var m models.Message
	var metadata []byte
	var createdAt int64
	var readAt *int64
	if err := r.Scan(&m.MessageID, &m.FromRunID, &m.ToRunID, &m.ToGroup, &m.MessageType, &m.Priority,
		&m.Subject, &m.Body, &metadata, &m.Status, &createdAt, &readAt); err != nil {
		return models.Message{}, err
	}
	if len(metadata) > 0 && string(metadata) != "null" {
		if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
			return models.Message{}, err
		}
	}
	m.CreatedAt = FromNanos(createdAt)
	m.ReadAt = fromNanosPtr(readAt)
	return m, nil
}

// ScanRunStats reads one row of RunStatsSQL.
func ScanRunStats(r Row) (models.RunStats, error) {
	var st models.RunStats
	var avg *float64
	var first, last int64
	if err := r.Scan(&st.TypeName, &st.Total, &st.Succeeded, &st.Failed, &st.TimedOut, &avg, &st.TotalCost, &first, &last); err != nil {
		return models.RunStats{}, err
	}
	if avg != nil {
		st.AvgExecSeconds = *avg
	}
	f, l := FromNanos(first), FromNanos(last)
	st.FirstSpawn, st.LastSpawn = &f, &l
	return st, nil
}

// EncodeMetadata returns the JSON column value for metadata; nil when empty.
func EncodeMetadata(md map[string]any) ([]byte, error) {
	if len(md) == 0 {
		return nil, nil
	}
	return json.Marshal(md)
}

// Nanos converts t to the stored timestamp representation.
func Nanos(t time.Time) int64 { return t.UTC().UnixNano() }

// FromNanos converts a stored timestamp back to UTC time.
func FromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func fromNanosPtr(n *int64) *time.Time {
	if n == nil {
		return nil
	}
	t := FromNanos(*n)
	return &t
}
