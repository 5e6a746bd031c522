package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ankittk/agentorch/pkg/models"
)

func (s *sqliteStore) InsertMessage(ctx context.Context, m models.Message) error {
	md, err := EncodeMetadata(m.Metadata)
	if err != nil {
		return err
	}
	var mdArg any
	if md != nil {
		mdArg = string(md)
	}
	_, err = s.stmtInsertMsg.ExecContext(ctx, m.MessageID, m.FromRunID, m.ToRunID, m.ToGroup, m.MessageType,
		m.Priority, m.Subject, m.Body, mdArg, m.Status, Nanos(m.CreatedAt))
	return err
}

func (s *sqliteStore) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	m, err := ScanMessage(s.stmtGetMsg.QueryRowContext(ctx, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrNotFound
	}
	return m, err
}

func (s *sqliteStore) QueryInbox(ctx context.Context, q InboxQuery) ([]models.Message, error) {
	query, args := InboxSQL(q, Question)
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []models.Message{}
	for rows.Next() {
		m, err := ScanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) MarkMessageRead(ctx context.Context, messageID string, at time.Time) error {
	return s.transition(ctx, `UPDATE messages SET status='read', read_at=? WHERE message_id=? AND status='pending'`, messageID, at)
}

func (s *sqliteStore) AcknowledgeMessage(ctx context.Context, messageID string, at time.Time) error {
	return s.transition(ctx, `UPDATE messages SET status='acknowledged', read_at=COALESCE(read_at, ?) WHERE message_id=? AND status IN ('pending','read')`, messageID, at)
}

// transition applies a status update; zero affected rows is only an error
// when the message does not exist.
func (s *sqliteStore) transition(ctx context.Context, q, messageID string, at time.Time) error {
	res, err := s.DB.ExecContext(ctx, q, Nanos(at), messageID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var one int
	err = s.DB.QueryRowContext(ctx, `SELECT 1 FROM messages WHERE message_id = ?`, messageID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
