package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const sessionColumns = `id, user_id, agent, status, created_at, updated_at`

const messageColumns = `id, session_id, role, content, product_id, created_at`

// --- Sessions ---

// CreateSession inserts s and returns it with the assigned id.
func (s *Store) CreateSession(ctx context.Context, cs ChatSession) (ChatSession, error) {
	if cs.CreatedAt.IsZero() {
		cs.CreatedAt = time.Now()
	}
	if cs.UpdatedAt.IsZero() {
		cs.UpdatedAt = cs.CreatedAt
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (user_id, agent, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		cs.UserID, cs.Agent, cs.Status, formatTime(cs.CreatedAt), formatTime(cs.UpdatedAt),
	)
	if err != nil {
		return ChatSession{}, fmt.Errorf("inserting session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ChatSession{}, fmt.Errorf("reading session id: %w", err)
	}
	cs.ID = id
	cs.CreatedAt = cs.CreatedAt.UTC()
	cs.UpdatedAt = cs.UpdatedAt.UTC()
	return cs, nil
}

func (s *Store) GetSession(ctx context.Context, id int64) (ChatSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM chat_sessions WHERE id = ?`, id)
	return scanSession(row)
}

// LatestSession returns the most recently updated session of userID for
// agent, or ErrNotFound.
func (s *Store) LatestSession(ctx context.Context, userID int64, agent string) (ChatSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM chat_sessions
		WHERE user_id = ? AND agent = ?
		ORDER BY updated_at DESC, id DESC LIMIT 1`, userID, agent)
	return scanSession(row)
}

func scanSession(row *sql.Row) (ChatSession, error) {
	var cs ChatSession
	var createdAt, updatedAt string
	err := row.Scan(&cs.ID, &cs.UserID, &cs.Agent, &cs.Status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ChatSession{}, ErrNotFound
	}
	if err != nil {
		return ChatSession{}, err
	}
	if cs.CreatedAt, err = parseTime(createdAt); err != nil {
		return ChatSession{}, fmt.Errorf("parsing created_at for session %d: %w", cs.ID, err)
	}
	if cs.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return ChatSession{}, fmt.Errorf("parsing updated_at for session %d: %w", cs.ID, err)
	}
	return cs, nil
}

// --- Messages ---

// AppendMessage inserts m and returns it with the assigned id.
func (s *Store) AppendMessage(ctx context.Context, m ChatMessage) (ChatMessage, error) {
	return insertMessage(ctx, s.db, m)
}

// FinishTurn stores the assistant message and moves the session's
// updated_at to touchedAt in one transaction.
func (s *Store) FinishTurn(ctx context.Context, m ChatMessage, touchedAt time.Time) (ChatMessage, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("beginning turn transaction: %w", err)
	}
	defer tx.Rollback()

	saved, err := insertMessage(ctx, tx, m)
	if err != nil {
		return ChatMessage{}, err
	}

	res, err := tx.ExecContext(ctx, `UPDATE chat_sessions SET updated_at = ? WHERE id = ?`, formatTime(touchedAt), m.SessionID)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("touching session %d: %w", m.SessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ChatMessage{}, err
	}
	if n == 0 {
		return ChatMessage{}, ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return ChatMessage{}, fmt.Errorf("committing turn: %w", err)
	}
	return saved, nil
}

// RecentMessages returns up to limit messages of the session, newest first.
func (s *Store) RecentMessages(ctx context.Context, sessionID int64, limit int) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM chat_messages
		WHERE session_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// ListMessages returns every message of the session in display order.
func (s *Store) ListMessages(ctx context.Context, sessionID int64) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM chat_messages
		WHERE session_id = ?
		ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMessage(ctx context.Context, db execer, m ChatMessage) (ChatMessage, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	var productID sql.NullInt64
	if m.ProductID != nil {
		productID = sql.NullInt64{Int64: *m.ProductID, Valid: true}
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO chat_messages (session_id, role, content, product_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.SessionID, m.Role, m.Content, productID, formatTime(m.CreatedAt),
	)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("inserting %s message: %w", m.Role, err)
	}
	if m.ID, err = res.LastInsertId(); err != nil {
		return ChatMessage{}, fmt.Errorf("reading message id: %w", err)
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}

func scanMessages(rows *sql.Rows) ([]ChatMessage, error) {
	defer rows.Close()

	msgs := []ChatMessage{}
	for rows.Next() {
		var m ChatMessage
		var productID sql.NullInt64
		var createdAt string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &productID, &createdAt); err != nil {
			return nil, err
		}
		if productID.Valid {
			id := productID.Int64
			m.ProductID = &id
		}
		t, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for message %d: %w", m.ID, err)
		}
		m.CreatedAt = t
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
