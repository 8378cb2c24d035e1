package model

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store is the Postgres-backed durable store for sessions and messages.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const sessionColumns = `
	id, session_id, name, status, is_connected, qr_code, phone_number,
	last_connected_at, webhook_url, webhook_secret, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var s Session
	var status string
	err := row.Scan(
		&s.ID,
		&s.SessionID,
		&s.Name,
		&status,
		&s.IsConnected,
		&s.QRCode,
		&s.PhoneNumber,
		&s.LastConnectedAt,
		&s.WebhookURL,
		&s.WebhookSecret,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Status = Status(status)
	return &s, nil
}

func (st *Store) FindSession(ctx context.Context, sessionID string) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE session_id = $1`

	s, err := scanSession(st.db.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find session %s: %w", sessionID, err)
	}
	return s, nil
}

// CreateSession inserts a fresh record in the connecting state. Creating an
// id that already exists returns the existing row.
func (st *Store) CreateSession(ctx context.Context, sessionID string) (*Session, error) {
	query := `
		INSERT INTO sessions (session_id, status, is_connected)
		VALUES ($1, $2, false)
		ON CONFLICT (session_id) DO NOTHING
	`
	if _, err := st.db.ExecContext(ctx, query, sessionID, string(StatusConnecting)); err != nil {
		return nil, fmt.Errorf("create session %s: %w", sessionID, err)
	}
	return st.FindSession(ctx, sessionID)
}

func (st *Store) UpdateSession(ctx context.Context, sessionID string, u SessionUpdate) error {
	if u.Empty() {
		return nil
	}

	var sets []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(clause, len(args)))
	}

	if u.Name != nil {
		add("name = $%d", nullString(*u.Name))
	}
	if u.Status != nil {
		add("status = $%d", string(*u.Status))
	}
	if u.IsConnected != nil {
		add("is_connected = $%d", *u.IsConnected)
	}
	if u.QRCode != nil {
		add("qr_code = $%d", nullString(*u.QRCode))
	}
	if u.PhoneNumber != nil && *u.PhoneNumber != "" {
		// the number is fixed once known
		add("phone_number = COALESCE(phone_number, $%d)", *u.PhoneNumber)
	}
	if u.LastConnectedAt != nil {
		add("last_connected_at = $%d", *u.LastConnectedAt)
	}
	if u.WebhookURL != nil {
		add("webhook_url = $%d", nullString(*u.WebhookURL))
	}
	if u.WebhookSecret != nil {
		add("webhook_secret = $%d", nullString(*u.WebhookSecret))
	}
	sets = append(sets, "updated_at = NOW()")

	args = append(args, sessionID)
	query := fmt.Sprintf(`UPDATE sessions SET %s WHERE session_id = $%d`, strings.Join(sets, ", "), len(args))

	res, err := st.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update session %s: %w", sessionID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteSession removes the record; its messages go with it through the
// ON DELETE CASCADE foreign key.
func (st *Store) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := st.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (st *Store) ListSessions(ctx context.Context) ([]Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY created_at DESC`
	return st.querySessions(ctx, query)
}

// ListSessionsByStatus is used at startup to pick the sessions worth restoring.
func (st *Store) ListSessionsByStatus(ctx context.Context, statuses ...Status) ([]Session, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE status = ANY($1) ORDER BY created_at ASC`
	return st.querySessions(ctx, query, pq.Array(names))
}

func (st *Store) querySessions(ctx context.Context, query string, args ...any) ([]Session, error) {
	rows, err := st.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// AppendMessage inserts a message record. Records are never updated; a
// duplicate (session_id, message_id) is ignored.
func (st *Store) AppendMessage(ctx context.Context, m *Message) error {
	query := `
		INSERT INTO messages
			(id, session_id, message_id, remote_jid, from_me, message_type, content, timestamp, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id, message_id) DO NOTHING
	`
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := st.db.ExecContext(ctx, query,
		uuid.New(),
		m.SessionID,
		m.MessageID,
		m.RemoteJID,
		m.FromMe,
		m.MessageType,
		m.Content,
		ts,
		m.Status,
	)
	if err != nil {
		return fmt.Errorf("append message %s/%s: %w", m.SessionID, m.MessageID, err)
	}
	return nil
}

// ListMessages returns the newest messages first.
func (st *Store) ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]Message, error) {
	query := `
		SELECT session_id, message_id, remote_jid, from_me, message_type, content, timestamp, status
		FROM messages
		WHERE session_id = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := st.db.QueryContext(ctx, query, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages %s: %w", sessionID, err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.SessionID,
			&m.MessageID,
			&m.RemoteJID,
			&m.FromMe,
			&m.MessageType,
			&m.Content,
			&m.Timestamp,
			&m.Status,
		); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
