// Package outbox drains an external outbox table through the gateway API.
// Producers insert rows with status 0; the dispatcher claims them one at a
// time and sends each through a connected session.
package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Row states of the outbox table.
const (
	StatusPending    = 0
	StatusSent       = 1
	StatusFailed     = 2
	StatusProcessing = 3
)

// claimRetries bounds how often Claim retries after losing a row to another
// dispatcher.
const claimRetries = 3

type Message struct {
	ID          int64
	Destination string
	Body        string
	MediaURL    sql.NullString
	Application string
	CreatedAt   time.Time
}

// Store reads and updates the outbox table. The same queries run on
// Postgres, MySQL and SQLite; placeholders are rewritten for the driver.
type Store struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

func NewStore(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver, now: func() time.Time { return time.Now().UTC() }}
}

// rebind turns $n placeholders into ? for drivers other than postgres.
func (s *Store) rebind(query string) string {
	if s.driver == DriverPostgres {
		return query
	}
	// highest first so $10 does not become ?0
	for i := 9; i >= 1; i-- {
		query = strings.ReplaceAll(query, fmt.Sprintf("$%d", i), "?")
	}
	return query
}

// Claim marks the oldest pending row as processing and returns it. An empty
// application matches every row. Returns nil, nil when nothing is pending.
func (s *Store) Claim(ctx context.Context, application string) (*Message, error) {
	query := `
		SELECT id, destination, message, media_url, application, created_at
		FROM outbox
		WHERE status = $1`
	args := []any{StatusPending}
	if application != "" {
		query += ` AND application = $2`
		args = append(args, application)
	}
	query += ` ORDER BY created_at ASC, id ASC LIMIT 1`
	query = s.rebind(query)

	for range claimRetries {
		var m Message
		err := s.db.QueryRowContext(ctx, query, args...).Scan(
			&m.ID, &m.Destination, &m.Body, &m.MediaURL, &m.Application, &m.CreatedAt,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("select pending outbox row: %w", err)
		}

		claimed, err := s.transition(ctx, m.ID, StatusPending, StatusProcessing)
		if err != nil {
			return nil, err
		}
		if claimed {
			return &m, nil
		}
	}
	return nil, nil
}

func (s *Store) transition(ctx context.Context, id int64, from, to int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE outbox SET status = $1 WHERE id = $2 AND status = $3`), to, id, from)
	if err != nil {
		return false, fmt.Errorf("update outbox row %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update outbox row %d: %w", id, err)
	}
	return n == 1, nil
}

// Release puts a claimed row back in the queue.
func (s *Store) Release(ctx context.Context, id int64) error {
	if _, err := s.transition(ctx, id, StatusProcessing, StatusPending); err != nil {
		return err
	}
	return nil
}

func (s *Store) MarkSent(ctx context.Context, id int64, sessionID, messageID string) error {
	query := `
		UPDATE outbox
		SET status = $1, sent_at = $2, sent_via = $3, message_id = $4, error = NULL
		WHERE id = $5`
	return s.exec(ctx, id, query, StatusSent, s.now(), sessionID, messageID, id)
}

func (s *Store) MarkFailed(ctx context.Context, id int64, reason string) error {
	query := `UPDATE outbox SET status = $1, error = $2 WHERE id = $3`
	return s.exec(ctx, id, query, StatusFailed, reason, id)
}

func (s *Store) exec(ctx context.Context, id int64, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("update outbox row %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("outbox row %d not found", id)
	}
	return nil
}
