package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ticketbridge-io/ticketbridge/pkg/ticket"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
// WAL mode and a busy timeout are set per connection via the DSN: the poller's
// worker pool writes cursors concurrently, so overlapping writers must wait
// for the lock instead of failing with SQLITE_BUSY.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("state store: open: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS status_cursors (
			ticket_id   TEXT PRIMARY KEY,
			status      TEXT NOT NULL,
			observed_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS transition_records (
			ticket_id    TEXT NOT NULL,
			status       TEXT NOT NULL,
			prior_status TEXT NOT NULL DEFAULT '',
			notified_at  TEXT NOT NULL,
			PRIMARY KEY (ticket_id, status)
		);
	`)
	if err != nil {
		return fmt.Errorf("state store: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Cursor(ctx context.Context, ticketID string) (ticket.StatusCursor, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT ticket_id, status, observed_at FROM status_cursors WHERE ticket_id = ?`, ticketID)

	var cur ticket.StatusCursor
	var observedAt string
	err := row.Scan(&cur.TicketID, &cur.Status, &observedAt)
	if err == sql.ErrNoRows {
		return ticket.StatusCursor{}, false, nil
	}
	if err != nil {
		return ticket.StatusCursor{}, false, fmt.Errorf("state store: cursor: %w", err)
	}
	cur.ObservedAt, _ = time.Parse(time.RFC3339, observedAt)
	return cur, true, nil
}

func (s *SQLiteStore) SetCursor(ctx context.Context, cur ticket.StatusCursor) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO status_cursors (ticket_id, status, observed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(ticket_id) DO UPDATE SET
			status=excluded.status, observed_at=excluded.observed_at
	`, cur.TicketID, cur.Status, cur.ObservedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("state store: set cursor: %w", err)
	}
	return nil
}

func (s *SQLiteStore) HasTransition(ctx context.Context, ticketID, status string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transition_records WHERE ticket_id = ? AND status = ?`,
		ticketID, ticket.NormalizeStatus(status)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("state store: has transition: %w", err)
	}
	return n > 0, nil
}

// AppendTransition relies on the primary key to make the existence check and
// the write a single atomic operation.
func (s *SQLiteStore) AppendTransition(ctx context.Context, rec ticket.TransitionRecord) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO transition_records (ticket_id, status, prior_status, notified_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(ticket_id, status) DO NOTHING
	`, rec.TicketID, ticket.NormalizeStatus(rec.Status), rec.PriorStatus, rec.NotifiedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("state store: append transition: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrTransitionExists
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection (for testing or direct access).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}
