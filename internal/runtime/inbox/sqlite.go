package inbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore is a Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the inbox table if needed and returns the store.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize inbox schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS inbox_messages (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		received_at TIMESTAMP NOT NULL,
		handled_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_inbox_cleanup ON inbox_messages(status, handled_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, received_at, handled_at FROM inbox_messages WHERE id = ?
	`, id)
	return scanMessage(row)
}

func (s *SQLiteStore) Insert(ctx context.Context, m *Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inbox_messages (id, status, received_at, handled_at)
		VALUES (?, ?, ?, ?)
	`, m.ID, string(m.Status), m.ReceivedAt, nullableTime(m.HandledAt))
	if err != nil {
		return fmt.Errorf("failed to insert inbox message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, m *Message) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE inbox_messages SET status = ?, handled_at = ? WHERE id = ?
	`, string(m.Status), nullableTime(m.HandledAt), m.ID)
	if err != nil {
		return fmt.Errorf("failed to update inbox message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteProcessedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM inbox_messages
		WHERE id IN (
			SELECT id FROM inbox_messages
			WHERE status = ? AND handled_at IS NOT NULL AND handled_at < ?
			LIMIT ?
		)
	`, string(StatusProcessed), cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed messages: %w", err)
	}
	return result.RowsAffected()
}

func scanMessage(row *sql.Row) (*Message, error) {
	var (
		m         Message
		status    string
		handledAt sql.NullTime
	)
	if err := row.Scan(&m.ID, &status, &m.ReceivedAt, &handledAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan inbox message: %w", err)
	}
	m.Status = Status(status)
	if handledAt.Valid {
		t := handledAt.Time
		m.HandledAt = &t
	}
	return &m, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
