package inbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates the inbox table if needed and returns the store.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize inbox schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS inbox_messages (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		received_at TIMESTAMPTZ NOT NULL,
		handled_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_inbox_cleanup ON inbox_messages(status, handled_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, received_at, handled_at FROM inbox_messages WHERE id = $1
	`, id)
	return scanMessage(row)
}

func (s *PostgresStore) Insert(ctx context.Context, m *Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inbox_messages (id, status, received_at, handled_at)
		VALUES ($1, $2, $3, $4)
	`, m.ID, string(m.Status), m.ReceivedAt, nullableTime(m.HandledAt))
	if err != nil {
		return fmt.Errorf("failed to insert inbox message: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, m *Message) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE inbox_messages SET status = $1, handled_at = $2 WHERE id = $3
	`, string(m.Status), nullableTime(m.HandledAt), m.ID)
	if err != nil {
		return fmt.Errorf("failed to update inbox message: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteProcessedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM inbox_messages
		WHERE id IN (
			SELECT id FROM inbox_messages
			WHERE status = $1 AND handled_at IS NOT NULL AND handled_at < $2
			ORDER BY handled_at ASC
			LIMIT $3
		)
	`, string(StatusProcessed), cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed messages: %w", err)
	}
	return result.RowsAffected()
}
