package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore is a Store backed by PostgreSQL. Claiming combines
// FOR UPDATE SKIP LOCKED with a locked_until lease, so horizontally scaled
// processor instances never claim the same row concurrently.
type PostgresStore struct {
	db          *sql.DB
	lockTimeout time.Duration
}

// NewPostgresStore creates the outbox table if needed and returns the store.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db, lockTimeout: DefaultLockTimeout}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize outbox schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS outbox_messages (
		id TEXT PRIMARY KEY,
		event_name TEXT NOT NULL,
		event_data BYTEA NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		processed_at TIMESTAMPTZ,
		retry_count INTEGER NOT NULL DEFAULT 0,
		next_retry_at TIMESTAMPTZ,
		last_error TEXT NOT NULL DEFAULT '',
		extra_properties TEXT,
		locked_until TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox_messages(processed_at, next_retry_at, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *PostgresStore) Add(ctx context.Context, ex Execer, msgs ...*Message) error {
	if ex == nil {
		ex = s.db
	}
	for _, m := range msgs {
		props, err := marshalProperties(m.ExtraProperties)
		if err != nil {
			return err
		}
		_, err = ex.ExecContext(ctx, `
			INSERT INTO outbox_messages (id, event_name, event_data, created_at, retry_count, last_error, extra_properties)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, m.ID, m.EventName, m.EventData, m.CreatedAt, m.RetryCount, m.LastError, props)
		if err != nil {
			return fmt.Errorf("failed to insert outbox message: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) ClaimPending(ctx context.Context, now time.Time, limit, maxRetryCount int) ([]*Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer rollback(tx)

	rows, err := tx.QueryContext(ctx, `
		SELECT id, event_name, event_data, created_at, processed_at, retry_count, next_retry_at, last_error, extra_properties
		FROM outbox_messages
		WHERE processed_at IS NULL
		AND retry_count < $1
		AND (next_retry_at IS NULL OR next_retry_at <= $2)
		AND (locked_until IS NULL OR locked_until < $2)
		ORDER BY created_at ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`, maxRetryCount, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending messages: %w", err)
	}

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	if len(msgs) > 0 {
		ids := make([]string, len(msgs))
		for i, m := range msgs {
			ids[i] = m.ID
		}
		lockUntil := now.Add(s.lockTimeout)
		if _, err := tx.ExecContext(ctx, `UPDATE outbox_messages SET locked_until = $1 WHERE id = ANY($2)`, lockUntil, pq.Array(ids)); err != nil {
			return nil, fmt.Errorf("failed to lock messages: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return msgs, nil
}

func (s *PostgresStore) Save(ctx context.Context, msgs ...*Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin save transaction: %w", err)
	}
	defer rollback(tx)

	for _, m := range msgs {
		_, err := tx.ExecContext(ctx, `
			UPDATE outbox_messages
			SET processed_at = $1, retry_count = $2, next_retry_at = $3, last_error = $4, locked_until = NULL
			WHERE id = $5
		`, nullableTime(m.ProcessedAt), m.RetryCount, nullableTime(m.NextRetryAt), m.LastError, m.ID)
		if err != nil {
			return fmt.Errorf("failed to save outbox message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit save: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteProcessedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM outbox_messages
		WHERE id IN (
			SELECT id FROM outbox_messages
			WHERE processed_at IS NOT NULL AND processed_at < $1
			ORDER BY processed_at ASC
			LIMIT $2
		)
	`, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed messages: %w", err)
	}
	return result.RowsAffected()
}
