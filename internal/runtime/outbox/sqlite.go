package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/burgan-tech/relaybox/internal/runtime/jsoncodec"
)

// DefaultLockTimeout is the lease a claimed row holds before another
// processor may claim it again.
const DefaultLockTimeout = 30 * time.Second

// SQLiteStore is a Store backed by a SQLite database. Claiming uses a
// locked_until lease inside a transaction; with SQLite's single-writer model
// this is safe for multiple processor goroutines sharing the same file.
type SQLiteStore struct {
	db          *sql.DB
	lockTimeout time.Duration
}

// NewSQLiteStore creates the outbox table if needed and returns the store.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, lockTimeout: DefaultLockTimeout}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize outbox schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS outbox_messages (
		id TEXT PRIMARY KEY,
		event_name TEXT NOT NULL,
		event_data BLOB NOT NULL,
		created_at TIMESTAMP NOT NULL,
		processed_at TIMESTAMP,
		retry_count INTEGER NOT NULL DEFAULT 0,
		next_retry_at TIMESTAMP,
		last_error TEXT NOT NULL DEFAULT '',
		extra_properties TEXT,
		locked_until TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox_messages(processed_at, next_retry_at, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Add(ctx context.Context, ex Execer, msgs ...*Message) error {
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
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, m.ID, m.EventName, m.EventData, m.CreatedAt, m.RetryCount, m.LastError, props)
		if err != nil {
			return fmt.Errorf("failed to insert outbox message: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) ClaimPending(ctx context.Context, now time.Time, limit, maxRetryCount int) ([]*Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer rollback(tx)

	rows, err := tx.QueryContext(ctx, `
		SELECT id, event_name, event_data, created_at, processed_at, retry_count, next_retry_at, last_error, extra_properties
		FROM outbox_messages
		WHERE processed_at IS NULL
		AND retry_count < ?
		AND (next_retry_at IS NULL OR next_retry_at <= ?)
		AND (locked_until IS NULL OR locked_until < ?)
		ORDER BY created_at ASC
		LIMIT ?
	`, maxRetryCount, now, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending messages: %w", err)
	}

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	lockUntil := now.Add(s.lockTimeout)
	for _, m := range msgs {
		if _, err := tx.ExecContext(ctx, `UPDATE outbox_messages SET locked_until = ? WHERE id = ?`, lockUntil, m.ID); err != nil {
			return nil, fmt.Errorf("failed to lock message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return msgs, nil
}

func (s *SQLiteStore) Save(ctx context.Context, msgs ...*Message) error {
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
			SET processed_at = ?, retry_count = ?, next_retry_at = ?, last_error = ?, locked_until = NULL
			WHERE id = ?
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

func (s *SQLiteStore) DeleteProcessedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM outbox_messages
		WHERE id IN (
			SELECT id FROM outbox_messages
			WHERE processed_at IS NOT NULL AND processed_at < ?
			LIMIT ?
		)
	`, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed messages: %w", err)
	}
	return result.RowsAffected()
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var (
			m           Message
			processedAt sql.NullTime
			nextRetryAt sql.NullTime
			props       sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.EventName, &m.EventData, &m.CreatedAt, &processedAt, &m.RetryCount, &nextRetryAt, &m.LastError, &props); err != nil {
			return nil, fmt.Errorf("failed to scan outbox message: %w", err)
		}
		if processedAt.Valid {
			t := processedAt.Time
			m.ProcessedAt = &t
		}
		if nextRetryAt.Valid {
			t := nextRetryAt.Time
			m.NextRetryAt = &t
		}
		if props.Valid && props.String != "" {
			extra, err := unmarshalProperties(props.String)
			if err != nil {
				return nil, err
			}
			m.ExtraProperties = extra
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

func marshalProperties(props map[string]string) (string, error) {
	if len(props) == 0 {
		return "", nil
	}
	data, err := jsoncodec.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("failed to marshal extra properties: %w", err)
	}
	return string(data), nil
}

func unmarshalProperties(raw string) (map[string]string, error) {
	props := make(map[string]string)
	if err := jsoncodec.Unmarshal([]byte(raw), &props); err != nil {
		return nil, fmt.Errorf("failed to unmarshal extra properties: %w", err)
	}
	return props, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func rollback(tx *sql.Tx) {
	_ = tx.Rollback()
}
