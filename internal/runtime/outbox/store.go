package outbox

import (
	"context"
	"database/sql"
	"time"
)

// Execer is the subset of database/sql needed to insert rows inside the
// caller's transaction. Both *sql.Tx and *sql.DB satisfy it.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store is the durable outbox table.
//
// ClaimPending must be safe under concurrent processor instances: no two
// processors may claim the same row at the same time. The SQL
// implementations use a short lock lease for this; see their docs.
type Store interface {
	// Add inserts pending rows. When ex is a *sql.Tx the insert joins the
	// caller's transaction, making the outbox write atomic with the business
	// mutation.
	Add(ctx context.Context, ex Execer, msgs ...*Message) error

	// ClaimPending returns up to limit due rows in creation order: not yet
	// processed, below the retry limit, and with no future NextRetryAt.
	// Claimed rows are leased so concurrent claimers skip them.
	ClaimPending(ctx context.Context, now time.Time, limit, maxRetryCount int) ([]*Message, error)

	// Save persists the mutable fields of the given rows and releases their
	// leases. The save is atomic for the rows actually touched.
	Save(ctx context.Context, msgs ...*Message) error

	// DeleteProcessedBefore removes processed rows older than cutoff, at most
	// limit per call, and reports how many were deleted.
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}
