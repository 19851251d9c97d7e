package inbox

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no row exists for the event id.
var ErrNotFound = errors.New("relaybox: inbox message not found")

// Store is the durable inbox table.
type Store interface {
	// Get returns the row for the event id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Message, error)

	// Insert records the first receipt of an envelope. Inserting an id that
	// already exists is an error; ids are unique.
	Insert(ctx context.Context, m *Message) error

	// Update persists the row's status and handled timestamp.
	Update(ctx context.Context, m *Message) error

	// DeleteProcessedBefore removes Processed rows handled before cutoff, at
	// most limit per call, and reports how many were deleted.
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}
