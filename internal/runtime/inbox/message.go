// Package inbox records every received envelope so redelivered messages are
// processed at most once, and purges old processed rows on a schedule.
package inbox

import "time"

// Status tracks an inbox row through its lifecycle. Transitions are forward
// only: Received -> Processing -> Processed | Failed. A Failed or stale
// Processing row is re-attempted on redelivery.
type Status string

const (
	StatusReceived   Status = "Received"
	StatusProcessing Status = "Processing"
	StatusProcessed  Status = "Processed"
	StatusFailed     Status = "Failed"
)

// Message is one received envelope. The envelope's event id is the row
// identity and the natural dedup key.
type Message struct {
	ID         string
	Status     Status
	ReceivedAt time.Time
	HandledAt  *time.Time
}

// NewMessage records the first receipt of an envelope id.
func NewMessage(id string, now time.Time) *Message {
	return &Message{
		ID:         id,
		Status:     StatusReceived,
		ReceivedAt: now.UTC(),
	}
}

// MarkProcessed records a successful handler run.
func (m *Message) MarkProcessed(now time.Time) {
	handledAt := now.UTC()
	m.Status = StatusProcessed
	m.HandledAt = &handledAt
}
