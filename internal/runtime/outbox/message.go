// Package outbox implements the durable outbox table and the background
// processor that drains it. Rows are written in the same local transaction as
// the business mutation and published asynchronously afterwards.
package outbox

import (
	"time"

	idspkg "github.com/burgan-tech/relaybox/internal/runtime/ids"
)

// Extra-property keys recognised on outbox rows. They override how the
// processor routes the message.
const (
	PropTopic  = "topic"
	PropBroker = "brokerName"
)

// DefaultMaxErrorLength bounds the persisted last-error text.
const DefaultMaxErrorLength = 1024

// Message is one pending envelope in the outbox table.
//
// A row is created by the unit-of-work commit path inside the business
// transaction, mutated only by the processor, and deleted by the cleanup
// sweep once ProcessedAt is older than the retention period.
type Message struct {
	ID        string
	EventName string
	// EventData holds the serialized envelope bytes. The processor publishes
	// them verbatim; they are never re-encoded.
	EventData []byte
	CreatedAt time.Time

	ProcessedAt *time.Time
	RetryCount  int
	NextRetryAt *time.Time
	LastError   string

	// ExtraProperties stashes routing overrides such as PropTopic and
	// PropBroker.
	ExtraProperties map[string]string
}

// NewMessage creates a pending outbox row for the given serialized envelope.
func NewMessage(eventName string, eventData []byte, extraProperties map[string]string) *Message {
	return &Message{
		ID:              idspkg.NewULID(),
		EventName:       eventName,
		EventData:       eventData,
		CreatedAt:       time.Now().UTC(),
		ExtraProperties: extraProperties,
	}
}

// Processed reports whether the message has been published.
func (m *Message) Processed() bool { return m.ProcessedAt != nil }

// MarkProcessed records a successful publish.
func (m *Message) MarkProcessed(now time.Time) {
	processedAt := now.UTC()
	m.ProcessedAt = &processedAt
	m.LastError = ""
	m.NextRetryAt = nil
}

// MarkFailed records a publish failure: the retry count is incremented, the
// error text persisted (truncated), and the next attempt scheduled with
// exponential backoff: baseDelay * 2^(retryCount-1).
func (m *Message) MarkFailed(now time.Time, err error, baseDelay time.Duration, maxErrorLength int) {
	m.RetryCount++
	m.LastError = truncateError(err, maxErrorLength)

	delay := baseDelay << (m.RetryCount - 1)
	nextRetryAt := now.UTC().Add(delay)
	m.NextRetryAt = &nextRetryAt
}

func truncateError(err error, max int) string {
	if err == nil {
		return ""
	}
	if max <= 0 {
		max = DefaultMaxErrorLength
	}
	text := err.Error()
	if len(text) > max {
		return text[:max]
	}
	return text
}
