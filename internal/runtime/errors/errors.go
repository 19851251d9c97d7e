// Package errors defines the error taxonomy of the messaging pipeline.
//
// Four failure classes cross component boundaries: TransactionError (store
// commit/rollback, fatal to the calling business operation), PublishError
// (broker unreachable or rejecting, recovered via outbox retry),
// SerializationError (malformed envelope, not retried), and HandlerError
// (inbox-side application handler failure, recovered via broker redelivery).
package errors

import (
	"fmt"

	sterrors "errors"
)

var (
	ErrPublisherRequired  = sterrors.New("relaybox: publisher is required")
	ErrSubscriberRequired = sterrors.New("relaybox: subscriber is required")
	ErrTopicRequired      = sterrors.New("relaybox: topic is required")
	ErrStoreRequired      = sterrors.New("relaybox: store is required")
	ErrLoggerRequired     = sterrors.New("relaybox: logger is required")
	ErrConfigRequired     = sterrors.New("relaybox: config is required")
	ErrHandlerRequired    = sterrors.New("relaybox: handler function is required")
	ErrEventNameRequired  = sterrors.New("relaybox: event name is required")
	ErrEventRequired      = sterrors.New("relaybox: event payload is required")
	ErrUnknownBroker      = sterrors.New("relaybox: unknown broker name")
	ErrScopeCompleted     = sterrors.New("relaybox: unit of work already completed")
)

// TransactionError reports a failure at the local store's transaction
// boundary. The owning business operation is considered failed; nothing from
// the scope is durable.
type TransactionError struct {
	Op  string // "begin", "commit", or "rollback"
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("relaybox: transaction %s: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// NewTransactionError wraps err with the transaction operation that failed.
func NewTransactionError(op string, err error) *TransactionError {
	return &TransactionError{Op: op, Err: err}
}

// PublishError reports a broker publish failure. Publishes happen after the
// business transaction committed, so this error is never surfaced to the
// original caller; the outbox processor recovers it with retry and backoff.
type PublishError struct {
	Topic  string
	Broker string
	Err    error
}

func (e *PublishError) Error() string {
	if e.Broker != "" {
		return fmt.Sprintf("relaybox: publish to %q on broker %q: %v", e.Topic, e.Broker, e.Err)
	}
	return fmt.Sprintf("relaybox: publish to %q: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// SerializationError reports a malformed envelope. Retrying cannot help, so
// the affected message is logged and left in place for inspection.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("relaybox: envelope serialization: %v", e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// HandlerError reports an inbox-side application handler failure. The inbox
// row is marked Failed and the broker's redelivery drives the next attempt.
type HandlerError struct {
	EventID   string
	EventName string
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("relaybox: handler for %s (id %s): %v", e.EventName, e.EventID, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
