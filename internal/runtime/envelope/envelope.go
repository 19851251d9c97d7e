// Package envelope wraps domain events in a transport-neutral envelope and
// converts it to and from bytes. The serialized form is the durable source of
// truth: outbox rows store it verbatim and the processor republishes the same
// bytes without re-encoding.
package envelope

import (
	"fmt"
	"time"

	errspkg "github.com/burgan-tech/relaybox/internal/runtime/errors"
	idspkg "github.com/burgan-tech/relaybox/internal/runtime/ids"
	"github.com/burgan-tech/relaybox/internal/runtime/jsoncodec"
)

// Envelope is the immutable wrapper around a serialized domain event.
// Constructed on the publishing side, read on the receiving side, never
// mutated in transit.
type Envelope struct {
	// ID uniquely identifies the event. It doubles as the inbox dedup key.
	ID string `json:"id"`

	// EventName is the logical event type, e.g. "order.placed".
	EventName string `json:"eventName"`

	// OccurredAt is the UTC timestamp of the originating occurrence.
	OccurredAt time.Time `json:"occurredAt"`

	// Aggregate metadata, set for domain events raised by an aggregate.
	AggregateID      string `json:"aggregateId,omitempty"`
	AggregateType    string `json:"aggregateType,omitempty"`
	AggregateVersion int64  `json:"aggregateVersion,omitempty"`

	// Payload is the serialized event body.
	Payload []byte `json:"payload,omitempty"`
}

// New constructs an envelope with a generated ULID id and the current UTC
// time.
func New(eventName string, payload []byte) Envelope {
	return Envelope{
		ID:         idspkg.NewULID(),
		EventName:  eventName,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// WithAggregate returns a copy of the envelope carrying aggregate metadata.
func (e Envelope) WithAggregate(id, typ string, version int64) Envelope {
	e.AggregateID = id
	e.AggregateType = typ
	e.AggregateVersion = version
	return e
}

// Validate checks the attributes every envelope must carry.
func (e Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("envelope id is required")
	}
	if e.EventName == "" {
		return fmt.Errorf("envelope event name is required")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("envelope occurred-at is required")
	}
	return nil
}

// Serializer converts envelopes to and from their wire representation.
type Serializer interface {
	Marshal(env Envelope) ([]byte, error)
	Unmarshal(data []byte) (Envelope, error)
}

// JSONSerializer is the default Serializer. The wire format is a flat JSON
// object with the payload carried as base64.
type JSONSerializer struct{}

// NewJSONSerializer returns the default envelope serializer.
func NewJSONSerializer() JSONSerializer { return JSONSerializer{} }

// Marshal encodes the envelope. Invalid envelopes yield a
// *SerializationError.
func (JSONSerializer) Marshal(env Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, &errspkg.SerializationError{Err: err}
	}
	data, err := jsoncodec.Marshal(env)
	if err != nil {
		return nil, &errspkg.SerializationError{Err: err}
	}
	return data, nil
}

// Unmarshal decodes an envelope, returning a *SerializationError for
// malformed or incomplete input.
func (JSONSerializer) Unmarshal(data []byte) (Envelope, error) {
	var env Envelope
	if err := jsoncodec.Unmarshal(data, &env); err != nil {
		return Envelope{}, &errspkg.SerializationError{Err: err}
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, &errspkg.SerializationError{Err: err}
	}
	return env, nil
}
