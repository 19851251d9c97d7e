package envelope

import (
	errspkg "github.com/burgan-tech/relaybox/internal/runtime/errors"
	"github.com/burgan-tech/relaybox/internal/runtime/jsoncodec"
)

// Event is implemented by domain events published through the bus.
type Event interface {
	EventName() string
}

// AggregateEvent is optionally implemented by events raised by an aggregate.
// The bus copies the aggregate metadata into the envelope.
type AggregateEvent interface {
	Event
	AggregateID() string
	AggregateType() string
	AggregateVersion() int64
}

// FromEvent builds an envelope for a typed domain event. The event struct
// itself becomes the payload.
func FromEvent(e Event) (Envelope, error) {
	if e == nil {
		return Envelope{}, errspkg.ErrEventRequired
	}
	if e.EventName() == "" {
		return Envelope{}, errspkg.ErrEventNameRequired
	}

	payload, err := jsoncodec.Marshal(e)
	if err != nil {
		return Envelope{}, &errspkg.SerializationError{Err: err}
	}

	env := New(e.EventName(), payload)
	if agg, ok := e.(AggregateEvent); ok {
		env = env.WithAggregate(agg.AggregateID(), agg.AggregateType(), agg.AggregateVersion())
	}
	return env, nil
}
