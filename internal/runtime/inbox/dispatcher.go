package inbox

import (
	"context"
	"fmt"
	"time"

	"github.com/burgan-tech/relaybox/internal/runtime/envelope"
	errspkg "github.com/burgan-tech/relaybox/internal/runtime/errors"
	"github.com/burgan-tech/relaybox/internal/runtime/logging"
	"github.com/burgan-tech/relaybox/internal/runtime/metrics"
)

// Handler processes one deserialized envelope. Returning an error marks the
// inbox row Failed; the broker's redelivery drives the next attempt.
type Handler func(ctx context.Context, env envelope.Envelope) error

// Dispatcher runs handlers with at-most-once effect per event id. Every
// envelope is recorded in the Store before its handler runs, so a redelivery
// of an already processed id is discarded instead of re-executed.
type Dispatcher struct {
	store   Store
	logger  logging.ServiceLogger
	metrics *metrics.Metrics
	nowFn   func() time.Time
}

// NewDispatcher wires a dispatcher over the given store.
func NewDispatcher(store Store, logger logging.ServiceLogger, m *metrics.Metrics) (*Dispatcher, error) {
	if store == nil {
		return nil, errspkg.ErrStoreRequired
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Dispatcher{
		store:   store,
		logger:  logger.With(logging.LogFields{"component": "inbox"}),
		metrics: m,
		nowFn:   time.Now,
	}, nil
}

// Dispatch records the envelope and runs the handler exactly when the event id
// has not been processed before.
//
// A store failure aborts the dispatch with the error; the caller should nack
// so the broker redelivers. A handler failure marks the row Failed and returns
// a *HandlerError. A duplicate of a Processed row is a silent no-op.
func (d *Dispatcher) Dispatch(ctx context.Context, env envelope.Envelope, handler Handler) error {
	if handler == nil {
		return errspkg.ErrHandlerRequired
	}
	if env.ID == "" {
		return &errspkg.SerializationError{Err: fmt.Errorf("envelope id is required")}
	}

	if d.metrics != nil {
		d.metrics.InboxReceived.Inc()
	}

	row, err := d.store.Get(ctx, env.ID)
	switch {
	case err == ErrNotFound:
		row = NewMessage(env.ID, d.nowFn())
		if err := d.store.Insert(ctx, row); err != nil {
			return fmt.Errorf("failed to record inbox receipt: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to look up inbox row: %w", err)
	case row.Status == StatusProcessed:
		if d.metrics != nil {
			d.metrics.InboxDuplicates.Inc()
		}
		d.logger.Debug("discarding duplicate event", logging.LogFields{
			"event_id":   env.ID,
			"event_name": env.EventName,
		})
		return nil
	}

	// Failed and stale Processing rows fall through and are re-attempted.
	row.Status = StatusProcessing
	if err := d.store.Update(ctx, row); err != nil {
		return fmt.Errorf("failed to mark inbox row processing: %w", err)
	}

	if err := handler(ctx, env); err != nil {
		handlerErr := &errspkg.HandlerError{EventID: env.ID, EventName: env.EventName, Err: err}
		if d.metrics != nil {
			d.metrics.InboxHandlerFailures.Inc()
		}
		row.Status = StatusFailed
		if updateErr := d.store.Update(ctx, row); updateErr != nil {
			d.logger.Error("failed to mark inbox row failed", updateErr, logging.LogFields{
				"event_id": env.ID,
			})
		}
		return handlerErr
	}

	row.MarkProcessed(d.nowFn())
	if err := d.store.Update(ctx, row); err != nil {
		return fmt.Errorf("failed to mark inbox row processed: %w", err)
	}

	d.logger.Trace("event processed", logging.LogFields{
		"event_id":   env.ID,
		"event_name": env.EventName,
	})
	return nil
}
