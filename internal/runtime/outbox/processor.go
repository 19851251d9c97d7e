package outbox

import (
	"context"
	"strings"
	"time"

	errspkg "github.com/burgan-tech/relaybox/internal/runtime/errors"
	loggingpkg "github.com/burgan-tech/relaybox/internal/runtime/logging"
	metricspkg "github.com/burgan-tech/relaybox/internal/runtime/metrics"
)

// Publisher republishes an already-serialized envelope. Implemented by the
// event bus.
type Publisher interface {
	PublishEnvelope(ctx context.Context, topic, brokerName string, data []byte) error
}

// TopicResolver maps an event name to its default topic, used when a row
// carries no topic override.
type TopicResolver func(eventName string) string

// ProcessorConfig tunes the background processing loop. Zero values fall
// back to defaults.
type ProcessorConfig struct {
	BatchSize       int
	MaxRetryCount   int
	RetryBaseDelay  time.Duration
	RetentionPeriod time.Duration
	PollInterval    time.Duration
	MaxErrorLength  int
}

func (cfg ProcessorConfig) withDefaults() ProcessorConfig {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxRetryCount <= 0 {
		cfg.MaxRetryCount = 5
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 2 * time.Second
	}
	if cfg.RetentionPeriod <= 0 {
		cfg.RetentionPeriod = 7 * 24 * time.Hour
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxErrorLength <= 0 {
		cfg.MaxErrorLength = DefaultMaxErrorLength
	}
	return cfg
}

// Processor drains the outbox: it claims due rows, publishes them through
// the bus, applies retry with exponential backoff on failure, and sweeps
// processed rows past retention. Multiple instances may run against the same
// store; the store's claim lease keeps them from racing on a row.
type Processor struct {
	store     Store
	publisher Publisher
	resolve   TopicResolver
	cfg       ProcessorConfig
	logger    loggingpkg.ServiceLogger
	metrics   *metricspkg.Metrics

	nowFn func() time.Time
}

// NewProcessor constructs a Processor. The topic resolver supplies the
// default topic for rows without an override.
func NewProcessor(store Store, publisher Publisher, resolve TopicResolver, cfg ProcessorConfig, logger loggingpkg.ServiceLogger, m *metricspkg.Metrics) (*Processor, error) {
	if store == nil {
		return nil, errspkg.ErrStoreRequired
	}
	if publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if resolve == nil {
		resolve = func(eventName string) string { return strings.ToLower(eventName) }
	}
	return &Processor{
		store:     store,
		publisher: publisher,
		resolve:   resolve,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		metrics:   m,
		nowFn:     time.Now,
	}, nil
}

// Run polls the store until the context is cancelled. Store-level failures
// abort the current tick only; the next tick retries.
func (p *Processor) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.Tick(ctx); err != nil {
				p.logger.Error("outbox tick failed", err, nil)
			}
			if _, err := p.Cleanup(ctx); err != nil {
				p.logger.Error("outbox cleanup failed", err, nil)
			}
		}
	}
}

// Tick processes one batch. Publish failures are isolated per message: the
// failing row is scheduled for retry and the loop continues. Only the final
// save of the touched rows can abort the tick.
func (p *Processor) Tick(ctx context.Context) error {
	now := p.nowFn().UTC()

	msgs, err := p.store.ClaimPending(ctx, now, p.cfg.BatchSize, p.cfg.MaxRetryCount)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	for _, m := range msgs {
		topic, broker := p.routing(m)

		start := p.nowFn()
		err := p.publisher.PublishEnvelope(ctx, topic, broker, m.EventData)
		if p.metrics != nil {
			p.metrics.PublishDuration.Observe(p.nowFn().Sub(start).Seconds())
		}

		if err != nil {
			m.MarkFailed(p.nowFn().UTC(), err, p.cfg.RetryBaseDelay, p.cfg.MaxErrorLength)
			p.logger.Error("outbox publish failed", err, loggingpkg.LogFields{
				"message_id":  m.ID,
				"event_name":  m.EventName,
				"topic":       topic,
				"retry_count": m.RetryCount,
			})
			if p.metrics != nil {
				p.metrics.OutboxPublishFailures.WithLabelValues(topic).Inc()
				if m.RetryCount >= p.cfg.MaxRetryCount {
					p.metrics.OutboxRetriesExhausted.Inc()
				}
			}
			if m.RetryCount >= p.cfg.MaxRetryCount {
				// Left in place for operator visibility; excluded from
				// further selection.
				p.logger.Error("outbox message exhausted retries", err, loggingpkg.LogFields{
					"message_id": m.ID,
					"event_name": m.EventName,
				})
			}
			continue
		}

		m.MarkProcessed(p.nowFn())
		if p.metrics != nil {
			p.metrics.OutboxPublished.WithLabelValues(topic).Inc()
		}
		p.logger.Debug("outbox message published", loggingpkg.LogFields{
			"message_id": m.ID,
			"event_name": m.EventName,
			"topic":      topic,
		})
	}

	return p.store.Save(ctx, msgs...)
}

// Cleanup deletes processed rows older than the retention period, capped at
// the batch size to bound transaction size.
func (p *Processor) Cleanup(ctx context.Context) (int64, error) {
	cutoff := p.nowFn().UTC().Add(-p.cfg.RetentionPeriod)
	deleted, err := p.store.DeleteProcessedBefore(ctx, cutoff, p.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		if p.metrics != nil {
			p.metrics.OutboxCleanupDeleted.Add(float64(deleted))
		}
		p.logger.Debug("outbox cleanup removed rows", loggingpkg.LogFields{"deleted": deleted})
	}
	return deleted, nil
}

func (p *Processor) routing(m *Message) (topic, broker string) {
	if m.ExtraProperties != nil {
		topic = m.ExtraProperties[PropTopic]
		broker = m.ExtraProperties[PropBroker]
	}
	if topic == "" {
		topic = p.resolve(m.EventName)
	}
	return topic, broker
}
