// Package bus is the distributed event bus: typed events go in on the
// publishing side, envelopes come out on the subscribing side. Publishing
// inside a unit-of-work scope stages the event on the scope's outbox;
// publishing outside one sends directly to the broker.
package bus

import (
	"context"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/burgan-tech/relaybox/internal/runtime/envelope"
	errspkg "github.com/burgan-tech/relaybox/internal/runtime/errors"
	idspkg "github.com/burgan-tech/relaybox/internal/runtime/ids"
	"github.com/burgan-tech/relaybox/internal/runtime/inbox"
	"github.com/burgan-tech/relaybox/internal/runtime/logging"
	"github.com/burgan-tech/relaybox/internal/runtime/metadata"
	"github.com/burgan-tech/relaybox/internal/runtime/metrics"
	"github.com/burgan-tech/relaybox/internal/runtime/outbox"
	"github.com/burgan-tech/relaybox/internal/runtime/uow"
	"github.com/burgan-tech/relaybox/transport"
)

// Metadata keys set on outgoing broker messages.
const (
	MetaContentType = "content-type"
	MetaEventName   = "event-name"
)

const tracerName = "github.com/burgan-tech/relaybox"

// Handler processes one received envelope.
type Handler = inbox.Handler

// TopicNamer maps an event name to a topic when no override is configured.
type TopicNamer func(eventName string) string

// Options configure a Bus.
type Options struct {
	// Brokers maps broker names to their transports. At least one entry is
	// required.
	Brokers map[string]transport.Transport

	// DefaultBroker names the broker used when a publish carries no broker
	// override. Defaults to the sole entry when Brokers has exactly one.
	DefaultBroker string

	// Serializer converts envelopes to wire bytes. Defaults to JSON.
	Serializer envelope.Serializer

	// Dispatcher runs inbound handlers with inbox dedup. Required for
	// Subscribe/Run; a publish-only bus may omit it.
	Dispatcher *inbox.Dispatcher

	// TopicNaming supplies default topics. Defaults to the lowercased event
	// name.
	TopicNaming TopicNamer

	// TopicOverrides pins specific event names to topics.
	TopicOverrides map[string]string

	Logger  logging.ServiceLogger
	Metrics *metrics.Metrics
}

// Bus routes events between the application, the outbox, and the brokers.
type Bus struct {
	brokers       map[string]transport.Transport
	defaultBroker string
	serializer    envelope.Serializer
	dispatcher    *inbox.Dispatcher
	naming        TopicNamer
	overrides     map[string]string
	logger        logging.ServiceLogger
	metrics       *metrics.Metrics
	tracer        trace.Tracer

	mu       sync.RWMutex
	handlers map[string][]Handler
}

// New constructs a Bus.
func New(opts Options) (*Bus, error) {
	if len(opts.Brokers) == 0 {
		return nil, errspkg.ErrPublisherRequired
	}
	if opts.DefaultBroker == "" {
		if len(opts.Brokers) != 1 {
			return nil, errspkg.ErrUnknownBroker
		}
		for name := range opts.Brokers {
			opts.DefaultBroker = name
		}
	}
	if _, ok := opts.Brokers[opts.DefaultBroker]; !ok {
		return nil, errspkg.ErrUnknownBroker
	}
	if opts.Serializer == nil {
		opts.Serializer = envelope.NewJSONSerializer()
	}
	if opts.TopicNaming == nil {
		opts.TopicNaming = func(eventName string) string { return strings.ToLower(eventName) }
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Bus{
		brokers:       opts.Brokers,
		defaultBroker: opts.DefaultBroker,
		serializer:    opts.Serializer,
		dispatcher:    opts.Dispatcher,
		naming:        opts.TopicNaming,
		overrides:     opts.TopicOverrides,
		logger:        opts.Logger.With(logging.LogFields{"component": "bus"}),
		metrics:       opts.Metrics,
		tracer:        otel.Tracer(tracerName),
		handlers:      make(map[string][]Handler),
	}, nil
}

// ResolveTopic returns the topic an event name publishes to: the configured
// override when present, otherwise the naming function's answer.
func (b *Bus) ResolveTopic(eventName string) string {
	if topic, ok := b.overrides[eventName]; ok {
		return topic
	}
	return b.naming(eventName)
}

// Publish sends a typed domain event. Inside a unit-of-work scope the event
// is staged on the scope and becomes durable with the scope's commit; outside
// one it goes straight to the broker.
func (b *Bus) Publish(ctx context.Context, e envelope.Event) error {
	return b.PublishTo(ctx, e, "", "")
}

// PublishTo sends a typed domain event with explicit routing. Empty topic or
// broker fall back to the resolved defaults.
func (b *Bus) PublishTo(ctx context.Context, e envelope.Event, topic, brokerName string) error {
	env, err := envelope.FromEvent(e)
	if err != nil {
		return err
	}
	if topic == "" {
		topic = b.ResolveTopic(env.EventName)
	}
	if brokerName == "" {
		brokerName = b.defaultBroker
	}

	if scope := uow.FromContext(ctx); scope != nil {
		return scope.AddEnvelope(env, map[string]string{
			outbox.PropTopic:  topic,
			outbox.PropBroker: brokerName,
		})
	}

	data, err := b.serializer.Marshal(env)
	if err != nil {
		return err
	}
	return b.publish(ctx, topic, brokerName, env.EventName, data)
}

// PublishEnvelope sends already-serialized envelope bytes. This is the path
// the outbox processor drains through; the bytes are forwarded verbatim.
func (b *Bus) PublishEnvelope(ctx context.Context, topic, brokerName string, data []byte) error {
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	if brokerName == "" {
		brokerName = b.defaultBroker
	}
	return b.publish(ctx, topic, brokerName, "", data)
}

func (b *Bus) publish(ctx context.Context, topic, brokerName, eventName string, data []byte) error {
	broker, ok := b.brokers[brokerName]
	if !ok {
		return errspkg.ErrUnknownBroker
	}

	md := metadata.New(MetaContentType, "application/json")
	if eventName != "" {
		md = md.With(MetaEventName, eventName)
	}

	msg := message.NewMessage(idspkg.NewULID(), data)
	msg.Metadata = metadata.ToWatermill(md)
	msg.SetContext(ctx)

	if err := broker.Publisher.Publish(topic, msg); err != nil {
		return &errspkg.PublishError{Topic: topic, Broker: brokerName, Err: err}
	}
	return nil
}

// Subscribe registers a handler for an event name. All handlers registered
// before Run are served; registering after Run only takes effect for topics
// Run already consumes.
func (b *Bus) Subscribe(eventName string, handler Handler) error {
	if eventName == "" {
		return errspkg.ErrEventNameRequired
	}
	if handler == nil {
		return errspkg.ErrHandlerRequired
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventName] = append(b.handlers[eventName], handler)
	return nil
}

// Run consumes the topics of all subscribed event names on the default
// broker until the context is cancelled. It requires a dispatcher.
func (b *Bus) Run(ctx context.Context) error {
	if b.dispatcher == nil {
		return errspkg.ErrHandlerRequired
	}

	topics := b.subscribedTopics()
	if len(topics) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	broker := b.brokers[b.defaultBroker]
	if broker.Subscriber == nil {
		return errspkg.ErrSubscriberRequired
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, topic := range topics {
		messages, err := broker.Subscriber.Subscribe(ctx, topic)
		if err != nil {
			return err
		}
		g.Go(func() error {
			b.consume(ctx, topic, messages)
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})
	return g.Wait()
}

func (b *Bus) subscribedTopics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[string]struct{}, len(b.handlers))
	topics := make([]string, 0, len(b.handlers))
	for eventName := range b.handlers {
		topic := b.ResolveTopic(eventName)
		if _, ok := seen[topic]; ok {
			continue
		}
		seen[topic] = struct{}{}
		topics = append(topics, topic)
	}
	return topics
}

func (b *Bus) consume(ctx context.Context, topic string, messages <-chan *message.Message) {
	for msg := range messages {
		b.handleMessage(ctx, topic, msg)
	}
}

func (b *Bus) handleMessage(ctx context.Context, topic string, msg *message.Message) {
	env, err := b.serializer.Unmarshal(msg.Payload)
	if err != nil {
		// A malformed envelope cannot improve on redelivery; drop it rather
		// than poison the subscription.
		b.logger.Error("discarding malformed envelope", err, logging.LogFields{
			"topic":      topic,
			"message_id": msg.UUID,
		})
		msg.Ack()
		return
	}

	handlers := b.handlersFor(env.EventName)
	if len(handlers) == 0 {
		b.logger.Trace("no handler for event", logging.LogFields{
			"topic":      topic,
			"event_name": env.EventName,
		})
		msg.Ack()
		return
	}

	spanCtx, span := b.tracer.Start(ctx, "relaybox.dispatch", trace.WithAttributes(
		attribute.String("messaging.destination", topic),
		attribute.String("messaging.message.id", env.ID),
		attribute.String("relaybox.event_name", env.EventName),
	))
	err = b.dispatcher.Dispatch(spanCtx, env, func(ctx context.Context, env envelope.Envelope) error {
		for _, h := range handlers {
			if err := h(ctx, env); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
	}
	span.End()

	if err != nil {
		b.logger.Error("dispatch failed", err, logging.LogFields{
			"topic":      topic,
			"event_id":   env.ID,
			"event_name": env.EventName,
		})
		msg.Nack()
		return
	}
	msg.Ack()
}

func (b *Bus) handlersFor(eventName string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.handlers[eventName]
}
