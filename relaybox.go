package relaybox

import (
	runtimepkg "github.com/burgan-tech/relaybox/internal/runtime"
	buspkg "github.com/burgan-tech/relaybox/internal/runtime/bus"
	configpkg "github.com/burgan-tech/relaybox/internal/runtime/config"
	envelopepkg "github.com/burgan-tech/relaybox/internal/runtime/envelope"
	errspkg "github.com/burgan-tech/relaybox/internal/runtime/errors"
	idspkg "github.com/burgan-tech/relaybox/internal/runtime/ids"
	inboxpkg "github.com/burgan-tech/relaybox/internal/runtime/inbox"
	loggingpkg "github.com/burgan-tech/relaybox/internal/runtime/logging"
	metadatapkg "github.com/burgan-tech/relaybox/internal/runtime/metadata"
	metricspkg "github.com/burgan-tech/relaybox/internal/runtime/metrics"
	outboxpkg "github.com/burgan-tech/relaybox/internal/runtime/outbox"
	schemapkg "github.com/burgan-tech/relaybox/internal/runtime/schema"
	uowpkg "github.com/burgan-tech/relaybox/internal/runtime/uow"
	transportpkg "github.com/burgan-tech/relaybox/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies

	// Events and envelopes
	Event          = envelopepkg.Event
	AggregateEvent = envelopepkg.AggregateEvent
	Envelope       = envelopepkg.Envelope
	Serializer     = envelopepkg.Serializer
	JSONSerializer = envelopepkg.JSONSerializer

	// Unit of work
	UnitOfWork         = uowpkg.UnitOfWork
	UnitOfWorkOptions  = uowpkg.Options
	UnitOfWorkSource   = uowpkg.Source
	ConnectionResolver = uowpkg.ConnectionResolver

	// Outbox
	OutboxMessage         = outboxpkg.Message
	OutboxStore           = outboxpkg.Store
	OutboxProcessor       = outboxpkg.Processor
	OutboxProcessorConfig = outboxpkg.ProcessorConfig
	TopicResolver         = outboxpkg.TopicResolver

	// Inbox
	InboxMessage       = inboxpkg.Message
	InboxStatus        = inboxpkg.Status
	InboxStore         = inboxpkg.Store
	InboxDispatcher    = inboxpkg.Dispatcher
	InboxCleanupConfig = inboxpkg.CleanupConfig

	// Bus
	Bus        = buspkg.Bus
	BusOptions = buspkg.Options
	Handler    = buspkg.Handler
	TopicNamer = buspkg.TopicNamer

	Metadata = metadatapkg.Metadata
	Metrics  = metricspkg.Metrics

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	// Error taxonomy
	TransactionError   = errspkg.TransactionError
	PublishError       = errspkg.PublishError
	SerializationError = errspkg.SerializationError
	HandlerError       = errspkg.HandlerError

	// Transport
	Transport             = transportpkg.Transport
	TransportBuilder      = transportpkg.Builder
	TransportConfig       = transportpkg.Config
	TransportRegistry     = transportpkg.Registry
	TransportCapabilities = transportpkg.Capabilities
)

var (
	NewService     = runtimepkg.NewService
	TryNewService  = runtimepkg.TryNewService
	ConfigFromEnv  = configpkg.FromEnv
	ValidateConfig = configpkg.ValidateConfig

	NewEnvelope       = envelopepkg.New
	EnvelopeFromEvent = envelopepkg.FromEvent
	NewJSONSerializer = envelopepkg.NewJSONSerializer

	NewBus = buspkg.New

	NewUnitOfWorkSource    = uowpkg.NewSource
	WithConnectionResolver = uowpkg.WithConnectionResolver
	UnitOfWorkContext      = uowpkg.NewContext
	UnitOfWorkFromContext  = uowpkg.FromContext
	WrapDB                 = uowpkg.WrapDB

	NewOutboxProcessor     = outboxpkg.NewProcessor
	NewOutboxMemoryStore   = outboxpkg.NewMemoryStore
	NewOutboxSQLiteStore   = outboxpkg.NewSQLiteStore
	NewOutboxPostgresStore = outboxpkg.NewPostgresStore

	NewInboxDispatcher     = inboxpkg.NewDispatcher
	NewInboxCleanupService = inboxpkg.NewCleanupService
	NewInboxMemoryStore    = inboxpkg.NewMemoryStore
	NewInboxSQLiteStore    = inboxpkg.NewSQLiteStore
	NewInboxPostgresStore  = inboxpkg.NewPostgresStore

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger

	NewMetrics = metricspkg.New

	NewULID = idspkg.NewULID

	SchemaContext     = schemapkg.NewContext
	SchemaFromContext = schemapkg.FromContext
)

// Inbox statuses.
const (
	InboxStatusReceived   = inboxpkg.StatusReceived
	InboxStatusProcessing = inboxpkg.StatusProcessing
	InboxStatusProcessed  = inboxpkg.StatusProcessed
	InboxStatusFailed     = inboxpkg.StatusFailed
)

// Routing property keys recognised on outbox rows.
const (
	PropTopic  = outboxpkg.PropTopic
	PropBroker = outboxpkg.PropBroker
)

// Sentinel errors.
var (
	ErrUnknownBroker  = errspkg.ErrUnknownBroker
	ErrScopeCompleted = errspkg.ErrScopeCompleted
	ErrInboxNotFound  = inboxpkg.ErrNotFound
)
