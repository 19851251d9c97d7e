// Package runtime wires the relaybox pipeline: the unit-of-work source, the
// outbox processor, the inbox dispatcher and cleanup sweep, and the event bus
// over the configured broker transport.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/burgan-tech/relaybox/internal/runtime/bus"
	configpkg "github.com/burgan-tech/relaybox/internal/runtime/config"
	"github.com/burgan-tech/relaybox/internal/runtime/envelope"
	errspkg "github.com/burgan-tech/relaybox/internal/runtime/errors"
	"github.com/burgan-tech/relaybox/internal/runtime/inbox"
	loggingpkg "github.com/burgan-tech/relaybox/internal/runtime/logging"
	metricspkg "github.com/burgan-tech/relaybox/internal/runtime/metrics"
	"github.com/burgan-tech/relaybox/internal/runtime/outbox"
	"github.com/burgan-tech/relaybox/internal/runtime/uow"
	transportpkg "github.com/burgan-tech/relaybox/transport"
)

// ServiceDependencies holds the optional collaborators a Service can use.
// Leave fields nil to get the config-driven defaults.
type ServiceDependencies struct {
	// Brokers supplies pre-built transports keyed by broker name. When empty
	// the transport registry builds one from the config's PubSubSystem.
	Brokers       map[string]transportpkg.Transport
	DefaultBroker string

	// OutboxStore and InboxStore override the config-driven store selection.
	OutboxStore outbox.Store
	InboxStore  inbox.Store

	// DB overrides the database handle used for unit-of-work scopes. When
	// nil, one is opened from the config's PostgresURL or SQLiteFile.
	DB *sql.DB

	// ConnectionResolver routes scopes to per-tenant databases.
	ConnectionResolver uow.ConnectionResolver

	// Serializer overrides the envelope wire format. Defaults to JSON.
	Serializer envelope.Serializer

	// TopicNaming and TopicOverrides control event-to-topic routing.
	TopicNaming    bus.TopicNamer
	TopicOverrides map[string]string

	// Registry overrides the transport registry. Defaults to the global one.
	Registry *transportpkg.Registry

	// MetricsRegistry receives the pipeline's collectors when metrics are
	// enabled. Defaults to prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
}

// Service runs the full pipeline. Construct it with TryNewService, register
// subscriptions, then call Start.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	bus       *bus.Bus
	source    *uow.Source
	processor *outbox.Processor
	cleanup   *inbox.CleanupService
	metrics   *metricspkg.Metrics

	db *sql.DB
}

// NewService constructs a Service and panics on configuration errors. Use
// TryNewService when the caller wants to handle them.
func NewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) *Service {
	s, err := TryNewService(ctx, conf, log, deps)
	if err != nil {
		panic(err)
	}
	return s
}

// TryNewService constructs a Service for the supplied configuration.
func TryNewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	log.Info("Creating relaybox service", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"config":        conf,
	})

	s := &Service{Conf: conf, Logger: log}

	if conf.MetricsEnabled {
		reg := deps.MetricsRegistry
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		s.metrics = metricspkg.New(reg)
	}

	brokers := deps.Brokers
	if len(brokers) == 0 {
		registry := deps.Registry
		if registry == nil {
			registry = transportpkg.DefaultRegistry
		}
		built, err := registry.Build(ctx, conf, loggingpkg.NewWatermillAdapter(log))
		if err != nil {
			return nil, err
		}
		brokers = map[string]transportpkg.Transport{conf.PubSubSystem: built}
		if deps.DefaultBroker == "" {
			deps.DefaultBroker = conf.PubSubSystem
		}
	}

	if err := s.setupStores(&deps, conf); err != nil {
		return nil, err
	}
	outboxStore := deps.OutboxStore
	inboxStore := deps.InboxStore

	dispatcher, err := inbox.NewDispatcher(inboxStore, log, s.metrics)
	if err != nil {
		return nil, err
	}

	serializer := deps.Serializer
	if serializer == nil {
		serializer = envelope.NewJSONSerializer()
	}

	s.bus, err = bus.New(bus.Options{
		Brokers:        brokers,
		DefaultBroker:  deps.DefaultBroker,
		Serializer:     serializer,
		Dispatcher:     dispatcher,
		TopicNaming:    deps.TopicNaming,
		TopicOverrides: deps.TopicOverrides,
		Logger:         log,
		Metrics:        s.metrics,
	})
	if err != nil {
		return nil, err
	}

	var db uow.Beginner
	if s.db != nil {
		db = uow.WrapDB(s.db)
	}
	sourceOpts := []uow.SourceOption{}
	if deps.ConnectionResolver != nil {
		sourceOpts = append(sourceOpts, uow.WithConnectionResolver(deps.ConnectionResolver))
	}
	s.source, err = uow.NewSource(db, outboxStore, serializer, sourceOpts...)
	if err != nil {
		return nil, err
	}

	s.processor, err = outbox.NewProcessor(outboxStore, s.bus, s.bus.ResolveTopic, outbox.ProcessorConfig{
		BatchSize:       conf.OutboxBatchSize,
		MaxRetryCount:   conf.OutboxMaxRetryCount,
		RetryBaseDelay:  conf.OutboxRetryBaseDelay,
		RetentionPeriod: conf.OutboxRetentionPeriod,
		PollInterval:    conf.OutboxPollInterval,
	}, log, s.metrics)
	if err != nil {
		return nil, err
	}

	s.cleanup, err = inbox.NewCleanupService(inboxStore, inbox.CleanupConfig{
		Interval:        conf.InboxCleanupInterval,
		BatchSize:       conf.InboxCleanupBatchSize,
		RetentionPeriod: conf.InboxRetentionPeriod,
	}, log, s.metrics)
	if err != nil {
		return nil, err
	}

	return s, nil
}

// setupStores fills in deps.OutboxStore and deps.InboxStore from the config
// when the caller did not supply them, opening a database handle as needed.
func (s *Service) setupStores(deps *ServiceDependencies, conf *configpkg.Config) error {
	s.db = deps.DB

	needDB := deps.OutboxStore == nil || deps.InboxStore == nil
	if s.db == nil && needDB {
		switch {
		case conf.PostgresURL != "":
			db, err := sql.Open("postgres", conf.PostgresURL)
			if err != nil {
				return fmt.Errorf("open postgres: %w", err)
			}
			s.db = db
		case conf.SQLiteFile != "":
			db, err := sql.Open("sqlite3", conf.SQLiteFile)
			if err != nil {
				return fmt.Errorf("open sqlite: %w", err)
			}
			s.db = db
		}
	}

	var err error
	if deps.OutboxStore == nil {
		deps.OutboxStore, err = s.buildOutboxStore(conf)
		if err != nil {
			return err
		}
	}
	if deps.InboxStore == nil {
		deps.InboxStore, err = s.buildInboxStore(conf)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) buildOutboxStore(conf *configpkg.Config) (outbox.Store, error) {
	switch {
	case conf.PostgresURL != "":
		return outbox.NewPostgresStore(s.db)
	case conf.SQLiteFile != "":
		return outbox.NewSQLiteStore(s.db)
	default:
		return outbox.NewMemoryStore(), nil
	}
}

func (s *Service) buildInboxStore(conf *configpkg.Config) (inbox.Store, error) {
	switch {
	case conf.PostgresURL != "":
		return inbox.NewPostgresStore(s.db)
	case conf.SQLiteFile != "":
		return inbox.NewSQLiteStore(s.db)
	default:
		return inbox.NewMemoryStore(), nil
	}
}

// Start runs the pipeline loops until the context is cancelled: the bus
// subscriptions, the outbox processor, the inbox cleanup sweep, and the
// metrics endpoint when enabled.
func (s *Service) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.bus.Run(ctx) })
	g.Go(func() error { return s.processor.Run(ctx) })
	g.Go(func() error { return s.cleanup.Run(ctx) })

	if s.Conf.MetricsEnabled && s.Conf.MetricsPort > 0 {
		g.Go(func() error { return s.serveMetrics(ctx) })
	}

	return g.Wait()
}

func (s *Service) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.Conf.MetricsPort),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()

	s.Logger.Info("Starting metrics server", loggingpkg.LogFields{"address": server.Addr})
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return ctx.Err()
}

// CreateUnitOfWork opens a new operation scope.
func (s *Service) CreateUnitOfWork(ctx context.Context, opts uow.Options) (*uow.UnitOfWork, error) {
	return s.source.Create(ctx, opts)
}

// Publish sends a typed domain event through the bus.
func (s *Service) Publish(ctx context.Context, e envelope.Event) error {
	return s.bus.Publish(ctx, e)
}

// PublishTo sends a typed domain event with explicit routing.
func (s *Service) PublishTo(ctx context.Context, e envelope.Event, topic, brokerName string) error {
	return s.bus.PublishTo(ctx, e, topic, brokerName)
}

// Subscribe registers a handler for an event name. Call before Start.
func (s *Service) Subscribe(eventName string, handler bus.Handler) error {
	return s.bus.Subscribe(eventName, handler)
}

// Bus exposes the event bus for advanced wiring.
func (s *Service) Bus() *bus.Bus { return s.bus }

// Metrics returns the pipeline collectors, or nil when metrics are disabled.
func (s *Service) Metrics() *metricspkg.Metrics { return s.metrics }

// Close releases the database handle the service opened.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
