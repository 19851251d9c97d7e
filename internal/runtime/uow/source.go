package uow

import (
	"context"

	"github.com/burgan-tech/relaybox/internal/runtime/envelope"
	errspkg "github.com/burgan-tech/relaybox/internal/runtime/errors"
	"github.com/burgan-tech/relaybox/internal/runtime/outbox"
	"github.com/burgan-tech/relaybox/internal/runtime/schema"
)

// ConnectionResolver maps a schema (tenant) name to the database that tenant
// lives on. It is consulted only when the context carries a schema name.
type ConnectionResolver func(schemaName string) (Beginner, error)

// Source creates unit-of-work scopes over a database and an outbox store.
type Source struct {
	db         Beginner
	resolver   ConnectionResolver
	store      outbox.Store
	serializer envelope.Serializer
}

// SourceOption customizes a Source.
type SourceOption func(*Source)

// WithConnectionResolver routes scopes to per-tenant databases based on the
// schema name carried in the context.
func WithConnectionResolver(resolver ConnectionResolver) SourceOption {
	return func(s *Source) { s.resolver = resolver }
}

// NewSource wires a unit-of-work factory. The serializer defaults to the JSON
// envelope serializer when nil.
func NewSource(db Beginner, store outbox.Store, serializer envelope.Serializer, opts ...SourceOption) (*Source, error) {
	if store == nil {
		return nil, errspkg.ErrStoreRequired
	}
	if serializer == nil {
		serializer = envelope.NewJSONSerializer()
	}
	s := &Source{db: db, store: store, serializer: serializer}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create opens a new scope. When the context carries a schema name and a
// resolver is configured, the scope runs against that tenant's database.
func (s *Source) Create(ctx context.Context, opts Options) (*UnitOfWork, error) {
	conn := s.db
	if name := schema.FromContext(ctx); name != "" && s.resolver != nil {
		resolved, err := s.resolver(name)
		if err != nil {
			return nil, err
		}
		conn = resolved
	}
	return newUnitOfWork(ctx, conn, s.store, s.serializer, opts)
}
