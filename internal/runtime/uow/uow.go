// Package uow scopes a business operation: its database statements, the
// domain events it raises, and the atomic commit that persists both. Events
// added to a scope become outbox rows in the same transaction as the business
// mutation, so a committed operation always has its events durably queued.
package uow

import (
	"context"
	"database/sql"
	"sync"

	sterrors "errors"

	"github.com/burgan-tech/relaybox/internal/runtime/envelope"
	errspkg "github.com/burgan-tech/relaybox/internal/runtime/errors"
	"github.com/burgan-tech/relaybox/internal/runtime/outbox"
)

// Conn is the read/write surface shared by transactions and plain
// connections.
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx is an open database transaction. *sql.Tx satisfies it.
type Tx interface {
	Conn
	Commit() error
	Rollback() error
}

// Beginner opens transactions on a database. Use WrapDB to adapt an *sql.DB.
type Beginner interface {
	Conn
	BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error)
}

// WrapDB adapts an *sql.DB to the Beginner interface.
func WrapDB(db *sql.DB) Beginner { return sqlBeginner{db} }

type sqlBeginner struct{ *sql.DB }

func (b sqlBeginner) BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error) {
	return b.DB.BeginTx(ctx, opts)
}

// Options configure a unit of work.
type Options struct {
	// Transactional opens the database transaction eagerly on creation.
	// Without it the scope runs statements directly on the connection and
	// escalates to a transaction only when one becomes necessary.
	Transactional bool

	// Isolation is passed through to BeginTx. Zero means the driver default.
	Isolation sql.IsolationLevel
}

var errNoDatabase = sterrors.New("relaybox: no database configured for this scope")

type collectedEvent struct {
	env        envelope.Envelope
	properties map[string]string
}

// UnitOfWork is a single-use operation scope. It is not safe for concurrent
// use by multiple goroutines; one scope belongs to one request.
type UnitOfWork struct {
	mu         sync.Mutex
	conn       Beginner
	tx         Tx
	opts       Options
	store      outbox.Store
	serializer envelope.Serializer
	events     []collectedEvent
	completed  bool
}

func newUnitOfWork(ctx context.Context, conn Beginner, store outbox.Store, serializer envelope.Serializer, opts Options) (*UnitOfWork, error) {
	u := &UnitOfWork{
		conn:       conn,
		opts:       opts,
		store:      store,
		serializer: serializer,
	}
	if opts.Transactional {
		if err := u.EnsureTransaction(ctx); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// EnsureTransaction opens the scope's transaction if it is not open yet. It
// is idempotent and escalates even a scope created without Transactional.
func (u *UnitOfWork) EnsureTransaction(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.ensureTransactionLocked(ctx)
}

func (u *UnitOfWork) ensureTransactionLocked(ctx context.Context) error {
	if u.completed {
		return errspkg.ErrScopeCompleted
	}
	if u.tx != nil {
		return nil
	}
	// Without a database (in-memory store) the scope has nothing to escalate;
	// the store's own locking provides atomicity.
	if u.conn == nil {
		return nil
	}
	tx, err := u.conn.BeginTx(ctx, &sql.TxOptions{Isolation: u.opts.Isolation})
	if err != nil {
		return errspkg.NewTransactionError("begin", err)
	}
	u.tx = tx
	return nil
}

// InTransaction reports whether the scope currently holds an open
// transaction.
func (u *UnitOfWork) InTransaction() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.tx != nil
}

// ExecContext runs a mutating statement. Mutations always run inside the
// scope's transaction, escalating lazily on first use.
func (u *UnitOfWork) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.ensureTransactionLocked(ctx); err != nil {
		return nil, err
	}
	if u.tx == nil {
		return nil, errspkg.NewTransactionError("begin", errNoDatabase)
	}
	return u.tx.ExecContext(ctx, query, args...)
}

// QueryContext runs a query inside the transaction when one is open,
// otherwise directly on the connection.
func (u *UnitOfWork) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.completed {
		return nil, errspkg.ErrScopeCompleted
	}
	if u.tx != nil {
		return u.tx.QueryContext(ctx, query, args...)
	}
	if u.conn == nil {
		return nil, errNoDatabase
	}
	return u.conn.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query inside the transaction when one is
// open, otherwise directly on the connection. It returns nil when the scope
// has no database.
func (u *UnitOfWork) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.tx != nil {
		return u.tx.QueryRowContext(ctx, query, args...)
	}
	if u.conn == nil {
		return nil
	}
	return u.conn.QueryRowContext(ctx, query, args...)
}

// AddEvent queues a typed domain event on the scope. It is staged in memory
// and written to the outbox only at Commit.
func (u *UnitOfWork) AddEvent(e envelope.Event) error {
	return u.AddEventWithProperties(e, nil)
}

// AddEventWithProperties queues a typed domain event with routing overrides
// such as outbox.PropTopic and outbox.PropBroker.
func (u *UnitOfWork) AddEventWithProperties(e envelope.Event, properties map[string]string) error {
	env, err := envelope.FromEvent(e)
	if err != nil {
		return err
	}
	return u.AddEnvelope(env, properties)
}

// AddEnvelope queues an already built envelope on the scope.
func (u *UnitOfWork) AddEnvelope(env envelope.Envelope, properties map[string]string) error {
	if err := env.Validate(); err != nil {
		return &errspkg.SerializationError{Err: err}
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.completed {
		return errspkg.ErrScopeCompleted
	}
	u.events = append(u.events, collectedEvent{env: env, properties: properties})
	return nil
}

// CollectedEvents returns the envelopes staged on the scope, in the order
// they were added.
func (u *UnitOfWork) CollectedEvents() []envelope.Envelope {
	u.mu.Lock()
	defer u.mu.Unlock()

	out := make([]envelope.Envelope, len(u.events))
	for i, ev := range u.events {
		out[i] = ev.env
	}
	return out
}

// ClearCollectedEvents drops all staged events without committing them.
func (u *UnitOfWork) ClearCollectedEvents() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.events = nil
}

// Commit writes the staged events to the outbox and commits the transaction.
// A scope holding events but no open transaction escalates first, so the
// outbox write is atomic either way. The scope is unusable afterwards.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.completed {
		return errspkg.ErrScopeCompleted
	}

	if len(u.events) > 0 {
		if err := u.ensureTransactionLocked(ctx); err != nil {
			return err
		}
		msgs := make([]*outbox.Message, 0, len(u.events))
		for _, ev := range u.events {
			data, err := u.serializer.Marshal(ev.env)
			if err != nil {
				u.rollbackLocked()
				return err
			}
			msg := outbox.NewMessage(ev.env.EventName, data, ev.properties)
			msg.ID = ev.env.ID
			msgs = append(msgs, msg)
		}
		if err := u.store.Add(ctx, u.tx, msgs...); err != nil {
			u.rollbackLocked()
			return errspkg.NewTransactionError("commit", err)
		}
	}

	if u.tx != nil {
		if err := u.tx.Commit(); err != nil {
			u.completed = true
			return errspkg.NewTransactionError("commit", err)
		}
	}

	u.events = nil
	u.completed = true
	return nil
}

// Rollback aborts the scope: the open transaction is rolled back and staged
// events are discarded. Calling it after Commit is a no-op, so it is safe to
// defer.
func (u *UnitOfWork) Rollback() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.completed {
		return nil
	}
	err := u.rollbackLocked()
	u.events = nil
	u.completed = true
	if err != nil {
		return errspkg.NewTransactionError("rollback", err)
	}
	return nil
}

func (u *UnitOfWork) rollbackLocked() error {
	if u.tx == nil {
		return nil
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}
