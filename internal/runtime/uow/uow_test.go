package uow

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burgan-tech/relaybox/internal/runtime/envelope"
	errspkg "github.com/burgan-tech/relaybox/internal/runtime/errors"
	"github.com/burgan-tech/relaybox/internal/runtime/jsoncodec"
	"github.com/burgan-tech/relaybox/internal/runtime/outbox"
	"github.com/burgan-tech/relaybox/internal/runtime/schema"
)

type orderPlaced struct {
	OrderID string `json:"orderId"`
}

func (orderPlaced) EventName() string { return "OrderPlaced" }

// fakeTx records lifecycle calls and lets tests inject failures.
type fakeTx struct {
	execs      []string
	committed  bool
	rolledBack bool
	commitErr  error
}

func (tx *fakeTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	tx.execs = append(tx.execs, query)
	return nil, nil
}

func (tx *fakeTx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, nil
}

func (tx *fakeTx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return nil
}

func (tx *fakeTx) Commit() error {
	if tx.commitErr != nil {
		return tx.commitErr
	}
	tx.committed = true
	return nil
}

func (tx *fakeTx) Rollback() error {
	tx.rolledBack = true
	return nil
}

type fakeDB struct {
	tx       *fakeTx
	begins   int
	beginErr error
}

func (db *fakeDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return nil, nil
}

func (db *fakeDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, nil
}

func (db *fakeDB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return nil
}

func (db *fakeDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error) {
	if db.beginErr != nil {
		return nil, db.beginErr
	}
	db.begins++
	if db.tx == nil {
		db.tx = &fakeTx{}
	}
	return db.tx, nil
}

func newTestSource(t *testing.T, db Beginner, store outbox.Store, opts ...SourceOption) *Source {
	t.Helper()
	src, err := NewSource(db, store, nil, opts...)
	require.NoError(t, err)
	return src
}

func TestLazyEscalation(t *testing.T) {
	db := &fakeDB{}
	src := newTestSource(t, db, outbox.NewMemoryStore())

	scope, err := src.Create(context.Background(), Options{})
	require.NoError(t, err)
	assert.Zero(t, db.begins)
	assert.False(t, scope.InTransaction())

	// First mutation escalates.
	_, err = scope.ExecContext(context.Background(), "UPDATE orders SET total = 1")
	require.NoError(t, err)
	assert.Equal(t, 1, db.begins)
	assert.True(t, scope.InTransaction())

	// Further mutations reuse the same transaction.
	_, err = scope.ExecContext(context.Background(), "UPDATE orders SET total = 2")
	require.NoError(t, err)
	assert.Equal(t, 1, db.begins)
	assert.Len(t, db.tx.execs, 2)
}

func TestTransactionalOptionBeginsEagerly(t *testing.T) {
	db := &fakeDB{}
	src := newTestSource(t, db, outbox.NewMemoryStore())

	scope, err := src.Create(context.Background(), Options{Transactional: true})
	require.NoError(t, err)
	assert.Equal(t, 1, db.begins)
	assert.True(t, scope.InTransaction())
}

func TestEnsureTransactionIdempotent(t *testing.T) {
	db := &fakeDB{}
	src := newTestSource(t, db, outbox.NewMemoryStore())

	scope, err := src.Create(context.Background(), Options{})
	require.NoError(t, err)
	require.NoError(t, scope.EnsureTransaction(context.Background()))
	require.NoError(t, scope.EnsureTransaction(context.Background()))
	assert.Equal(t, 1, db.begins)
}

func TestCommitWritesEventsToOutbox(t *testing.T) {
	db := &fakeDB{}
	store := outbox.NewMemoryStore()
	src := newTestSource(t, db, store)

	scope, err := src.Create(context.Background(), Options{Transactional: true})
	require.NoError(t, err)

	events := []orderPlaced{{OrderID: "o-1"}, {OrderID: "o-2"}, {OrderID: "o-3"}}
	for _, e := range events {
		require.NoError(t, scope.AddEvent(e))
	}
	assert.Len(t, scope.CollectedEvents(), 3)

	require.NoError(t, scope.Commit(context.Background()))
	assert.True(t, db.tx.committed)

	rows := store.Snapshot()
	require.Len(t, rows, 3)
	serializer := envelope.NewJSONSerializer()
	for i, row := range rows {
		assert.Equal(t, "OrderPlaced", row.EventName)
		assert.False(t, row.Processed())

		// The stored bytes round-trip to the original event payload.
		env, err := serializer.Unmarshal(row.EventData)
		require.NoError(t, err)
		assert.Equal(t, row.ID, env.ID)

		var got orderPlaced
		require.NoError(t, jsoncodec.Unmarshal(env.Payload, &got))
		assert.Equal(t, events[i].OrderID, got.OrderID)
	}
}

func TestCommitWithEventsEscalates(t *testing.T) {
	db := &fakeDB{}
	store := outbox.NewMemoryStore()
	src := newTestSource(t, db, store)

	scope, err := src.Create(context.Background(), Options{})
	require.NoError(t, err)
	require.NoError(t, scope.AddEvent(orderPlaced{OrderID: "o-1"}))

	// No transaction was opened yet; committing events forces one so the
	// outbox write is atomic.
	assert.Zero(t, db.begins)
	require.NoError(t, scope.Commit(context.Background()))
	assert.Equal(t, 1, db.begins)
	assert.True(t, db.tx.committed)
	assert.Equal(t, 1, store.Len())
}

func TestCommitWithoutEventsOrTxIsNoop(t *testing.T) {
	db := &fakeDB{}
	src := newTestSource(t, db, outbox.NewMemoryStore())

	scope, err := src.Create(context.Background(), Options{})
	require.NoError(t, err)
	require.NoError(t, scope.Commit(context.Background()))
	assert.Zero(t, db.begins)
}

func TestRollbackDiscardsEvents(t *testing.T) {
	db := &fakeDB{}
	store := outbox.NewMemoryStore()
	src := newTestSource(t, db, store)

	scope, err := src.Create(context.Background(), Options{Transactional: true})
	require.NoError(t, err)
	require.NoError(t, scope.AddEvent(orderPlaced{OrderID: "o-1"}))

	require.NoError(t, scope.Rollback())
	assert.True(t, db.tx.rolledBack)
	assert.Zero(t, store.Len())
	assert.Empty(t, scope.CollectedEvents())
}

func TestRollbackAfterCommitIsNoop(t *testing.T) {
	db := &fakeDB{}
	src := newTestSource(t, db, outbox.NewMemoryStore())

	scope, err := src.Create(context.Background(), Options{Transactional: true})
	require.NoError(t, err)
	require.NoError(t, scope.Commit(context.Background()))
	require.NoError(t, scope.Rollback())
	assert.False(t, db.tx.rolledBack)
}

func TestClearCollectedEvents(t *testing.T) {
	db := &fakeDB{}
	store := outbox.NewMemoryStore()
	src := newTestSource(t, db, store)

	scope, err := src.Create(context.Background(), Options{})
	require.NoError(t, err)
	require.NoError(t, scope.AddEvent(orderPlaced{OrderID: "o-1"}))
	scope.ClearCollectedEvents()
	assert.Empty(t, scope.CollectedEvents())

	require.NoError(t, scope.Commit(context.Background()))
	assert.Zero(t, store.Len())
}

func TestCommitFailureReturnsTransactionError(t *testing.T) {
	boom := errors.New("deadlock detected")
	db := &fakeDB{tx: &fakeTx{commitErr: boom}}
	src := newTestSource(t, db, outbox.NewMemoryStore())

	scope, err := src.Create(context.Background(), Options{Transactional: true})
	require.NoError(t, err)

	err = scope.Commit(context.Background())
	require.Error(t, err)

	var txErr *errspkg.TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, "commit", txErr.Op)
	assert.ErrorIs(t, err, boom)
}

func TestBeginFailureReturnsTransactionError(t *testing.T) {
	boom := errors.New("too many connections")
	db := &fakeDB{beginErr: boom}
	src := newTestSource(t, db, outbox.NewMemoryStore())

	_, err := src.Create(context.Background(), Options{Transactional: true})
	require.Error(t, err)

	var txErr *errspkg.TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, "begin", txErr.Op)
}

func TestCompletedScopeRejectsFurtherUse(t *testing.T) {
	db := &fakeDB{}
	src := newTestSource(t, db, outbox.NewMemoryStore())

	scope, err := src.Create(context.Background(), Options{})
	require.NoError(t, err)
	require.NoError(t, scope.Commit(context.Background()))

	assert.ErrorIs(t, scope.Commit(context.Background()), errspkg.ErrScopeCompleted)
	assert.ErrorIs(t, scope.AddEvent(orderPlaced{OrderID: "o-1"}), errspkg.ErrScopeCompleted)
	_, err = scope.ExecContext(context.Background(), "UPDATE t SET x = 1")
	assert.ErrorIs(t, err, errspkg.ErrScopeCompleted)
}

func TestAddEventValidatesEvent(t *testing.T) {
	db := &fakeDB{}
	src := newTestSource(t, db, outbox.NewMemoryStore())

	scope, err := src.Create(context.Background(), Options{})
	require.NoError(t, err)

	assert.ErrorIs(t, scope.AddEvent(nil), errspkg.ErrEventRequired)
}

type tenantResolver struct {
	databases map[string]*fakeDB
	resolved  []string
}

func (r *tenantResolver) resolve(name string) (Beginner, error) {
	r.resolved = append(r.resolved, name)
	db, ok := r.databases[name]
	if !ok {
		return nil, errors.New("unknown tenant")
	}
	return db, nil
}

func TestSourceResolvesTenantDatabase(t *testing.T) {
	tenantDB := &fakeDB{}
	defaultDB := &fakeDB{}
	resolver := &tenantResolver{databases: map[string]*fakeDB{"acme": tenantDB}}
	src := newTestSource(t, defaultDB, outbox.NewMemoryStore(), WithConnectionResolver(resolver.resolve))

	ctx := schema.NewContext(context.Background(), "acme")
	scope, err := src.Create(ctx, Options{Transactional: true})
	require.NoError(t, err)
	assert.True(t, scope.InTransaction())
	assert.Equal(t, 1, tenantDB.begins)
	assert.Zero(t, defaultDB.begins)
	assert.Equal(t, []string{"acme"}, resolver.resolved)

	// Without a schema in the context the default database is used.
	_, err = src.Create(context.Background(), Options{Transactional: true})
	require.NoError(t, err)
	assert.Equal(t, 1, defaultDB.begins)
}

func TestUnitOfWorkContext(t *testing.T) {
	db := &fakeDB{}
	src := newTestSource(t, db, outbox.NewMemoryStore())

	scope, err := src.Create(context.Background(), Options{})
	require.NoError(t, err)

	assert.Nil(t, FromContext(context.Background()))
	ctx := NewContext(context.Background(), scope)
	assert.Same(t, scope, FromContext(ctx))
}
