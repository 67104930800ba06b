package sqlx

import "context"

// RawDriver is the one interface this package requires of the
// underlying native SQL driver (spec §1). It performs no SQL
// rewriting of its own — by the time a call reaches RawDriver, a
// Statement has already rendered dialect-native SQL and, for
// RenderNative callers, an ordered value slice.
//
// Implementations live in drivers/postgres, drivers/mysql, and
// drivers/sqlite, each a thin adapter over the real wire-protocol
// driver (pgx, go-sql-driver/mysql, mattn/go-sqlite3); drivers/mock
// provides an in-memory implementation for unit tests.
type RawDriver interface {
	// Execute runs a statement that does not return rows, reporting
	// the number of rows it affected.
	Execute(ctx context.Context, sql string, args ...any) (rowsAffected int64, err error)

	// FetchAll runs a query and materializes its full result set.
	FetchAll(ctx context.Context, sql string, args ...any) (*ResultSet, error)

	// Begin starts a transaction on this connection.
	Begin(ctx context.Context) (RawTx, error)

	// SetIsolationLevel issues the dialect-appropriate SQL to change
	// the session's transaction isolation level. A SQLite
	// implementation accepts any level and is a no-op.
	SetIsolationLevel(ctx context.Context, level IsolationLevel) error

	// Listen subscribes to a notification channel (PostgreSQL LISTEN/
	// NOTIFY). onNotify is invoked with each notification payload.
	// The returned function cancels the subscription. Dialects
	// without a LISTEN facility return an error if called.
	Listen(ctx context.Context, channel string, onNotify func(payload string)) (unsubscribe func() error, err error)

	// Ping verifies the underlying connection is still usable. Used
	// by the pool when handing out a connection that has been idle.
	Ping(ctx context.Context) error

	// Close releases the underlying connection. Idempotent.
	Close() error
}

// RawTx is the transaction handle RawDriver.Begin returns.
type RawTx interface {
	Execute(ctx context.Context, sql string, args ...any) (rowsAffected int64, err error)
	FetchAll(ctx context.Context, sql string, args ...any) (*ResultSet, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// IsolationLevel names a standard SQL transaction isolation level.
type IsolationLevel int

const (
	IsolationDefault IsolationLevel = iota
	IsolationReadUncommitted
	IsolationReadCommitted
	IsolationRepeatableRead
	IsolationSerializable
)

func (l IsolationLevel) String() string {
	switch l {
	case IsolationReadUncommitted:
		return "READ UNCOMMITTED"
	case IsolationReadCommitted:
		return "READ COMMITTED"
	case IsolationRepeatableRead:
		return "REPEATABLE READ"
	case IsolationSerializable:
		return "SERIALIZABLE"
	default:
		return ""
	}
}

// Factory creates one fresh raw connection. The pool calls Factory
// once per connection it creates, never reusing a RawDriver across
// Connection instances.
type Factory func(ctx context.Context) (RawDriver, error)
