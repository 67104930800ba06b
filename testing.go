package sqlx

import (
	"context"
	"testing"
)

// TestHelper wraps a Pool with test-specific helpers that fail the
// test on error instead of returning it, and registers its own
// cleanup via t.Cleanup. Modeled on the teacher library's
// queen.TestHelper for migrations, generalized to pool acquire/
// release/transaction flows.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    th := sqlx.NewTestPool(t, "sqlite://:memory:")
//	    conn := th.MustAcquire()
//	    defer th.Release(conn)
//	    ...
//	}
type TestHelper struct {
	*Pool
	t   *testing.T
	ctx context.Context
}

// NewTestPool constructs a Pool for dsn with opts, fails the test
// immediately on construction error, and arranges for Close to run
// when the test ends.
func NewTestPool(t *testing.T, dsn string, opts ...PoolOption) *TestHelper {
	t.Helper()

	ctx := context.Background()
	pool, err := NewPool(ctx, dsn, opts...)
	if err != nil {
		t.Fatalf("sqlx: failed to construct pool: %v", err)
	}

	t.Cleanup(func() {
		_ = pool.Close()
	})

	return &TestHelper{Pool: pool, t: t, ctx: ctx}
}

// MustAcquire acquires a connection, failing the test on error.
func (th *TestHelper) MustAcquire() *PooledConnection {
	th.t.Helper()
	conn, err := th.Acquire(th.ctx)
	if err != nil {
		th.t.Fatalf("sqlx: failed to acquire connection: %v", err)
	}
	return conn
}

// MustBeginTx begins a pooled transaction, failing the test on error.
func (th *TestHelper) MustBeginTx() *PooledTransaction {
	th.t.Helper()
	tx, err := th.BeginTx(th.ctx)
	if err != nil {
		th.t.Fatalf("sqlx: failed to begin transaction: %v", err)
	}
	return tx
}

// MustExecute runs sql via a fresh acquire/release, failing the test
// on error, and returns rows affected.
func (th *TestHelper) MustExecute(sqlText string, args ...any) int64 {
	th.t.Helper()
	conn := th.MustAcquire()
	defer th.Release(conn)

	n, err := conn.Execute(th.ctx, sqlText, args...)
	if err != nil {
		th.t.Fatalf("sqlx: execute failed: %v", err)
	}
	return n
}

// MustFetchAll runs a query via a fresh acquire/release, failing the
// test on error.
func (th *TestHelper) MustFetchAll(sqlText string, args ...any) *ResultSet {
	th.t.Helper()
	conn := th.MustAcquire()
	defer th.Release(conn)

	rs, err := conn.FetchAll(th.ctx, sqlText, args...)
	if err != nil {
		th.t.Fatalf("sqlx: fetch failed: %v", err)
	}
	return rs
}
