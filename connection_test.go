package sqlx_test

import (
	"context"
	"errors"
	"testing"

	"github.com/honeynil/sqlx"
)

func acquireForTest(t *testing.T) (*sqlx.Pool, *sqlx.PooledConnection) {
	t.Helper()
	pool, _ := newTestPool(t, sqlx.WithMaxConnections(1))
	conn, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() = %v", err)
	}
	return pool, conn
}

func TestConnectionExecuteAndFetch(t *testing.T) {
	pool, conn := acquireForTest(t)
	defer pool.Release(conn)
	ctx := context.Background()

	if _, err := conn.Execute(ctx, "CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)"); err != nil {
		t.Fatalf("Execute() = %v", err)
	}
	if _, err := conn.Execute(ctx, "INSERT INTO widgets (id, name) VALUES (1, 'gizmo')"); err != nil {
		t.Fatalf("Execute() insert = %v", err)
	}

	rs, err := conn.FetchAll(ctx, "SELECT name FROM widgets WHERE id = 1")
	if err != nil {
		t.Fatalf("FetchAll() = %v", err)
	}
	if rs.Len() != 1 {
		t.Fatalf("FetchAll() returned %d rows, want 1", rs.Len())
	}
	row, _ := rs.At(0)
	col, _ := row.ByName("name")
	if s, _ := col.AsString(); s != "gizmo" {
		t.Errorf("name = %q, want gizmo", s)
	}
}

func TestConnectionOperationsFailAfterClose(t *testing.T) {
	_, conn := acquireForTest(t)
	ctx := context.Background()

	if err := conn.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if !conn.Closed() {
		t.Fatal("Closed() = false after Close()")
	}

	if _, err := conn.Execute(ctx, "SELECT 1"); !errors.Is(err, sqlx.ErrConnectionIsClosed) {
		t.Errorf("Execute() after Close() = %v, want ErrConnectionIsClosed", err)
	}
	if _, err := conn.FetchAll(ctx, "SELECT 1"); !errors.Is(err, sqlx.ErrConnectionIsClosed) {
		t.Errorf("FetchAll() after Close() = %v, want ErrConnectionIsClosed", err)
	}
	if _, err := conn.Begin(ctx); !errors.Is(err, sqlx.ErrConnectionIsClosed) {
		t.Errorf("Begin() after Close() = %v, want ErrConnectionIsClosed", err)
	}
}

func TestConnectionCloseIsIdempotent(t *testing.T) {
	_, conn := acquireForTest(t)
	if err := conn.Close(); err != nil {
		t.Fatalf("first Close() = %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close() = %v, want nil", err)
	}
}

func TestConnectionIsolationLevelRoundTrips(t *testing.T) {
	pool, conn := acquireForTest(t)
	defer pool.Release(conn)
	ctx := context.Background()

	if got := conn.IsolationLevel(); got != sqlx.IsolationDefault {
		t.Fatalf("initial IsolationLevel() = %v, want IsolationDefault", got)
	}

	if err := conn.SetTransactionIsolationLevel(ctx, sqlx.IsolationSerializable); err != nil {
		t.Fatalf("SetTransactionIsolationLevel() = %v", err)
	}
	if got := conn.IsolationLevel(); got != sqlx.IsolationSerializable {
		t.Fatalf("IsolationLevel() = %v, want IsolationSerializable", got)
	}
}

func TestTransactionCommitIsOneShot(t *testing.T) {
	pool, conn := acquireForTest(t)
	defer pool.Release(conn)
	ctx := context.Background()

	if _, err := conn.Execute(ctx, "CREATE TABLE widgets (id INTEGER PRIMARY KEY)"); err != nil {
		t.Fatalf("Execute() = %v", err)
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() = %v", err)
	}
	if _, err := tx.Execute(ctx, "INSERT INTO widgets (id) VALUES (1)"); err != nil {
		t.Fatalf("tx.Execute() = %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit() = %v", err)
	}
	if !tx.Committed() {
		t.Fatal("Committed() = false after a successful commit")
	}

	// A second commit is a no-op, not an error.
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("second Commit() = %v, want nil", err)
	}

	if _, err := tx.Execute(ctx, "INSERT INTO widgets (id) VALUES (2)"); !errors.Is(err, sqlx.ErrTransactionIsClosed) {
		t.Fatalf("Execute() after Commit() = %v, want ErrTransactionIsClosed", err)
	}
}

func TestTransactionRollbackDiscardsWrites(t *testing.T) {
	pool, conn := acquireForTest(t)
	defer pool.Release(conn)
	ctx := context.Background()

	if _, err := conn.Execute(ctx, "CREATE TABLE widgets (id INTEGER PRIMARY KEY)"); err != nil {
		t.Fatalf("Execute() = %v", err)
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() = %v", err)
	}
	if _, err := tx.Execute(ctx, "INSERT INTO widgets (id) VALUES (1)"); err != nil {
		t.Fatalf("tx.Execute() = %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback() = %v", err)
	}
	if !tx.RolledBack() {
		t.Fatal("RolledBack() = false after a successful rollback")
	}

	rs, err := conn.FetchAll(ctx, "SELECT id FROM widgets")
	if err != nil {
		t.Fatalf("FetchAll() = %v", err)
	}
	if rs.Len() != 0 {
		t.Fatalf("FetchAll() after rollback returned %d rows, want 0", rs.Len())
	}
}
