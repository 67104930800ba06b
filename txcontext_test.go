package sqlx_test

import (
	"context"
	"errors"
	"testing"

	"github.com/honeynil/sqlx"
)

func TestRunInTransactionCommitsOnSuccess(t *testing.T) {
	pool, _ := newTestPool(t)
	ctx := context.Background()

	if _, err := mustExec(t, pool, "CREATE TABLE widgets (id INTEGER PRIMARY KEY)"); err != nil {
		t.Fatalf("setup Execute() = %v", err)
	}

	err := sqlx.RunInTransaction(ctx, pool, func(ctx context.Context) error {
		tx, ok := sqlx.TxFromContext(ctx)
		if !ok {
			t.Fatal("TxFromContext() inside RunInTransaction = false, want true")
		}
		_, err := tx.Execute(ctx, "INSERT INTO widgets (id) VALUES (1)")
		return err
	})
	if err != nil {
		t.Fatalf("RunInTransaction() = %v", err)
	}

	rs, err := mustFetch(t, pool, "SELECT id FROM widgets")
	if err != nil {
		t.Fatalf("FetchAll() = %v", err)
	}
	if rs.Len() != 1 {
		t.Fatalf("FetchAll() returned %d rows after commit, want 1", rs.Len())
	}
}

func TestRunInTransactionRollsBackOnError(t *testing.T) {
	pool, _ := newTestPool(t)
	ctx := context.Background()

	if _, err := mustExec(t, pool, "CREATE TABLE widgets (id INTEGER PRIMARY KEY)"); err != nil {
		t.Fatalf("setup Execute() = %v", err)
	}

	boom := errors.New("boom")
	err := sqlx.RunInTransaction(ctx, pool, func(ctx context.Context) error {
		tx, _ := sqlx.TxFromContext(ctx)
		if _, err := tx.Execute(ctx, "INSERT INTO widgets (id) VALUES (1)"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTransaction() = %v, want %v", err, boom)
	}

	rs, err := mustFetch(t, pool, "SELECT id FROM widgets")
	if err != nil {
		t.Fatalf("FetchAll() = %v", err)
	}
	if rs.Len() != 0 {
		t.Fatalf("FetchAll() returned %d rows after rollback, want 0", rs.Len())
	}
}

func TestRunInTransactionRollsBackOnPanic(t *testing.T) {
	pool, _ := newTestPool(t)
	ctx := context.Background()

	if _, err := mustExec(t, pool, "CREATE TABLE widgets (id INTEGER PRIMARY KEY)"); err != nil {
		t.Fatalf("setup Execute() = %v", err)
	}

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected the panic to propagate out of RunInTransaction")
		}
		rs, err := mustFetch(t, pool, "SELECT id FROM widgets")
		if err != nil {
			t.Fatalf("FetchAll() = %v", err)
		}
		if rs.Len() != 0 {
			t.Fatalf("FetchAll() returned %d rows after a panicking transaction, want 0", rs.Len())
		}
	}()

	_ = sqlx.RunInTransaction(ctx, pool, func(ctx context.Context) error {
		tx, _ := sqlx.TxFromContext(ctx)
		_, _ = tx.Execute(ctx, "INSERT INTO widgets (id) VALUES (1)")
		panic("boom")
	})
}

func TestWithCurrentTransactionReusesAmbient(t *testing.T) {
	pool, _ := newTestPool(t)
	ctx := context.Background()

	var innerCalls int
	err := sqlx.RunInTransaction(ctx, pool, func(ctx context.Context) error {
		outer, _ := sqlx.TxFromContext(ctx)
		return sqlx.WithCurrentTransaction(ctx, nil, func(ctx context.Context) error {
			innerCalls++
			inner, ok := sqlx.TxFromContext(ctx)
			if !ok || inner != outer {
				t.Fatal("WithCurrentTransaction() started a new transaction instead of reusing the ambient one")
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("RunInTransaction() = %v", err)
	}
	if innerCalls != 1 {
		t.Fatalf("inner fn called %d times, want 1", innerCalls)
	}
}

func TestWithCurrentTransactionRequiresPoolWhenNoAmbient(t *testing.T) {
	err := sqlx.WithCurrentTransaction(context.Background(), nil, func(ctx context.Context) error {
		t.Fatal("fn should not run without an ambient transaction or a pool")
		return nil
	})
	if !errors.Is(err, sqlx.ErrNoAmbientTransaction) {
		t.Fatalf("WithCurrentTransaction() = %v, want ErrNoAmbientTransaction", err)
	}
}

func mustExec(t *testing.T, pool *sqlx.Pool, sqlText string) (int64, error) {
	t.Helper()
	conn, err := pool.Acquire(context.Background())
	if err != nil {
		return 0, err
	}
	defer pool.Release(conn)
	return conn.Execute(context.Background(), sqlText)
}

func mustFetch(t *testing.T, pool *sqlx.Pool, sqlText string) (*sqlx.ResultSet, error) {
	t.Helper()
	conn, err := pool.Acquire(context.Background())
	if err != nil {
		return nil, err
	}
	defer pool.Release(conn)
	return conn.FetchAll(context.Background(), sqlText)
}
