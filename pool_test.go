package sqlx_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/honeynil/sqlx"
	"github.com/honeynil/sqlx/drivers/mock"
)

func newTestPool(t *testing.T, opts ...sqlx.PoolOption) (*sqlx.Pool, clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	base := []sqlx.PoolOption{
		sqlx.WithFactory(mock.NewFactory()),
		sqlx.WithDialect(sqlx.DialectSQLite),
		sqlx.WithClock(clock),
	}
	pool, err := sqlx.NewPool(context.Background(), "mock://", append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewPool() = %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })
	return pool, clock
}

func TestPoolAcquireReleaseReusesConnection(t *testing.T) {
	pool, _ := newTestPool(t, sqlx.WithMaxConnections(2))

	ctx := context.Background()
	conn, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() = %v", err)
	}
	if stats := pool.Stats(); stats.Total != 1 {
		t.Fatalf("Stats().Total = %d, want 1", stats.Total)
	}
	pool.Release(conn)

	stats := pool.Stats()
	if stats.Total != 1 || stats.Idle != 1 {
		t.Fatalf("Stats() after release = %+v, want {Total:1 Idle:1}", stats)
	}

	conn2, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("second Acquire() = %v", err)
	}
	if pool.Stats().Total != 1 {
		t.Fatalf("Acquire after release should reuse the idle connection, got Total=%d", pool.Stats().Total)
	}
	pool.Release(conn2)
}

func TestPoolAcquireEnforcesMaxConnections(t *testing.T) {
	pool, _ := newTestPool(t, sqlx.WithMaxConnections(1), sqlx.WithAcquireTimeout(50*time.Millisecond))

	ctx := context.Background()
	conn, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() = %v", err)
	}

	_, err = pool.Acquire(ctx)
	if !errors.Is(err, sqlx.ErrPoolTimedOut) {
		t.Fatalf("second Acquire() = %v, want ErrPoolTimedOut", err)
	}

	pool.Release(conn)
}

func TestPoolAcquireAfterCloseFails(t *testing.T) {
	pool, _ := newTestPool(t)
	if err := pool.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	if _, err := pool.Acquire(context.Background()); !errors.Is(err, sqlx.ErrPoolClosed) {
		t.Fatalf("Acquire() after Close() = %v, want ErrPoolClosed", err)
	}

	// Close is idempotent.
	if err := pool.Close(); err != nil {
		t.Fatalf("second Close() = %v, want nil", err)
	}
}

func TestPoolEvictsIdleConnectionPastIdleTimeout(t *testing.T) {
	pool, clock := newTestPool(t,
		sqlx.WithMaxConnections(2),
		sqlx.WithIdleTimeout(time.Minute),
	)

	ctx := context.Background()
	conn, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() = %v", err)
	}
	pool.Release(conn)

	if pool.Stats().Idle != 1 {
		t.Fatalf("Stats().Idle = %d, want 1 before eviction", pool.Stats().Idle)
	}

	clock.Advance(2 * time.Minute)
	// Let the cleanup loop observe the fake clock's ticker firing.
	clock.BlockUntil(1)
	clock.Advance(3 * time.Second)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if pool.Stats().Total == 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expired idle connection was not evicted, Stats() = %+v", pool.Stats())
}

func TestPoolReleaseDiscardsExpiredConnection(t *testing.T) {
	pool, clock := newTestPool(t, sqlx.WithMaxLifetime(time.Minute))

	ctx := context.Background()
	conn, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() = %v", err)
	}

	clock.Advance(2 * time.Minute)
	pool.Release(conn)

	if stats := pool.Stats(); stats.Total != 0 || stats.Idle != 0 {
		t.Fatalf("Stats() after releasing an expired connection = %+v, want {0 0}", stats)
	}
}

func TestPoolReleaseKeepsExpiredConnectionAtMinIdleFloor(t *testing.T) {
	pool, clock := newTestPool(t,
		sqlx.WithMaxConnections(1),
		sqlx.WithMinIdle(1),
		sqlx.WithMaxLifetime(time.Minute),
	)

	ctx := context.Background()
	conn, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() = %v", err)
	}

	clock.Advance(2 * time.Minute)
	pool.Release(conn)

	// At minIdle, an expired connection must be kept warm rather than
	// closed — shrinking it would drop the pool below its floor.
	if stats := pool.Stats(); stats.Total != 1 || stats.Idle != 1 {
		t.Fatalf("Stats() after releasing an expired connection at the floor = %+v, want {1 1}", stats)
	}
}

func TestPoolBeginTxReleasesOnBeginFailure(t *testing.T) {
	pool, _ := newTestPool(t, sqlx.WithMaxConnections(1))

	driver, err := mock.New()
	if err != nil {
		t.Fatalf("mock.New() = %v", err)
	}
	driver.SetBeginError(errors.New("begin boom"))

	failing, err := sqlx.NewPool(context.Background(), "mock://", sqlx.WithFactory(func(ctx context.Context) (sqlx.RawDriver, error) {
		return driver, nil
	}), sqlx.WithDialect(sqlx.DialectSQLite), sqlx.WithMaxConnections(1))
	if err != nil {
		t.Fatalf("NewPool() = %v", err)
	}
	defer failing.Close()

	if _, err := failing.BeginTx(context.Background()); err == nil {
		t.Fatal("BeginTx() with a failing driver = nil, want error")
	}
	if stats := failing.Stats(); stats.Total != 1 || stats.Idle != 1 {
		t.Fatalf("BeginTx failure should release the connection back to idle, Stats() = %+v, want {Total:1 Idle:1}", stats)
	}

	pool.Close()
}

func TestWithFactoryRequiresWithDialect(t *testing.T) {
	_, err := sqlx.NewPool(context.Background(), "mock://", sqlx.WithFactory(mock.NewFactory()))
	if err == nil {
		t.Fatal("NewPool() with WithFactory and no WithDialect = nil, want error")
	}
}

func TestPoolDialectReportsConfiguredDialect(t *testing.T) {
	pool, _ := newTestPool(t)
	if got := pool.Dialect(); got != sqlx.DialectSQLite {
		t.Fatalf("Dialect() = %s, want %s", got, sqlx.DialectSQLite)
	}
}
