package sqlx

import (
	"context"
	"fmt"
	"sync"
)

// connState is the Connection/Transaction lifecycle: Open is the only
// non-terminal state, Closed is terminal and close() is idempotent
// from it (spec §4.D).
type connState int32

const (
	stateOpen connState = iota
	stateClosed
)

// Connection is one live raw connection plus the session-level state
// the spec layers on top of it: isolation level, and the mutex that
// serializes every operation so at most one is in flight at a time.
type Connection struct {
	mu    sync.Mutex
	state connState
	raw   RawDriver

	isolation IsolationLevel
	pool      *Pool // non-nil if this Connection was acquired from a Pool
}

// newConnection wraps raw in a fresh, Open Connection.
func newConnection(raw RawDriver, pool *Pool) *Connection {
	return &Connection{raw: raw, pool: pool}
}

// checkOpen returns ErrConnectionIsClosed if the connection has been
// closed. Callers must hold c.mu.
func (c *Connection) checkOpen() error {
	if c.state == stateClosed {
		return ErrConnectionIsClosed
	}
	return nil
}

// Execute runs sql (already rendered) with args, returning rows
// affected.
func (c *Connection) Execute(ctx context.Context, sqlText string, args ...any) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	return c.raw.Execute(ctx, sqlText, args...)
}

// FetchAll runs a query and returns its full result set.
func (c *Connection) FetchAll(ctx context.Context, sqlText string, args ...any) (*ResultSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.raw.FetchAll(ctx, sqlText, args...)
}

// Begin starts a Transaction bound to this Connection for its
// lifetime. The Connection's mutex is released when Begin returns and
// the Transaction serializes its own operations with a separate mutex,
// so callers must not issue operations directly on the Connection
// while a Transaction it produced is open; use the Transaction
// instead.
func (c *Connection) Begin(ctx context.Context) (*Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	rawTx, err := c.raw.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return newTransaction(rawTx, c), nil
}

// SetTransactionIsolationLevel issues the dialect-appropriate SQL to
// change the session's isolation level and records it. Resetting the
// recorded level to IsolationDefault happens on Release back to a
// pool (see Pool.Release / resetForPool), per spec §4.D's Open
// Question on session reset.
func (c *Connection) SetTransactionIsolationLevel(ctx context.Context, level IsolationLevel) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := c.raw.SetIsolationLevel(ctx, level); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	c.isolation = level
	return nil
}

// IsolationLevel returns the last isolation level recorded by
// SetTransactionIsolationLevel, or IsolationDefault if never set or
// if reset on release to a pool.
func (c *Connection) IsolationLevel() IsolationLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isolation
}

// resetForPool clears the recorded isolation level. Called by the
// pool when a connection is released, so the next acquirer observes
// IsolationDefault even if the wire-level session retains the setting
// (spec §9's "Open question — session isolation reset").
func (c *Connection) resetForPool() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isolation = IsolationDefault
}

// Listen subscribes to a driver-level notification channel (e.g.
// PostgreSQL LISTEN/NOTIFY), for consumers that need a dedicated
// connection outside the pool's normal acquire/release cycle. Dialects
// without a LISTEN facility return an error.
func (c *Connection) Listen(ctx context.Context, channel string, onNotify func(payload string)) (unsubscribe func() error, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.raw.Listen(ctx, channel, onNotify)
}

// Ping verifies the underlying raw connection is still usable.
func (c *Connection) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.raw.Ping(ctx)
}

// Close is idempotent: a second and subsequent call succeeds without
// side effect.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed {
		return nil
	}
	c.state = stateClosed
	return c.raw.Close()
}

// Closed reports whether Close has been called.
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateClosed
}
