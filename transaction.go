package sqlx

import (
	"context"
	"sync"
)

// Transaction owns exactly one Connection for its lifetime. Nesting
// and savepoints are out of scope (spec §4.D).
type Transaction struct {
	mu    sync.Mutex
	state connState
	raw   RawTx
	conn  *Connection

	committed  bool
	rolledback bool
}

func newTransaction(raw RawTx, conn *Connection) *Transaction {
	return &Transaction{raw: raw, conn: conn}
}

func (t *Transaction) checkOpen() error {
	if t.state == stateClosed {
		return ErrTransactionIsClosed
	}
	return nil
}

// Execute runs sql within the transaction.
func (t *Transaction) Execute(ctx context.Context, sqlText string, args ...any) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return 0, err
	}
	return t.raw.Execute(ctx, sqlText, args...)
}

// FetchAll runs a query within the transaction.
func (t *Transaction) FetchAll(ctx context.Context, sqlText string, args ...any) (*ResultSet, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	return t.raw.FetchAll(ctx, sqlText, args...)
}

// Commit moves the transaction to Closed. A second commit (or a
// commit after a successful rollback) is a no-op, matching spec's
// "both commit and rollback move to Closed and are one-shot".
func (t *Transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == stateClosed {
		return nil
	}
	err := t.raw.Commit(ctx)
	t.state = stateClosed
	if err == nil {
		t.committed = true
	}
	return err
}

// Rollback moves the transaction to Closed. A second rollback is a
// no-op.
func (t *Transaction) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == stateClosed {
		return nil
	}
	err := t.raw.Rollback(ctx)
	t.state = stateClosed
	if err == nil {
		t.rolledback = true
	}
	return err
}

// Committed reports whether Commit has succeeded.
func (t *Transaction) Committed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.committed
}

// RolledBack reports whether Rollback has succeeded.
func (t *Transaction) RolledBack() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rolledback
}

// Connection returns the single Connection this transaction is bound
// to for its lifetime.
func (t *Transaction) Connection() *Connection { return t.conn }

// PooledTransaction wraps a Transaction acquired through a Pool.
// Commit/Rollback release the underlying PooledConnection in a
// finally block that swallows its own error to preserve the original
// transaction outcome, per spec §4.D.
type PooledTransaction struct {
	*Transaction
	pooled *PooledConnection
	pool   *Pool
}

func newPooledTransaction(tx *Transaction, pooled *PooledConnection, pool *Pool) *PooledTransaction {
	return &PooledTransaction{Transaction: tx, pooled: pooled, pool: pool}
}

// Commit commits the transaction, then releases the pooled connection
// regardless of outcome.
func (pt *PooledTransaction) Commit(ctx context.Context) error {
	err := pt.Transaction.Commit(ctx)
	pt.pool.Release(pt.pooled)
	return err
}

// Rollback rolls back the transaction, then releases the pooled
// connection regardless of outcome.
func (pt *PooledTransaction) Rollback(ctx context.Context) error {
	err := pt.Transaction.Rollback(ctx)
	pt.pool.Release(pt.pooled)
	return err
}
