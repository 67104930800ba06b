package sqlx

import "context"

// txContextKey is the private context.Context key carrying the
// ambient transaction. Never stored anywhere process-wide — each
// RunInTransaction call derives a child context scoped to its own
// body, so the ambient value is restored automatically on return
// (spec §9's design note on task-local scopes).
type txContextKey struct{}

// TxFromContext returns the ambient transaction published by an
// enclosing RunInTransaction/WithCurrentTransaction call, if any.
func TxFromContext(ctx context.Context) (*PooledTransaction, bool) {
	tx, ok := ctx.Value(txContextKey{}).(*PooledTransaction)
	return tx, ok
}

func withTx(ctx context.Context, tx *PooledTransaction) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// RunInTransaction acquires a connection from pool, begins a
// transaction, publishes it as the ambient transaction for the
// duration of fn, and commits on a nil return or rolls back on a
// non-nil return (including a panic, which it re-raises after
// rolling back). The ambient value present before the call, if any,
// is restored once RunInTransaction returns.
func RunInTransaction(ctx context.Context, pool *Pool, fn func(ctx context.Context) error) (err error) {
	tx, err := pool.BeginTx(ctx)
	if err != nil {
		return err
	}

	txCtx := withTx(ctx, tx)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err = fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// WithCurrentTransaction reuses the ambient transaction already
// published on ctx, if any; otherwise, if pool is non-nil, it behaves
// exactly like RunInTransaction(ctx, pool, fn). If ctx carries no
// ambient transaction and pool is nil, it fails.
func WithCurrentTransaction(ctx context.Context, pool *Pool, fn func(ctx context.Context) error) error {
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}
	if pool == nil {
		return ErrNoAmbientTransaction
	}
	return RunInTransaction(ctx, pool, fn)
}
