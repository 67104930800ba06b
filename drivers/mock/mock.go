// Package mock provides an in-memory sqlx.RawDriver for testing the
// pool, connection, and statement-rendering layers without a real
// database server. It is backed by a real SQLite in-memory database
// (mattn/go-sqlite3), so Execute/FetchAll run genuine SQL rather than
// a hand-rolled interpreter; error-injection hooks let tests exercise
// failure paths Pool and Connection must handle.
package mock

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"

	"github.com/honeynil/sqlx"
)

// Driver is an in-memory mock implementation of sqlx.RawDriver.
type Driver struct {
	mu sync.Mutex
	db *sql.DB

	closed atomic.Bool

	executeErr  error
	fetchErr    error
	beginErr    error
	pingErr     error
	listenErr   error
	isolation   sqlx.IsolationLevel
}

// New creates a mock driver backed by a fresh SQLite in-memory
// database. Each call to New gets its own isolated database.
func New() (*Driver, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Driver{db: db}, nil
}

// NewFactory returns a sqlx.Factory producing a fresh Driver per call,
// suitable for WithFactory(mock.NewFactory()).
func NewFactory() sqlx.Factory {
	return func(ctx context.Context) (sqlx.RawDriver, error) {
		return New()
	}
}

// SetExecuteError makes the next and all subsequent Execute calls
// return err.
func (d *Driver) SetExecuteError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.executeErr = err
}

// SetFetchError makes the next and all subsequent FetchAll calls
// return err.
func (d *Driver) SetFetchError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fetchErr = err
}

// SetBeginError makes Begin return err.
func (d *Driver) SetBeginError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.beginErr = err
}

// SetPingError makes Ping return err, simulating a connection the
// pool should discard rather than hand out.
func (d *Driver) SetPingError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pingErr = err
}

func (d *Driver) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	d.mu.Lock()
	err := d.executeErr
	d.mu.Unlock()
	if err != nil {
		return 0, err
	}
	res, execErr := d.db.ExecContext(ctx, query, args...)
	if execErr != nil {
		return 0, execErr
	}
	return res.RowsAffected()
}

func (d *Driver) FetchAll(ctx context.Context, query string, args ...any) (*sqlx.ResultSet, error) {
	d.mu.Lock()
	err := d.fetchErr
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	rows, queryErr := d.db.QueryContext(ctx, query, args...)
	if queryErr != nil {
		return nil, queryErr
	}
	defer rows.Close()
	return scanRows(rows)
}

func (d *Driver) Begin(ctx context.Context) (sqlx.RawTx, error) {
	d.mu.Lock()
	err := d.beginErr
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	tx, beginErr := d.db.BeginTx(ctx, nil)
	if beginErr != nil {
		return nil, beginErr
	}
	return &Tx{tx: tx}, nil
}

func (d *Driver) SetIsolationLevel(ctx context.Context, level sqlx.IsolationLevel) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.isolation = level
	return nil
}

// Listen accepts any subscription and returns a no-op unsubscribe
// function; the mock never delivers a notification, so onNotify is
// never called.
func (d *Driver) Listen(ctx context.Context, channel string, onNotify func(string)) (func() error, error) {
	d.mu.Lock()
	err := d.listenErr
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return func() error { return nil }, nil
}

func (d *Driver) Ping(ctx context.Context) error {
	d.mu.Lock()
	err := d.pingErr
	d.mu.Unlock()
	return err
}

func (d *Driver) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	return d.db.Close()
}

// Tx adapts *sql.Tx to sqlx.RawTx.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (t *Tx) FetchAll(ctx context.Context, query string, args ...any) (*sqlx.ResultSet, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func (t *Tx) Commit(ctx context.Context) error   { return t.tx.Commit() }
func (t *Tx) Rollback(ctx context.Context) error { return t.tx.Rollback() }

func scanRows(rows *sql.Rows) (*sqlx.ResultSet, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	schema := make([]sqlx.Column, len(names))
	for i, name := range names {
		schema[i] = sqlx.Column{Ordinal: i, Name: name, Type: "text"}
	}

	var result []sqlx.Row
	for rows.Next() {
		raw := make([]sql.NullString, len(names))
		dest := make([]any, len(names))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		cols := make([]sqlx.Column, len(names))
		for i, v := range raw {
			col := schema[i]
			if v.Valid {
				s := v.String
				col.Value = &s
			}
			cols[i] = col
		}
		result = append(result, *sqlx.NewRow(cols))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(result) == 0 {
		return sqlx.NewEmptyResultSet(schema), nil
	}
	return sqlx.NewResultSet(result), nil
}
