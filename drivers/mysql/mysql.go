// Package mysql adapts a database/sql connection using
// github.com/go-sql-driver/mysql to sqlx.RawDriver.
//
// The DSN must include parseTime=true so TIMESTAMP/DATETIME columns
// round-trip through Go's time.Time rather than []byte.
package mysql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/honeynil/sqlx"
)

func init() {
	sqlx.RegisterDriver(sqlx.DialectMySQL, func(dsn string) sqlx.Factory {
		return func(ctx context.Context) (sqlx.RawDriver, error) {
			trimmed := dsn
			if len(trimmed) >= len("mysql://") && trimmed[:len("mysql://")] == "mysql://" {
				trimmed = trimmed[len("mysql://"):]
			}
			db, err := sql.Open("mysql", trimmed)
			if err != nil {
				return nil, fmt.Errorf("mysql: open: %w", err)
			}
			if err := db.PingContext(ctx); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("mysql: ping: %w", err)
			}
			// One RawDriver == one native connection; sqlx.Pool supplies
			// the concurrency above this layer, so cap database/sql's own
			// pool at one to avoid two layers of pooling fighting for
			// the same budget.
			db.SetMaxOpenConns(1)
			return &Driver{db: db}, nil
		}
	})
}

// Driver wraps a *sql.DB pinned to a single connection.
type Driver struct {
	db *sql.DB
}

// New wraps an already-open *sql.DB, for callers that manage their own
// connection lifecycle.
func New(db *sql.DB) *Driver {
	return &Driver{db: db}
}

func (d *Driver) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d *Driver) FetchAll(ctx context.Context, query string, args ...any) (*sqlx.ResultSet, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func (d *Driver) Begin(ctx context.Context) (sqlx.RawTx, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// SetIsolationLevel issues MySQL's session-scoped isolation variable.
// This only lands reliably because init() caps the underlying *sql.DB
// to one connection (SetMaxOpenConns(1)): database/sql's own pooling
// would otherwise make it unpredictable which session a subsequent
// Begin lands on.
func (d *Driver) SetIsolationLevel(ctx context.Context, level sqlx.IsolationLevel) error {
	if level == sqlx.IsolationDefault {
		return nil
	}
	_, err := d.db.ExecContext(ctx, fmt.Sprintf("SET SESSION TRANSACTION ISOLATION LEVEL %s", level.String()))
	return err
}

// Listen is not supported: MySQL has no LISTEN/NOTIFY facility.
func (d *Driver) Listen(ctx context.Context, channel string, onNotify func(string)) (func() error, error) {
	return nil, fmt.Errorf("mysql: LISTEN/NOTIFY is not supported by this dialect")
}

func (d *Driver) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }
func (d *Driver) Close() error                   { return d.db.Close() }

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

// scanRows materializes a *sql.Rows into a ResultSet, scanning every
// column as sql.NullString so the canonical string renders
// dialect-independently for decode.go's cast helpers.
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
