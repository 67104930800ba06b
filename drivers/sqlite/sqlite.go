// Package sqlite adapts a database/sql connection using
// github.com/mattn/go-sqlite3 to sqlx.RawDriver.
//
// SQLite has no server-side isolation-level setting and no LISTEN/
// NOTIFY; SetIsolationLevel is a no-op and Listen always errors.
// SQLite is a single-writer database by design, so an in-memory DSN
// forces sqlx.Pool down to max_connections=1 (see dialect.go's
// isSQLiteMemoryDSN) to avoid each connection seeing its own empty
// database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/honeynil/sqlx"
)

func init() {
	sqlx.RegisterDriver(sqlx.DialectSQLite, func(dsn string) sqlx.Factory {
		return func(ctx context.Context) (sqlx.RawDriver, error) {
			path := strings.TrimPrefix(dsn, "sqlite://")
			path = strings.TrimPrefix(path, "jdbc:sqlite:")
			db, err := sql.Open("sqlite3", path)
			if err != nil {
				return nil, fmt.Errorf("sqlite: open: %w", err)
			}
			if err := db.PingContext(ctx); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("sqlite: ping: %w", err)
			}
			db.SetMaxOpenConns(1)
			return &Driver{db: db}, nil
		}
	})
}

// Driver wraps a *sql.DB pinned to a single connection.
type Driver struct {
	db *sql.DB
}

// New wraps an already-open *sql.DB.
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

func (d *Driver) SetIsolationLevel(ctx context.Context, level sqlx.IsolationLevel) error {
	return nil
}

func (d *Driver) Listen(ctx context.Context, channel string, onNotify func(string)) (func() error, error) {
	return nil, fmt.Errorf("sqlite: LISTEN/NOTIFY is not supported by this dialect")
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
