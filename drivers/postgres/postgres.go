// Package postgres adapts a single jackc/pgx/v5 connection to
// sqlx.RawDriver, including LISTEN/NOTIFY support for the pgmq
// consumer.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/honeynil/sqlx"
)

func init() {
	sqlx.RegisterDriver(sqlx.DialectPostgres, func(dsn string) sqlx.Factory {
		return func(ctx context.Context) (sqlx.RawDriver, error) {
			conn, err := pgx.Connect(ctx, dsn)
			if err != nil {
				return nil, fmt.Errorf("postgres: connect: %w", err)
			}
			return &Driver{conn: conn}, nil
		}
	})
}

// Driver wraps one *pgx.Conn. It holds exactly one native connection
// for its lifetime; sqlx.Pool is what makes many of these concurrent.
type Driver struct {
	conn *pgx.Conn
}

// New wraps an already-established pgx connection, for callers that
// manage their own dialing (e.g. tests against a Dockerized Postgres).
func New(conn *pgx.Conn) *Driver {
	return &Driver{conn: conn}
}

func (d *Driver) Execute(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := d.conn.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (d *Driver) FetchAll(ctx context.Context, sql string, args ...any) (*sqlx.ResultSet, error) {
	rows, err := d.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rs, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	return rs, rows.Err()
}

func (d *Driver) Begin(ctx context.Context) (sqlx.RawTx, error) {
	tx, err := d.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

func (d *Driver) SetIsolationLevel(ctx context.Context, level sqlx.IsolationLevel) error {
	if level == sqlx.IsolationDefault {
		return nil
	}
	_, err := d.conn.Exec(ctx, fmt.Sprintf("SET SESSION CHARACTERISTICS AS TRANSACTION ISOLATION LEVEL %s", level.String()))
	return err
}

// Listen subscribes to channel via LISTEN and blocks in a background
// goroutine forwarding notifications to onNotify until unsubscribed.
// The dedicated connection this Driver wraps must not be used for any
// other query while a Listen subscription is active, matching
// PostgreSQL's rule that LISTEN is session-scoped.
func (d *Driver) Listen(ctx context.Context, channel string, onNotify func(payload string)) (func() error, error) {
	if _, err := d.conn.Exec(ctx, fmt.Sprintf("LISTEN %s", pgx.Identifier{channel}.Sanitize())); err != nil {
		return nil, fmt.Errorf("postgres: listen %s: %w", channel, err)
	}

	listenCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			notification, err := d.conn.WaitForNotification(listenCtx)
			if err != nil {
				return
			}
			onNotify(notification.Payload)
		}
	}()

	unsubscribe := func() error {
		cancel()
		<-done
		_, err := d.conn.Exec(context.Background(), fmt.Sprintf("UNLISTEN %s", pgx.Identifier{channel}.Sanitize()))
		return err
	}
	return unsubscribe, nil
}

func (d *Driver) Ping(ctx context.Context) error {
	return d.conn.Ping(ctx)
}

func (d *Driver) Close() error {
	return d.conn.Close(context.Background())
}

// Tx adapts pgx.Tx to sqlx.RawTx.
type Tx struct {
	tx pgx.Tx
}

func (t *Tx) Execute(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *Tx) FetchAll(ctx context.Context, sql string, args ...any) (*sqlx.ResultSet, error) {
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rs, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	return rs, rows.Err()
}

func (t *Tx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *Tx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// scanRows materializes a pgx.Rows into a ResultSet, rendering every
// value to its canonical string form via fmt.Sprint so the decode.go
// cast helpers can operate dialect-independently. Byte slices render
// through the hex-blob convention shared with the literal encoder, and
// time.Time values in the UTC "YYYY-MM-DD HH:MM:SS.uuuuuu" form that
// AsInstant parses.
func scanRows(rows pgx.Rows) (*sqlx.ResultSet, error) {
	fds := rows.FieldDescriptions()
	schema := make([]sqlx.Column, len(fds))
	for i, fd := range fds {
		schema[i] = sqlx.Column{Ordinal: i, Name: fd.Name, Type: fmt.Sprintf("oid:%d", fd.DataTypeOID)}
	}

	var result []sqlx.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		cols := make([]sqlx.Column, len(values))
		for i, v := range values {
			cols[i] = renderColumn(schema[i], v)
		}
		result = append(result, *sqlx.NewRow(cols))
	}

	if len(result) == 0 {
		return sqlx.NewEmptyResultSet(schema), nil
	}
	return sqlx.NewResultSet(result), nil
}

func renderColumn(schema sqlx.Column, v any) sqlx.Column {
	col := schema
	if v == nil {
		return col
	}
	var s string
	switch t := v.(type) {
	case []byte:
		s = "\\x" + fmt.Sprintf("%x", t)
	case time.Time:
		s = t.UTC().Format("2006-01-02 15:04:05.000000")
	default:
		s = fmt.Sprint(v)
	}
	col.Value = &s
	return col
}
