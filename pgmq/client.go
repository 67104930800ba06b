// Package pgmq is a thin client and consumer for the PostgreSQL
// message-queue extension (https://github.com/pgmq/pgmq). It has no
// precedent in the teacher repo; its statement-building follows the
// same parameterized-fmt.Sprintf convention the rest of this module
// uses, and its consumer loop borrows the ticker/select idiom of a
// reviewed connection-pool reaper.
package pgmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/honeynil/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/honeynil/sqlx/pgmq")

// Message is one row returned by read/pop.
type Message struct {
	ID          int64
	ReadCount   int64
	EnqueuedAt  time.Time
	LastReadAt  *time.Time // optional: absent on pgmq < 1.5
	VisibleAt   time.Time
	Payload     string
	Headers     map[string]string
}

// QueueInfo describes one row returned by ListQueues.
type QueueInfo struct {
	Name        string
	Partitioned bool
	Unlogged    bool
	CreatedAt   time.Time
}

// Metrics is one row returned by Metrics.
type Metrics struct {
	QueueName        string
	QueueLength      int64
	NewestMsgAgeSec  *int64
	OldestMsgAgeSec  *int64
	TotalMessages    int64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithVerifyInstallation makes the client check, on the first
// CreateQueue or ListQueues call, that the pgmq extension is installed
// (pgmq._extension_exists). The other operations do not run this
// check.
func WithVerifyInstallation() ClientOption {
	return func(c *Client) { c.verifyInstallation = true }
}

// WithAutoInstall makes the client run CREATE EXTENSION IF NOT EXISTS
// pgmq when WithVerifyInstallation finds it missing. Implies
// WithVerifyInstallation.
func WithAutoInstall() ClientOption {
	return func(c *Client) { c.verifyInstallation = true; c.autoInstall = true }
}

// Client wraps a *sqlx.Pool with pgmq's SQL-callable operations. The
// pool must be a postgres-dialect pool; pgmq is a PostgreSQL
// extension and has no MySQL/SQLite equivalent.
type Client struct {
	pool *sqlx.Pool

	verifyInstallation bool
	autoInstall        bool
	verified           bool
}

// NewClient wraps pool. pool.Dialect() must be sqlx.DialectPostgres.
func NewClient(pool *sqlx.Pool, opts ...ClientOption) (*Client, error) {
	if pool.Dialect() != sqlx.DialectPostgres {
		return nil, fmt.Errorf("pgmq: requires a postgres pool, got %s", pool.Dialect())
	}
	c := &Client{pool: pool}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ensureInstalled runs the verify/auto-install/recheck sequence
// exactly once per Client, per spec §4.F.
func (c *Client) ensureInstalled(ctx context.Context) error {
	if !c.verifyInstallation || c.verified {
		return nil
	}

	exists, err := c.extensionExists(ctx)
	if err != nil {
		return err
	}
	if !exists && c.autoInstall {
		if _, err := c.exec(ctx, "CREATE EXTENSION IF NOT EXISTS pgmq"); err != nil {
			return fmt.Errorf("pgmq: auto-install: %w", err)
		}
		exists, err = c.extensionExists(ctx)
		if err != nil {
			return err
		}
	}
	if !exists {
		return fmt.Errorf("pgmq: extension not installed (verify_installation set, auto_install=%v)", c.autoInstall)
	}
	c.verified = true
	return nil
}

func (c *Client) extensionExists(ctx context.Context) (bool, error) {
	rs, err := c.query(ctx, "SELECT pgmq._extension_exists('pgmq')")
	if err != nil {
		return false, err
	}
	if rs.Len() == 0 {
		return false, nil
	}
	row, err := rs.At(0)
	if err != nil {
		return false, err
	}
	col, _ := row.ByOrdinal(0)
	return col.AsBool()
}

func (c *Client) exec(ctx context.Context, sqlText string, args ...any) (int64, error) {
	ctx, span := tracer.Start(ctx, "pgmq.exec", trace.WithAttributes(attribute.String("db.statement", sqlText)))
	defer span.End()

	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	defer c.pool.Release(conn)
	n, err := conn.Connection.Execute(ctx, sqlText, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return n, err
}

func (c *Client) query(ctx context.Context, sqlText string, args ...any) (*sqlx.ResultSet, error) {
	ctx, span := tracer.Start(ctx, "pgmq.query", trace.WithAttributes(attribute.String("db.statement", sqlText)))
	defer span.End()

	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer c.pool.Release(conn)
	rs, err := conn.Connection.FetchAll(ctx, sqlText, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return rs, err
}

// render binds args by name into stmt and produces postgres-native
// SQL and values in one step; every client method uses this rather
// than hand-indexed $N placeholders.
func render(template string, binds map[string]any) (string, []any, error) {
	stmt := sqlx.NewStatement(template)
	for name, value := range binds {
		stmt.BindNamed(name, value)
	}
	native, err := stmt.Render(sqlx.DialectPostgres, sqlx.RenderNative)
	if err != nil {
		return "", nil, err
	}
	return native.SQL, native.Values, nil
}

// CreateQueue creates queue, or create_unlogged if unlogged is set,
// optionally enabling the INSERT-notify trigger pgmq's
// enable_notify_insert wraps. Transactional: queue creation and the
// notify-trigger toggle happen as one commit.
func (c *Client) CreateQueue(ctx context.Context, queue string, unlogged, enableNotifyInsert bool) error {
	if err := c.ensureInstalled(ctx); err != nil {
		return err
	}

	tx, err := c.pool.BeginTx(ctx)
	if err != nil {
		return err
	}

	createFn := "pgmq.create"
	if unlogged {
		createFn = "pgmq.create_unlogged"
	}
	sqlText, values, err := render(fmt.Sprintf("SELECT %s(:queue)", createFn), map[string]any{"queue": queue})
	if err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if _, err := tx.Execute(ctx, sqlText, values...); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("pgmq: create queue %q: %w", queue, err)
	}

	if enableNotifyInsert {
		sqlText, values, err = render("SELECT pgmq.enable_notify_insert(:queue)", map[string]any{"queue": queue})
		if err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
		if _, err := tx.Execute(ctx, sqlText, values...); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("pgmq: enable_notify_insert %q: %w", queue, err)
		}
	}

	return tx.Commit(ctx)
}

// ListQueues returns every queue pgmq knows about.
func (c *Client) ListQueues(ctx context.Context) ([]QueueInfo, error) {
	if err := c.ensureInstalled(ctx); err != nil {
		return nil, err
	}
	rs, err := c.query(ctx, "SELECT queue_name, is_partitioned, is_unlogged, created_at FROM pgmq.list_queues()")
	if err != nil {
		return nil, err
	}
	out := make([]QueueInfo, 0, rs.Len())
	for i := 0; i < rs.Len(); i++ {
		row, err := rs.At(i)
		if err != nil {
			return nil, err
		}
		name, _ := mustCol(row, "queue_name")
		nameStr, err := name.AsString()
		if err != nil {
			return nil, err
		}
		part, _ := mustCol(row, "is_partitioned")
		partBool, _ := part.AsBool()
		unlogged, _ := mustCol(row, "is_unlogged")
		unloggedBool, _ := unlogged.AsBool()
		created, _ := mustCol(row, "created_at")
		createdAt, _ := created.AsInstant()
		out = append(out, QueueInfo{Name: nameStr, Partitioned: partBool, Unlogged: unloggedBool, CreatedAt: createdAt})
	}
	return out, nil
}

// DropQueue drops queue, reporting whether it existed.
func (c *Client) DropQueue(ctx context.Context, queue string) (bool, error) {
	sqlText, values, err := render("SELECT pgmq.drop_queue(:queue)", map[string]any{"queue": queue})
	if err != nil {
		return false, err
	}
	rs, err := c.query(ctx, sqlText, values...)
	if err != nil {
		return false, err
	}
	if rs.Len() == 0 {
		return false, nil
	}
	row, _ := rs.At(0)
	col, _ := row.ByOrdinal(0)
	return col.AsBool()
}

// Purge removes every message from queue, returning the count
// removed.
func (c *Client) Purge(ctx context.Context, queue string) (int64, error) {
	sqlText, values, err := render("SELECT pgmq.purge_queue(:queue)", map[string]any{"queue": queue})
	if err != nil {
		return 0, err
	}
	rs, err := c.query(ctx, sqlText, values...)
	if err != nil {
		return 0, err
	}
	if rs.Len() == 0 {
		return 0, nil
	}
	row, _ := rs.At(0)
	col, _ := row.ByOrdinal(0)
	return col.AsLong()
}

// Send enqueues msg with headers (JSON-encoded) and an optional
// delay, returning the new message id.
func (c *Client) Send(ctx context.Context, queue, msg string, headers map[string]string, delay time.Duration) (int64, error) {
	headerJSON, err := encodeHeaders(headers)
	if err != nil {
		return 0, err
	}
	sqlText, values, err := render(
		"SELECT msg_id FROM pgmq.send(:queue, :msg, :headers::jsonb, :delay)",
		map[string]any{"queue": queue, "msg": msg, "headers": headerJSON, "delay": int64(delay.Seconds())},
	)
	if err != nil {
		return 0, err
	}
	rs, err := c.query(ctx, sqlText, values...)
	if err != nil {
		return 0, err
	}
	if rs.Len() == 0 {
		return 0, fmt.Errorf("pgmq: send returned no row")
	}
	row, _ := rs.At(0)
	col, _ := mustCol(row, "msg_id")
	return col.AsLong()
}

// SendBatch enqueues every message in msgs with the same headers and
// delay, returning their new message ids in order.
func (c *Client) SendBatch(ctx context.Context, queue string, msgs []string, headers map[string]string, delay time.Duration) ([]int64, error) {
	headerJSON, err := encodeHeaders(headers)
	if err != nil {
		return nil, err
	}
	sqlText, values, err := render(
		"SELECT msg_id FROM pgmq.send_batch(:queue, :msgs, :headers::jsonb, :delay)",
		map[string]any{"queue": queue, "msgs": msgs, "headers": headerJSON, "delay": int64(delay.Seconds())},
	)
	if err != nil {
		return nil, err
	}
	rs, err := c.query(ctx, sqlText, values...)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, rs.Len())
	for i := 0; i < rs.Len(); i++ {
		row, _ := rs.At(i)
		col, _ := mustCol(row, "msg_id")
		id, err := col.AsLong()
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Pop removes and returns up to qty messages.
func (c *Client) Pop(ctx context.Context, queue string, qty int) ([]Message, error) {
	sqlText, values, err := render("SELECT * FROM pgmq.pop(:queue, :qty)", map[string]any{"queue": queue, "qty": int64(qty)})
	if err != nil {
		return nil, err
	}
	rs, err := c.query(ctx, sqlText, values...)
	if err != nil {
		return nil, err
	}
	return scanMessages(rs)
}

// Read returns up to qty messages, extending their visibility timeout
// to vt and incrementing read_ct.
func (c *Client) Read(ctx context.Context, queue string, qty int, vt time.Duration) ([]Message, error) {
	sqlText, values, err := render(
		"SELECT * FROM pgmq.read(:queue, :vt, :qty)",
		map[string]any{"queue": queue, "vt": int64(vt.Seconds()), "qty": int64(qty)},
	)
	if err != nil {
		return nil, err
	}
	rs, err := c.query(ctx, sqlText, values...)
	if err != nil {
		return nil, err
	}
	return scanMessages(rs)
}

// Archive moves every id in ids to the archive table. Fails if any id
// was not affected.
func (c *Client) Archive(ctx context.Context, queue string, ids []int64) error {
	return c.requireAllAffected(ctx, "pgmq.archive", queue, ids)
}

// Delete permanently removes every id in ids. Fails if any id was not
// affected.
func (c *Client) Delete(ctx context.Context, queue string, ids []int64) error {
	return c.requireAllAffected(ctx, "pgmq.delete", queue, ids)
}

func (c *Client) requireAllAffected(ctx context.Context, fn, queue string, ids []int64) error {
	sqlText, values, err := render(fmt.Sprintf("SELECT %s(:queue, :ids)", fn), map[string]any{"queue": queue, "ids": ids})
	if err != nil {
		return err
	}
	rs, err := c.query(ctx, sqlText, values...)
	if err != nil {
		return err
	}
	affected := 0
	for i := 0; i < rs.Len(); i++ {
		row, _ := rs.At(i)
		col, _ := row.ByOrdinal(0)
		if ok, _ := col.AsBool(); ok {
			affected++
		}
	}
	if affected != len(ids) {
		return fmt.Errorf("pgmq: %s(%s): expected %d ids affected, got %d", fn, queue, len(ids), affected)
	}
	return nil
}

// SetVT updates the visibility timeout of id in queue to vt seconds
// from now, returning the message id.
func (c *Client) SetVT(ctx context.Context, queue string, id int64, vt time.Duration) (int64, error) {
	sqlText, values, err := render(
		"SELECT msg_id FROM pgmq.set_vt(:queue, :id, :vt)",
		map[string]any{"queue": queue, "id": id, "vt": int64(vt.Seconds())},
	)
	if err != nil {
		return 0, err
	}
	rs, err := c.query(ctx, sqlText, values...)
	if err != nil {
		return 0, err
	}
	if rs.Len() == 0 {
		return 0, fmt.Errorf("pgmq: set_vt(%s, %d): no such message", queue, id)
	}
	row, _ := rs.At(0)
	col, _ := mustCol(row, "msg_id")
	return col.AsLong()
}

// Metrics returns pgmq.metrics(queue), or pgmq.metrics_all() if queue
// is empty.
func (c *Client) Metrics(ctx context.Context, queue string) ([]Metrics, error) {
	var sqlText string
	var values []any
	var err error
	if queue == "" {
		sqlText = "SELECT * FROM pgmq.metrics_all()"
	} else {
		sqlText, values, err = render("SELECT * FROM pgmq.metrics(:queue)", map[string]any{"queue": queue})
		if err != nil {
			return nil, err
		}
	}
	rs, err := c.query(ctx, sqlText, values...)
	if err != nil {
		return nil, err
	}
	out := make([]Metrics, 0, rs.Len())
	for i := 0; i < rs.Len(); i++ {
		row, _ := rs.At(i)
		name, _ := mustCol(row, "queue_name")
		nameStr, _ := name.AsString()
		length, _ := mustCol(row, "queue_length")
		lengthLong, _ := length.AsLong()
		total, _ := mustCol(row, "total_messages")
		totalLong, _ := total.AsLong()

		m := Metrics{QueueName: nameStr, QueueLength: lengthLong, TotalMessages: totalLong}
		if col, err := row.ByName("newest_msg_age_sec"); err == nil {
			if v, err := col.AsLongOpt(); err == nil {
				m.NewestMsgAgeSec = v
			}
		}
		if col, err := row.ByName("oldest_msg_age_sec"); err == nil {
			if v, err := col.AsLongOpt(); err == nil {
				m.OldestMsgAgeSec = v
			}
		}
		out = append(out, m)
	}
	return out, nil
}

// Ack acknowledges successful processing of id, which per spec §4.F
// is simply a permanent delete.
func (c *Client) Ack(ctx context.Context, queue string, id int64) error {
	return c.Delete(ctx, queue, []int64{id})
}

// Nack returns id to visibility after delay (0 makes it immediately
// visible again), per spec §4.F's nack = set_vt(id, 0) equivalence.
func (c *Client) Nack(ctx context.Context, queue string, id int64, delay time.Duration) error {
	_, err := c.SetVT(ctx, queue, id, delay)
	return err
}

func encodeHeaders(headers map[string]string) (string, error) {
	if headers == nil {
		headers = map[string]string{}
	}
	b, err := json.Marshal(headers)
	if err != nil {
		return "", fmt.Errorf("pgmq: encode headers: %w", err)
	}
	return string(b), nil
}

func decodeHeaders(raw string) (map[string]string, error) {
	if raw == "" {
		return map[string]string{}, nil
	}
	var headers map[string]string
	if err := json.Unmarshal([]byte(raw), &headers); err != nil {
		return nil, fmt.Errorf("pgmq: decode headers: %w", err)
	}
	return headers, nil
}

func mustCol(row *sqlx.Row, name string) (sqlx.Column, error) {
	return row.ByName(name)
}

// scanMessages decodes the common row shape shared by pop and read.
// last_read_at is read by name and treated as optional (spec §9's
// Open Question on pgmq schema version): absent on pgmq < 1.5.
func scanMessages(rs *sqlx.ResultSet) ([]Message, error) {
	out := make([]Message, 0, rs.Len())
	for i := 0; i < rs.Len(); i++ {
		row, err := rs.At(i)
		if err != nil {
			return nil, err
		}

		idCol, _ := mustCol(row, "msg_id")
		id, err := idCol.AsLong()
		if err != nil {
			return nil, err
		}
		readCtCol, _ := mustCol(row, "read_ct")
		readCt, err := readCtCol.AsLong()
		if err != nil {
			return nil, err
		}
		enqueuedCol, _ := mustCol(row, "enqueued_at")
		enqueuedAt, _ := enqueuedCol.AsInstant()
		vtCol, _ := mustCol(row, "vt")
		vt, _ := vtCol.AsInstant()
		messageCol, _ := mustCol(row, "message")
		payload, err := messageCol.AsString()
		if err != nil {
			return nil, err
		}

		var headers map[string]string
		if col, err := row.ByName("headers"); err == nil {
			raw, err := col.AsString()
			if err == nil && raw != "" {
				headers, err = decodeHeaders(raw)
				if err != nil {
					return nil, err
				}
			}
		}
		if headers == nil {
			headers = map[string]string{}
		}

		msg := Message{
			ID:         id,
			ReadCount:  readCt,
			EnqueuedAt: enqueuedAt,
			VisibleAt:  vt,
			Payload:    payload,
			Headers:    headers,
		}
		if col, err := row.ByName("last_read_at"); err == nil {
			if s, err := col.AsStringOpt(); err == nil && s != nil {
				if t, err := col.AsInstant(); err == nil {
					msg.LastReadAt = &t
				}
			}
		}
		out = append(out, msg)
	}
	return out, nil
}
