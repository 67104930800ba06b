package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/honeynil/sqlx"
	"github.com/honeynil/sqlx/internal/checksum"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/honeynil/sqlx/migrate")

// Status describes what happened to one migration file during a run.
type Status string

const (
	StatusApplied   Status = "applied"
	StatusValidated Status = "validated"
)

// FileResult reports the outcome for a single migration file.
type FileResult struct {
	Version       int64
	Name          string
	Status        Status
	ExecutionTime time.Duration
}

// Results is the summary a Migrate call returns.
type Results struct {
	Total         int
	Applied       int
	Validated     int
	ExecutionTime time.Duration
	Files         []FileResult
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithSchema sets the schema migrations are tracked under (ignored for
// SQLite). See CreateSchema for whether the migrator creates it.
func WithSchema(schema string) Option {
	return func(m *Migrator) { m.schema = schema }
}

// CreateSchema makes the migrator issue CREATE SCHEMA IF NOT EXISTS
// before creating the bookkeeping table.
func CreateSchema() Option {
	return func(m *Migrator) { m.createSchema = true }
}

// WithTableName overrides the default bookkeeping table name
// "schema_migrations".
func WithTableName(name string) Option {
	return func(m *Migrator) { m.table = name }
}

// AfterStatement registers a callback invoked after every individual
// statement executes, with the statement text and its duration. A
// non-nil return aborts the migration as a failure.
func AfterStatement(fn func(statement string, d time.Duration) error) Option {
	return func(m *Migrator) { m.afterStatement = fn }
}

// AfterFile registers a callback invoked after a file is fully applied
// (not invoked for files that were merely validated).
func AfterFile(fn func(file MigrationFile, d time.Duration)) Option {
	return func(m *Migrator) { m.afterFile = fn }
}

// Migrator applies a set of MigrationFile against a sqlx.Pool,
// tracking what has already run in a bookkeeping table.
type Migrator struct {
	pool    *sqlx.Pool
	dialect sqlx.Dialect

	schema       string
	createSchema bool
	table        string

	afterStatement func(statement string, d time.Duration) error
	afterFile      func(file MigrationFile, d time.Duration)
}

// New builds a Migrator over pool, applying opts. The default table
// name is "schema_migrations"; no schema is created or assumed unless
// WithSchema/CreateSchema are supplied.
func New(pool *sqlx.Pool, opts ...Option) *Migrator {
	m := &Migrator{
		pool:    pool,
		dialect: pool.Dialect(),
		table:   "schema_migrations",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Migrate applies files in order, skipping ones already applied with
// a matching checksum ("validated") and failing on a checksum
// mismatch. Each unapplied file runs in its own transaction; a
// failure at file N leaves only versions < N recorded, with none of
// N's statements persisted.
func (m *Migrator) Migrate(ctx context.Context, files []MigrationFile) (*Results, error) {
	start := time.Now()

	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if m.createSchema {
		if err := createSchemaIfNeeded(ctx, conn.Connection, m.schema, m.dialect); err != nil {
			m.pool.Release(conn)
			return nil, newMigrationError(0, "", "schema", err)
		}
	}
	if err := createBookkeepingTable(ctx, conn.Connection, m.table, m.schema, m.dialect); err != nil {
		m.pool.Release(conn)
		return nil, newMigrationError(0, "", "bookkeeping", err)
	}
	m.pool.Release(conn)

	results := &Results{Total: len(files)}

	for _, f := range files {
		sum := fileChecksum(f.Content)

		conn, err := m.pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		existing, err := lookupApplied(ctx, conn.Connection, m.table, m.schema, m.dialect, f.Version)
		m.pool.Release(conn)
		if err != nil {
			return nil, newMigrationError(f.Version, f.Name, "checksum", err)
		}

		if existing != nil {
			if existing.Checksum != sum {
				return nil, newMigrationError(f.Version, f.Name, "checksum",
					fmt.Errorf("checksum mismatch: recorded %s, file is %s", existing.Checksum, sum))
			}
			results.Validated++
			results.Files = append(results.Files, FileResult{Version: f.Version, Name: f.Name, Status: StatusValidated})
			continue
		}

		fileStart := time.Now()
		if err := m.applyFile(ctx, f, sum); err != nil {
			return nil, err
		}
		elapsed := time.Since(fileStart)

		results.Applied++
		results.Files = append(results.Files, FileResult{Version: f.Version, Name: f.Name, Status: StatusApplied, ExecutionTime: elapsed})
		if m.afterFile != nil {
			m.afterFile(f, elapsed)
		}
	}

	results.ExecutionTime = time.Since(start)
	return results, nil
}

func (m *Migrator) applyFile(ctx context.Context, f MigrationFile, sum string) error {
	ctx, span := tracer.Start(ctx, "sqlx.migrate.apply_file", trace.WithAttributes(
		attribute.Int64("migrate.version", f.Version),
		attribute.String("migrate.name", f.Name),
	))
	defer span.End()

	if err := m.applyFileBody(ctx, f, sum); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (m *Migrator) applyFileBody(ctx context.Context, f MigrationFile, sum string) error {
	statements := split(string(f.Content))
	if len(statements) == 0 {
		return newMigrationError(f.Version, f.Name, "split", fmt.Errorf("empty migration file"))
	}

	tx, err := m.pool.BeginTx(ctx)
	if err != nil {
		return newMigrationError(f.Version, f.Name, "apply", err)
	}

	var previousSearchPath string
	if m.schema != "" && m.dialect.SupportsSchema() {
		previousSearchPath, err = m.setSearchPath(ctx, tx, m.schema)
		if err != nil {
			_ = tx.Rollback(ctx)
			return newMigrationError(f.Version, f.Name, "apply", err)
		}
	}

	restoreAndFail := func(cause error) error {
		if previousSearchPath != "" {
			_, _ = m.setSearchPath(ctx, tx, previousSearchPath)
		}
		_ = tx.Rollback(ctx)
		return newMigrationError(f.Version, f.Name, "apply", cause)
	}

	for _, stmt := range statements {
		stmtStart := time.Now()
		if _, err := tx.Execute(ctx, stmt); err != nil {
			return restoreAndFail(err)
		}
		duration := time.Since(stmtStart)
		if m.afterStatement != nil {
			if err := m.afterStatement(stmt, duration); err != nil {
				return restoreAndFail(err)
			}
		}
	}

	if previousSearchPath != "" {
		if _, err := m.setSearchPath(ctx, tx, previousSearchPath); err != nil {
			return restoreAndFail(err)
		}
	}

	if err := recordApplied(ctx, tx, m.table, m.schema, m.dialect, Applied{
		Version:  f.Version,
		Name:     f.Name,
		Checksum: sum,
	}); err != nil {
		return restoreAndFail(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return newMigrationError(f.Version, f.Name, "apply", err)
	}
	return nil
}

// setSearchPath issues the dialect-appropriate session-scoping
// statement and returns the search path that was active before the
// call, for later restoration. SQLite never calls this (it has no
// schema concept); it is unreachable for that dialect via the
// SupportsSchema guard in applyFileBody.
func (m *Migrator) setSearchPath(ctx context.Context, tx *sqlx.PooledTransaction, schema string) (string, error) {
	switch m.dialect {
	case sqlx.DialectPostgres:
		rs, err := tx.FetchAll(ctx, "SHOW search_path")
		if err != nil {
			return "", err
		}
		previous := "public"
		if rs.Len() > 0 {
			row, _ := rs.At(0)
			col, _ := row.ByOrdinal(0)
			if s, err := col.AsString(); err == nil {
				previous = s
			}
		}
		if _, err := tx.Execute(ctx, fmt.Sprintf("SET search_path TO %s, public", quoteIdentifier(schema, m.dialect))); err != nil {
			return "", err
		}
		return previous, nil
	case sqlx.DialectMySQL:
		rs, err := tx.FetchAll(ctx, "SELECT DATABASE()")
		if err != nil {
			return "", err
		}
		previous := ""
		if rs.Len() > 0 {
			row, _ := rs.At(0)
			col, _ := row.ByOrdinal(0)
			if s, err := col.AsString(); err == nil {
				previous = s
			}
		}
		if _, err := tx.Execute(ctx, fmt.Sprintf("USE %s", quoteIdentifier(schema, m.dialect))); err != nil {
			return "", err
		}
		return previous, nil
	default:
		return "", nil
	}
}

func fileChecksum(content []byte) string {
	return checksum.Calculate(string(content))
}
