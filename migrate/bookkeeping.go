package migrate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/honeynil/sqlx"
)

// quoteIdentifier escapes name for use as a SQL identifier in
// dialect, doubling any embedded quote character. Adapted from the
// library's own drivers' quoting strategies: double quotes for
// PostgreSQL/SQLite, backticks for MySQL.
func quoteIdentifier(name string, dialect sqlx.Dialect) string {
	quote := `"`
	if dialect == sqlx.DialectMySQL {
		quote = "`"
	}
	escaped := strings.ReplaceAll(name, quote, quote+quote)
	return quote + escaped + quote
}

// qualifiedTable returns the schema-qualified, quoted bookkeeping
// table name. SQLite has no schema concept, so schema is ignored for
// that dialect even if set.
func qualifiedTable(table, schema string, dialect sqlx.Dialect) string {
	quotedTable := quoteIdentifier(table, dialect)
	if schema == "" || !dialect.SupportsSchema() {
		return quotedTable
	}
	return quoteIdentifier(schema, dialect) + "." + quotedTable
}

// Applied is one bookkeeping row: a migration already recorded as
// run.
type Applied struct {
	Version       int64
	Name          string
	InstalledOn   time.Time
	Checksum      string
	ExecutionTime time.Duration
}

// execer is satisfied by both *sqlx.Connection and
// *sqlx.PooledTransaction (via its embedded *sqlx.Transaction), so
// the bookkeeping helpers below work identically whether called
// outside a transaction (schema/table setup) or inside one (per-file
// apply).
type execer interface {
	Execute(ctx context.Context, sqlText string, args ...any) (int64, error)
	FetchAll(ctx context.Context, sqlText string, args ...any) (*sqlx.ResultSet, error)
}

func createSchemaIfNeeded(ctx context.Context, conn execer, schema string, dialect sqlx.Dialect) error {
	if schema == "" || dialect == sqlx.DialectSQLite {
		return nil
	}
	_, err := conn.Execute(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quoteIdentifier(schema, dialect)))
	return err
}

func createBookkeepingTable(ctx context.Context, conn execer, table, schema string, dialect sqlx.Dialect) error {
	qualified := qualifiedTable(table, schema, dialect)

	var ddl string
	switch dialect {
	case sqlx.DialectPostgres:
		ddl = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			version BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			installed_on TIMESTAMP NOT NULL DEFAULT now(),
			checksum TEXT NOT NULL,
			execution_time_ms BIGINT NOT NULL
		)`, qualified)
	case sqlx.DialectMySQL:
		ddl = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			version BIGINT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			installed_on TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			checksum VARCHAR(64) NOT NULL,
			execution_time_ms BIGINT NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, qualified)
	default: // SQLite
		ddl = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			installed_on TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			checksum TEXT NOT NULL,
			execution_time_ms INTEGER NOT NULL
		)`, qualified)
	}

	_, err := conn.Execute(ctx, ddl)
	return err
}

func lookupApplied(ctx context.Context, conn execer, table, schema string, dialect sqlx.Dialect, version int64) (*Applied, error) {
	qualified := qualifiedTable(table, schema, dialect)
	stmt := sqlx.NewStatement(fmt.Sprintf("SELECT version, name, installed_on, checksum, execution_time_ms FROM %s WHERE version = :version", qualified)).
		BindNamed("version", version)

	native, err := stmt.Render(dialect, sqlx.RenderNative)
	if err != nil {
		return nil, err
	}

	rs, err := conn.FetchAll(ctx, native.SQL, native.Values...)
	if err != nil {
		return nil, err
	}
	if rs.Len() == 0 {
		return nil, nil
	}
	row, err := rs.At(0)
	if err != nil {
		return nil, err
	}

	nameCol, _ := row.ByName("name")
	name, err := nameCol.AsString()
	if err != nil {
		return nil, err
	}
	checksumCol, _ := row.ByName("checksum")
	checksum, err := checksumCol.AsString()
	if err != nil {
		return nil, err
	}
	installedCol, _ := row.ByName("installed_on")
	installedOn, _ := installedCol.AsInstant()
	execCol, _ := row.ByName("execution_time_ms")
	execMs, err := execCol.AsLong()
	if err != nil {
		return nil, err
	}

	return &Applied{
		Version:       version,
		Name:          name,
		InstalledOn:   installedOn,
		Checksum:      checksum,
		ExecutionTime: time.Duration(execMs) * time.Millisecond,
	}, nil
}

func recordApplied(ctx context.Context, conn execer, table, schema string, dialect sqlx.Dialect, a Applied) error {
	qualified := qualifiedTable(table, schema, dialect)
	stmt := sqlx.NewStatement(fmt.Sprintf(
		"INSERT INTO %s (version, name, checksum, execution_time_ms) VALUES (:version, :name, :checksum, :exec_ms)", qualified)).
		BindNamed("version", a.Version).
		BindNamed("name", a.Name).
		BindNamed("checksum", a.Checksum).
		BindNamed("exec_ms", a.ExecutionTime.Milliseconds())

	native, err := stmt.Render(dialect, sqlx.RenderNative)
	if err != nil {
		return err
	}
	_, err = conn.Execute(ctx, native.SQL, native.Values...)
	return err
}
