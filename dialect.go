package sqlx

import (
	"fmt"
	"strings"
)

// Dialect identifies which native SQL driver a Statement is being
// rendered for. Only the placeholder syntax and a handful of literal
// encodings (notably byte slices) differ between dialects; the lexer
// and collection-expansion logic are dialect-agnostic.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

// String implements fmt.Stringer.
func (d Dialect) String() string { return string(d) }

// placeholder returns the native parameter marker for the n-th
// (1-based) slot in this dialect's rendering.
func (d Dialect) placeholder(n int) string {
	switch d {
	case DialectPostgres:
		return fmt.Sprintf("$%d", n)
	default: // MySQL, SQLite
		return "?"
	}
}

// SupportsSchema reports whether CREATE SCHEMA / schema-qualified
// table names are meaningful for this dialect. SQLite has no schema
// concept beyond ATTACHed databases, which the migrator does not use.
func (d Dialect) SupportsSchema() bool {
	return d == DialectPostgres || d == DialectMySQL
}

// ParseDSN inspects a connection URL's scheme and returns the Dialect
// it names. Accepts driver-native schemes (postgres://, postgresql://,
// mysql://) plus sqlite's two conventional spellings (sqlite://path,
// jdbc:sqlite:path).
func ParseDSN(dsn string) (Dialect, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return DialectPostgres, nil
	case strings.HasPrefix(dsn, "mysql://"):
		return DialectMySQL, nil
	case strings.HasPrefix(dsn, "sqlite://"), strings.HasPrefix(dsn, "jdbc:sqlite:"):
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("sqlx: unrecognized connection URL scheme in %q", dsn)
	}
}

// isSQLiteMemoryDSN reports whether dsn names a SQLite in-memory
// database, for which the pool must enforce max_connections == 1: a
// second connection would see an independent, empty in-memory
// database rather than sharing state.
func isSQLiteMemoryDSN(dsn string) bool {
	lower := strings.ToLower(dsn)
	return strings.Contains(lower, ":memory:") || strings.HasSuffix(strings.TrimRight(lower, "/"), "sqlite://")
}
