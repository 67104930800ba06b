package migrate

import (
	"fmt"

	"github.com/honeynil/sqlx"
)

// MigrationError reports a migration failure with the version/name
// context needed to locate the offending file. It always unwraps to
// sqlx.ErrMigrate.
type MigrationError struct {
	Version   int64
	Name      string
	Operation string // "discover", "schema", "bookkeeping", "checksum", "split", "apply"
	Cause     error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migrate %s (version=%d name=%q): %v", e.Operation, e.Version, e.Name, e.Cause)
}

func (e *MigrationError) Unwrap() error { return sqlx.ErrMigrate }

func newMigrationError(version int64, name, operation string, cause error) error {
	return &MigrationError{Version: version, Name: name, Operation: operation, Cause: cause}
}
