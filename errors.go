package sqlx

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the package's stable error taxonomy. Callers
// should compare against these with errors.Is rather than matching on
// message text. RenderError and PoolError below unwrap to their cause,
// which is one of these when the failure is one the taxonomy names;
// migrate.MigrationError always unwraps to ErrMigrate.
var (
	ErrDatabase            = errors.New("database error")
	ErrPoolTimedOut        = errors.New("pool: acquire timed out")
	ErrPoolClosed          = errors.New("pool: closed")
	ErrWorkerCrashed       = errors.New("worker crashed")
	ErrConnectionIsClosed  = errors.New("connection is closed")
	ErrTransactionIsClosed = errors.New("transaction is closed")

	ErrPositionalParameterOutOfBounds    = errors.New("positional parameter out of bounds")
	ErrNamedParameterNotFound            = errors.New("named parameter not found")
	ErrNamedParameterTypeNotSupported    = errors.New("named parameter type not supported")
	ErrPositionalParameterValueNotSupplied = errors.New("positional parameter value not supplied")
	ErrNamedParameterValueNotSupplied      = errors.New("named parameter value not supplied")

	ErrMigrate      = errors.New("migrate")
	ErrCannotDecode = errors.New("cannot decode")

	ErrNoAmbientTransaction = errors.New("no ambient transaction on context and no pool supplied")
)

// RenderError reports a statement-rendering failure with the offending
// placeholder for context.
type RenderError struct {
	Placeholder string // "?2", ":name", etc.
	Cause       error
}

func (e *RenderError) Error() string {
	if e.Placeholder == "" {
		return e.Cause.Error()
	}
	return fmt.Sprintf("render %s: %v", e.Placeholder, e.Cause)
}

func (e *RenderError) Unwrap() error { return e.Cause }

func newRenderError(placeholder string, cause error) error {
	return &RenderError{Placeholder: placeholder, Cause: cause}
}

// PoolError reports a pool-level failure with the pool's logical name
// (the DSN the pool was constructed with) for multi-pool applications.
type PoolError struct {
	Pool  string
	Cause error
}

func (e *PoolError) Error() string {
	if e.Pool == "" {
		return e.Cause.Error()
	}
	return fmt.Sprintf("pool %s: %v", e.Pool, e.Cause)
}

func (e *PoolError) Unwrap() error { return e.Cause }

func newPoolError(pool string, cause error) error {
	return &PoolError{Pool: pool, Cause: cause}
}
