package sqlx

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CannotDecode wraps a column-cast failure. Non-optional casts on a
// NULL column, or a value that doesn't parse as the target type, both
// produce this error wrapping ErrCannotDecode.
type CannotDecode struct {
	Column string
	Target string
	Cause  error
}

func (e *CannotDecode) Error() string {
	return fmt.Sprintf("sqlx: cannot decode column %q as %s: %v", e.Column, e.Target, e.Cause)
}

func (e *CannotDecode) Unwrap() error { return ErrCannotDecode }

func cannotDecode(col Column, target string, cause error) error {
	return &CannotDecode{Column: col.Name, Target: target, Cause: cause}
}

// AsLong decodes a column's canonical string value as an int64. Fails
// with CannotDecode if the column is NULL or not a valid integer.
func (c Column) AsLong() (int64, error) {
	if c.Value == nil {
		return 0, cannotDecode(c, "int64", fmt.Errorf("column is null"))
	}
	n, err := strconv.ParseInt(*c.Value, 10, 64)
	if err != nil {
		return 0, cannotDecode(c, "int64", err)
	}
	return n, nil
}

// AsLongOpt decodes as *int64, returning nil for NULL instead of
// failing.
func (c Column) AsLongOpt() (*int64, error) {
	if c.Value == nil {
		return nil, nil
	}
	n, err := c.AsLong()
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// AsDouble decodes the column as a float64.
func (c Column) AsDouble() (float64, error) {
	if c.Value == nil {
		return 0, cannotDecode(c, "float64", fmt.Errorf("column is null"))
	}
	f, err := strconv.ParseFloat(*c.Value, 64)
	if err != nil {
		return 0, cannotDecode(c, "float64", err)
	}
	return f, nil
}

// AsBool decodes the column as a bool, accepting "t"/"f", "true"/
// "false", and "1"/"0" (the forms the three target dialects use).
func (c Column) AsBool() (bool, error) {
	if c.Value == nil {
		return false, cannotDecode(c, "bool", fmt.Errorf("column is null"))
	}
	switch strings.ToLower(*c.Value) {
	case "t", "true", "1":
		return true, nil
	case "f", "false", "0":
		return false, nil
	default:
		return false, cannotDecode(c, "bool", fmt.Errorf("unrecognized boolean literal %q", *c.Value))
	}
}

// AsString decodes the column as a string (identity on the canonical
// value).
func (c Column) AsString() (string, error) {
	if c.Value == nil {
		return "", cannotDecode(c, "string", fmt.Errorf("column is null"))
	}
	return *c.Value, nil
}

// AsStringOpt returns nil for NULL instead of failing.
func (c Column) AsStringOpt() (*string, error) {
	return c.Value, nil
}

// AsInstant decodes the column as a UTC time.Time, accepting the
// "YYYY-MM-DD HH:MM:SS[.uuuuuu]" form this library renders and the
// RFC3339 form a native driver may hand back directly.
func (c Column) AsInstant() (time.Time, error) {
	if c.Value == nil {
		return time.Time{}, cannotDecode(c, "time.Time", fmt.Errorf("column is null"))
	}
	layouts := []string{
		"2006-01-02 15:04:05.000000",
		"2006-01-02 15:04:05",
		time.RFC3339Nano,
		time.RFC3339,
	}
	var lastErr error
	for _, layout := range layouts {
		if t, err := time.Parse(layout, *c.Value); err == nil {
			return t.UTC(), nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, cannotDecode(c, "time.Time", lastErr)
}

// AsUUID decodes the column as a uuid.UUID.
func (c Column) AsUUID() (uuid.UUID, error) {
	if c.Value == nil {
		return uuid.UUID{}, cannotDecode(c, "uuid.UUID", fmt.Errorf("column is null"))
	}
	id, err := uuid.Parse(*c.Value)
	if err != nil {
		return uuid.UUID{}, cannotDecode(c, "uuid.UUID", err)
	}
	return id, nil
}

// AsBytes decodes a blob column from its hex-string (optionally
// \x-prefixed) canonical representation.
func (c Column) AsBytes() ([]byte, error) {
	if c.Value == nil {
		return nil, cannotDecode(c, "[]byte", fmt.Errorf("column is null"))
	}
	s := strings.TrimPrefix(*c.Value, "\\x")
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, cannotDecode(c, "[]byte", err)
	}
	return b, nil
}
