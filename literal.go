package sqlx

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TemporalKind distinguishes the four temporal shapes the renderer
// accepts, all carried as time.Time in Go (the language has no
// separate LocalDate/LocalTime/LocalDateTime/Instant types). Bind a
// time.Time directly for Instant (UTC) semantics, or wrap it with
// AsDate/AsTime/AsDateTime to select a narrower literal format.
type TemporalKind int

const (
	KindInstant TemporalKind = iota
	KindDate
	KindTime
	KindDateTime
)

// Temporal pairs a time.Time with the TemporalKind that controls how
// literal.go renders it.
type Temporal struct {
	Kind TemporalKind
	At   time.Time
}

func AsDate(t time.Time) Temporal     { return Temporal{Kind: KindDate, At: t} }
func AsTime(t time.Time) Temporal     { return Temporal{Kind: KindTime, At: t} }
func AsDateTime(t time.Time) Temporal { return Temporal{Kind: KindDateTime, At: t} }

func isTemporal(v any) bool {
	switch v.(type) {
	case time.Time, Temporal:
		return true
	default:
		return false
	}
}

func isUUID(v any) bool {
	_, ok := v.(uuid.UUID)
	return ok
}

// TupleMode controls how a bound collection expands when rendered.
type TupleMode int

const (
	// TupleWrapped parenthesizes the expansion: (?, ?, ?). Suitable
	// for `col IN ?`.
	TupleWrapped TupleMode = iota
	// TupleNoWrapping joins without surrounding parentheses, for
	// patterns like ARRAY[?]::int[].
	TupleNoWrapping
	// TupleNoQuoting renders collection elements as-is, without
	// quoting. Restricted to identifiers the library itself
	// constructs (migration table/schema names); never use this for
	// values a caller controls.
	TupleNoQuoting
)

// Tuple wraps a slice of primitives with an explicit TupleMode,
// overriding the default TupleWrapped behavior collections get when
// bound directly.
type Tuple struct {
	Mode  TupleMode
	Items []any
}

// NewTuple builds a Tuple rendered with the given mode.
func NewTuple(mode TupleMode, items ...any) Tuple {
	return Tuple{Mode: mode, Items: items}
}

// asCollection extracts the element slice from v if v is a slice/array
// of primitives or a Tuple, reporting the TupleMode to use.
func asCollection(v any) (items []any, mode TupleMode, ok bool) {
	switch t := v.(type) {
	case Tuple:
		return t.Items, t.Mode, true
	case []any:
		return t, TupleWrapped, true
	case []int:
		items = make([]any, len(t))
		for i, x := range t {
			items[i] = x
		}
		return items, TupleWrapped, true
	case []int64:
		items = make([]any, len(t))
		for i, x := range t {
			items[i] = x
		}
		return items, TupleWrapped, true
	case []string:
		items = make([]any, len(t))
		for i, x := range t {
			items[i] = x
		}
		return items, TupleWrapped, true
	case []float64:
		items = make([]any, len(t))
		for i, x := range t {
			items[i] = x
		}
		return items, TupleWrapped, true
	default:
		return nil, 0, false
	}
}

// encodeLiteral renders v as a SQL literal per spec §4.A's literal
// encoding rules. v must already be primitive (callers resolve through
// the ValueEncoderRegistry first).
func encodeLiteral(v any, dialect Dialect) (string, error) {
	switch t := v.(type) {
	case nil:
		return "null", nil
	case bool:
		if t {
			return "true", nil
		}
		return "false", nil
	case string:
		return quoteSQLString(t), nil
	case rune:
		return quoteSQLString(string(t)), nil
	case byte:
		return strconv.Itoa(int(t)), nil
	case int:
		return strconv.Itoa(t), nil
	case int8:
		return strconv.FormatInt(int64(t), 10), nil
	case int16:
		return strconv.FormatInt(int64(t), 10), nil
	case int32:
		return strconv.FormatInt(int64(t), 10), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case uint:
		return strconv.FormatUint(uint64(t), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(t), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(t), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(t), 10), nil
	case uint64:
		return strconv.FormatUint(t, 10), nil
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), nil
	case uuid.UUID:
		return quoteSQLString(t.String()), nil
	case []byte:
		return encodeBlobLiteral(t, dialect), nil
	case time.Time:
		return quoteSQLString(formatInstant(t)), nil
	case Temporal:
		return quoteSQLString(formatTemporal(t)), nil
	default:
		return "", fmt.Errorf("%w: cannot render literal for %T", ErrNamedParameterTypeNotSupported, v)
	}
}

// quoteSQLString single-quote wraps s, doubling embedded single
// quotes per standard SQL string-literal escaping.
func quoteSQLString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// encodeBlobLiteral renders bytes as lowercase hex with the
// dialect-specific prefix. Library users SHOULD prefer native
// parameters for blobs; this path exists for literal-substitution
// mode (e.g. migrator-authored DDL, never user data).
func encodeBlobLiteral(b []byte, dialect Dialect) string {
	h := hex.EncodeToString(b)
	switch dialect {
	case DialectMySQL:
		return "0x" + h
	case DialectSQLite:
		return "X'" + h + "'"
	default: // Postgres accepts the \x convention
		return "'\\x" + h + "'"
	}
}

// formatInstant renders t as spec's Instant literal form:
// "YYYY-MM-DD HH:MM:SS.uuuuuu", space-separated, 6-digit
// microseconds, UTC.
func formatInstant(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05.000000")
}

func formatTemporal(t Temporal) string {
	switch t.Kind {
	case KindDate:
		return t.At.Format("2006-01-02")
	case KindTime:
		return t.At.Format("15:04:05.000000")
	case KindDateTime:
		return t.At.Format("2006-01-02 15:04:05.000000")
	default:
		return formatInstant(t.At)
	}
}
