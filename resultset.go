package sqlx

import "fmt"

// Column is one cell of a Row: its position, name, driver-reported
// type tag, and canonical string value (nil for SQL NULL). Blob
// columns carry their bytes as a lowercase hex string, optionally
// \x-prefixed — see AsBytes in decode.go.
type Column struct {
	Ordinal int
	Name    string
	Type    string
	Value   *string
}

// Row is an ordered sequence of Column, addressable by ordinal (O(1))
// or by name (O(1) amortized via a lazily built index).
type Row struct {
	columns []Column
	index   map[string]int // built lazily on first ByName call
}

// NewRow builds a Row from an ordered column list.
func NewRow(columns []Column) *Row {
	return &Row{columns: columns}
}

// ByOrdinal returns the column at position i.
func (r *Row) ByOrdinal(i int) (Column, error) {
	if i < 0 || i >= len(r.columns) {
		return Column{}, fmt.Errorf("sqlx: column ordinal %d out of range (%d columns)", i, len(r.columns))
	}
	return r.columns[i], nil
}

// ByName returns the column with the given name.
func (r *Row) ByName(name string) (Column, error) {
	if r.index == nil {
		r.index = make(map[string]int, len(r.columns))
		for i, c := range r.columns {
			r.index[c.Name] = i
		}
	}
	i, ok := r.index[name]
	if !ok {
		return Column{}, fmt.Errorf("sqlx: no column named %q", name)
	}
	return r.columns[i], nil
}

// Len returns the number of columns in the row.
func (r *Row) Len() int { return len(r.columns) }

// Columns returns the row's schema: the ordered column descriptors
// without their values, useful for introspecting an empty result.
func (r *Row) Columns() []Column {
	out := make([]Column, len(r.columns))
	for i, c := range r.columns {
		out[i] = Column{Ordinal: c.Ordinal, Name: c.Name, Type: c.Type}
	}
	return out
}

// ResultSet is an ordered, read-once-unless-materialized sequence of
// Row. The schema (ordered column descriptors) is derived from the
// first row; an explicitly empty set must carry its schema in
// EmptySchema so callers can still introspect column names/types.
type ResultSet struct {
	Rows        []Row
	EmptySchema []Column // used only when len(Rows) == 0
	closed      bool
}

// NewResultSet wraps a fully materialized row slice.
func NewResultSet(rows []Row) *ResultSet {
	return &ResultSet{Rows: rows}
}

// NewEmptyResultSet builds a ResultSet with no rows but a known
// schema, per spec §3's requirement that an empty set's schema be
// explicitly provided.
func NewEmptyResultSet(schema []Column) *ResultSet {
	return &ResultSet{EmptySchema: schema}
}

// Schema returns the ordered column descriptors for this result set.
func (rs *ResultSet) Schema() []Column {
	if len(rs.Rows) > 0 {
		return rs.Rows[0].Columns()
	}
	return rs.EmptySchema
}

// Len returns the number of rows.
func (rs *ResultSet) Len() int { return len(rs.Rows) }

// markClosed is called once the underlying driver handle backing this
// result set (if any) has been released; further access then fails
// per spec §4.B ("iteration yielding a closed underlying handle is an
// error").
func (rs *ResultSet) markClosed() { rs.closed = true }

// At returns the i-th row. Returns an error if the result set's
// underlying handle has been closed.
func (rs *ResultSet) At(i int) (*Row, error) {
	if rs.closed {
		return nil, fmt.Errorf("sqlx: result set's underlying handle is closed")
	}
	if i < 0 || i >= len(rs.Rows) {
		return nil, fmt.Errorf("sqlx: row index %d out of range (%d rows)", i, len(rs.Rows))
	}
	return &rs.Rows[i], nil
}
