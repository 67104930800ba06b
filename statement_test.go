package sqlx_test

import (
	"testing"

	"github.com/honeynil/sqlx"
)

func TestStatementRenderPositional(t *testing.T) {
	stmt := sqlx.NewStatement("SELECT * FROM widgets WHERE id = ? AND name = ?").
		Bind(0, 42).
		Bind(1, "gizmo")

	native, err := stmt.Render(sqlx.DialectPostgres, sqlx.RenderNative)
	if err != nil {
		t.Fatalf("Render() = %v", err)
	}
	if native.SQL != "SELECT * FROM widgets WHERE id = $1 AND name = $2" {
		t.Errorf("SQL = %q", native.SQL)
	}
	if len(native.Values) != 2 || native.Values[0] != 42 || native.Values[1] != "gizmo" {
		t.Errorf("Values = %v", native.Values)
	}
}

func TestStatementRenderNamed(t *testing.T) {
	stmt := sqlx.NewStatement("SELECT * FROM widgets WHERE id = :id AND id = :id").
		BindNamed("id", 7)

	native, err := stmt.Render(sqlx.DialectSQLite, sqlx.RenderNative)
	if err != nil {
		t.Fatalf("Render() = %v", err)
	}
	if native.SQL != "SELECT * FROM widgets WHERE id = ? AND id = ?" {
		t.Errorf("SQL = %q", native.SQL)
	}
	if len(native.Values) != 2 || native.Values[0] != 7 || native.Values[1] != 7 {
		t.Errorf("repeated named placeholder should bind the same value twice, got %v", native.Values)
	}
}

func TestStatementCastOperatorIsInert(t *testing.T) {
	stmt := sqlx.NewStatement("SELECT :val::int").BindNamed("val", 5)
	native, err := stmt.Render(sqlx.DialectPostgres, sqlx.RenderNative)
	if err != nil {
		t.Fatalf("Render() = %v", err)
	}
	if native.SQL != "SELECT $1::int" {
		t.Errorf("SQL = %q, want a literal ::int cast preserved", native.SQL)
	}
}

func TestStatementQuotedRegionsIgnorePlaceholderSyntax(t *testing.T) {
	stmt := sqlx.NewStatement(`SELECT '?:not_a_param' AS literal, ? AS real_param`).Bind(0, 1)
	native, err := stmt.Render(sqlx.DialectPostgres, sqlx.RenderNative)
	if err != nil {
		t.Fatalf("Render() = %v", err)
	}
	want := `SELECT '?:not_a_param' AS literal, $1 AS real_param`
	if native.SQL != want {
		t.Errorf("SQL = %q, want %q", native.SQL, want)
	}
}

func TestStatementBindUnknownNameFails(t *testing.T) {
	stmt := sqlx.NewStatement("SELECT ? WHERE 1=1").BindNamed("nope", 1)
	if _, err := stmt.Render(sqlx.DialectPostgres, sqlx.RenderNative); err == nil {
		t.Fatal("Render() after binding an undeclared name = nil, want error")
	}
}

func TestStatementMissingPositionalValueFails(t *testing.T) {
	stmt := sqlx.NewStatement("SELECT ?, ?").Bind(0, 1)
	if _, err := stmt.Render(sqlx.DialectPostgres, sqlx.RenderNative); err == nil {
		t.Fatal("Render() with an unbound positional placeholder = nil, want error")
	}
}

func TestStatementOutOfBoundsBindFails(t *testing.T) {
	stmt := sqlx.NewStatement("SELECT ?").Bind(1, "oops")
	if _, err := stmt.Render(sqlx.DialectPostgres, sqlx.RenderNative); err == nil {
		t.Fatal("Render() after an out-of-bounds Bind = nil, want error")
	}
}

func TestStatementExpandsCollectionWrapped(t *testing.T) {
	stmt := sqlx.NewStatement("SELECT * FROM widgets WHERE id IN ?").Bind(0, []int{1, 2, 3})
	native, err := stmt.Render(sqlx.DialectMySQL, sqlx.RenderNative)
	if err != nil {
		t.Fatalf("Render() = %v", err)
	}
	if native.SQL != "SELECT * FROM widgets WHERE id IN (?, ?, ?)" {
		t.Errorf("SQL = %q", native.SQL)
	}
	if len(native.Values) != 3 {
		t.Errorf("Values = %v, want 3 elements", native.Values)
	}
}

func TestStatementTupleNoWrapping(t *testing.T) {
	stmt := sqlx.NewStatement("SELECT ARRAY[?]").Bind(0, sqlx.NewTuple(sqlx.TupleNoWrapping, 1, 2))
	native, err := stmt.Render(sqlx.DialectPostgres, sqlx.RenderNative)
	if err != nil {
		t.Fatalf("Render() = %v", err)
	}
	if native.SQL != "SELECT ARRAY[$1, $2]" {
		t.Errorf("SQL = %q", native.SQL)
	}
}

func TestStatementRenderLiteralSubstitutesValues(t *testing.T) {
	stmt := sqlx.NewStatement("SELECT * FROM :table WHERE id = ?").
		BindNamed("table", sqlx.NewTuple(sqlx.TupleNoQuoting, "widgets")).
		Bind(0, 9)

	native, err := stmt.Render(sqlx.DialectPostgres, sqlx.RenderLiteral)
	if err != nil {
		t.Fatalf("Render(RenderLiteral) = %v", err)
	}
	if native.SQL != "SELECT * FROM widgets WHERE id = 9" {
		t.Errorf("Render(RenderLiteral) = %q", native.SQL)
	}
}

func TestStatementRenderIsRepeatable(t *testing.T) {
	stmt := sqlx.NewStatement("SELECT ?").Bind(0, 1)
	first, err := stmt.Render(sqlx.DialectPostgres, sqlx.RenderNative)
	if err != nil {
		t.Fatalf("Render() = %v", err)
	}
	second, err := stmt.Render(sqlx.DialectPostgres, sqlx.RenderNative)
	if err != nil {
		t.Fatalf("second Render() = %v", err)
	}
	if first.SQL != second.SQL {
		t.Errorf("Render() is not side-effect free: %q != %q", first.SQL, second.SQL)
	}
}

func TestStatementCustomEncoder(t *testing.T) {
	type status int
	const statusActive status = 1

	registry := sqlx.NewValueEncoderRegistry()
	registry.Register(status(0), func(v any) (any, error) {
		return int64(v.(status)), nil
	})

	stmt := sqlx.NewStatement("SELECT ?").WithEncoders(registry).Bind(0, statusActive)
	native, err := stmt.Render(sqlx.DialectPostgres, sqlx.RenderNative)
	if err != nil {
		t.Fatalf("Render() = %v", err)
	}
	if native.Values[0] != int64(1) {
		t.Errorf("Values[0] = %v, want encoded int64(1)", native.Values[0])
	}
}
