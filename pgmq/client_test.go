package pgmq

import (
	"context"
	"testing"

	"github.com/honeynil/sqlx"
	"github.com/honeynil/sqlx/drivers/mock"
)

func TestNewClientRejectsNonPostgresPool(t *testing.T) {
	pool, err := sqlx.NewPool(context.Background(), "mock://",
		sqlx.WithFactory(mock.NewFactory()),
		sqlx.WithDialect(sqlx.DialectSQLite),
	)
	if err != nil {
		t.Fatalf("NewPool() = %v", err)
	}
	defer pool.Close()

	if _, err := NewClient(pool); err == nil {
		t.Fatal("NewClient() over a sqlite pool = nil, want error")
	}
}

func TestEncodeDecodeHeadersRoundTrip(t *testing.T) {
	headers := map[string]string{"trace_id": "abc123", "source": "order-service"}

	encoded, err := encodeHeaders(headers)
	if err != nil {
		t.Fatalf("encodeHeaders() = %v", err)
	}
	decoded, err := decodeHeaders(encoded)
	if err != nil {
		t.Fatalf("decodeHeaders() = %v", err)
	}
	if len(decoded) != len(headers) {
		t.Fatalf("decodeHeaders() = %v, want %v", decoded, headers)
	}
	for k, v := range headers {
		if decoded[k] != v {
			t.Errorf("decodeHeaders()[%q] = %q, want %q", k, decoded[k], v)
		}
	}
}

func TestEncodeHeadersNilBecomesEmptyObject(t *testing.T) {
	encoded, err := encodeHeaders(nil)
	if err != nil {
		t.Fatalf("encodeHeaders(nil) = %v", err)
	}
	if encoded != "{}" {
		t.Errorf("encodeHeaders(nil) = %q, want {}", encoded)
	}
}

func TestDecodeHeadersEmptyString(t *testing.T) {
	decoded, err := decodeHeaders("")
	if err != nil {
		t.Fatalf("decodeHeaders(\"\") = %v", err)
	}
	if len(decoded) != 0 {
		t.Errorf("decodeHeaders(\"\") = %v, want empty map", decoded)
	}
}

func strPtr(s string) *string { return &s }

func messageRow(id, readCt string, enqueuedAt, vt, message, headers string) sqlx.Row {
	cols := []sqlx.Column{
		{Ordinal: 0, Name: "msg_id", Value: strPtr(id)},
		{Ordinal: 1, Name: "read_ct", Value: strPtr(readCt)},
		{Ordinal: 2, Name: "enqueued_at", Value: strPtr(enqueuedAt)},
		{Ordinal: 3, Name: "vt", Value: strPtr(vt)},
		{Ordinal: 4, Name: "message", Value: strPtr(message)},
		{Ordinal: 5, Name: "headers", Value: strPtr(headers)},
	}
	return *sqlx.NewRow(cols)
}

func TestScanMessagesDecodesCommonShape(t *testing.T) {
	now := "2024-03-05 12:00:00.000000"
	rs := sqlx.NewResultSet([]sqlx.Row{
		messageRow("1", "0", now, now, "hello", `{"trace_id":"abc"}`),
	})

	msgs, err := scanMessages(rs)
	if err != nil {
		t.Fatalf("scanMessages() = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("scanMessages() returned %d messages, want 1", len(msgs))
	}
	msg := msgs[0]
	if msg.ID != 1 || msg.ReadCount != 0 || msg.Payload != "hello" {
		t.Errorf("scanMessages() = %+v", msg)
	}
	if msg.Headers["trace_id"] != "abc" {
		t.Errorf("Headers = %v, want trace_id=abc", msg.Headers)
	}
	if msg.LastReadAt != nil {
		t.Errorf("LastReadAt = %v, want nil when the column is absent", msg.LastReadAt)
	}
}

func TestScanMessagesWithoutHeadersDefaultsToEmptyMap(t *testing.T) {
	now := "2024-03-05 12:00:00.000000"
	cols := []sqlx.Column{
		{Ordinal: 0, Name: "msg_id", Value: strPtr("2")},
		{Ordinal: 1, Name: "read_ct", Value: strPtr("1")},
		{Ordinal: 2, Name: "enqueued_at", Value: strPtr(now)},
		{Ordinal: 3, Name: "vt", Value: strPtr(now)},
		{Ordinal: 4, Name: "message", Value: strPtr("world")},
	}
	rs := sqlx.NewResultSet([]sqlx.Row{*sqlx.NewRow(cols)})

	msgs, err := scanMessages(rs)
	if err != nil {
		t.Fatalf("scanMessages() = %v", err)
	}
	if msgs[0].Headers == nil || len(msgs[0].Headers) != 0 {
		t.Errorf("Headers = %v, want a non-nil empty map", msgs[0].Headers)
	}
}

// render is exercised indirectly by every Client method; this test
// isolates the statement-building step itself.
func TestRenderBindsNamedParameters(t *testing.T) {
	sqlText, values, err := render("SELECT pgmq.create(:queue)", map[string]any{"queue": "orders"})
	if err != nil {
		t.Fatalf("render() = %v", err)
	}
	if sqlText != "SELECT pgmq.create($1)" {
		t.Errorf("render() SQL = %q", sqlText)
	}
	if len(values) != 1 || values[0] != "orders" {
		t.Errorf("render() values = %v", values)
	}
}
