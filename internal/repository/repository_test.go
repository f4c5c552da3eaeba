package repository

import (
	"context"
	"os"
	"testing"

	"qrfare/backend/internal/db"
)

func newTestRepo(t *testing.T) (*Repository, context.Context) {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, dsn)
	if err != nil {
		t.Skipf("db connection failed: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := db.EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return New(pool), ctx
}

func TestJSONBValue(t *testing.T) {
	cases := map[string]string{
		"":                 `{}`,
		`{"success":true}`: `{"success":true}`,
		`boom`:             `{"raw":"boom"}`,
		`[1]`:              `{"raw":"[1]"}`,
		`null`:             `{"raw":"null"}`,
	}
	for in, want := range cases {
		if got := string(jsonbValue([]byte(in))); got != want {
			t.Fatalf("jsonbValue(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestNullString(t *testing.T) {
	if nullString("") != nil {
		t.Fatalf("empty string should map to NULL")
	}
	if v, ok := nullString("x").(string); !ok || v != "x" {
		t.Fatalf("unexpected value: %#v", nullString("x"))
	}
	if m := decodeJSONMap([]byte("not json")); len(m) != 0 || m == nil {
		t.Fatalf("expected empty map, got %#v", m)
	}
	if m := decodeJSONMap([]byte(`{"a":1}`)); len(m) != 1 {
		t.Fatalf("unexpected decoded map: %#v", m)
	}
}
