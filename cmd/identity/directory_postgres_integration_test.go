package identity

import (
	"testing"

	"relay/cmd/internal/pgtest"
)

func TestPostgresDirectory_Contract(t *testing.T) {
	t.Parallel()

	pool := pgtest.Open(t)
	schema := pgtest.Schema(t, pool)

	pw, tok := testHashers()
	d, err := NewPostgresDirectory(pool, pw, tok, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresDirectory: %v", err)
	}
	runDirectoryContract(t, d)
}

func TestPostgresDirectory_RejectsBadSchema(t *testing.T) {
	pw, tok := testHashers()
	if _, err := NewPostgresDirectory(nil, pw, tok, WithSchema("bad;schema")); err == nil {
		t.Fatalf("expected error for invalid schema identifier")
	}
	if _, err := NewPostgresDirectory(nil, pw, tok); err == nil {
		t.Fatalf("expected error for nil pool")
	}
}
