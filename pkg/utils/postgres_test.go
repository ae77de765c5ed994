package utils

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestWithTx_RollbackOnError(t *testing.T) {
	// This test can't run without a real *sql.DB; keep it as a compile-time smoke test
	// for the helper signature.
	var _ = WithTx
	_ = context.Background()
	_ = &sql.DB{}
	_ = errors.New("x")
}

func TestIsUniqueViolation(t *testing.T) {
	uv := &pgconn.PgError{Code: "23505"}
	if !IsUniqueViolation(uv) {
		t.Fatalf("expected unique violation match")
	}
	if !IsUniqueViolation(fmt.Errorf("insert thread: %w", uv)) {
		t.Fatalf("expected wrapped unique violation match")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("foreign key violation should not match")
	}
	if IsUniqueViolation(errors.New("plain")) {
		t.Fatalf("plain error should not match")
	}
}
