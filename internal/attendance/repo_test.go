package attendance

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapUnique(t *testing.T) {
	pair := &pgconn.PgError{Code: "23505", ConstraintName: "attendance_records_session_person_key"}
	if err := mapUnique(fmt.Errorf("insert: %w", pair)); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("pair violation = %v, want already registered", err)
	}
	decl := &pgconn.PgError{Code: "23505", ConstraintName: "declarations_attendance_id_key"}
	if err := mapUnique(decl); !errors.Is(err, ErrDuplicateDeclaration) {
		t.Fatalf("declaration violation = %v, want duplicate declaration", err)
	}
	other := &pgconn.PgError{Code: "23503", ConstraintName: "attendance_records_session_id_fkey"}
	if err := mapUnique(other); err != other {
		t.Fatalf("foreign key violation = %v, want it unchanged", err)
	}
	if err := mapUnique(nil); err != nil {
		t.Fatalf("mapUnique(nil) = %v", err)
	}
}

func TestPrefixedColumns(t *testing.T) {
	got := prefixed("a", "id, session_id,\n\tstatus")
	if want := "a.id, a.session_id, a.status"; got != want {
		t.Fatalf("prefixed = %q, want %q", got, want)
	}
}
