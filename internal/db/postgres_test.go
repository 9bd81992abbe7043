package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Guizzs26/go-social-mesh/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestTranslate(t *testing.T) {
	if translate(nil) != nil {
		t.Fatalf("nil must stay nil")
	}
	if !errors.Is(translate(pgx.ErrNoRows), models.ErrNotFound) {
		t.Fatalf("no rows should become ErrNotFound")
	}
	if !errors.Is(translate(fmt.Errorf("wrapped: %w", pgx.ErrNoRows)), models.ErrNotFound) {
		t.Fatalf("wrapped no rows should become ErrNotFound")
	}

	dup := &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}
	if !errors.Is(translate(dup), models.ErrAlreadyExists) {
		t.Fatalf("unique violation should become ErrAlreadyExists")
	}

	other := &pgconn.PgError{Code: "42P01"}
	if !errors.Is(translate(other), other) || errors.Is(translate(other), models.ErrAlreadyExists) {
		t.Fatalf("other errors pass through")
	}
}
