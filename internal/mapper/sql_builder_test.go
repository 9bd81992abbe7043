package mapper

import (
	"errors"
	"testing"
)

func newBuilder() *SQLBuilder {
	return NewSQLBuilder(map[string][]string{
		"users": {"id", "username", "email", "profile_image_url", "updated_at"},
	})
}

func TestBuildUpdateIsPartialAndDeterministic(t *testing.T) {
	query, args, err := newBuilder().BuildUpdate("users", "id", "u1", map[string]any{
		"profile_image_url": "https://cdn/a.png",
		"username":          "alice",
		"id":                "ignored",
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	want := "UPDATE users SET profile_image_url = $1, username = $2 WHERE id = $3"
	if query != want {
		t.Fatalf("got %q, want %q", query, want)
	}
	if len(args) != 3 || args[0] != "https://cdn/a.png" || args[1] != "alice" || args[2] != "u1" {
		t.Fatalf("unexpected args %v", args)
	}
}

func TestBuildInsert(t *testing.T) {
	query, args, err := newBuilder().BuildInsert("USERS", map[string]any{"Username": "bob", "id": "u2"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if query != "INSERT INTO users (id, username) VALUES ($1, $2)" {
		t.Fatalf("unexpected query %q", query)
	}
	if args[0] != "u2" || args[1] != "bob" {
		t.Fatalf("unexpected args %v", args)
	}
}

func TestBuilderRejectsUnknownIdentifiers(t *testing.T) {
	b := newBuilder()
	if _, _, err := b.BuildUpdate("users", "id", "u1", map[string]any{"password_hash": "x"}); err == nil {
		t.Fatalf("expected error for non-writable column")
	}
	if _, _, err := b.BuildInsert("pg_user", map[string]any{"id": "x"}); err == nil {
		t.Fatalf("expected error for unknown table")
	}
	if _, _, err := b.BuildUpdate("users", "id", "u1", map[string]any{"id": "u1"}); !errors.Is(err, ErrNoColumns) {
		t.Fatalf("expected ErrNoColumns, got %v", err)
	}
}
