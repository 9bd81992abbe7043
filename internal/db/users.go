package db

import (
	"context"
	"fmt"

	"github.com/Guizzs26/go-social-mesh/internal/mapper"
	"github.com/Guizzs26/go-social-mesh/internal/models"
	"github.com/Guizzs26/go-social-mesh/internal/user"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = "id, username, email, password_hash, profile_image_url, created_at, updated_at"

// UserRepository implements user.Store on PostgreSQL
type UserRepository struct {
	pool    *pgxpool.Pool
	builder *mapper.SQLBuilder
}

// NewUserRepository creates a user store backed by pool
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{
		pool: pool,
		builder: mapper.NewSQLBuilder(map[string][]string{
			"users": {"username", "profile_image_url", "updated_at"},
		}),
	}
}

func (r *UserRepository) Create(ctx context.Context, u user.User) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.ProfileImageURL, u.CreatedAt, u.UpdatedAt,
	)
	return translate(err)
}

// CreateMany inserts all users in one transaction using COPY
func (r *UserRepository) CreateMany(ctx context.Context, users []user.User) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	rows := make([][]any, 0, len(users))
	for _, u := range users {
		rows = append(rows, []any{u.ID, u.Username, u.Email, u.PasswordHash, u.ProfileImageURL, u.CreatedAt, u.UpdatedAt})
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"users"},
		[]string{"id", "username", "email", "password_hash", "profile_image_url", "created_at", "updated_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return translate(err)
	}
	return tx.Commit(ctx)
}

func (r *UserRepository) scanOne(ctx context.Context, where string, arg any) (user.User, error) {
	var u user.User
	err := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+where+` = $1`, arg).Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.ProfileImageURL, &u.CreatedAt, &u.UpdatedAt,
	)
	return u, translate(err)
}

func (r *UserRepository) Get(ctx context.Context, id string) (user.User, error) {
	return r.scanOne(ctx, "id", id)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (user.User, error) {
	return r.scanOne(ctx, "email", email)
}

// Update writes only the patched columns
func (r *UserRepository) Update(ctx context.Context, id string, p user.Patch) (user.User, error) {
	data := map[string]any{"updated_at": p.UpdatedAt}
	if p.Username != nil {
		data["username"] = *p.Username
	}
	if p.ProfileImageURL != nil {
		data["profile_image_url"] = *p.ProfileImageURL
	}

	query, args, err := r.builder.BuildUpdate("users", "id", id, data)
	if err != nil {
		return user.User{}, fmt.Errorf("failed to build user update: %w", err)
	}

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return user.User{}, translate(err)
	}
	if tag.RowsAffected() == 0 {
		return user.User{}, models.ErrNotFound
	}
	return r.Get(ctx, id)
}

func (r *UserRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *UserRepository) List(ctx context.Context) ([]user.User, error) {
	return r.query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
}

func (r *UserRepository) ListByIDs(ctx context.Context, ids []string) ([]user.User, error) {
	return r.query(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1) ORDER BY created_at, id`, ids)
}

func (r *UserRepository) query(ctx context.Context, sql string, args ...any) ([]user.User, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []user.User
	for rows.Next() {
		var u user.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.ProfileImageURL, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
