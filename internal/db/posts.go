package db

import (
	"context"
	"fmt"

	"github.com/Guizzs26/go-social-mesh/internal/feed"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PostRepository struct {
	pool *pgxpool.Pool
}

// NewPostRepository creates a post store backed by pool
func NewPostRepository(pool *pgxpool.Pool) *PostRepository {
	return &PostRepository{pool: pool}
}

func (r *PostRepository) Create(ctx context.Context, p feed.Post) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO posts (id, author_id, content, created_at) VALUES ($1, $2, $3, $4)`,
		p.ID, p.AuthorID, p.Content, p.CreatedAt,
	)
	return translate(err)
}

func (r *PostRepository) List(ctx context.Context, limit, offset int) ([]feed.Post, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, author_id, content, created_at FROM posts ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []feed.Post
	for rows.Next() {
		var p feed.Post
		if err := rows.Scan(&p.ID, &p.AuthorID, &p.Content, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
