package db

import (
	"context"
	"fmt"

	"github.com/Guizzs26/go-social-mesh/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const referenceColumns = "id, username, email, profile_image_url, deleted, deleted_at, updated_at"

const upsertReference = `
INSERT INTO user_references (` + referenceColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
	username = EXCLUDED.username,
	email = EXCLUDED.email,
	profile_image_url = EXCLUDED.profile_image_url,
	deleted = EXCLUDED.deleted,
	deleted_at = EXCLUDED.deleted_at,
	updated_at = EXCLUDED.updated_at`

// ReferenceRepository implements processor.ReferenceStore on PostgreSQL
type ReferenceRepository struct {
	pool *pgxpool.Pool
}

// NewReferenceRepository creates a reference store backed by pool
func NewReferenceRepository(pool *pgxpool.Pool) *ReferenceRepository {
	return &ReferenceRepository{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReference(row rowScanner) (models.UserReference, error) {
	var ref models.UserReference
	err := row.Scan(&ref.ID, &ref.Username, &ref.Email, &ref.ProfileImageURL, &ref.Deleted, &ref.DeletedAt, &ref.UpdatedAt)
	return ref, err
}

// Mutate locks the row for the duration of fn. Concurrent mutations of an absent id
// serialize on the primary key when inserting
func (r *ReferenceRepository) Mutate(ctx context.Context, id string, fn func(cur *models.UserReference) *models.UserReference) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	// Rollback is a no-op after Commit
	defer tx.Rollback(ctx)

	var cur *models.UserReference
	ref, err := scanReference(tx.QueryRow(ctx, `SELECT `+referenceColumns+` FROM user_references WHERE id = $1 FOR UPDATE`, id))
	switch translate(err) {
	case nil:
		cur = &ref
	case models.ErrNotFound:
	default:
		return err
	}

	next := fn(cur)
	if next == nil {
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, upsertReference,
		next.ID, next.Username, next.Email, next.ProfileImageURL, next.Deleted, next.DeletedAt, next.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to write reference: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *ReferenceRepository) Get(ctx context.Context, id string) (models.UserReference, error) {
	ref, err := scanReference(r.pool.QueryRow(ctx, `SELECT `+referenceColumns+` FROM user_references WHERE id = $1`, id))
	return ref, translate(err)
}

func (r *ReferenceRepository) GetMany(ctx context.Context, ids []string) (map[string]models.UserReference, error) {
	out := make(map[string]models.UserReference, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.pool.Query(ctx, `SELECT `+referenceColumns+` FROM user_references WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		ref, err := scanReference(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reference: %w", err)
		}
		out[ref.ID] = ref
	}
	return out, rows.Err()
}

// UpsertMany writes all references in one batch round trip
func (r *ReferenceRepository) UpsertMany(ctx context.Context, refs []models.UserReference) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, ref := range refs {
		batch.Queue(upsertReference, ref.ID, ref.Username, ref.Email, ref.ProfileImageURL, ref.Deleted, ref.DeletedAt, ref.UpdatedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert references: %w", err)
	}
	return tx.Commit(ctx)
}
