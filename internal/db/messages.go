package db

import (
	"context"
	"fmt"

	"github.com/Guizzs26/go-social-mesh/internal/communication"

	"github.com/jackc/pgx/v5/pgxpool"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository creates a message store backed by pool
func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func (r *MessageRepository) Create(ctx context.Context, m communication.Message) error {
	var attachment *string
	if m.AttachmentID != "" {
		attachment = &m.AttachmentID
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, sender_id, recipient_id, content, attachment_id, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.SenderID, m.RecipientID, m.Content, attachment, m.CreatedAt,
	)
	return translate(err)
}

func (r *MessageRepository) Conversation(ctx context.Context, a, b string, limit int) ([]communication.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, sender_id, recipient_id, content, COALESCE(attachment_id, ''), created_at
		FROM messages
		WHERE (sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1)
		ORDER BY created_at DESC
		LIMIT $3`,
		a, b, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []communication.Message
	for rows.Next() {
		var m communication.Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &m.AttachmentID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type AttachmentRepository struct {
	pool *pgxpool.Pool
}

// NewAttachmentRepository creates an attachment store backed by pool
func NewAttachmentRepository(pool *pgxpool.Pool) *AttachmentRepository {
	return &AttachmentRepository{pool: pool}
}

func (r *AttachmentRepository) Save(ctx context.Context, a communication.Attachment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO attachments (id, uploader_id, file_name, content_type, size, checksum, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.UploaderID, a.FileName, a.ContentType, a.Size, a.Checksum, a.Data, a.CreatedAt,
	)
	return translate(err)
}

func (r *AttachmentRepository) Get(ctx context.Context, id string) (communication.Attachment, error) {
	var a communication.Attachment
	err := r.pool.QueryRow(ctx, `
		SELECT id, uploader_id, file_name, content_type, size, checksum, data, created_at
		FROM attachments WHERE id = $1`, id,
	).Scan(&a.ID, &a.UploaderID, &a.FileName, &a.ContentType, &a.Size, &a.Checksum, &a.Data, &a.CreatedAt)
	return a, translate(err)
}
