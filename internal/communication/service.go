// Package communication handles direct messages and their file attachments.
// Participants are resolved against the replicated user references only.
package communication

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Guizzs26/go-social-mesh/internal/models"
	"github.com/Guizzs26/go-social-mesh/internal/processor"
	"github.com/Guizzs26/go-social-mesh/pkg/encoding"
	"github.com/google/uuid"
)

const (
	maxMessageLength    = 4000
	maxAttachmentSize   = 10 << 20
	defaultConversation = 50
	maxConversation     = 200
)

type Service struct {
	messages    MessageStore
	attachments AttachmentStore
	refs        processor.ReferenceStore
	replicator  *processor.ReferenceReplicator
	logger      *slog.Logger
}

// NewService wires the communication use-cases to their stores and the reference replica
func NewService(messages MessageStore, attachments AttachmentStore, refs processor.ReferenceStore, replicator *processor.ReferenceReplicator, logger *slog.Logger) *Service {
	return &Service{messages: messages, attachments: attachments, refs: refs, replicator: replicator, logger: logger}
}

// participant resolves a user that may take part in a new exchange
func (s *Service) participant(ctx context.Context, id, role string) (models.UserReference, error) {
	ref, err := s.refs.Get(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return models.UserReference{}, fmt.Errorf("%s %s is unknown to the communication service: %w", role, id, models.ErrNotFound)
	}
	if err != nil {
		return models.UserReference{}, err
	}
	if ref.Deleted {
		return models.UserReference{}, fmt.Errorf("%s %s was deleted: %w", role, id, models.ErrNotFound)
	}
	return ref, nil
}

func (s *Service) CreateMessage(ctx context.Context, req models.CreateMessageRequest) (models.MessageView, error) {
	content := strings.TrimSpace(req.Content)
	if req.SenderID == "" || req.RecipientID == "" {
		return models.MessageView{}, fmt.Errorf("%w: sender and recipient are required", models.ErrInvalidInput)
	}
	if req.SenderID == req.RecipientID {
		return models.MessageView{}, fmt.Errorf("%w: cannot message yourself", models.ErrInvalidInput)
	}
	if content == "" && req.AttachmentID == "" {
		return models.MessageView{}, fmt.Errorf("%w: a message needs content or an attachment", models.ErrInvalidInput)
	}
	if utf8.RuneCountInString(content) > maxMessageLength {
		return models.MessageView{}, fmt.Errorf("%w: content exceeds %d characters", models.ErrInvalidInput, maxMessageLength)
	}

	sender, err := s.participant(ctx, req.SenderID, "sender")
	if err != nil {
		return models.MessageView{}, err
	}
	recipient, err := s.participant(ctx, req.RecipientID, "recipient")
	if err != nil {
		return models.MessageView{}, err
	}

	if req.AttachmentID != "" {
		a, err := s.attachments.Get(ctx, req.AttachmentID)
		if err != nil {
			return models.MessageView{}, fmt.Errorf("attachment %s: %w", req.AttachmentID, err)
		}
		if a.UploaderID != sender.ID {
			return models.MessageView{}, fmt.Errorf("%w: attachment belongs to another user", models.ErrInvalidInput)
		}
	}

	m := Message{
		ID:           uuid.NewString(),
		SenderID:     sender.ID,
		RecipientID:  recipient.ID,
		Content:      content,
		AttachmentID: req.AttachmentID,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.messages.Create(ctx, m); err != nil {
		return models.MessageView{}, err
	}

	return models.MessageView{
		ID:           m.ID,
		Sender:       models.AuthorOf(sender.ID, &sender),
		Recipient:    models.AuthorOf(recipient.ID, &recipient),
		Content:      m.Content,
		AttachmentID: m.AttachmentID,
		CreatedAt:    m.CreatedAt,
	}, nil
}

// Conversation lists messages between two users, newest first. Deleted participants still resolve
func (s *Service) Conversation(ctx context.Context, req models.GetConversationRequest) (models.GetConversationResponse, error) {
	if req.UserID == "" || req.PeerID == "" {
		return models.GetConversationResponse{}, fmt.Errorf("%w: user and peer are required", models.ErrInvalidInput)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultConversation
	}
	limit = min(limit, maxConversation)

	msgs, err := s.messages.Conversation(ctx, req.UserID, req.PeerID, limit)
	if err != nil {
		return models.GetConversationResponse{}, err
	}

	refs, err := s.refs.GetMany(ctx, []string{req.UserID, req.PeerID})
	if err != nil {
		return models.GetConversationResponse{}, err
	}
	author := func(id string) models.Author {
		if ref, ok := refs[id]; ok {
			return models.AuthorOf(id, &ref)
		}
		return models.AuthorOf(id, nil)
	}

	views := make([]models.MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, models.MessageView{
			ID:           m.ID,
			Sender:       author(m.SenderID),
			Recipient:    author(m.RecipientID),
			Content:      m.Content,
			AttachmentID: m.AttachmentID,
			CreatedAt:    m.CreatedAt,
		})
	}
	return models.GetConversationResponse{Messages: views}, nil
}

// UploadAttachment stores the file in the service's own store and returns its metadata
func (s *Service) UploadAttachment(ctx context.Context, req models.UploadAttachmentFileRequest) (models.AttachmentView, error) {
	if req.UploaderID == "" || len(req.Data) == 0 {
		return models.AttachmentView{}, fmt.Errorf("%w: uploader and file data are required", models.ErrInvalidInput)
	}
	if len(req.Data) > maxAttachmentSize {
		return models.AttachmentView{}, fmt.Errorf("%w: file exceeds %d bytes", models.ErrInvalidInput, maxAttachmentSize)
	}

	uploader, err := s.participant(ctx, req.UploaderID, "uploader")
	if err != nil {
		return models.AttachmentView{}, err
	}

	name := encoding.NormalizeDisplay(filepath.Base(req.FileName))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "attachment"
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(req.Data)
	}

	sum := sha256.Sum256(req.Data)
	a := Attachment{
		ID:          uuid.NewString(),
		UploaderID:  uploader.ID,
		FileName:    name,
		ContentType: contentType,
		Size:        int64(len(req.Data)),
		Checksum:    hex.EncodeToString(sum[:]),
		Data:        append([]byte(nil), req.Data...),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.attachments.Save(ctx, a); err != nil {
		return models.AttachmentView{}, err
	}

	s.logger.Info("Attachment stored", "attachment_id", a.ID, "size", a.Size, "content_type", a.ContentType)
	return a.View(), nil
}

func (s *Service) SeedReferences(ctx context.Context, req models.SeedReferencesRequest) (models.SeedReferencesResponse, error) {
	n, err := s.replicator.Seed(ctx, req.References)
	return models.SeedReferencesResponse{Applied: n}, err
}
