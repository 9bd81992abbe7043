package communication

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Guizzs26/go-social-mesh/internal/models"
)

type Message struct {
	ID           string
	SenderID     string
	RecipientID  string
	Content      string
	AttachmentID string
	CreatedAt    time.Time
}

type Attachment struct {
	ID          string
	UploaderID  string
	FileName    string
	ContentType string
	Size        int64
	Checksum    string
	Data        []byte
	CreatedAt   time.Time
}

func (a Attachment) View() models.AttachmentView {
	return models.AttachmentView{
		ID:          a.ID,
		UploaderID:  a.UploaderID,
		FileName:    a.FileName,
		ContentType: a.ContentType,
		Size:        a.Size,
		Checksum:    a.Checksum,
		CreatedAt:   a.CreatedAt,
	}
}

type MessageStore interface {
	Create(ctx context.Context, m Message) error
	// Conversation returns the messages exchanged between a and b, newest first
	Conversation(ctx context.Context, a, b string, limit int) ([]Message, error)
}

type AttachmentStore interface {
	Save(ctx context.Context, a Attachment) error
	Get(ctx context.Context, id string) (Attachment, error)
}

type MemoryMessageStore struct {
	mu       sync.RWMutex
	messages []Message
}

// NewMemoryMessageStore creates an empty in-process message store
func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{}
}

func (s *MemoryMessageStore) Create(ctx context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	return nil
}

func (s *MemoryMessageStore) Conversation(ctx context.Context, a, b string, limit int) ([]Message, error) {
	s.mu.RLock()
	var out []Message
	for _, m := range s.messages {
		if (m.SenderID == a && m.RecipientID == b) || (m.SenderID == b && m.RecipientID == a) {
			out = append(out, m)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type MemoryAttachmentStore struct {
	mu    sync.RWMutex
	files map[string]Attachment
}

// NewMemoryAttachmentStore creates an empty in-process attachment store
func NewMemoryAttachmentStore() *MemoryAttachmentStore {
	return &MemoryAttachmentStore{files: make(map[string]Attachment)}
}

func (s *MemoryAttachmentStore) Save(ctx context.Context, a Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[a.ID] = a
	return nil
}

func (s *MemoryAttachmentStore) Get(ctx context.Context, id string) (Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.files[id]
	if !ok {
		return Attachment{}, models.ErrNotFound
	}
	return a, nil
}
