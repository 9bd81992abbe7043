// Package feed stores posts and renders the news feed with authors resolved from
// the locally replicated user references.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Guizzs26/go-social-mesh/internal/models"
	"github.com/Guizzs26/go-social-mesh/internal/processor"
	"github.com/google/uuid"
)

const (
	maxPostLength   = 2000
	defaultPageSize = 20
	maxPageSize     = 100
)

type Post struct {
	ID        string
	AuthorID  string
	Content   string
	CreatedAt time.Time
}

type PostStore interface {
	Create(ctx context.Context, p Post) error
	// List returns posts newest first
	List(ctx context.Context, limit, offset int) ([]Post, error)
}

type MemoryPostStore struct {
	mu    sync.RWMutex
	posts []Post
}

// NewMemoryPostStore creates an empty in-process post store
func NewMemoryPostStore() *MemoryPostStore {
	return &MemoryPostStore{}
}

func (s *MemoryPostStore) Create(ctx context.Context, p Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts = append(s.posts, p)
	return nil
}

func (s *MemoryPostStore) List(ctx context.Context, limit, offset int) ([]Post, error) {
	s.mu.RLock()
	sorted := append([]Post(nil), s.posts...)
	s.mu.RUnlock()

	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.After(sorted[j].CreatedAt) })
	if offset >= len(sorted) {
		return nil, nil
	}
	end := min(offset+limit, len(sorted))
	return sorted[offset:end], nil
}

type Service struct {
	posts      PostStore
	refs       processor.ReferenceStore
	replicator *processor.ReferenceReplicator
	logger     *slog.Logger
}

// NewService wires the feed use-cases to the post store and the reference replica
func NewService(posts PostStore, refs processor.ReferenceStore, replicator *processor.ReferenceReplicator, logger *slog.Logger) *Service {
	return &Service{posts: posts, refs: refs, replicator: replicator, logger: logger}
}

// CreatePost only accepts authors this service has a live reference for
func (s *Service) CreatePost(ctx context.Context, req models.CreatePostRequest) (models.PostView, error) {
	content := strings.TrimSpace(req.Content)
	if req.AuthorID == "" || content == "" {
		return models.PostView{}, fmt.Errorf("%w: author and content are required", models.ErrInvalidInput)
	}
	if utf8.RuneCountInString(content) > maxPostLength {
		return models.PostView{}, fmt.Errorf("%w: content exceeds %d characters", models.ErrInvalidInput, maxPostLength)
	}

	author, err := s.refs.Get(ctx, req.AuthorID)
	if errors.Is(err, models.ErrNotFound) {
		// The reference may simply not have been replicated yet
		return models.PostView{}, fmt.Errorf("author %s is unknown to the feed service: %w", req.AuthorID, models.ErrNotFound)
	}
	if err != nil {
		return models.PostView{}, err
	}
	if author.Deleted {
		return models.PostView{}, fmt.Errorf("author %s was deleted: %w", req.AuthorID, models.ErrNotFound)
	}

	p := Post{ID: uuid.NewString(), AuthorID: author.ID, Content: content, CreatedAt: time.Now().UTC()}
	if err := s.posts.Create(ctx, p); err != nil {
		return models.PostView{}, err
	}

	return models.PostView{ID: p.ID, Author: models.AuthorOf(author.ID, &author), Content: p.Content, CreatedAt: p.CreatedAt}, nil
}

// NewsFeed pages through all posts. Authors that were deleted still resolve, flagged as deleted
func (s *Service) NewsFeed(ctx context.Context, req models.GetAllNewsFeedRequest) (models.GetAllNewsFeedResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)
	offset := max(req.Offset, 0)

	posts, err := s.posts.List(ctx, limit, offset)
	if err != nil {
		return models.GetAllNewsFeedResponse{}, err
	}

	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.AuthorID)
	}
	authors, err := s.refs.GetMany(ctx, ids)
	if err != nil {
		return models.GetAllNewsFeedResponse{}, err
	}

	views := make([]models.PostView, 0, len(posts))
	for _, p := range posts {
		var ref *models.UserReference
		if a, ok := authors[p.AuthorID]; ok {
			ref = &a
		}
		views = append(views, models.PostView{ID: p.ID, Author: models.AuthorOf(p.AuthorID, ref), Content: p.Content, CreatedAt: p.CreatedAt})
	}
	return models.GetAllNewsFeedResponse{Posts: views}, nil
}

func (s *Service) SeedReferences(ctx context.Context, req models.SeedReferencesRequest) (models.SeedReferencesResponse, error) {
	n, err := s.replicator.Seed(ctx, req.References)
	return models.SeedReferencesResponse{Applied: n}, err
}
