package processor

import (
	"context"
	"sync"

	"github.com/Guizzs26/go-social-mesh/internal/models"
)

// ReferenceStore persists user references for one consuming service
type ReferenceStore interface {
	// Mutate loads the reference (nil when absent), hands it to fn and stores what fn
	// returns, atomically with respect to other mutations of the same id.
	// A nil result leaves the store untouched
	Mutate(ctx context.Context, id string, fn func(cur *models.UserReference) *models.UserReference) error
	Get(ctx context.Context, id string) (models.UserReference, error)
	GetMany(ctx context.Context, ids []string) (map[string]models.UserReference, error)
	UpsertMany(ctx context.Context, refs []models.UserReference) error
}

// MemoryReferenceStore keeps references in process memory
type MemoryReferenceStore struct {
	mu   sync.RWMutex
	refs map[string]models.UserReference
}

// NewMemoryReferenceStore creates an empty in-process reference store
func NewMemoryReferenceStore() *MemoryReferenceStore {
	return &MemoryReferenceStore{refs: make(map[string]models.UserReference)}
}

func (s *MemoryReferenceStore) Mutate(ctx context.Context, id string, fn func(cur *models.UserReference) *models.UserReference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cur *models.UserReference
	if ref, ok := s.refs[id]; ok {
		cur = &ref
	}
	if next := fn(cur); next != nil {
		s.refs[id] = *next
	}
	return nil
}

func (s *MemoryReferenceStore) Get(ctx context.Context, id string) (models.UserReference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, ok := s.refs[id]
	if !ok {
		return models.UserReference{}, models.ErrNotFound
	}
	return ref, nil
}

func (s *MemoryReferenceStore) GetMany(ctx context.Context, ids []string) (map[string]models.UserReference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]models.UserReference, len(ids))
	for _, id := range ids {
		if ref, ok := s.refs[id]; ok {
			out[id] = ref
		}
	}
	return out, nil
}

func (s *MemoryReferenceStore) UpsertMany(ctx context.Context, refs []models.UserReference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ref := range refs {
		s.refs[ref.ID] = ref
	}
	return nil
}

// Len reports the number of stored references, deleted ones included
func (s *MemoryReferenceStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.refs)
}
