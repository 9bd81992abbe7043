package user

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Guizzs26/go-social-mesh/internal/models"
)

// User is the authoritative user record. PasswordHash never leaves this package's service
type User struct {
	ID              string
	Username        string
	Email           string
	PasswordHash    string
	ProfileImageURL string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (u User) View() models.UserView {
	return models.UserView{
		ID:              u.ID,
		Username:        u.Username,
		Email:           u.Email,
		ProfileImageURL: u.ProfileImageURL,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
}

// Reference is the part of a user other services may replicate
func (u User) Reference() models.UserReference {
	return models.UserReference{
		ID:              u.ID,
		Username:        u.Username,
		Email:           u.Email,
		ProfileImageURL: u.ProfileImageURL,
		UpdatedAt:       u.UpdatedAt,
	}
}

// Patch lists the columns an update changes; nil fields are left alone
type Patch struct {
	Username        *string
	ProfileImageURL *string
	UpdatedAt       time.Time
}

// Store persists users. Username and email are unique; violations return models.ErrAlreadyExists
type Store interface {
	Create(ctx context.Context, u User) error
	CreateMany(ctx context.Context, users []User) error
	Get(ctx context.Context, id string) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	Update(ctx context.Context, id string, p Patch) (User, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]User, error)
	ListByIDs(ctx context.Context, ids []string) ([]User, error)
}

type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryStore creates an empty in-process user store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]User)}
}

func (s *MemoryStore) Create(ctx context.Context, u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(u)
}

func (s *MemoryStore) CreateMany(ctx context.Context, users []User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range users {
		if err := s.conflict(u, ""); err != nil {
			return err
		}
	}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return nil
}

func (s *MemoryStore) insert(u User) error {
	if err := s.conflict(u, ""); err != nil {
		return err
	}
	s.users[u.ID] = u
	return nil
}

func (s *MemoryStore) conflict(u User, self string) error {
	for id, existing := range s.users {
		if id == self {
			continue
		}
		if id == u.ID || existing.Username == u.Username || existing.Email == u.Email {
			return models.ErrAlreadyExists
		}
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, models.ErrNotFound
	}
	return u, nil
}

func (s *MemoryStore) GetByEmail(ctx context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, models.ErrNotFound
}

func (s *MemoryStore) Update(ctx context.Context, id string, p Patch) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, models.ErrNotFound
	}
	if p.Username != nil {
		u.Username = *p.Username
	}
	if p.ProfileImageURL != nil {
		u.ProfileImageURL = *p.ProfileImageURL
	}
	if err := s.conflict(u, id); err != nil {
		return User{}, err
	}
	u.UpdatedAt = p.UpdatedAt
	s.users[id] = u
	return u, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return models.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

// List returns users ordered by creation time
func (s *MemoryStore) List(ctx context.Context) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ListByIDs returns the users among ids that exist, ordered like List
func (s *MemoryStore) ListByIDs(ctx context.Context, ids []string) ([]User, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	out := make([]User, 0, len(ids))
	for _, u := range all {
		if _, ok := wanted[u.ID]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}
