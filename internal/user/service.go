// Package user owns user accounts and authentication, and announces every account
// change on the user events exchange.
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/Guizzs26/go-social-mesh/internal/events"
	"github.com/Guizzs26/go-social-mesh/internal/models"
	"github.com/Guizzs26/go-social-mesh/pkg/encoding"
	"github.com/google/uuid"

	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

// EventPublisher is satisfied by *events.Publisher
type EventPublisher interface {
	PublishBestEffort(ctx context.Context, ev events.DomainEvent)
}

type Service struct {
	store     Store
	events    EventPublisher
	tokens    *TokenIssuer
	blacklist Blacklist
	logger    *slog.Logger
	now       func() time.Time
}

// NewService wires the user use-cases to their store, event publisher and auth collaborators
func NewService(store Store, publisher EventPublisher, tokens *TokenIssuer, blacklist Blacklist, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		events:    publisher,
		tokens:    tokens,
		blacklist: blacklist,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Create(ctx context.Context, req models.CreateUserRequest) (models.UserView, error) {
	username := encoding.NormalizeDisplay(req.Username)
	email := encoding.NormalizeEmail(req.Email)
	if username == "" || !validEmail(email) || len(req.Password) < minPasswordLength {
		return models.UserView{}, fmt.Errorf("%w: username, a valid email and a password of at least %d characters are required", models.ErrInvalidInput, minPasswordLength)
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return models.UserView{}, err
	}

	now := s.now()
	u := User{
		ID:              uuid.NewString(),
		Username:        username,
		Email:           email,
		PasswordHash:    hash,
		ProfileImageURL: encoding.NormalizeDisplay(req.ProfileImageURL),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.Create(ctx, u); err != nil {
		return models.UserView{}, err
	}

	ev := events.UserCreatedEvent{ID: u.ID, Username: u.Username, Email: u.Email, At: now}
	if u.ProfileImageURL != "" {
		ev.ProfileImageURL = &u.ProfileImageURL
	}
	s.events.PublishBestEffort(ctx, ev.DomainEvent())

	s.logger.Info("User created", "user_id", u.ID)
	return u.View(), nil
}

func (s *Service) Get(ctx context.Context, id string) (models.UserView, error) {
	if id == "" {
		return models.UserView{}, fmt.Errorf("%w: id is required", models.ErrInvalidInput)
	}
	u, err := s.store.Get(ctx, id)
	if err != nil {
		return models.UserView{}, err
	}
	return u.View(), nil
}

func (s *Service) Update(ctx context.Context, req models.UpdateUserRequest) (models.UserView, error) {
	if req.ID == "" || (req.Username == nil && req.ProfileImageURL == nil) {
		return models.UserView{}, fmt.Errorf("%w: id and at least one field are required", models.ErrInvalidInput)
	}

	patch := Patch{UpdatedAt: s.now()}
	if req.Username != nil {
		v := encoding.NormalizeDisplay(*req.Username)
		if v == "" {
			return models.UserView{}, fmt.Errorf("%w: username cannot be empty", models.ErrInvalidInput)
		}
		patch.Username = &v
	}
	if req.ProfileImageURL != nil {
		v := encoding.NormalizeDisplay(*req.ProfileImageURL)
		patch.ProfileImageURL = &v
	}

	u, err := s.store.Update(ctx, req.ID, patch)
	if err != nil {
		return models.UserView{}, err
	}

	s.events.PublishBestEffort(ctx, events.UserUpdatedEvent{
		ID:              u.ID,
		Username:        patch.Username,
		ProfileImageURL: patch.ProfileImageURL,
		At:              patch.UpdatedAt,
	}.DomainEvent())

	return u.View(), nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", models.ErrInvalidInput)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	s.events.PublishBestEffort(ctx, events.UserDeletedEvent{ID: id, At: s.now()}.DomainEvent())
	s.logger.Info("User deleted", "user_id", id)
	return nil
}

// Login checks credentials and issues an access token. Unknown email and wrong password look the same
func (s *Service) Login(ctx context.Context, req models.LoginAuthRequest) (models.LoginAuthResponse, error) {
	if req.Email == "" || req.Password == "" {
		return models.LoginAuthResponse{}, fmt.Errorf("%w: email and password are required", models.ErrInvalidInput)
	}

	u, err := s.store.GetByEmail(ctx, encoding.NormalizeEmail(req.Email))
	if errors.Is(err, models.ErrNotFound) {
		return models.LoginAuthResponse{}, models.ErrUnauthorized
	}
	if err != nil {
		return models.LoginAuthResponse{}, err
	}

	if err := comparePassword(u.PasswordHash, req.Password); err != nil {
		return models.LoginAuthResponse{}, models.ErrUnauthorized
	}

	token, tokenID, expiresAt, err := s.tokens.Issue(u.ID)
	if err != nil {
		return models.LoginAuthResponse{}, err
	}

	return models.LoginAuthResponse{AccessToken: token, TokenID: tokenID, ExpiresAt: expiresAt, User: u.View()}, nil
}

// Verify validates a token's signature and expiry. Revocation is a separate check
func (s *Service) Verify(ctx context.Context, token string) (models.VerifyJwtAuthResponse, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return models.VerifyJwtAuthResponse{}, err
	}
	return models.VerifyJwtAuthResponse{
		UserID:    claims.UserID,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, nil
}

func (s *Service) Logout(ctx context.Context, req models.LogoutAuthRequest) error {
	if req.TokenID == "" {
		return fmt.Errorf("%w: token id is required", models.ErrInvalidInput)
	}
	return s.blacklist.Revoke(ctx, req.TokenID, req.ExpiresAt)
}

func (s *Service) IsBlacklisted(ctx context.Context, tokenID string) (bool, error) {
	if tokenID == "" {
		return false, fmt.Errorf("%w: token id is required", models.ErrInvalidInput)
	}
	return s.blacklist.IsRevoked(ctx, tokenID)
}

// Seed inserts count synthetic users in one batch and returns their ids. No events are
// published: the seed run distributes references itself
func (s *Service) Seed(ctx context.Context, count int) ([]string, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: count must be positive", models.ErrInvalidInput)
	}

	// One hash for the whole batch; seeded accounts share a throwaway password
	hash, err := hashPassword(uuid.NewString())
	if err != nil {
		return nil, err
	}

	now := s.now()
	users := make([]User, 0, count)
	ids := make([]string, 0, count)
	for i := range count {
		id := uuid.NewString()
		ids = append(ids, id)
		tag := strings.ReplaceAll(id, "-", "")[:12]
		users = append(users, User{
			ID:           id,
			Username:     "seed_" + tag,
			Email:        "seed_" + tag + "@seed.local",
			PasswordHash: hash,
			CreatedAt:    now.Add(time.Duration(i) * time.Microsecond),
			UpdatedAt:    now,
		})
	}

	if err := s.store.CreateMany(ctx, users); err != nil {
		return nil, fmt.Errorf("failed to seed users: %w", err)
	}

	s.logger.Info("Synthetic users created", "count", count)
	return ids, nil
}

// Export lists users as references: id and display fields only.
// With ids it returns only those users; without, every user
func (s *Service) Export(ctx context.Context, ids []string) ([]models.UserReference, error) {
	var (
		users []User
		err   error
	)
	if len(ids) > 0 {
		users, err = s.store.ListByIDs(ctx, ids)
	} else {
		users, err = s.store.List(ctx)
	}
	if err != nil {
		return nil, err
	}
	refs := make([]models.UserReference, 0, len(users))
	for _, u := range users {
		refs = append(refs, u.Reference())
	}
	return refs, nil
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func comparePassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
