package user

import (
	"context"

	"github.com/Guizzs26/go-social-mesh/internal/models"
	"github.com/Guizzs26/go-social-mesh/internal/rpc"
)

// Register binds the user service commands
func Register(r *rpc.Router, s *Service) {
	r.Register(models.CreateUserCommand, rpc.Handle(s.Create))

	r.Register(models.GetByIdUserCommand, rpc.Handle(func(ctx context.Context, req models.GetByIdUserRequest) (models.UserView, error) {
		return s.Get(ctx, req.ID)
	}))

	r.Register(models.UpdateUserCommand, rpc.Handle(s.Update))

	r.Register(models.DeleteUserCommand, rpc.Handle(func(ctx context.Context, req models.DeleteUserRequest) (struct{}, error) {
		return struct{}{}, s.Delete(ctx, req.ID)
	}))

	r.Register(models.LoginAuthCommand, rpc.Handle(s.Login))

	r.Register(models.VerifyJwtAuthCommand, rpc.Handle(func(ctx context.Context, req models.VerifyJwtAuthRequest) (models.VerifyJwtAuthResponse, error) {
		return s.Verify(ctx, req.Token)
	}))

	r.Register(models.LogoutAuthCommand, rpc.Handle(func(ctx context.Context, req models.LogoutAuthRequest) (struct{}, error) {
		return struct{}{}, s.Logout(ctx, req)
	}))

	r.Register(models.CheckTokenBlacklistCommand, rpc.Handle(func(ctx context.Context, req models.CheckTokenBlacklistRequest) (models.CheckTokenBlacklistResponse, error) {
		revoked, err := s.IsBlacklisted(ctx, req.TokenID)
		return models.CheckTokenBlacklistResponse{Blacklisted: revoked}, err
	}))

	r.Register(models.SeedUsersCommand, rpc.Handle(func(ctx context.Context, req models.SeedUsersRequest) (models.SeedUsersResponse, error) {
		ids, err := s.Seed(ctx, req.Count)
		return models.SeedUsersResponse{Created: len(ids), IDs: ids}, err
	}))

	r.Register(models.ExportUsersCommand, rpc.Handle(func(ctx context.Context, req models.ExportUsersRequest) (models.ExportUsersResponse, error) {
		refs, err := s.Export(ctx, req.IDs)
		return models.ExportUsersResponse{Users: refs}, err
	}))
}
