package feed

import (
	"github.com/Guizzs26/go-social-mesh/internal/models"
	"github.com/Guizzs26/go-social-mesh/internal/rpc"
)

func Register(r *rpc.Router, s *Service) {
	r.Register(models.CreatePostCommand, rpc.Handle(s.CreatePost))
	r.Register(models.GetAllNewsFeedCommand, rpc.Handle(s.NewsFeed))
	r.Register(models.SeedReferencesCommand, rpc.Handle(s.SeedReferences))
}
