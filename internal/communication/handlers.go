package communication

import (
	"github.com/Guizzs26/go-social-mesh/internal/models"
	"github.com/Guizzs26/go-social-mesh/internal/rpc"
)

func Register(r *rpc.Router, s *Service) {
	r.Register(models.CreateMessageCommand, rpc.Handle(s.CreateMessage))
	r.Register(models.GetConversationCommand, rpc.Handle(s.Conversation))
	r.Register(models.UploadAttachmentFileCommand, rpc.Handle(s.UploadAttachment))
	r.Register(models.SeedReferencesCommand, rpc.Handle(s.SeedReferences))
}
