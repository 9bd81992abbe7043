package models

import "time"

// Command names. Each maps to exactly one handler in exactly one service
const (
	// user service
	LoginAuthCommand           = "LoginAuthCommand"
	LogoutAuthCommand          = "LogoutAuthCommand"
	VerifyJwtAuthCommand       = "VerifyJwtAuthCommand"
	CheckTokenBlacklistCommand = "CheckTokenBlacklistCommand"
	CreateUserCommand          = "CreateUserCommand"
	GetByIdUserCommand         = "GetByIdUserCommand"
	UpdateUserCommand          = "UpdateUserCommand"
	DeleteUserCommand          = "DeleteUserCommand"
	SeedUsersCommand           = "SeedUsersCommand"
	ExportUsersCommand         = "ExportUsersCommand"

	// feed service
	CreatePostCommand     = "CreatePostCommand"
	GetAllNewsFeedCommand = "GetAllNewsFeedCommand"

	// communication service
	CreateMessageCommand        = "CreateMessageCommand"
	GetConversationCommand      = "GetConversationCommand"
	UploadAttachmentFileCommand = "UploadAttachmentFileCommand"

	// feed and communication services
	SeedReferencesCommand = "SeedReferencesCommand"
)

type LoginAuthRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginAuthResponse struct {
	AccessToken string    `json:"accessToken"`
	TokenID     string    `json:"tokenId"`
	ExpiresAt   time.Time `json:"expiresAt"`
	User        UserView  `json:"user"`
}

type LogoutAuthRequest struct {
	TokenID   string    `json:"tokenId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type VerifyJwtAuthRequest struct {
	Token string `json:"token"`
}

type VerifyJwtAuthResponse struct {
	UserID    string    `json:"userId"`
	TokenID   string    `json:"tokenId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type CheckTokenBlacklistRequest struct {
	TokenID string `json:"tokenId"`
}

type CheckTokenBlacklistResponse struct {
	Blacklisted bool `json:"blacklisted"`
}

type CreateUserRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ProfileImageURL string `json:"profileImageUrl,omitempty"`
}

type GetByIdUserRequest struct {
	ID string `json:"id"`
}

// UpdateUserRequest carries only the fields to change
type UpdateUserRequest struct {
	ID              string  `json:"id"`
	Username        *string `json:"username,omitempty"`
	ProfileImageURL *string `json:"profileImageUrl,omitempty"`
}

type DeleteUserRequest struct {
	ID string `json:"id"`
}

// UserView is the public shape of a user; it never carries secrets
type UserView struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	Email           string    `json:"email"`
	ProfileImageURL string    `json:"profileImageUrl,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type SeedUsersRequest struct {
	Count int `json:"count"`
}

type SeedUsersResponse struct {
	Created int      `json:"created"`
	IDs     []string `json:"ids"`
}

// ExportUsersRequest scopes the export to IDs. An empty list exports every user
type ExportUsersRequest struct {
	IDs []string `json:"ids,omitempty"`
}

type ExportUsersResponse struct {
	Users []UserReference `json:"users"`
}

type SeedReferencesRequest struct {
	References []UserReference `json:"references"`
}

type SeedReferencesResponse struct {
	Applied int `json:"applied"`
}

type CreatePostRequest struct {
	AuthorID string `json:"authorId"`
	Content  string `json:"content"`
}

type PostView struct {
	ID        string    `json:"id"`
	Author    Author    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type GetAllNewsFeedRequest struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type GetAllNewsFeedResponse struct {
	Posts []PostView `json:"posts"`
}

type CreateMessageRequest struct {
	SenderID     string `json:"senderId"`
	RecipientID  string `json:"recipientId"`
	Content      string `json:"content"`
	AttachmentID string `json:"attachmentId,omitempty"`
}

type MessageView struct {
	ID           string    `json:"id"`
	Sender       Author    `json:"sender"`
	Recipient    Author    `json:"recipient"`
	Content      string    `json:"content"`
	AttachmentID string    `json:"attachmentId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

type GetConversationRequest struct {
	UserID string `json:"userId"`
	PeerID string `json:"peerId"`
	Limit  int    `json:"limit"`
}

type GetConversationResponse struct {
	Messages []MessageView `json:"messages"`
}

type UploadAttachmentFileRequest struct {
	UploaderID  string `json:"uploaderId"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"data"`
}

type AttachmentView struct {
	ID          string    `json:"id"`
	UploaderID  string    `json:"uploaderId"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	Checksum    string    `json:"checksum"`
	CreatedAt   time.Time `json:"createdAt"`
}
