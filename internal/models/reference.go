package models

import "time"

// UserReference is the local shadow of a user owned by the user service.
// ID is always the user service's primary key, copied verbatim
type UserReference struct {
	ID              string     `json:"id"`
	Username        string     `json:"username"`
	Email           string     `json:"email,omitempty"`
	ProfileImageURL string     `json:"profileImageUrl,omitempty"`
	Deleted         bool       `json:"deleted,omitempty"`
	DeletedAt       *time.Time `json:"deletedAt,omitempty"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Author is the display projection of a reference embedded in feed and message views
type Author struct {
	ID              string `json:"id"`
	Username        string `json:"username"`
	ProfileImageURL string `json:"profileImageUrl,omitempty"`
	Deleted         bool   `json:"deleted,omitempty"`
}

// AuthorOf projects a reference; a missing reference still yields the foreign id
func AuthorOf(id string, ref *UserReference) Author {
	if ref == nil {
		return Author{ID: id}
	}
	return Author{
		ID:              ref.ID,
		Username:        ref.Username,
		ProfileImageURL: ref.ProfileImageURL,
		Deleted:         ref.Deleted,
	}
}
