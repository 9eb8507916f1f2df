package domain

import (
	"context"
	"time"
)

// PostAuthor is the public summary of a post's author.
type PostAuthor struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Post is a feed post as it is fanned out to connected clients.
type Post struct {
	ID         string     `json:"id"`
	AuthorID   string     `json:"authorId"`
	Content    string     `json:"content"`
	ImageURL   string     `json:"imageUrl,omitempty"`
	LikesCount int        `json:"likesCount"`
	CreatedAt  time.Time  `json:"createdAt"`
	Author     PostAuthor `json:"author"`
}

// EngagementRepository defines the like and post operations. The store owns
// the (user, post) uniqueness of likes; callers only react to whether a row changed.
type EngagementRepository interface {
	AddLike(ctx context.Context, userID, postID string) (bool, error)
	RemoveLike(ctx context.Context, userID, postID string) (bool, error)
	// FindPost returns ErrNotFound when the post does not exist.
	FindPost(ctx context.Context, postID string) (*Post, error)
}
