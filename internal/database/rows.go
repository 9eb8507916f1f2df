package database

import (
	"fmt"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/nfrund/pulse/internal/domain"
)

const (
	userTable    = "user"
	messageTable = "message"
	postTable    = "post"
	likeTable    = "like"
)

type userRow struct {
	ID               *surrealmodels.RecordID `json:"id,omitempty"`
	Username         string                  `json:"username"`
	Email            string                  `json:"email"`
	AvatarURL        string                  `json:"avatarUrl,omitempty"`
	Role             string                  `json:"role,omitempty"`
	SubscriptionTier string                  `json:"subscriptionTier,omitempty"`
	IsActive         bool                    `json:"isActive"`
}

type messageRow struct {
	ID        *surrealmodels.RecordID       `json:"id,omitempty"`
	Sender    *surrealmodels.RecordID       `json:"sender"`
	Receiver  *surrealmodels.RecordID       `json:"receiver"`
	Content   string                        `json:"content"`
	Kind      string                        `json:"kind"`
	FileURL   string                        `json:"fileUrl,omitempty"`
	IsRead    bool                          `json:"isRead"`
	CreatedAt *surrealmodels.CustomDateTime `json:"createdAt,omitempty"`
}

type postRow struct {
	ID           *surrealmodels.RecordID       `json:"id,omitempty"`
	Author       *surrealmodels.RecordID       `json:"author"`
	Content      string                        `json:"content"`
	ImageURL     string                        `json:"imageUrl,omitempty"`
	LikesCount   int                           `json:"likesCount"`
	CreatedAt    *surrealmodels.CustomDateTime `json:"createdAt,omitempty"`
	AuthorName   string                        `json:"authorName,omitempty"`
	AuthorAvatar string                        `json:"authorAvatar,omitempty"`
}

// recordID builds the record id of key in table.
func recordID(table, key string) surrealmodels.RecordID {
	return surrealmodels.NewRecordID(table, key)
}

// recordKey returns the key part of a record id, e.g. "alice" for user:alice.
func recordKey(id *surrealmodels.RecordID) string {
	if id == nil || id.ID == nil {
		return ""
	}
	return fmt.Sprint(id.ID)
}

// likeID is the record id of a like, one per (user, post). The array key
// keeps ids containing separators apart.
func likeID(userID, postID string) surrealmodels.RecordID {
	return surrealmodels.NewRecordID(likeTable, []any{userID, postID})
}

func dateTime(t *surrealmodels.CustomDateTime) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.Time.UTC()
}

func (r *userRow) toDomain() *domain.User {
	return &domain.User{
		ID:               recordKey(r.ID),
		Username:         r.Username,
		Email:            r.Email,
		AvatarURL:        r.AvatarURL,
		Role:             r.Role,
		SubscriptionTier: r.SubscriptionTier,
		IsActive:         r.IsActive,
	}
}

func (r *messageRow) toDomain() *domain.Message {
	return &domain.Message{
		ID:         recordKey(r.ID),
		SenderID:   recordKey(r.Sender),
		ReceiverID: recordKey(r.Receiver),
		Content:    r.Content,
		Kind:       domain.MessageKind(r.Kind),
		FileURL:    r.FileURL,
		IsRead:     r.IsRead,
		CreatedAt:  dateTime(r.CreatedAt),
	}
}

func (r *postRow) toDomain() *domain.Post {
	authorID := recordKey(r.Author)
	return &domain.Post{
		ID:         recordKey(r.ID),
		AuthorID:   authorID,
		Content:    r.Content,
		ImageURL:   r.ImageURL,
		LikesCount: r.LikesCount,
		CreatedAt:  dateTime(r.CreatedAt),
		Author: domain.PostAuthor{
			UserID:    authorID,
			Username:  r.AuthorName,
			AvatarURL: r.AuthorAvatar,
		},
	}
}
