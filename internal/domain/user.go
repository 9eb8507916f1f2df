package domain

import (
	"context"
)

// Identity is the verified identity attached to a live connection. It is
// produced once per connection and never changes while the connection lives.
type Identity struct {
	UserID           string `json:"userId"`
	Username         string `json:"username"`
	AvatarURL        string `json:"avatarUrl,omitempty"`
	Role             string `json:"role,omitempty"`
	SubscriptionTier string `json:"subscriptionTier,omitempty"`
}

// IsZero reports whether the identity carries no user.
func (i Identity) IsZero() bool {
	return i.UserID == ""
}

// User represents the core user model in the application domain.
type User struct {
	ID               string `json:"id"`
	Username         string `json:"username"`
	Email            string `json:"email,omitempty"`
	AvatarURL        string `json:"avatarUrl,omitempty"`
	Role             string `json:"role,omitempty"`
	SubscriptionTier string `json:"subscriptionTier,omitempty"`
	IsActive         bool   `json:"isActive"`
}

// Identity projects the user onto the identity carried by a connection.
func (u *User) Identity() Identity {
	return Identity{
		UserID:           u.ID,
		Username:         u.Username,
		AvatarURL:        u.AvatarURL,
		Role:             u.Role,
		SubscriptionTier: u.SubscriptionTier,
	}
}

// UserRepository defines the user lookups the gateway needs.
// It lives in the domain because it's a requirement OF the domain, not
// of the database implementation.
type UserRepository interface {
	// LookupActiveUser returns ErrNotFound when the user does not exist or is inactive.
	LookupActiveUser(ctx context.Context, userID string) (*User, error)
}

// Store is the full set of persistence operations used by the gateway.
type Store interface {
	UserRepository
	MessageRepository
	EngagementRepository
	Close(ctx context.Context) error
}
