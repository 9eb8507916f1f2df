package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// validatorInstance is a package-level validator instance.
// Using a single instance is more efficient as it caches struct information.
var validatorInstance = validator.New()

// MessageKind is the payload type of a direct message.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindFile  MessageKind = "file"
)

// Message is a direct message between two users. Only IsRead ever changes
// after the message has been persisted.
type Message struct {
	ID         string      `json:"id"`
	SenderID   string      `json:"senderId" validate:"required"`
	ReceiverID string      `json:"receiverId" validate:"required"`
	Content    string      `json:"content" validate:"max=4000"`
	Kind       MessageKind `json:"kind" validate:"required,oneof=text image file"`
	FileURL    string      `json:"fileUrl,omitempty" validate:"omitempty,url"`
	IsRead     bool        `json:"isRead"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// Validate checks the message fields before it is persisted. Text messages need
// content; image and file messages need a file URL.
func (m *Message) Validate() error {
	if err := validatorInstance.Struct(m); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if m.Kind == KindText && strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("%w: text message has no content", ErrInvalidMessage)
	}
	if m.Kind != KindText && m.FileURL == "" {
		return fmt.Errorf("%w: %s message has no file url", ErrInvalidMessage, m.Kind)
	}
	return nil
}

// MessageRepository defines how messages are stored.
type MessageRepository interface {
	// PersistMessage stores msg and returns it with the server assigned ID and CreatedAt.
	PersistMessage(ctx context.Context, msg *Message) (*Message, error)
	// MarkMessageRead flips IsRead for a message addressed to readerID. When no
	// row matches (unknown id or a different receiver) it returns nil, false, nil.
	MarkMessageRead(ctx context.Context, messageID, readerID string) (*Message, bool, error)
}
