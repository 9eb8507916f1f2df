package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessage_Validate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{
			name: "valid text message",
			msg:  Message{SenderID: "alice", ReceiverID: "bob", Content: "hi", Kind: KindText},
		},
		{
			name: "valid image message",
			msg:  Message{SenderID: "alice", ReceiverID: "bob", Kind: KindImage, FileURL: "https://cdn.example.com/a.png"},
		},
		{
			name:    "blank text",
			msg:     Message{SenderID: "alice", ReceiverID: "bob", Content: "   ", Kind: KindText},
			wantErr: true,
		},
		{
			name:    "file without url",
			msg:     Message{SenderID: "alice", ReceiverID: "bob", Kind: KindFile},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			msg:     Message{SenderID: "alice", ReceiverID: "bob", Content: "hi", Kind: "video"},
			wantErr: true,
		},
		{
			name:    "missing receiver",
			msg:     Message{SenderID: "alice", Content: "hi", Kind: KindText},
			wantErr: true,
		},
		{
			name:    "malformed url",
			msg:     Message{SenderID: "alice", ReceiverID: "bob", Kind: KindFile, FileURL: "not a url"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMessage)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUser_Identity(t *testing.T) {
	u := &User{ID: "u1", Username: "alice", AvatarURL: "a.png", Role: "student", SubscriptionTier: "pro", IsActive: true}
	id := u.Identity()

	assert.Equal(t, Identity{UserID: "u1", Username: "alice", AvatarURL: "a.png", Role: "student", SubscriptionTier: "pro"}, id)
	assert.False(t, id.IsZero())
	assert.True(t, Identity{}.IsZero())
}
