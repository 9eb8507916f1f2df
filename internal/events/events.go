// Package events defines the websocket wire protocol: the closed set of
// inbound events a client may send and the outbound frames the gateway emits.
package events

import (
	"encoding/json"
	"fmt"
)

// Inbound event names.
const (
	Auth        = "auth"
	MessageSend = "message:send"
	MessageRead = "message:read"
	TypingStart = "typing:start"
	TypingStop  = "typing:stop"
	PostLike    = "post:like"
	PostUnlike  = "post:unlike"
	PostNew     = "post:new"
	RoomJoin    = "room:join"
	RoomLeave   = "room:leave"
)

// Outbound event names. Some share a name with their inbound counterpart.
const (
	MessageSent    = "message:sent"
	MessageReceive = "message:receive"
	UserOnline     = "user:online"
	UserOffline    = "user:offline"
	UsersOnline    = "users:online"
	PostLiked      = "post:liked"
	PostUnliked    = "post:unliked"
	UserJoined     = "user:joined"
	UserLeft       = "user:left"
	Error          = "error"
)

// Frame is the envelope of every websocket text frame in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals data into a frame for the named event.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s data: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

// ErrorFrame builds an error frame. It cannot fail because the payload is a plain string.
func ErrorFrame(message string) []byte {
	b, _ := Encode(Error, ErrorData{Message: message})
	return b
}

// ErrorData is the payload of an error frame.
type ErrorData struct {
	Message string `json:"message"`
}

// ReadReceipt is sent to the original sender when the receiver reads a message.
type ReadReceipt struct {
	MessageID string `json:"messageId"`
	ReadBy    string `json:"readBy"`
}

// TypingSignal is relayed to the typing target.
type TypingSignal struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Presence is the payload of user:online and user:offline.
type Presence struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Like is the payload of post:liked and post:unliked.
type Like struct {
	PostID   string `json:"postId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// RoomMember is the payload of user:joined and user:left.
type RoomMember struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}
