package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nfrund/pulse/internal/domain"
)

var validate = newValidator()

// newValidator reports field errors by their JSON names so clients can act on them.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Protocol failure categories, checkable with errors.Is on a *ProtocolError.
var (
	ErrMalformed      = errors.New("malformed frame")
	ErrUnknownEvent   = errors.New("unknown event")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrForbidden      = errors.New("event not allowed")
	ErrRateLimited    = errors.New("rate limit exceeded")
)

// ProtocolError reports a bad inbound event. It is sent back to the
// originating connection as an error frame and never closes the connection.
type ProtocolError struct {
	Event  string
	Reason string
	err    error
}

// NewProtocolError creates a ProtocolError of the given category.
func NewProtocolError(event string, kind error, reason string) *ProtocolError {
	return &ProtocolError{Event: event, Reason: reason, err: kind}
}

func (e *ProtocolError) Error() string {
	var b strings.Builder
	b.WriteString(e.err.Error())
	if e.Event != "" {
		fmt.Fprintf(&b, " (%s)", e.Event)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}

func (e *ProtocolError) Unwrap() error {
	return e.err
}

// Inbound is one decoded client event. The set of implementations is closed:
// only types in this package satisfy it, so the gateway can switch over them exhaustively.
type Inbound interface {
	EventName() string
	inbound()
}

// Authenticate carries the bearer token when it was not supplied on the upgrade request.
type Authenticate struct {
	Token string `json:"token" validate:"required"`
}

// SendMessage asks the router to persist and deliver a direct message.
type SendMessage struct {
	ReceiverID string             `json:"receiverId" validate:"required,max=128"`
	Content    string             `json:"content" validate:"max=4000"`
	Kind       domain.MessageKind `json:"kind" validate:"required,oneof=text image file"`
	FileURL    string             `json:"fileUrl,omitempty" validate:"omitempty,url"`
}

// MarkRead marks a received message as read.
type MarkRead struct {
	MessageID string `json:"messageId" validate:"required,max=128"`
}

// Typing is a typing indicator toward another user. Start is false for typing:stop.
type Typing struct {
	ReceiverID string `json:"receiverId" validate:"required,max=128"`
	Start      bool   `json:"-"`
}

type LikePost struct {
	PostID string `json:"postId" validate:"required,max=128"`
}

type UnlikePost struct {
	PostID string `json:"postId" validate:"required,max=128"`
}

// AnnouncePost fans a freshly created post out to everybody else.
type AnnouncePost struct {
	PostID string `json:"postId" validate:"required,max=128"`
}

type JoinRoom struct {
	RoomID string `json:"roomId" validate:"required,max=128"`
}

type LeaveRoom struct {
	RoomID string `json:"roomId" validate:"required,max=128"`
}

func (Authenticate) EventName() string { return Auth }
func (SendMessage) EventName() string  { return MessageSend }
func (MarkRead) EventName() string     { return MessageRead }
func (AnnouncePost) EventName() string { return PostNew }
func (LikePost) EventName() string     { return PostLike }
func (UnlikePost) EventName() string   { return PostUnlike }
func (JoinRoom) EventName() string     { return RoomJoin }
func (LeaveRoom) EventName() string    { return RoomLeave }

func (t Typing) EventName() string {
	if t.Start {
		return TypingStart
	}
	return TypingStop
}

func (Authenticate) inbound() {}
func (SendMessage) inbound()  {}
func (MarkRead) inbound()     {}
func (Typing) inbound()       {}
func (LikePost) inbound()     {}
func (UnlikePost) inbound()   {}
func (AnnouncePost) inbound() {}
func (JoinRoom) inbound()     {}
func (LeaveRoom) inbound()    {}

// Decode parses a raw text frame into its inbound event and validates the payload.
// Every failure is a *ProtocolError.
func Decode(raw []byte) (Inbound, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, NewProtocolError("", ErrMalformed, "frame is not valid JSON")
	}
	if f.Event == "" {
		return nil, NewProtocolError("", ErrMalformed, "missing event name")
	}

	var ev Inbound
	var err error
	switch f.Event {
	case Auth:
		ev, err = decodeInto[Authenticate](f)
	case MessageSend:
		var m SendMessage
		m, err = decodeInto[SendMessage](f)
		if err == nil && m.Kind == "" {
			m.Kind = domain.KindText
		}
		ev = m
	case MessageRead:
		ev, err = decodeInto[MarkRead](f)
	case TypingStart, TypingStop:
		var t Typing
		t, err = decodeInto[Typing](f)
		t.Start = f.Event == TypingStart
		ev = t
	case PostLike:
		ev, err = decodeInto[LikePost](f)
	case PostUnlike:
		ev, err = decodeInto[UnlikePost](f)
	case PostNew:
		ev, err = decodeInto[AnnouncePost](f)
	case RoomJoin:
		ev, err = decodeInto[JoinRoom](f)
	case RoomLeave:
		ev, err = decodeInto[LeaveRoom](f)
	default:
		return nil, NewProtocolError(f.Event, ErrUnknownEvent, "")
	}
	if err != nil {
		return nil, NewProtocolError(f.Event, ErrMalformed, err.Error())
	}

	if err := validate.Struct(ev); err != nil {
		return nil, NewProtocolError(f.Event, ErrInvalidPayload, describe(err))
	}
	return ev, nil
}

func decodeInto[T any](f Frame) (T, error) {
	var v T
	data := bytes.TrimSpace(f.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return v, errors.New("missing data")
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, errors.New("data does not match the event shape")
	}
	return v, nil
}

// describe turns validator errors into a short client facing message.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}
