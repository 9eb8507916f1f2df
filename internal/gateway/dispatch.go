package gateway

import (
	"context"
	"errors"

	"github.com/nfrund/pulse/internal/domain"
	"github.com/nfrund/pulse/internal/events"
	"github.com/nfrund/pulse/internal/messaging"
	"github.com/nfrund/pulse/internal/rooms"
)

// Errors reported to the client for engagement events.
var (
	ErrPostNotFound  = errors.New("post not found")
	ErrAlreadyLiked  = errors.New("post already liked")
	ErrNotLiked      = errors.New("post not liked")
	ErrNotPostAuthor = errors.New("only the author can announce a post")
)

// dispatch handles one inbound event of an active session. A returned error is
// reported to the session and never closes it.
func (g *Gateway) dispatch(ctx context.Context, s *session, ev events.Inbound) error {
	switch ev := ev.(type) {
	case events.Authenticate:
		return events.NewProtocolError(ev.EventName(), events.ErrForbidden, "already authenticated")
	case events.SendMessage:
		_, err := g.Router.Send(ctx, s.identity, s.client, messaging.SendRequest{
			ReceiverID: ev.ReceiverID,
			Content:    ev.Content,
			Kind:       ev.Kind,
			FileURL:    ev.FileURL,
		})
		return err
	case events.MarkRead:
		_, err := g.Router.MarkRead(ctx, s.identity, ev.MessageID)
		return err
	case events.Typing:
		g.relayTyping(s, ev)
		return nil
	case events.LikePost:
		return g.like(ctx, s, ev.PostID)
	case events.UnlikePost:
		return g.unlike(ctx, s, ev.PostID)
	case events.AnnouncePost:
		return g.announce(ctx, s, ev.PostID)
	case events.JoinRoom:
		return g.joinRoom(s, ev.RoomID)
	case events.LeaveRoom:
		return g.leaveRoom(s, ev.RoomID)
	default:
		return events.NewProtocolError(ev.EventName(), events.ErrUnknownEvent, "")
	}
}

// relayTyping forwards a typing signal to the target's canonical connection.
// Offline targets are ignored.
func (g *Gateway) relayTyping(s *session, ev events.Typing) {
	target, ok := g.Registry.Lookup(ev.ReceiverID)
	if !ok {
		return
	}
	signal := events.TypingSignal{UserID: s.identity.UserID, Username: s.identity.Username}
	if err := g.send(target, ev.EventName(), signal); err != nil {
		s.logger.Debug("Typing signal dropped", "target", ev.ReceiverID, "error", err)
	}
}

func (g *Gateway) like(ctx context.Context, s *session, postID string) error {
	added, err := g.Store.AddLike(ctx, s.identity.UserID, postID)
	if err != nil {
		return storeError(err)
	}
	if !added {
		return ErrAlreadyLiked
	}
	return g.Bus.PublishLike(ctx, s.identity, postID)
}

func (g *Gateway) unlike(ctx context.Context, s *session, postID string) error {
	removed, err := g.Store.RemoveLike(ctx, s.identity.UserID, postID)
	if err != nil {
		return storeError(err)
	}
	if !removed {
		return ErrNotLiked
	}
	return g.Bus.PublishUnlike(ctx, s.identity, postID)
}

// announce fans out a post its author just created to every other connection.
func (g *Gateway) announce(ctx context.Context, s *session, postID string) error {
	post, err := g.Store.FindPost(ctx, postID)
	if err != nil {
		return storeError(err)
	}
	if post.AuthorID != s.identity.UserID {
		return events.NewProtocolError(events.PostNew, events.ErrForbidden, ErrNotPostAuthor.Error())
	}
	return g.Bus.PublishNewPost(ctx, s.identity, *post, s.client.ID())
}

func (g *Gateway) joinRoom(s *session, roomID string) error {
	if rooms.IsReserved(roomID) {
		return events.NewProtocolError(events.RoomJoin, events.ErrForbidden, rooms.ErrReservedRoom.Error())
	}
	if g.Rooms.Join(roomID, s.client) {
		g.notifyRoom(roomID, events.UserJoined, s)
		g.Metrics.SetRooms(g.Rooms.Len())
	}
	return nil
}

// leaveRoom is a no-op for rooms the session never joined.
func (g *Gateway) leaveRoom(s *session, roomID string) error {
	if rooms.IsReserved(roomID) {
		return events.NewProtocolError(events.RoomLeave, events.ErrForbidden, rooms.ErrReservedRoom.Error())
	}
	if g.Rooms.Leave(roomID, s.client) {
		g.notifyRoom(roomID, events.UserLeft, s)
		g.Metrics.SetRooms(g.Rooms.Len())
	}
	return nil
}

// notifyRoom tells the other members of roomID about s.
func (g *Gateway) notifyRoom(roomID, event string, s *session) {
	member := events.RoomMember{RoomID: roomID, UserID: s.identity.UserID, Username: s.identity.Username}
	for _, h := range g.Rooms.MembersOf(roomID) {
		if h.ID() == s.client.ID() {
			continue
		}
		if err := g.send(h, event, member); err != nil {
			s.logger.Debug("Room notification dropped", "room_id", roomID, "conn_id", h.ID(), "error", err)
		}
	}
}

func storeError(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return ErrPostNotFound
	}
	return err
}

// clientErrors are reported to the client by their own text, without the
// causes they wrap.
var clientErrors = []error{
	messaging.ErrReceiverNotFound,
	messaging.ErrPersistenceFailed,
	messaging.ErrMissingIdentity,
	ErrPostNotFound,
	ErrAlreadyLiked,
	ErrNotLiked,
}

// clientMessage is the text of the error frame for err. Unexpected errors are
// not echoed to the client.
func clientMessage(err error) string {
	var perr *events.ProtocolError
	if errors.As(err, &perr) {
		return perr.Error()
	}
	if errors.Is(err, domain.ErrInvalidMessage) {
		return err.Error()
	}
	for _, known := range clientErrors {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "internal error"
}

// outcome labels a failed inbound event for metrics.
func outcome(err error) string {
	if clientMessage(err) == "internal error" || errors.Is(err, messaging.ErrPersistenceFailed) {
		return "error"
	}
	return "rejected"
}
