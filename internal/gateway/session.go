package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/nfrund/pulse/internal/auth"
	"github.com/nfrund/pulse/internal/domain"
	"github.com/nfrund/pulse/internal/events"
	"github.com/nfrund/pulse/internal/rooms"
	ws "github.com/nfrund/pulse/internal/websocket"
)

// session is one authenticated connection in the Active state.
type session struct {
	client   *ws.Client
	identity domain.Identity
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// handshakeFailure carries what the client is told when authentication fails.
type handshakeFailure struct {
	result  string
	message string
	code    websocket.StatusCode
	err     error
}

func (f *handshakeFailure) Error() string { return f.result + ": " + f.err.Error() }
func (f *handshakeFailure) Unwrap() error { return f.err }

func refuse(result, message string, err error) *handshakeFailure {
	return &handshakeFailure{result: result, message: message, code: websocket.StatusPolicyViolation, err: err}
}

// serve drives one connection through Connecting, Active and Closed.
func (g *Gateway) serve(r *http.Request, client *ws.Client) {
	identity, err := g.handshake(r, client)
	if err != nil {
		var f *handshakeFailure
		if !errors.As(err, &f) {
			f = &handshakeFailure{result: "error", message: "authentication unavailable", code: websocket.StatusInternalError, err: err}
		}
		g.Metrics.Handshake(f.result)
		g.logger.Info("Handshake rejected", "conn_id", client.ID(), "result", f.result, "error", f.err)

		// Best effort; the peer may already be gone.
		_ = client.WriteNow(g.ctx, events.ErrorFrame(f.message))
		client.Close(f.code, f.message)
		return
	}
	g.Metrics.Handshake("ok")

	s := g.activate(client, identity)
	defer g.teardown(s)
	g.readLoop(s)
}

// handshake obtains and verifies the credential. The whole exchange, including
// waiting for an auth frame, is bounded by the handshake timeout.
func (g *Gateway) handshake(r *http.Request, client *ws.Client) (domain.Identity, error) {
	ctx, cancel := context.WithTimeout(g.ctx, g.opts.HandshakeTimeout)
	defer cancel()

	credential := credentialFromRequest(r)
	if credential == "" {
		raw, err := client.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return domain.Identity{}, refuse("timeout", "authentication timed out", err)
			}
			return domain.Identity{}, &handshakeFailure{result: "closed", message: "connection closed", code: websocket.StatusNormalClosure, err: err}
		}
		ev, err := events.Decode(raw)
		if err != nil {
			return domain.Identity{}, refuse("malformed", "authentication required", err)
		}
		a, ok := ev.(events.Authenticate)
		if !ok {
			err := events.NewProtocolError(ev.EventName(), events.ErrForbidden, "authenticate first")
			return domain.Identity{}, refuse("unauthenticated_event", "authentication required", err)
		}
		credential = a.Token
	}

	identity, err := g.Verifier.Verify(ctx, credential)
	if err == nil {
		return identity, nil
	}

	var authErr *auth.Error
	switch {
	case errors.Is(err, auth.ErrMissingCredential):
		return domain.Identity{}, refuse("missing_credential", "authentication required", err)
	case errors.Is(err, auth.ErrUnknownOrInactiveUser):
		return domain.Identity{}, refuse("unknown_user", "authentication failed", err)
	case errors.As(err, &authErr):
		return domain.Identity{}, refuse("invalid_credential", "authentication failed", err)
	case ctx.Err() != nil:
		return domain.Identity{}, refuse("timeout", "authentication timed out", err)
	}
	return domain.Identity{}, err
}

// credentialFromRequest reads the Authorization header, then the token query parameter.
func credentialFromRequest(r *http.Request) string {
	if h := r.Header.Get(echo.HeaderAuthorization); strings.TrimSpace(h) != "" {
		return h
	}
	return r.URL.Query().Get("token")
}

// activate moves an authenticated connection to Active: it becomes visible to
// broadcasts and to the registry, joins its personal room and receives the
// online snapshot before its writer starts.
func (g *Gateway) activate(client *ws.Client, identity domain.Identity) *session {
	client.SetUser(identity.UserID)

	s := &session{
		client:   client,
		identity: identity,
		limiter:  rate.NewLimiter(rate.Inf, 0),
		logger:   g.logger.With("conn_id", client.ID(), "user_id", identity.UserID),
	}
	if g.opts.EventsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(g.opts.EventsPerSecond), g.opts.EventBurst)
	}

	g.Hub.Add(client)
	g.Metrics.ConnectionOpened()

	if old := g.Registry.Register(identity, client); old != nil && g.opts.CloseSuperseded {
		if c, ok := old.(*ws.Client); ok {
			s.logger.Info("Closing superseded connection", "old_conn", old.ID())
			c.Close(websocket.StatusPolicyViolation, "superseded by a newer connection")
		}
	}

	g.Rooms.Join(rooms.PersonalRoom(identity.UserID), client)
	g.Metrics.SetRooms(g.Rooms.Len())

	if err := g.send(client, events.UsersOnline, g.Registry.OnlineUserIDs()); err != nil {
		s.logger.Warn("Failed to queue online snapshot", "error", err)
	}
	client.Start()

	s.logger.Info("Connection active")
	return s
}

// readLoop dispatches inbound events until the socket fails or is closed.
func (g *Gateway) readLoop(s *session) {
	for {
		raw, err := s.client.Read(g.ctx)
		if err != nil {
			if ws.IsNormalClosure(err) || g.ctx.Err() != nil {
				s.logger.Debug("Connection closed", "error", err)
			} else {
				s.logger.Info("Connection read failed", "error", err)
			}
			return
		}

		if !s.limiter.Allow() {
			g.Metrics.InboundEvent("", "rate_limited")
			g.reject(s, events.NewProtocolError("", events.ErrRateLimited, ""))
			continue
		}

		ev, err := events.Decode(raw)
		if err != nil {
			g.Metrics.InboundEvent("", "rejected")
			g.reject(s, err)
			continue
		}

		if err := g.dispatch(g.ctx, s, ev); err != nil {
			g.Metrics.InboundEvent(ev.EventName(), outcome(err))
			g.reject(s, err)
			continue
		}
		g.Metrics.InboundEvent(ev.EventName(), "ok")
	}
}

// teardown moves a session to Closed. Deregistration comes first so nothing
// routes to the connection while the rest is cleaned up.
func (g *Gateway) teardown(s *session) {
	g.Registry.Deregister(s.client)

	for _, roomID := range g.Rooms.LeaveAll(s.client) {
		if rooms.IsReserved(roomID) {
			continue
		}
		g.notifyRoom(roomID, events.UserLeft, s)
	}
	g.Metrics.SetRooms(g.Rooms.Len())

	g.Hub.Remove(s.client)
	s.client.Close(websocket.StatusNormalClosure, "")
	g.Metrics.ConnectionClosed()

	s.logger.Info("Connection closed")
}

// reject reports err to the session's own connection as an error frame.
func (g *Gateway) reject(s *session, err error) {
	s.logger.Debug("Inbound event rejected", "error", err)
	if qerr := s.client.Enqueue(events.ErrorFrame(clientMessage(err))); qerr != nil {
		s.logger.Debug("Failed to queue error frame", "error", qerr)
	}
}

func (g *Gateway) send(h interface{ Enqueue([]byte) error }, event string, data any) error {
	frame, err := events.Encode(event, data)
	if err != nil {
		return err
	}
	return h.Enqueue(frame)
}
