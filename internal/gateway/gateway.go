// Package gateway is the real-time entry point. It upgrades HTTP requests to
// websockets, authenticates them, keeps presence and room state in step with
// each connection's lifetime and dispatches inbound events.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"

	"github.com/nfrund/pulse/internal/domain"
	"github.com/nfrund/pulse/internal/engagement"
	"github.com/nfrund/pulse/internal/events"
	"github.com/nfrund/pulse/internal/hub"
	"github.com/nfrund/pulse/internal/messaging"
	"github.com/nfrund/pulse/internal/metrics"
	"github.com/nfrund/pulse/internal/presence"
	"github.com/nfrund/pulse/internal/pubsub"
	"github.com/nfrund/pulse/internal/rooms"
	ws "github.com/nfrund/pulse/internal/websocket"
)

// Verifier resolves a bearer credential to an identity.
type Verifier interface {
	Verify(ctx context.Context, credential string) (domain.Identity, error)
}

// Store is the persistence the gateway itself calls. Messages go through the router.
type Store interface {
	domain.UserRepository
	domain.EngagementRepository
}

// Deps are the collaborators of a Gateway. Metrics is optional.
type Deps struct {
	Verifier   Verifier
	Store      Store
	Registry   *presence.Registry
	Rooms      *rooms.Tracker
	Hub        *hub.Hub
	Router     *messaging.Router
	Bus        *engagement.Bus
	Subscriber pubsub.Subscriber
	Metrics    *metrics.Collector
}

func (d Deps) validate() error {
	switch {
	case d.Verifier == nil:
		return errors.New("gateway: verifier is required")
	case d.Store == nil:
		return errors.New("gateway: store is required")
	case d.Registry == nil, d.Rooms == nil, d.Hub == nil:
		return errors.New("gateway: registry, rooms and hub are required")
	case d.Router == nil, d.Bus == nil:
		return errors.New("gateway: router and bus are required")
	case d.Subscriber == nil:
		return errors.New("gateway: subscriber is required")
	}
	return nil
}

// Options tune connection handling.
type Options struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	SendQueueSize    int
	ReadLimit        int64
	// EventsPerSecond limits inbound events per connection. Zero disables the limit.
	EventsPerSecond float64
	EventBurst      int
	// CloseSuperseded closes the older connection when a user connects again.
	CloseSuperseded bool
	AllowedOrigins  []string
}

const defaultHandshakeTimeout = 10 * time.Second

// Gateway owns every live websocket connection of the process.
type Gateway struct {
	Deps
	opts Options

	// ctx is cancelled by Shutdown and bounds every connection's reads.
	ctx      context.Context
	cancel   context.CancelFunc
	// mu orders sessions.Add against Shutdown's sessions.Wait.
	mu       sync.Mutex
	closing  bool
	sessions sync.WaitGroup

	logger *slog.Logger
}

// New creates a gateway. Call Start before serving connections.
func New(deps Deps, opts Options) (*Gateway, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.EventBurst <= 0 {
		opts.EventBurst = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		Deps:   deps,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		logger: slog.Default().With("service", "gateway"),
	}, nil
}

// Start wires presence changes to user:online and user:offline broadcasts and
// starts the engagement relay. Subscriptions end when ctx is cancelled.
func (g *Gateway) Start(ctx context.Context) error {
	if err := presence.TopicUserOnline.Subscribe(ctx, g.Subscriber, g.relayPresence(events.UserOnline)); err != nil {
		return fmt.Errorf("subscribe %s: %w", presence.TopicUserOnline.Name(), err)
	}
	if err := presence.TopicUserOffline.Subscribe(ctx, g.Subscriber, g.relayPresence(events.UserOffline)); err != nil {
		return fmt.Errorf("subscribe %s: %w", presence.TopicUserOffline.Name(), err)
	}
	if err := g.Bus.Start(ctx); err != nil {
		return err
	}
	g.logger.Info("Gateway started")
	return nil
}

// relayPresence broadcasts a presence change to every connection except the
// one that caused it.
func (g *Gateway) relayPresence(event string) func(context.Context, presence.Event, pubsub.Message) error {
	return func(_ context.Context, ev presence.Event, msg pubsub.Message) error {
		frame, err := events.Encode(event, events.Presence{
			UserID:    ev.UserID,
			Username:  ev.Username,
			AvatarURL: ev.AvatarURL,
		})
		if err != nil {
			return err
		}
		n := g.Hub.Broadcast(frame, msg.Metadata[presence.MetaConnID])
		g.logger.Debug("Presence change broadcast", "event", event, "user_id", ev.UserID, "recipients", n)
		return nil
	}
}

// Handler returns an echo.HandlerFunc that upgrades the request to a websocket.
func (g *Gateway) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		g.ServeHTTP(c.Response(), c.Request())
		return nil
	}
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !g.track() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer g.sessions.Done()

	conn, err := ws.Upgrade(w, r, g.opts.AllowedOrigins)
	if err != nil {
		// Accept has already written the HTTP error.
		g.logger.Warn("WebSocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	client := ws.NewClient(conn, ws.Options{
		SendQueueSize: g.opts.SendQueueSize,
		WriteTimeout:  g.opts.WriteTimeout,
		ReadLimit:     g.opts.ReadLimit,
		PingInterval:  g.opts.PingInterval,
		OnDrop:        g.Metrics.SlowConsumerDropped,
	})

	g.serve(r, client)
}

// track counts a new session unless shutdown has begun.
func (g *Gateway) track() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closing {
		return false
	}
	g.sessions.Add(1)
	return true
}

// Shutdown stops accepting connections, closes the live ones with a going
// away status and waits for their cleanup until ctx expires. Close handshakes
// run concurrently; whatever is still open when ctx expires is torn down
// without one.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closing = true
	g.mu.Unlock()
	defer g.cancel()

	var clients []*ws.Client
	var closers sync.WaitGroup
	for _, h := range g.Hub.Snapshot() {
		if c, ok := h.(*ws.Client); ok {
			clients = append(clients, c)
			closers.Add(1)
			go func() {
				defer closers.Done()
				c.Close(websocket.StatusGoingAway, "server shutting down")
			}()
		}
	}
	g.logger.Info("Gateway shutting down", "connections", len(clients))

	// Reads stay open until the close frames are out, so a cancelled read
	// cannot beat the going away status to the socket.
	if err := waitCtx(ctx, closers.Wait); err != nil {
		return g.abort(clients, err)
	}
	g.cancel()
	if err := waitCtx(ctx, g.sessions.Wait); err != nil {
		return g.abort(clients, err)
	}
	return nil
}

func (g *Gateway) abort(clients []*ws.Client, err error) error {
	g.logger.Warn("Gateway shutdown deadline reached, dropping connections", "connections", len(clients))
	for _, c := range clients {
		c.CloseNow()
	}
	return fmt.Errorf("gateway shutdown: %w", err)
}

// waitCtx runs wait in the background and returns ctx.Err() if ctx ends first.
func waitCtx(ctx context.Context, wait func()) error {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
