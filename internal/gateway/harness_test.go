package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/pulse/internal/auth"
	"github.com/nfrund/pulse/internal/engagement"
	"github.com/nfrund/pulse/internal/events"
	"github.com/nfrund/pulse/internal/hub"
	"github.com/nfrund/pulse/internal/messaging"
	"github.com/nfrund/pulse/internal/presence"
	"github.com/nfrund/pulse/internal/pubsub"
	"github.com/nfrund/pulse/internal/rooms"
	"github.com/nfrund/pulse/internal/testutils"
)

const waitFor = 2 * time.Second

type harness struct {
	t        *testing.T
	store    *testutils.MemoryStore
	registry *presence.Registry
	rooms    *rooms.Tracker
	hub      *hub.Hub
	gw       *Gateway
	url      string
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()

	store := testutils.NewMemoryStore()
	bridge := pubsub.NewWatermillBridge()
	registry := presence.NewRegistry(bridge)
	tracker := rooms.NewTracker()
	h := hub.NewHub()

	verifier, err := auth.NewVerifier(auth.Options{Secret: []byte(testutils.TestSecret)}, store)
	require.NoError(t, err)

	gw, err := New(Deps{
		Verifier:   verifier,
		Store:      store,
		Registry:   registry,
		Rooms:      tracker,
		Hub:        h,
		Router:     messaging.NewRouter(store, registry),
		Bus:        engagement.NewBus(bridge, bridge, h),
		Subscriber: bridge,
	}, opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, gw.Start(ctx))

	e := echo.New()
	e.GET("/ws", gw.Handler())
	srv := httptest.NewServer(e)

	t.Cleanup(func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), waitFor)
		defer done()
		_ = gw.Shutdown(shutdownCtx)
		srv.Close()
		cancel()
		_ = bridge.Close()
	})

	return &harness{
		t:        t,
		store:    store,
		registry: registry,
		rooms:    tracker,
		hub:      h,
		gw:       gw,
		url:      "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

// peer is a test client that records every frame it receives.
type peer struct {
	t      *testing.T
	conn   *websocket.Conn
	mu     sync.Mutex
	frames []events.Frame
	err    error
	done   chan struct{}
}

// connect dials with a bearer token for userID and waits for the online snapshot.
func (h *harness) connect(userID string) *peer {
	h.t.Helper()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+testutils.Token(h.t, userID))
	p := h.dial(header)
	p.waitFor(events.UsersOnline, 1)
	return p
}

func (h *harness) dial(header http.Header) *peer {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, h.url, &websocket.DialOptions{HTTPHeader: header})
	require.NoError(h.t, err)

	p := &peer{t: h.t, conn: conn, done: make(chan struct{})}
	go p.readLoop()
	h.t.Cleanup(func() { conn.CloseNow() })
	return p
}

func (p *peer) readLoop() {
	defer close(p.done)
	for {
		_, data, err := p.conn.Read(context.Background())
		if err != nil {
			p.mu.Lock()
			p.err = err
			p.mu.Unlock()
			return
		}
		var f events.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		p.mu.Lock()
		p.frames = append(p.frames, f)
		p.mu.Unlock()
	}
}

func (p *peer) send(event string, data any) {
	p.t.Helper()
	frame, err := events.Encode(event, data)
	require.NoError(p.t, err)
	p.sendRaw(frame)
}

func (p *peer) sendRaw(frame []byte) {
	p.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(p.t, p.conn.Write(ctx, websocket.MessageText, frame))
}

func (p *peer) close() {
	_ = p.conn.Close(websocket.StatusNormalClosure, "bye")
}

func (p *peer) count(event string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, f := range p.frames {
		if f.Event == event {
			n++
		}
	}
	return n
}

// all returns the received frames of event in arrival order.
func (p *peer) all(event string) []events.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Frame
	for _, f := range p.frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

// waitFor blocks until at least n frames of event arrived and returns the nth.
func (p *peer) waitFor(event string, n int) events.Frame {
	p.t.Helper()
	require.Eventually(p.t, func() bool { return p.count(event) >= n }, waitFor, 5*time.Millisecond,
		"waiting for %d %q frame(s)", n, event)
	return p.all(event)[n-1]
}

// waitError waits for the nth error frame and returns its message.
func (p *peer) waitError(n int) string {
	p.t.Helper()
	var data events.ErrorData
	require.NoError(p.t, json.Unmarshal(p.waitFor(events.Error, n).Data, &data))
	return data.Message
}

// waitClosed waits for the server to close the connection and returns the close status.
func (p *peer) waitClosed() websocket.StatusCode {
	p.t.Helper()
	select {
	case <-p.done:
	case <-time.After(waitFor):
		p.t.Fatal("connection was not closed")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return websocket.CloseStatus(p.err)
}

func decode[T any](t *testing.T, f events.Frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Data, &v))
	return v
}
