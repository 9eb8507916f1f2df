package websocket

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Transport errors returned by Enqueue.
var (
	ErrClosed    = errors.New("connection closed")
	ErrQueueFull = errors.New("send queue full")
)

// Default transport settings.
const (
	DefaultSendQueueSize = 256
	DefaultWriteTimeout  = 10 * time.Second
	DefaultReadLimit     = 64 * 1024
)

// Options configures a Client.
type Options struct {
	SendQueueSize int
	WriteTimeout  time.Duration
	ReadLimit     int64
	// PingInterval enables keepalive pings when positive.
	PingInterval time.Duration
	// OnDrop is called when the client is dropped because its queue is full.
	OnDrop func()
}

func (o Options) withDefaults() Options {
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = DefaultSendQueueSize
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = DefaultReadLimit
	}
	return o
}

// Client represents a single connected WebSocket client. Outbound frames go
// through a bounded queue drained by one writer goroutine; Enqueue never blocks.
type Client struct {
	id   string
	conn *websocket.Conn
	opts Options

	send chan []byte
	done chan struct{}

	mu      sync.RWMutex
	closed  bool
	started bool

	logger *slog.Logger
}

// NewClient wraps an accepted connection and assigns it a process-unique id.
func NewClient(conn *websocket.Conn, opts Options) *Client {
	opts = opts.withDefaults()
	conn.SetReadLimit(opts.ReadLimit)

	id := uuid.NewString()
	return &Client{
		id:     id,
		conn:   conn,
		opts:   opts,
		send:   make(chan []byte, opts.SendQueueSize),
		done:   make(chan struct{}),
		logger: slog.Default().With("conn_id", id),
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// SetUser tags the client's log lines with the authenticated user.
func (c *Client) SetUser(userID string) {
	c.logger = c.logger.With("user_id", userID)
}

// Start launches the writer goroutine. Frames enqueued before Start are
// buffered and written once it runs.
func (c *Client) Start() {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	go c.writePump()
	if c.opts.PingInterval > 0 {
		go c.pingLoop()
	}
}

// Enqueue queues a frame for the writer. When the queue is full the frame is
// dropped and the connection is closed as a slow consumer.
func (c *Client) Enqueue(frame []byte) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrClosed
	}
	select {
	case c.send <- frame:
		c.mu.RUnlock()
		return nil
	default:
	}
	c.mu.RUnlock()

	c.logger.Warn("Client send queue full, dropping slow consumer", "queue_size", cap(c.send))
	if c.opts.OnDrop != nil {
		c.opts.OnDrop()
	}
	go c.Close(websocket.StatusPolicyViolation, "slow consumer")
	return ErrQueueFull
}

// WriteNow writes a frame synchronously. It is only safe before Start, while
// the handshake owns the connection.
func (c *Client) WriteNow(ctx context.Context, frame []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, frame)
}

// Read blocks for the next inbound frame.
func (c *Client) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

// Close stops the writer and closes the socket with the given status. The
// close handshake waits for the peer, so it can take several seconds.
// Only the first call has an effect.
func (c *Client) Close(code websocket.StatusCode, reason string) {
	if !c.markClosed() {
		return
	}
	if err := c.conn.Close(code, reason); err != nil {
		c.logger.Debug("WebSocket close returned error", "error", err)
	}
}

// CloseNow tears the socket down without a close handshake. It also cuts
// short a Close that is still waiting for the peer.
func (c *Client) CloseNow() {
	c.markClosed()
	if err := c.conn.CloseNow(); err != nil {
		c.logger.Debug("WebSocket close returned error", "error", err)
	}
}

// markClosed stops the writer. It reports false if the client was already closed.
func (c *Client) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.done)
	return true
}

// Done is closed once Close has been called.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// writePump pumps messages from the client's send queue to the WebSocket connection.
func (c *Client) writePump() {
	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			ctx, cancel := context.WithTimeout(context.Background(), c.opts.WriteTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.logger.Warn("WebSocket write error", "error", err)
				c.Close(websocket.StatusGoingAway, "write failed")
				return
			}
		}
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.opts.WriteTimeout)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				c.logger.Info("WebSocket ping failed", "error", err)
				c.Close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}

// IsNormalClosure reports whether err from Read is an orderly close by the peer.
func IsNormalClosure(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
