// Package messaging persists direct messages and routes them, and their read
// receipts, to whichever connection currently owns the recipient.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nfrund/pulse/internal/domain"
	"github.com/nfrund/pulse/internal/events"
	"github.com/nfrund/pulse/internal/metrics"
	"github.com/nfrund/pulse/internal/presence"
)

// Router errors. They are reported to the originating connection only.
var (
	ErrMissingIdentity   = errors.New("missing identity")
	ErrReceiverNotFound  = errors.New("receiver not found")
	ErrPersistenceFailed = errors.New("message could not be saved")
)

// Store is the subset of persistence the router needs.
type Store interface {
	domain.UserRepository
	domain.MessageRepository
}

// Directory resolves a user to its canonical connection.
type Directory interface {
	Lookup(userID string) (presence.Handle, bool)
}

// SendRequest is a message as submitted by its sender.
type SendRequest struct {
	ReceiverID string
	Content    string
	Kind       domain.MessageKind
	FileURL    string
}

// Receipt is the result of MarkRead. Updated is false when no message
// addressed to the reader matched; that is not an error.
type Receipt struct {
	MessageID string `json:"messageId"`
	ReadBy    string `json:"readBy"`
	Updated   bool   `json:"updated"`
}

// Router sends direct messages and read receipts.
type Router struct {
	store   Store
	dir     Directory
	metrics *metrics.Collector
	pairs   *keyedMutex
	logger  *slog.Logger
}

// Option is a function that configures a Router.
type Option func(*Router)

// WithMetrics records store latency and delivery outcomes on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Router) {
		r.metrics = c
	}
}

// NewRouter creates a router over store that delivers through dir.
func NewRouter(store Store, dir Directory, opts ...Option) *Router {
	r := &Router{
		store:  store,
		dir:    dir,
		pairs:  newKeyedMutex(),
		logger: slog.Default().With("service", "messaging"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Send persists a message from sender and delivers it to the receiver if the
// receiver is online. Delivery is best effort: once the message is stored,
// a failed delivery is logged and the message stays unread. The sender's own
// connection, from, always receives a message:sent echo. from may be nil.
//
// Sends for the same sender and receiver are serialized from persistence
// through delivery, so the receiver sees them in the order they were stored.
func (r *Router) Send(ctx context.Context, sender domain.Identity, from presence.Handle, req SendRequest) (*domain.Message, error) {
	if sender.IsZero() {
		return nil, ErrMissingIdentity
	}

	msg := &domain.Message{
		SenderID:   sender.UserID,
		ReceiverID: req.ReceiverID,
		Content:    req.Content,
		Kind:       req.Kind,
		FileURL:    req.FileURL,
	}
	if msg.Kind == "" {
		msg.Kind = domain.KindText
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	_, err := r.store.LookupActiveUser(ctx, req.ReceiverID)
	r.metrics.ObserveStore("lookup_active_user", start, err)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrReceiverNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup receiver %s: %w", req.ReceiverID, err)
	}

	unlock := r.pairs.Lock(sender.UserID + "\x00" + req.ReceiverID)
	defer unlock()

	start = time.Now()
	saved, err := r.store.PersistMessage(ctx, msg)
	r.metrics.ObserveStore("persist_message", start, err)
	if err != nil {
		r.logger.Error("Failed to persist message",
			"sender_id", sender.UserID,
			"receiver_id", req.ReceiverID,
			"error", err)
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	r.deliver(saved.ReceiverID, events.MessageReceive, saved)

	if from != nil {
		if err := r.enqueue(from, events.MessageSent, saved); err != nil {
			r.logger.Warn("Failed to echo sent message", "conn_id", from.ID(), "message_id", saved.ID, "error", err)
		}
	}
	return saved, nil
}

// MarkRead marks messageID as read by reader. Only messages addressed to the
// reader are affected; anything else yields a receipt with Updated false.
// When a message was updated and its sender is online, the sender gets a
// message:read event.
func (r *Router) MarkRead(ctx context.Context, reader domain.Identity, messageID string) (Receipt, error) {
	if reader.IsZero() {
		return Receipt{}, ErrMissingIdentity
	}
	receipt := Receipt{MessageID: messageID, ReadBy: reader.UserID}

	start := time.Now()
	msg, updated, err := r.store.MarkMessageRead(ctx, messageID, reader.UserID)
	r.metrics.ObserveStore("mark_message_read", start, err)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	if !updated || msg == nil {
		r.logger.Debug("Mark read matched no message", "message_id", messageID, "reader_id", reader.UserID)
		return receipt, nil
	}
	receipt.Updated = true

	r.deliver(msg.SenderID, events.MessageRead, events.ReadReceipt{
		MessageID: msg.ID,
		ReadBy:    reader.UserID,
	})
	return receipt, nil
}

// deliver sends one event to userID's canonical connection, if any.
func (r *Router) deliver(userID, event string, data any) {
	h, ok := r.dir.Lookup(userID)
	if !ok {
		r.metrics.Delivery(event, "offline")
		return
	}
	if err := r.enqueue(h, event, data); err != nil {
		r.metrics.Delivery(event, "failed")
		r.logger.Warn("Best-effort delivery failed",
			"event", event,
			"user_id", userID,
			"conn_id", h.ID(),
			"error", err)
		return
	}
	r.metrics.Delivery(event, "delivered")
}

func (r *Router) enqueue(h presence.Handle, event string, data any) error {
	frame, err := events.Encode(event, data)
	if err != nil {
		return err
	}
	return h.Enqueue(frame)
}
