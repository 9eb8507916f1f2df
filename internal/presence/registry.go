package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nfrund/pulse/internal/domain"
	"github.com/nfrund/pulse/internal/pubsub"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Handle is a live connection as seen by the registry. The transport owns it;
// the registry only keeps a reference.
type Handle interface {
	ID() string
	Enqueue(frame []byte) error
}

// Event is published on the presence topics.
type Event struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Entry is the canonical presence of one user.
type Entry struct {
	Identity domain.Identity
	Handle   Handle
	Since    time.Time
}

// Registry maps every online user to exactly one canonical connection and
// back. A newer connection for the same user replaces the older one.
type Registry struct {
	mu       sync.RWMutex
	byUser   map[string]Entry  // userID -> canonical entry
	byHandle map[string]string // handleID -> userID

	// notifyMu orders publications so subscribers see presence changes in the
	// order they were applied. Lookups never take it.
	notifyMu  sync.Mutex
	publisher pubsub.Publisher
	logger    *slog.Logger
	observer  func(online int)
}

// Option is a function that configures a Registry.
type Option func(*Registry)

// WithObserver registers a callback that receives the online user count after every change.
func WithObserver(fn func(online int)) Option {
	return func(r *Registry) {
		r.observer = fn
	}
}

// Now returns the current time in UTC
func Now() time.Time {
	return time.Now().UTC()
}

// NewRegistry creates an empty registry that publishes presence changes to publisher.
func NewRegistry(publisher pubsub.Publisher, opts ...Option) *Registry {
	r := &Registry{
		byUser:    make(map[string]Entry),
		byHandle:  make(map[string]string),
		publisher: publisher,
		logger:    slog.Default().With("service", "presence"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register installs h as the canonical connection for identity.UserID and
// announces the user as online. It returns the handle it superseded, if any.
// The superseded connection is left open; closing it is the caller's decision.
func (r *Registry) Register(identity domain.Identity, h Handle) Handle {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	var superseded Handle
	if prev, ok := r.byUser[identity.UserID]; ok && prev.Handle.ID() != h.ID() {
		superseded = prev.Handle
		delete(r.byHandle, prev.Handle.ID())
	}
	r.byUser[identity.UserID] = Entry{Identity: identity, Handle: h, Since: Now()}
	r.byHandle[h.ID()] = identity.UserID
	online := len(r.byUser)
	r.mu.Unlock()

	if superseded != nil {
		r.logger.Info("Connection superseded",
			"user_id", identity.UserID,
			"old_conn", superseded.ID(),
			"new_conn", h.ID())
	} else {
		r.logger.Info("User came online", "user_id", identity.UserID, "conn_id", h.ID())
	}

	r.observe(online)
	r.publish(TopicUserOnline, identity, StatusOnline, h.ID())
	return superseded
}

// Lookup returns the canonical connection of userID.
func (r *Registry) Lookup(userID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byUser[userID]
	if !ok {
		return nil, false
	}
	return e.Handle, true
}

// Get returns the full presence entry of userID.
func (r *Registry) Get(userID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byUser[userID]
	return e, ok
}

// Deregister removes h only while it is still the canonical connection of its
// user, then announces the user as offline. A handle that was superseded, or
// never registered, leaves the registry untouched and returns false.
func (r *Registry) Deregister(h Handle) bool {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	userID, ok := r.byHandle[h.ID()]
	if !ok {
		r.mu.Unlock()
		return false
	}
	e := r.byUser[userID]
	if e.Handle.ID() != h.ID() {
		// Only reachable if the maps disagree; keep the newer mapping.
		delete(r.byHandle, h.ID())
		r.mu.Unlock()
		return false
	}
	delete(r.byUser, userID)
	delete(r.byHandle, h.ID())
	online := len(r.byUser)
	r.mu.Unlock()

	r.logger.Info("User went offline", "user_id", userID, "conn_id", h.ID())
	r.observe(online)
	r.publish(TopicUserOffline, e.Identity, StatusOffline, h.ID())
	return true
}

// OnlineUserIDs returns a sorted snapshot of the users that are currently online.
func (r *Registry) OnlineUserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.onlineUserIDsUnsafe()
}

// onlineUserIDsUnsafe returns online users without acquiring lock (internal use)
func (r *Registry) onlineUserIDsUnsafe() []string {
	result := make([]string, 0, len(r.byUser))
	for userID := range r.byUser {
		result = append(result, userID)
	}
	sort.Strings(result)
	return result
}

// Len returns the number of online users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

func (r *Registry) observe(online int) {
	if r.observer != nil {
		r.observer(online)
	}
}

// publish must be called with notifyMu held and mu released.
func (r *Registry) publish(topic pubsub.Topic[Event], identity domain.Identity, status Status, connID string) {
	event := Event{
		UserID:    identity.UserID,
		Username:  identity.Username,
		AvatarURL: identity.AvatarURL,
		Status:    status,
		Timestamp: Now(),
	}
	meta := map[string]string{MetaConnID: connID}
	if err := topic.Publish(context.Background(), r.publisher, identity.UserID, event, meta); err != nil {
		r.logger.Error("Failed to publish presence update",
			"error", err,
			"topic", topic.Name(),
			"user_id", identity.UserID)
	}
}
