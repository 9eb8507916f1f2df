// Package engagement fans feed activity (likes and new posts) out to every
// connected client. Events travel over the in-process bus so publishers never
// touch connections directly.
package engagement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/nfrund/pulse/internal/domain"
	"github.com/nfrund/pulse/internal/events"
	"github.com/nfrund/pulse/internal/pubsub"
)

var (
	TopicPostLiked   = pubsub.NewTopic[events.Like]("engagement.post.liked")
	TopicPostUnliked = pubsub.NewTopic[events.Like]("engagement.post.unliked")
	TopicPostNew     = pubsub.NewTopic[domain.Post]("engagement.post.new")
)

// MetaExceptConn names a connection that must not receive the broadcast.
const MetaExceptConn = "except_conn"

var ErrNotStarted = errors.New("engagement bus not started")

// Broadcaster delivers a frame to every live connection except the listed ids.
type Broadcaster interface {
	Broadcast(frame []byte, except ...string) int
}

// Bus publishes engagement events and, once started, relays them to a Broadcaster.
type Bus struct {
	pub     pubsub.Publisher
	sub     pubsub.Subscriber
	out     Broadcaster
	started atomic.Bool
	logger  *slog.Logger
}

func NewBus(pub pubsub.Publisher, sub pubsub.Subscriber, out Broadcaster) *Bus {
	return &Bus{
		pub:    pub,
		sub:    sub,
		out:    out,
		logger: slog.Default().With("service", "engagement"),
	}
}

// Start subscribes the relay. Subscriptions end when ctx is cancelled.
func (b *Bus) Start(ctx context.Context) error {
	if err := TopicPostLiked.Subscribe(ctx, b.sub, b.relay(events.PostLiked)); err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicPostLiked.Name(), err)
	}
	if err := TopicPostUnliked.Subscribe(ctx, b.sub, b.relay(events.PostUnliked)); err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicPostUnliked.Name(), err)
	}
	err := TopicPostNew.Subscribe(ctx, b.sub, func(ctx context.Context, post domain.Post, msg pubsub.Message) error {
		return b.broadcast(events.PostNew, post, msg.Metadata[MetaExceptConn])
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicPostNew.Name(), err)
	}
	b.started.Store(true)
	return nil
}

// PublishLike announces that actor liked postID. The actor's own connection
// receives the event too.
func (b *Bus) PublishLike(ctx context.Context, actor domain.Identity, postID string) error {
	return b.publishLike(ctx, TopicPostLiked, actor, postID)
}

// PublishUnlike announces that actor removed a like from postID.
func (b *Bus) PublishUnlike(ctx context.Context, actor domain.Identity, postID string) error {
	return b.publishLike(ctx, TopicPostUnliked, actor, postID)
}

// PublishNewPost announces post to everyone except the connection exceptConnID,
// which is normally the author's.
func (b *Bus) PublishNewPost(ctx context.Context, actor domain.Identity, post domain.Post, exceptConnID string) error {
	if !b.started.Load() {
		return ErrNotStarted
	}
	meta := map[string]string{MetaExceptConn: exceptConnID}
	if err := TopicPostNew.Publish(ctx, b.pub, actor.UserID, post, meta); err != nil {
		return fmt.Errorf("publish new post %s: %w", post.ID, err)
	}
	return nil
}

func (b *Bus) publishLike(ctx context.Context, topic pubsub.Topic[events.Like], actor domain.Identity, postID string) error {
	if !b.started.Load() {
		return ErrNotStarted
	}
	like := events.Like{PostID: postID, UserID: actor.UserID, Username: actor.Username}
	if err := topic.Publish(ctx, b.pub, actor.UserID, like, nil); err != nil {
		return fmt.Errorf("publish %s: %w", topic.Name(), err)
	}
	return nil
}

func (b *Bus) relay(event string) func(context.Context, events.Like, pubsub.Message) error {
	return func(_ context.Context, like events.Like, _ pubsub.Message) error {
		return b.broadcast(event, like, "")
	}
}

func (b *Bus) broadcast(event string, data any, except string) error {
	frame, err := events.Encode(event, data)
	if err != nil {
		return err
	}
	var n int
	if except != "" {
		n = b.out.Broadcast(frame, except)
	} else {
		n = b.out.Broadcast(frame)
	}
	b.logger.Debug("Engagement event relayed", "event", event, "recipients", n)
	return nil
}
