package engagement

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/pulse/internal/domain"
	"github.com/nfrund/pulse/internal/events"
	"github.com/nfrund/pulse/internal/hub"
	"github.com/nfrund/pulse/internal/pubsub"
)

type recorder struct {
	id     string
	mu     sync.Mutex
	frames []events.Frame
}

func (r *recorder) ID() string { return r.id }

func (r *recorder) Enqueue(frame []byte) error {
	var fr events.Frame
	if err := json.Unmarshal(frame, &fr); err != nil {
		return err
	}
	r.mu.Lock()
	r.frames = append(r.frames, fr)
	r.mu.Unlock()
	return nil
}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, fr := range r.frames {
		if fr.Event == event {
			n++
		}
	}
	return n
}

func (r *recorder) last() events.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames[len(r.frames)-1]
}

func newTestBus(t *testing.T, conns ...*recorder) *Bus {
	t.Helper()
	bridge := pubsub.NewWatermillBridge()
	t.Cleanup(func() { _ = bridge.Close() })

	h := hub.NewHub()
	for _, c := range conns {
		h.Add(c)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	bus := NewBus(bridge, bridge, h)
	require.NoError(t, bus.Start(ctx))
	return bus
}

var carol = domain.Identity{UserID: "carol", Username: "Carol"}

func TestBus_LikeReachesEveryone(t *testing.T) {
	actor := &recorder{id: "c-carol"}
	other := &recorder{id: "c-dave"}
	bus := newTestBus(t, actor, other)

	require.NoError(t, bus.PublishLike(context.Background(), carol, "post-1"))

	for _, c := range []*recorder{actor, other} {
		require.Eventually(t, func() bool { return c.count(events.PostLiked) == 1 }, time.Second, 5*time.Millisecond)
	}

	var like events.Like
	require.NoError(t, json.Unmarshal(other.last().Data, &like))
	assert.Equal(t, events.Like{PostID: "post-1", UserID: "carol", Username: "Carol"}, like)
}

func TestBus_Unlike(t *testing.T) {
	c := &recorder{id: "c-1"}
	bus := newTestBus(t, c)

	require.NoError(t, bus.PublishUnlike(context.Background(), carol, "post-1"))
	require.Eventually(t, func() bool { return c.count(events.PostUnliked) == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, c.count(events.PostLiked))
}

func TestBus_NewPostSkipsAuthor(t *testing.T) {
	author := &recorder{id: "c-carol"}
	reader := &recorder{id: "c-dave"}
	bus := newTestBus(t, author, reader)

	post := domain.Post{ID: "post-9", AuthorID: "carol", Content: "hello feed", Author: domain.PostAuthor{UserID: "carol", Username: "Carol"}}
	require.NoError(t, bus.PublishNewPost(context.Background(), carol, post, author.ID()))

	require.Eventually(t, func() bool { return reader.count(events.PostNew) == 1 }, time.Second, 5*time.Millisecond)

	var got domain.Post
	require.NoError(t, json.Unmarshal(reader.last().Data, &got))
	assert.Equal(t, "post-9", got.ID)
	assert.Equal(t, "Carol", got.Author.Username)

	// Publish blocks until the relay acked, so the author's queue is final.
	assert.Zero(t, author.count(events.PostNew))
}

func TestBus_PublishBeforeStart(t *testing.T) {
	bridge := pubsub.NewWatermillBridge()
	defer bridge.Close()

	bus := NewBus(bridge, bridge, hub.NewHub())
	assert.ErrorIs(t, bus.PublishLike(context.Background(), carol, "p"), ErrNotStarted)
	assert.ErrorIs(t, bus.PublishNewPost(context.Background(), carol, domain.Post{ID: "p"}, ""), ErrNotStarted)
}

func TestBus_PublishWhileStarting(t *testing.T) {
	bridge := pubsub.NewWatermillBridge()
	defer bridge.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := &recorder{id: "c-1"}
	h := hub.NewHub()
	h.Add(c)
	bus := NewBus(bridge, bridge, h)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				err := bus.PublishLike(ctx, carol, "post-1")
				if err != nil {
					assert.ErrorIs(t, err, ErrNotStarted)
				}
			}
		}()
	}
	require.NoError(t, bus.Start(ctx))
	wg.Wait()

	require.NoError(t, bus.PublishLike(ctx, carol, "post-2"))
	require.Eventually(t, func() bool { return c.count(events.PostLiked) >= 1 }, time.Second, 5*time.Millisecond)
}
