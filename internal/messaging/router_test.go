package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/pulse/internal/domain"
	"github.com/nfrund/pulse/internal/events"
	"github.com/nfrund/pulse/internal/presence"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) LookupActiveUser(ctx context.Context, userID string) (*domain.User, error) {
	args := m.Called(ctx, userID)
	u, _ := args.Get(0).(*domain.User)
	return u, args.Error(1)
}

func (m *mockStore) PersistMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	args := m.Called(ctx, msg)
	if fn, ok := args.Get(0).(func(context.Context, *domain.Message) *domain.Message); ok {
		return fn(ctx, msg), args.Error(1)
	}
	saved, _ := args.Get(0).(*domain.Message)
	return saved, args.Error(1)
}

func (m *mockStore) MarkMessageRead(ctx context.Context, messageID, readerID string) (*domain.Message, bool, error) {
	args := m.Called(ctx, messageID, readerID)
	msg, _ := args.Get(0).(*domain.Message)
	return msg, args.Bool(1), args.Error(2)
}

// fakeConn records frames. When failing is set, every Enqueue errors.
type fakeConn struct {
	id      string
	mu      sync.Mutex
	frames  []events.Frame
	failing bool
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Enqueue(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("connection closed")
	}
	var fr events.Frame
	if err := json.Unmarshal(frame, &fr); err != nil {
		return err
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeConn) byEvent(event string) []events.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []events.Frame
	for _, fr := range f.frames {
		if fr.Event == event {
			out = append(out, fr)
		}
	}
	return out
}

type directory map[string]presence.Handle

func (d directory) Lookup(userID string) (presence.Handle, bool) {
	h, ok := d[userID]
	return h, ok
}

var (
	alice = domain.Identity{UserID: "alice", Username: "Alice"}
	bob   = domain.Identity{UserID: "bob", Username: "Bob"}
)

func savedMessage(id string, content string) *domain.Message {
	return &domain.Message{
		ID:         id,
		SenderID:   "alice",
		ReceiverID: "bob",
		Content:    content,
		Kind:       domain.KindText,
		CreatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func decodeMessage(t *testing.T, fr events.Frame) domain.Message {
	t.Helper()
	var m domain.Message
	require.NoError(t, json.Unmarshal(fr.Data, &m))
	return m
}

func TestRouter_SendToOnlineReceiver(t *testing.T) {
	store := &mockStore{}
	store.On("LookupActiveUser", mock.Anything, "bob").Return(&domain.User{ID: "bob", IsActive: true}, nil)
	store.On("PersistMessage", mock.Anything, mock.MatchedBy(func(m *domain.Message) bool {
		return m.SenderID == "alice" && m.ReceiverID == "bob" && m.Content == "hi"
	})).Return(savedMessage("m1", "hi"), nil)

	aliceConn := &fakeConn{id: "c-alice"}
	bobConn := &fakeConn{id: "c-bob"}
	router := NewRouter(store, directory{"alice": aliceConn, "bob": bobConn})

	msg, err := router.Send(context.Background(), alice, aliceConn, SendRequest{ReceiverID: "bob", Content: "hi", Kind: domain.KindText})
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)

	received := bobConn.byEvent(events.MessageReceive)
	require.Len(t, received, 1)
	got := decodeMessage(t, received[0])
	assert.Equal(t, "m1", got.ID)
	assert.Equal(t, "hi", got.Content)
	assert.False(t, got.IsRead)

	sent := aliceConn.byEvent(events.MessageSent)
	require.Len(t, sent, 1)
	assert.Equal(t, "m1", decodeMessage(t, sent[0]).ID)
	assert.Empty(t, aliceConn.byEvent(events.MessageReceive))

	store.AssertExpectations(t)
}

func TestRouter_SendToOfflineReceiver(t *testing.T) {
	store := &mockStore{}
	store.On("LookupActiveUser", mock.Anything, "bob").Return(&domain.User{ID: "bob", IsActive: true}, nil)
	store.On("PersistMessage", mock.Anything, mock.Anything).Return(savedMessage("m1", "hi"), nil)

	aliceConn := &fakeConn{id: "c-alice"}
	router := NewRouter(store, directory{"alice": aliceConn})

	_, err := router.Send(context.Background(), alice, aliceConn, SendRequest{ReceiverID: "bob", Content: "hi"})
	require.NoError(t, err)

	assert.Len(t, aliceConn.byEvent(events.MessageSent), 1)
	store.AssertNumberOfCalls(t, "PersistMessage", 1)
}

func TestRouter_StaleReceiverIsSwallowed(t *testing.T) {
	store := &mockStore{}
	store.On("LookupActiveUser", mock.Anything, "bob").Return(&domain.User{ID: "bob", IsActive: true}, nil)
	store.On("PersistMessage", mock.Anything, mock.Anything).Return(savedMessage("m1", "hi"), nil)

	aliceConn := &fakeConn{id: "c-alice"}
	staleBob := &fakeConn{id: "c-bob", failing: true}
	router := NewRouter(store, directory{"alice": aliceConn, "bob": staleBob})

	msg, err := router.Send(context.Background(), alice, aliceConn, SendRequest{ReceiverID: "bob", Content: "hi", Kind: domain.KindText})
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
	assert.Len(t, aliceConn.byEvent(events.MessageSent), 1)
}

func TestRouter_SendErrors(t *testing.T) {
	t.Run("empty sender", func(t *testing.T) {
		router := NewRouter(&mockStore{}, directory{})
		_, err := router.Send(context.Background(), domain.Identity{}, nil, SendRequest{ReceiverID: "bob", Content: "hi"})
		assert.ErrorIs(t, err, ErrMissingIdentity)
	})

	t.Run("invalid message", func(t *testing.T) {
		store := &mockStore{}
		router := NewRouter(store, directory{})
		_, err := router.Send(context.Background(), alice, nil, SendRequest{ReceiverID: "bob", Kind: domain.KindImage})
		assert.ErrorIs(t, err, domain.ErrInvalidMessage)
		store.AssertNotCalled(t, "PersistMessage", mock.Anything, mock.Anything)
	})

	t.Run("receiver not found", func(t *testing.T) {
		store := &mockStore{}
		store.On("LookupActiveUser", mock.Anything, "ghost").Return(nil, domain.ErrNotFound)
		aliceConn := &fakeConn{id: "c-alice"}
		router := NewRouter(store, directory{"alice": aliceConn})

		_, err := router.Send(context.Background(), alice, aliceConn, SendRequest{ReceiverID: "ghost", Content: "hi"})
		assert.ErrorIs(t, err, ErrReceiverNotFound)
		store.AssertNotCalled(t, "PersistMessage", mock.Anything, mock.Anything)
		assert.Empty(t, aliceConn.byEvent(events.MessageSent))
	})

	t.Run("persistence failed", func(t *testing.T) {
		store := &mockStore{}
		store.On("LookupActiveUser", mock.Anything, "bob").Return(&domain.User{ID: "bob", IsActive: true}, nil)
		store.On("PersistMessage", mock.Anything, mock.Anything).Return(nil, errors.New("disk full"))
		aliceConn := &fakeConn{id: "c-alice"}
		bobConn := &fakeConn{id: "c-bob"}
		router := NewRouter(store, directory{"alice": aliceConn, "bob": bobConn})

		_, err := router.Send(context.Background(), alice, aliceConn, SendRequest{ReceiverID: "bob", Content: "hi"})
		assert.ErrorIs(t, err, ErrPersistenceFailed)
		assert.Empty(t, bobConn.byEvent(events.MessageReceive))
		assert.Empty(t, aliceConn.byEvent(events.MessageSent))
	})
}

func TestRouter_PreservesPairOrder(t *testing.T) {
	store := &mockStore{}
	store.On("LookupActiveUser", mock.Anything, "bob").Return(&domain.User{ID: "bob", IsActive: true}, nil)

	var seqMu sync.Mutex
	seq := 0
	store.On("PersistMessage", mock.Anything, mock.Anything).Return(func(ctx context.Context, m *domain.Message) *domain.Message {
		seqMu.Lock()
		seq++
		id := fmt.Sprintf("m%03d", seq)
		seqMu.Unlock()
		// Give a concurrent send the chance to overtake between persist and deliver.
		time.Sleep(time.Millisecond)
		saved := *m
		saved.ID = id
		return &saved
	}, nil)

	bobConn := &fakeConn{id: "c-bob"}
	router := NewRouter(store, directory{"bob": bobConn})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := router.Send(context.Background(), alice, nil, SendRequest{ReceiverID: "bob", Content: "x"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	received := bobConn.byEvent(events.MessageReceive)
	require.Len(t, received, 20)
	for i, fr := range received {
		assert.Equal(t, fmt.Sprintf("m%03d", i+1), decodeMessage(t, fr).ID)
	}
	assert.Equal(t, 0, router.pairs.size())
}

func TestRouter_MarkRead(t *testing.T) {
	store := &mockStore{}
	store.On("MarkMessageRead", mock.Anything, "m1", "bob").Return(&domain.Message{ID: "m1", SenderID: "alice", ReceiverID: "bob", IsRead: true}, true, nil)

	aliceConn := &fakeConn{id: "c-alice"}
	router := NewRouter(store, directory{"alice": aliceConn})

	receipt, err := router.MarkRead(context.Background(), bob, "m1")
	require.NoError(t, err)
	assert.Equal(t, Receipt{MessageID: "m1", ReadBy: "bob", Updated: true}, receipt)

	reads := aliceConn.byEvent(events.MessageRead)
	require.Len(t, reads, 1)
	var rr events.ReadReceipt
	require.NoError(t, json.Unmarshal(reads[0].Data, &rr))
	assert.Equal(t, events.ReadReceipt{MessageID: "m1", ReadBy: "bob"}, rr)
}

func TestRouter_MarkReadNotAddressedToReader(t *testing.T) {
	store := &mockStore{}
	store.On("MarkMessageRead", mock.Anything, "m1", "mallory").Return(nil, false, nil)

	aliceConn := &fakeConn{id: "c-alice"}
	router := NewRouter(store, directory{"alice": aliceConn})

	receipt, err := router.MarkRead(context.Background(), domain.Identity{UserID: "mallory"}, "m1")
	require.NoError(t, err)
	assert.False(t, receipt.Updated)
	assert.Empty(t, aliceConn.byEvent(events.MessageRead))
}

func TestRouter_MarkReadSenderOffline(t *testing.T) {
	store := &mockStore{}
	store.On("MarkMessageRead", mock.Anything, "m1", "bob").Return(&domain.Message{ID: "m1", SenderID: "alice", ReceiverID: "bob"}, true, nil)
	router := NewRouter(store, directory{})

	receipt, err := router.MarkRead(context.Background(), bob, "m1")
	require.NoError(t, err)
	assert.True(t, receipt.Updated)
}

func TestRouter_MarkReadErrors(t *testing.T) {
	router := NewRouter(&mockStore{}, directory{})
	_, err := router.MarkRead(context.Background(), domain.Identity{}, "m1")
	assert.ErrorIs(t, err, ErrMissingIdentity)

	store := &mockStore{}
	store.On("MarkMessageRead", mock.Anything, "m1", "bob").Return(nil, false, errors.New("timeout"))
	router = NewRouter(store, directory{})
	_, err = router.MarkRead(context.Background(), bob, "m1")
	assert.ErrorIs(t, err, ErrPersistenceFailed)
}
