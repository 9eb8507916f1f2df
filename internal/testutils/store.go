package testutils

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nfrund/pulse/internal/domain"
)

// MemoryStore is an in-memory domain.Store for tests that do not need a database.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[string]domain.User
	messages map[string]*domain.Message
	posts    map[string]*domain.Post
	likes    map[string]struct{} // userID + "/" + postID
	seq      int

	failPersist error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]domain.User),
		messages: make(map[string]*domain.Message),
		posts:    make(map[string]*domain.Post),
		likes:    make(map[string]struct{}),
	}
}

// AddUser stores an active user and returns it.
func (s *MemoryStore) AddUser(id, username string) domain.User {
	u := domain.User{ID: id, Username: username, Email: id + "@example.com", IsActive: true}
	s.PutUser(u)
	return u
}

func (s *MemoryStore) PutUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// FailPersist makes PersistMessage fail with err until it is called with nil.
func (s *MemoryStore) FailPersist(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPersist = err
}

// AddPost stores a post by authorID.
func (s *MemoryStore) AddPost(id, authorID, content string) domain.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	author := s.users[authorID]
	p := domain.Post{
		ID:        id,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
		Author:    domain.PostAuthor{UserID: authorID, Username: author.Username, AvatarURL: author.AvatarURL},
	}
	s.posts[id] = &p
	return p
}

// Message returns a copy of a stored message.
func (s *MemoryStore) Message(id string) (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return domain.Message{}, false
	}
	return *m, true
}

func (s *MemoryStore) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *MemoryStore) LookupActiveUser(_ context.Context, userID string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok || !u.IsActive {
		return nil, domain.ErrNotFound
	}
	return &u, nil
}

func (s *MemoryStore) PersistMessage(_ context.Context, msg *domain.Message) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPersist != nil {
		return nil, s.failPersist
	}
	s.seq++
	saved := *msg
	saved.ID = fmt.Sprintf("msg-%04d", s.seq)
	saved.IsRead = false
	saved.CreatedAt = time.Now().UTC()
	s.messages[saved.ID] = &saved
	out := saved
	return &out, nil
}

func (s *MemoryStore) MarkMessageRead(_ context.Context, messageID, readerID string) (*domain.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok || m.ReceiverID != readerID {
		return nil, false, nil
	}
	m.IsRead = true
	out := *m
	return &out, true, nil
}

func (s *MemoryStore) AddLike(_ context.Context, userID, postID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[postID]
	if !ok {
		return false, domain.ErrNotFound
	}
	key := userID + "/" + postID
	if _, ok := s.likes[key]; ok {
		return false, nil
	}
	s.likes[key] = struct{}{}
	p.LikesCount++
	return true, nil
}

func (s *MemoryStore) RemoveLike(_ context.Context, userID, postID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[postID]
	if !ok {
		return false, domain.ErrNotFound
	}
	key := userID + "/" + postID
	if _, ok := s.likes[key]; !ok {
		return false, nil
	}
	delete(s.likes, key)
	p.LikesCount--
	return true, nil
}

func (s *MemoryStore) FindPost(_ context.Context, postID string) (*domain.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[postID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *p
	return &out, nil
}

func (s *MemoryStore) Close(context.Context) error { return nil }

var _ domain.Store = (*MemoryStore)(nil)
