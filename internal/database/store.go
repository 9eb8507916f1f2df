package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"

	"github.com/nfrund/pulse/internal/config"
	"github.com/nfrund/pulse/internal/domain"
)

var _ domain.Store = (*Store)(nil)

// Store implements domain.Store on SurrealDB. Every call is bounded by the
// configured query or execute timeout unless the context overrides it.
type Store struct {
	db             *surrealdb.DB
	queryTimeout   time.Duration
	executeTimeout time.Duration
	logger         *slog.Logger
}

// NewStore wraps an open connection.
func NewStore(db *surrealdb.DB, cfg config.Provider) (*Store, error) {
	if db == nil {
		return nil, NewDBError(ErrInvalidInput, "db cannot be nil")
	}
	if cfg.GetDBQueryTimeout() <= 0 {
		return nil, NewDBError(ErrInvalidInput, "DB_QUERY_TIMEOUT must be a positive duration")
	}
	if cfg.GetDBExecuteTimeout() <= 0 {
		return nil, NewDBError(ErrInvalidInput, "DB_EXECUTE_TIMEOUT must be a positive duration")
	}
	return &Store{
		db:             db,
		queryTimeout:   cfg.GetDBQueryTimeout(),
		executeTimeout: cfg.GetDBExecuteTimeout(),
		logger:         slog.Default().With("service", "surreal_store"),
	}, nil
}

// schema is applied by EnsureSchema. Statements are idempotent.
var schema = []string{
	"DEFINE TABLE IF NOT EXISTS user SCHEMALESS",
	"DEFINE TABLE IF NOT EXISTS message SCHEMALESS",
	"DEFINE INDEX IF NOT EXISTS message_receiver ON TABLE message FIELDS receiver",
	"DEFINE TABLE IF NOT EXISTS post SCHEMALESS",
	"DEFINE TABLE IF NOT EXISTS like SCHEMALESS",
	"DEFINE INDEX IF NOT EXISTS like_user_post ON TABLE like FIELDS user, post UNIQUE",
}

// EnsureSchema defines the tables and indexes the store relies on.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, cancel := getTimeoutFromContext(ctx, s.executeTimeout, ContextKeyExecuteTimeout)
	defer cancel()
	for _, stmt := range schema {
		if err := Execute(ctx, s.db, stmt, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) LookupActiveUser(ctx context.Context, userID string) (*domain.User, error) {
	ctx, cancel := getTimeoutFromContext(ctx, s.queryTimeout, ContextKeyQueryTimeout)
	defer cancel()

	row, err := QueryOne[userRow](ctx, s.db, "SELECT * FROM $id WHERE isActive = true", map[string]any{
		"id": recordID(userTable, userID),
	})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, domain.ErrNotFound
	}
	return row.toDomain(), nil
}

func (s *Store) PersistMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	ctx, cancel := getTimeoutFromContext(ctx, s.executeTimeout, ContextKeyExecuteTimeout)
	defer cancel()

	query := `CREATE message SET
		sender = $sender,
		receiver = $receiver,
		content = $content,
		kind = $kind,
		fileUrl = $fileUrl,
		isRead = false,
		createdAt = time::now()`
	row, err := QueryOne[messageRow](ctx, s.db, query, map[string]any{
		"sender":   recordID(userTable, msg.SenderID),
		"receiver": recordID(userTable, msg.ReceiverID),
		"content":  msg.Content,
		"kind":     string(msg.Kind),
		"fileUrl":  msg.FileURL,
	})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, NewDBError(ErrNoResult, "create message")
	}
	return row.toDomain(), nil
}

// MarkMessageRead sets isRead on the message only when reader is its receiver.
// A message that was already read still counts as matched.
func (s *Store) MarkMessageRead(ctx context.Context, messageID, readerID string) (*domain.Message, bool, error) {
	ctx, cancel := getTimeoutFromContext(ctx, s.executeTimeout, ContextKeyExecuteTimeout)
	defer cancel()

	row, err := QueryOne[messageRow](ctx, s.db, "UPDATE $id SET isRead = true WHERE receiver = $reader RETURN AFTER", map[string]any{
		"id":     recordID(messageTable, messageID),
		"reader": recordID(userTable, readerID),
	})
	if err != nil {
		return nil, false, err
	}
	if row == nil {
		return nil, false, nil
	}
	return row.toDomain(), true, nil
}

const addLikeQuery = `BEGIN TRANSACTION;
LET $fresh = array::len((SELECT id FROM $id)) = 0;
IF $fresh {
	CREATE $id SET user = $user, post = $post, createdAt = time::now();
	UPDATE $post SET likesCount = (likesCount OR 0) + 1;
};
RETURN $fresh;
COMMIT TRANSACTION;`

const removeLikeQuery = `BEGIN TRANSACTION;
LET $gone = array::len((DELETE $id RETURN BEFORE)) > 0;
IF $gone {
	UPDATE $post SET likesCount = math::max([0, (likesCount OR 0) - 1]);
};
RETURN $gone;
COMMIT TRANSACTION;`

// AddLike records a like. It reports false when the user already liked the post.
// The like and the counter change commit together.
func (s *Store) AddLike(ctx context.Context, userID, postID string) (bool, error) {
	if _, err := s.FindPost(ctx, postID); err != nil {
		return false, err
	}
	added, err := s.toggleLike(ctx, addLikeQuery, userID, postID)
	if isDuplicate(err) {
		return false, nil
	}
	return added, err
}

// RemoveLike deletes a like. It reports false when there was none.
func (s *Store) RemoveLike(ctx context.Context, userID, postID string) (bool, error) {
	if _, err := s.FindPost(ctx, postID); err != nil {
		return false, err
	}
	return s.toggleLike(ctx, removeLikeQuery, userID, postID)
}

func (s *Store) toggleLike(ctx context.Context, query, userID, postID string) (bool, error) {
	ctx, cancel := getTimeoutFromContext(ctx, s.executeTimeout, ContextKeyExecuteTimeout)
	defer cancel()

	last, err := QueryLast(ctx, s.db, query, map[string]any{
		"id":   likeID(userID, postID),
		"user": recordID(userTable, userID),
		"post": recordID(postTable, postID),
	})
	if err != nil {
		return false, err
	}
	changed, ok := last.(bool)
	if !ok {
		return false, NewDBError(fmt.Errorf("%w: unexpected result %T", ErrQueryFailed, last), "toggle like").WithQuery(query)
	}
	return changed, nil
}

func (s *Store) FindPost(ctx context.Context, postID string) (*domain.Post, error) {
	ctx, cancel := getTimeoutFromContext(ctx, s.queryTimeout, ContextKeyQueryTimeout)
	defer cancel()

	query := "SELECT *, author.username AS authorName, author.avatarUrl AS authorAvatar FROM $id"
	row, err := QueryOne[postRow](ctx, s.db, query, map[string]any{
		"id": recordID(postTable, postID),
	})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, domain.ErrNotFound
	}
	return row.toDomain(), nil
}

// Close closes the underlying connection.
func (s *Store) Close(ctx context.Context) error {
	return s.db.Close(ctx)
}

// isDuplicate reports whether err is SurrealDB refusing to create an existing record.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	var dbErr *DBError
	if !errors.As(err, &dbErr) {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "already contains")
}
