// Package postgres implements the gateway store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nfrund/pulse/internal/domain"
)

var _ domain.Store = (*Store)(nil)

// foreignKeyViolation is the SQLSTATE of a missing referenced row.
const foreignKeyViolation = "23503"

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id                TEXT PRIMARY KEY,
	username          TEXT NOT NULL,
	email             TEXT NOT NULL DEFAULT '',
	avatar_url        TEXT NOT NULL DEFAULT '',
	role              TEXT NOT NULL DEFAULT '',
	subscription_tier TEXT NOT NULL DEFAULT '',
	is_active         BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS messages (
	id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	sender_id   TEXT NOT NULL REFERENCES users(id),
	receiver_id TEXT NOT NULL REFERENCES users(id),
	content     TEXT NOT NULL DEFAULT '',
	kind        TEXT NOT NULL DEFAULT 'text',
	file_url    TEXT NOT NULL DEFAULT '',
	is_read     BOOLEAN NOT NULL DEFAULT FALSE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS messages_receiver_idx ON messages (receiver_id, is_read);

CREATE TABLE IF NOT EXISTS posts (
	id          TEXT PRIMARY KEY,
	author_id   TEXT NOT NULL REFERENCES users(id),
	content     TEXT NOT NULL DEFAULT '',
	image_url   TEXT NOT NULL DEFAULT '',
	likes_count INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS post_likes (
	user_id    TEXT NOT NULL REFERENCES users(id),
	post_id    TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, post_id)
);`

// Store implements domain.Store on a pgx connection pool.
type Store struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
	logger       *slog.Logger
}

// Open creates a pool for dsn and checks that the database answers.
func Open(ctx context.Context, dsn string, queryTimeout time.Duration) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to reach postgres: %w", err)
	}
	return New(pool, queryTimeout), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool, queryTimeout time.Duration) *Store {
	if queryTimeout <= 0 {
		queryTimeout = 5 * time.Second
	}
	return &Store{
		pool:         pool,
		queryTimeout: queryTimeout,
		logger:       slog.Default().With("service", "postgres_store"),
	}
}

// EnsureSchema creates the tables the store relies on.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) LookupActiveUser(ctx context.Context, userID string) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var u domain.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, email, avatar_url, role, subscription_tier, is_active
		FROM users WHERE id = $1 AND is_active`, userID).
		Scan(&u.ID, &u.Username, &u.Email, &u.AvatarURL, &u.Role, &u.SubscriptionTier, &u.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user %s: %w", userID, err)
	}
	return &u, nil
}

const messageColumns = `id::text, sender_id, receiver_id, content, kind, file_url, is_read, created_at`

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var m domain.Message
	var kind string
	if err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &kind, &m.FileURL, &m.IsRead, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Kind = domain.MessageKind(kind)
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}

func (s *Store) PersistMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	row := s.pool.QueryRow(ctx, `
		INSERT INTO messages (sender_id, receiver_id, content, kind, file_url)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+messageColumns,
		msg.SenderID, msg.ReceiverID, msg.Content, string(msg.Kind), msg.FileURL)
	saved, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return saved, nil
}

// MarkMessageRead flips is_read for a message addressed to readerID.
func (s *Store) MarkMessageRead(ctx context.Context, messageID, readerID string) (*domain.Message, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	row := s.pool.QueryRow(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE id::text = $1 AND receiver_id = $2
		RETURNING `+messageColumns, messageID, readerID)
	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("mark message %s read: %w", messageID, err)
	}
	return msg, true, nil
}

// AddLike inserts the (user, post) like and bumps the counter in one transaction.
func (s *Store) AddLike(ctx context.Context, userID, postID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var added bool
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO post_likes (user_id, post_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, userID, postID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		added = true
		_, err = tx.Exec(ctx, `UPDATE posts SET likes_count = likes_count + 1 WHERE id = $1`, postID)
		return err
	})
	if isForeignKeyViolation(err) {
		return false, domain.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("add like: %w", err)
	}
	return added, nil
}

func (s *Store) RemoveLike(ctx context.Context, userID, postID string) (bool, error) {
	if _, err := s.FindPost(ctx, postID); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var removed bool
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM post_likes WHERE user_id = $1 AND post_id = $2`, userID, postID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		removed = true
		_, err = tx.Exec(ctx, `UPDATE posts SET likes_count = GREATEST(likes_count - 1, 0) WHERE id = $1`, postID)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("remove like: %w", err)
	}
	return removed, nil
}

func (s *Store) FindPost(ctx context.Context, postID string) (*domain.Post, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var p domain.Post
	err := s.pool.QueryRow(ctx, `
		SELECT p.id, p.author_id, p.content, p.image_url, p.likes_count, p.created_at,
		       u.username, u.avatar_url
		FROM posts p JOIN users u ON u.id = p.author_id
		WHERE p.id = $1`, postID).
		Scan(&p.ID, &p.AuthorID, &p.Content, &p.ImageURL, &p.LikesCount, &p.CreatedAt,
			&p.Author.Username, &p.Author.AvatarURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find post %s: %w", postID, err)
	}
	p.Author.UserID = p.AuthorID
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

// Close releases the pool.
func (s *Store) Close(context.Context) error {
	s.pool.Close()
	return nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}
