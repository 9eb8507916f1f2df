package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/nfrund/pulse/internal/domain"
)

func TestRedactDBURL(t *testing.T) {
	assert.Equal(t, "ws://root:xxxxx@localhost:8000/rpc", redactDBURL("ws://root:secret@localhost:8000/rpc"))
	assert.Equal(t, "ws://localhost:8000/rpc", redactDBURL("ws://localhost:8000/rpc"))
	assert.Equal(t, "invalid-url", redactDBURL("ws://[::1"))
}

func TestHasLimitClause(t *testing.T) {
	assert.True(t, hasLimitClause("SELECT * FROM user LIMIT 5"))
	assert.True(t, hasLimitClause("select * from user limit 1"))
	assert.False(t, hasLimitClause("SELECT * FROM user WHERE name = 'unlimited'"))
}

func TestGetTimeoutFromContext(t *testing.T) {
	ctx, cancel := getTimeoutFromContext(context.Background(), time.Hour, ContextKeyQueryTimeout)
	defer cancel()
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Hour), deadline, time.Second)

	override := WithQueryTimeout(context.Background(), time.Minute)
	ctx, cancel = getTimeoutFromContext(override, time.Hour, ContextKeyQueryTimeout)
	defer cancel()
	deadline, _ = ctx.Deadline()
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, time.Second)

	// An execute override does not affect reads.
	other := WithExecuteTimeout(context.Background(), time.Minute)
	ctx, cancel = getTimeoutFromContext(other, time.Hour, ContextKeyQueryTimeout)
	defer cancel()
	deadline, _ = ctx.Deadline()
	assert.WithinDuration(t, time.Now().Add(time.Hour), deadline, time.Second)
}

func TestDBError(t *testing.T) {
	driver := errors.New("connection reset")
	err := NewDBError(driver, "surreal query").WithQuery("SELECT 1")

	assert.Equal(t, "surreal query (query: SELECT 1): connection reset", err.Error())
	assert.ErrorIs(t, err, driver)
	assert.True(t, isDuplicate(NewDBError(errors.New("Database record `like:a_b` already exists"), "surreal query")))
	assert.False(t, isDuplicate(errors.New("already exists")), "only store errors count")
	assert.False(t, isDuplicate(nil))
}

func TestRowMapping(t *testing.T) {
	id := func(table, key string) *surrealmodels.RecordID {
		r := recordID(table, key)
		return &r
	}
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	m := (&messageRow{
		ID:        id(messageTable, "m1"),
		Sender:    id(userTable, "alice"),
		Receiver:  id(userTable, "bob"),
		Content:   "hi",
		Kind:      "text",
		CreatedAt: &surrealmodels.CustomDateTime{Time: created},
	}).toDomain()
	assert.Equal(t, &domain.Message{ID: "m1", SenderID: "alice", ReceiverID: "bob", Content: "hi", Kind: domain.KindText, CreatedAt: created}, m)

	p := (&postRow{ID: id(postTable, "p1"), Author: id(userTable, "carol"), Content: "x", LikesCount: 2, AuthorName: "Carol"}).toDomain()
	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, domain.PostAuthor{UserID: "carol", Username: "Carol"}, p.Author)
	assert.True(t, p.CreatedAt.IsZero())

	u := (&userRow{ID: id(userTable, "alice"), Username: "Alice", IsActive: true}).toDomain()
	assert.Equal(t, "alice", u.Identity().UserID)

	assert.Equal(t, "", recordKey(nil))
	assert.Equal(t, []any{"alice", "p1"}, likeID("alice", "p1").ID)
	assert.Equal(t, likeTable, likeID("alice", "p1").Table)
	assert.NotEqual(t, likeID("a_b", "c"), likeID("a", "b_c"))
}

func TestLastResult(t *testing.T) {
	_, err := lastResult(nil)
	assert.ErrorIs(t, err, ErrNoResult)

	results := []surrealdb.QueryResult[any]{
		{Status: "OK", Result: nil},
		{Status: "OK", Result: true},
	}
	got, err := lastResult(&results)
	require.NoError(t, err)
	assert.Equal(t, true, got)

	results = append(results, surrealdb.QueryResult[any]{Status: "ERR", Result: "transaction failed"})
	_, err = lastResult(&results)
	assert.ErrorIs(t, err, ErrQueryFailed)
}
