package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

// Query executes a SurrealQL statement and returns the rows of its first result.
//
// Example:
//
//	query := "SELECT * FROM user WHERE isActive = $active"
//	users, err := Query[userRow](ctx, db, query, map[string]any{"active": true})
func Query[T any](ctx context.Context, db *surrealdb.DB, query string, params map[string]any) ([]T, error) {
	results, err := surrealdb.Query[[]T](ctx, db, query, params)
	if err != nil {
		return nil, NewDBError(fmt.Errorf("%w: %w", ErrQueryFailed, err), "surreal query").WithQuery(query)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	return (*results)[0].Result, nil
}

// QueryOne executes a statement and returns its first row, or nil, nil when
// there is none. SELECT statements get a LIMIT 1 unless they already have one.
func QueryOne[T any](ctx context.Context, db *surrealdb.DB, query string, params map[string]any) (*T, error) {
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT") && !hasLimitClause(query) {
		query += " LIMIT 1"
	}

	rows, err := Query[T](ctx, db, query, params)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// QueryLast runs a multi-statement query, such as a transaction, and returns
// the value of its final statement.
func QueryLast(ctx context.Context, db *surrealdb.DB, query string, params map[string]any) (any, error) {
	results, err := surrealdb.Query[any](ctx, db, query, params)
	if err != nil {
		return nil, NewDBError(fmt.Errorf("%w: %w", ErrQueryFailed, err), "surreal query").WithQuery(query)
	}
	return lastResult(results)
}

func lastResult(results *[]surrealdb.QueryResult[any]) (any, error) {
	if results == nil || len(*results) == 0 {
		return nil, NewDBError(ErrNoResult, "surreal query")
	}
	last := (*results)[len(*results)-1]
	if last.Status != "OK" {
		return nil, NewDBError(fmt.Errorf("%w: %v", ErrQueryFailed, last.Result), "surreal query")
	}
	return last.Result, nil
}

// Execute runs a statement whose result is not needed.
func Execute(ctx context.Context, db *surrealdb.DB, query string, params map[string]any) error {
	if _, err := surrealdb.Query[any](ctx, db, query, params); err != nil {
		return NewDBError(fmt.Errorf("%w: %w", ErrQueryFailed, err), "surreal query").WithQuery(query)
	}
	return nil
}

// hasLimitClause checks if the query already has a LIMIT clause
func hasLimitClause(query string) bool {
	query = " " + strings.ToUpper(query) + " "
	return strings.Contains(query, " LIMIT ")
}
