package database

import (
	"errors"
	"fmt"
)

// Errors that can be checked with errors.Is on a *DBError.
var (
	ErrInvalidInput = errors.New("invalid input data")
	ErrQueryFailed  = errors.New("query execution failed")
	ErrNoResult     = errors.New("query returned no result")
)

// DBError carries the operation and query that failed alongside the driver error.
type DBError struct {
	err   error
	op    string
	query string
}

// NewDBError creates a DBError for op wrapping err.
func NewDBError(err error, op string) *DBError {
	return &DBError{err: err, op: op}
}

// WithQuery records the query that was being executed.
func (e *DBError) WithQuery(query string) *DBError {
	e.query = query
	return e
}

func (e *DBError) Error() string {
	msg := e.op
	if e.query != "" {
		msg = fmt.Sprintf("%s (query: %s)", msg, e.query)
	}
	if e.err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.err)
	}
	return msg
}

func (e *DBError) Unwrap() error {
	return e.err
}
