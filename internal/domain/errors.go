package domain

import "errors"

// Sentinel errors for the domain layer. These provide consistent, checkable
// errors for common business logic failures.
var (
	ErrNotFound       = errors.New("requested resource not found")
	ErrInvalidInput   = errors.New("invalid input data")
	ErrInvalidMessage = errors.New("invalid message")
)
