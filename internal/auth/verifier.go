// Package auth verifies the bearer credential presented by a connecting client
// and resolves it to the identity of an active user.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/nfrund/pulse/internal/domain"
)

// Failure reasons of Verify, checkable with errors.Is.
var (
	ErrMissingCredential     = errors.New("missing credential")
	ErrInvalidCredential     = errors.New("invalid credential")
	ErrUnknownOrInactiveUser = errors.New("unknown or inactive user")
)

// Error is returned by Verify. Reason is one of the sentinel errors above;
// Cause, when set, is the underlying parser or store error.
type Error struct {
	Reason error
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%v: %v", e.Reason, e.Cause)
	}
	return e.Reason.Error()
}

func (e *Error) Unwrap() error {
	return e.Reason
}

// Options controls token signing and validation.
type Options struct {
	Secret []byte
	Issuer string        // expected "iss"; empty disables the check
	Leeway time.Duration // clock skew tolerated on exp/nbf
}

// Claims are the JWT claims the gateway relies on. Subject is the user id.
type Claims struct {
	jwtlib.RegisteredClaims
}

// Verifier checks HS256 tokens and confirms the subject is an active user.
type Verifier struct {
	opts   Options
	users  domain.UserRepository
	parser *jwtlib.Parser
}

// NewVerifier creates a verifier. The secret must not be empty.
func NewVerifier(opts Options, users domain.UserRepository) (*Verifier, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.New("auth: empty signing secret")
	}

	parserOpts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithLeeway(opts.Leeway),
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwtlib.WithIssuer(opts.Issuer))
	}

	return &Verifier{
		opts:   opts,
		users:  users,
		parser: jwtlib.NewParser(parserOpts...),
	}, nil
}

// Verify resolves a bearer credential to an identity. An optional "Bearer "
// prefix is accepted. Auth failures are *Error; store outages are returned as is.
func (v *Verifier) Verify(ctx context.Context, credential string) (domain.Identity, error) {
	token := StripBearer(credential)
	if token == "" {
		return domain.Identity{}, &Error{Reason: ErrMissingCredential}
	}

	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(t *jwtlib.Token) (interface{}, error) {
		// Only the HMAC family is accepted.
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return v.opts.Secret, nil
	})
	if err != nil {
		return domain.Identity{}, &Error{Reason: ErrInvalidCredential, Cause: err}
	}
	if claims.Subject == "" {
		return domain.Identity{}, &Error{Reason: ErrInvalidCredential, Cause: errors.New("token has no subject")}
	}

	user, err := v.users.LookupActiveUser(ctx, claims.Subject)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Identity{}, &Error{Reason: ErrUnknownOrInactiveUser}
	}
	if err != nil {
		return domain.Identity{}, fmt.Errorf("lookup user %s: %w", claims.Subject, err)
	}
	if user == nil || !user.IsActive {
		return domain.Identity{}, &Error{Reason: ErrUnknownOrInactiveUser}
	}

	return user.Identity(), nil
}

// StripBearer trims whitespace and a case-insensitive "Bearer " prefix.
func StripBearer(credential string) string {
	s := strings.TrimSpace(credential)
	if len(s) >= 6 && strings.EqualFold(s[:6], "bearer") && (len(s) == 6 || s[6] == ' ') {
		s = strings.TrimSpace(s[6:])
	}
	return s
}
