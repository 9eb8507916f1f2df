package auth

import (
	"errors"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is used when Issue is called without a positive ttl.
const DefaultTTL = 2 * time.Hour

// Issuer mints HS256 tokens accepted by a Verifier configured with the same Options.
// The production issuer lives outside the gateway; this one serves the CLI and tests.
type Issuer struct {
	opts Options
	now  func() time.Time
}

// NewIssuer creates an issuer. The secret must not be empty.
func NewIssuer(opts Options) (*Issuer, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.New("auth: empty signing secret")
	}
	return &Issuer{opts: opts, now: time.Now}, nil
}

// Issue returns a signed token for userID and its expiry.
func (i *Issuer) Issue(userID string, ttl time.Duration) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, errors.New("auth: empty user id")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := i.now()
	exp := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.opts.Issuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			NotBefore: jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(exp),
		},
	}

	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(i.opts.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}
