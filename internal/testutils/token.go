package testutils

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/pulse/internal/auth"
)

// TestSecret signs the tokens minted by Token.
const TestSecret = "test-secret-for-pulse"

// Token mints a valid bearer token for userID signed with TestSecret.
func Token(t *testing.T, userID string) string {
	t.Helper()
	issuer, err := auth.NewIssuer(auth.Options{Secret: []byte(TestSecret)})
	require.NoError(t, err)
	token, _, err := issuer.Issue(userID, time.Hour)
	require.NoError(t, err)
	return token
}

// UniqueID returns an id with prefix that does not collide across test runs,
// for tests that share a database.
func UniqueID(prefix string) string {
	return prefix + "_" + uuid.NewString()[:8]
}
