package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nfrund/pulse/internal/auth"
	"github.com/nfrund/pulse/internal/domain"
)

// UserContextKey holds the domain.Identity of an authenticated request.
const UserContextKey = "user"

// Verifier resolves a bearer credential to an identity.
type Verifier interface {
	Verify(ctx context.Context, credential string) (domain.Identity, error)
}

// Auth protects API routes with the same bearer credential the websocket
// handshake accepts. Rejections are JSON, never redirects.
func Auth(v Verifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			credential := c.Request().Header.Get(echo.HeaderAuthorization)
			if credential == "" {
				credential = c.QueryParam("token")
			}

			identity, err := v.Verify(c.Request().Context(), credential)
			if err != nil {
				var authErr *auth.Error
				if !errors.As(err, &authErr) {
					FromContext(c.Request().Context()).Error("Credential verification unavailable", "error", err)
					return echo.NewHTTPError(http.StatusServiceUnavailable, "authentication unavailable")
				}
				return echo.NewHTTPError(http.StatusUnauthorized, authErr.Reason.Error())
			}

			c.Set(UserContextKey, identity)
			return next(c)
		}
	}
}

// IdentityFrom returns the identity stored by Auth.
func IdentityFrom(c echo.Context) (domain.Identity, bool) {
	identity, ok := c.Get(UserContextKey).(domain.Identity)
	return identity, ok && !identity.IsZero()
}
