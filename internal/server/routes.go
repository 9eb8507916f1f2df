package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"

	"github.com/nfrund/pulse/internal/middleware"
	"github.com/nfrund/pulse/internal/presence"
)

// presenceStatus is the body of the presence lookup routes.
type presenceStatus struct {
	UserID   string          `json:"userId"`
	Username string          `json:"username,omitempty"`
	Status   presence.Status `json:"status"`
	Since    *time.Time      `json:"since,omitempty"`
}

// RegisterRoutes sets up all the application routes.
func (s *Server) RegisterRoutes() {
	s.E.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	s.E.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{
		Gatherer: s.deps.Gatherer,
	}))

	s.E.GET("/ws", s.deps.Gateway.Handler(), middleware.RateLimiter(s.deps.UpgradesPerMinute))

	api := s.E.Group("/api", middleware.Auth(s.deps.Verifier))
	api.GET("/me", s.me)
	api.GET("/presence", s.onlineUsers)
	api.GET("/presence/:userID", s.userPresence)
}

func (s *Server) onlineUsers(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"online": s.deps.Registry.OnlineUserIDs(),
	})
}

// me reports the caller's own identity and whether a socket holds it online.
func (s *Server) me(c echo.Context) error {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	status := s.statusOf(identity.UserID)
	status.Username = identity.Username
	return c.JSON(http.StatusOK, status)
}

func (s *Server) userPresence(c echo.Context) error {
	return c.JSON(http.StatusOK, s.statusOf(c.Param("userID")))
}

func (s *Server) statusOf(userID string) presenceStatus {
	entry, ok := s.deps.Registry.Get(userID)
	if !ok {
		return presenceStatus{UserID: userID, Status: presence.StatusOffline}
	}
	since := entry.Since
	return presenceStatus{
		UserID:   userID,
		Username: entry.Identity.Username,
		Status:   presence.StatusOnline,
		Since:    &since,
	}
}
