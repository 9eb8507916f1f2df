// Package server exposes the gateway and its supporting HTTP routes.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nfrund/pulse/internal/config"
	"github.com/nfrund/pulse/internal/gateway"
	pulsemw "github.com/nfrund/pulse/internal/middleware"
	"github.com/nfrund/pulse/internal/presence"
)

const shutdownTimeout = 10 * time.Second

// Deps are the collaborators of the HTTP server.
type Deps struct {
	Config   config.Provider
	Gateway  *gateway.Gateway
	Registry *presence.Registry
	Verifier pulsemw.Verifier

	// Registerer receives the HTTP request metrics; Gatherer backs /metrics.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	// UpgradesPerMinute limits /ws per client IP. Zero uses the middleware default.
	UpgradesPerMinute int
}

// Server holds the echo instance and the services its routes use.
type Server struct {
	E    *echo.Echo
	deps Deps
}

// New builds the echo instance with middleware and routes.
func New(deps Deps) (*Server, error) {
	if deps.Config == nil || deps.Gateway == nil || deps.Registry == nil || deps.Verifier == nil {
		return nil, errors.New("server: config, gateway, registry and verifier are required")
	}
	if deps.Registerer == nil {
		deps.Registerer = prometheus.DefaultRegisterer
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(pulsemw.Logger)
	e.Use(middleware.Recover())
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Namespace:  "pulse",
		Subsystem:  "http",
		Registerer: deps.Registerer,
		Skipper: func(c echo.Context) bool {
			// Upgraded connections live for minutes; their duration says nothing about HTTP latency.
			return c.Path() == "/ws" || c.Path() == "/metrics"
		},
	}))
	setupErrorHandling(e)

	s := &Server{E: e, deps: deps}
	s.RegisterRoutes()
	return s, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := s.deps.Config.GetAppAddr()
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := s.E.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown closes every websocket first, since hijacked connections are
// invisible to http.Server.Shutdown, then stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	gwErr := s.deps.Gateway.Shutdown(ctx)
	httpErr := s.E.Shutdown(ctx)
	return errors.Join(gwErr, httpErr)
}
