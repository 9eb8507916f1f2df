// Package app wires the gateway's services into a samber/do container.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/samber/do/v2"

	"github.com/nfrund/pulse/internal/auth"
	"github.com/nfrund/pulse/internal/config"
	"github.com/nfrund/pulse/internal/database"
	"github.com/nfrund/pulse/internal/database/postgres"
	"github.com/nfrund/pulse/internal/domain"
	"github.com/nfrund/pulse/internal/engagement"
	"github.com/nfrund/pulse/internal/gateway"
	"github.com/nfrund/pulse/internal/hub"
	"github.com/nfrund/pulse/internal/messaging"
	"github.com/nfrund/pulse/internal/metrics"
	"github.com/nfrund/pulse/internal/presence"
	"github.com/nfrund/pulse/internal/pubsub"
	"github.com/nfrund/pulse/internal/rooms"
	"github.com/nfrund/pulse/internal/server"
)

// App owns the container and the services that need explicit closing.
type App struct {
	injector *do.RootScope
	cfg      config.Provider

	// Set once Run has built the graph.
	store  domain.Store
	bridge *pubsub.WatermillBridge
}

// New registers every provider. Nothing is constructed until it is invoked.
func New(cfg config.Provider) *App {
	i := do.New()
	do.ProvideValue(i, cfg)

	do.Provide(i, provideRegistry)
	do.Provide(i, provideMetrics)
	do.Provide(i, provideStore)
	do.Provide(i, provideBridge)
	do.Provide(i, providePresence)
	do.Provide(i, provideRooms)
	do.Provide(i, provideHub)
	do.Provide(i, provideVerifier)
	do.Provide(i, provideRouter)
	do.Provide(i, provideBus)
	do.Provide(i, provideGateway)
	do.Provide(i, provideServer)

	return &App{injector: i, cfg: cfg}
}

// Injector exposes the container, mainly for tests and tooling.
func (a *App) Injector() do.Injector {
	return a.injector
}

// Run starts the gateway subscriptions and serves HTTP until ctx is cancelled.
// The bus and the store are closed on the way out.
func (a *App) Run(ctx context.Context) error {
	srv, err := do.Invoke[*server.Server](a.injector)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	a.store = do.MustInvoke[domain.Store](a.injector)
	a.bridge = do.MustInvoke[*pubsub.WatermillBridge](a.injector)

	gw := do.MustInvoke[*gateway.Gateway](a.injector)
	if err := gw.Start(ctx); err != nil {
		return errors.Join(fmt.Errorf("start gateway: %w", err), a.Close(context.Background()))
	}

	runErr := srv.Run(ctx)
	return errors.Join(runErr, a.Close(context.Background()))
}

// Close releases the pub/sub bridge and the store, if Run built them.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.bridge != nil {
		errs = append(errs, a.bridge.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close(ctx))
	}
	slog.Info("Application stopped")
	return errors.Join(errs...)
}

func provideRegistry(do.Injector) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, nil
}

func provideMetrics(i do.Injector) (*metrics.Collector, error) {
	return metrics.NewCollector("pulse", do.MustInvoke[*prometheus.Registry](i)), nil
}

func provideStore(i do.Injector) (domain.Store, error) {
	cfg := do.MustInvoke[config.Provider](i)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.GetDBExecuteTimeout())
	defer cancel()

	switch cfg.GetDBDriver() {
	case config.DriverPostgres:
		store, err := postgres.Open(ctx, cfg.GetPostgresDSN(), cfg.GetDBQueryTimeout())
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close(ctx)
			return nil, err
		}
		return store, nil
	case config.DriverSurreal:
		db, err := database.NewDB(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store, err := database.NewStore(db, cfg)
		if err != nil {
			_ = db.Close(ctx)
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close(ctx)
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.GetDBDriver())
	}
}

func provideBridge(i do.Injector) (*pubsub.WatermillBridge, error) {
	cfg := do.MustInvoke[config.Provider](i)
	return pubsub.NewWatermillBridge(pubsub.WithOutputBuffer(cfg.GetPubSubBuffer())), nil
}

func providePresence(i do.Injector) (*presence.Registry, error) {
	m := do.MustInvoke[*metrics.Collector](i)
	return presence.NewRegistry(do.MustInvoke[*pubsub.WatermillBridge](i), presence.WithObserver(m.SetOnlineUsers)), nil
}

func provideRooms(do.Injector) (*rooms.Tracker, error) {
	return rooms.NewTracker(), nil
}

func provideHub(do.Injector) (*hub.Hub, error) {
	return hub.NewHub(), nil
}

func provideVerifier(i do.Injector) (*auth.Verifier, error) {
	cfg := do.MustInvoke[config.Provider](i)
	store, err := do.Invoke[domain.Store](i)
	if err != nil {
		return nil, err
	}
	return auth.NewVerifier(auth.Options{
		Secret: []byte(cfg.GetJWTSecret()),
		Issuer: cfg.GetJWTIssuer(),
	}, store)
}

func provideRouter(i do.Injector) (*messaging.Router, error) {
	store, err := do.Invoke[domain.Store](i)
	if err != nil {
		return nil, err
	}
	return messaging.NewRouter(store,
		do.MustInvoke[*presence.Registry](i),
		messaging.WithMetrics(do.MustInvoke[*metrics.Collector](i)),
	), nil
}

func provideBus(i do.Injector) (*engagement.Bus, error) {
	bridge := do.MustInvoke[*pubsub.WatermillBridge](i)
	return engagement.NewBus(bridge, bridge, do.MustInvoke[*hub.Hub](i)), nil
}

func provideGateway(i do.Injector) (*gateway.Gateway, error) {
	cfg := do.MustInvoke[config.Provider](i)
	store, err := do.Invoke[domain.Store](i)
	if err != nil {
		return nil, err
	}
	verifier, err := do.Invoke[*auth.Verifier](i)
	if err != nil {
		return nil, err
	}
	router, err := do.Invoke[*messaging.Router](i)
	if err != nil {
		return nil, err
	}

	return gateway.New(gateway.Deps{
		Verifier:   verifier,
		Store:      store,
		Registry:   do.MustInvoke[*presence.Registry](i),
		Rooms:      do.MustInvoke[*rooms.Tracker](i),
		Hub:        do.MustInvoke[*hub.Hub](i),
		Router:     router,
		Bus:        do.MustInvoke[*engagement.Bus](i),
		Subscriber: do.MustInvoke[*pubsub.WatermillBridge](i),
		Metrics:    do.MustInvoke[*metrics.Collector](i),
	}, gateway.Options{
		HandshakeTimeout: cfg.GetHandshakeTimeout(),
		WriteTimeout:     cfg.GetWriteTimeout(),
		PingInterval:     cfg.GetPingInterval(),
		SendQueueSize:    cfg.GetSendQueueSize(),
		ReadLimit:        cfg.GetReadLimit(),
		EventsPerSecond:  cfg.GetEventsPerSecond(),
		EventBurst:       cfg.GetEventBurst(),
		CloseSuperseded:  cfg.GetCloseSuperseded(),
		AllowedOrigins:   cfg.GetAllowedOrigins(),
	})
}

func provideServer(i do.Injector) (*server.Server, error) {
	gw, err := do.Invoke[*gateway.Gateway](i)
	if err != nil {
		return nil, err
	}
	verifier, err := do.Invoke[*auth.Verifier](i)
	if err != nil {
		return nil, err
	}
	reg := do.MustInvoke[*prometheus.Registry](i)

	return server.New(server.Deps{
		Config:     do.MustInvoke[config.Provider](i),
		Gateway:    gw,
		Registry:   do.MustInvoke[*presence.Registry](i),
		Verifier:   verifier,
		Registerer: reg,
		Gatherer:   reg,
	})
}
