// Package app wires configuration, storage and services into a runnable
// server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/jengzang/records-live-go/internal/api"
	"github.com/jengzang/records-live-go/internal/clock"
	"github.com/jengzang/records-live-go/internal/config"
	"github.com/jengzang/records-live-go/internal/database"
	"github.com/jengzang/records-live-go/internal/handler"
	"github.com/jengzang/records-live-go/internal/kv"
	"github.com/jengzang/records-live-go/internal/middleware"
	"github.com/jengzang/records-live-go/internal/models"
	"github.com/jengzang/records-live-go/internal/realtime"
	"github.com/jengzang/records-live-go/internal/repository"
	"github.com/jengzang/records-live-go/internal/service"
)

const shutdownTimeout = 10 * time.Second

// App holds every long-lived component of the server.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
	clock  clock.Clock

	db    *sql.DB
	store kv.Store

	Buffer    *service.LocationBuffer
	Scheduler *service.FlushScheduler
	Sessions  *service.TrackingSessionManager
	Hub       *realtime.Handler

	httpLimiter *middleware.RateLimiter
	wsLimiter   *middleware.RateLimiter
	router      *gin.Engine
}

// Options overrides collaborators, mainly for tests.
type Options struct {
	Clock clock.Clock
	// Store replaces the key-value store selected by the configuration.
	Store kv.Store
}

// New opens storage, applies migrations and builds the service graph.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}

	db, err := database.Open(ctx, database.Config{Path: cfg.DBPath}, logger)
	if err != nil {
		return nil, err
	}
	if err := database.NewMigrationManager(db, logger).RunMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := opts.Store
	if store == nil {
		store, err = OpenStore(cfg.KVPath, clk)
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	a := &App{cfg: cfg, logger: logger, clock: clk, db: db, store: store}
	a.build()
	return a, nil
}

// OpenStore selects the key-value backend: badger on disk, or memory
// when path is empty.
func OpenStore(path string, clk clock.Clock) (kv.Store, error) {
	if path == "" {
		return kv.NewMemory(clk), nil
	}
	store, err := kv.OpenBadger(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open kv store: %w", err)
	}
	return store, nil
}

func (a *App) build() {
	cfg, logger, clk := a.cfg, a.logger, a.clock
	ids := service.UUIDGenerator{}

	locationRepo := repository.NewLocationRepository(a.db, clk)
	sessionRepo := repository.NewSessionRepository(a.db)
	roomRepo := repository.NewRoomRepository(a.db)

	registry := realtime.NewRegistry()
	rooms := service.NewRoomPresenceRouter(registry, roomRepo, logger)

	a.Buffer = service.NewLocationBuffer(cfg.Buffer.Capacity)
	a.Scheduler = service.NewFlushScheduler(a.Buffer, locationRepo, clk, service.FlushConfig{
		Interval: cfg.Flush.Interval,
		Timeout:  cfg.Flush.Timeout,
	}, logger)

	a.Sessions = service.NewTrackingSessionManager(service.TrackingDeps{
		Store:       a.store,
		Sink:        sessionRepo,
		Rooms:       rooms,
		Flusher:     a.Scheduler,
		Clock:       clk,
		IDs:         ids,
		SnapshotTTL: cfg.Tracking.SnapshotTTL,
		Logger:      logger,
	})
	geofences := service.NewGeofenceService(a.store, clk, ids, logger)
	routes := service.NewRouteService(a.store, rooms, clk, ids, cfg.Routes.TTL, logger)
	rooms.RegisterResolver(models.SessionRoomPrefix, a.Sessions)
	rooms.RegisterResolver(models.RouteRoomPrefix, routes)

	a.wsLimiter = middleware.NewRateLimiter(cfg.RateLimit.Messages, cfg.RateLimit.Window, clk)
	a.httpLimiter = middleware.NewRateLimiter(cfg.RateLimit.Messages, cfg.RateLimit.Window, clk)

	a.Hub = realtime.NewHandler(realtime.Deps{
		Buffer:     a.Buffer,
		Flusher:    a.Scheduler,
		Sessions:   a.Sessions,
		Geofences:  geofences,
		Engine:     service.NewGeofenceEngine(geofences, a.store, logger),
		Routes:     routes,
		Rooms:      rooms,
		Registry:   registry,
		Limiter:    a.wsLimiter,
		Clock:      clk,
		Logger:     logger,
		OutboxSize: cfg.Connection.OutboxSize,
	})

	a.router = api.SetupRouter(api.RouterConfig{
		Principal: middleware.PrincipalConfig{
			JWTSecret:   cfg.JWTSecret,
			TrustHeader: cfg.TrustPrincipalHeader,
		},
		RateLimiter: a.httpLimiter,
		Logger:      logger,
	}, api.Handlers{
		WebSocket: handler.NewWebSocketHandler(a.Hub, handler.WebSocketConfig{
			MaxMessageBytes: cfg.Connection.MaxMessageBytes,
			PongWait:        cfg.Connection.PongWait,
			WriteTimeout:    cfg.Connection.WriteTimeout,
		}, logger),
		Geofences: handler.NewGeofenceHandler(geofences),
		Tracking:  handler.NewTrackingHandler(a.Sessions),
		Locations: handler.NewLocationHandler(service.NewLocationService(locationRepo)),
		Stats:     handler.NewStatsHandler(a.Hub, a.Scheduler),
	})
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.router
}

// Run serves HTTP on the configured port and runs the background loops
// until ctx is cancelled. Live connections are closed and buffers flushed
// before it returns.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Port,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.Scheduler.Run(gctx)
	})
	g.Go(func() error {
		return a.wsLimiter.Run(gctx)
	})
	g.Go(func() error {
		return a.httpLimiter.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		a.Hub.Shutdown(shutdownCtx)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		a.logger.Info("server stopped")
		return nil
	})
	return g.Wait()
}

// Close releases storage handles.
func (a *App) Close() error {
	return errors.Join(a.store.Close(), a.db.Close())
}
