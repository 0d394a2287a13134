package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/CUknot/locshare/changefeed"
	"github.com/CUknot/locshare/config"
	"github.com/CUknot/locshare/controllers"
	"github.com/CUknot/locshare/database"
	"github.com/CUknot/locshare/docs"
	"github.com/CUknot/locshare/identity"
	"github.com/CUknot/locshare/logging"
	"github.com/CUknot/locshare/middleware"
	"github.com/CUknot/locshare/propagator"
	"github.com/CUknot/locshare/repository"
	"github.com/CUknot/locshare/services"
	"github.com/CUknot/locshare/supervisor"
	"github.com/CUknot/locshare/websocket"
)

// @title           Locshare API
// @version         1.0
// @description     Room-scoped live location sharing
// @host            localhost:8080
// @BasePath        /
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize database
	db, err := database.Connect(cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to connect to database")
	}
	if err := database.Migrate(db, cfg.Feed.Channel, cfg.Store.StrictUpsert); err != nil {
		logging.Fatal().Err(err).Msg("Failed to migrate database")
	}

	// Change feed
	bus, err := changefeed.NewBus(cfg.Feed)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create change feed bus")
	}
	source := cfg.FeedSource()
	switch {
	case source == "notify" && cfg.Database.Driver != "postgres":
		logging.Fatal().Str("driver", cfg.Database.Driver).Msg("The notify feed source needs Postgres")
	case source == "hooks":
		if err := changefeed.RegisterHooks(db, bus); err != nil {
			logging.Fatal().Err(err).Msg("Failed to register change feed hooks")
		}
	}
	logging.Info().Str("source", source).Bool("nats", cfg.Feed.NATSURL != "").Msg("Change feed configured")

	// Identity
	revocations, err := identity.OpenBadgerRevocations(cfg.Security.RevocationPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open revocation store")
	}
	tokens := identity.NewJWTProvider(cfg.Security.JWTSecret, cfg.Security.TokenTTL, revocations)

	// Services
	rooms := repository.NewGormRoomRepository(db)
	members := repository.NewGormMemberRepository(db)
	locations := repository.NewGormLocationRepository(db)
	registry := services.NewRoomRegistry(rooms, members, locations)
	store := services.NewLocationStore(locations, services.WithStrictUpsert(cfg.Store.StrictUpsert))
	handler := controllers.NewHandler(
		registry,
		services.NewMembershipManager(registry, rooms, members, locations),
		store,
		identity.NewAccounts(repository.NewGormUserRepository(db), tokens),
		tokens,
	)

	prop := propagator.New(bus, store)
	hub := websocket.NewHub()
	limiter := middleware.NewIPRateLimiter(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst)

	// Set up Swagger info
	docs.SwaggerInfo.Host = cfg.Server.Addr()

	router := controllers.NewRouter(handler, controllers.RouterConfig{
		CORSOrigin:  cfg.Server.CORSOrigin,
		Swagger:     cfg.Server.Swagger,
		RateLimiter: limiter,
		Health: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		WebSocket: websocket.NewHandler(hub, tokens, registry, store, prop, cfg.Server.CORSOrigin).ServeWS,
	})
	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	tree := supervisor.NewTree(logging.NewSlog(), supervisor.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout})
	if source == "notify" {
		tree.AddFeedService(changefeed.NewPGListener(cfg.Database.DSN(), cfg.Feed.Channel, locations, bus))
	}
	tree.AddFeedService(supervisor.NewPeriodicService("rate-limit-cleanup", time.Minute, func(context.Context) {
		if n := limiter.Cleanup(); n > 0 {
			logging.Debug().Int("removed", n).Msg("Pruned idle rate limiters")
		}
	}))
	tree.AddFeedService(supervisor.NewCloser("feed", func() error {
		prop.Close()
		return bus.Close()
	}))
	tree.AddAPIService(hub)
	tree.AddAPIService(supervisor.NewHTTPService(server, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", server.Addr).Msg("Server running")
	if cfg.Server.Swagger {
		logging.Info().Str("url", "http://"+server.Addr+"/swagger/index.html").Msg("Swagger documentation available")
	}
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor stopped with error")
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		logging.Warn().Int("services", len(report)).Msg("Some services did not stop in time")
	}
	if err := revocations.Close(); err != nil {
		logging.Warn().Err(err).Msg("Failed to close revocation store")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	logging.Info().Msg("Server stopped")
}
