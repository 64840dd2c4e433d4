package main

import (
	"alcyxob/coachsync/internal/access"
	"alcyxob/coachsync/internal/api"
	"alcyxob/coachsync/internal/config"
	"alcyxob/coachsync/internal/events"
	"alcyxob/coachsync/internal/hub"
	"alcyxob/coachsync/internal/identity"
	"alcyxob/coachsync/internal/logging"
	"alcyxob/coachsync/internal/repository"
	"alcyxob/coachsync/internal/repository/memory"
	"alcyxob/coachsync/internal/repository/mongo"
	"alcyxob/coachsync/internal/service"
	"alcyxob/coachsync/internal/storage"
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/thejerf/suture/v4"
)

func main() {
	// --- Configuration ---
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logging.Error().Err(err).Msg("Could not load config")
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	logging.Info().Str("driver", cfg.Database.Driver).Str("address", cfg.Server.Address).Msg("Starting coachsync server")

	// --- Store ---
	repos, owners, closeStore, err := openStore(cfg.Database)
	if err != nil {
		logging.Error().Err(err).Msg("Could not open store")
		os.Exit(1)
	}
	defer closeStore()

	// --- Media store ---
	var fileStorage storage.FileStorage = storage.Disabled{}
	if cfg.S3.Enabled {
		fileStorage, err = storage.NewS3Storage(context.Background(), cfg.S3)
		if err != nil {
			logging.Error().Err(err).Msg("Failed to initialize S3 storage")
			os.Exit(1)
		}
	} else {
		logging.Warn().Msg("S3 disabled, meal photos are unavailable")
	}

	// --- Access control, events, hub ---
	authz, err := access.NewAuthorizer(owners, repos.Users)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to compile access policy")
		os.Exit(1)
	}
	bus := events.NewBus(cfg.Hub.EventBuffer, logging.NewWatermillAdapter("events"))
	notificationHub := hub.New(hub.Config{
		QueueSize:      cfg.Hub.QueueSize,
		SendTimeout:    cfg.Hub.SendTimeout,
		PingInterval:   cfg.Hub.PingInterval,
		LivenessWindow: cfg.Hub.LivenessWindow,
		SweepInterval:  cfg.Hub.SweepInterval,
		Shards:         cfg.Hub.Shards,
	}, bus)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	supervisor := suture.New("coachsync", suture.Spec{EventHook: logging.SupervisorHook()})
	supervisor.Add(notificationHub)
	supervisorDone := supervisor.ServeBackground(ctx)

	// --- Services ---
	authoringService := service.NewAuthoringService(repos, authz, bus, cfg.Retry)
	completionService := service.NewCompletionService(repos, authz, bus, fileStorage, cfg.S3.URLExpiry, cfg.Retry)
	provider := identity.NewJWTProvider(cfg.JWT.Secret, cfg.JWT.Leeway)

	// --- HTTP ---
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())
	api.SetupRoutes(router, provider, authoringService, completionService,
		api.NewNotificationHandler(notificationHub, provider, cfg.Hub.HandshakeTimeout))

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logging.Info().Str("address", cfg.Server.Address).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error().Err(err).Msg("ListenAndServe failed")
			stop()
		}
	}()

	// --- Graceful Shutdown ---
	<-ctx.Done()
	logging.Info().Msg("Shutting down server...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(ctxShutdown); err != nil {
		logging.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := <-supervisorDone; err != nil && !errors.Is(err, context.Canceled) {
		logging.Warn().Err(err).Msg("Supervisor stopped")
	}
	if err := bus.Close(); err != nil {
		logging.Warn().Err(err).Msg("Failed to close event bus")
	}
	logging.Info().Msg("Server exiting")
}

// openStore selects the repository driver.
func openStore(cfg config.DatabaseConfig) (service.Repositories, repository.OwnershipReader, func(), error) {
	if cfg.Driver == "memory" {
		logging.Warn().Msg("Using the in-memory store, nothing survives a restart")
		store := memory.NewStore()
		return service.Repositories{
			Users:       store.Users(),
			Programs:    store.Programs(),
			Units:       store.Units(),
			Items:       store.Items(),
			Completions: store.Completions(),
		}, store, func() {}, nil
	}

	client, err := mongo.ConnectDB(cfg.URI)
	if err != nil {
		return service.Repositories{}, nil, nil, err
	}
	db := client.Database(cfg.Name)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	mongo.EnsureIndexes(ctx, db)

	closeFn := func() {
		logging.Info().Msg("Disconnecting MongoDB...")
		if err := mongo.DisconnectDB(client); err != nil {
			logging.Error().Err(err).Msg("Failed to disconnect MongoDB")
		}
	}
	return service.Repositories{
		Users:       mongo.NewMongoUserRepository(db),
		Programs:    mongo.NewMongoProgramRepository(db, cfg.TxTimeout),
		Units:       mongo.NewMongoUnitRepository(db, cfg.TxTimeout),
		Items:       mongo.NewMongoItemRepository(db, cfg.TxTimeout),
		Completions: mongo.NewMongoCompletionRepository(db, cfg.TxTimeout),
	}, mongo.NewMongoOwnershipReader(db), closeFn, nil
}
