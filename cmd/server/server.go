package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	gormlogger "gorm.io/gorm/logger"

	"lms-server/internal/config"
	lessondomain "lms-server/internal/domain/lesson"
	"lms-server/internal/domain/notify"
	"lms-server/internal/domain/playback"
	transcodedomain "lms-server/internal/domain/transcode"
	"lms-server/internal/domain/upload"
	"lms-server/internal/infrastructure/auth"
	"lms-server/internal/infrastructure/cache"
	"lms-server/internal/infrastructure/database"
	"lms-server/internal/infrastructure/logger"
	"lms-server/internal/infrastructure/observability"
	lessonrepo "lms-server/internal/infrastructure/repository/lesson"
	subscriptionrepo "lms-server/internal/infrastructure/repository/subscription"
	"lms-server/internal/infrastructure/storage"
	transcodeclient "lms-server/internal/infrastructure/transcode"
	"lms-server/internal/interfaces/httpserver"
	"lms-server/internal/interfaces/httpserver/handlers"
	"lms-server/internal/worker"
)

// objectStore is the union of store operations the services consume.
type objectStore interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	PresignPut(ctx context.Context, key string, contentType string, ttl time.Duration) (string, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
	SupportsPresignedUploads() bool
	Health(ctx context.Context) error
}

// Application bundles the HTTP server with its background reconciler.
type Application struct {
	httpServer *httpserver.HttpServer
	reconciler *worker.Reconciler
	log        zerolog.Logger
}

func NewApplication(httpServer *httpserver.HttpServer, reconciler *worker.Reconciler, log zerolog.Logger) *Application {
	return &Application{
		httpServer: httpServer,
		reconciler: reconciler,
		log:        log,
	}
}

func (a *Application) Start(ctx context.Context) error {
	go a.reconciler.Start(ctx)
	defer a.reconciler.Stop()
	return a.httpServer.Run(ctx)
}

func main() {
	loadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.Setup(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize observability")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	db, err := database.Connect(database.Config{
		DSN:             cfg.GetDatabaseWriteDSN(),
		MaxIdleConns:    cfg.DBMaxIdleConns,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
		LogLevel:        gormlogger.Warn,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	if err := database.AutoMigrate(ctx, db, log); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	store, err := provideStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize storage")
	}

	redisClient := cache.NewClient(cfg)
	eventCache := cache.NewEventCache(redisClient)

	authValidator, err := auth.NewValidator(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize auth")
	}

	lessonRepository := lessonrepo.NewRepository(db)
	subscriptionRepository := subscriptionrepo.NewRepository(db)

	lessonService := lessondomain.NewService(lessonRepository, log)
	notifyService := notify.NewService(subscriptionRepository, eventCache, log)
	lessonService.SetReadyListener(notifyService)

	providerClient := transcodeclient.NewClient(cfg, log)
	transcodeService := transcodedomain.NewService(cfg, providerClient, lessonService, eventCache, log)
	uploadService := upload.NewService(cfg, store, transcodeService, lessonService, eventCache, log)
	playbackService := playback.NewService(cfg, lessonService, lessonRepository, store, log)

	reconciler := worker.NewReconciler(cfg, store, lessonRepository, notifyService, transcodeService, log)

	handlerProvider := handlers.NewProvider(cfg, lessonService, uploadService, playbackService, notifyService, transcodeService, log)
	httpServer := httpserver.New(cfg, log, handlerProvider, authValidator, map[string]httpserver.HealthChecker{
		"storage": store,
		"redis":   eventCache,
	})

	app := NewApplication(httpServer, reconciler, log)
	if err := app.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("application stopped with error")
	}

	log.Info().Msg("application exited cleanly")
}

// provideStorage creates the appropriate storage backend based on configuration.
func provideStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (objectStore, error) {
	if cfg.IsLocalStorage() {
		return storage.NewLocalStorage(cfg, log)
	}
	return storage.NewS3Storage(ctx, cfg, log)
}

func loadEnvFiles() {
	paths := []string{".env", "../.env"}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}
