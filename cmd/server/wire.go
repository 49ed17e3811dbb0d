//go:build wireinject

package main

import (
	"context"

	"github.com/google/wire"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
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
	lessonrepo "lms-server/internal/infrastructure/repository/lesson"
	subscriptionrepo "lms-server/internal/infrastructure/repository/subscription"
	transcodeclient "lms-server/internal/infrastructure/transcode"
	"lms-server/internal/interfaces/httpserver"
	"lms-server/internal/interfaces/httpserver/handlers"
	"lms-server/internal/worker"
)

var videoSet = wire.NewSet(
	lessonrepo.NewRepository,
	wire.Bind(new(lessondomain.Repository), new(*lessonrepo.Repository)),
	wire.Bind(new(playback.CourseDirectory), new(*lessonrepo.Repository)),
	wire.Bind(new(worker.VideoIndex), new(*lessonrepo.Repository)),
	subscriptionrepo.NewRepository,
	wire.Bind(new(notify.Repository), new(*subscriptionrepo.Repository)),
	cache.NewClient,
	cache.NewEventCache,
	wire.Bind(new(notify.Queue), new(*cache.EventCache)),
	wire.Bind(new(transcodedomain.EventBuffer), new(*cache.EventCache)),
	wire.Bind(new(upload.TicketCache), new(*cache.EventCache)),
	provideStorage,
	transcodeclient.NewClient,
	provideLessonService,
	wire.Bind(new(transcodedomain.Lessons), new(*lessondomain.Service)),
	wire.Bind(new(playback.Lessons), new(*lessondomain.Service)),
	notify.NewService,
	transcodedomain.NewService,
	wire.Bind(new(upload.Provider), new(*transcodedomain.Service)),
	upload.NewService,
	playback.NewService,
	worker.NewReconciler,
	handlers.NewProvider,
)

// BuildApplication assembles the video API with Wire.
func BuildApplication(ctx context.Context) (*Application, error) {
	wire.Build(
		config.Load,
		logger.New,
		auth.NewValidator,
		newDatabaseConfig,
		newGormDB,
		videoSet,
		provideStoreBindings,
		provideHealthChecks,
		httpserver.New,
		NewApplication,
	)
	return nil, nil
}

func newDatabaseConfig(cfg *config.Config) database.Config {
	return database.Config{
		DSN:             cfg.GetDatabaseWriteDSN(),
		MaxIdleConns:    cfg.DBMaxIdleConns,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
		LogLevel:        gormlogger.Warn,
	}
}

func newGormDB(ctx context.Context, cfg database.Config, log zerolog.Logger) (*gorm.DB, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.AutoMigrate(ctx, db, log); err != nil {
		return nil, err
	}
	return db, nil
}

func provideLessonService(repo lessondomain.Repository, notifySvc *notify.Service, log zerolog.Logger) *lessondomain.Service {
	svc := lessondomain.NewService(repo, log)
	svc.SetReadyListener(notifySvc)
	return svc
}

func provideStoreBindings(store objectStore) (upload.Storage, playback.Signer, worker.Store) {
	return store, store, store
}

func provideHealthChecks(store objectStore, events *cache.EventCache) map[string]httpserver.HealthChecker {
	return map[string]httpserver.HealthChecker{
		"storage": store,
		"redis":   events,
	}
}
