package database

import (
	"context"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"lms-server/internal/infrastructure/database/entities"
)

// AutoMigrate applies database schema changes.
func AutoMigrate(ctx context.Context, db *gorm.DB, log zerolog.Logger) error {
	if err := db.WithContext(ctx).AutoMigrate(
		&entities.Course{},
		&entities.Lesson{},
		&entities.Video{},
		&entities.Subtitle{},
		&entities.StaleObject{},
		&entities.AvailabilitySubscription{},
	); err != nil {
		return err
	}
	log.Info().Msg("applied lesson video migrations")
	return nil
}
