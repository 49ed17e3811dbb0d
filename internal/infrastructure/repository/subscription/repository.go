package subscription

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "lms-server/internal/domain/notify"
	"lms-server/internal/infrastructure/database/entities"
	"lms-server/internal/utils/platformerrors"
)

// Repository persists availability subscriptions. Uniqueness on
// (user, lesson) is enforced by the database index.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a subscription. Duplicates return created=false without an
// error, making re-subscription a no-op.
func (r *Repository) Create(ctx context.Context, userID, lessonID string) (bool, error) {
	entity := entities.AvailabilitySubscription{
		UserID:   userID,
		LessonID: lessonID,
	}
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&entity)
	if result.Error != nil {
		return false, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
			"failed to create subscription", result.Error, "")
	}
	return result.RowsAffected > 0, nil
}

// ListByLesson returns subscribers for a lesson, oldest first.
func (r *Repository) ListByLesson(ctx context.Context, lessonID string) ([]domain.Subscription, error) {
	var rows []entities.AvailabilitySubscription
	err := r.db.WithContext(ctx).Where("lesson_id = ?", lessonID).
		Order("created_at ASC").Find(&rows).Error
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
			"failed to list subscriptions", err, "")
	}
	subs := make([]domain.Subscription, 0, len(rows))
	for _, row := range rows {
		subs = append(subs, domain.Subscription{
			ID:        row.ID,
			UserID:    row.UserID,
			LessonID:  row.LessonID,
			CreatedAt: row.CreatedAt,
		})
	}
	return subs, nil
}

// LessonsWithSubscribers returns the distinct lesson ids that still have
// waiting subscribers.
func (r *Repository) LessonsWithSubscribers(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&entities.AvailabilitySubscription{}).
		Distinct("lesson_id").Pluck("lesson_id", &ids).Error
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
			"failed to list subscribed lessons", err, "")
	}
	return ids, nil
}

// Delete removes a subscription after its notification is enqueued.
func (r *Repository) Delete(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).Delete(&entities.AvailabilitySubscription{}, id).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
			"failed to delete subscription", err, "")
	}
	return nil
}
