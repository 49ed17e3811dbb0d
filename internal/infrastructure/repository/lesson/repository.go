package lesson

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "lms-server/internal/domain/lesson"
	"lms-server/internal/infrastructure/database/entities"
	"lms-server/internal/utils/platformerrors"
)

// Repository handles lesson/video persistence. Multi-row writes run inside a
// single transaction with a SELECT ... FOR UPDATE lock on the lesson row, so
// per-lesson mutations are serialized by the database.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateLesson(ctx context.Context, l *domain.Lesson) error {
	entity := lessonToEntity(l)
	if err := r.db.WithContext(ctx).Create(&entity).Error; err != nil {
		return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
			"failed to create lesson", err, "")
	}
	l.CreatedAt = entity.CreatedAt
	l.UpdatedAt = entity.UpdatedAt
	return nil
}

func (r *Repository) GetLesson(ctx context.Context, id string) (*domain.Lesson, error) {
	var entity entities.Lesson
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeNotFound,
				"lesson not found", err, "")
		}
		return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
			"failed to get lesson", err, "")
	}
	l := lessonFromEntity(entity)
	return &l, nil
}

// AttachVideo inserts v, retires the lesson's prior video, and moves the
// lesson pointer, all in one transaction.
func (r *Repository) AttachVideo(ctx context.Context, lessonID string, v *domain.Video) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var l entities.Lesson
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", lessonID).First(&l).Error; err != nil {
			return err
		}

		if l.VideoRef != nil {
			if err := retireVideo(tx, *l.VideoRef); err != nil {
				return err
			}
		}

		entity := videoToEntity(v)
		if err := tx.Create(&entity).Error; err != nil {
			return err
		}

		return tx.Model(&entities.Lesson{}).Where("id = ?", lessonID).
			Update("video_ref", v.ID).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeNotFound,
				"lesson not found", err, "")
		}
		return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
			"failed to attach video", err, "")
	}
	return nil
}

// DetachVideo clears the lesson pointer and retires the current video.
func (r *Repository) DetachVideo(ctx context.Context, lessonID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var l entities.Lesson
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", lessonID).First(&l).Error; err != nil {
			return err
		}
		if l.VideoRef == nil {
			return nil
		}
		if err := retireVideo(tx, *l.VideoRef); err != nil {
			return err
		}
		return tx.Model(&entities.Lesson{}).Where("id = ?", lessonID).
			Update("video_ref", nil).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeNotFound,
				"lesson not found", err, "")
		}
		return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
			"failed to detach video", err, "")
	}
	return nil
}

// retireVideo marks a video stale and enqueues its store-hosted object for
// deletion. Runs inside the caller's transaction.
func retireVideo(tx *gorm.DB, videoID string) error {
	var old entities.Video
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", videoID).First(&old).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil // dangling pointer, nothing to retire
		}
		return err
	}
	if err := tx.Model(&entities.Video{}).Where("id = ?", videoID).
		Update("stale", true).Error; err != nil {
		return err
	}
	if old.StorageKey != nil && *old.StorageKey != "" {
		stale := entities.StaleObject{StorageKey: *old.StorageKey}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&stale).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) GetVideo(ctx context.Context, id string) (*domain.Video, error) {
	var entity entities.Video
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeNotFound,
				"video not found", err, "")
		}
		return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
			"failed to get video", err, "")
	}
	v := videoFromEntity(entity)
	return &v, nil
}

func (r *Repository) GetVideoByUploadID(ctx context.Context, uploadID string) (*domain.Video, error) {
	var entity entities.Video
	err := r.db.WithContext(ctx).
		Where("upload_id = ? AND stale = false", uploadID).
		Order("created_at DESC").First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeNotFound,
				"video not found for upload id", err, "")
		}
		return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
			"failed to get video by upload id", err, "")
	}
	v := videoFromEntity(entity)
	return &v, nil
}

func (r *Repository) GetVideoByProviderAssetID(ctx context.Context, assetID string) (*domain.Video, error) {
	var entity entities.Video
	err := r.db.WithContext(ctx).
		Where("provider_asset_id = ? AND stale = false", assetID).
		Order("created_at DESC").First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeNotFound,
				"video not found for asset id", err, "")
		}
		return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
			"failed to get video by asset id", err, "")
	}
	v := videoFromEntity(entity)
	return &v, nil
}

func (r *Repository) GetVideoByStorageKey(ctx context.Context, storageKey string) (*domain.Video, error) {
	var entity entities.Video
	err := r.db.WithContext(ctx).
		Where("storage_key = ? AND stale = false", storageKey).
		Order("created_at DESC").First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeNotFound,
				"video not found for storage key", err, "")
		}
		return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
			"failed to get video by storage key", err, "")
	}
	v := videoFromEntity(entity)
	return &v, nil
}

// MutateVideo applies mutate to the row under a FOR UPDATE lock and persists
// the result in the same transaction.
func (r *Repository) MutateVideo(ctx context.Context, videoID string, mutate func(*domain.Video) error) (*domain.Video, error) {
	var out domain.Video
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entity entities.Video
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", videoID).First(&entity).Error; err != nil {
			return err
		}
		v := videoFromEntity(entity)
		if err := mutate(&v); err != nil {
			return err
		}
		updated := videoToEntity(&v)
		updated.CreatedAt = entity.CreatedAt
		if err := tx.Save(&updated).Error; err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeNotFound,
				"video not found", err, "")
		}
		var platformErr *platformerrors.PlatformError
		if errors.As(err, &platformErr) {
			return nil, platformErr
		}
		return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
			"failed to update video", err, "")
	}
	return &out, nil
}

func (r *Repository) CreateSubtitle(ctx context.Context, s *domain.Subtitle) error {
	entity := entities.Subtitle{
		ID:           s.ID,
		LessonID:     s.LessonID,
		LanguageCode: s.LanguageCode,
		LanguageName: s.LanguageName,
		StorageKey:   s.StorageKey,
	}
	if err := r.db.WithContext(ctx).Create(&entity).Error; err != nil {
		return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
			"failed to create subtitle", err, "")
	}
	s.CreatedAt = entity.CreatedAt
	return nil
}

func (r *Repository) ListSubtitles(ctx context.Context, lessonID string) ([]domain.Subtitle, error) {
	var rows []entities.Subtitle
	if err := r.db.WithContext(ctx).Where("lesson_id = ?", lessonID).
		Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
			"failed to list subtitles", err, "")
	}
	subs := make([]domain.Subtitle, 0, len(rows))
	for _, row := range rows {
		subs = append(subs, subtitleFromEntity(row))
	}
	return subs, nil
}

func (r *Repository) GetSubtitleByKey(ctx context.Context, storageKey string) (*domain.Subtitle, error) {
	var entity entities.Subtitle
	err := r.db.WithContext(ctx).Where("storage_key = ?", storageKey).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeNotFound,
				"subtitle not found", err, "")
		}
		return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
			"failed to get subtitle", err, "")
	}
	s := subtitleFromEntity(entity)
	return &s, nil
}

// CourseOwner returns the owning user of a course. Course CRUD is owned by
// the wider platform; the video subsystem only reads ownership.
func (r *Repository) CourseOwner(ctx context.Context, courseRef string) (string, error) {
	var c entities.Course
	err := r.db.WithContext(ctx).Where("id = ?", courseRef).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeNotFound,
				"course not found", err, "")
		}
		return "", platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
			"failed to get course", err, "")
	}
	return c.OwnerID, nil
}

// ListStaleObjects returns queued deletions, oldest first.
func (r *Repository) ListStaleObjects(ctx context.Context, limit int) ([]entities.StaleObject, error) {
	var rows []entities.StaleObject
	q := r.db.WithContext(ctx).Order("enqueued_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
			"failed to list stale objects", err, "")
	}
	return rows, nil
}

// DeleteStaleObject removes a processed queue entry.
func (r *Repository) DeleteStaleObject(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&entities.StaleObject{}, id).Error; err != nil {
		return platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
			"failed to delete stale object entry", err, "")
	}
	return nil
}

// StorageKeyReferenced reports whether any non-stale video row points at key.
func (r *Repository) StorageKeyReferenced(ctx context.Context, key string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entities.Video{}).
		Where("storage_key = ? AND stale = false", key).Count(&count).Error
	if err != nil {
		return false, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
			"failed to check storage key reference", err, "")
	}
	return count > 0, nil
}

// ListReadyVideoIDs returns non-stale ready videos; the ready-sweeper joins
// them against remaining subscriptions.
func (r *Repository) ListReadyVideoIDs(ctx context.Context) (map[string]string, error) {
	var rows []entities.Video
	err := r.db.WithContext(ctx).
		Where("status = ? AND stale = false", string(domain.StatusReady)).
		Find(&rows).Error
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError,
			"failed to list ready videos", err, "")
	}
	byLesson := make(map[string]string, len(rows))
	for _, row := range rows {
		byLesson[row.LessonID] = row.ID
	}
	return byLesson, nil
}

func lessonToEntity(l *domain.Lesson) entities.Lesson {
	return entities.Lesson{
		ID:          l.ID,
		CourseRef:   l.CourseRef,
		Title:       l.Title,
		Description: l.Description,
		OrderIndex:  l.OrderIndex,
		VideoRef:    l.VideoRef,
	}
}

func lessonFromEntity(e entities.Lesson) domain.Lesson {
	return domain.Lesson{
		ID:          e.ID,
		CourseRef:   e.CourseRef,
		Title:       e.Title,
		Description: e.Description,
		OrderIndex:  e.OrderIndex,
		VideoRef:    e.VideoRef,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func videoToEntity(v *domain.Video) entities.Video {
	return entities.Video{
		ID:                    v.ID,
		LessonID:              v.LessonID,
		UploaderID:            v.UploaderID,
		StorageKey:            v.StorageKey,
		ProviderAssetID:       v.ProviderAssetID,
		UploadID:              v.UploadID,
		PlaybackID:            v.PlaybackID,
		SizeBytes:             v.SizeBytes,
		Status:                string(v.Status),
		ProcessingError:       v.ProcessingError,
		Quality:               v.Quality,
		Stale:                 v.Stale,
		ProcessingStartedAt:   v.ProcessingStartedAt,
		ProcessingCompletedAt: v.ProcessingCompletedAt,
	}
}

func videoFromEntity(e entities.Video) domain.Video {
	return domain.Video{
		ID:                    e.ID,
		LessonID:              e.LessonID,
		UploaderID:            e.UploaderID,
		StorageKey:            e.StorageKey,
		ProviderAssetID:       e.ProviderAssetID,
		UploadID:              e.UploadID,
		PlaybackID:            e.PlaybackID,
		SizeBytes:             e.SizeBytes,
		Status:                domain.Status(e.Status),
		ProcessingError:       e.ProcessingError,
		Quality:               e.Quality,
		Stale:                 e.Stale,
		CreatedAt:             e.CreatedAt,
		ProcessingStartedAt:   e.ProcessingStartedAt,
		ProcessingCompletedAt: e.ProcessingCompletedAt,
	}
}

func subtitleFromEntity(e entities.Subtitle) domain.Subtitle {
	return domain.Subtitle{
		ID:           e.ID,
		LessonID:     e.LessonID,
		LanguageCode: e.LanguageCode,
		LanguageName: e.LanguageName,
		StorageKey:   e.StorageKey,
		CreatedAt:    e.CreatedAt,
	}
}
