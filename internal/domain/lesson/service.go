package lesson

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"lms-server/internal/infrastructure/metrics"
	"lms-server/internal/utils/platformerrors"
	"lms-server/utils/videoid"
)

const (
	titleMinLen       = 3
	titleMaxLen       = 200
	descriptionMaxLen = 5000
)

var languageCodePattern = regexp.MustCompile(`^[a-z]{2,3}(-[A-Z]{2,3})?$`)

// Repository defines persistence operations needed by the service. Multi-row
// writes (attach, detach) are transactional with a row lock on the lesson.
type Repository interface {
	CreateLesson(ctx context.Context, l *Lesson) error
	GetLesson(ctx context.Context, id string) (*Lesson, error)

	// AttachVideo inserts the video, points the lesson at it, and retires any
	// prior live video in a single transaction. The prior video's storage key
	// (if store-hosted) is enqueued for deletion inside the same transaction.
	AttachVideo(ctx context.Context, lessonID string, v *Video) error

	// DetachVideo clears the lesson's video pointer, marks the video stale,
	// and enqueues its storage key for deletion.
	DetachVideo(ctx context.Context, lessonID string) error

	GetVideo(ctx context.Context, id string) (*Video, error)
	GetVideoByUploadID(ctx context.Context, uploadID string) (*Video, error)
	GetVideoByProviderAssetID(ctx context.Context, assetID string) (*Video, error)
	GetVideoByStorageKey(ctx context.Context, storageKey string) (*Video, error)

	// MutateVideo loads the video under a row lock, applies mutate, and saves
	// the result in the same transaction.
	MutateVideo(ctx context.Context, videoID string, mutate func(*Video) error) (*Video, error)

	CreateSubtitle(ctx context.Context, s *Subtitle) error
	ListSubtitles(ctx context.Context, lessonID string) ([]Subtitle, error)
	GetSubtitleByKey(ctx context.Context, storageKey string) (*Subtitle, error)
}

// ReadyListener is invoked after a video's transition to ready has committed.
type ReadyListener interface {
	VideoReady(ctx context.Context, lessonID, videoID string)
}

// Service owns lesson/video metadata mutations and the lifecycle state
// machine.
type Service struct {
	repo     Repository
	log      zerolog.Logger
	listener ReadyListener
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("component", "lesson-service").Logger(),
	}
}

// SetReadyListener registers the fan-out hook. Wired after construction to
// break the notify→lesson dependency cycle.
func (s *Service) SetReadyListener(l ReadyListener) {
	s.listener = l
}

// CreateLesson validates and persists a new lesson.
func (s *Service) CreateLesson(ctx context.Context, req CreateLessonRequest) (*Lesson, error) {
	title := strings.TrimSpace(req.Title)
	if n := utf8.RuneCountInString(title); n < titleMinLen || n > titleMaxLen {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			fmt.Sprintf("title must be %d..%d characters", titleMinLen, titleMaxLen), nil, "")
	}
	if utf8.RuneCountInString(req.Description) > descriptionMaxLen {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			fmt.Sprintf("description exceeds %d characters", descriptionMaxLen), nil, "")
	}
	if req.OrderIndex < 0 {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			"order index must be >= 0", nil, "")
	}
	if strings.TrimSpace(req.CourseRef) == "" {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			"course reference is required", nil, "")
	}

	l := &Lesson{
		ID:          videoid.NewLesson(),
		CourseRef:   req.CourseRef,
		Title:       title,
		Description: req.Description,
		OrderIndex:  req.OrderIndex,
	}
	if err := s.repo.CreateLesson(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// GetLesson loads a lesson by id.
func (s *Service) GetLesson(ctx context.Context, id string) (*Lesson, error) {
	return s.repo.GetLesson(ctx, id)
}

// AttachVideo binds a completed upload to a lesson inside one transaction,
// replacing any prior live video. Store-hosted uploads are ready immediately;
// provider-bound uploads start in processing (or uploading when the asset is
// not created yet).
func (s *Service) AttachVideo(ctx context.Context, req AttachVideoRequest) (*Video, error) {
	if (req.StorageKey == "") == (req.ProviderAssetID == "" && req.UploadID == "") {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			"exactly one of storage key or provider upload must be set", nil, "")
	}
	if req.SizeBytes < 0 {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			"size must be >= 0", nil, "")
	}

	now := time.Now().UTC()
	v := &Video{
		ID:         videoid.NewVideo(),
		LessonID:   req.LessonRef,
		UploaderID: req.UploaderRef,
		SizeBytes:  req.SizeBytes,
		Quality:    req.Quality,
		CreatedAt:  now,
	}
	switch {
	case req.StorageKey != "":
		key := req.StorageKey
		v.StorageKey = &key
		v.Status = StatusReady
		v.ProcessingStartedAt = &now
		v.ProcessingCompletedAt = &now
	case req.ProviderAssetID != "":
		asset := req.ProviderAssetID
		v.ProviderAssetID = &asset
		v.Status = StatusProcessing
		v.ProcessingStartedAt = &now
	default:
		upload := req.UploadID
		v.UploadID = &upload
		v.Status = StatusUploading
	}
	if req.UploadID != "" && v.UploadID == nil {
		upload := req.UploadID
		v.UploadID = &upload
	}

	err := s.repo.AttachVideo(ctx, req.LessonRef, v)
	if err != nil {
		// Transaction failures are retried once; the orphaned object is
		// reclaimed by the GC sweep if the retry fails too.
		s.log.Warn().Err(err).Str("lesson_id", req.LessonRef).Msg("attach transaction failed, retrying once")
		if err = s.repo.AttachVideo(ctx, req.LessonRef, v); err != nil {
			return nil, err
		}
	}

	if v.Status == StatusReady && s.listener != nil {
		s.listener.VideoReady(ctx, v.LessonID, v.ID)
	}
	return v, nil
}

// ReplaceVideo is attach-over-existing; AttachVideo already retires the prior
// row and schedules its asset for deletion.
func (s *Service) ReplaceVideo(ctx context.Context, req AttachVideoRequest) (*Video, error) {
	return s.AttachVideo(ctx, req)
}

// SetVideoStatus applies a lifecycle transition under a row lock. Transitions
// that would move the row backward are logged and ignored; callers treat the
// returned video as authoritative.
func (s *Service) SetVideoStatus(ctx context.Context, videoID string, target Status, upd StatusUpdate) (*Video, error) {
	if !target.IsValid() {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			fmt.Sprintf("unknown status %q", target), nil, "")
	}
	if target == StatusReady && upd.PlaybackID == "" {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			"ready transition requires a playback id", nil, "")
	}

	conflicted := false
	var from Status
	v, err := s.repo.MutateVideo(ctx, videoID, func(v *Video) error {
		from = v.Status
		next, terr := v.Status.TransitionTo(target)
		if terr != nil {
			conflicted = true
			return nil // no-op, keep current state
		}
		now := time.Now().UTC()
		v.Status = next
		switch next {
		case StatusProcessing:
			v.ProcessingStartedAt = &now
			if upd.PlaybackID != "" {
				playback := upd.PlaybackID
				v.PlaybackID = &playback
			}
		case StatusReady:
			playback := upd.PlaybackID
			v.PlaybackID = &playback
			v.ProcessingCompletedAt = &now
		case StatusFailed:
			msg := upd.Error
			if msg == "" {
				msg = "processing failed"
			}
			v.ProcessingError = &msg
			v.ProcessingCompletedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if conflicted {
		s.log.Warn().
			Str("video_id", videoID).
			Str("from", from.String()).
			Str("to", target.String()).
			Msg("ignoring non-monotonic status transition")
		return v, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeConflict,
			"status transition would move the video backward", ErrInvalidTransition, "")
	}

	metrics.RecordStatusTransition(from.String(), target.String())

	if target == StatusReady && s.listener != nil {
		s.listener.VideoReady(ctx, v.LessonID, v.ID)
	}
	return v, nil
}

// MarkAssetCreated records the provider asset id once the provider announces
// asset creation, moving uploading rows into processing.
func (s *Service) MarkAssetCreated(ctx context.Context, videoID, assetID string) (*Video, error) {
	transitioned := false
	v, err := s.repo.MutateVideo(ctx, videoID, func(v *Video) error {
		asset := assetID
		v.ProviderAssetID = &asset
		if v.Status == StatusUploading {
			now := time.Now().UTC()
			v.Status = StatusProcessing
			v.ProcessingStartedAt = &now
			transitioned = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if transitioned {
		metrics.RecordStatusTransition(StatusUploading.String(), StatusProcessing.String())
	}
	return v, nil
}

// DeleteLessonVideo clears the lesson's video pointer and schedules the asset
// for deletion.
func (s *Service) DeleteLessonVideo(ctx context.Context, lessonRef string) error {
	return s.repo.DetachVideo(ctx, lessonRef)
}

// GetVideo loads a video by id.
func (s *Service) GetVideo(ctx context.Context, id string) (*Video, error) {
	return s.repo.GetVideo(ctx, id)
}

// GetVideoByUploadID maps a provider upload id back to its video row.
func (s *Service) GetVideoByUploadID(ctx context.Context, uploadID string) (*Video, error) {
	return s.repo.GetVideoByUploadID(ctx, uploadID)
}

// GetVideoByProviderAssetID maps a provider asset id back to its video row.
func (s *Service) GetVideoByProviderAssetID(ctx context.Context, assetID string) (*Video, error) {
	return s.repo.GetVideoByProviderAssetID(ctx, assetID)
}

// GetVideoByStorageKey maps a store object key back to its live video row.
func (s *Service) GetVideoByStorageKey(ctx context.Context, storageKey string) (*Video, error) {
	return s.repo.GetVideoByStorageKey(ctx, storageKey)
}

// AddSubtitle validates and persists a caption track record.
func (s *Service) AddSubtitle(ctx context.Context, lessonRef, languageCode, languageName, storageKey string) (*Subtitle, error) {
	if !languageCodePattern.MatchString(languageCode) {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			fmt.Sprintf("invalid language code %q", languageCode), nil, "")
	}
	if strings.TrimSpace(languageName) == "" {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			"language name is required", nil, "")
	}
	if _, err := s.repo.GetLesson(ctx, lessonRef); err != nil {
		return nil, err
	}

	sub := &Subtitle{
		ID:           videoid.NewSubtitle(),
		LessonID:     lessonRef,
		LanguageCode: languageCode,
		LanguageName: languageName,
		StorageKey:   storageKey,
	}
	if err := s.repo.CreateSubtitle(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Subtitles lists caption tracks for a lesson.
func (s *Service) Subtitles(ctx context.Context, lessonRef string) ([]Subtitle, error) {
	return s.repo.ListSubtitles(ctx, lessonRef)
}

// SubtitleByKey resolves a subtitle by its storage key.
func (s *Service) SubtitleByKey(ctx context.Context, storageKey string) (*Subtitle, error) {
	return s.repo.GetSubtitleByKey(ctx, storageKey)
}
