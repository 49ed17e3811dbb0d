package playback

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"lms-server/internal/config"
	"lms-server/internal/domain/lesson"
	"lms-server/internal/infrastructure/storage"
	"lms-server/internal/utils/platformerrors"
)

// Viewer is the authenticated caller asking for playback.
type Viewer struct {
	UserID      string
	Role        string
	Enrollments []string
}

func (v Viewer) isAdmin() bool { return v.Role == "admin" }

func (v Viewer) enrolledIn(courseRef string) bool {
	for _, c := range v.Enrollments {
		if c == courseRef {
			return true
		}
	}
	return false
}

// Lessons is the metadata slice the authorizer reads.
type Lessons interface {
	GetLesson(ctx context.Context, id string) (*lesson.Lesson, error)
	GetVideo(ctx context.Context, id string) (*lesson.Video, error)
	GetVideoByStorageKey(ctx context.Context, storageKey string) (*lesson.Video, error)
	Subtitles(ctx context.Context, lessonRef string) ([]lesson.Subtitle, error)
	SubtitleByKey(ctx context.Context, storageKey string) (*lesson.Subtitle, error)
}

// CourseDirectory answers ownership questions. Course management itself lives
// in another service; only the owner lookup is needed here.
type CourseDirectory interface {
	CourseOwner(ctx context.Context, courseRef string) (string, error)
}

// Signer issues time-limited read URLs for store-hosted objects.
type Signer interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Info is the playback decision for one lesson video.
type Info struct {
	Status             lesson.Status `json:"status"`
	URL                string        `json:"url,omitempty"`
	SupportsAdaptive   bool          `json:"supports_adaptive"`
	AvailableQualities []string      `json:"available_qualities"`
	ExpiresAt          *time.Time    `json:"expires_at,omitempty"`
	Error              string        `json:"error,omitempty"`
}

// adaptiveLadder is what the provider's HLS manifests serve.
var adaptiveLadder = []string{"1080p", "720p", "480p"}

// SubtitleTrack is one caption track with a resolved read URL.
type SubtitleTrack struct {
	LanguageCode string `json:"language_code"`
	LanguageName string `json:"language_name"`
	URL          string `json:"url"`
}

// Service decides whether a viewer may watch a lesson's video and, if so,
// with which URL.
type Service struct {
	cfg     *config.Config
	lessons Lessons
	courses CourseDirectory
	signer  Signer
	log     zerolog.Logger
}

func NewService(cfg *config.Config, lessons Lessons, courses CourseDirectory, signer Signer, log zerolog.Logger) *Service {
	return &Service{
		cfg:     cfg,
		lessons: lessons,
		courses: courses,
		signer:  signer,
		log:     log.With().Str("component", "playback-service").Logger(),
	}
}

// Resolve authorizes the viewer and returns the playback decision. Videos
// that are not ready yet report their status without a URL.
func (s *Service) Resolve(ctx context.Context, lessonRef string, viewer Viewer) (*Info, error) {
	l, err := s.authorize(ctx, lessonRef, viewer)
	if err != nil {
		return nil, err
	}

	if l.VideoRef == nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeNotFound,
			"lesson has no video", nil, "")
	}
	v, err := s.lessons.GetVideo(ctx, *l.VideoRef)
	if err != nil {
		return nil, err
	}

	info := &Info{Status: v.Status}
	if v.Status != lesson.StatusReady {
		if v.ProcessingError != nil {
			info.Error = *v.ProcessingError
		}
		return info, nil
	}

	switch {
	case v.PlaybackID != nil:
		info.URL = fmt.Sprintf("https://%s/%s.m3u8", s.cfg.ProviderStreamDomain, *v.PlaybackID)
		info.SupportsAdaptive = true
		info.AvailableQualities = adaptiveLadder
	case v.StorageKey != nil:
		url, err := s.signer.PresignGet(ctx, *v.StorageKey, s.cfg.SignedURLTTL())
		if err != nil {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeUnavailable,
				"cannot sign playback URL", err, "")
		}
		expires := time.Now().Add(s.cfg.SignedURLTTL())
		info.URL = url
		info.ExpiresAt = &expires
		if v.Quality != "" {
			info.AvailableQualities = []string{v.Quality}
		}
	default:
		// Ready without a location should not happen; report it loudly.
		s.log.Error().Str("video_id", v.ID).Msg("ready video has neither playback id nor storage key")
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeInternal,
			"video has no playable location", nil, "")
	}
	return info, nil
}

// ResolveSubtitles authorizes the viewer and returns the lesson's caption
// tracks with read URLs.
func (s *Service) ResolveSubtitles(ctx context.Context, lessonRef string, viewer Viewer) ([]SubtitleTrack, error) {
	if _, err := s.authorize(ctx, lessonRef, viewer); err != nil {
		return nil, err
	}

	subs, err := s.lessons.Subtitles(ctx, lessonRef)
	if err != nil {
		return nil, err
	}

	tracks := make([]SubtitleTrack, 0, len(subs))
	for _, sub := range subs {
		url, err := s.signer.PresignGet(ctx, sub.StorageKey, s.cfg.SignedURLTTL())
		if err != nil {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeUnavailable,
				"cannot sign subtitle URL", err, "")
		}
		tracks = append(tracks, SubtitleTrack{
			LanguageCode: sub.LanguageCode,
			LanguageName: sub.LanguageName,
			URL:          url,
		})
	}
	return tracks, nil
}

// StreamURL resolves a store-hosted video object to a signed redirect URL.
// Only keys registered to a live video row are served, and only after the
// viewer passes the same lesson-level authorization as Resolve. Unregistered
// keys are not found, even when the object exists in the store.
func (s *Service) StreamURL(ctx context.Context, filename string, viewer Viewer) (string, error) {
	key, err := storage.BuildKey(storage.PrefixVideos, filename)
	if err != nil {
		return "", platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			"invalid file name", err, "")
	}
	v, err := s.lessons.GetVideoByStorageKey(ctx, key)
	if err != nil {
		if platformerrors.IsErrorType(err, platformerrors.ErrorTypeNotFound) {
			return "", platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeNotFound,
				"no such stored video", err, "")
		}
		return "", err
	}
	if _, err := s.authorize(ctx, v.LessonID, viewer); err != nil {
		return "", err
	}
	url, err := s.signer.PresignGet(ctx, key, s.cfg.SignedURLTTL())
	if err != nil {
		return "", platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeUnavailable,
			"cannot sign stream URL", err, "")
	}
	return url, nil
}

// SubtitleStreamURL resolves a registered caption track to a signed URL. The
// viewer must be authorized for the track's lesson; unregistered keys are not
// served even when the object exists.
func (s *Service) SubtitleStreamURL(ctx context.Context, filename string, viewer Viewer) (string, error) {
	key, err := storage.BuildKey(storage.PrefixSubtitles, filename)
	if err != nil {
		return "", platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			"invalid subtitle file name", err, "")
	}
	sub, err := s.lessons.SubtitleByKey(ctx, key)
	if err != nil {
		return "", err
	}
	if _, err := s.authorize(ctx, sub.LessonID, viewer); err != nil {
		return "", err
	}
	url, err := s.signer.PresignGet(ctx, key, s.cfg.SignedURLTTL())
	if err != nil {
		return "", platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeUnavailable,
			"cannot sign subtitle URL", err, "")
	}
	return url, nil
}

func (s *Service) authorize(ctx context.Context, lessonRef string, viewer Viewer) (*lesson.Lesson, error) {
	l, err := s.lessons.GetLesson(ctx, lessonRef)
	if err != nil {
		return nil, err
	}

	if viewer.isAdmin() || viewer.enrolledIn(l.CourseRef) {
		return l, nil
	}

	owner, err := s.courses.CourseOwner(ctx, l.CourseRef)
	if err == nil && owner == viewer.UserID {
		return l, nil
	}
	if err != nil && !platformerrors.IsErrorType(err, platformerrors.ErrorTypeNotFound) {
		return nil, err
	}

	return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeForbidden,
		"viewer is not enrolled in this course", nil, "")
}
