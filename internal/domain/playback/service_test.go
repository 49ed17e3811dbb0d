package playback_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lms-server/internal/config"
	"lms-server/internal/domain/lesson"
	"lms-server/internal/domain/playback"
	"lms-server/internal/utils/platformerrors"
)

type mockLessons struct {
	lessons    map[string]*lesson.Lesson
	videos     map[string]*lesson.Video
	videoByKey map[string]*lesson.Video
	subtitles  map[string][]lesson.Subtitle
	subByKey   map[string]*lesson.Subtitle
}

func (m *mockLessons) GetLesson(ctx context.Context, id string) (*lesson.Lesson, error) {
	if l, ok := m.lessons[id]; ok {
		return l, nil
	}
	return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository,
		platformerrors.ErrorTypeNotFound, "lesson not found", nil, "")
}

func (m *mockLessons) GetVideo(ctx context.Context, id string) (*lesson.Video, error) {
	if v, ok := m.videos[id]; ok {
		return v, nil
	}
	return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository,
		platformerrors.ErrorTypeNotFound, "video not found", nil, "")
}

func (m *mockLessons) GetVideoByStorageKey(ctx context.Context, storageKey string) (*lesson.Video, error) {
	if v, ok := m.videoByKey[storageKey]; ok {
		return v, nil
	}
	return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository,
		platformerrors.ErrorTypeNotFound, "video not found for storage key", nil, "")
}

func (m *mockLessons) Subtitles(ctx context.Context, lessonRef string) ([]lesson.Subtitle, error) {
	return m.subtitles[lessonRef], nil
}

func (m *mockLessons) SubtitleByKey(ctx context.Context, storageKey string) (*lesson.Subtitle, error) {
	if s, ok := m.subByKey[storageKey]; ok {
		return s, nil
	}
	return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository,
		platformerrors.ErrorTypeNotFound, "subtitle not found", nil, "")
}

type mockCourses struct {
	owners map[string]string
}

func (m *mockCourses) CourseOwner(ctx context.Context, courseRef string) (string, error) {
	if o, ok := m.owners[courseRef]; ok {
		return o, nil
	}
	return "", platformerrors.NewError(ctx, platformerrors.LayerRepository,
		platformerrors.ErrorTypeNotFound, "course not found", nil, "")
}

type mockSigner struct{}

func (m *mockSigner) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://store.example.com/signed/" + key, nil
}

func strPtr(s string) *string { return &s }

func playbackFixture() (*playback.Service, *mockLessons) {
	lessons := &mockLessons{
		lessons: map[string]*lesson.Lesson{
			"les_1": {ID: "les_1", CourseRef: "crs_1", VideoRef: strPtr("vid_1")},
			"les_2": {ID: "les_2", CourseRef: "crs_1"},
		},
		videos: map[string]*lesson.Video{
			"vid_1": {ID: "vid_1", Status: lesson.StatusReady, PlaybackID: strPtr("pb_1")},
		},
		videoByKey: make(map[string]*lesson.Video),
		subByKey:   make(map[string]*lesson.Subtitle),
	}
	courses := &mockCourses{owners: map[string]string{"crs_1": "usr_owner"}}
	cfg := &config.Config{ProviderStreamDomain: "stream.example.com", SignedURLTTLSeconds: 3600}
	return playback.NewService(cfg, lessons, courses, &mockSigner{}, zerolog.Nop()), lessons
}

var (
	enrolledViewer = playback.Viewer{UserID: "usr_student", Enrollments: []string{"crs_1"}}
	ownerViewer    = playback.Viewer{UserID: "usr_owner"}
	adminViewer    = playback.Viewer{UserID: "usr_admin", Role: "admin"}
	strangerViewer = playback.Viewer{UserID: "usr_other", Enrollments: []string{"crs_9"}}
)

func TestResolve_Authorization(t *testing.T) {
	svc, _ := playbackFixture()

	tests := []struct {
		name      string
		viewer    playback.Viewer
		forbidden bool
	}{
		{"enrolled student may watch", enrolledViewer, false},
		{"course owner may watch", ownerViewer, false},
		{"admin may watch", adminViewer, false},
		{"stranger is forbidden", strangerViewer, true},
		{"enrollment in another course does not help", strangerViewer, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Resolve(context.Background(), "les_1", tt.viewer)
			if tt.forbidden {
				require.Error(t, err)
				assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeForbidden))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestResolve_ProviderHostedVideo(t *testing.T) {
	svc, _ := playbackFixture()

	info, err := svc.Resolve(context.Background(), "les_1", enrolledViewer)
	require.NoError(t, err)
	assert.Equal(t, lesson.StatusReady, info.Status)
	assert.Equal(t, "https://stream.example.com/pb_1.m3u8", info.URL)
	assert.True(t, info.SupportsAdaptive)
	assert.Equal(t, []string{"1080p", "720p", "480p"}, info.AvailableQualities)
	assert.Nil(t, info.ExpiresAt)
}

func TestResolve_StoreHostedVideo(t *testing.T) {
	svc, lessons := playbackFixture()
	lessons.videos["vid_1"] = &lesson.Video{
		ID: "vid_1", Status: lesson.StatusReady,
		StorageKey: strPtr("videos/1-a.mp4"), Quality: "720p",
	}

	info, err := svc.Resolve(context.Background(), "les_1", enrolledViewer)
	require.NoError(t, err)
	assert.Equal(t, "https://store.example.com/signed/videos/1-a.mp4", info.URL)
	assert.False(t, info.SupportsAdaptive)
	assert.Equal(t, []string{"720p"}, info.AvailableQualities)
	require.NotNil(t, info.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *info.ExpiresAt, time.Minute)
}

func TestResolve_NotReadyStatesHaveNoURL(t *testing.T) {
	svc, lessons := playbackFixture()

	t.Run("processing", func(t *testing.T) {
		lessons.videos["vid_1"] = &lesson.Video{ID: "vid_1", Status: lesson.StatusProcessing}
		info, err := svc.Resolve(context.Background(), "les_1", enrolledViewer)
		require.NoError(t, err)
		assert.Equal(t, lesson.StatusProcessing, info.Status)
		assert.Empty(t, info.URL)
	})

	t.Run("failed carries the error", func(t *testing.T) {
		lessons.videos["vid_1"] = &lesson.Video{
			ID: "vid_1", Status: lesson.StatusFailed, ProcessingError: strPtr("bad codec"),
		}
		info, err := svc.Resolve(context.Background(), "les_1", enrolledViewer)
		require.NoError(t, err)
		assert.Equal(t, lesson.StatusFailed, info.Status)
		assert.Equal(t, "bad codec", info.Error)
		assert.Empty(t, info.URL)
	})
}

func TestResolve_LessonWithoutVideo(t *testing.T) {
	svc, _ := playbackFixture()

	_, err := svc.Resolve(context.Background(), "les_2", enrolledViewer)
	require.Error(t, err)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeNotFound))
}

func TestResolve_ReadyWithoutLocationIsInternal(t *testing.T) {
	svc, lessons := playbackFixture()
	lessons.videos["vid_1"] = &lesson.Video{ID: "vid_1", Status: lesson.StatusReady}

	_, err := svc.Resolve(context.Background(), "les_1", enrolledViewer)
	require.Error(t, err)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeInternal))
}

func TestResolveSubtitles(t *testing.T) {
	svc, lessons := playbackFixture()
	lessons.subtitles = map[string][]lesson.Subtitle{
		"les_1": {
			{LanguageCode: "en", LanguageName: "English", StorageKey: "subtitles/1-en.vtt"},
			{LanguageCode: "pt-BR", LanguageName: "Português", StorageKey: "subtitles/1-pt.vtt"},
		},
	}

	tracks, err := svc.ResolveSubtitles(context.Background(), "les_1", enrolledViewer)
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	assert.Equal(t, "en", tracks[0].LanguageCode)
	assert.Equal(t, "https://store.example.com/signed/subtitles/1-en.vtt", tracks[0].URL)

	_, err = svc.ResolveSubtitles(context.Background(), "les_1", strangerViewer)
	require.Error(t, err)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeForbidden))
}

func TestStreamURL(t *testing.T) {
	t.Run("unregistered key is not found even when the object exists", func(t *testing.T) {
		// The store may hold orphaned or not-yet-finalized objects; no
		// metadata row means no URL, for anyone.
		svc, _ := playbackFixture()
		_, err := svc.StreamURL(context.Background(), "42-private.mp4", adminViewer)
		require.Error(t, err)
		assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeNotFound))
	})

	t.Run("stranger is forbidden on a registered key", func(t *testing.T) {
		svc, lessons := playbackFixture()
		lessons.videoByKey["videos/1-a.mp4"] = &lesson.Video{
			ID: "vid_1", LessonID: "les_1", Status: lesson.StatusReady, StorageKey: strPtr("videos/1-a.mp4"),
		}
		_, err := svc.StreamURL(context.Background(), "1-a.mp4", strangerViewer)
		require.Error(t, err)
		assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeForbidden))
	})

	t.Run("enrolled viewer gets a signed URL", func(t *testing.T) {
		svc, lessons := playbackFixture()
		lessons.videoByKey["videos/1-a.mp4"] = &lesson.Video{
			ID: "vid_1", LessonID: "les_1", Status: lesson.StatusReady, StorageKey: strPtr("videos/1-a.mp4"),
		}
		url, err := svc.StreamURL(context.Background(), "1-a.mp4", enrolledViewer)
		require.NoError(t, err)
		assert.Equal(t, "https://store.example.com/signed/videos/1-a.mp4", url)
	})
}

func TestSubtitleStreamURL_OnlyServesRegisteredTracks(t *testing.T) {
	svc, lessons := playbackFixture()

	_, err := svc.SubtitleStreamURL(context.Background(), "1-en.vtt", enrolledViewer)
	require.Error(t, err)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeNotFound))

	lessons.subByKey["subtitles/1-en.vtt"] = &lesson.Subtitle{LessonID: "les_1", StorageKey: "subtitles/1-en.vtt"}
	url, err := svc.SubtitleStreamURL(context.Background(), "1-en.vtt", enrolledViewer)
	require.NoError(t, err)
	assert.Equal(t, "https://store.example.com/signed/subtitles/1-en.vtt", url)
}

func TestSubtitleStreamURL_RequiresAuthorization(t *testing.T) {
	svc, lessons := playbackFixture()
	lessons.subByKey["subtitles/1-en.vtt"] = &lesson.Subtitle{LessonID: "les_1", StorageKey: "subtitles/1-en.vtt"}

	_, err := svc.SubtitleStreamURL(context.Background(), "1-en.vtt", strangerViewer)
	require.Error(t, err)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeForbidden))
}
