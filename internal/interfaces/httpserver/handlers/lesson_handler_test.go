package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lms-server/internal/config"
	"lms-server/internal/domain/lesson"
	"lms-server/internal/domain/notify"
	"lms-server/internal/infrastructure/auth"
	"lms-server/internal/interfaces/httpserver/handlers"
	"lms-server/internal/utils/platformerrors"
)

type lessonRepo struct {
	lessons  map[string]*lesson.Lesson
	created  []*lesson.Lesson
	detached []string
}

func newLessonRepo() *lessonRepo {
	return &lessonRepo{lessons: make(map[string]*lesson.Lesson)}
}

func (r *lessonRepo) CreateLesson(ctx context.Context, l *lesson.Lesson) error {
	r.lessons[l.ID] = l
	r.created = append(r.created, l)
	return nil
}

func (r *lessonRepo) GetLesson(ctx context.Context, id string) (*lesson.Lesson, error) {
	if l, ok := r.lessons[id]; ok {
		return l, nil
	}
	return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeNotFound, "lesson not found", nil, "")
}

func (r *lessonRepo) AttachVideo(ctx context.Context, lessonID string, v *lesson.Video) error {
	return nil
}

func (r *lessonRepo) DetachVideo(ctx context.Context, lessonID string) error {
	l, ok := r.lessons[lessonID]
	if !ok {
		return platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeNotFound, "lesson not found", nil, "")
	}
	l.VideoRef = nil
	r.detached = append(r.detached, lessonID)
	return nil
}

func (r *lessonRepo) GetVideo(ctx context.Context, id string) (*lesson.Video, error) {
	return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeNotFound, "video not found", nil, "")
}

func (r *lessonRepo) GetVideoByUploadID(ctx context.Context, uploadID string) (*lesson.Video, error) {
	return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeNotFound, "video not found", nil, "")
}

func (r *lessonRepo) GetVideoByProviderAssetID(ctx context.Context, assetID string) (*lesson.Video, error) {
	return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeNotFound, "video not found", nil, "")
}

func (r *lessonRepo) GetVideoByStorageKey(ctx context.Context, storageKey string) (*lesson.Video, error) {
	return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeNotFound, "video not found", nil, "")
}

func (r *lessonRepo) MutateVideo(ctx context.Context, videoID string, mutate func(*lesson.Video) error) (*lesson.Video, error) {
	return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeNotFound, "video not found", nil, "")
}

func (r *lessonRepo) CreateSubtitle(ctx context.Context, s *lesson.Subtitle) error { return nil }

func (r *lessonRepo) ListSubtitles(ctx context.Context, lessonID string) ([]lesson.Subtitle, error) {
	return nil, nil
}

func (r *lessonRepo) GetSubtitleByKey(ctx context.Context, storageKey string) (*lesson.Subtitle, error) {
	return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeNotFound, "subtitle not found", nil, "")
}

type subscriptionRepo struct {
	pairs map[string]bool
}

func (r *subscriptionRepo) Create(ctx context.Context, userID, lessonID string) (bool, error) {
	if r.pairs == nil {
		r.pairs = make(map[string]bool)
	}
	key := userID + "|" + lessonID
	if r.pairs[key] {
		return false, nil
	}
	r.pairs[key] = true
	return true, nil
}

func (r *subscriptionRepo) ListByLesson(ctx context.Context, lessonID string) ([]notify.Subscription, error) {
	return nil, nil
}

func (r *subscriptionRepo) LessonsWithSubscribers(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (r *subscriptionRepo) Delete(ctx context.Context, id uint) error { return nil }

type noopQueue struct{}

func (noopQueue) EnqueueNotification(ctx context.Context, payload []byte) error { return nil }

// newLessonRouter wires the handler behind the header-identity middleware
// auth uses when JWT validation is disabled.
func newLessonRouter(t *testing.T, repo *lessonRepo) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	lessons := lesson.NewService(repo, zerolog.Nop())
	notifySvc := notify.NewService(&subscriptionRepo{}, noopQueue{}, zerolog.Nop())
	h := handlers.NewLessonHandler(lessons, notifySvc, zerolog.Nop())

	validator, err := auth.NewValidator(context.Background(), &config.Config{}, zerolog.Nop())
	require.NoError(t, err)

	router := gin.New()
	router.Use(validator.Middleware())
	router.POST("/v1/lessons", h.Create)
	router.GET("/v1/lessons/:lesson_ref", h.Get)
	router.POST("/v1/lessons/:lesson_ref/notify-when-ready", h.NotifyWhenReady)
	router.DELETE("/v1/lessons/:lesson_ref/video", h.DeleteVideo)
	return router
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", "user_1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestLessonHandler_Create(t *testing.T) {
	repo := newLessonRepo()
	router := newLessonRouter(t, repo)

	t.Run("creates a lesson", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/v1/lessons",
			`{"course_ref":"crs_1","title":"Intro to Go","order_index":2}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, strings.HasPrefix(resp["id"].(string), "les_"))
		assert.Equal(t, "crs_1", resp["course_ref"])
		assert.Equal(t, "Intro to Go", resp["title"])
		assert.Equal(t, float64(2), resp["order_index"])
		require.Len(t, repo.created, 1)
	})

	t.Run("rejects a body missing required fields", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/v1/lessons", `{"title":"Intro to Go"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects a too-short title", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/v1/lessons", `{"course_ref":"crs_1","title":"ab"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/v1/lessons", `{"course_ref":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestLessonHandler_Get(t *testing.T) {
	repo := newLessonRepo()
	repo.lessons["les_1"] = &lesson.Lesson{ID: "les_1", CourseRef: "crs_1", Title: "Intro to Go"}
	router := newLessonRouter(t, repo)

	t.Run("returns an existing lesson", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/v1/lessons/les_1", "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "les_1", resp["id"])
	})

	t.Run("unknown lesson is a 404", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/v1/lessons/les_missing", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestLessonHandler_DeleteVideo(t *testing.T) {
	repo := newLessonRepo()
	videoRef := "vid_1"
	repo.lessons["les_1"] = &lesson.Lesson{ID: "les_1", CourseRef: "crs_1", Title: "Intro to Go", VideoRef: &videoRef}
	router := newLessonRouter(t, repo)

	t.Run("detaches the current video", func(t *testing.T) {
		w := doJSON(router, http.MethodDelete, "/v1/lessons/les_1/video", "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.JSONEq(t, `{"deleted":true,"lesson_ref":"les_1"}`, w.Body.String())
		assert.Equal(t, []string{"les_1"}, repo.detached)
		assert.Nil(t, repo.lessons["les_1"].VideoRef)
	})

	t.Run("unknown lesson is a 404", func(t *testing.T) {
		w := doJSON(router, http.MethodDelete, "/v1/lessons/les_missing/video", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestLessonHandler_NotifyWhenReady(t *testing.T) {
	repo := newLessonRepo()
	repo.lessons["les_1"] = &lesson.Lesson{ID: "les_1", CourseRef: "crs_1", Title: "Intro to Go"}
	router := newLessonRouter(t, repo)

	t.Run("subscribes the caller", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/v1/lessons/les_1/notify-when-ready", "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.JSONEq(t, `{"subscribed":true,"lesson_ref":"les_1"}`, w.Body.String())
	})

	t.Run("repeat subscription is rejected", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/v1/lessons/les_1/notify-when-ready", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown lesson is a 404", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/v1/lessons/les_missing/notify-when-ready", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
