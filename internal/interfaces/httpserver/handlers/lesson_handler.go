package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"lms-server/internal/domain/lesson"
	"lms-server/internal/domain/notify"
	"lms-server/internal/infrastructure/auth"
	"lms-server/internal/interfaces/httpserver/requests"
	"lms-server/internal/interfaces/httpserver/responses"
	"lms-server/internal/utils/platformerrors"
)

// LessonHandler exposes lesson metadata and availability subscriptions.
type LessonHandler struct {
	lessons *lesson.Service
	notify  *notify.Service
	log     zerolog.Logger
}

func NewLessonHandler(lessons *lesson.Service, notifySvc *notify.Service, log zerolog.Logger) *LessonHandler {
	return &LessonHandler{
		lessons: lessons,
		notify:  notifySvc,
		log:     log.With().Str("component", "lesson-handler").Logger(),
	}
}

// Create registers a new lesson within a course.
func (h *LessonHandler) Create(c *gin.Context) {
	var req requests.CreateLessonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation, err.Error(), "")
		return
	}

	l, err := h.lessons.CreateLesson(c.Request.Context(), lesson.CreateLessonRequest{
		CourseRef:   req.CourseRef,
		Title:       req.Title,
		Description: req.Description,
		OrderIndex:  req.OrderIndex,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("lesson creation failed")
		responses.HandleError(c, err, "failed to create lesson")
		return
	}

	c.JSON(http.StatusCreated, responses.NewLessonResponse(l))
}

// Get returns one lesson by id.
func (h *LessonHandler) Get(c *gin.Context) {
	l, err := h.lessons.GetLesson(c.Request.Context(), c.Param("lesson_ref"))
	if err != nil {
		responses.HandleError(c, err, "lesson not found")
		return
	}
	c.JSON(http.StatusOK, responses.NewLessonResponse(l))
}

// DeleteVideo detaches the lesson's current video. The retired asset is
// queued for deletion and collected by the reconciliation sweep.
func (h *LessonHandler) DeleteVideo(c *gin.Context) {
	identity, ok := auth.FromContext(c)
	if !ok {
		responses.HandleNewError(c, platformerrors.ErrorTypeUnauthorized, "missing caller identity", "")
		return
	}

	lessonRef := c.Param("lesson_ref")
	if err := h.lessons.DeleteLessonVideo(c.Request.Context(), lessonRef); err != nil {
		responses.HandleError(c, err, "failed to delete lesson video")
		return
	}

	h.log.Info().Str("lesson_ref", lessonRef).Str("user_id", identity.UserID).Msg("lesson video detached")
	c.JSON(http.StatusOK, gin.H{"deleted": true, "lesson_ref": lessonRef})
}

// NotifyWhenReady subscribes the caller to the lesson's availability.
// Subscribing twice for the same lesson is rejected.
func (h *LessonHandler) NotifyWhenReady(c *gin.Context) {
	identity, ok := auth.FromContext(c)
	if !ok {
		responses.HandleNewError(c, platformerrors.ErrorTypeUnauthorized, "missing caller identity", "")
		return
	}

	lessonRef := c.Param("lesson_ref")
	if _, err := h.lessons.GetLesson(c.Request.Context(), lessonRef); err != nil {
		responses.HandleError(c, err, "lesson not found")
		return
	}

	if err := h.notify.Subscribe(c.Request.Context(), identity.UserID, lessonRef); err != nil {
		responses.HandleError(c, err, "subscription failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscribed": true, "lesson_ref": lessonRef})
}
