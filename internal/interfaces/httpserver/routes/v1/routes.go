package v1

import (
	"github.com/gin-gonic/gin"

	"lms-server/internal/interfaces/httpserver/handlers"
)

// Routes encapsulates versioned route registration.
type Routes struct {
	handlers *handlers.Provider
}

func NewRoutes(provider *handlers.Provider) *Routes {
	return &Routes{handlers: provider}
}

// Register attaches the v1 routes. Caller-facing routes go under the
// authenticated router; webhook callbacks authenticate by signature and stay
// on the public router.
func (r *Routes) Register(authed gin.IRouter, public gin.IRouter) {
	group := authed.Group("/v1")

	group.POST("/lessons", r.handlers.Lesson.Create)
	group.GET("/lessons/:lesson_ref", r.handlers.Lesson.Get)
	group.GET("/lessons/:lesson_ref/video", r.handlers.Playback.GetLessonVideo)
	group.DELETE("/lessons/:lesson_ref/video", r.handlers.Lesson.DeleteVideo)
	group.GET("/lessons/:lesson_ref/subtitles", r.handlers.Playback.GetLessonSubtitles)
	group.POST("/lessons/:lesson_ref/notify-when-ready", r.handlers.Lesson.NotifyWhenReady)

	group.POST("/videos/upload", r.handlers.Video.Upload)
	group.POST("/videos/direct-upload", r.handlers.Video.DirectUpload)
	group.POST("/videos/direct-upload/complete", r.handlers.Video.CompleteUpload)
	group.GET("/videos/:filename/stream", r.handlers.Video.Stream)

	group.POST("/videos/subtitles", r.handlers.Subtitle.Upload)
	group.GET("/videos/subtitles/:filename", r.handlers.Subtitle.Stream)

	public.Group("/v1").POST("/webhooks/transcode", r.handlers.Webhook.Transcode)
}
