package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"lms-server/internal/domain/playback"
	"lms-server/internal/infrastructure/auth"
	"lms-server/internal/interfaces/httpserver/responses"
	"lms-server/internal/utils/platformerrors"
)

// PlaybackHandler answers "can this viewer watch this lesson, and how".
type PlaybackHandler struct {
	playback *playback.Service
	log      zerolog.Logger
}

func NewPlaybackHandler(playbackSvc *playback.Service, log zerolog.Logger) *PlaybackHandler {
	return &PlaybackHandler{
		playback: playbackSvc,
		log:      log.With().Str("component", "playback-handler").Logger(),
	}
}

// GetLessonVideo authorizes the caller and returns the playback decision.
func (h *PlaybackHandler) GetLessonVideo(c *gin.Context) {
	identity, ok := auth.FromContext(c)
	if !ok {
		responses.HandleNewError(c, platformerrors.ErrorTypeUnauthorized, "missing caller identity", "")
		return
	}

	info, err := h.playback.Resolve(c.Request.Context(), c.Param("lesson_ref"), playback.Viewer{
		UserID:      identity.UserID,
		Role:        identity.Role,
		Enrollments: identity.Enrollments,
	})
	if err != nil {
		responses.HandleError(c, err, "cannot resolve playback")
		return
	}

	c.JSON(http.StatusOK, responses.NewPlaybackResponse(info))
}

// GetLessonSubtitles authorizes the caller and lists caption tracks with
// signed URLs.
func (h *PlaybackHandler) GetLessonSubtitles(c *gin.Context) {
	identity, ok := auth.FromContext(c)
	if !ok {
		responses.HandleNewError(c, platformerrors.ErrorTypeUnauthorized, "missing caller identity", "")
		return
	}

	tracks, err := h.playback.ResolveSubtitles(c.Request.Context(), c.Param("lesson_ref"), playback.Viewer{
		UserID:      identity.UserID,
		Role:        identity.Role,
		Enrollments: identity.Enrollments,
	})
	if err != nil {
		responses.HandleError(c, err, "cannot resolve subtitles")
		return
	}

	c.JSON(http.StatusOK, gin.H{"subtitles": tracks})
}
