package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"lms-server/internal/domain/playback"
	"lms-server/internal/domain/upload"
	"lms-server/internal/infrastructure/auth"
	"lms-server/internal/interfaces/httpserver/responses"
	"lms-server/internal/utils/platformerrors"
)

// SubtitleHandler exposes caption upload and retrieval.
type SubtitleHandler struct {
	uploads  *upload.Service
	playback *playback.Service
	log      zerolog.Logger
}

func NewSubtitleHandler(uploads *upload.Service, playbackSvc *playback.Service, log zerolog.Logger) *SubtitleHandler {
	return &SubtitleHandler{
		uploads:  uploads,
		playback: playbackSvc,
		log:      log.With().Str("component", "subtitle-handler").Logger(),
	}
}

// Upload accepts a multipart caption file and binds it to a lesson.
func (h *SubtitleHandler) Upload(c *gin.Context) {
	lessonRef := c.Request.FormValue("lesson_ref")
	languageCode := c.Request.FormValue("language_code")
	languageName := c.Request.FormValue("language_name")
	if lessonRef == "" || languageCode == "" {
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation, "lesson_ref and language_code are required", "")
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation, "file is required", "")
		return
	}
	defer file.Close()

	sub, err := h.uploads.UploadSubtitle(c.Request.Context(), upload.SubtitleRequest{
		LessonRef:    lessonRef,
		LanguageCode: languageCode,
		LanguageName: languageName,
		Filename:     header.Filename,
		ContentType:  header.Header.Get("Content-Type"),
		SizeBytes:    header.Size,
		Body:         file,
	})
	if err != nil {
		h.log.Error().Err(err).Str("lesson_ref", lessonRef).Msg("subtitle upload failed")
		responses.HandleError(c, err, "subtitle upload failed")
		return
	}

	c.JSON(http.StatusOK, responses.NewSubtitleResponse(sub))
}

// Stream redirects to a signed URL for a registered caption track. The viewer
// must be authorized for the track's lesson.
func (h *SubtitleHandler) Stream(c *gin.Context) {
	identity, ok := auth.FromContext(c)
	if !ok {
		responses.HandleNewError(c, platformerrors.ErrorTypeUnauthorized, "missing caller identity", "")
		return
	}

	viewer := playback.Viewer{
		UserID:      identity.UserID,
		Role:        identity.Role,
		Enrollments: identity.Enrollments,
	}
	url, err := h.playback.SubtitleStreamURL(c.Request.Context(), c.Param("filename"), viewer)
	if err != nil {
		responses.HandleError(c, err, "cannot resolve subtitle")
		return
	}
	c.Redirect(http.StatusFound, url)
}
