package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"lms-server/internal/config"
	"lms-server/internal/domain/playback"
	"lms-server/internal/domain/upload"
	"lms-server/internal/infrastructure/auth"
	"lms-server/internal/interfaces/httpserver/requests"
	"lms-server/internal/interfaces/httpserver/responses"
	"lms-server/internal/utils/platformerrors"
)

// VideoHandler exposes the upload and stream endpoints.
type VideoHandler struct {
	cfg      *config.Config
	uploads  *upload.Service
	playback *playback.Service
	log      zerolog.Logger
}

func NewVideoHandler(cfg *config.Config, uploads *upload.Service, playbackSvc *playback.Service, log zerolog.Logger) *VideoHandler {
	return &VideoHandler{
		cfg:      cfg,
		uploads:  uploads,
		playback: playbackSvc,
		log:      log.With().Str("component", "video-handler").Logger(),
	}
}

// Upload accepts a multipart video body proxied through the API. The body is
// container-sniffed before anything is written to the store.
func (h *VideoHandler) Upload(c *gin.Context) {
	identity, ok := auth.FromContext(c)
	if !ok {
		responses.HandleNewError(c, platformerrors.ErrorTypeUnauthorized, "missing caller identity", "")
		return
	}

	lessonRef := c.Request.FormValue("lesson_ref")
	if lessonRef == "" {
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation, "lesson_ref is required", "")
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation, "file is required", "")
		return
	}
	defer file.Close()

	v, err := h.uploads.Proxy(c.Request.Context(), upload.ProxyRequest{
		LessonRef:   lessonRef,
		UploaderRef: identity.UserID,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		SizeBytes:   header.Size,
		Body:        file,
	})
	if err != nil {
		h.log.Error().Err(err).Str("lesson_ref", lessonRef).Msg("proxied upload failed")
		responses.HandleError(c, err, "upload failed")
		return
	}

	c.JSON(http.StatusOK, responses.NewVideoResponse(v))
}

// DirectUpload issues an upload ticket for client-driven uploads.
func (h *VideoHandler) DirectUpload(c *gin.Context) {
	identity, ok := auth.FromContext(c)
	if !ok {
		responses.HandleNewError(c, platformerrors.ErrorTypeUnauthorized, "missing caller identity", "")
		return
	}

	var req requests.DirectUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation, err.Error(), "")
		return
	}

	ticket, err := h.uploads.DirectUpload(c.Request.Context(), upload.TicketRequest{
		LessonRef:   req.LessonRef,
		UploaderRef: identity.UserID,
		Filename:    req.Filename,
		ContentType: req.ContentType,
		SizeBytes:   req.SizeBytes,
	})
	if err != nil {
		h.log.Error().Err(err).Str("lesson_ref", req.LessonRef).Msg("ticket issuance failed")
		responses.HandleError(c, err, "cannot issue upload ticket")
		return
	}

	c.JSON(http.StatusOK, responses.NewTicketResponse(ticket))
}

// CompleteUpload finalizes a store-direct upload into a video row.
func (h *VideoHandler) CompleteUpload(c *gin.Context) {
	identity, ok := auth.FromContext(c)
	if !ok {
		responses.HandleNewError(c, platformerrors.ErrorTypeUnauthorized, "missing caller identity", "")
		return
	}

	var req requests.CompleteUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation, err.Error(), "")
		return
	}

	v, err := h.uploads.Finalize(c.Request.Context(), upload.FinalizeRequest{
		LessonRef:   req.LessonRef,
		UploaderRef: identity.UserID,
		Target:      upload.Target(req.Target),
		UploadID:    req.UploadID,
		StorageKey:  req.StorageKey,
		SizeBytes:   req.SizeBytes,
	})
	if err != nil {
		h.log.Error().Err(err).Str("lesson_ref", req.LessonRef).Msg("upload finalize failed")
		responses.HandleError(c, err, "cannot finalize upload")
		return
	}

	c.JSON(http.StatusOK, responses.NewVideoResponse(v))
}

// Stream redirects to a signed URL for a store-hosted video object. The
// viewer must be authorized for the owning lesson. Range requests are the
// hosting URL's concern.
func (h *VideoHandler) Stream(c *gin.Context) {
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
	url, err := h.playback.StreamURL(c.Request.Context(), c.Param("filename"), viewer)
	if err != nil {
		responses.HandleError(c, err, "cannot resolve stream")
		return
	}
	c.Redirect(http.StatusFound, url)
}
