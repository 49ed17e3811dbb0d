package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	transcodesvc "lms-server/internal/domain/transcode"
	"lms-server/internal/interfaces/httpserver/responses"
	"lms-server/internal/utils/platformerrors"
)

// maxWebhookBytes bounds provider webhook bodies.
const maxWebhookBytes = 1 << 20

// WebhookHandler receives transcoding provider callbacks.
type WebhookHandler struct {
	transcode *transcodesvc.Service
	log       zerolog.Logger
}

func NewWebhookHandler(transcode *transcodesvc.Service, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		transcode: transcode,
		log:       log.With().Str("component", "webhook-handler").Logger(),
	}
}

// Transcode verifies and applies one provider webhook delivery.
func (h *WebhookHandler) Transcode(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		responses.HandleNewError(c, platformerrors.ErrorTypeValidation, "cannot read webhook body", "")
		return
	}

	sig := c.GetHeader(transcodesvc.SignatureHeader)
	if err := h.transcode.HandleWebhook(c.Request.Context(), body, sig); err != nil {
		h.log.Warn().Err(err).Msg("webhook rejected")
		responses.HandleError(c, err, "webhook rejected")
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
