package handlers

import (
	"github.com/rs/zerolog"

	"lms-server/internal/config"
	"lms-server/internal/domain/lesson"
	"lms-server/internal/domain/notify"
	"lms-server/internal/domain/playback"
	"lms-server/internal/domain/transcode"
	"lms-server/internal/domain/upload"
)

// Provider wires HTTP handlers.
type Provider struct {
	Lesson   *LessonHandler
	Video    *VideoHandler
	Playback *PlaybackHandler
	Subtitle *SubtitleHandler
	Webhook  *WebhookHandler
}

func NewProvider(
	cfg *config.Config,
	lessons *lesson.Service,
	uploads *upload.Service,
	playbackSvc *playback.Service,
	notifySvc *notify.Service,
	transcodeSvc *transcode.Service,
	log zerolog.Logger,
) *Provider {
	return &Provider{
		Lesson:   NewLessonHandler(lessons, notifySvc, log),
		Video:    NewVideoHandler(cfg, uploads, playbackSvc, log),
		Playback: NewPlaybackHandler(playbackSvc, log),
		Subtitle: NewSubtitleHandler(uploads, playbackSvc, log),
		Webhook:  NewWebhookHandler(transcodeSvc, log),
	}
}
