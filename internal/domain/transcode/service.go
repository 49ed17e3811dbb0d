package transcode

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"lms-server/internal/config"
	"lms-server/internal/domain/lesson"
	"lms-server/internal/infrastructure/metrics"
	"lms-server/internal/infrastructure/transcode"
	"lms-server/internal/utils/platformerrors"
)

// Lessons is the slice of the lesson service the adapter mutates.
type Lessons interface {
	GetVideoByUploadID(ctx context.Context, uploadID string) (*lesson.Video, error)
	GetVideoByProviderAssetID(ctx context.Context, assetID string) (*lesson.Video, error)
	MarkAssetCreated(ctx context.Context, videoID, assetID string) (*lesson.Video, error)
	SetVideoStatus(ctx context.Context, videoID string, target lesson.Status, upd lesson.StatusUpdate) (*lesson.Video, error)
}

// EventBuffer parks webhook events that arrive before their video row exists.
type EventBuffer interface {
	MarkEventSeen(ctx context.Context, eventID string, window time.Duration) (bool, error)
	BufferPendingEvent(ctx context.Context, uploadID string, payload []byte, ttl time.Duration) error
	PendingEventIDs(ctx context.Context) ([]string, error)
	PeekPendingEvent(ctx context.Context, uploadID string) ([]byte, error)
	DropPendingEvent(ctx context.Context, uploadID string) error
}

// Service verifies, deduplicates, and applies provider webhook events, and
// fronts the provider client for upload/submit calls.
type Service struct {
	cfg     *config.Config
	client  *transcode.Client
	lessons Lessons
	buffer  EventBuffer
	log     zerolog.Logger
}

func NewService(cfg *config.Config, client *transcode.Client, lessons Lessons, buffer EventBuffer, log zerolog.Logger) *Service {
	return &Service{
		cfg:     cfg,
		client:  client,
		lessons: lessons,
		buffer:  buffer,
		log:     log.With().Str("component", "transcode-service").Logger(),
	}
}

// SupportsDirectUpload reports whether the provider path is configured.
func (s *Service) SupportsDirectUpload() bool {
	return s.client.Enabled()
}

// CreateDirectUpload requests a provider upload target.
func (s *Service) CreateDirectUpload(ctx context.Context) (*transcode.DirectUpload, error) {
	return s.client.CreateDirectUpload(ctx)
}

// Submit hands a store-hosted object to the provider and returns the asset id.
func (s *Service) Submit(ctx context.Context, sourceURL string) (string, error) {
	return s.client.Submit(ctx, sourceURL)
}

// HandleWebhook authenticates, deduplicates, and applies one webhook
// delivery. Provider retries of an already-applied event acknowledge without
// mutating state; events for unknown upload ids are buffered for the
// reconciler.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signatureHeader string) error {
	if err := VerifySignature(signatureHeader, body, s.cfg.ProviderWebhookSecret, time.Now()); err != nil {
		metrics.RecordWebhookEvent("unknown", "unverified")
		return platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeUnauthorized,
			"webhook signature rejected", err, "")
	}

	ev, err := ParseEvent(body)
	if err != nil {
		metrics.RecordWebhookEvent("unknown", "malformed")
		return platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			"malformed webhook event", err, "")
	}

	first, err := s.buffer.MarkEventSeen(ctx, ev.ID, s.cfg.WebhookDedupeWindow)
	if err != nil {
		return platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeInternal,
			"webhook dedupe lookup failed", err, "")
	}
	if !first {
		s.log.Debug().Str("event_id", ev.ID).Str("type", ev.Type).Msg("duplicate webhook event acknowledged")
		metrics.RecordWebhookEvent(ev.Type, "duplicate")
		return nil
	}

	return s.Apply(ctx, ev, body)
}

// Apply routes a verified event onto the state machine. Exposed for the
// reconciler, which replays buffered events.
func (s *Service) Apply(ctx context.Context, ev *Event, body []byte) error {
	v, err := s.locateVideo(ctx, ev)
	if err != nil {
		if platformerrors.IsErrorType(err, platformerrors.ErrorTypeNotFound) && ev.Data.UploadID != "" {
			s.log.Info().
				Str("event_id", ev.ID).
				Str("upload_id", ev.Data.UploadID).
				Msg("no video row for webhook yet, buffering")
			metrics.RecordWebhookEvent(ev.Type, "buffered")
			return s.buffer.BufferPendingEvent(ctx, ev.Data.UploadID, body, s.cfg.WebhookBufferTTL)
		}
		metrics.RecordWebhookEvent(ev.Type, "orphaned")
		return err
	}

	return s.applyToVideo(ctx, ev, v)
}

func (s *Service) applyToVideo(ctx context.Context, ev *Event, v *lesson.Video) error {
	var err error
	switch ev.Type {
	case EventAssetCreated:
		_, err = s.lessons.MarkAssetCreated(ctx, v.ID, ev.Data.AssetID)
	case EventAssetReady:
		_, err = s.lessons.SetVideoStatus(ctx, v.ID, lesson.StatusReady, lesson.StatusUpdate{PlaybackID: ev.Data.PlaybackID})
	case EventAssetErrored:
		_, err = s.lessons.SetVideoStatus(ctx, v.ID, lesson.StatusFailed, lesson.StatusUpdate{Error: ev.Data.Error})
	default:
		s.log.Debug().Str("type", ev.Type).Msg("ignoring unhandled webhook event type")
		metrics.RecordWebhookEvent(ev.Type, "ignored")
		return nil
	}

	// A late event that would move the row backward is a no-op; the provider
	// still gets its acknowledgement.
	if platformerrors.IsErrorType(err, platformerrors.ErrorTypeConflict) {
		metrics.RecordWebhookEvent(ev.Type, "stale")
		return nil
	}
	if err != nil {
		metrics.RecordWebhookEvent(ev.Type, "error")
		return err
	}
	metrics.RecordWebhookEvent(ev.Type, "applied")
	return nil
}

// DrainPending replays buffered events whose video rows may exist by now.
// Events that still have no row are left in the buffer to expire on their
// original TTL. Returns how many events were applied.
func (s *Service) DrainPending(ctx context.Context) (int, error) {
	ids, err := s.buffer.PendingEventIDs(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, uploadID := range ids {
		payload, err := s.buffer.PeekPendingEvent(ctx, uploadID)
		if err != nil {
			continue
		}
		ev, err := ParseEvent(payload)
		if err != nil {
			s.log.Warn().Str("upload_id", uploadID).Err(err).Msg("dropping unparseable buffered event")
			_ = s.buffer.DropPendingEvent(ctx, uploadID)
			continue
		}

		v, err := s.locateVideo(ctx, ev)
		if err != nil {
			if !platformerrors.IsErrorType(err, platformerrors.ErrorTypeNotFound) {
				s.log.Warn().Str("upload_id", uploadID).Err(err).Msg("buffered event replay lookup failed")
			}
			continue
		}

		if err := s.applyToVideo(ctx, ev, v); err != nil {
			s.log.Warn().Str("upload_id", uploadID).Err(err).Msg("buffered event replay failed")
			continue
		}
		applied++
		_ = s.buffer.DropPendingEvent(ctx, uploadID)
	}
	return applied, nil
}

func (s *Service) locateVideo(ctx context.Context, ev *Event) (*lesson.Video, error) {
	if ev.Data.UploadID != "" {
		if v, err := s.lessons.GetVideoByUploadID(ctx, ev.Data.UploadID); err == nil {
			return v, nil
		} else if !platformerrors.IsErrorType(err, platformerrors.ErrorTypeNotFound) {
			return nil, err
		}
	}
	if ev.Data.AssetID != "" {
		return s.lessons.GetVideoByProviderAssetID(ctx, ev.Data.AssetID)
	}
	return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeNotFound,
		"webhook event carries no upload or asset id", nil, "")
}
