package upload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"lms-server/internal/config"
	"lms-server/internal/domain/lesson"
	"lms-server/internal/infrastructure/metrics"
	"lms-server/internal/infrastructure/storage"
	"lms-server/internal/infrastructure/transcode"
	"lms-server/internal/utils/platformerrors"
)

// Target identifies where the client sends the video bytes.
type Target string

const (
	TargetProvider Target = "provider"
	TargetStore    Target = "store"
	TargetServer   Target = "server"
)

// Storage is the subset of object store operations the orchestrator uses.
type Storage interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	PresignPut(ctx context.Context, key string, contentType string, ttl time.Duration) (string, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	SupportsPresignedUploads() bool
}

// Provider is the transcoding side of an upload.
type Provider interface {
	SupportsDirectUpload() bool
	CreateDirectUpload(ctx context.Context) (*transcode.DirectUpload, error)
	Submit(ctx context.Context, sourceURL string) (string, error)
}

// TicketCache persists issued tickets for the idempotency window and tracks
// which upload references have already been finalized.
type TicketCache interface {
	PutTicket(ctx context.Context, fingerprint string, ticket any, ttl time.Duration) ([]byte, bool, error)
	ConsumeTicket(ctx context.Context, uploadRef string, ttl time.Duration) (bool, error)
}

// TicketRequest asks for an upload destination for one video file.
type TicketRequest struct {
	LessonRef   string
	UploaderRef string
	Filename    string
	ContentType string
	SizeBytes   int64
}

// Ticket tells the client where to send the bytes and how to finalize.
type Ticket struct {
	Target     Target    `json:"target"`
	UploadURL  string    `json:"upload_url"`
	UploadID   string    `json:"upload_id,omitempty"`
	StorageKey string    `json:"storage_key,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// FinalizeRequest reports a completed direct upload.
type FinalizeRequest struct {
	LessonRef   string
	UploaderRef string
	Target      Target
	UploadID    string
	StorageKey  string
	SizeBytes   int64
}

// ProxyRequest carries a server-proxied upload body.
type ProxyRequest struct {
	LessonRef   string
	UploaderRef string
	Filename    string
	ContentType string
	SizeBytes   int64
	Body        io.Reader
}

// Service hands out upload tickets, accepts proxied bodies, and turns
// completed uploads into video rows.
type Service struct {
	cfg      *config.Config
	store    Storage
	provider Provider
	lessons  *lesson.Service
	tickets  TicketCache
	log      zerolog.Logger
}

func NewService(cfg *config.Config, store Storage, provider Provider, lessons *lesson.Service, tickets TicketCache, log zerolog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		store:    store,
		provider: provider,
		lessons:  lessons,
		tickets:  tickets,
		log:      log.With().Str("component", "upload-service").Logger(),
	}
}

// Fingerprint derives the idempotency key for a ticket request. Two requests
// for the same lesson, file name, and size within the ticket TTL get the same
// destination back instead of a second one.
func (r TicketRequest) Fingerprint() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", r.LessonRef, r.UploaderRef, r.Filename, r.SizeBytes)))
	return hex.EncodeToString(sum[:])
}

// IssueTicket picks the best available upload target and returns a ticket
// for it. Provider-direct uploads are preferred; a store presigned PUT is the
// fallback; when neither is available the client must proxy through the
// server. Re-issuance within the ticket TTL for the same logical attempt
// returns the original ticket with created=false so no second video row is
// made.
func (s *Service) IssueTicket(ctx context.Context, req TicketRequest) (*Ticket, bool, error) {
	if err := s.validate(ctx, req.LessonRef, req.ContentType, req.SizeBytes); err != nil {
		return nil, false, err
	}

	ticket, err := s.buildTicket(ctx, req)
	if err != nil {
		return nil, false, err
	}

	stored, created, err := s.tickets.PutTicket(ctx, req.Fingerprint(), ticket, s.cfg.UploadTicketTTL())
	if err != nil {
		s.log.Warn().Err(err).Msg("ticket cache unavailable, serving uncached ticket")
		return ticket, true, nil
	}
	if created {
		return ticket, true, nil
	}

	var prior Ticket
	if err := json.Unmarshal(stored, &prior); err != nil {
		return ticket, true, nil
	}
	s.log.Debug().Str("lesson_ref", req.LessonRef).Msg("returning previously issued upload ticket")
	return &prior, false, nil
}

// DirectUpload issues a ticket and, for provider-direct targets, records the
// pending video row immediately so the provider webhook has something to
// land on. Store-direct and server-proxied tickets attach at finalize time
// instead, once the bytes are verifiably present.
func (s *Service) DirectUpload(ctx context.Context, req TicketRequest) (*Ticket, error) {
	ticket, created, err := s.IssueTicket(ctx, req)
	if err != nil {
		return nil, err
	}
	if created && ticket.Target == TargetProvider {
		if _, err := s.Finalize(ctx, FinalizeRequest{
			LessonRef:   req.LessonRef,
			UploaderRef: req.UploaderRef,
			Target:      TargetProvider,
			UploadID:    ticket.UploadID,
			SizeBytes:   req.SizeBytes,
		}); err != nil {
			return nil, err
		}
	}
	return ticket, nil
}

func (s *Service) buildTicket(ctx context.Context, req TicketRequest) (*Ticket, error) {
	now := time.Now()

	if s.provider.SupportsDirectUpload() {
		du, err := s.provider.CreateDirectUpload(ctx)
		if err == nil {
			return &Ticket{
				Target:    TargetProvider,
				UploadURL: du.UploadURL,
				UploadID:  du.UploadID,
				ExpiresAt: now.Add(time.Duration(du.ExpiresIn) * time.Second),
			}, nil
		}
		s.log.Warn().Err(err).Msg("provider direct upload unavailable, falling back to store")
	}

	if s.store.SupportsPresignedUploads() {
		key, err := s.buildVideoKey(req.Filename, now)
		if err != nil {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
				"cannot build object key from file name", err, "")
		}
		url, err := s.store.PresignPut(ctx, key, req.ContentType, s.cfg.UploadTicketTTL())
		if err != nil {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeUnavailable,
				"object store cannot issue upload URL", err, "")
		}
		return &Ticket{
			Target:     TargetStore,
			UploadURL:  url,
			StorageKey: key,
			ExpiresAt:  now.Add(s.cfg.UploadTicketTTL()),
		}, nil
	}

	return &Ticket{Target: TargetServer, ExpiresAt: now.Add(s.cfg.UploadTicketTTL())}, nil
}

// Finalize turns a completed direct upload into a video row on the lesson.
// Tickets are one-shot: replaying a finalize for an upload reference that has
// already been attached is a conflict, not a second video row.
func (s *Service) Finalize(ctx context.Context, req FinalizeRequest) (*lesson.Video, error) {
	switch req.Target {
	case TargetProvider:
		if req.UploadID == "" {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
				"upload_id is required for provider uploads", nil, "")
		}
		if err := s.consumeTicket(ctx, req.UploadID); err != nil {
			return nil, err
		}
		v, err := s.lessons.ReplaceVideo(ctx, lesson.AttachVideoRequest{
			LessonRef:   req.LessonRef,
			UploaderRef: req.UploaderRef,
			UploadID:    req.UploadID,
			SizeBytes:   req.SizeBytes,
		})
		if err != nil {
			metrics.RecordUpload(string(TargetProvider), "error", 0)
			return nil, err
		}
		metrics.RecordUpload(string(TargetProvider), "accepted", req.SizeBytes)
		return v, nil

	case TargetStore:
		if req.StorageKey == "" {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
				"storage_key is required for store uploads", nil, "")
		}
		ok, err := s.store.Exists(ctx, req.StorageKey)
		if err != nil {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeUnavailable,
				"cannot verify uploaded object", err, "")
		}
		if !ok {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
				"uploaded object not found in store", nil, "")
		}
		if err := s.consumeTicket(ctx, req.StorageKey); err != nil {
			return nil, err
		}
		return s.attachStored(ctx, req.LessonRef, req.UploaderRef, req.StorageKey, req.SizeBytes)

	default:
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			fmt.Sprintf("unknown upload target %q", req.Target), nil, "")
	}
}

// consumeTicket enforces one-shot finalization per upload reference. A cache
// outage degrades to unguarded finalize, same as ticket issuance.
func (s *Service) consumeTicket(ctx context.Context, uploadRef string) error {
	first, err := s.tickets.ConsumeTicket(ctx, uploadRef, s.cfg.UploadTicketTTL())
	if err != nil {
		s.log.Warn().Err(err).Msg("ticket cache unavailable, skipping consumption check")
		return nil
	}
	if !first {
		return platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeConflict,
			"upload has already been finalized", nil, "")
	}
	return nil
}

// Proxy accepts the video bytes through the API, verifies the container
// before committing anything, writes the object, and attaches it.
func (s *Service) Proxy(ctx context.Context, req ProxyRequest) (*lesson.Video, error) {
	if err := s.validate(ctx, req.LessonRef, req.ContentType, req.SizeBytes); err != nil {
		return nil, err
	}

	head := make([]byte, SniffBytes)
	n, err := io.ReadFull(req.Body, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			"could not read upload body", err, "")
	}
	head = head[:n]

	sniffed := SniffContainer(head)
	if sniffed == "" {
		metrics.RecordUpload(string(TargetServer), "rejected", 0)
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			"payload does not look like a supported video container", nil, "")
	}

	key, err := s.buildVideoKey(req.Filename, time.Now())
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			"cannot build object key from file name", err, "")
	}

	// Cap the stream one byte past the limit so oversize bodies fail instead
	// of silently truncating.
	body := io.MultiReader(
		bytes.NewReader(head),
		io.LimitReader(req.Body, s.cfg.MaxVideoBytes-int64(len(head))+1),
	)
	if err := s.store.Upload(ctx, key, body, req.SizeBytes, sniffed); err != nil {
		metrics.RecordUpload(string(TargetServer), "error", 0)
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeUnavailable,
			"object store write failed", err, "")
	}

	return s.attachStored(ctx, req.LessonRef, req.UploaderRef, key, req.SizeBytes)
}

// attachStored records a store-hosted object against the lesson. When the
// transcoding provider is configured the object is submitted for processing
// and tracked by asset id; otherwise it is served as-is and ready at once.
func (s *Service) attachStored(ctx context.Context, lessonRef, uploaderRef, key string, size int64) (*lesson.Video, error) {
	req := lesson.AttachVideoRequest{
		LessonRef:   lessonRef,
		UploaderRef: uploaderRef,
		SizeBytes:   size,
	}

	if s.provider.SupportsDirectUpload() {
		src, err := s.store.PresignGet(ctx, key, s.cfg.SignedURLTTL())
		if err == nil {
			assetID, subErr := s.provider.Submit(ctx, src)
			if subErr == nil {
				req.ProviderAssetID = assetID
			} else {
				s.log.Warn().Err(subErr).Str("key", key).Msg("provider submit failed, serving original")
			}
		}
	}
	if req.ProviderAssetID == "" {
		req.StorageKey = key
	}

	v, err := s.lessons.ReplaceVideo(ctx, req)
	if err != nil {
		metrics.RecordUpload(string(TargetStore), "error", 0)
		return nil, err
	}
	metrics.RecordUpload(string(TargetStore), "accepted", size)
	return v, nil
}

// SubtitleRequest carries one caption track body.
type SubtitleRequest struct {
	LessonRef    string
	LanguageCode string
	LanguageName string
	Filename     string
	ContentType  string
	SizeBytes    int64
	Body         io.Reader
}

const maxSubtitleBytes = 2 << 20

var allowedSubtitleMIMEs = map[string]bool{
	"text/vtt":             true,
	"text/plain":           true,
	"application/x-subrip": true,
}

// UploadSubtitle stores a caption track and registers it on the lesson.
// Clients that send no usable content type get sniffed instead of rejected;
// browsers routinely upload .vtt files as application/octet-stream.
func (s *Service) UploadSubtitle(ctx context.Context, req SubtitleRequest) (*lesson.Subtitle, error) {
	contentType := strings.ToLower(strings.TrimSpace(req.ContentType))
	body := req.Body
	if contentType == "" || contentType == "application/octet-stream" {
		head := make([]byte, 512)
		n, err := io.ReadFull(req.Body, head)
		if err != nil && err != io.ErrUnexpectedEOF {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
				"could not read subtitle body", err, "")
		}
		head = head[:n]
		detected := mimetype.Detect(head)
		contentType = detected.String()
		if i := strings.Index(contentType, ";"); i >= 0 {
			contentType = strings.TrimSpace(contentType[:i])
		}
		body = io.MultiReader(bytes.NewReader(head), req.Body)
	}
	if !allowedSubtitleMIMEs[contentType] {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			fmt.Sprintf("content type %q is not a subtitle type", req.ContentType), nil, "")
	}
	if req.SizeBytes > maxSubtitleBytes {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypePayloadTooBig,
			"subtitle file too large", nil, "")
	}

	name := storage.SanitizeName(req.Filename)
	if name == "" {
		name = "subtitle"
	}
	key, err := storage.BuildKey(storage.PrefixSubtitles, fmt.Sprintf("%d-%s", time.Now().UnixNano(), name))
	if err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			"cannot build object key from file name", err, "")
	}

	limited := io.LimitReader(body, maxSubtitleBytes+1)
	if err := s.store.Upload(ctx, key, limited, req.SizeBytes, contentType); err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeUnavailable,
			"object store write failed", err, "")
	}

	return s.lessons.AddSubtitle(ctx, req.LessonRef, req.LanguageCode, req.LanguageName, key)
}

func (s *Service) validate(ctx context.Context, lessonRef, contentType string, size int64) error {
	if _, err := s.lessons.GetLesson(ctx, lessonRef); err != nil {
		return err
	}
	if contentType != "" && !s.cfg.AllowsMIME(contentType) {
		return platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			fmt.Sprintf("content type %q is not an allowed video type", contentType), nil, "")
	}
	if size > s.cfg.MaxVideoBytes {
		return platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypePayloadTooBig,
			fmt.Sprintf("video exceeds the %d byte limit", s.cfg.MaxVideoBytes), nil, "")
	}
	if size < 0 {
		return platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			"size must not be negative", nil, "")
	}
	return nil
}

// buildVideoKey places objects flat under the videos/ prefix; the lesson
// association lives on the video row, and flat keys keep the stream route's
// single-segment filenames resolvable.
func (s *Service) buildVideoKey(filename string, now time.Time) (string, error) {
	name := storage.SanitizeName(filename)
	if name == "" {
		name = "video"
	}
	return storage.BuildKey(storage.PrefixVideos, fmt.Sprintf("%d-%s", now.UnixNano(), name))
}

