package responses

import (
	"time"

	"lms-server/internal/domain/lesson"
	"lms-server/internal/domain/playback"
	"lms-server/internal/domain/upload"
)

// LessonResponse mirrors a lesson row for API consumers.
type LessonResponse struct {
	ID          string  `json:"id"`
	CourseRef   string  `json:"course_ref"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	OrderIndex  int     `json:"order_index"`
	VideoRef    *string `json:"video_ref,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

func NewLessonResponse(l *lesson.Lesson) LessonResponse {
	return LessonResponse{
		ID:          l.ID,
		CourseRef:   l.CourseRef,
		Title:       l.Title,
		Description: l.Description,
		OrderIndex:  l.OrderIndex,
		VideoRef:    l.VideoRef,
		CreatedAt:   l.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// VideoResponse reports an uploaded video and its lifecycle state.
type VideoResponse struct {
	ID         string `json:"id"`
	LessonID   string `json:"lesson_id"`
	Status     string `json:"status"`
	SizeBytes  int64  `json:"size_bytes"`
	Error      string `json:"error,omitempty"`
	PlaybackID string `json:"playback_id,omitempty"`
}

func NewVideoResponse(v *lesson.Video) VideoResponse {
	resp := VideoResponse{
		ID:        v.ID,
		LessonID:  v.LessonID,
		Status:    string(v.Status),
		SizeBytes: v.SizeBytes,
	}
	if v.ProcessingError != nil {
		resp.Error = *v.ProcessingError
	}
	if v.PlaybackID != nil {
		resp.PlaybackID = *v.PlaybackID
	}
	return resp
}

// TicketResponse is the upload destination handed to the client.
type TicketResponse struct {
	Target     string `json:"target"`
	UploadURL  string `json:"upload_url,omitempty"`
	UploadID   string `json:"upload_id,omitempty"`
	StorageKey string `json:"storage_key,omitempty"`
	ExpiresIn  int    `json:"expires_in"`
}

func NewTicketResponse(t *upload.Ticket) TicketResponse {
	expiresIn := int(time.Until(t.ExpiresAt).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	return TicketResponse{
		Target:     string(t.Target),
		UploadURL:  t.UploadURL,
		UploadID:   t.UploadID,
		StorageKey: t.StorageKey,
		ExpiresIn:  expiresIn,
	}
}

// PlaybackResponse is the playback decision for a lesson video.
type PlaybackResponse struct {
	Status             string   `json:"status"`
	StreamURL          string   `json:"stream_url,omitempty"`
	Error              string   `json:"error,omitempty"`
	SupportsAdaptive   bool     `json:"supports_adaptive"`
	AvailableQualities []string `json:"available_qualities"`
	ExpiresAt          *string  `json:"expires_at,omitempty"`
}

func NewPlaybackResponse(info *playback.Info) PlaybackResponse {
	resp := PlaybackResponse{
		Status:             string(info.Status),
		StreamURL:          info.URL,
		Error:              info.Error,
		SupportsAdaptive:   info.SupportsAdaptive,
		AvailableQualities: info.AvailableQualities,
	}
	if resp.AvailableQualities == nil {
		resp.AvailableQualities = []string{}
	}
	if info.ExpiresAt != nil {
		s := info.ExpiresAt.UTC().Format(time.RFC3339)
		resp.ExpiresAt = &s
	}
	return resp
}

// SubtitleResponse reports one caption track.
type SubtitleResponse struct {
	ID           string `json:"id"`
	LessonID     string `json:"lesson_id"`
	LanguageCode string `json:"language_code"`
	LanguageName string `json:"language_name"`
	StorageKey   string `json:"storage_key"`
}

func NewSubtitleResponse(s *lesson.Subtitle) SubtitleResponse {
	return SubtitleResponse{
		ID:           s.ID,
		LessonID:     s.LessonID,
		LanguageCode: s.LanguageCode,
		LanguageName: s.LanguageName,
		StorageKey:   s.StorageKey,
	}
}
