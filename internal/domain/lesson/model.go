package lesson

import "time"

// Lesson is a unit within a course holding at most one live video.
type Lesson struct {
	ID          string    `json:"id"`
	CourseRef   string    `json:"course_ref"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	OrderIndex  int       `json:"order_index"`
	VideoRef    *string   `json:"video_ref,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Video is a durable record of one uploaded asset with a lifecycle state.
// Exactly one of StorageKey or ProviderAssetID is set at steady state.
type Video struct {
	ID                    string     `json:"id"`
	LessonID              string     `json:"lesson_id"`
	UploaderID            string     `json:"uploader_id"`
	StorageKey            *string    `json:"storage_key,omitempty"`
	ProviderAssetID       *string    `json:"provider_asset_id,omitempty"`
	UploadID              *string    `json:"upload_id,omitempty"`
	PlaybackID            *string    `json:"playback_id,omitempty"`
	SizeBytes             int64      `json:"size_bytes"`
	Status                Status     `json:"status"`
	ProcessingError       *string    `json:"processing_error,omitempty"`
	Quality               string     `json:"quality,omitempty"`
	Stale                 bool       `json:"-"`
	CreatedAt             time.Time  `json:"created_at"`
	ProcessingStartedAt   *time.Time `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time `json:"processing_completed_at,omitempty"`
}

// Subtitle is a caption track bound to a lesson.
type Subtitle struct {
	ID           string    `json:"id"`
	LessonID     string    `json:"lesson_id"`
	LanguageCode string    `json:"language_code"`
	LanguageName string    `json:"language_name"`
	StorageKey   string    `json:"storage_key"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateLessonRequest carries validated lesson creation fields.
type CreateLessonRequest struct {
	CourseRef   string
	Title       string
	Description string
	OrderIndex  int
}

// AttachVideoRequest binds a completed upload to a lesson. Exactly one of
// StorageKey or ProviderAssetID must be set; UploadID maps asynchronous
// provider webhooks back to the row.
type AttachVideoRequest struct {
	LessonRef       string
	UploaderRef     string
	StorageKey      string
	ProviderAssetID string
	UploadID        string
	SizeBytes       int64
	Quality         string
}

// StatusUpdate carries a requested lifecycle transition.
type StatusUpdate struct {
	PlaybackID string
	Error      string
}
