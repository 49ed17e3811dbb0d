package requests

// CreateLessonRequest creates a lesson within a course.
type CreateLessonRequest struct {
	CourseRef   string `json:"course_ref" binding:"required"`
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	OrderIndex  int    `json:"order_index"`
}

// DirectUploadRequest asks for an upload destination for one video.
type DirectUploadRequest struct {
	LessonRef   string `json:"lesson_ref" binding:"required"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

// CompleteUploadRequest reports a finished store-direct upload.
type CompleteUploadRequest struct {
	LessonRef  string `json:"lesson_ref" binding:"required"`
	Target     string `json:"target" binding:"required"`
	UploadID   string `json:"upload_id"`
	StorageKey string `json:"storage_key"`
	SizeBytes  int64  `json:"size_bytes"`
}
