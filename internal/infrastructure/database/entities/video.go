package entities

import "time"

// Video represents one uploaded asset and its processing lifecycle.
// Replacements never mutate a terminal row; they insert a new row and mark
// the prior one stale.
type Video struct {
	ID                    string    `gorm:"type:varchar(40);primaryKey"`
	LessonID              string    `gorm:"type:varchar(40);index;not null"`
	UploaderID            string    `gorm:"type:varchar(64);not null"`
	StorageKey            *string   `gorm:"type:varchar(255)"`
	ProviderAssetID       *string   `gorm:"type:varchar(128);index"`
	UploadID              *string   `gorm:"type:varchar(128);index"`
	PlaybackID            *string   `gorm:"type:varchar(128)"`
	SizeBytes             int64     `gorm:"not null;default:0"`
	Status                string    `gorm:"type:varchar(16);index;not null"`
	ProcessingError       *string   `gorm:"type:varchar(1024)"`
	Quality               string    `gorm:"type:varchar(16)"`
	Stale                 bool      `gorm:"not null;default:false"`
	CreatedAt             time.Time `gorm:"autoCreateTime"`
	ProcessingStartedAt   *time.Time
	ProcessingCompletedAt *time.Time
}

func (Video) TableName() string {
	return "videos"
}

// Subtitle is a caption track bound to a lesson.
type Subtitle struct {
	ID           string    `gorm:"type:varchar(40);primaryKey"`
	LessonID     string    `gorm:"type:varchar(40);index;not null"`
	LanguageCode string    `gorm:"type:varchar(8);not null"`
	LanguageName string    `gorm:"type:varchar(64);not null"`
	StorageKey   string    `gorm:"type:varchar(255);not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

func (Subtitle) TableName() string {
	return "subtitles"
}

// StaleObject queues an object store key for deletion by the GC worker.
type StaleObject struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	StorageKey string    `gorm:"type:varchar(255);uniqueIndex;not null"`
	EnqueuedAt time.Time `gorm:"autoCreateTime"`
}

func (StaleObject) TableName() string {
	return "stale_objects"
}

// AvailabilitySubscription records a user waiting for a lesson's video to
// become ready. Unique per (user, lesson).
type AvailabilitySubscription struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	UserID    string    `gorm:"type:varchar(64);uniqueIndex:idx_sub_user_lesson;not null"`
	LessonID  string    `gorm:"type:varchar(40);uniqueIndex:idx_sub_user_lesson;index;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (AvailabilitySubscription) TableName() string {
	return "availability_subscriptions"
}
