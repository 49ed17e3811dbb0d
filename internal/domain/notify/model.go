package notify

import "time"

// Subscription is one user's standing request to be told when a lesson's
// video becomes watchable.
type Subscription struct {
	ID        uint      `json:"id"`
	UserID    string    `json:"user_id"`
	LessonID  string    `json:"lesson_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Notification is the message delivered when a video turns ready.
type Notification struct {
	UserID   string    `json:"user_id"`
	LessonID string    `json:"lesson_id"`
	VideoID  string    `json:"video_id"`
	Event    string    `json:"event"`
	SentAt   time.Time `json:"sent_at"`
}

// EventVideoReady is the only event type the fan-out emits today.
const EventVideoReady = "lesson.video.ready"
