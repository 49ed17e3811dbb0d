package entities

import "time"

// Lesson represents a unit within a course holding at most one live video.
type Lesson struct {
	ID          string    `gorm:"type:varchar(40);primaryKey"`
	CourseRef   string    `gorm:"type:varchar(40);index;not null"`
	Title       string    `gorm:"type:varchar(200);not null"`
	Description string    `gorm:"type:varchar(5000)"`
	OrderIndex  int       `gorm:"not null;default:0"`
	VideoRef    *string   `gorm:"type:varchar(40)"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

func (Lesson) TableName() string {
	return "lessons"
}

// Course holds the minimal course fields the video subsystem reads.
// Course CRUD itself is owned by the wider platform.
type Course struct {
	ID        string    `gorm:"type:varchar(40);primaryKey"`
	OwnerID   string    `gorm:"type:varchar(64);index;not null"`
	Title     string    `gorm:"type:varchar(200)"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (Course) TableName() string {
	return "courses"
}
