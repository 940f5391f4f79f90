package entities

import (
	"github.com/google/uuid"
	"time"
)

// Doctor is the record behind a public recording link.
type Doctor struct {
	ID                uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Name              string    `json:"name" gorm:"type:varchar(255);not null"`
	Degree            string    `json:"degree" gorm:"type:varchar(255)"`
	Topic             string    `json:"topic" gorm:"type:varchar(500)"`
	IsVideoProcessing bool      `json:"is_video_processing" gorm:"not null;default:false"`
	IsVideoCompleted  bool      `json:"is_video_completed" gorm:"not null;default:false"`
	FilePath          *string   `json:"file_path" gorm:"type:varchar(500)"`
	Orientation       *string   `json:"orientation" gorm:"type:varchar(20)"`
	FrameColor        *string   `json:"frame_color" gorm:"type:varchar(20)"`
	CreatedAt         time.Time `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (Doctor) TableName() string {
	return "doctors"
}
