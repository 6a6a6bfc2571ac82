package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Student is the directory projection the circulation engine needs.
type Student struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	StudentNumber string    `gorm:"column:student_number;type:text;not null;uniqueIndex:idx_students_number"`
	Name          string    `gorm:"column:name;type:text;not null"`
	Email         *string   `gorm:"column:email;type:text"`
	MaxBooks      int       `gorm:"column:max_books;not null"`
	Suspended     bool      `gorm:"column:suspended;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Student) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
