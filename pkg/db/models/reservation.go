package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/pkg/enums"
)

// Reservation is a student's place in a title's queue. Ids are UUIDv7 so that
// ordering by id matches insertion order within the same reserved_at instant.
type Reservation struct {
	ID          uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	BookID      uuid.UUID               `gorm:"column:book_id;type:uuid;not null;index:idx_reservations_book_status,priority:1"`
	StudentID   uuid.UUID               `gorm:"column:student_id;type:uuid;not null;index"`
	Status      enums.ReservationStatus `gorm:"column:status;type:text;not null;index:idx_reservations_book_status,priority:2"`
	ReservedAt  time.Time               `gorm:"column:reserved_at;not null"`
	NotifiedAt  *time.Time              `gorm:"column:notified_at"`
	ExpiresAt   *time.Time              `gorm:"column:expires_at;index"`
	FulfilledAt *time.Time              `gorm:"column:fulfilled_at"`
	CancelledAt *time.Time              `gorm:"column:cancelled_at"`
	CopyID      *uuid.UUID              `gorm:"column:copy_id;type:uuid"`
	CreatedAt   time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *Reservation) BeforeCreate(tx *gorm.DB) error {
	if r.ID != uuid.Nil {
		return nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate reservation id: %w", err)
	}
	r.ID = id
	return nil
}
