package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/pkg/enums"
)

// BookCopy is one physical, barcoded copy of a title. Status is written only
// through the guarded transition in the copy registry; Version counts those writes.
type BookCopy struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	BookID          uuid.UUID           `gorm:"column:book_id;type:uuid;not null;index:idx_book_copies_book_status,priority:1;uniqueIndex:idx_book_copies_book_number,priority:1"`
	CopyNumber      int                 `gorm:"column:copy_number;not null;uniqueIndex:idx_book_copies_book_number,priority:2"`
	Barcode         string              `gorm:"column:barcode;type:text;not null;uniqueIndex:idx_book_copies_barcode"`
	Condition       enums.CopyCondition `gorm:"column:condition;type:text;not null"`
	Status          enums.CopyStatus    `gorm:"column:status;type:text;not null;index:idx_book_copies_book_status,priority:2"`
	AcquisitionDate *datatypes.Date     `gorm:"column:acquisition_date;type:date"`
	Version         int                 `gorm:"column:version;not null"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName keeps the plural snake form explicit for raw guarded updates.
func (BookCopy) TableName() string {
	return "book_copies"
}

func (c *BookCopy) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
