package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Book is a catalog title. Its row doubles as the per-title queue lock.
type Book struct {
	ID              uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	Title           string           `gorm:"column:title;type:text;not null"`
	Author          string           `gorm:"column:author;type:text;not null"`
	ISBN            *string          `gorm:"column:isbn;type:text;uniqueIndex:idx_books_isbn"`
	ReplacementCost decimal.Decimal  `gorm:"column:replacement_cost;type:numeric(12,2);not null"`
	DailyFineRate   *decimal.Decimal `gorm:"column:daily_fine_rate;type:numeric(12,2)"`
	FineGraceDays   *int             `gorm:"column:fine_grace_days"`
	FineCap         *decimal.Decimal `gorm:"column:fine_cap;type:numeric(12,2)"`
	CreatedAt       time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (b *Book) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}
