package dbtest

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
)

var seq atomic.Int64

// SeedBook inserts a title with the given replacement cost.
func SeedBook(t testing.TB, conn *gorm.DB, replacementCost string) *models.Book {
	t.Helper()
	cost := decimal.RequireFromString(replacementCost)
	book := &models.Book{
		Title:           fmt.Sprintf("Title %d", seq.Add(1)),
		Author:          "Test Author",
		ReplacementCost: cost,
	}
	if err := conn.Create(book).Error; err != nil {
		t.Fatalf("seed book: %v", err)
	}
	return book
}

// SeedCopy inserts the next numbered copy of the title with the given status.
func SeedCopy(t testing.TB, conn *gorm.DB, bookID uuid.UUID, status enums.CopyStatus) *models.BookCopy {
	t.Helper()
	n := seq.Add(1)
	var count int64
	conn.Model(&models.BookCopy{}).Where("book_id = ?", bookID).Count(&count)
	bookCopy := &models.BookCopy{
		BookID:     bookID,
		CopyNumber: int(count) + 1,
		Barcode:    fmt.Sprintf("BC-%06d", n),
		Condition:  enums.CopyConditionGood,
		Status:     status,
	}
	if err := conn.Create(bookCopy).Error; err != nil {
		t.Fatalf("seed copy: %v", err)
	}
	return bookCopy
}

// SeedStudent inserts an active student allowed maxBooks loans.
func SeedStudent(t testing.TB, conn *gorm.DB, maxBooks int) *models.Student {
	t.Helper()
	student := &models.Student{
		StudentNumber: fmt.Sprintf("S-%06d", seq.Add(1)),
		Name:          "Test Student",
		MaxBooks:      maxBooks,
	}
	if err := conn.Create(student).Error; err != nil {
		t.Fatalf("seed student: %v", err)
	}
	return student
}

// ReloadCopy re-reads the copy row.
func ReloadCopy(t testing.TB, conn *gorm.DB, id uuid.UUID) models.BookCopy {
	t.Helper()
	var bookCopy models.BookCopy
	if err := conn.Where("id = ?", id).First(&bookCopy).Error; err != nil {
		t.Fatalf("reload copy: %v", err)
	}
	return bookCopy
}
