//go:build db
// +build db

package loans

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/internal/books"
	"github.com/angelmondragon/circulation-backend/internal/copies"
	"github.com/angelmondragon/circulation-backend/internal/fines"
	"github.com/angelmondragon/circulation-backend/internal/students"
	pkgdb "github.com/angelmondragon/circulation-backend/pkg/db"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/angelmondragon/circulation-backend/pkg/outbox"
)

func openPostgres(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := os.Getenv("CIRCULATION_DB_DSN")
	if dsn == "" {
		t.Skip("CIRCULATION_DB_DSN is not set")
	}

	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := pkgdb.SyncSchema(conn); err != nil {
		t.Fatalf("sync schema: %v", err)
	}
	return conn
}

// Two borrows by one student on different titles hold different title locks,
// so only the student row lock keeps them from both passing the limit check.
func TestBorrowLimitHoldsAcrossTitles(t *testing.T) {
	conn := openPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC()
	tag := uuid.NewString()[:8]

	student := &models.Student{StudentNumber: "PG-" + tag, Name: "Limit Student", MaxBooks: 2}
	if err := conn.Create(student).Error; err != nil {
		t.Fatalf("create student: %v", err)
	}

	var bookIDs []uuid.UUID
	newCopy := func(label string, status enums.CopyStatus) *models.BookCopy {
		book := &models.Book{Title: "Limit " + label, Author: "Test", ReplacementCost: decimal.NewFromInt(20)}
		if err := conn.Create(book).Error; err != nil {
			t.Fatalf("create book: %v", err)
		}
		bookIDs = append(bookIDs, book.ID)
		bookCopy := &models.BookCopy{
			BookID:     book.ID,
			CopyNumber: 1,
			Barcode:    fmt.Sprintf("PG-%s-%s", tag, label),
			Condition:  enums.CopyConditionGood,
			Status:     status,
		}
		if err := conn.Create(bookCopy).Error; err != nil {
			t.Fatalf("create copy: %v", err)
		}
		return bookCopy
	}

	held := newCopy("held", enums.CopyStatusBorrowed)
	if err := conn.Create(&models.Loan{
		CopyID: held.ID, BookID: held.BookID, StudentID: student.ID,
		Type: enums.LoanTypeBorrow, Status: enums.LoanStatusActive,
		BorrowedAt: now, DueDate: now.Add(loanPeriod), FineAmount: decimal.Zero,
	}).Error; err != nil {
		t.Fatalf("create loan: %v", err)
	}
	targets := []*models.BookCopy{newCopy("a", enums.CopyStatusAvailable), newCopy("b", enums.CopyStatusAvailable)}

	t.Cleanup(func() {
		conn.Where("student_id = ?", student.ID).Delete(&models.Loan{})
		conn.Where("book_id IN ?", bookIDs).Delete(&models.BookCopy{})
		conn.Where("id IN ?", bookIDs).Delete(&models.Book{})
		conn.Where("id = ?", student.ID).Delete(&models.Student{})
	})

	defaults := fines.Policy{DailyRate: decimal.NewFromInt(50)}
	bookRepo := books.NewRepository(conn)
	ledger, err := NewLedger(LedgerParams{
		DB:       conn,
		Copies:   copies.NewRegistry(conn),
		Students: students.NewDirectory(conn, defaults),
		Books:    bookRepo,
		Events:   outbox.NewService(outbox.NewRepository(conn), nil),
		Policy: Policy{
			LoanPeriod:    loanPeriod,
			MaxRenewals:   2,
			FineThreshold: decimal.NewFromInt(500),
			FineDefaults:  defaults,
		},
	})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}

	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		results = make([]error, len(targets))
	)
	for i, bookCopy := range targets {
		wg.Add(1)
		go func(i int, bookCopy *models.BookCopy) {
			defer wg.Done()
			<-start
			results[i] = conn.Transaction(func(tx *gorm.DB) error {
				if _, err := bookRepo.WithTx(tx).LockForUpdate(ctx, bookCopy.BookID); err != nil {
					return err
				}
				_, err := ledger.Borrow(ctx, tx, BorrowRequest{Copy: bookCopy, StudentID: student.ID, Now: now})
				return err
			})
		}(i, bookCopy)
	}
	close(start)
	wg.Wait()

	var succeeded, overLimit int
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case pkgerrors.HasReason(err, pkgerrors.ReasonStudentOverLimit):
			overLimit++
		default:
			t.Fatalf("unexpected borrow error: %v", err)
		}
	}
	if succeeded != 1 || overLimit != 1 {
		t.Fatalf("expected one borrow and one limit rejection, got %d and %d", succeeded, overLimit)
	}

	var active int64
	if err := conn.Model(&models.Loan{}).
		Where("student_id = ? AND status = ?", student.ID, enums.LoanStatusActive).
		Count(&active).Error; err != nil {
		t.Fatalf("count loans: %v", err)
	}
	if active != int64(student.MaxBooks) {
		t.Fatalf("expected %d active loans, got %d", student.MaxBooks, active)
	}
}
