package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/internal/loans"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
	"github.com/angelmondragon/circulation-backend/pkg/pagination"
)

type fakeOverdueLedger struct {
	pages     map[string]pagination.Page[loans.OverdueLoan]
	notified  map[uuid.UUID]bool
	failFor   uuid.UUID
	cursors   []string
	listError error
}

func (f *fakeOverdueLedger) ListOverdue(ctx context.Context, params pagination.Params, now time.Time) (pagination.Page[loans.OverdueLoan], error) {
	f.cursors = append(f.cursors, params.Cursor)
	if f.listError != nil {
		return pagination.Page[loans.OverdueLoan]{}, f.listError
	}
	return f.pages[params.Cursor], nil
}

func (f *fakeOverdueLedger) NotifyOverdue(ctx context.Context, tx *gorm.DB, item loans.OverdueLoan) (bool, error) {
	if item.Loan.ID == f.failFor {
		return false, errors.New("insert failed")
	}
	if f.notified[item.Loan.ID] {
		return false, nil
	}
	f.notified[item.Loan.ID] = true
	return true, nil
}

type passthroughTx struct{}

func (passthroughTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func overdueItem() loans.OverdueLoan {
	return loans.OverdueLoan{
		Loan:           models.Loan{ID: uuid.New()},
		DaysOverdue:    3,
		CalculatedFine: decimal.NewFromInt(150),
	}
}

func newOverdueJob(t *testing.T, ledger *fakeOverdueLedger) Job {
	t.Helper()
	job, err := NewOverdueJob(OverdueJobParams{
		Logger:   logger.New(logger.Options{ServiceName: "test"}),
		DB:       passthroughTx{},
		Ledger:   ledger,
		PageSize: 2,
	})
	if err != nil {
		t.Fatalf("NewOverdueJob: %v", err)
	}
	return job
}

func TestOverdueJobWalksEveryPageOnce(t *testing.T) {
	a, b, c := overdueItem(), overdueItem(), overdueItem()
	ledger := &fakeOverdueLedger{
		pages: map[string]pagination.Page[loans.OverdueLoan]{
			"":       {Items: []loans.OverdueLoan{a, b}, NextCursor: "page-2"},
			"page-2": {Items: []loans.OverdueLoan{c}},
		},
		notified: map[uuid.UUID]bool{},
	}
	job := newOverdueJob(t, ledger)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(ledger.notified) != 3 {
		t.Fatalf("expected 3 notices, got %d", len(ledger.notified))
	}
	if len(ledger.cursors) != 2 || ledger.cursors[1] != "page-2" {
		t.Fatalf("unexpected cursor walk %v", ledger.cursors)
	}

	// a second run finds the same loans but queues nothing new
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(ledger.notified) != 3 {
		t.Fatalf("expected notices to stay at 3, got %d", len(ledger.notified))
	}
}

func TestOverdueJobCollectsFailuresAndContinues(t *testing.T) {
	bad, good := overdueItem(), overdueItem()
	ledger := &fakeOverdueLedger{
		pages: map[string]pagination.Page[loans.OverdueLoan]{
			"": {Items: []loans.OverdueLoan{bad, good}},
		},
		notified: map[uuid.UUID]bool{},
		failFor:  bad.Loan.ID,
	}
	job := newOverdueJob(t, ledger)

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected aggregated error")
	}
	if !ledger.notified[good.Loan.ID] {
		t.Fatal("expected the healthy loan to be notified")
	}
}

func TestOverdueJobSurfacesListFailure(t *testing.T) {
	ledger := &fakeOverdueLedger{listError: errors.New("db down"), notified: map[uuid.UUID]bool{}}
	job := newOverdueJob(t, ledger)
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
