package circulation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/internal/loans"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
)

// CurrentFine returns the fine of a loan. Fine ids are loan ids.
func (c *Coordinator) CurrentFine(ctx context.Context, fineID uuid.UUID) (*loans.FineView, error) {
	ctx, _, err := c.authorize(ctx, enums.PermCirculationRead, enums.PermFinesSettle)
	if err != nil {
		return nil, err
	}
	return c.ledger.CurrentFine(ctx, fineID, c.clock())
}

// PayFine records payment of a frozen fine.
func (c *Coordinator) PayFine(ctx context.Context, fineID uuid.UUID) (*loans.FineView, error) {
	return c.settle(ctx, "pay_fine", fineID, c.ledger.PayFine)
}

// WaiveFine forgives a frozen fine.
func (c *Coordinator) WaiveFine(ctx context.Context, fineID uuid.UUID) (*loans.FineView, error) {
	return c.settle(ctx, "waive_fine", fineID, c.ledger.WaiveFine)
}

type settleFunc func(ctx context.Context, tx *gorm.DB, loanID uuid.UUID, now time.Time) (*models.Loan, error)

func (c *Coordinator) settle(ctx context.Context, op string, fineID uuid.UUID, fn settleFunc) (*loans.FineView, error) {
	ctx, _, err := c.authorize(ctx, enums.PermFinesSettle)
	if err != nil {
		return nil, err
	}
	now := c.clock()

	var loan *models.Loan
	err = c.run(ctx, op, func(tx *gorm.DB) error {
		var err error
		loan, err = fn(ctx, tx, fineID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return c.ledger.FineFor(ctx, loan, now)
}
