package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/internal/loans"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
	"github.com/angelmondragon/circulation-backend/pkg/pagination"
)

const overduePageSize = 100

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type overdueNotifier interface {
	ListOverdue(ctx context.Context, params pagination.Params, now time.Time) (pagination.Page[loans.OverdueLoan], error)
	NotifyOverdue(ctx context.Context, tx *gorm.DB, item loans.OverdueLoan) (bool, error)
}

// OverdueJobParams configure the overdue notice scheduler.
type OverdueJobParams struct {
	Logger   *logger.Logger
	DB       txRunner
	Ledger   overdueNotifier
	PageSize int
}

// NewOverdueJob builds the job that queues one overdue notice per late loan.
func NewOverdueJob(params OverdueJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("loan ledger required")
	}
	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = overduePageSize
	}
	return &overdueJob{
		logg:     params.Logger,
		db:       params.DB,
		ledger:   params.Ledger,
		pageSize: pageSize,
		now:      time.Now,
	}, nil
}

type overdueJob struct {
	logg     *logger.Logger
	db       txRunner
	ledger   overdueNotifier
	pageSize int
	now      func() time.Time
}

func (j *overdueJob) Name() string { return "overdue-detection" }

func (j *overdueJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	var (
		errs     []error
		scanned  int
		notified int
		cursor   string
	)
	for {
		page, err := j.ledger.ListOverdue(ctx, pagination.Params{Limit: j.pageSize, Cursor: cursor}, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("list overdue loans: %w", err))
			break
		}
		for _, item := range page.Items {
			scanned++
			var created bool
			err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
				var err error
				created, err = j.ledger.NotifyOverdue(ctx, tx, item)
				return err
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("notify loan %s: %w", item.Loan.ID, err))
				continue
			}
			if created {
				notified++
			}
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"loans_scanned":  scanned,
		"notices_queued": notified,
	})
	j.logg.Info(logCtx, "overdue detection complete")
	return multierr.Combine(errs...)
}
