package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/circulation-backend/internal/reservations"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
)

type holdExpirer interface {
	ExpireReadyHolds(ctx context.Context, now time.Time) (reservations.ExpiryResult, error)
}

// HoldExpiryJobParams configure the reservation expiry sweep.
type HoldExpiryJobParams struct {
	Logger *logger.Logger
	Queue  holdExpirer
}

// NewHoldExpiryJob builds the job that expires lapsed holds and stale requests.
func NewHoldExpiryJob(params HoldExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Queue == nil {
		return nil, fmt.Errorf("reservation queue required")
	}
	return &holdExpiryJob{
		logg:  params.Logger,
		queue: params.Queue,
		now:   time.Now,
	}, nil
}

type holdExpiryJob struct {
	logg  *logger.Logger
	queue holdExpirer
	now   func() time.Time
}

func (j *holdExpiryJob) Name() string { return "reservation-hold-expiry" }

func (j *holdExpiryJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	result, err := j.queue.ExpireReadyHolds(ctx, now)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"expired_ready":   result.ExpiredReady,
		"expired_pending": result.ExpiredPending,
		"promoted":        result.Promoted,
	})
	if err != nil {
		return fmt.Errorf("expire holds: %w", err)
	}
	j.logg.Info(logCtx, "reservation expiry sweep complete")
	return nil
}
