// Package circulation composes the copy registry, loan ledger and reservation
// queue into the operations exposed over HTTP. Each mutation runs in a single
// transaction, locking title, copy, loan and reservation in that order.
package circulation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/internal/books"
	"github.com/angelmondragon/circulation-backend/internal/copies"
	"github.com/angelmondragon/circulation-backend/internal/loans"
	"github.com/angelmondragon/circulation-backend/internal/reservations"
	"github.com/angelmondragon/circulation-backend/internal/students"
	"github.com/angelmondragon/circulation-backend/pkg/auth"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
	"github.com/angelmondragon/circulation-backend/pkg/metrics"
	"github.com/angelmondragon/circulation-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Params wires the coordinator.
type Params struct {
	Tx       txRunner
	Copies   *copies.Registry
	Books    *books.Repository
	Students *students.Directory
	Ledger   *loans.Ledger
	Queue    *reservations.Queue
	Logger   *logger.Logger
	Metrics  *metrics.CirculationMetrics
	Now      func() time.Time
}

type Coordinator struct {
	tx       txRunner
	copies   *copies.Registry
	books    *books.Repository
	students *students.Directory
	ledger   *loans.Ledger
	queue    *reservations.Queue
	logg     *logger.Logger
	metrics  *metrics.CirculationMetrics
	now      func() time.Time
}

func NewCoordinator(params Params) (*Coordinator, error) {
	if params.Tx == nil {
		return nil, errors.New("transaction runner required")
	}
	if params.Copies == nil {
		return nil, errors.New("copy registry required")
	}
	if params.Books == nil {
		return nil, errors.New("books repository required")
	}
	if params.Students == nil {
		return nil, errors.New("student directory required")
	}
	if params.Ledger == nil {
		return nil, errors.New("loan ledger required")
	}
	if params.Queue == nil {
		return nil, errors.New("reservation queue required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		tx:       params.Tx,
		copies:   params.Copies,
		books:    params.Books,
		students: params.Students,
		ledger:   params.Ledger,
		queue:    params.Queue,
		logg:     params.Logger,
		metrics:  params.Metrics,
		now:      now,
	}, nil
}

// committedError marks a failure whose state changes must still be committed,
// such as a lapsed hold discovered during fulfilment.
type committedError struct {
	err error
}

func (e *committedError) Error() string { return e.err.Error() }
func (e *committedError) Unwrap() error { return e.err }

func commitThen(err error) error {
	return &committedError{err: err}
}

// run executes fn in a transaction and re-runs it once when it lost a copy
// status race.
func (c *Coordinator) run(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	if c.logg != nil {
		ctx = c.logg.WithOperation(ctx, op)
	}
	committed, err := c.attempt(ctx, fn)
	if !committed && isCopyConflict(err) {
		c.metrics.IncCASConflict(op)
		c.metrics.IncCASRetry(op)
		if c.logg != nil {
			c.logg.Warn(ctx, "copy status conflict, retrying once")
		}
		committed, err = c.attempt(ctx, fn)
		if !committed && isCopyConflict(err) {
			c.metrics.IncCASConflict(op)
		}
	}
	c.metrics.ObserveOperation(op, outcomeOf(err))
	return err
}

func (c *Coordinator) attempt(ctx context.Context, fn func(tx *gorm.DB) error) (bool, error) {
	var deferred error
	err := c.tx.WithTx(ctx, func(tx *gorm.DB) error {
		deferred = nil
		err := fn(tx)
		var ce *committedError
		if errors.As(err, &ce) {
			deferred = ce.err
			return nil
		}
		return err
	})
	if err != nil {
		return false, err
	}
	return deferred != nil, deferred
}

func isCopyConflict(err error) bool {
	typed := pkgerrors.As(err)
	return typed != nil && typed.Code() == pkgerrors.CodeConflict && pkgerrors.HasReason(err, pkgerrors.ReasonCopyNotAvailable)
}

func outcomeOf(err error) string {
	if err == nil {
		return metrics.OutcomeSuccess
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		return metrics.OutcomeError
	}
	switch typed.Code() {
	case pkgerrors.CodeDependency, pkgerrors.CodeInternal:
		return metrics.OutcomeError
	default:
		return metrics.OutcomeRejected
	}
}

// authorize resolves the actor and requires at least one of perms.
func (c *Coordinator) authorize(ctx context.Context, perms ...enums.Permission) (context.Context, auth.Actor, error) {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return ctx, auth.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	if !actor.CanAny(perms...) {
		return ctx, actor, pkgerrors.New(pkgerrors.CodeForbidden, "missing permission")
	}
	ctx = outbox.ContextWithActor(ctx, actor.ID)
	if c.logg != nil {
		ctx = c.logg.WithActorID(ctx, actor.ID.String())
	}
	return ctx, actor, nil
}

// authorizeFor allows staff holding any of staffPerms, or a student acting on
// their own record through reservations.self.
func (c *Coordinator) authorizeFor(ctx context.Context, studentID uuid.UUID, staffPerms ...enums.Permission) (context.Context, error) {
	ctx, actor, err := c.authorize(ctx, append(staffPerms, enums.PermReservationsSelf)...)
	if err != nil {
		return ctx, err
	}
	if actor.CanAny(staffPerms...) {
		return ctx, nil
	}
	if actor.ID != studentID {
		return ctx, pkgerrors.New(pkgerrors.CodeForbidden, "students may only act on their own reservations")
	}
	return ctx, nil
}

func (c *Coordinator) clock() time.Time {
	return c.now().UTC()
}
