package circulation

import (
	"errors"
	"time"

	"github.com/angelmondragon/circulation-backend/internal/books"
	"github.com/angelmondragon/circulation-backend/internal/copies"
	"github.com/angelmondragon/circulation-backend/internal/fines"
	"github.com/angelmondragon/circulation-backend/internal/loans"
	"github.com/angelmondragon/circulation-backend/internal/reservations"
	"github.com/angelmondragon/circulation-backend/internal/students"
	"github.com/angelmondragon/circulation-backend/pkg/config"
	"github.com/angelmondragon/circulation-backend/pkg/db"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
	"github.com/angelmondragon/circulation-backend/pkg/metrics"
	"github.com/angelmondragon/circulation-backend/pkg/outbox"
)

// Components is the object graph shared by the api and cron binaries.
type Components struct {
	Copies      *copies.Registry
	Books       *books.Repository
	BookService books.Service
	Students    *students.Directory
	Ledger      *loans.Ledger
	Queue       *reservations.Queue
	Outbox      *outbox.Repository
	Coordinator *Coordinator
}

// WireParams configure Wire.
type WireParams struct {
	DB      *db.Client
	Policy  config.CirculationConfig
	Logger  *logger.Logger
	Metrics *metrics.CirculationMetrics
	Now     func() time.Time
}

// Wire builds the registry, ledger, queue and coordinator over one database.
func Wire(params WireParams) (*Components, error) {
	if params.DB == nil {
		return nil, errors.New("db client required")
	}
	conn := params.DB.DB()
	defaults := fines.Policy{
		DailyRate: params.Policy.DailyRate(),
		GraceDays: params.Policy.DefaultGraceDays,
		Cap:       params.Policy.Cap(),
	}

	registry := copies.NewRegistry(conn)
	bookRepo := books.NewRepository(conn)
	directory := students.NewDirectory(conn, defaults)
	outboxRepo := outbox.NewRepository(conn)
	events := outbox.NewService(outboxRepo, params.Logger)

	bookService, err := books.NewService(bookRepo)
	if err != nil {
		return nil, err
	}

	ledger, err := loans.NewLedger(loans.LedgerParams{
		DB:       conn,
		Copies:   registry,
		Students: directory,
		Books:    bookRepo,
		Events:   events,
		Policy: loans.Policy{
			LoanPeriod:    params.Policy.LoanPeriod,
			MaxRenewals:   params.Policy.MaxRenewals,
			FineThreshold: params.Policy.Threshold(),
			FineDefaults:  defaults,
		},
	})
	if err != nil {
		return nil, err
	}

	queue, err := reservations.NewQueue(reservations.QueueParams{
		DB:         conn,
		Tx:         params.DB,
		Copies:     registry,
		Books:      bookRepo,
		Students:   directory,
		Events:     events,
		Logger:     params.Logger,
		Metrics:    params.Metrics,
		HoldWindow: params.Policy.HoldWindow,
		PendingTTL: params.Policy.PendingTTL,
	})
	if err != nil {
		return nil, err
	}

	coord, err := NewCoordinator(Params{
		Tx:       params.DB,
		Copies:   registry,
		Books:    bookRepo,
		Students: directory,
		Ledger:   ledger,
		Queue:    queue,
		Logger:   params.Logger,
		Metrics:  params.Metrics,
		Now:      params.Now,
	})
	if err != nil {
		return nil, err
	}

	return &Components{
		Copies:      registry,
		Books:       bookRepo,
		BookService: bookService,
		Students:    directory,
		Ledger:      ledger,
		Queue:       queue,
		Outbox:      outboxRepo,
		Coordinator: coord,
	}, nil
}
