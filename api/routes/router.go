package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/circulation-backend/api/controllers"
	"github.com/angelmondragon/circulation-backend/api/middleware"
	"github.com/angelmondragon/circulation-backend/internal/books"
	"github.com/angelmondragon/circulation-backend/pkg/config"
	"github.com/angelmondragon/circulation-backend/pkg/db"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
	"github.com/angelmondragon/circulation-backend/pkg/redis"
)

// Services bundles what the API routes dispatch to. The circulation coordinator
// satisfies Transactions, Reservations, Fines and Intake.
type Services struct {
	Transactions controllers.TransactionsService
	Reservations controllers.ReservationsService
	Fines        controllers.FinesService
	Books        books.Service
	Copies       controllers.CopiesService
	Intake       controllers.CopyIntakeService
	Students     controllers.StudentsService
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	metricsHandler http.Handler,
	svc Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.CORS.AllowedOrigins),
	)

	deps := map[string]controllers.Pinger{}
	if dbP != nil {
		deps["db"] = dbP
	}
	if redisClient != nil {
		deps["redis"] = redisClient
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps))
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	rateLimit := middleware.RateLimitPolicy{Window: cfg.RateLimit.Window, Limit: cfg.RateLimit.Limit}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		if redisClient != nil {
			r.Use(middleware.RateLimit(rateLimit, redisClient, logg))
			r.Use(middleware.Idempotency(redisClient, logg))
		}

		read := middleware.RequireAny(logg, enums.PermCirculationRead)

		r.Route("/transactions", func(r chi.Router) {
			r.With(middleware.RequireAny(logg, enums.PermCirculationBorrow)).Post("/borrow-by-barcode", controllers.BorrowByBarcode(svc.Transactions, logg))
			r.With(middleware.RequireAny(logg, enums.PermCirculationReturn)).Post("/return-by-barcode", controllers.ReturnByBarcode(svc.Transactions, logg))
			r.With(read).Get("/scan", controllers.ScanLookup(svc.Transactions, logg))
			r.With(read).Get("/overdue", controllers.ListOverdue(svc.Transactions, logg))
			r.With(read).Get("/{id}", controllers.GetTransaction(svc.Transactions, logg))
			r.With(read).Get("/{id}/can-renew", controllers.CanRenew(svc.Transactions, logg))
			r.With(middleware.RequireAny(logg, enums.PermCirculationRenew)).Post("/{id}/renew", controllers.RenewTransaction(svc.Transactions, logg))
			r.With(middleware.RequireAny(logg, enums.PermCirculationReturn)).Post("/{id}/lost", controllers.ReportLost(svc.Transactions, logg))
		})

		r.Route("/reservations", func(r chi.Router) {
			queue := middleware.RequireAny(logg, enums.PermReservationsManage, enums.PermReservationsSelf)
			lookup := middleware.RequireAny(logg, enums.PermCirculationRead, enums.PermReservationsManage, enums.PermReservationsSelf)
			r.With(queue).Post("/", controllers.CreateReservation(svc.Reservations, logg))
			r.With(lookup).Get("/queue-position", controllers.QueuePosition(svc.Reservations, logg))
			r.With(lookup).Get("/{id}", controllers.GetReservation(svc.Reservations, logg))
			r.With(queue).Post("/{id}/cancel", controllers.CancelReservation(svc.Reservations, logg))
			r.With(middleware.RequireAny(logg, enums.PermReservationsManage)).Post("/{id}/ready", controllers.MarkReservationReady(svc.Reservations, logg))
			r.With(middleware.RequireAny(logg, enums.PermCirculationBorrow)).Post("/{id}/fulfill", controllers.FulfillReservation(svc.Reservations, logg))
		})

		r.Route("/fines", func(r chi.Router) {
			settle := middleware.RequireAny(logg, enums.PermFinesSettle)
			r.With(middleware.RequireAny(logg, enums.PermCirculationRead, enums.PermFinesSettle)).Get("/{id}", controllers.GetFine(svc.Fines, logg))
			r.With(settle).Post("/{id}/pay", controllers.PayFine(svc.Fines, logg))
			r.With(settle).Post("/{id}/waive", controllers.WaiveFine(svc.Fines, logg))
		})

		manage := middleware.RequireAny(logg, enums.PermCatalogManage)
		r.Route("/books", func(r chi.Router) {
			r.With(manage).Post("/", controllers.CreateBook(svc.Books, logg))
			r.With(manage).Post("/{id}/copies", controllers.CreateCopy(svc.Intake, logg))
			r.With(read).Get("/{id}/copies", controllers.ListCopies(svc.Books, svc.Copies, logg))
			r.With(read).Get("/{id}/inventory", controllers.BookInventory(svc.Books, svc.Copies, logg))
		})

		r.Route("/students", func(r chi.Router) {
			r.With(manage).Post("/", controllers.CreateStudent(svc.Students, logg))
			r.With(read).Get("/{id}", controllers.GetStudent(svc.Students, logg))
			r.With(manage).Post("/{id}/suspension", controllers.SetStudentSuspension(svc.Students, logg))
		})
	})

	return r
}
