package routes

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/circulation-backend/internal/circulation"
	"github.com/angelmondragon/circulation-backend/internal/loans"
	"github.com/angelmondragon/circulation-backend/pkg/auth"
	"github.com/angelmondragon/circulation-backend/pkg/config"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
	"github.com/angelmondragon/circulation-backend/pkg/pagination"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type stubTransactions struct{}

func (stubTransactions) BorrowByBarcode(ctx context.Context, barcode string, studentID uuid.UUID) (*circulation.Transaction, error) {
	return nil, errors.New("not used")
}

func (stubTransactions) ReturnByBarcode(ctx context.Context, barcode string, condition *enums.CopyCondition) (*circulation.ReturnOutcome, error) {
	return nil, errors.New("not used")
}

func (stubTransactions) Renew(ctx context.Context, loanID uuid.UUID) (*circulation.Transaction, error) {
	return nil, errors.New("not used")
}

func (stubTransactions) CanRenew(ctx context.Context, loanID uuid.UUID) (*loans.RenewCheck, error) {
	return &loans.RenewCheck{CanRenew: true}, nil
}

func (stubTransactions) ReportLost(ctx context.Context, loanID uuid.UUID) (*circulation.Transaction, error) {
	return nil, errors.New("not used")
}

func (stubTransactions) GetTransaction(ctx context.Context, loanID uuid.UUID) (*circulation.Transaction, error) {
	return nil, errors.New("not used")
}

func (stubTransactions) ListOverdue(ctx context.Context, params pagination.Params) (pagination.Page[loans.OverdueLoan], error) {
	return pagination.Page[loans.OverdueLoan]{}, nil
}

func (stubTransactions) ScanLookup(ctx context.Context, barcode string) (*circulation.ScanResult, error) {
	return nil, errors.New("not used")
}

type stubFines struct{}

func (stubFines) CurrentFine(ctx context.Context, fineID uuid.UUID) (*loans.FineView, error) {
	return &loans.FineView{LoanID: fineID}, nil
}

func (stubFines) PayFine(ctx context.Context, fineID uuid.UUID) (*loans.FineView, error) {
	return nil, errors.New("not used")
}

func (stubFines) WaiveFine(ctx context.Context, fineID uuid.UUID) (*loans.FineView, error) {
	return nil, errors.New("not used")
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test", Port: "0"},
		JWT: config.JWTConfig{Secret: "router-secret", Issuer: "circulation", ExpirationMinutes: 5},
	}
}

func newTestRouter(t *testing.T, metrics http.Handler) (http.Handler, *config.Config) {
	t.Helper()
	cfg := testConfig()
	logg := logger.New(logger.Options{ServiceName: "routes-test", Output: io.Discard})
	return NewRouter(cfg, logg, stubPinger{}, nil, metrics, Services{Transactions: stubTransactions{}, Fines: stubFines{}}), cfg
}

func bearer(t *testing.T, cfg *config.Config, perms ...enums.Permission) string {
	t.Helper()
	token, err := auth.MintAccessToken(cfg.JWT, time.Now(), auth.AccessTokenPayload{
		ActorID:     uuid.New(),
		Permissions: perms,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return "Bearer " + token
}

func TestHealthRoutesArePublic(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	for _, path := range []string{"/health/live", "/health/ready"} {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, resp.Code)
		}
		if resp.Header().Get("X-Circulation-Env") != "test" {
			t.Fatalf("%s: missing env header", path)
		}
	}
}

func TestMetricsRouteMountedWhenHandlerProvided(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "circulation_up 1\n")
	})
	router, _ := newTestRouter(t, metrics)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "circulation_up") {
		t.Fatalf("expected metrics body, got %d %q", resp.Code, resp.Body.String())
	}

	bare, _ := newTestRouter(t, nil)
	resp = httptest.NewRecorder()
	bare.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without metrics handler, got %d", resp.Code)
	}
}

func TestAPIRoutesRequireToken(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/transactions/overdue", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAPIRoutesEnforcePermissions(t *testing.T) {
	router, cfg := newTestRouter(t, nil)
	loanID := uuid.NewString()

	tests := []struct {
		name   string
		method string
		path   string
		perms  []enums.Permission
		want   int
	}{
		{"overdue without read", http.MethodGet, "/api/v1/transactions/overdue", []enums.Permission{enums.PermReservationsSelf}, http.StatusForbidden},
		{"overdue with read", http.MethodGet, "/api/v1/transactions/overdue", []enums.Permission{enums.PermCirculationRead}, http.StatusOK},
		{"can renew with read", http.MethodGet, "/api/v1/transactions/" + loanID + "/can-renew", []enums.Permission{enums.PermCirculationRead}, http.StatusOK},
		{"borrow without borrow", http.MethodPost, "/api/v1/transactions/borrow-by-barcode", []enums.Permission{enums.PermCirculationRead}, http.StatusForbidden},
		{"fine lookup with read", http.MethodGet, "/api/v1/fines/" + loanID, []enums.Permission{enums.PermCirculationRead}, http.StatusOK},
		{"waive without settle", http.MethodPost, "/api/v1/fines/" + loanID + "/waive", []enums.Permission{enums.PermCirculationReturn}, http.StatusForbidden},
		{"create book without manage", http.MethodPost, "/api/v1/books", []enums.Permission{enums.PermCirculationRead}, http.StatusForbidden},
		{"mark ready as self service", http.MethodPost, "/api/v1/reservations/" + loanID + "/ready", []enums.Permission{enums.PermReservationsSelf}, http.StatusForbidden},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		req.Header.Set("Authorization", bearer(t, cfg, tt.perms...))
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != tt.want {
			t.Fatalf("%s: expected %d got %d: %s", tt.name, tt.want, resp.Code, resp.Body.String())
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/transactions/borrow-by-barcode", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("expected allowed origin, got %q", got)
	}
}
