package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/circulation-backend/pkg/auth"
	"github.com/angelmondragon/circulation-backend/pkg/config"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
)

var testJWTConfig = config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 60}

func TestAuthRejectsMissingToken(t *testing.T) {
	handler := Auth(testJWTConfig, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	handler := Auth(testJWTConfig, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer invalid")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsForeignIssuer(t *testing.T) {
	other := testJWTConfig
	other.Issuer = "someone-else"
	token := mintTestToken(t, other, uuid.New(), enums.PermCirculationRead)

	handler := Auth(testJWTConfig, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthSeedsActor(t *testing.T) {
	actorID := uuid.New()
	token := mintTestToken(t, testJWTConfig, actorID, enums.PermCirculationBorrow, enums.PermCirculationRead)

	var captured auth.Actor
	handler := Auth(testJWTConfig, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = auth.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if captured.ID != actorID {
		t.Fatalf("expected actor %s got %s", actorID, captured.ID)
	}
	if !captured.Can(enums.PermCirculationBorrow) || captured.Can(enums.PermFinesSettle) {
		t.Fatalf("unexpected permissions %v", captured.Permissions())
	}
}

func TestRequireAny(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	guard := RequireAny(nil, enums.PermReservationsManage, enums.PermReservationsSelf)(ok)

	tests := []struct {
		name  string
		actor *auth.Actor
		want  int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"unrelated permission", actorPtr(auth.NewActor(uuid.New(), enums.PermCirculationRead)), http.StatusForbidden},
		{"self service", actorPtr(auth.NewActor(uuid.New(), enums.PermReservationsSelf)), http.StatusNoContent},
		{"staff", actorPtr(auth.NewActor(uuid.New(), enums.PermReservationsManage)), http.StatusNoContent},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/reservations", nil)
		if tt.actor != nil {
			req = req.WithContext(auth.WithActor(req.Context(), *tt.actor))
		}
		resp := httptest.NewRecorder()
		guard.ServeHTTP(resp, req)
		if resp.Code != tt.want {
			t.Fatalf("%s: expected %d got %d", tt.name, tt.want, resp.Code)
		}
	}
}

func actorPtr(a auth.Actor) *auth.Actor {
	return &a
}

func mintTestToken(t *testing.T, cfg config.JWTConfig, actorID uuid.UUID, perms ...enums.Permission) string {
	t.Helper()
	token, err := auth.MintAccessToken(cfg, time.Now(), auth.AccessTokenPayload{
		ActorID:     actorID,
		Permissions: perms,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}
