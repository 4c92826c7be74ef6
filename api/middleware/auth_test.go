package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	pkgAuth "github.com/dmtorres-dev/vpnpay-backend/pkg/auth"
	"github.com/dmtorres-dev/vpnpay-backend/pkg/config"
)

var testJWTConfig = config.JWTConfig{
	Secret:            "test-secret",
	Issuer:            "vpnpay-test",
	ExpirationMinutes: 15,
}

func mintTestToken(t *testing.T, userID uuid.UUID, role string) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(testJWTConfig, time.Now(), pkgAuth.AccessTokenPayload{
		UserID: userID,
		Role:   role,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestAuthSeedsContext(t *testing.T) {
	userID := uuid.New()
	var gotUser, gotRole string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotRole = RoleFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscription", nil)
	req.Header.Set("Authorization", "Bearer "+mintTestToken(t, userID, pkgAuth.RoleUser))

	resp := httptest.NewRecorder()
	Auth(testJWTConfig, nil)(next).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if gotUser != userID.String() {
		t.Fatalf("unexpected user id in context: %s", gotUser)
	}
	if gotRole != pkgAuth.RoleUser {
		t.Fatalf("unexpected role in context: %s", gotRole)
	}
}

func TestAuthMissingHeader(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler must not run")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscription", nil)
	resp := httptest.NewRecorder()
	Auth(testJWTConfig, nil)(next).ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsTamperedToken(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler must not run")
	})

	token := mintTestToken(t, uuid.New(), pkgAuth.RoleUser)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscription", nil)
	req.Header.Set("Authorization", "Bearer "+token+"x")

	resp := httptest.NewRecorder()
	Auth(testJWTConfig, nil)(next).ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestRequireRoleBlocksMismatch(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler must not run")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/refunds", nil)
	req = req.WithContext(WithRole(req.Context(), pkgAuth.RoleUser))

	resp := httptest.NewRecorder()
	RequireRole(pkgAuth.RoleOperator, nil)(next).ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestRequireRolePassesMatch(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/refunds", nil)
	req = req.WithContext(WithRole(req.Context(), pkgAuth.RoleOperator))

	resp := httptest.NewRecorder()
	RequireRole(pkgAuth.RoleOperator, nil)(next).ServeHTTP(resp, req)

	if !called {
		t.Fatal("expected the handler to run")
	}
}
