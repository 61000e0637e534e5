package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"motolog.org/internal/auth"
	"motolog.org/internal/budget"
	"motolog.org/internal/store/memory"
)

func newGuardedHandler(t *testing.T) (http.Handler, *auth.TokenCodec, *string) {
	t.Helper()
	store := memory.New()
	codec, err := auth.NewTokenCodec([]byte(testSecret))
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	authSvc, err := auth.NewService(store, codec)
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	budgetSvc, err := budget.NewService(store)
	if err != nil {
		t.Fatalf("budget service: %v", err)
	}
	api, err := New(ReadyProbe{}, "test", authSvc, budgetSvc)
	if err != nil {
		t.Fatalf("new api: %v", err)
	}

	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	return api.withAuth(next), codec, &seen
}

func TestWithAuthAcceptsAccessToken(t *testing.T) {
	handler, codec, seen := newGuardedHandler(t)
	token, _, err := codec.Issue("user-1", auth.KindAccess, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/users/me", nil)
	req.Header.Set("Authorization", "bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if *seen != "user-1" {
		t.Fatalf("expected user in context, got %q", *seen)
	}
}

func TestWithAuthRejectsExpiredToken(t *testing.T) {
	handler, codec, _ := newGuardedHandler(t)
	token, _, err := codec.Issue("user-1", auth.KindAccess, 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
}

func TestWithAuthSkipsPublicPaths(t *testing.T) {
	handler, _, _ := newGuardedHandler(t)
	for _, path := range []string{"/healthz", "/metrics", "/v1/auth/login"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rr.Code)
		}
	}

	req := httptest.NewRequest(http.MethodOptions, "/v1/users/me", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("preflight: expected 200, got %d", rr.Code)
	}
}
