package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHasAtLeast(t *testing.T) {
	if !HasAtLeast([]string{"viewer"}, RoleViewer) {
		t.Fatalf("viewer should satisfy viewer")
	}
	if HasAtLeast([]string{"viewer"}, RoleOperator) {
		t.Fatalf("viewer should not satisfy operator")
	}
	if !HasAtLeast([]string{"operator"}, RoleViewer) {
		t.Fatalf("operator should satisfy viewer")
	}
	if !HasAtLeast([]string{"admin"}, RoleOperator) {
		t.Fatalf("admin should satisfy operator")
	}
	if HasAtLeast([]string{"viewer"}, "unknown") {
		t.Fatalf("unknown required role should never be satisfied")
	}
}

func TestRequiredRoleForRequest(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://example.test/runs", nil)
	if got := RequiredRoleForRequest(req); got != RoleViewer {
		t.Fatalf("RequiredRoleForRequest(GET)=%q, want viewer", got)
	}
	req.Method = http.MethodPost
	if got := RequiredRoleForRequest(req); got != RoleOperator {
		t.Fatalf("RequiredRoleForRequest(POST)=%q, want operator", got)
	}
}

type staticAuthenticator struct {
	identity Identity
	err      error
}

func (a staticAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	return a.identity, a.err
}

func TestMiddlewareDeniesWithoutRole(t *testing.T) {
	mw := Middleware{
		Authenticator: staticAuthenticator{identity: Identity{Subject: "u1", Roles: []string{"viewer"}}},
		Authorize:     MethodRoleAuthorizer(),
	}
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runs", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("viewer POST status=%d, want 403", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("viewer GET status=%d, want 204", rec.Code)
	}
}

func TestMiddlewareDeniesUnauthenticated(t *testing.T) {
	mw := Middleware{
		Authenticator: staticAuthenticator{err: ErrUnauthenticated},
	}
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", rec.Code)
	}
}

func TestMiddlewareSkipPrefixes(t *testing.T) {
	mw := Middleware{
		Authenticator: staticAuthenticator{err: ErrUnauthenticated},
		SkipPrefixes:  []string{"/healthz"},
	}
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status=%d, want 200", rec.Code)
	}
}
