package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aurelia-jewels/api/internal/domain"
)

func testClock() func() time.Time {
	return func() time.Time { return time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC) }
}

func newTestTokens(t *testing.T) *TokenService {
	t.Helper()
	tokens, err := NewTokenService("test-secret", WithTokenClock(testClock()))
	if err != nil {
		t.Fatalf("NewTokenService returned error: %v", err)
	}
	return tokens
}

func activeUser() domain.User {
	return domain.User{
		ID:                "usr_123",
		Email:             "user@example.com",
		Role:              domain.RoleUser,
		IsActive:          true,
		PasswordChangedAt: time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
	}
}

func loaderReturning(user domain.User, err error) UserLoader {
	return func(_ context.Context, _ string) (domain.User, error) {
		return user, err
	}
}

func TestRequireAuth_AllowsValidToken(t *testing.T) {
	tokens := newTestTokens(t)
	user := activeUser()

	var loadedID string
	loader := func(_ context.Context, id string) (domain.User, error) {
		loadedID = id
		return user, nil
	}

	authn, err := NewAuthenticator(tokens, loader)
	if err != nil {
		t.Fatalf("NewAuthenticator returned error: %v", err)
	}

	tokenStr, err := tokens.Issue(user.ID, user.Role)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	handlerCalled := false
	handler := authn.RequireAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true

		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if identity.UserID != "usr_123" {
			t.Fatalf("unexpected user id: %s", identity.UserID)
		}
		if identity.Email != "user@example.com" {
			t.Fatalf("unexpected email: %s", identity.Email)
		}
		if identity.IsAdmin() {
			t.Fatalf("regular user flagged as admin")
		}

		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if !handlerCalled {
		t.Fatalf("expected handler to be called")
	}
	if loadedID != "usr_123" {
		t.Fatalf("expected loader to receive usr_123, got %s", loadedID)
	}
}

func TestRequireAuth_MissingHeader(t *testing.T) {
	authn, err := NewAuthenticator(newTestTokens(t), loaderReturning(activeUser(), nil))
	if err != nil {
		t.Fatalf("NewAuthenticator returned error: %v", err)
	}

	handler := authn.RequireAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not execute without credentials")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRequireAuth_ExpiredToken(t *testing.T) {
	issueClock := func() time.Time { return time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC) }
	issuer, err := NewTokenService("test-secret", WithTokenClock(issueClock), WithTokenTTL(time.Hour))
	if err != nil {
		t.Fatalf("NewTokenService returned error: %v", err)
	}
	tokenStr, err := issuer.Issue("usr_123", domain.RoleUser)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	// Verify with a clock far past the expiry.
	verifier := newTestTokens(t)
	authn, err := NewAuthenticator(verifier, loaderReturning(activeUser(), nil))
	if err != nil {
		t.Fatalf("NewAuthenticator returned error: %v", err)
	}

	handler := authn.RequireAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not execute on expired token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	var body struct {
		Success bool `json:"success"`
		Error   struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body.Success {
		t.Fatalf("expected success=false")
	}
	if body.Error.Code != "token_expired" {
		t.Fatalf("expected token_expired error, got %s", body.Error.Code)
	}
}

func TestRequireAuth_RejectsStaleToken(t *testing.T) {
	tokens := newTestTokens(t)
	user := activeUser()
	// Password changed after the token's issued-at instant.
	user.PasswordChangedAt = time.Date(2024, time.March, 10, 13, 0, 0, 0, time.UTC)

	authn, err := NewAuthenticator(tokens, loaderReturning(user, nil))
	if err != nil {
		t.Fatalf("NewAuthenticator returned error: %v", err)
	}

	tokenStr, err := tokens.Issue(user.ID, user.Role)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	handler := authn.RequireAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not execute on stale token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body.Error.Code != "token_stale" {
		t.Fatalf("expected token_stale error, got %s", body.Error.Code)
	}
}

func TestRequireAuth_RejectsDeactivatedUser(t *testing.T) {
	tokens := newTestTokens(t)
	user := activeUser()
	user.IsActive = false

	authn, err := NewAuthenticator(tokens, loaderReturning(user, nil))
	if err != nil {
		t.Fatalf("NewAuthenticator returned error: %v", err)
	}

	tokenStr, err := tokens.Issue(user.ID, user.Role)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	handler := authn.RequireAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not execute for deactivated account")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRequireAuth_RejectsMissingUser(t *testing.T) {
	tokens := newTestTokens(t)

	authn, err := NewAuthenticator(tokens, loaderReturning(domain.User{}, ErrUserNotFound))
	if err != nil {
		t.Fatalf("NewAuthenticator returned error: %v", err)
	}

	tokenStr, err := tokens.Issue("usr_gone", domain.RoleUser)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	handler := authn.RequireAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not execute for missing account")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRequireAuth_RoleGate(t *testing.T) {
	tokens := newTestTokens(t)
	user := activeUser()

	authn, err := NewAuthenticator(tokens, loaderReturning(user, nil))
	if err != nil {
		t.Fatalf("NewAuthenticator returned error: %v", err)
	}

	tokenStr, err := tokens.Issue(user.ID, user.Role)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	handler := authn.RequireAuth(domain.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not execute without admin role")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}
