package handlers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aurelia-jewels/api/internal/platform/auth"
	"github.com/aurelia-jewels/api/internal/platform/httpx"
	"github.com/aurelia-jewels/api/internal/services"
)

const (
	maxAuthBodySize = 16 * 1024

	loginRateLimit  = 5
	loginRateWindow = 15 * time.Minute
)

// AuthHandlers serves registration, login and the password reset flow.
type AuthHandlers struct {
	authn        *auth.Authenticator
	users        services.UserService
	loginLimiter rateLimiter
}

// AuthHandlerOption customises AuthHandlers construction.
type AuthHandlerOption func(*AuthHandlers)

// WithLoginRateLimit overrides the per-IP login attempt budget.
func WithLoginRateLimit(limit int, window time.Duration) AuthHandlerOption {
	return func(h *AuthHandlers) {
		if limit > 0 && window > 0 {
			h.loginLimiter = newSimpleRateLimiter(limit, window, nil)
		}
	}
}

// NewAuthHandlers constructs a new AuthHandlers instance. Login attempts
// are rate limited per client IP.
func NewAuthHandlers(authn *auth.Authenticator, users services.UserService, opts ...AuthHandlerOption) *AuthHandlers {
	h := &AuthHandlers{
		authn:        authn,
		users:        users,
		loginLimiter: newSimpleRateLimiter(loginRateLimit, loginRateWindow, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /auth endpoints.
func (h *AuthHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/register", h.register)
	r.Post("/login", h.login)
	r.Post("/forgot-password", h.forgotPassword)
	r.Post("/reset-password/{token}", h.resetPassword)

	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.RequireAuth())
		}
		r.Get("/me", h.me)
	})
}

func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req registerRequest
	if err := decodeBody(r, maxAuthBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	session, err := h.users.Register(ctx, services.RegisterCommand{
		Email:    strings.TrimSpace(req.Email),
		Name:     strings.TrimSpace(req.Name),
		Password: req.Password,
		Phone:    strings.TrimSpace(req.Phone),
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	writeAuthSession(w, http.StatusCreated, session)
}

func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service unavailable", http.StatusServiceUnavailable))
		return
	}
	if h.loginLimiter != nil && !h.loginLimiter.Allow(clientIP(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many login attempts, try again later", http.StatusTooManyRequests))
		return
	}

	var req loginRequest
	if err := decodeBody(r, maxAuthBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	session, err := h.users.Login(ctx, services.LoginCommand{
		Email:    strings.TrimSpace(req.Email),
		Password: req.Password,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	writeAuthSession(w, http.StatusOK, session)
}

func (h *AuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	user, err := h.users.Profile(ctx, identity.UserID)
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"user": buildUserPayload(user)})
}

func (h *AuthHandlers) forgotPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req forgotPasswordRequest
	if err := decodeBody(r, maxAuthBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	// The service hands back the plaintext token for delivery; the response
	// never reveals whether the email exists.
	if _, err := h.users.ForgotPassword(ctx, strings.TrimSpace(req.Email)); err != nil {
		writeUserError(ctx, w, err)
		return
	}
	httpx.WriteMessage(w, http.StatusOK, "if the account exists, a reset link has been sent")
}

func (h *AuthHandlers) resetPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req resetPasswordRequest
	if err := decodeBody(r, maxAuthBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	err := h.users.ResetPassword(ctx, services.ResetPasswordCommand{
		Token:       strings.TrimSpace(chi.URLParam(r, "token")),
		NewPassword: req.Password,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	httpx.WriteMessage(w, http.StatusOK, "password has been reset")
}

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Password string `json:"password"`
}

func writeAuthSession(w http.ResponseWriter, status int, session services.AuthSession) {
	httpx.WriteJSON(w, status, map[string]any{
		"token":      session.Token,
		"expires_at": formatTime(session.ExpiresAt),
		"user":       buildUserPayload(session.User),
	})
}

// clientIP keys the login limiter. RealIP middleware already rewrites
// RemoteAddr from X-Forwarded-For when present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

func writeUserError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrUserInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrUserInvalidCredentials):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_credentials", "invalid email or password", http.StatusUnauthorized))
	case errors.Is(err, services.ErrUserEmailInUse):
		httpx.WriteError(ctx, w, httpx.NewError("email_in_use", "email is already registered", http.StatusConflict))
	case errors.Is(err, services.ErrUserWalletInUse):
		httpx.WriteError(ctx, w, httpx.NewError("wallet_in_use", "wallet is already linked to another account", http.StatusConflict))
	case errors.Is(err, services.ErrUserResetTokenInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("reset_token_invalid", "reset token is invalid or expired", http.StatusBadRequest))
	case errors.Is(err, services.ErrUserNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("user_not_found", "user not found", http.StatusNotFound))
	default:
		writeServiceError(ctx, w, err, "user_error")
	}
}
